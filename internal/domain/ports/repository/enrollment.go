package repository

import (
	"context"
	"time"

	"telegram-course-streams/internal/domain/model"
)

// EnrollmentRepository is the port for (stream, student) membership records.
// All Mark*/Set* methods are conditional writes: they report whether this call
// performed the transition, so concurrent callers observe exactly one winner.
type EnrollmentRepository interface {
	// Create inserts e and returns domain.ErrConflict when (stream, identity) already exists.
	Create(ctx context.Context, tx Tx, e *model.Enrollment) error
	// CreateIfAbsent inserts e unless (stream, identity) exists; it reports whether a row was inserted.
	CreateIfAbsent(ctx context.Context, tx Tx, e *model.Enrollment) (bool, error)

	FindByID(ctx context.Context, tx Tx, id string) (*model.Enrollment, error)
	FindByAccessToken(ctx context.Context, tx Tx, token string) (*model.Enrollment, error)
	FindByStreamAndIdentity(ctx context.Context, tx Tx, streamID, identity string) (*model.Enrollment, error)

	MarkActivated(ctx context.Context, tx Tx, id string, at time.Time) (bool, error)
	MarkPaid(ctx context.Context, tx Tx, id string, at time.Time) (bool, error)
	SetAppliedPromo(ctx context.Context, tx Tx, id, promoID string) (bool, error)

	// ListEligibleRecipients returns activated and paid enrollments of a stream.
	ListEligibleRecipients(ctx context.Context, tx Tx, streamID string) ([]*model.Enrollment, error)
}
