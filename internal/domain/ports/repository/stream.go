package repository

import (
	"context"

	"telegram-course-streams/internal/domain/model"
)

// StreamRepository is the port for streams and the read-only course structure behind them.
type StreamRepository interface {
	Save(ctx context.Context, tx Tx, s *model.Stream) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Stream, error)
	// FindByInviteToken resolves the shared stream invite token.
	FindByInviteToken(ctx context.Context, tx Tx, token string) (*model.Stream, error)
	UpdateInviteToken(ctx context.Context, tx Tx, id, token string) error
	UpdateSettings(ctx context.Context, tx Tx, id string, scheduleEnabled, notifyOnRelease bool) error
}

// LessonRepository reads lessons of a course. Authoring happens outside this service.
type LessonRepository interface {
	ListByCourse(ctx context.Context, tx Tx, courseID string) ([]model.LessonRef, error)
	FindByID(ctx context.Context, tx Tx, id string) (*model.LessonRef, error)
}
