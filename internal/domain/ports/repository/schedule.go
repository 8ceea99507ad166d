package repository

import (
	"context"
	"time"

	"telegram-course-streams/internal/domain/model"
)

// ScheduleRepository is the port for per-lesson release entries.
type ScheduleRepository interface {
	// ReplaceForStream deletes every entry of the stream and inserts entries.
	ReplaceForStream(ctx context.Context, tx Tx, streamID string, entries []*model.ScheduleEntry) error
	FindByStreamAndLesson(ctx context.Context, tx Tx, streamID, lessonID string) (*model.ScheduleEntry, error)
	ListByStream(ctx context.Context, tx Tx, streamID string) ([]*model.ScheduleEntry, error)

	// ListDue returns unopened entries scheduled at or before now, oldest first.
	ListDue(ctx context.Context, tx Tx, now time.Time, limit int) ([]*model.ScheduleEntry, error)
	// ListPendingNotification returns opened, not yet notified entries scheduled at or after since
	// whose stream has release notifications enabled.
	ListPendingNotification(ctx context.Context, tx Tx, since time.Time, limit int) ([]*model.ScheduleEntry, error)

	MarkOpened(ctx context.Context, tx Tx, id string) (bool, error)
	MarkNotificationSent(ctx context.Context, tx Tx, id string) (bool, error)
	// RecordDelivery notes that the release notice of entryID went out to enrollmentID.
	// It reports false when that delivery was already recorded.
	RecordDelivery(ctx context.Context, tx Tx, entryID, enrollmentID string, at time.Time) (bool, error)
	// ListDelivered returns the enrollment ids already handled for entryID.
	ListDelivered(ctx context.Context, tx Tx, entryID string) ([]string, error)

	// OpenAllForStream opens every unopened entry of the stream and flags it as notified.
	// It returns the lesson ids it opened.
	OpenAllForStream(ctx context.Context, tx Tx, streamID string) ([]string, error)
}
