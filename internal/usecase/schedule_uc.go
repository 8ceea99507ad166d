package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"telegram-course-streams/internal/domain"
	"telegram-course-streams/internal/domain/model"
	"telegram-course-streams/internal/domain/ports/repository"
)

// Compile-time check
var _ ScheduleUseCase = (*scheduleUC)(nil)

type ScheduleUseCase interface {
	// Configure replaces the stream's schedule. Every lesson must belong to the stream's course.
	Configure(ctx context.Context, streamID string, items []model.ScheduleItem) ([]*model.ScheduleEntry, error)
	// Generate spaces all course lessons interval apart starting at start and stores the result.
	Generate(ctx context.Context, streamID string, start time.Time, interval time.Duration) ([]*model.ScheduleEntry, error)
	List(ctx context.Context, streamID string) ([]*model.ScheduleEntry, error)
}

type scheduleUC struct {
	tm        repository.TransactionManager
	streams   repository.StreamRepository
	lessons   repository.LessonRepository
	schedules repository.ScheduleRepository
	log       *zerolog.Logger
}

func NewScheduleUseCase(
	tm repository.TransactionManager,
	streams repository.StreamRepository,
	lessons repository.LessonRepository,
	schedules repository.ScheduleRepository,
	logger *zerolog.Logger,
) *scheduleUC {
	compLog := logger.With().Str("component", "ScheduleUseCase").Logger()
	return &scheduleUC{tm: tm, streams: streams, lessons: lessons, schedules: schedules, log: &compLog}
}

func (u *scheduleUC) Configure(ctx context.Context, streamID string, items []model.ScheduleItem) ([]*model.ScheduleEntry, error) {
	stream, err := u.streams.FindByID(ctx, repository.NoTX, streamID)
	if err != nil {
		return nil, err
	}
	lessons, err := u.lessons.ListByCourse(ctx, repository.NoTX, stream.CourseID)
	if err != nil {
		return nil, err
	}
	return u.replace(ctx, stream, lessons, items)
}

func (u *scheduleUC) Generate(ctx context.Context, streamID string, start time.Time, interval time.Duration) ([]*model.ScheduleEntry, error) {
	stream, err := u.streams.FindByID(ctx, repository.NoTX, streamID)
	if err != nil {
		return nil, err
	}
	lessons, err := u.lessons.ListByCourse(ctx, repository.NoTX, stream.CourseID)
	if err != nil {
		return nil, err
	}
	items, err := model.GenerateSchedule(lessons, start, interval)
	if err != nil {
		return nil, err
	}
	return u.replace(ctx, stream, lessons, items)
}

func (u *scheduleUC) List(ctx context.Context, streamID string) ([]*model.ScheduleEntry, error) {
	if _, err := u.streams.FindByID(ctx, repository.NoTX, streamID); err != nil {
		return nil, err
	}
	return u.schedules.ListByStream(ctx, repository.NoTX, streamID)
}

func (u *scheduleUC) replace(ctx context.Context, stream *model.Stream, lessons []model.LessonRef, items []model.ScheduleItem) ([]*model.ScheduleEntry, error) {
	inCourse := make(map[string]struct{}, len(lessons))
	for _, l := range lessons {
		inCourse[l.ID] = struct{}{}
	}

	now := time.Now()
	seen := make(map[string]struct{}, len(items))
	entries := make([]*model.ScheduleEntry, 0, len(items))
	for _, it := range items {
		if it.LessonID == "" || it.ScheduledOpenAt.IsZero() {
			return nil, domain.ErrInvalidArgument
		}
		if _, ok := inCourse[it.LessonID]; !ok {
			return nil, domain.InvalidState(fmt.Sprintf("lesson %s is not part of the stream's course", it.LessonID))
		}
		if _, dup := seen[it.LessonID]; dup {
			return nil, domain.InvalidState(fmt.Sprintf("lesson %s is scheduled more than once", it.LessonID))
		}
		seen[it.LessonID] = struct{}{}
		entries = append(entries, &model.ScheduleEntry{
			ID:              uuid.NewString(),
			StreamID:        stream.ID,
			LessonID:        it.LessonID,
			ScheduledOpenAt: it.ScheduledOpenAt.UTC(),
			CreatedAt:       now,
		})
	}

	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		return u.schedules.ReplaceForStream(ctx, tx, stream.ID, entries)
	})
	if err != nil {
		return nil, err
	}
	u.log.Info().Str("stream_id", stream.ID).Int("entries", len(entries)).Msg("stream schedule replaced")
	return entries, nil
}
