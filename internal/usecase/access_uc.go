package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"telegram-course-streams/internal/domain"
	"telegram-course-streams/internal/domain/model"
	"telegram-course-streams/internal/domain/ports/repository"
)

// Compile-time check
var _ AccessUseCase = (*accessUC)(nil)

// LessonAccess is the gating decision for one lesson.
type LessonAccess struct {
	StreamID       string
	LessonID       string
	Enrolled       bool
	CanViewContent bool
	LessonOpen     bool
	// OpensAt is set when the lesson is still waiting for its release time.
	OpensAt *time.Time
	Visible bool
}

// AccessUseCase answers gating questions. Every call re-reads persisted state.
type AccessUseCase interface {
	StreamView(ctx context.Context, streamID, identity string) (*model.StreamView, error)
	CheckLessonAccess(ctx context.Context, streamID, identity, lessonID string, now time.Time) (*LessonAccess, error)
}

type accessUC struct {
	streams     repository.StreamRepository
	lessons     repository.LessonRepository
	enrollments repository.EnrollmentRepository
	schedules   repository.ScheduleRepository
	log         *zerolog.Logger
}

func NewAccessUseCase(
	streams repository.StreamRepository,
	lessons repository.LessonRepository,
	enrollments repository.EnrollmentRepository,
	schedules repository.ScheduleRepository,
	logger *zerolog.Logger,
) *accessUC {
	compLog := logger.With().Str("component", "AccessUseCase").Logger()
	return &accessUC{streams: streams, lessons: lessons, enrollments: enrollments, schedules: schedules, log: &compLog}
}

func (u *accessUC) StreamView(ctx context.Context, streamID, identity string) (*model.StreamView, error) {
	stream, enr, err := u.load(ctx, streamID, identity)
	if err != nil {
		return nil, err
	}
	return &model.StreamView{
		StreamID:       stream.ID,
		Title:          stream.Title,
		Price:          stream.Price,
		CreatorName:    stream.CreatorName,
		CanViewContent: enr != nil && model.CanViewContent(enr, stream),
	}, nil
}

func (u *accessUC) CheckLessonAccess(ctx context.Context, streamID, identity, lessonID string, now time.Time) (*LessonAccess, error) {
	stream, enr, err := u.load(ctx, streamID, identity)
	if err != nil {
		return nil, err
	}
	lesson, err := u.lessons.FindByID(ctx, repository.NoTX, lessonID)
	if err != nil {
		return nil, err
	}
	if lesson.CourseID != stream.CourseID {
		return nil, domain.NotFound("lesson is not part of this stream")
	}

	out := &LessonAccess{
		StreamID:       stream.ID,
		LessonID:       lessonID,
		Enrolled:       enr != nil,
		CanViewContent: enr != nil && model.CanViewContent(enr, stream),
		LessonOpen:     true,
	}
	if stream.ScheduleEnabled {
		entry, err := u.schedules.FindByStreamAndLesson(ctx, repository.NoTX, stream.ID, lessonID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		if err != nil {
			entry = nil
		}
		out.LessonOpen = model.IsLessonOpen(entry, now)
		if !out.LessonOpen {
			at := entry.ScheduledOpenAt
			out.OpensAt = &at
		}
	}
	out.Visible = out.CanViewContent && out.LessonOpen
	return out, nil
}

// load returns the stream and the identity's enrollment, which is nil when absent.
func (u *accessUC) load(ctx context.Context, streamID, identity string) (*model.Stream, *model.Enrollment, error) {
	stream, err := u.streams.FindByID(ctx, repository.NoTX, streamID)
	if err != nil {
		return nil, nil, err
	}
	if identity == "" {
		return stream, nil, nil
	}
	enr, err := u.enrollments.FindByStreamAndIdentity(ctx, repository.NoTX, streamID, identity)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return stream, nil, nil
		}
		return nil, nil, err
	}
	return stream, enr, nil
}
