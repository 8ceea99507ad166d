package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"telegram-course-streams/internal/domain"
	"telegram-course-streams/internal/domain/model"
	"telegram-course-streams/internal/domain/ports/repository"
	"telegram-course-streams/internal/infra/metrics"
)

// Compile-time check
var _ StreamUseCase = (*streamUC)(nil)

// StreamUseCase holds the creator-side operations on a stream.
type StreamUseCase interface {
	Get(ctx context.Context, streamID string) (*model.Stream, error)
	// Invite pre-creates a personal enrollment for identity. An existing enrollment
	// is returned with created=false.
	Invite(ctx context.Context, streamID, identity string) (enr *model.Enrollment, created bool, err error)
	// RotateInviteToken replaces the shared invite token. Existing enrollments are unaffected.
	RotateInviteToken(ctx context.Context, streamID string) (string, error)
	UpdateSettings(ctx context.Context, streamID string, scheduleEnabled, notifyOnRelease bool) (*model.Stream, error)
}

type streamUC struct {
	streams     repository.StreamRepository
	enrollments repository.EnrollmentRepository
	log         *zerolog.Logger
}

func NewStreamUseCase(streams repository.StreamRepository, enrollments repository.EnrollmentRepository, logger *zerolog.Logger) *streamUC {
	compLog := logger.With().Str("component", "StreamUseCase").Logger()
	return &streamUC{streams: streams, enrollments: enrollments, log: &compLog}
}

func (u *streamUC) Get(ctx context.Context, streamID string) (*model.Stream, error) {
	return u.streams.FindByID(ctx, repository.NoTX, streamID)
}

func (u *streamUC) Invite(ctx context.Context, streamID, identity string) (*model.Enrollment, bool, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, false, domain.ErrInvalidArgument
	}
	stream, err := u.streams.FindByID(ctx, repository.NoTX, streamID)
	if err != nil {
		return nil, false, err
	}

	token, err := generateToken()
	if err != nil {
		return nil, false, err
	}
	enr, err := model.NewEnrollment(uuid.NewString(), stream, identity, token, time.Now())
	if err != nil {
		return nil, false, err
	}
	if err := u.enrollments.Create(ctx, repository.NoTX, enr); err != nil {
		if !errors.Is(err, domain.ErrConflict) {
			return nil, false, err
		}
		existing, ferr := u.enrollments.FindByStreamAndIdentity(ctx, repository.NoTX, stream.ID, identity)
		if ferr != nil {
			return nil, false, ferr
		}
		return existing, false, nil
	}

	metrics.IncEnrollmentCreated("invite")
	u.log.Info().Str("stream_id", stream.ID).Str("identity", identity).Str("enrollment_id", enr.ID).Msg("student invited")
	return enr, true, nil
}

func (u *streamUC) RotateInviteToken(ctx context.Context, streamID string) (string, error) {
	if _, err := u.streams.FindByID(ctx, repository.NoTX, streamID); err != nil {
		return "", err
	}
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	if err := u.streams.UpdateInviteToken(ctx, repository.NoTX, streamID, token); err != nil {
		return "", err
	}
	u.log.Info().Str("stream_id", streamID).Msg("stream invite token rotated")
	return token, nil
}

func (u *streamUC) UpdateSettings(ctx context.Context, streamID string, scheduleEnabled, notifyOnRelease bool) (*model.Stream, error) {
	if err := u.streams.UpdateSettings(ctx, repository.NoTX, streamID, scheduleEnabled, notifyOnRelease); err != nil {
		return nil, err
	}
	u.log.Info().
		Str("stream_id", streamID).
		Bool("schedule_enabled", scheduleEnabled).
		Bool("notify_on_release", notifyOnRelease).
		Msg("stream settings updated")
	return u.streams.FindByID(ctx, repository.NoTX, streamID)
}
