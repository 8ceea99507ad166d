package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"telegram-course-streams/internal/domain"
	"telegram-course-streams/internal/domain/model"
	"telegram-course-streams/internal/domain/ports/adapter"
	"telegram-course-streams/internal/domain/ports/repository"
	"telegram-course-streams/internal/infra/metrics"
)

// Compile-time check
var _ ActivationUseCase = (*activationUC)(nil)

// InvitePath tells which kind of token resolved an activation.
type InvitePath string

const (
	InvitePathPersonal InvitePath = "personal"
	InvitePathShared   InvitePath = "shared"
)

// ActivationResult describes what a single Activate call did.
type ActivationResult struct {
	Enrollment *model.Enrollment
	Stream     *model.Stream
	Path       InvitePath
	// Activated is true only for the call that moved the enrollment to activated.
	Activated bool
	// Created is true when the shared link materialized a new enrollment.
	Created bool
	// Promo is the applied quote, nil when no code was applied.
	Promo *model.PromoQuote
	// PromoErr carries the rejection of a supplied code that did not block activation.
	PromoErr error
}

type ActivationUseCase interface {
	// Activate resolves token (personal access token first, then a stream invite token),
	// binds it to identity and activates the enrollment. promoCode is optional.
	// Repeated calls for an activated enrollment return it unchanged.
	Activate(ctx context.Context, token, identity, promoCode string) (*ActivationResult, error)
}

// ActivationOptions tunes policy decisions of the activation flow.
type ActivationOptions struct {
	// StrictPromo aborts activation when a supplied promo code is rejected.
	// By default the student is activated without the discount.
	StrictPromo bool
}

type activationUC struct {
	tm          repository.TransactionManager
	streams     repository.StreamRepository
	enrollments repository.EnrollmentRepository
	promos      PromoApplier
	notifier    adapter.Notifier
	dispatcher  Dispatcher
	msgs        Messages
	opts        ActivationOptions
	log         *zerolog.Logger
}

func NewActivationUseCase(
	tm repository.TransactionManager,
	streams repository.StreamRepository,
	enrollments repository.EnrollmentRepository,
	promos PromoApplier,
	notifier adapter.Notifier,
	dispatcher Dispatcher,
	msgs Messages,
	opts ActivationOptions,
	logger *zerolog.Logger,
) *activationUC {
	compLog := logger.With().Str("component", "ActivationUseCase").Logger()
	return &activationUC{
		tm:          tm,
		streams:     streams,
		enrollments: enrollments,
		promos:      promos,
		notifier:    notifier,
		dispatcher:  dispatcher,
		msgs:        msgs,
		opts:        opts,
		log:         &compLog,
	}
}

func (u *activationUC) Activate(ctx context.Context, token, identity, promoCode string) (*ActivationResult, error) {
	token = strings.TrimSpace(token)
	identity = strings.TrimSpace(identity)
	if token == "" || identity == "" {
		return nil, domain.ErrInvalidArgument
	}

	res, err := u.resolve(ctx, token, identity)
	if err != nil {
		return nil, err
	}
	if res.Enrollment.IsActivated() {
		metrics.IncActivation(string(res.Path), "already_active")
		return res, nil
	}

	if err := u.transition(ctx, res, promoCode); err != nil {
		metrics.IncActivation(string(res.Path), outcomeOf(err))
		return nil, err
	}
	if res.Activated {
		metrics.IncActivation(string(res.Path), "activated")
		u.log.Info().
			Str("stream_id", res.Stream.ID).
			Str("enrollment_id", res.Enrollment.ID).
			Str("identity", identity).
			Str("path", string(res.Path)).
			Bool("paid", res.Enrollment.IsPaid()).
			Msg("enrollment activated")
		u.dispatchWelcome(res.Stream, res.Enrollment)
	} else {
		metrics.IncActivation(string(res.Path), "already_active")
	}
	return res, nil
}

// resolve finds the enrollment behind token, creating it for shared links.
// The personal access token is tried first; a miss falls back to the stream invite token.
func (u *activationUC) resolve(ctx context.Context, token, identity string) (*ActivationResult, error) {
	enr, err := u.enrollments.FindByAccessToken(ctx, repository.NoTX, token)
	switch {
	case err == nil:
		if enr.Identity != identity {
			metrics.IncActivation(string(InvitePathPersonal), "forbidden")
			u.log.Warn().
				Str("enrollment_id", enr.ID).
				Str("identity", identity).
				Msg("personal invite used by a different identity")
			return nil, domain.Forbidden("invite link belongs to a different account")
		}
		stream, err := u.streams.FindByID(ctx, repository.NoTX, enr.StreamID)
		if err != nil {
			return nil, err
		}
		return &ActivationResult{Enrollment: enr, Stream: stream, Path: InvitePathPersonal}, nil

	case errors.Is(err, domain.ErrNotFound):
		stream, err := u.streams.FindByInviteToken(ctx, repository.NoTX, token)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				metrics.IncActivation(string(InvitePathShared), "not_found")
				return nil, domain.NotFound("invite link is not valid")
			}
			return nil, err
		}
		enr, created, err := u.materialize(ctx, stream, identity)
		if err != nil {
			return nil, err
		}
		return &ActivationResult{Enrollment: enr, Stream: stream, Path: InvitePathShared, Created: created}, nil

	default:
		return nil, err
	}
}

// materialize returns the enrollment of identity in stream, inserting it when absent.
// Concurrent callers converge on the single row guarded by (stream, identity) uniqueness.
func (u *activationUC) materialize(ctx context.Context, stream *model.Stream, identity string) (*model.Enrollment, bool, error) {
	existing, err := u.enrollments.FindByStreamAndIdentity(ctx, repository.NoTX, stream.ID, identity)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}

	accessToken, err := generateToken()
	if err != nil {
		return nil, false, err
	}
	enr, err := model.NewEnrollment(uuid.NewString(), stream, identity, accessToken, time.Now())
	if err != nil {
		return nil, false, err
	}
	created, err := u.enrollments.CreateIfAbsent(ctx, repository.NoTX, enr)
	if err != nil {
		return nil, false, err
	}
	if created {
		metrics.IncEnrollmentCreated("shared_link")
		return enr, true, nil
	}
	existing, err = u.enrollments.FindByStreamAndIdentity(ctx, repository.NoTX, stream.ID, identity)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// transition performs invited -> activated in one transaction. The conditional
// activation write goes first, so only the winning caller applies a promo code.
func (u *activationUC) transition(ctx context.Context, res *ActivationResult, promoCode string) error {
	enrID := res.Enrollment.ID
	now := time.Now()
	promoCode = strings.TrimSpace(promoCode)

	var (
		won      bool
		quote    *model.PromoQuote
		promoErr error
	)
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		won, quote, promoErr = false, nil, nil

		ok, err := u.enrollments.MarkActivated(ctx, tx, enrID, now)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		won = true

		if promoCode == "" {
			return nil
		}
		q, err := u.promos.ApplyTx(ctx, tx, promoCode, res.Stream, enrID)
		if err != nil {
			if !isPromoRejection(err) || u.opts.StrictPromo {
				return err
			}
			promoErr = err
			return nil
		}
		quote = q
		if _, err := u.enrollments.SetAppliedPromo(ctx, tx, enrID, q.PromoCodeID); err != nil {
			return err
		}
		if q.IsFree {
			paid, err := u.enrollments.MarkPaid(ctx, tx, enrID, now)
			if err != nil {
				return err
			}
			if paid {
				metrics.IncPayment("promo", "paid")
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if promoErr != nil {
		u.log.Info().
			Str("enrollment_id", enrID).
			Str("reason", domain.Reason(promoErr)).
			Msg("promo code rejected during activation, continuing without discount")
	}

	fresh, err := u.enrollments.FindByID(ctx, repository.NoTX, enrID)
	if err != nil {
		return err
	}
	res.Enrollment = fresh
	res.Activated = won
	if won {
		res.Promo = quote
		res.PromoErr = promoErr
	}
	return nil
}

// dispatchWelcome fires the one-shot welcome message off the request path.
func (u *activationUC) dispatchWelcome(stream *model.Stream, enr *model.Enrollment) {
	if u.notifier == nil || u.dispatcher == nil {
		return
	}
	key := "welcome"
	if !enr.IsPaid() {
		key = "welcome_unpaid"
	}
	text := u.msgs.T(key, stream.Title)
	identity := enr.Identity
	streamID := stream.ID

	err := u.dispatcher.Submit(func(ctx context.Context) error {
		if err := u.notifier.Send(ctx, identity, text); err != nil {
			metrics.IncNotification("welcome", "failed")
			u.log.Warn().Err(err).Str("stream_id", streamID).Str("identity", identity).Msg("welcome notification failed")
			return nil
		}
		metrics.IncNotification("welcome", "sent")
		return nil
	})
	if err != nil {
		metrics.IncNotification("welcome", "failed")
		u.log.Warn().Err(err).Str("stream_id", streamID).Msg("welcome notification not queued")
	}
}
