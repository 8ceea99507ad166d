package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"telegram-course-streams/internal/domain"
	"telegram-course-streams/internal/domain/model"
	"telegram-course-streams/internal/domain/ports/repository"
	"telegram-course-streams/internal/infra/metrics"
)

// Compile-time check
var _ PromoUseCase = (*promoUC)(nil)

type PromoUseCase interface {
	// Validate prices the stream with code without consuming it. enrollmentID may be empty.
	Validate(ctx context.Context, code, streamID, enrollmentID string) (*model.PromoQuote, error)
	// Apply consumes one use of code for the enrollment.
	Apply(ctx context.Context, code, streamID, enrollmentID string) (*model.PromoQuote, error)
}

// PromoApplier applies a code inside a transaction owned by the caller.
type PromoApplier interface {
	ApplyTx(ctx context.Context, tx repository.Tx, code string, stream *model.Stream, enrollmentID string) (*model.PromoQuote, error)
}

type promoUC struct {
	tm          repository.TransactionManager
	streams     repository.StreamRepository
	enrollments repository.EnrollmentRepository
	promos      repository.PromoRepository
	log         *zerolog.Logger
}

func NewPromoUseCase(
	tm repository.TransactionManager,
	streams repository.StreamRepository,
	enrollments repository.EnrollmentRepository,
	promos repository.PromoRepository,
	logger *zerolog.Logger,
) *promoUC {
	compLog := logger.With().Str("component", "PromoUseCase").Logger()
	return &promoUC{
		tm:          tm,
		streams:     streams,
		enrollments: enrollments,
		promos:      promos,
		log:         &compLog,
	}
}

func (u *promoUC) Validate(ctx context.Context, code, streamID, enrollmentID string) (*model.PromoQuote, error) {
	stream, err := u.streams.FindByID(ctx, repository.NoTX, streamID)
	if err != nil {
		return nil, err
	}
	if enrollmentID != "" {
		enr, err := u.enrollments.FindByID(ctx, repository.NoTX, enrollmentID)
		if err != nil {
			return nil, err
		}
		if enr.StreamID != stream.ID {
			return nil, domain.NotFound("enrollment does not belong to this stream")
		}
	}
	_, quote, err := u.validate(ctx, repository.NoTX, code, stream, enrollmentID, time.Now())
	if err != nil {
		metrics.IncPromo("validate", outcomeOf(err))
		return nil, err
	}
	metrics.IncPromo("validate", "ok")
	return &quote, nil
}

func (u *promoUC) Apply(ctx context.Context, code, streamID, enrollmentID string) (*model.PromoQuote, error) {
	if enrollmentID == "" {
		return nil, domain.ErrInvalidArgument
	}
	stream, err := u.streams.FindByID(ctx, repository.NoTX, streamID)
	if err != nil {
		return nil, err
	}
	enr, err := u.enrollments.FindByID(ctx, repository.NoTX, enrollmentID)
	if err != nil {
		return nil, err
	}
	if enr.StreamID != stream.ID {
		return nil, domain.NotFound("enrollment does not belong to this stream")
	}

	var quote *model.PromoQuote
	err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		q, err := u.ApplyTx(ctx, tx, code, stream, enrollmentID)
		if err != nil {
			return err
		}
		quote = q
		return nil
	})
	if err != nil {
		return nil, err
	}
	return quote, nil
}

// ApplyTx validates code and records its usage for enrollmentID within tx.
// A lost race on the (code, enrollment) uniqueness surfaces as "already used".
func (u *promoUC) ApplyTx(ctx context.Context, tx repository.Tx, code string, stream *model.Stream, enrollmentID string) (*model.PromoQuote, error) {
	now := time.Now()
	promo, quote, err := u.validate(ctx, tx, code, stream, enrollmentID, now)
	if err != nil {
		metrics.IncPromo("apply", outcomeOf(err))
		return nil, err
	}

	usage := &model.PromoUsage{
		ID:           uuid.NewString(),
		PromoCodeID:  promo.ID,
		EnrollmentID: enrollmentID,
		CreatedAt:    now,
	}
	if err := u.promos.RecordUsage(ctx, tx, usage); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			err = domain.InvalidState(model.PromoReasonAlreadyUsed)
		}
		metrics.IncPromo("apply", outcomeOf(err))
		return nil, err
	}

	metrics.IncPromo("apply", "ok")
	u.log.Info().
		Str("stream_id", stream.ID).
		Str("promo_id", promo.ID).
		Str("enrollment_id", enrollmentID).
		Int64("discount", quote.DiscountAmount).
		Int64("final_price", quote.FinalPrice).
		Msg("promo code applied")
	return &quote, nil
}

// validate short-circuits on the first failure: existence, active, expiry, budget, prior use.
func (u *promoUC) validate(ctx context.Context, tx repository.Tx, code string, stream *model.Stream, enrollmentID string, now time.Time) (*model.PromoCode, model.PromoQuote, error) {
	code = model.NormalizePromoCode(code)
	if code == "" {
		return nil, model.PromoQuote{}, domain.NotFound(model.PromoReasonNotFound)
	}
	promo, err := u.promos.FindByCode(ctx, tx, stream.ID, code)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, model.PromoQuote{}, domain.NotFound(model.PromoReasonNotFound)
		}
		return nil, model.PromoQuote{}, err
	}
	if err := promo.CheckUsable(now); err != nil {
		return nil, model.PromoQuote{}, err
	}
	if enrollmentID != "" {
		used, err := u.promos.UsageExists(ctx, tx, promo.ID, enrollmentID)
		if err != nil {
			return nil, model.PromoQuote{}, err
		}
		if used {
			return nil, model.PromoQuote{}, domain.InvalidState(model.PromoReasonAlreadyUsed)
		}
	}
	return promo, promo.Quote(stream.Price), nil
}

// isPromoRejection tells validation outcomes apart from storage failures.
func isPromoRejection(err error) bool {
	return errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrInvalidState)
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	case errors.Is(err, domain.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}
