package usecase

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"telegram-course-streams/internal/domain"
	"telegram-course-streams/internal/domain/model"
	"telegram-course-streams/internal/domain/ports/repository"
	"telegram-course-streams/internal/infra/metrics"
)

// Compile-time check
var _ PaymentUseCase = (*paymentUC)(nil)

// PaymentUseCase moves enrollments from unpaid to paid. Settlement happens elsewhere;
// this only records the outcome reported by a creator or a provider callback.
type PaymentUseCase interface {
	// ConfirmPaid marks the enrollment paid. Confirming a paid enrollment is a no-op.
	ConfirmPaid(ctx context.Context, enrollmentID string) (*model.Enrollment, error)
	// HandleStatusCallback applies a provider status. Only success statuses change state.
	HandleStatusCallback(ctx context.Context, enrollmentID, status string) (*model.Enrollment, error)
}

type paymentUC struct {
	enrollments repository.EnrollmentRepository
	log         *zerolog.Logger
}

func NewPaymentUseCase(enrollments repository.EnrollmentRepository, logger *zerolog.Logger) *paymentUC {
	compLog := logger.With().Str("component", "PaymentUseCase").Logger()
	return &paymentUC{enrollments: enrollments, log: &compLog}
}

func (p *paymentUC) ConfirmPaid(ctx context.Context, enrollmentID string) (*model.Enrollment, error) {
	return p.markPaid(ctx, enrollmentID, "manual")
}

func (p *paymentUC) HandleStatusCallback(ctx context.Context, enrollmentID, status string) (*model.Enrollment, error) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "paid", "succeeded", "success", "completed":
		return p.markPaid(ctx, enrollmentID, "callback")
	case "pending", "failed", "cancelled", "canceled", "expired":
		enr, err := p.enrollments.FindByID(ctx, repository.NoTX, enrollmentID)
		if err != nil {
			return nil, err
		}
		metrics.IncPayment("callback", "ignored")
		p.log.Info().Str("enrollment_id", enrollmentID).Str("status", status).Msg("non-success payment status ignored")
		return enr, nil
	default:
		return nil, domain.ErrInvalidArgument
	}
}

func (p *paymentUC) markPaid(ctx context.Context, enrollmentID, source string) (*model.Enrollment, error) {
	if _, err := p.enrollments.FindByID(ctx, repository.NoTX, enrollmentID); err != nil {
		return nil, err
	}
	changed, err := p.enrollments.MarkPaid(ctx, repository.NoTX, enrollmentID, time.Now())
	if err != nil {
		return nil, err
	}
	if changed {
		metrics.IncPayment(source, "paid")
		p.log.Info().Str("enrollment_id", enrollmentID).Str("source", source).Msg("enrollment marked paid")
	} else {
		metrics.IncPayment(source, "already_paid")
	}
	return p.enrollments.FindByID(ctx, repository.NoTX, enrollmentID)
}
