package repository

import (
	"context"

	"telegram-course-streams/internal/domain/model"
)

// PromoRepository is the port for promo codes and their usages.
type PromoRepository interface {
	// Save creates a promo code; a duplicate (stream, code) yields domain.ErrConflict.
	Save(ctx context.Context, tx Tx, p *model.PromoCode) error
	FindByCode(ctx context.Context, tx Tx, streamID, code string) (*model.PromoCode, error)
	UsageExists(ctx context.Context, tx Tx, promoID, enrollmentID string) (bool, error)
	// RecordUsage inserts the usage row and increments the code's used counter as one unit.
	// A second usage for the same (code, enrollment) yields domain.ErrConflict; an exhausted
	// usage budget yields domain.ErrInvalidState. Neither leaves partial writes behind.
	RecordUsage(ctx context.Context, tx Tx, usage *model.PromoUsage) error
}
