package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-course-streams/internal/domain"
	"telegram-course-streams/internal/domain/model"
	"telegram-course-streams/internal/domain/ports/repository"
)

var _ repository.PromoRepository = (*promoRepo)(nil)

type promoRepo struct {
	pool *pgxpool.Pool
}

func NewPromoRepo(pool *pgxpool.Pool) *promoRepo {
	return &promoRepo{pool: pool}
}

func (r *promoRepo) Save(ctx context.Context, tx repository.Tx, p *model.PromoCode) error {
	const q = `
INSERT INTO promo_codes (id, stream_id, code, type, discount_value, expires_at, usage_limit, used_count, is_active, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10);`
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	_, err := execSQL(ctx, r.pool, tx, q,
		p.ID, p.StreamID, model.NormalizePromoCode(p.Code), string(p.Type), p.DiscountValue, p.ExpiresAt,
		p.UsageLimit, p.UsedCount, p.IsActive, p.CreatedAt)
	return opFailed(err)
}

func (r *promoRepo) FindByCode(ctx context.Context, tx repository.Tx, streamID, code string) (*model.PromoCode, error) {
	const q = `
SELECT id, stream_id, code, type, discount_value, expires_at, usage_limit, used_count, is_active, created_at
  FROM promo_codes WHERE stream_id=$1 AND code=$2;`
	row, err := pickRow(ctx, r.pool, tx, q, streamID, model.NormalizePromoCode(code))
	if err != nil {
		return nil, err
	}
	var (
		p   model.PromoCode
		typ string
	)
	if err := row.Scan(&p.ID, &p.StreamID, &p.Code, &typ, &p.DiscountValue, &p.ExpiresAt,
		&p.UsageLimit, &p.UsedCount, &p.IsActive, &p.CreatedAt); err != nil {
		return nil, scanErr(err)
	}
	p.Type = model.PromoType(typ)
	return &p, nil
}

func (r *promoRepo) UsageExists(ctx context.Context, tx repository.Tx, promoID, enrollmentID string) (bool, error) {
	row, err := pickRow(ctx, r.pool, tx,
		`SELECT EXISTS (SELECT 1 FROM promo_usages WHERE promo_code_id=$1 AND enrollment_id=$2);`, promoID, enrollmentID)
	if err != nil {
		return false, err
	}
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, scanErr(err)
	}
	return exists, nil
}

// RecordUsage runs inside a savepoint so a rejected usage leaves the caller's tx usable.
func (r *promoRepo) RecordUsage(ctx context.Context, tx repository.Tx, usage *model.PromoUsage) error {
	if usage.CreatedAt.IsZero() {
		usage.CreatedAt = time.Now()
	}
	return withSubTx(ctx, r.pool, tx, func(sub pgx.Tx) error {
		_, err := sub.Exec(ctx,
			`INSERT INTO promo_usages (id, promo_code_id, enrollment_id, created_at) VALUES ($1,$2,$3,$4);`,
			usage.ID, usage.PromoCodeID, usage.EnrollmentID, usage.CreatedAt)
		if err != nil {
			return opFailed(err)
		}
		tag, err := sub.Exec(ctx, `
UPDATE promo_codes SET used_count = used_count + 1
 WHERE id=$1 AND (usage_limit IS NULL OR used_count < usage_limit);`, usage.PromoCodeID)
		if err != nil {
			return opFailed(err)
		}
		if tag.RowsAffected() == 0 {
			return domain.InvalidState(model.PromoReasonExhausted)
		}
		return nil
	})
}
