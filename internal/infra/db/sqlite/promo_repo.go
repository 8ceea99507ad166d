package sqlite

import (
	"context"
	"database/sql"
	"time"

	"telegram-course-streams/internal/domain"
	"telegram-course-streams/internal/domain/model"
	"telegram-course-streams/internal/domain/ports/repository"
)

var _ repository.PromoRepository = (*promoRepo)(nil)

type promoRepo struct {
	store *Store
}

func NewPromoRepo(store *Store) *promoRepo {
	return &promoRepo{store: store}
}

func (r *promoRepo) Save(ctx context.Context, tx repository.Tx, p *model.PromoCode) error {
	ex, err := r.store.executor(tx)
	if err != nil {
		return err
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	var value, limit sql.NullInt64
	if p.DiscountValue != nil {
		value = sql.NullInt64{Int64: *p.DiscountValue, Valid: true}
	}
	if p.UsageLimit != nil {
		limit = sql.NullInt64{Int64: int64(*p.UsageLimit), Valid: true}
	}
	_, err = ex.ExecContext(ctx, `
INSERT INTO promo_codes (id, stream_id, code, type, discount_value, expires_at, usage_limit, used_count, is_active, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.StreamID, model.NormalizePromoCode(p.Code), string(p.Type), value, toNullMillis(p.ExpiresAt),
		limit, p.UsedCount, p.IsActive, toMillis(p.CreatedAt))
	return opFailed(err)
}

func (r *promoRepo) FindByCode(ctx context.Context, tx repository.Tx, streamID, code string) (*model.PromoCode, error) {
	ex, err := r.store.executor(tx)
	if err != nil {
		return nil, err
	}
	var (
		p                 model.PromoCode
		typ               string
		value, limit, exp sql.NullInt64
		created           int64
	)
	err = ex.QueryRowContext(ctx, `
SELECT id, stream_id, code, type, discount_value, expires_at, usage_limit, used_count, is_active, created_at
  FROM promo_codes WHERE stream_id = ? AND code = ?`, streamID, model.NormalizePromoCode(code)).
		Scan(&p.ID, &p.StreamID, &p.Code, &typ, &value, &exp, &limit, &p.UsedCount, &p.IsActive, &created)
	if err != nil {
		return nil, scanErr(err)
	}
	p.Type = model.PromoType(typ)
	if value.Valid {
		v := value.Int64
		p.DiscountValue = &v
	}
	if limit.Valid {
		l := int(limit.Int64)
		p.UsageLimit = &l
	}
	p.ExpiresAt = fromNullMillis(exp)
	p.CreatedAt = fromMillis(created)
	return &p, nil
}

func (r *promoRepo) UsageExists(ctx context.Context, tx repository.Tx, promoID, enrollmentID string) (bool, error) {
	ex, err := r.store.executor(tx)
	if err != nil {
		return false, err
	}
	var exists bool
	if err := ex.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM promo_usages WHERE promo_code_id = ? AND enrollment_id = ?)`, promoID, enrollmentID).
		Scan(&exists); err != nil {
		return false, scanErr(err)
	}
	return exists, nil
}

func (r *promoRepo) RecordUsage(ctx context.Context, tx repository.Tx, usage *model.PromoUsage) error {
	if usage.CreatedAt.IsZero() {
		usage.CreatedAt = time.Now()
	}
	return r.store.withSubTx(ctx, tx, func(ex executor) error {
		if _, err := ex.ExecContext(ctx,
			`INSERT INTO promo_usages (id, promo_code_id, enrollment_id, created_at) VALUES (?, ?, ?, ?)`,
			usage.ID, usage.PromoCodeID, usage.EnrollmentID, toMillis(usage.CreatedAt)); err != nil {
			return opFailed(err)
		}
		res, err := ex.ExecContext(ctx, `
UPDATE promo_codes SET used_count = used_count + 1
 WHERE id = ? AND (usage_limit IS NULL OR used_count < usage_limit)`, usage.PromoCodeID)
		if err != nil {
			return opFailed(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.InvalidState(model.PromoReasonExhausted)
		}
		return nil
	})
}
