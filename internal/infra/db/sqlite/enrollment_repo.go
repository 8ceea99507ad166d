package sqlite

import (
	"context"
	"database/sql"
	"time"

	"telegram-course-streams/internal/domain/model"
	"telegram-course-streams/internal/domain/ports/repository"
)

var _ repository.EnrollmentRepository = (*enrollmentRepo)(nil)

type enrollmentRepo struct {
	store *Store
}

func NewEnrollmentRepo(store *Store) *enrollmentRepo {
	return &enrollmentRepo{store: store}
}

const enrollmentColumns = `id, stream_id, identity, invitation_status, payment_status, access_token,
       activated_at, paid_at, applied_promo_id, created_at`

const enrollmentInsert = `
INSERT INTO enrollments (` + enrollmentColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func enrollmentArgs(e *model.Enrollment) []interface{} {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	var promo sql.NullString
	if e.AppliedPromoID != nil {
		promo = sql.NullString{String: *e.AppliedPromoID, Valid: true}
	}
	return []interface{}{
		e.ID, e.StreamID, e.Identity, string(e.InvitationStatus), string(e.PaymentStatus), e.AccessToken,
		toNullMillis(e.ActivatedAt), toNullMillis(e.PaidAt), promo, toMillis(e.CreatedAt),
	}
}

func (r *enrollmentRepo) Create(ctx context.Context, tx repository.Tx, e *model.Enrollment) error {
	ex, err := r.store.executor(tx)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, enrollmentInsert, enrollmentArgs(e)...)
	return opFailed(err)
}

func (r *enrollmentRepo) CreateIfAbsent(ctx context.Context, tx repository.Tx, e *model.Enrollment) (bool, error) {
	return r.store.execChanged(ctx, tx, enrollmentInsert+` ON CONFLICT (stream_id, identity) DO NOTHING`, enrollmentArgs(e)...)
}

func (r *enrollmentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Enrollment, error) {
	return r.findOne(ctx, tx, `SELECT `+enrollmentColumns+` FROM enrollments WHERE id = ?`, id)
}

func (r *enrollmentRepo) FindByAccessToken(ctx context.Context, tx repository.Tx, token string) (*model.Enrollment, error) {
	return r.findOne(ctx, tx, `SELECT `+enrollmentColumns+` FROM enrollments WHERE access_token = ?`, token)
}

func (r *enrollmentRepo) FindByStreamAndIdentity(ctx context.Context, tx repository.Tx, streamID, identity string) (*model.Enrollment, error) {
	return r.findOne(ctx, tx, `SELECT `+enrollmentColumns+` FROM enrollments WHERE stream_id = ? AND identity = ?`, streamID, identity)
}

func (r *enrollmentRepo) findOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.Enrollment, error) {
	ex, err := r.store.executor(tx)
	if err != nil {
		return nil, err
	}
	e, err := scanEnrollment(ex.QueryRowContext(ctx, q, args...))
	if err != nil {
		return nil, scanErr(err)
	}
	return e, nil
}

func scanEnrollment(row scanner) (*model.Enrollment, error) {
	var (
		e                 model.Enrollment
		invitation, pay   string
		activated, paidAt sql.NullInt64
		promo             sql.NullString
		created           int64
	)
	if err := row.Scan(&e.ID, &e.StreamID, &e.Identity, &invitation, &pay, &e.AccessToken,
		&activated, &paidAt, &promo, &created); err != nil {
		return nil, err
	}
	e.InvitationStatus = model.InvitationStatus(invitation)
	e.PaymentStatus = model.PaymentStatus(pay)
	e.ActivatedAt = fromNullMillis(activated)
	e.PaidAt = fromNullMillis(paidAt)
	if promo.Valid {
		id := promo.String
		e.AppliedPromoID = &id
	}
	e.CreatedAt = fromMillis(created)
	return &e, nil
}

func (r *enrollmentRepo) MarkActivated(ctx context.Context, tx repository.Tx, id string, at time.Time) (bool, error) {
	return r.store.execChanged(ctx, tx, `
UPDATE enrollments SET invitation_status = 'activated', activated_at = ?
 WHERE id = ? AND invitation_status = 'invited'`, toMillis(at), id)
}

func (r *enrollmentRepo) MarkPaid(ctx context.Context, tx repository.Tx, id string, at time.Time) (bool, error) {
	return r.store.execChanged(ctx, tx, `
UPDATE enrollments SET payment_status = 'paid', paid_at = ?
 WHERE id = ? AND payment_status = 'unpaid'`, toMillis(at), id)
}

func (r *enrollmentRepo) SetAppliedPromo(ctx context.Context, tx repository.Tx, id, promoID string) (bool, error) {
	return r.store.execChanged(ctx, tx,
		`UPDATE enrollments SET applied_promo_id = ? WHERE id = ? AND applied_promo_id IS NULL`, promoID, id)
}

func (r *enrollmentRepo) ListEligibleRecipients(ctx context.Context, tx repository.Tx, streamID string) ([]*model.Enrollment, error) {
	ex, err := r.store.executor(tx)
	if err != nil {
		return nil, err
	}
	rows, err := ex.QueryContext(ctx, `SELECT `+enrollmentColumns+` FROM enrollments
 WHERE stream_id = ? AND invitation_status = 'activated' AND payment_status = 'paid'
 ORDER BY activated_at, id`, streamID)
	if err != nil {
		return nil, opFailed(err)
	}
	defer rows.Close()

	var out []*model.Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, scanErr(err)
		}
		out = append(out, e)
	}
	return out, opFailed(rows.Err())
}
