package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-course-streams/internal/domain/model"
	"telegram-course-streams/internal/domain/ports/repository"
)

var _ repository.EnrollmentRepository = (*enrollmentRepo)(nil)

type enrollmentRepo struct {
	pool *pgxpool.Pool
}

func NewEnrollmentRepo(pool *pgxpool.Pool) *enrollmentRepo {
	return &enrollmentRepo{pool: pool}
}

const enrollmentColumns = `id, stream_id, identity, invitation_status, payment_status, access_token,
       activated_at, paid_at, applied_promo_id, created_at`

const enrollmentInsert = `
INSERT INTO enrollments (` + enrollmentColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`

func enrollmentArgs(e *model.Enrollment) []interface{} {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	return []interface{}{
		e.ID, e.StreamID, e.Identity, string(e.InvitationStatus), string(e.PaymentStatus), e.AccessToken,
		e.ActivatedAt, e.PaidAt, e.AppliedPromoID, e.CreatedAt,
	}
}

func (r *enrollmentRepo) Create(ctx context.Context, tx repository.Tx, e *model.Enrollment) error {
	_, err := execSQL(ctx, r.pool, tx, enrollmentInsert+`;`, enrollmentArgs(e)...)
	return opFailed(err)
}

func (r *enrollmentRepo) CreateIfAbsent(ctx context.Context, tx repository.Tx, e *model.Enrollment) (bool, error) {
	tag, err := execSQL(ctx, r.pool, tx, enrollmentInsert+` ON CONFLICT (stream_id, identity) DO NOTHING;`, enrollmentArgs(e)...)
	if err != nil {
		return false, opFailed(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *enrollmentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Enrollment, error) {
	return r.findOne(ctx, tx, `SELECT `+enrollmentColumns+` FROM enrollments WHERE id=$1;`, id)
}

func (r *enrollmentRepo) FindByAccessToken(ctx context.Context, tx repository.Tx, token string) (*model.Enrollment, error) {
	return r.findOne(ctx, tx, `SELECT `+enrollmentColumns+` FROM enrollments WHERE access_token=$1;`, token)
}

func (r *enrollmentRepo) FindByStreamAndIdentity(ctx context.Context, tx repository.Tx, streamID, identity string) (*model.Enrollment, error) {
	return r.findOne(ctx, tx, `SELECT `+enrollmentColumns+` FROM enrollments WHERE stream_id=$1 AND identity=$2;`, streamID, identity)
}

func (r *enrollmentRepo) findOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.Enrollment, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	e, err := scanEnrollment(row)
	if err != nil {
		return nil, scanErr(err)
	}
	return e, nil
}

func scanEnrollment(row pgx.Row) (*model.Enrollment, error) {
	var (
		e          model.Enrollment
		invitation string
		payment    string
	)
	if err := row.Scan(&e.ID, &e.StreamID, &e.Identity, &invitation, &payment, &e.AccessToken,
		&e.ActivatedAt, &e.PaidAt, &e.AppliedPromoID, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.InvitationStatus = model.InvitationStatus(invitation)
	e.PaymentStatus = model.PaymentStatus(payment)
	return &e, nil
}

func (r *enrollmentRepo) MarkActivated(ctx context.Context, tx repository.Tx, id string, at time.Time) (bool, error) {
	const q = `
UPDATE enrollments SET invitation_status='activated', activated_at=$2
 WHERE id=$1 AND invitation_status='invited';`
	return r.transition(ctx, tx, q, id, at)
}

func (r *enrollmentRepo) MarkPaid(ctx context.Context, tx repository.Tx, id string, at time.Time) (bool, error) {
	const q = `
UPDATE enrollments SET payment_status='paid', paid_at=$2
 WHERE id=$1 AND payment_status='unpaid';`
	return r.transition(ctx, tx, q, id, at)
}

func (r *enrollmentRepo) SetAppliedPromo(ctx context.Context, tx repository.Tx, id, promoID string) (bool, error) {
	const q = `UPDATE enrollments SET applied_promo_id=$2 WHERE id=$1 AND applied_promo_id IS NULL;`
	return r.transition(ctx, tx, q, id, promoID)
}

// transition runs a guarded UPDATE and reports whether this call changed the row.
func (r *enrollmentRepo) transition(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (bool, error) {
	tag, err := execSQL(ctx, r.pool, tx, q, args...)
	if err != nil {
		return false, opFailed(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *enrollmentRepo) ListEligibleRecipients(ctx context.Context, tx repository.Tx, streamID string) ([]*model.Enrollment, error) {
	const q = `SELECT ` + enrollmentColumns + ` FROM enrollments
 WHERE stream_id=$1 AND invitation_status='activated' AND payment_status='paid'
 ORDER BY activated_at, id;`
	rows, err := queryRows(ctx, r.pool, tx, q, streamID)
	if err != nil {
		return nil, err
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
