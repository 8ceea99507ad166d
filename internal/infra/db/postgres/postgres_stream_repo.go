package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-course-streams/internal/domain"
	"telegram-course-streams/internal/domain/model"
	"telegram-course-streams/internal/domain/ports/repository"
)

var _ repository.StreamRepository = (*streamRepo)(nil)

type streamRepo struct {
	pool *pgxpool.Pool
}

func NewStreamRepo(pool *pgxpool.Pool) *streamRepo {
	return &streamRepo{pool: pool}
}

const streamSelect = `
SELECT s.id, s.course_id, s.creator_id, COALESCE(c.name, ''), s.title, s.price, s.invite_token,
       s.schedule_enabled, s.notify_on_release, s.created_at
  FROM streams s
  LEFT JOIN creators c ON c.id = s.creator_id`

func (r *streamRepo) Save(ctx context.Context, tx repository.Tx, s *model.Stream) error {
	const q = `
INSERT INTO streams (id, course_id, creator_id, title, price, invite_token, schedule_enabled, notify_on_release, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO UPDATE SET
  title=$4, price=$5, invite_token=$6, schedule_enabled=$7, notify_on_release=$8;`
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	_, err := execSQL(ctx, r.pool, tx, q,
		s.ID, s.CourseID, s.CreatorID, s.Title, s.Price, s.InviteToken, s.ScheduleEnabled, s.NotifyOnRelease, s.CreatedAt)
	return opFailed(err)
}

func (r *streamRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Stream, error) {
	return r.findOne(ctx, tx, streamSelect+` WHERE s.id=$1;`, id)
}

func (r *streamRepo) FindByInviteToken(ctx context.Context, tx repository.Tx, token string) (*model.Stream, error) {
	return r.findOne(ctx, tx, streamSelect+` WHERE s.invite_token=$1;`, token)
}

func (r *streamRepo) findOne(ctx context.Context, tx repository.Tx, q string, arg string) (*model.Stream, error) {
	row, err := pickRow(ctx, r.pool, tx, q, arg)
	if err != nil {
		return nil, err
	}
	var s model.Stream
	if err := row.Scan(&s.ID, &s.CourseID, &s.CreatorID, &s.CreatorName, &s.Title, &s.Price, &s.InviteToken,
		&s.ScheduleEnabled, &s.NotifyOnRelease, &s.CreatedAt); err != nil {
		return nil, scanErr(err)
	}
	return &s, nil
}

func (r *streamRepo) UpdateInviteToken(ctx context.Context, tx repository.Tx, id, token string) error {
	tag, err := execSQL(ctx, r.pool, tx, `UPDATE streams SET invite_token=$2 WHERE id=$1;`, id, token)
	if err != nil {
		return opFailed(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *streamRepo) UpdateSettings(ctx context.Context, tx repository.Tx, id string, scheduleEnabled, notifyOnRelease bool) error {
	tag, err := execSQL(ctx, r.pool, tx,
		`UPDATE streams SET schedule_enabled=$2, notify_on_release=$3 WHERE id=$1;`, id, scheduleEnabled, notifyOnRelease)
	if err != nil {
		return opFailed(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

var _ repository.LessonRepository = (*lessonRepo)(nil)

type lessonRepo struct {
	pool *pgxpool.Pool
}

func NewLessonRepo(pool *pgxpool.Pool) *lessonRepo {
	return &lessonRepo{pool: pool}
}

const lessonSelect = `
SELECT l.id, b.course_id, b.id, b.position, l.position, l.title
  FROM lessons l
  JOIN course_blocks b ON b.id = l.block_id`

func (r *lessonRepo) ListByCourse(ctx context.Context, tx repository.Tx, courseID string) ([]model.LessonRef, error) {
	rows, err := queryRows(ctx, r.pool, tx, lessonSelect+` WHERE b.course_id=$1 ORDER BY b.position, l.position, l.id;`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.LessonRef
	for rows.Next() {
		var l model.LessonRef
		if err := rows.Scan(&l.ID, &l.CourseID, &l.BlockID, &l.BlockPosition, &l.Position, &l.Title); err != nil {
			return nil, scanErr(err)
		}
		out = append(out, l)
	}
	return out, opFailed(rows.Err())
}

func (r *lessonRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.LessonRef, error) {
	row, err := pickRow(ctx, r.pool, tx, lessonSelect+` WHERE l.id=$1;`, id)
	if err != nil {
		return nil, err
	}
	var l model.LessonRef
	if err := row.Scan(&l.ID, &l.CourseID, &l.BlockID, &l.BlockPosition, &l.Position, &l.Title); err != nil {
		return nil, scanErr(err)
	}
	return &l, nil
}
