package sqlite

import (
	"context"
	"time"

	"telegram-course-streams/internal/domain"
	"telegram-course-streams/internal/domain/model"
	"telegram-course-streams/internal/domain/ports/repository"
)

var _ repository.StreamRepository = (*streamRepo)(nil)

type streamRepo struct {
	store *Store
}

func NewStreamRepo(store *Store) *streamRepo {
	return &streamRepo{store: store}
}

const streamSelect = `
SELECT s.id, s.course_id, s.creator_id, COALESCE(c.name, ''), s.title, s.price, s.invite_token,
       s.schedule_enabled, s.notify_on_release, s.created_at
  FROM streams s
  LEFT JOIN creators c ON c.id = s.creator_id`

func (r *streamRepo) Save(ctx context.Context, tx repository.Tx, s *model.Stream) error {
	ex, err := r.store.executor(tx)
	if err != nil {
		return err
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	_, err = ex.ExecContext(ctx, `
INSERT INTO streams (id, course_id, creator_id, title, price, invite_token, schedule_enabled, notify_on_release, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
  title=excluded.title, price=excluded.price, invite_token=excluded.invite_token,
  schedule_enabled=excluded.schedule_enabled, notify_on_release=excluded.notify_on_release`,
		s.ID, s.CourseID, s.CreatorID, s.Title, s.Price, s.InviteToken, s.ScheduleEnabled, s.NotifyOnRelease, toMillis(s.CreatedAt))
	return opFailed(err)
}

func (r *streamRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Stream, error) {
	return r.findOne(ctx, tx, streamSelect+` WHERE s.id = ?`, id)
}

func (r *streamRepo) FindByInviteToken(ctx context.Context, tx repository.Tx, token string) (*model.Stream, error) {
	return r.findOne(ctx, tx, streamSelect+` WHERE s.invite_token = ?`, token)
}

func (r *streamRepo) findOne(ctx context.Context, tx repository.Tx, q, arg string) (*model.Stream, error) {
	ex, err := r.store.executor(tx)
	if err != nil {
		return nil, err
	}
	var (
		s       model.Stream
		created int64
	)
	if err := ex.QueryRowContext(ctx, q, arg).Scan(&s.ID, &s.CourseID, &s.CreatorID, &s.CreatorName, &s.Title, &s.Price,
		&s.InviteToken, &s.ScheduleEnabled, &s.NotifyOnRelease, &created); err != nil {
		return nil, scanErr(err)
	}
	s.CreatedAt = fromMillis(created)
	return &s, nil
}

func (r *streamRepo) UpdateInviteToken(ctx context.Context, tx repository.Tx, id, token string) error {
	ok, err := r.store.execChanged(ctx, tx, `UPDATE streams SET invite_token = ? WHERE id = ?`, token, id)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotFound
	}
	return nil
}

func (r *streamRepo) UpdateSettings(ctx context.Context, tx repository.Tx, id string, scheduleEnabled, notifyOnRelease bool) error {
	ok, err := r.store.execChanged(ctx, tx,
		`UPDATE streams SET schedule_enabled = ?, notify_on_release = ? WHERE id = ?`, scheduleEnabled, notifyOnRelease, id)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotFound
	}
	return nil
}

var _ repository.LessonRepository = (*lessonRepo)(nil)

type lessonRepo struct {
	store *Store
}

func NewLessonRepo(store *Store) *lessonRepo {
	return &lessonRepo{store: store}
}

const lessonSelect = `
SELECT l.id, b.course_id, b.id, b.position, l.position, l.title
  FROM lessons l
  JOIN course_blocks b ON b.id = l.block_id`

func (r *lessonRepo) ListByCourse(ctx context.Context, tx repository.Tx, courseID string) ([]model.LessonRef, error) {
	ex, err := r.store.executor(tx)
	if err != nil {
		return nil, err
	}
	rows, err := ex.QueryContext(ctx, lessonSelect+` WHERE b.course_id = ? ORDER BY b.position, l.position, l.id`, courseID)
	if err != nil {
		return nil, opFailed(err)
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
	ex, err := r.store.executor(tx)
	if err != nil {
		return nil, err
	}
	var l model.LessonRef
	if err := ex.QueryRowContext(ctx, lessonSelect+` WHERE l.id = ?`, id).
		Scan(&l.ID, &l.CourseID, &l.BlockID, &l.BlockPosition, &l.Position, &l.Title); err != nil {
		return nil, scanErr(err)
	}
	return &l, nil
}
