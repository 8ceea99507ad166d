package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-course-streams/internal/domain/model"
	"telegram-course-streams/internal/domain/ports/repository"
)

var _ repository.ScheduleRepository = (*scheduleRepo)(nil)

type scheduleRepo struct {
	pool *pgxpool.Pool
}

func NewScheduleRepo(pool *pgxpool.Pool) *scheduleRepo {
	return &scheduleRepo{pool: pool}
}

const scheduleColumns = `e.id, e.stream_id, e.lesson_id, e.scheduled_open_at, e.is_opened, e.notification_sent, e.created_at`

func (r *scheduleRepo) ReplaceForStream(ctx context.Context, tx repository.Tx, streamID string, entries []*model.ScheduleEntry) error {
	return withSubTx(ctx, r.pool, tx, func(sub pgx.Tx) error {
		if _, err := sub.Exec(ctx, `DELETE FROM schedule_entries WHERE stream_id=$1;`, streamID); err != nil {
			return opFailed(err)
		}
		if len(entries) == 0 {
			return nil
		}
		batch := &pgx.Batch{}
		for _, e := range entries {
			if e.CreatedAt.IsZero() {
				e.CreatedAt = time.Now()
			}
			batch.Queue(`
INSERT INTO schedule_entries (id, stream_id, lesson_id, scheduled_open_at, is_opened, notification_sent, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7);`,
				e.ID, streamID, e.LessonID, e.ScheduledOpenAt.UTC(), e.IsOpened, e.NotificationSent, e.CreatedAt)
		}
		br := sub.SendBatch(ctx, batch)
		for range entries {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return opFailed(err)
			}
		}
		return opFailed(br.Close())
	})
}

func (r *scheduleRepo) FindByStreamAndLesson(ctx context.Context, tx repository.Tx, streamID, lessonID string) (*model.ScheduleEntry, error) {
	row, err := pickRow(ctx, r.pool, tx,
		`SELECT `+scheduleColumns+` FROM schedule_entries e WHERE e.stream_id=$1 AND e.lesson_id=$2;`, streamID, lessonID)
	if err != nil {
		return nil, err
	}
	e, err := scanEntry(row)
	if err != nil {
		return nil, scanErr(err)
	}
	return e, nil
}

func (r *scheduleRepo) ListByStream(ctx context.Context, tx repository.Tx, streamID string) ([]*model.ScheduleEntry, error) {
	return r.list(ctx, tx,
		`SELECT `+scheduleColumns+` FROM schedule_entries e WHERE e.stream_id=$1 ORDER BY e.scheduled_open_at, e.id;`, streamID)
}

func (r *scheduleRepo) ListDue(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.ScheduleEntry, error) {
	return r.list(ctx, tx, `SELECT `+scheduleColumns+` FROM schedule_entries e
 WHERE e.is_opened=FALSE AND e.scheduled_open_at <= $1
 ORDER BY e.scheduled_open_at, e.id LIMIT $2;`, now, limit)
}

func (r *scheduleRepo) ListPendingNotification(ctx context.Context, tx repository.Tx, since time.Time, limit int) ([]*model.ScheduleEntry, error) {
	return r.list(ctx, tx, `SELECT `+scheduleColumns+` FROM schedule_entries e
  JOIN streams s ON s.id = e.stream_id
 WHERE s.notify_on_release AND e.is_opened AND NOT e.notification_sent AND e.scheduled_open_at >= $1
 ORDER BY e.scheduled_open_at, e.id LIMIT $2;`, since, limit)
}

func (r *scheduleRepo) list(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.ScheduleEntry, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.ScheduleEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, scanErr(err)
		}
		out = append(out, e)
	}
	return out, opFailed(rows.Err())
}

func scanEntry(row pgx.Row) (*model.ScheduleEntry, error) {
	var e model.ScheduleEntry
	if err := row.Scan(&e.ID, &e.StreamID, &e.LessonID, &e.ScheduledOpenAt, &e.IsOpened, &e.NotificationSent, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.ScheduledOpenAt = e.ScheduledOpenAt.UTC()
	return &e, nil
}

func (r *scheduleRepo) MarkOpened(ctx context.Context, tx repository.Tx, id string) (bool, error) {
	tag, err := execSQL(ctx, r.pool, tx, `UPDATE schedule_entries SET is_opened=TRUE WHERE id=$1 AND is_opened=FALSE;`, id)
	if err != nil {
		return false, opFailed(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *scheduleRepo) MarkNotificationSent(ctx context.Context, tx repository.Tx, id string) (bool, error) {
	tag, err := execSQL(ctx, r.pool, tx,
		`UPDATE schedule_entries SET notification_sent=TRUE WHERE id=$1 AND notification_sent=FALSE;`, id)
	if err != nil {
		return false, opFailed(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *scheduleRepo) RecordDelivery(ctx context.Context, tx repository.Tx, entryID, enrollmentID string, at time.Time) (bool, error) {
	tag, err := execSQL(ctx, r.pool, tx, `
INSERT INTO release_deliveries (schedule_entry_id, enrollment_id, created_at)
VALUES ($1,$2,$3)
ON CONFLICT (schedule_entry_id, enrollment_id) DO NOTHING;`, entryID, enrollmentID, at)
	if err != nil {
		return false, opFailed(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *scheduleRepo) ListDelivered(ctx context.Context, tx repository.Tx, entryID string) ([]string, error) {
	rows, err := queryRows(ctx, r.pool, tx,
		`SELECT enrollment_id FROM release_deliveries WHERE schedule_entry_id=$1 ORDER BY enrollment_id;`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, scanErr(err)
		}
		ids = append(ids, id)
	}
	return ids, opFailed(rows.Err())
}

func (r *scheduleRepo) OpenAllForStream(ctx context.Context, tx repository.Tx, streamID string) ([]string, error) {
	rows, err := queryRows(ctx, r.pool, tx, `
UPDATE schedule_entries SET is_opened=TRUE, notification_sent=TRUE
 WHERE stream_id=$1 AND is_opened=FALSE
 RETURNING lesson_id;`, streamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, scanErr(err)
		}
		ids = append(ids, id)
	}
	return ids, opFailed(rows.Err())
}
