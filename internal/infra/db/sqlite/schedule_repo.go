package sqlite

import (
	"context"
	"time"

	"telegram-course-streams/internal/domain/model"
	"telegram-course-streams/internal/domain/ports/repository"
)

var _ repository.ScheduleRepository = (*scheduleRepo)(nil)

type scheduleRepo struct {
	store *Store
}

func NewScheduleRepo(store *Store) *scheduleRepo {
	return &scheduleRepo{store: store}
}

const scheduleColumns = `e.id, e.stream_id, e.lesson_id, e.scheduled_open_at, e.is_opened, e.notification_sent, e.created_at`

func (r *scheduleRepo) ReplaceForStream(ctx context.Context, tx repository.Tx, streamID string, entries []*model.ScheduleEntry) error {
	return r.store.withSubTx(ctx, tx, func(ex executor) error {
		if _, err := ex.ExecContext(ctx, `DELETE FROM schedule_entries WHERE stream_id = ?`, streamID); err != nil {
			return opFailed(err)
		}
		for _, e := range entries {
			if e.CreatedAt.IsZero() {
				e.CreatedAt = time.Now()
			}
			if _, err := ex.ExecContext(ctx, `
INSERT INTO schedule_entries (id, stream_id, lesson_id, scheduled_open_at, is_opened, notification_sent, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
				e.ID, streamID, e.LessonID, toMillis(e.ScheduledOpenAt), e.IsOpened, e.NotificationSent, toMillis(e.CreatedAt)); err != nil {
				return opFailed(err)
			}
		}
		return nil
	})
}

func (r *scheduleRepo) FindByStreamAndLesson(ctx context.Context, tx repository.Tx, streamID, lessonID string) (*model.ScheduleEntry, error) {
	ex, err := r.store.executor(tx)
	if err != nil {
		return nil, err
	}
	e, err := scanEntry(ex.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedule_entries e WHERE e.stream_id = ? AND e.lesson_id = ?`, streamID, lessonID))
	if err != nil {
		return nil, scanErr(err)
	}
	return e, nil
}

func (r *scheduleRepo) ListByStream(ctx context.Context, tx repository.Tx, streamID string) ([]*model.ScheduleEntry, error) {
	return r.list(ctx, tx,
		`SELECT `+scheduleColumns+` FROM schedule_entries e WHERE e.stream_id = ? ORDER BY e.scheduled_open_at, e.id`, streamID)
}

func (r *scheduleRepo) ListDue(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.ScheduleEntry, error) {
	return r.list(ctx, tx, `SELECT `+scheduleColumns+` FROM schedule_entries e
 WHERE e.is_opened = 0 AND e.scheduled_open_at <= ?
 ORDER BY e.scheduled_open_at, e.id LIMIT ?`, toMillis(now), limit)
}

func (r *scheduleRepo) ListPendingNotification(ctx context.Context, tx repository.Tx, since time.Time, limit int) ([]*model.ScheduleEntry, error) {
	return r.list(ctx, tx, `SELECT `+scheduleColumns+` FROM schedule_entries e
  JOIN streams s ON s.id = e.stream_id
 WHERE s.notify_on_release = 1 AND e.is_opened = 1 AND e.notification_sent = 0 AND e.scheduled_open_at >= ?
 ORDER BY e.scheduled_open_at, e.id LIMIT ?`, toMillis(since), limit)
}

func (r *scheduleRepo) list(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.ScheduleEntry, error) {
	ex, err := r.store.executor(tx)
	if err != nil {
		return nil, err
	}
	rows, err := ex.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, opFailed(err)
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

func scanEntry(row scanner) (*model.ScheduleEntry, error) {
	var (
		e             model.ScheduleEntry
		openAt, creat int64
	)
	if err := row.Scan(&e.ID, &e.StreamID, &e.LessonID, &openAt, &e.IsOpened, &e.NotificationSent, &creat); err != nil {
		return nil, err
	}
	e.ScheduledOpenAt = fromMillis(openAt)
	e.CreatedAt = fromMillis(creat)
	return &e, nil
}

func (r *scheduleRepo) MarkOpened(ctx context.Context, tx repository.Tx, id string) (bool, error) {
	return r.store.execChanged(ctx, tx, `UPDATE schedule_entries SET is_opened = 1 WHERE id = ? AND is_opened = 0`, id)
}

func (r *scheduleRepo) MarkNotificationSent(ctx context.Context, tx repository.Tx, id string) (bool, error) {
	return r.store.execChanged(ctx, tx,
		`UPDATE schedule_entries SET notification_sent = 1 WHERE id = ? AND notification_sent = 0`, id)
}

func (r *scheduleRepo) RecordDelivery(ctx context.Context, tx repository.Tx, entryID, enrollmentID string, at time.Time) (bool, error) {
	return r.store.execChanged(ctx, tx, `
INSERT INTO release_deliveries (schedule_entry_id, enrollment_id, created_at)
VALUES (?, ?, ?)
ON CONFLICT (schedule_entry_id, enrollment_id) DO NOTHING`, entryID, enrollmentID, toMillis(at))
}

func (r *scheduleRepo) ListDelivered(ctx context.Context, tx repository.Tx, entryID string) ([]string, error) {
	ex, err := r.store.executor(tx)
	if err != nil {
		return nil, err
	}
	rows, err := ex.QueryContext(ctx,
		`SELECT enrollment_id FROM release_deliveries WHERE schedule_entry_id = ? ORDER BY enrollment_id`, entryID)
	if err != nil {
		return nil, opFailed(err)
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

// OpenAllForStream selects then updates under one write transaction; SQLite's
// RETURNING is avoided so the statement stays portable to older builds.
func (r *scheduleRepo) OpenAllForStream(ctx context.Context, tx repository.Tx, streamID string) ([]string, error) {
	var ids []string
	err := r.store.withSubTx(ctx, tx, func(ex executor) error {
		rows, err := ex.QueryContext(ctx,
			`SELECT lesson_id FROM schedule_entries WHERE stream_id = ? AND is_opened = 0 ORDER BY scheduled_open_at, id`, streamID)
		if err != nil {
			return opFailed(err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return scanErr(err)
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return opFailed(err)
		}
		if len(ids) == 0 {
			return nil
		}
		_, err = ex.ExecContext(ctx,
			`UPDATE schedule_entries SET is_opened = 1, notification_sent = 1 WHERE stream_id = ? AND is_opened = 0`, streamID)
		return opFailed(err)
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}
