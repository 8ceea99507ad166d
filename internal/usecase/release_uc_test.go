//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegram-course-streams/internal/domain/model"
	"telegram-course-streams/internal/domain/ports/repository"
	"telegram-course-streams/internal/infra/worker"
	"telegram-course-streams/internal/usecase"
)

type releaseFixture struct {
	*fixture
	uc     usecase.ReleaseUseCase
	stream *model.Stream
	now    time.Time
}

// newReleaseFixture seeds one notifying stream with three eligible students and
// one student that is activated but unpaid.
func newReleaseFixture(t *testing.T) *releaseFixture {
	t.Helper()
	return newReleaseFixtureWithOptions(t, usecase.ReleaseOptions{RecoveryWindow: 24 * time.Hour})
}

func newReleaseFixtureWithOptions(t *testing.T, opts usecase.ReleaseOptions) *releaseFixture {
	t.Helper()
	f := newFixture()
	stream := paidStream("s1", 1000)
	stream.ScheduleEnabled = true
	stream.NotifyOnRelease = true
	f.store.addStream(stream)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, identity := range []string{"a", "b", "c", "unpaid"} {
		e := invitedEnrollment(t, stream, fmt.Sprintf("e%d", i), identity, fmt.Sprintf("T%d", i))
		e.Activate(now.Add(-48 * time.Hour))
		if identity != "unpaid" {
			e.MarkPaid(now.Add(-48 * time.Hour))
		}
		f.store.addEnrollment(e)
	}
	for i := 1; i <= 5; i++ {
		f.store.addLesson(model.LessonRef{ID: fmt.Sprintf("l%d", i), CourseID: "course-1", Position: i, Title: fmt.Sprintf("Lesson %d", i)})
	}

	uc := usecase.NewReleaseUseCase(f.streams, f.lessons, f.enrollments, f.schedules, f.notifier, f.dispatcher, newTestTranslator(),
		opts, newTestLogger())
	return &releaseFixture{fixture: f, uc: uc, stream: stream, now: now}
}

func (r *releaseFixture) addEntry(id, lessonID string, at time.Time) {
	r.store.addEntry(&model.ScheduleEntry{ID: id, StreamID: r.stream.ID, LessonID: lessonID, ScheduledOpenAt: at})
}

func TestReleaseUseCase_Sweep(t *testing.T) {
	ctx := context.Background()

	t.Run("should open due entries and notify eligible recipients once", func(t *testing.T) {
		r := newReleaseFixture(t)
		r.addEntry("x1", "l1", r.now.Add(-time.Minute))
		r.addEntry("x2", "l2", r.now.Add(time.Hour))

		res, err := r.uc.Sweep(ctx, r.now)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Opened)
		assert.Equal(t, 1, res.Notified)
		assert.Equal(t, 3, res.Sent)

		assert.True(t, r.store.entry("x1").IsOpened)
		assert.True(t, r.store.entry("x1").NotificationSent)
		assert.False(t, r.store.entry("x2").IsOpened)
		assert.Equal(t, 0, r.notifier.CountFor("unpaid"))
		assert.Equal(t, "opened Go in Practice: Lesson 1", r.notifier.Messages()[0].Text)
	})

	t.Run("should leave flags unchanged on back-to-back sweeps", func(t *testing.T) {
		r := newReleaseFixture(t)
		r.addEntry("x1", "l1", r.now.Add(-time.Minute))

		_, err := r.uc.Sweep(ctx, r.now)
		require.NoError(t, err)
		sent := len(r.notifier.Messages())
		writes := r.store.Writes()

		for i := 0; i < 2; i++ {
			res, err := r.uc.Sweep(ctx, r.now.Add(time.Duration(i+1)*time.Second))
			require.NoError(t, err)
			assert.Zero(t, res.Opened)
			assert.Zero(t, res.Notified)
		}
		assert.Equal(t, sent, len(r.notifier.Messages()))
		assert.Equal(t, writes, r.store.Writes())
	})

	t.Run("should open on the exact scheduled instant", func(t *testing.T) {
		r := newReleaseFixture(t)
		r.addEntry("x1", "l1", r.now)

		res, err := r.uc.Sweep(ctx, r.now)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Opened)
	})

	t.Run("should open without notifying when notifications are off", func(t *testing.T) {
		r := newReleaseFixture(t)
		_ = r.streams.UpdateSettings(ctx, repository.NoTX, "s1", true, false)
		r.addEntry("x1", "l1", r.now.Add(-time.Minute))

		res, err := r.uc.Sweep(ctx, r.now)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Opened)
		assert.Equal(t, 1, res.SkippedNotify)
		assert.True(t, r.store.entry("x1").IsOpened)
		assert.False(t, r.store.entry("x1").NotificationSent)
		assert.Empty(t, r.notifier.Messages())
	})

	t.Run("should keep going when a recipient fails", func(t *testing.T) {
		r := newReleaseFixture(t)
		r.notifier.FailOn = map[string]error{"b": errSendFailed}
		r.addEntry("x1", "l1", r.now.Add(-time.Minute))

		res, err := r.uc.Sweep(ctx, r.now)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Sent)
		assert.Equal(t, 1, res.Failed)
		assert.True(t, r.store.entry("x1").NotificationSent)

		// The failure is not retried by later sweeps.
		r.notifier.FailOn = nil
		_, err = r.uc.Sweep(ctx, r.now.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 0, r.notifier.CountFor("b"))
	})

	t.Run("should finish an entry left unflagged without repeating recipients", func(t *testing.T) {
		r := newReleaseFixture(t)
		r.addEntry("x1", "l1", r.now.Add(-time.Minute))
		failing := errors.New("db gone")
		r.schedules.MarkNotificationSentFunc = func(ctx context.Context, tx repository.Tx, id string) (bool, error) {
			return false, failing
		}

		_, err := r.uc.Sweep(ctx, r.now)
		assert.ErrorIs(t, err, failing)
		assert.True(t, r.store.entry("x1").IsOpened)
		assert.False(t, r.store.entry("x1").NotificationSent)
		assert.Equal(t, 1, r.notifier.CountFor("a"))

		r.schedules.MarkNotificationSentFunc = nil
		res, err := r.uc.Sweep(ctx, r.now.Add(time.Minute))
		require.NoError(t, err)
		assert.Zero(t, res.Opened)
		assert.Equal(t, 1, res.Notified)
		assert.True(t, r.store.entry("x1").NotificationSent)
		assert.Equal(t, 1, r.notifier.CountFor("a"))
	})

	t.Run("should resume a fan-out cut by the tick deadline without repeating recipients", func(t *testing.T) {
		r := newReleaseFixtureWithOptions(t, usecase.ReleaseOptions{SendDelay: 40 * time.Millisecond, RecoveryWindow: 24 * time.Hour})
		r.addEntry("x1", "l1", r.now.Add(-time.Minute))

		cut := false
		for tick := 0; tick < 6 && !r.store.entry("x1").NotificationSent; tick++ {
			tctx, cancel := context.WithTimeout(ctx, 60*time.Millisecond)
			_, err := r.uc.Sweep(tctx, r.now.Add(time.Duration(tick)*time.Minute))
			cancel()
			if errors.Is(err, context.DeadlineExceeded) {
				cut = true
			}
		}

		assert.True(t, cut, "the first tick should run out of time")
		assert.True(t, r.store.entry("x1").NotificationSent)
		for _, id := range []string{"a", "b", "c"} {
			assert.Equal(t, 1, r.notifier.CountFor(id), id)
		}
		assert.Equal(t, 0, r.notifier.CountFor("unpaid"))
	})

	t.Run("should notify a student who became eligible before the fan-out resumed", func(t *testing.T) {
		r := newReleaseFixture(t)
		r.addEntry("x1", "l1", r.now.Add(-time.Minute))
		r.schedules.MarkNotificationSentFunc = func(ctx context.Context, tx repository.Tx, id string) (bool, error) {
			return false, errors.New("db gone")
		}
		_, err := r.uc.Sweep(ctx, r.now)
		require.Error(t, err)

		late := r.store.enrollment("e3")
		late.MarkPaid(r.now)
		r.store.addEnrollment(late)
		r.schedules.MarkNotificationSentFunc = nil

		_, err = r.uc.Sweep(ctx, r.now.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 1, r.notifier.CountFor("unpaid"))
		assert.Equal(t, 1, r.notifier.CountFor("a"))
	})

	t.Run("should not retry entries older than the recovery window", func(t *testing.T) {
		r := newReleaseFixture(t)
		r.store.addEntry(&model.ScheduleEntry{ID: "old", StreamID: "s1", LessonID: "l1", ScheduledOpenAt: r.now.Add(-72 * time.Hour), IsOpened: true})

		res, err := r.uc.Sweep(ctx, r.now)
		require.NoError(t, err)
		assert.Zero(t, res.Notified)
		assert.Empty(t, r.notifier.Messages())
	})

	t.Run("should stop on context cancellation without marking notified", func(t *testing.T) {
		r := newReleaseFixture(t)
		r.addEntry("x1", "l1", r.now.Add(-time.Minute))
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := r.uc.Sweep(cctx, r.now)
		assert.ErrorIs(t, err, context.Canceled)
		assert.True(t, r.store.entry("x1").IsOpened)
		assert.False(t, r.store.entry("x1").NotificationSent)
	})
}

func TestReleaseUseCase_OpenAllNow(t *testing.T) {
	ctx := context.Background()

	t.Run("should open five entries with one aggregate message per recipient", func(t *testing.T) {
		r := newReleaseFixture(t)
		for i := 1; i <= 5; i++ {
			r.addEntry(fmt.Sprintf("x%d", i), fmt.Sprintf("l%d", i), r.now.Add(time.Duration(i)*24*time.Hour))
		}

		res, err := r.uc.OpenAllNow(ctx, "s1")
		require.NoError(t, err)
		assert.Len(t, res.LessonIDs, 5)
		assert.Equal(t, 3, res.Recipients)
		assert.Equal(t, 1, r.dispatcher.Count())
		for _, id := range []string{"a", "b", "c"} {
			assert.Equal(t, 1, r.notifier.CountFor(id), id)
		}
		assert.Equal(t, "opened 5 in Go in Practice", r.notifier.Messages()[0].Text)

		// The sweep must not send per-lesson messages for entries opened in bulk.
		sent := len(r.notifier.Messages())
		_, err = r.uc.Sweep(ctx, r.now.Add(10*24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, sent, len(r.notifier.Messages()))
	})

	t.Run("should deliver the aggregate to every recipient after the caller's deadline", func(t *testing.T) {
		r := newReleaseFixtureWithOptions(t, usecase.ReleaseOptions{SendDelay: 40 * time.Millisecond, RecoveryWindow: 24 * time.Hour})
		for i := 1; i <= 5; i++ {
			r.addEntry(fmt.Sprintf("x%d", i), fmt.Sprintf("l%d", i), r.now.Add(time.Duration(i)*24*time.Hour))
		}
		tctx, cancel := context.WithTimeout(ctx, 60*time.Millisecond)
		defer cancel()

		res, err := r.uc.OpenAllNow(tctx, "s1")
		require.NoError(t, err)
		assert.Len(t, res.LessonIDs, 5)
		for _, id := range []string{"a", "b", "c"} {
			assert.Equal(t, 1, r.notifier.CountFor(id), id)
		}
	})

	t.Run("should deliver inline on a detached context when the queue refuses", func(t *testing.T) {
		r := newReleaseFixtureWithOptions(t, usecase.ReleaseOptions{SendDelay: 40 * time.Millisecond, RecoveryWindow: 24 * time.Hour})
		r.uc = usecase.NewReleaseUseCase(r.streams, r.lessons, r.enrollments, r.schedules, r.notifier, refusingDispatcher{},
			newTestTranslator(), usecase.ReleaseOptions{SendDelay: 40 * time.Millisecond}, newTestLogger())
		r.addEntry("x1", "l1", r.now.Add(24*time.Hour))
		tctx, cancel := context.WithTimeout(ctx, 60*time.Millisecond)
		defer cancel()

		_, err := r.uc.OpenAllNow(tctx, "s1")
		require.NoError(t, err)
		for _, id := range []string{"a", "b", "c"} {
			assert.Equal(t, 1, r.notifier.CountFor(id), id)
		}
	})

	t.Run("should do nothing when everything is already open", func(t *testing.T) {
		r := newReleaseFixture(t)
		r.store.addEntry(&model.ScheduleEntry{ID: "x1", StreamID: "s1", LessonID: "l1", ScheduledOpenAt: r.now, IsOpened: true, NotificationSent: true})

		res, err := r.uc.OpenAllNow(ctx, "s1")
		require.NoError(t, err)
		assert.Empty(t, res.LessonIDs)
		assert.Empty(t, r.notifier.Messages())
	})
}

type refusingDispatcher struct{}

func (refusingDispatcher) Submit(worker.Task) error { return worker.ErrQueueFull }
