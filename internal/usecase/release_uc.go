package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"telegram-course-streams/internal/domain"
	"telegram-course-streams/internal/domain/model"
	"telegram-course-streams/internal/domain/ports/adapter"
	"telegram-course-streams/internal/domain/ports/repository"
	"telegram-course-streams/internal/infra/metrics"
)

// Compile-time check
var _ ReleaseUseCase = (*releaseUC)(nil)

// SweepResult summarizes one release sweep.
type SweepResult struct {
	Opened        int // entries flipped to opened by this sweep
	Notified      int // entries whose notification flag was set by this sweep
	Sent          int // successful per-recipient deliveries
	Failed        int // failed per-recipient deliveries
	SkippedNotify int // opened entries of streams with notifications disabled
}

// OpenAllResult summarizes an "open all remaining lessons now" call.
// The aggregate notice is delivered in the background; Recipients counts who it goes to.
type OpenAllResult struct {
	StreamID   string
	LessonIDs  []string
	Recipients int
}

type ReleaseUseCase interface {
	// Sweep opens due entries and notifies eligible recipients once per entry.
	// Callers must not run two sweeps at the same time.
	Sweep(ctx context.Context, now time.Time) (SweepResult, error)
	// OpenAllNow opens every remaining entry of a stream and queues one aggregate
	// notification per eligible recipient. Delivery does not depend on ctx staying alive.
	OpenAllNow(ctx context.Context, streamID string) (*OpenAllResult, error)
}

// ReleaseOptions configures the sweep.
type ReleaseOptions struct {
	// SendDelay is the pause between two consecutive deliveries.
	SendDelay time.Duration
	// RecoveryWindow bounds how far back opened but unnotified entries are retried.
	RecoveryWindow time.Duration
	// BatchSize caps the entries read per query.
	BatchSize int
}

// recordTimeout bounds bookkeeping writes made after a send, when the tick deadline may be spent.
const recordTimeout = 5 * time.Second

type releaseUC struct {
	streams     repository.StreamRepository
	lessons     repository.LessonRepository
	enrollments repository.EnrollmentRepository
	schedules   repository.ScheduleRepository
	notifier    adapter.Notifier
	dispatcher  Dispatcher
	msgs        Messages
	opts        ReleaseOptions
	log         *zerolog.Logger
}

func NewReleaseUseCase(
	streams repository.StreamRepository,
	lessons repository.LessonRepository,
	enrollments repository.EnrollmentRepository,
	schedules repository.ScheduleRepository,
	notifier adapter.Notifier,
	dispatcher Dispatcher,
	msgs Messages,
	opts ReleaseOptions,
	logger *zerolog.Logger,
) *releaseUC {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	if opts.RecoveryWindow <= 0 {
		opts.RecoveryWindow = 24 * time.Hour
	}
	compLog := logger.With().Str("component", "ReleaseUseCase").Logger()
	return &releaseUC{
		streams:     streams,
		lessons:     lessons,
		enrollments: enrollments,
		schedules:   schedules,
		notifier:    notifier,
		dispatcher:  dispatcher,
		msgs:        msgs,
		opts:        opts,
		log:         &compLog,
	}
}

func (u *releaseUC) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	var res SweepResult

	due, err := u.schedules.ListDue(ctx, repository.NoTX, now, u.opts.BatchSize)
	if err != nil {
		return res, err
	}
	opened := make([]*model.ScheduleEntry, 0, len(due))
	for _, e := range due {
		ok, err := u.schedules.MarkOpened(ctx, repository.NoTX, e.ID)
		if err != nil {
			return res, err
		}
		if !ok {
			continue
		}
		e.IsOpened = true
		opened = append(opened, e)
		res.Opened++
	}
	metrics.AddLessonsOpened("sweep", res.Opened)

	// Entries opened earlier whose notification never completed are picked up again.
	pending, err := u.schedules.ListPendingNotification(ctx, repository.NoTX, now.Add(-u.opts.RecoveryWindow), u.opts.BatchSize)
	if err != nil {
		return res, err
	}

	streams := make(map[string]*model.Stream)
	seen := make(map[string]struct{}, len(opened)+len(pending))
	for _, e := range append(opened, pending...) {
		if _, dup := seen[e.ID]; dup || e.NotificationSent {
			continue
		}
		seen[e.ID] = struct{}{}

		stream, ok := streams[e.StreamID]
		if !ok {
			stream, err = u.streams.FindByID(ctx, repository.NoTX, e.StreamID)
			if err != nil {
				return res, err
			}
			streams[e.StreamID] = stream
		}
		if !stream.NotifyOnRelease {
			res.SkippedNotify++
			continue
		}

		out, err := u.notifyLessonOpened(ctx, stream, e)
		res.Sent += out.Sent
		res.Failed += out.Failed
		if err != nil {
			return res, err
		}

		marked, err := u.schedules.MarkNotificationSent(ctx, repository.NoTX, e.ID)
		if err != nil {
			return res, err
		}
		if marked {
			res.Notified++
		}
	}

	if res.Opened > 0 || res.Notified > 0 {
		u.log.Info().
			Int("opened", res.Opened).
			Int("notified", res.Notified).
			Int("sent", res.Sent).
			Int("failed", res.Failed).
			Msg("release sweep finished")
	}
	return res, nil
}

// notifyLessonOpened sends the release notice of e to eligible recipients that have
// not been handled for e yet. Every attempt is recorded, so a fan-out cut short by
// the tick deadline resumes on the next tick without repeating earlier recipients.
func (u *releaseUC) notifyLessonOpened(ctx context.Context, stream *model.Stream, e *model.ScheduleEntry) (fanoutResult, error) {
	recipients, err := u.enrollments.ListEligibleRecipients(ctx, repository.NoTX, stream.ID)
	if err != nil {
		return fanoutResult{}, err
	}
	handled, err := u.schedules.ListDelivered(ctx, repository.NoTX, e.ID)
	if err != nil {
		return fanoutResult{}, err
	}
	recipients = withoutHandled(recipients, handled)
	if len(recipients) == 0 {
		return fanoutResult{}, nil
	}

	title := ""
	lesson, err := u.lessons.FindByID(ctx, repository.NoTX, e.LessonID)
	switch {
	case err == nil:
		title = lesson.Title
	case !errors.Is(err, domain.ErrNotFound):
		return fanoutResult{}, err
	}

	record := func(ctx context.Context, r *model.Enrollment) error {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
		defer cancel()
		_, err := u.schedules.RecordDelivery(rctx, repository.NoTX, e.ID, r.ID, time.Now())
		return err
	}
	text := u.msgs.T("lesson_opened", stream.Title, title)
	return fanout(ctx, u.notifier, recipients, text, "lesson_opened", u.opts.SendDelay, record, u.log)
}

func withoutHandled(recipients []*model.Enrollment, handled []string) []*model.Enrollment {
	if len(handled) == 0 {
		return recipients
	}
	skip := make(map[string]struct{}, len(handled))
	for _, id := range handled {
		skip[id] = struct{}{}
	}
	out := make([]*model.Enrollment, 0, len(recipients))
	for _, r := range recipients {
		if _, ok := skip[r.ID]; !ok {
			out = append(out, r)
		}
	}
	return out
}

func (u *releaseUC) OpenAllNow(ctx context.Context, streamID string) (*OpenAllResult, error) {
	stream, err := u.streams.FindByID(ctx, repository.NoTX, streamID)
	if err != nil {
		return nil, err
	}
	lessonIDs, err := u.schedules.OpenAllForStream(ctx, repository.NoTX, streamID)
	if err != nil {
		return nil, err
	}
	res := &OpenAllResult{StreamID: streamID, LessonIDs: lessonIDs}
	metrics.AddLessonsOpened("open_all", len(lessonIDs))
	if len(lessonIDs) == 0 || !stream.NotifyOnRelease {
		return res, nil
	}

	recipients, err := u.enrollments.ListEligibleRecipients(ctx, repository.NoTX, streamID)
	if err != nil {
		return res, err
	}
	res.Recipients = len(recipients)
	u.log.Info().
		Str("stream_id", streamID).
		Int("opened", len(lessonIDs)).
		Int("recipients", len(recipients)).
		Msg("all remaining lessons opened")
	if len(recipients) == 0 {
		return res, nil
	}

	// The entries are already flagged as notified, so the aggregate must outlive
	// the caller's deadline or the remaining recipients never hear about it.
	text := u.msgs.T("lessons_opened_all", len(lessonIDs), stream.Title)
	task := func(ctx context.Context) error {
		out, err := fanout(ctx, u.notifier, recipients, text, "lessons_opened_all", u.opts.SendDelay, nil, u.log)
		u.log.Info().
			Str("stream_id", streamID).
			Int("sent", out.Sent).
			Int("failed", out.Failed).
			Msg("aggregate release notice delivered")
		return err
	}
	if u.dispatcher != nil {
		err = u.dispatcher.Submit(task)
		if err == nil {
			return res, nil
		}
		u.log.Warn().Err(err).Str("stream_id", streamID).Msg("aggregate notice not queued, delivering inline")
	}
	if err := task(context.WithoutCancel(ctx)); err != nil {
		return res, err
	}
	return res, nil
}
