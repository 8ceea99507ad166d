package usecase

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"telegram-course-streams/internal/domain/model"
	"telegram-course-streams/internal/domain/ports/adapter"
	"telegram-course-streams/internal/infra/metrics"
	"telegram-course-streams/internal/infra/worker"
)

// Messages renders user-facing texts. *i18n.Translator satisfies it.
type Messages interface {
	T(key string, args ...interface{}) string
}

// Dispatcher runs fire-and-forget tasks off the request path. *worker.Pool satisfies it.
type Dispatcher interface {
	Submit(task worker.Task) error
}

// fanoutResult counts per-recipient delivery outcomes.
type fanoutResult struct {
	Sent   int
	Failed int
}

// delivered is called after each delivery attempt, successful or not.
type delivered func(ctx context.Context, r *model.Enrollment) error

// fanout delivers text to every recipient one by one, pausing delay between sends.
// Per-recipient failures are logged and counted, never retried. Only context
// cancellation or a failing done callback stops the loop early. done may be nil.
func fanout(
	ctx context.Context,
	notifier adapter.Notifier,
	recipients []*model.Enrollment,
	text, kind string,
	delay time.Duration,
	done delivered,
	log *zerolog.Logger,
) (fanoutResult, error) {
	var res fanoutResult
	for i, r := range recipients {
		if i > 0 && delay > 0 {
			if err := sleepCtx(ctx, delay); err != nil {
				return res, err
			}
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := notifier.Send(ctx, r.Identity, text); err != nil {
			res.Failed++
			metrics.IncNotification(kind, "failed")
			log.Warn().Err(err).
				Str("stream_id", r.StreamID).
				Str("identity", r.Identity).
				Str("kind", kind).
				Msg("notification delivery failed")
		} else {
			res.Sent++
			metrics.IncNotification(kind, "sent")
		}
		if done != nil {
			if err := done(ctx, r); err != nil {
				return res, err
			}
		}
	}
	return res, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
