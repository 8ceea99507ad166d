package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"telegram-course-streams/internal/infra/metrics"
	"telegram-course-streams/internal/usecase"
)

// ReleaseJob runs one release sweep per tick: open due lessons, then notify.
type ReleaseJob struct {
	release usecase.ReleaseUseCase
	now     func() time.Time
	log     *zerolog.Logger
}

func NewReleaseJob(release usecase.ReleaseUseCase, logger *zerolog.Logger) *ReleaseJob {
	l := logger.With().Str("component", "ReleaseJob").Logger()
	return &ReleaseJob{release: release, now: time.Now, log: &l}
}

func (j *ReleaseJob) Name() string { return "release_sweep" }

func (j *ReleaseJob) Run(ctx context.Context) error {
	started := time.Now()
	res, err := j.release.Sweep(ctx, j.now())
	metrics.ObserveSweepDuration(time.Since(started).Seconds())

	log := zerolog.Ctx(ctx)
	if log.GetLevel() == zerolog.Disabled {
		log = j.log
	}
	if err != nil {
		metrics.IncSweepRun("error")
		log.Error().Err(err).
			Int("opened", res.Opened).
			Int("notified", res.Notified).
			Msg("release sweep aborted")
		return err
	}
	metrics.IncSweepRun("ok")
	log.Debug().
		Int("opened", res.Opened).
		Int("notified", res.Notified).
		Int("sent", res.Sent).
		Int("failed", res.Failed).
		Int("skipped_notify", res.SkippedNotify).
		Dur("took", time.Since(started)).
		Msg("release sweep tick")
	return nil
}
