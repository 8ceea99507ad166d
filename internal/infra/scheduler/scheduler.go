package scheduler

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"telegram-course-streams/internal/domain"
)

// ErrBusy is returned by Trigger when a tick is already running here or on another instance.
var ErrBusy = fmt.Errorf("%w: job already running", domain.ErrConflict)

// Job is one unit of periodic work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Locker spreads single-flight across instances. *redis.RedisLocker satisfies it.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, error)
	Unlock(ctx context.Context, key, token string) error
}

type Options struct {
	Interval    time.Duration
	TickTimeout time.Duration
	// Locker is optional; without it single-flight is per process.
	Locker  Locker
	LockTTL time.Duration
}

// Scheduler runs a Job every interval. At most one run is in flight at a time,
// whether started by the ticker or by Trigger.
type Scheduler struct {
	job     Job
	opts    Options
	running atomic.Bool
	log     *zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(job Job, opts Options, logger *zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.TickTimeout <= 0 {
		opts.TickTimeout = 5 * time.Minute
	}
	if opts.LockTTL <= opts.TickTimeout {
		opts.LockTTL = 2 * opts.TickTimeout
	}
	l := logger.With().Str("component", "Scheduler").Str("job", job.Name()).Logger()
	return &Scheduler{job: job, opts: opts, log: &l}
}

// Start begins the loop in a background goroutine. Calling Start twice has no effect.
func (s *Scheduler) Start(parent context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	ticker := time.NewTicker(s.opts.Interval)
	defer func() {
		ticker.Stop()
		close(done)
	}()

	s.log.Info().Dur("interval", s.opts.Interval).Msg("scheduler started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("scheduler stopping")
			return
		case <-ticker.C:
			if err := s.Trigger(ctx); err != nil && !errors.Is(err, ErrBusy) {
				s.log.Error().Err(err).Msg("scheduled run failed")
			}
		}
	}
}

// Stop cancels the loop and waits for the in-flight run to return. It is idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.log.Info().Msg("scheduler stopped")
}

// Trigger runs the job once now, bounded by the tick timeout. It returns ErrBusy
// without running when another run holds the slot or the distributed lock.
func (s *Scheduler) Trigger(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Debug().Msg("run skipped, previous run still in flight")
		return ErrBusy
	}
	defer s.running.Store(false)

	runID := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
	runLog := s.log.With().Str("run_id", runID).Logger()
	ctx, cancel := context.WithTimeout(runLog.WithContext(ctx), s.opts.TickTimeout)
	defer cancel()

	if s.opts.Locker != nil {
		key := "lock:job:" + s.job.Name()
		token, err := s.opts.Locker.TryLock(ctx, key, s.opts.LockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockNotAcquired) {
				runLog.Debug().Msg("run skipped, lock held elsewhere")
				return ErrBusy
			}
			return fmt.Errorf("acquire lock: %w", err)
		}
		defer func() {
			// The run context may be spent; release with a fresh short deadline.
			uctx, ucancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer ucancel()
			if err := s.opts.Locker.Unlock(uctx, key, token); err != nil {
				runLog.Warn().Err(err).Msg("failed to release job lock")
			}
		}()
	}

	return s.job.Run(ctx)
}
