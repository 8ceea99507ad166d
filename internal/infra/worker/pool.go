package worker

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrQueueFull is returned by Submit when the buffer stayed saturated for the whole submit wait.
	ErrQueueFull = errors.New("worker queue full")
	ErrStopped   = errors.New("worker pool stopped")
)

// Task is a unit of background work, e.g. delivering a welcome message.
type Task func(ctx context.Context) error

// Pool runs submitted tasks on a fixed number of goroutines.
type Pool struct {
	wg   sync.WaitGroup
	jobs chan Task
	quit chan struct{}
	stop sync.Once
	n    int
	wait time.Duration
	log  *zerolog.Logger
}

// Options tunes queueing. Zero values take the defaults.
type Options struct {
	// QueueSize is the number of buffered tasks. Default: 64 per worker.
	QueueSize int

	// SubmitWait is how long Submit waits for room in a full queue. Default: 2s.
	SubmitWait time.Duration
}

func NewPool(workers int, opts Options, logger *zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = workers * 64
	}
	if opts.SubmitWait <= 0 {
		opts.SubmitWait = 2 * time.Second
	}
	compLog := logger.With().Str("component", "WorkerPool").Logger()
	return &Pool{
		jobs: make(chan Task, opts.QueueSize),
		quit: make(chan struct{}),
		n:    workers,
		wait: opts.SubmitWait,
		log:  &compLog,
	}
}

func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.n; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-p.quit:
					p.drain(ctx, id)
					return
				case task := <-p.jobs:
					p.run(ctx, id, task)
				}
			}
		}(i)
	}
}

// drain finishes tasks that were accepted before Stop.
func (p *Pool) drain(ctx context.Context, id int) {
	for {
		select {
		case task := <-p.jobs:
			p.run(ctx, id, task)
		default:
			return
		}
	}
}

func (p *Pool) run(ctx context.Context, id int, task Task) {
	if task == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Int("worker", id).Interface("panic", r).Msg("task panicked")
		}
	}()
	if err := task(ctx); err != nil {
		p.log.Warn().Err(err).Int("worker", id).Msg("task error")
	}
}

// Stop signals workers to finish queued tasks and waits for them. It is idempotent.
func (p *Pool) Stop() {
	p.stop.Do(func() { close(p.quit) })
	p.wg.Wait()
}

// Submit queues task. When the queue is full it waits up to the submit wait for a
// worker to free a slot before giving up with ErrQueueFull.
func (p *Pool) Submit(task Task) error {
	if task == nil {
		return errors.New("nil task")
	}
	select {
	case <-p.quit:
		return ErrStopped
	default:
	}
	select {
	case p.jobs <- task:
		return nil
	default:
	}

	t := time.NewTimer(p.wait)
	defer t.Stop()
	select {
	case p.jobs <- task:
		return nil
	case <-p.quit:
		return ErrStopped
	case <-t.C:
		p.log.Warn().Dur("waited", p.wait).Int("queued", len(p.jobs)).Msg("task rejected, queue full")
		return ErrQueueFull
	}
}
