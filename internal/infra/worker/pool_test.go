package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestPool(t *testing.T) {
	logger := zerolog.Nop()

	t.Run("should run submitted tasks and drain on stop", func(t *testing.T) {
		p := NewPool(2, Options{}, &logger)
		var ran atomic.Int32
		for i := 0; i < 5; i++ {
			if err := p.Submit(func(ctx context.Context) error {
				ran.Add(1)
				return nil
			}); err != nil {
				t.Fatalf("submit %d: %v", i, err)
			}
		}
		p.Start(context.Background())
		p.Stop()
		if got := ran.Load(); got != 5 {
			t.Fatalf("expected 5 tasks to run, got %d", got)
		}
	})

	t.Run("should reject tasks after stop", func(t *testing.T) {
		p := NewPool(1, Options{}, &logger)
		p.Start(context.Background())
		p.Stop()
		p.Stop()
		if err := p.Submit(func(ctx context.Context) error { return nil }); !errors.Is(err, ErrStopped) {
			t.Fatalf("expected ErrStopped, got %v", err)
		}
	})

	t.Run("should report a full queue after the submit wait", func(t *testing.T) {
		p := NewPool(1, Options{QueueSize: 2, SubmitWait: 20 * time.Millisecond}, &logger)
		var err error
		for i := 0; i < 10 && err == nil; i++ {
			err = p.Submit(func(ctx context.Context) error { return nil })
		}
		if !errors.Is(err, ErrQueueFull) {
			t.Fatalf("expected ErrQueueFull, got %v", err)
		}
	})

	t.Run("should wait for room in a full queue instead of dropping", func(t *testing.T) {
		p := NewPool(1, Options{QueueSize: 1, SubmitWait: 2 * time.Second}, &logger)
		release := make(chan struct{})
		started := make(chan struct{})
		var ran atomic.Int32
		_ = p.Submit(func(ctx context.Context) error {
			close(started)
			<-release
			ran.Add(1)
			return nil
		})
		p.Start(context.Background())
		<-started
		// The worker is busy; this one fills the queue.
		if err := p.Submit(func(ctx context.Context) error { ran.Add(1); return nil }); err != nil {
			t.Fatalf("submit: %v", err)
		}

		go func() {
			time.Sleep(30 * time.Millisecond)
			close(release)
		}()
		if err := p.Submit(func(ctx context.Context) error { ran.Add(1); return nil }); err != nil {
			t.Fatalf("expected the burst task to be accepted once a slot freed, got %v", err)
		}
		p.Stop()
		if got := ran.Load(); got != 3 {
			t.Fatalf("expected 3 tasks to run, got %d", got)
		}
	})

	t.Run("should survive a panicking task", func(t *testing.T) {
		p := NewPool(1, Options{}, &logger)
		var ran atomic.Bool
		_ = p.Submit(func(ctx context.Context) error { panic("boom") })
		_ = p.Submit(func(ctx context.Context) error { ran.Store(true); return nil })
		p.Start(context.Background())
		p.Stop()
		if !ran.Load() {
			t.Fatal("task after panic did not run")
		}
	})
}
