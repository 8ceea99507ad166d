package telegram

import (
	"context"

	"telegram-course-streams/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.Notifier = (*limitedNotifier)(nil)

type limitedNotifier struct {
	inner adapter.Notifier
	sem   chan struct{}
}

// NewLimitedNotifier caps the number of in-flight sends to inner.
// Welcome messages from the worker pool and sweep fan-out share one budget.
func NewLimitedNotifier(inner adapter.Notifier, maxConcurrent int) adapter.Notifier {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedNotifier{
		inner: inner,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

func (l *limitedNotifier) Send(ctx context.Context, identity string, text string) error {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.sem }()
	return l.inner.Send(ctx, identity, text)
}
