package adapter

import (
	"context"
	"time"
)

// Notifier delivers a rendered message to one external identity.
// The transport connection behind it is owned by the caller that constructs it.
type Notifier interface {
	Send(ctx context.Context, identity string, text string) error
}

// RateLimiter answers whether another attempt under key fits in the window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
