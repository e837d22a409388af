package ratelimit

import (
	"context"
	"time"
)

// Store is the capability a remote counter backend must provide for
// RemoteLimiter to share rate-limit state across gateway processes. An
// implementation must create key with the given TTL on its first increment
// within a window and let it expire on its own; ResetAt is whatever expiry
// time the backend reports (e.g. derived from its TTL).
type Store interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int64, resetAt time.Time, err error)
}

// RemoteLimiter mirrors Limiter's semantics but delegates the window/count
// bookkeeping to a Store, so multiple gateway processes sharing that store
// enforce one combined limit instead of one limit per process. No concrete
// Store implementation ships here; wire one (e.g. backed by a shared cache)
// where the deployment needs cross-process enforcement.
type RemoteLimiter struct {
	store  Store
	window time.Duration
	limit  int
}

// NewRemote creates a RemoteLimiter backed by store.
func NewRemote(store Store, window time.Duration, limit int) *RemoteLimiter {
	return &RemoteLimiter{store: store, window: window, limit: limit}
}

// Allow increments key's remote counter and reports whether the request is
// within the window's limit.
func (l *RemoteLimiter) Allow(ctx context.Context, key string) (Result, error) {
	count, resetAt, err := l.store.Increment(ctx, key, l.window)
	if err != nil {
		return Result{}, err
	}

	if count > int64(l.limit) {
		return Result{
			Allowed:    false,
			Limit:      l.limit,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: time.Until(resetAt),
		}, nil
	}

	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   true,
		Limit:     l.limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}
