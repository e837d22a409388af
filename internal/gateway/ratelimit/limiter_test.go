package ratelimit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pbnjam/mcp-gatewayd/internal/gateway/ratelimit"
)

func TestLimiter_AllowsUpToLimitThenRejects(t *testing.T) {
	l := ratelimit.New(time.Minute, 3)
	now := time.Now()

	for i := 0; i < 3; i++ {
		res := l.Allow("ip:1.2.3.4", now)
		if !res.Allowed {
			t.Fatalf("request %d: expected allowed", i)
		}
	}

	res := l.Allow("ip:1.2.3.4", now)
	if res.Allowed {
		t.Fatal("expected 4th request to be rejected")
	}
	if res.RetryAfter <= 0 {
		t.Fatal("expected positive RetryAfter on rejection")
	}
}

func TestLimiter_WindowResetsAfterExpiry(t *testing.T) {
	l := ratelimit.New(time.Minute, 1)
	now := time.Now()

	if !l.Allow("ip:1.2.3.4", now).Allowed {
		t.Fatal("expected first request allowed")
	}
	if l.Allow("ip:1.2.3.4", now).Allowed {
		t.Fatal("expected second request in same window rejected")
	}
	if !l.Allow("ip:1.2.3.4", now.Add(time.Minute+time.Second)).Allowed {
		t.Fatal("expected request after window expiry to be allowed")
	}
}

func TestLimiter_BucketsAreIndependent(t *testing.T) {
	l := ratelimit.New(time.Minute, 1)
	now := time.Now()

	if !l.Allow("ip:1.1.1.1", now).Allowed {
		t.Fatal("expected first bucket allowed")
	}
	if !l.Allow("ip:2.2.2.2", now).Allowed {
		t.Fatal("expected distinct bucket unaffected by the first")
	}
}

type fakeStore struct {
	counts map[string]int64
}

func (f *fakeStore) Increment(_ context.Context, key string, window time.Duration) (int64, time.Time, error) {
	f.counts[key]++
	return f.counts[key], time.Now().Add(window), nil
}

type erroringStore struct{}

func (erroringStore) Increment(context.Context, string, time.Duration) (int64, time.Time, error) {
	return 0, time.Time{}, errors.New("boom")
}

func TestRemoteLimiter_AllowsThenRejectsOverLimit(t *testing.T) {
	store := &fakeStore{counts: make(map[string]int64)}
	l := ratelimit.NewRemote(store, time.Minute, 2)

	for i := 0; i < 2; i++ {
		res, err := l.Allow(context.Background(), "key:abc")
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if !res.Allowed {
			t.Fatalf("request %d: expected allowed", i)
		}
	}

	res, err := l.Allow(context.Background(), "key:abc")
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if res.Allowed {
		t.Fatal("expected 3rd request to be rejected")
	}
}

func TestRemoteLimiter_PropagatesStoreError(t *testing.T) {
	l := ratelimit.NewRemote(erroringStore{}, time.Minute, 2)
	if _, err := l.Allow(context.Background(), "key:abc"); err == nil {
		t.Fatal("expected store error to propagate")
	}
}
