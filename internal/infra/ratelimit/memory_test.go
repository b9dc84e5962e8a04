package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLimiterEnforcesWindow(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	limiter := NewMemoryLimiter(MemoryLimiterConfig{Now: func() time.Time { return now }})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		decision, err := limiter.Allow(ctx, "client-1", 3, time.Minute)
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !decision.Allowed {
			t.Fatalf("request %d denied inside limit", i)
		}
		if decision.Remaining != 3-(i+1) {
			t.Fatalf("remaining = %d after request %d", decision.Remaining, i)
		}
	}

	decision, err := limiter.Allow(ctx, "client-1", 3, time.Minute)
	if err != nil {
		t.Fatalf("allow over limit: %v", err)
	}
	if decision.Allowed {
		t.Fatalf("fourth request allowed")
	}
	if !decision.ResetAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("reset at = %v", decision.ResetAt)
	}

	// A new window after expiry.
	now = now.Add(2 * time.Minute)
	decision, err = limiter.Allow(ctx, "client-1", 3, time.Minute)
	if err != nil {
		t.Fatalf("allow after expiry: %v", err)
	}
	if !decision.Allowed || decision.Remaining != 2 {
		t.Fatalf("expired window not reset: %+v", decision)
	}
}

func TestMemoryLimiterKeysIsolated(t *testing.T) {
	limiter := NewMemoryLimiter(MemoryLimiterConfig{Now: func() time.Time { return time.Unix(1700000000, 0) }})
	ctx := context.Background()

	if _, err := limiter.Allow(ctx, "client-1", 1, time.Minute); err != nil {
		t.Fatalf("allow: %v", err)
	}
	decision, err := limiter.Allow(ctx, "client-2", 1, time.Minute)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("unrelated key rate limited")
	}
}

func TestMemoryLimiterZeroLimitDisables(t *testing.T) {
	limiter := NewMemoryLimiter(MemoryLimiterConfig{})
	decision, err := limiter.Allow(context.Background(), "client-1", 0, time.Minute)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("zero limit must disable limiting")
	}
}
