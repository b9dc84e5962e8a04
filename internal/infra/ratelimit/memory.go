package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"provd/internal/domain"
)

// memoryLimiter is a fixed-window counter per key. Good enough for a
// single verification node; multi-node deployments use the redis limiter
// so all nodes share one window.
type memoryLimiter struct {
	mu      sync.Mutex
	now     func() time.Time
	windows map[string]*countWindow
	maxKeys int
}

type countWindow struct {
	count int
	endAt time.Time
}

type MemoryLimiterConfig struct {
	Now     func() time.Time
	MaxKeys int
}

func NewMemoryLimiter(cfg MemoryLimiterConfig) domain.RateLimiter {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = 10000
	}
	return &memoryLimiter{
		now:     cfg.Now,
		windows: make(map[string]*countWindow),
		maxKeys: cfg.MaxKeys,
	}
}

func (m *memoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (domain.RateLimitDecision, error) {
	if limit <= 0 {
		return domain.RateLimitDecision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[key]
	if ok && now.After(w.endAt) {
		delete(m.windows, key)
		ok = false
	}
	if !ok {
		if len(m.windows) >= m.maxKeys {
			m.dropExpired(now)
		}
		if len(m.windows) >= m.maxKeys {
			return domain.RateLimitDecision{}, errors.New("rate limiter capacity exceeded")
		}
		w = &countWindow{endAt: now.Add(window)}
		m.windows[key] = w
	}

	if w.count < limit {
		w.count++
		return domain.RateLimitDecision{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit - w.count,
			ResetAt:   w.endAt,
		}, nil
	}

	return domain.RateLimitDecision{
		Allowed:   false,
		Limit:     limit,
		Remaining: 0,
		ResetAt:   w.endAt,
	}, nil
}

func (m *memoryLimiter) dropExpired(now time.Time) {
	for key, w := range m.windows {
		if now.After(w.endAt) {
			delete(m.windows, key)
		}
	}
}
