package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	minuteWindow = time.Minute
	hourWindow   = time.Hour
)

// Limiter is sliding-window admission control per session. Allow reports
// whether the request is admitted; a rejection must be surfaced to the caller,
// never swallowed. Budgets of zero always reject.
type Limiter interface {
	Allow(ctx context.Context, sessionID string, perMinute, perHour int) bool
	Clear(ctx context.Context, sessionID string)
}

// MemoryLimiter tracks request timestamps per session in process memory.
// Counting a trailing window is deliberately stricter than fixed-bucket
// counting (no boundary burst doubling) and simpler than a token bucket.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	now     func() time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		windows: make(map[string][]time.Time),
		now:     time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, sessionID string, perMinute, perHour int) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	// Prune anything older than the hour window; the slice stays sorted.
	window := l.windows[sessionID]
	kept := window[:0]
	for _, ts := range window {
		if now.Sub(ts) < hourWindow {
			kept = append(kept, ts)
		}
	}

	recentMinute := 0
	for i := len(kept) - 1; i >= 0; i-- {
		if now.Sub(kept[i]) >= minuteWindow {
			break
		}
		recentMinute++
	}

	if recentMinute >= perMinute || len(kept) >= perHour {
		l.windows[sessionID] = kept
		return false
	}

	l.windows[sessionID] = append(kept, now)
	return true
}

func (l *MemoryLimiter) Clear(_ context.Context, sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, sessionID)
}
