package collab

import (
	"sync"
	"time"
)

// SlidingWindowLimiter admits at most limit requests per key within a
// trailing window. Rejected requests are not recorded, so a client that
// keeps hammering does not push its own window forward.
type SlidingWindowLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	limit   int
	hits    map[string][]time.Time
	timeNow func() time.Time
}

// NewSlidingWindowLimiter constructs a limiter with the given window and
// per-key limit.
func NewSlidingWindowLimiter(window time.Duration, limit int) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		window:  window,
		limit:   limit,
		hits:    make(map[string][]time.Time),
		timeNow: time.Now,
	}
}

// Allow reports whether a request for key is admitted. Timestamps older
// than the trailing window are dropped before the check either way.
func (l *SlidingWindowLimiter) Allow(key string) bool {
	now := l.timeNow()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.hits[key][:0]
	for _, t := range l.hits[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= l.limit {
		l.hits[key] = kept
		return false
	}

	l.hits[key] = append(kept, now)
	return true
}

// Cleanup drops keys whose recorded timestamps have all aged out of the
// window, bounding memory to recently active keys.
func (l *SlidingWindowLimiter) Cleanup() {
	cutoff := l.timeNow().Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, hits := range l.hits {
		kept := hits[:0]
		for _, t := range hits {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		if len(kept) == 0 {
			delete(l.hits, key)
			continue
		}
		l.hits[key] = kept
	}
}

// Keys returns the number of tracked keys, primarily for tests and metrics.
func (l *SlidingWindowLimiter) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hits)
}
