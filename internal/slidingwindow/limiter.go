// Package slidingwindow implements a per-key edge rate limiter: a fixed
// window divided into equal slots, counted per key.
package slidingwindow

import (
	"sync"
	"time"
)

// Limiter is a slot-indexed sliding-window rate limiter. The zero value
// is not usable; construct with New.
type Limiter struct {
	maxRequests     int
	windowSeconds   float64
	slotCount       int
	slotDuration    float64
	cleanupInterval time.Duration

	mu          sync.Mutex
	windows     map[string]map[int64]int
	lastCleanup time.Time
}

// Result is the outcome of a Check call.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
	RetryAfter time.Duration
}

// New creates a Limiter allowing maxRequests per window (seconds),
// subdivided into slotCount slots, with cleanup every cleanupInterval.
func New(maxRequests int, windowSeconds float64, slotCount int, cleanupInterval time.Duration) *Limiter {
	return &Limiter{
		maxRequests:     maxRequests,
		windowSeconds:   windowSeconds,
		slotCount:       slotCount,
		slotDuration:    windowSeconds / float64(slotCount),
		cleanupInterval: cleanupInterval,
		windows:         make(map[string]map[int64]int),
		lastCleanup:     time.Now(),
	}
}

func (l *Limiter) currentSlot(now time.Time) int64 {
	return int64(float64(now.UnixNano()) / float64(time.Second) / l.slotDuration)
}

// Check records one request attempt for key and reports whether it is
// allowed under the sliding window.
func (l *Limiter) Check(key string) Result {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cleanupIfNeeded(now)

	current := l.currentSlot(now)
	slots := l.windows[key]
	if slots == nil {
		slots = make(map[int64]int)
		l.windows[key] = slots
	}

	windowStart := current - int64(l.slotCount) + 1
	count := 0
	for slot := windowStart; slot <= current; slot++ {
		count += slots[slot]
	}

	resetAt := slotTime(current+1, l.slotDuration)

	if count >= l.maxRequests {
		retryAfter := resetAt.Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		return Result{Allowed: false, Remaining: 0, ResetAt: resetAt, RetryAfter: retryAfter}
	}

	slots[current]++
	remaining := l.maxRequests - count - 1
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: true, Remaining: remaining, ResetAt: resetAt}
}

func slotTime(slot int64, slotDuration float64) time.Time {
	seconds := float64(slot) * slotDuration
	return time.Unix(0, int64(seconds*float64(time.Second)))
}

// cleanupIfNeeded drops expired slots and empty keys. Must be called with
// l.mu held.
func (l *Limiter) cleanupIfNeeded(now time.Time) {
	if now.Sub(l.lastCleanup) < l.cleanupInterval {
		return
	}
	l.lastCleanup = now

	current := l.currentSlot(now)
	cutoff := current - int64(l.slotCount)

	for key, slots := range l.windows {
		for slot := range slots {
			if slot < cutoff {
				delete(slots, slot)
			}
		}
		if len(slots) == 0 {
			delete(l.windows, key)
		}
	}
}
