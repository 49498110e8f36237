// Package breaker implements a three-state circuit breaker, keyed per
// arbitrary string (the dispatcher keys it "provider:<id>").
package breaker

import (
	"sync"
	"time"
)

// State is one of the three breaker states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Stats is a per-key circuit breaker state snapshot.
type Stats struct {
	State            State
	FailureCount     int
	SuccessCount     int
	LastFailureTime  time.Time
	OpenedAt         time.Time
}

func (s *Stats) reset() {
	s.FailureCount = 0
	s.SuccessCount = 0
}

// Breaker tracks circuit state for a set of keys, sharing the same
// thresholds across all of them.
type Breaker struct {
	failureThreshold int
	recoveryTimeout  time.Duration
	successThreshold int

	mu    sync.Mutex
	stats map[string]*Stats
}

// Default breaker thresholds.
const (
	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 30 * time.Second
	DefaultSuccessThreshold = 2
)

// New creates a Breaker with the given thresholds.
func New(failureThreshold int, recoveryTimeout time.Duration, successThreshold int) *Breaker {
	return &Breaker{
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		successThreshold: successThreshold,
		stats:            make(map[string]*Stats),
	}
}

func (b *Breaker) statsLocked(key string) *Stats {
	s, ok := b.stats[key]
	if !ok {
		s = &Stats{State: Closed}
		b.stats[key] = s
	}
	return s
}

// Allow reports whether a request for key may proceed. A call that finds
// the breaker open and past its recovery timeout atomically transitions
// it to half_open and returns true (the single allowed probe).
func (b *Breaker) Allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.statsLocked(key)
	switch s.State {
	case Closed:
		return true
	case HalfOpen:
		return true
	case Open:
		if time.Since(s.OpenedAt) >= b.recoveryTimeout {
			s.State = HalfOpen
			s.reset()
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess reports a successful outcome for key.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.statsLocked(key)
	switch s.State {
	case HalfOpen:
		s.SuccessCount++
		if s.SuccessCount >= b.successThreshold {
			s.State = Closed
			s.reset()
		}
	case Closed:
		s.FailureCount = 0
	}
}

// RecordFailure reports a failed outcome for key.
func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.statsLocked(key)
	now := time.Now()
	s.LastFailureTime = now
	s.FailureCount++

	switch s.State {
	case HalfOpen:
		s.State = Open
		s.OpenedAt = now
		s.reset()
	case Closed:
		if s.FailureCount >= b.failureThreshold {
			s.State = Open
			s.OpenedAt = now
		}
	}
}

// Snapshot returns a copy of the current stats for key.
func (b *Breaker) Snapshot(key string) Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return *b.statsLocked(key)
}

// Reset forces key back to the closed state, clearing its counters.
func (b *Breaker) Reset(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.stats, key)
}

// All returns a snapshot of every tracked key's stats, for admin/health
// reporting.
func (b *Breaker) All() map[string]Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]Stats, len(b.stats))
	for k, s := range b.stats {
		out[k] = *s
	}
	return out
}
