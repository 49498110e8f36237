// Package cooldown implements a per-(provider,model) exponential
// backoff ledger and penalty counter.
package cooldown

import (
	"sync"
	"time"
)

// Default backoff and resync-trigger parameters.
const (
	DefaultInitialPenalty = 30 * time.Minute
	DefaultMaxPenalty     = 4 * time.Hour
	DefaultResyncThreshold = 3
	DefaultResyncCooldown  = 10 * time.Minute
)

// Entry is a single cooldown record.
type Entry struct {
	Until     time.Time
	BackoffMs int64
	Force     bool
}

type penalty struct {
	count      int
	lastResync time.Time
}

// ResyncFunc is invoked (in its own goroutine) when a provider's penalty
// count crosses the resync threshold.
type ResyncFunc func(providerID string)

// Ledger tracks cooldown entries and penalty counters keyed by
// "<providerID>:<model>".
type Ledger struct {
	initialPenalty  time.Duration
	maxPenalty      time.Duration
	resyncThreshold int
	resyncCooldown  time.Duration
	onResync        ResyncFunc

	mu        sync.Mutex
	entries   map[string]*Entry
	penalties map[string]*penalty
}

// New creates a Ledger. onResync may be nil if resync triggering is not
// wired (e.g. in tests).
func New(initialPenalty, maxPenalty time.Duration, resyncThreshold int, resyncCooldown time.Duration, onResync ResyncFunc) *Ledger {
	return &Ledger{
		initialPenalty:  initialPenalty,
		maxPenalty:      maxPenalty,
		resyncThreshold: resyncThreshold,
		resyncCooldown:  resyncCooldown,
		onResync:        onResync,
		entries:         make(map[string]*Entry),
		penalties:       make(map[string]*penalty),
	}
}

func key(providerID, model string) string {
	return providerID + ":" + model
}

// Get returns the cooldown entry for (providerID, model), if any.
func (l *Ledger) Get(providerID, model string) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key(providerID, model)]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Delete clears the cooldown entry for (providerID, model), e.g. after a
// successful self-healing probe or a fresh catalog sync.
func (l *Ledger) Delete(providerID, model string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key(providerID, model))
}

// Penalize records a failure for (providerID, model). durationMs is the
// backoff applied when no entry yet exists, raised to the ledger's
// initial penalty if smaller; force marks an operator-issued penalty that
// survives a later "trust the fresh sync" check.
func (l *Ledger) Penalize(providerID, model string, durationMs int64, force bool) {
	l.mu.Lock()

	k := key(providerID, model)
	existing, hasEntry := l.entries[k]

	var backoffMs int64
	if hasEntry {
		backoffMs = existing.BackoffMs * 2
		if backoffMs > l.maxPenalty.Milliseconds() {
			backoffMs = l.maxPenalty.Milliseconds()
		}
	} else {
		backoffMs = durationMs
		if backoffMs < l.initialPenalty.Milliseconds() {
			backoffMs = l.initialPenalty.Milliseconds()
		}
	}

	l.entries[k] = &Entry{
		Until:     time.Now().Add(time.Duration(backoffMs) * time.Millisecond),
		BackoffMs: backoffMs,
		Force:     force,
	}

	p, ok := l.penalties[k]
	if !ok {
		p = &penalty{}
		l.penalties[k] = p
	}
	p.count++

	triggerResync := false
	if p.count >= l.resyncThreshold && time.Since(p.lastResync) >= l.resyncCooldown {
		p.lastResync = time.Now()
		p.count = 0
		triggerResync = true
	}
	l.mu.Unlock()

	if triggerResync && l.onResync != nil {
		go l.onResync(providerID)
	}
}

// All returns a snapshot of every active cooldown entry, keyed by
// "<providerID>:<model>", for admin inspection.
func (l *Ledger) All() map[string]Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]Entry, len(l.entries))
	for k, e := range l.entries {
		out[k] = *e
	}
	return out
}

// Clear removes the cooldown entry and penalty counter for
// (providerID, model), used by the admin "clear cooldown" action.
func (l *Ledger) Clear(providerID, model string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := key(providerID, model)
	delete(l.entries, k)
	delete(l.penalties, k)
}

// DoubleBackoff doubles the existing backoff (capped at maxPenalty) for
// a cooldown entry whose self-healing probe just failed, resetting
// Until. It is a no-op if no entry exists.
func (l *Ledger) DoubleBackoff(providerID, model string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := key(providerID, model)
	e, ok := l.entries[k]
	if !ok {
		return
	}
	backoffMs := e.BackoffMs * 2
	if backoffMs > l.maxPenalty.Milliseconds() {
		backoffMs = l.maxPenalty.Milliseconds()
	}
	e.BackoffMs = backoffMs
	e.Until = time.Now().Add(time.Duration(backoffMs) * time.Millisecond)
}
