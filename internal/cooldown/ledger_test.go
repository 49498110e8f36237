package cooldown

import (
	"testing"
	"time"
)

func TestPenalizeCreatesEntryAtInitialFloor(t *testing.T) {
	l := New(time.Minute, time.Hour, 3, time.Minute, nil)
	l.Penalize("p1", "gpt-4o", 10, false)

	e, ok := l.Get("p1", "gpt-4o")
	if !ok {
		t.Fatal("expected entry to exist")
	}
	if e.BackoffMs != time.Minute.Milliseconds() {
		t.Fatalf("BackoffMs = %d, want floor of %d", e.BackoffMs, time.Minute.Milliseconds())
	}
}

func TestPenalizeDoublesExistingBackoff(t *testing.T) {
	l := New(time.Minute, time.Hour, 3, time.Minute, nil)
	l.Penalize("p1", "gpt-4o", 10, false)
	l.Penalize("p1", "gpt-4o", 10, false)

	e, _ := l.Get("p1", "gpt-4o")
	if e.BackoffMs != 2*time.Minute.Milliseconds() {
		t.Fatalf("BackoffMs = %d, want %d", e.BackoffMs, 2*time.Minute.Milliseconds())
	}
}

func TestPenalizeCapsAtMax(t *testing.T) {
	l := New(time.Minute, 90*time.Second, 10, time.Minute, nil)
	for i := 0; i < 5; i++ {
		l.Penalize("p1", "gpt-4o", 10, false)
	}
	e, _ := l.Get("p1", "gpt-4o")
	if e.BackoffMs != 90*time.Second.Milliseconds() {
		t.Fatalf("BackoffMs = %d, want capped at %d", e.BackoffMs, 90*time.Second.Milliseconds())
	}
}

func TestResyncTriggeredAfterThreshold(t *testing.T) {
	var triggered []string
	l := New(time.Minute, time.Hour, 2, time.Minute, func(providerID string) {
		triggered = append(triggered, providerID)
	})
	l.Penalize("p1", "gpt-4o", 10, false)
	l.Penalize("p1", "gpt-4o", 10, false)

	// onResync runs in its own goroutine; give it a moment.
	time.Sleep(20 * time.Millisecond)
	if len(triggered) != 1 || triggered[0] != "p1" {
		t.Fatalf("triggered = %v, want one resync for p1", triggered)
	}
}

func TestDeleteClearsEntry(t *testing.T) {
	l := New(time.Minute, time.Hour, 3, time.Minute, nil)
	l.Penalize("p1", "gpt-4o", 10, false)
	l.Delete("p1", "gpt-4o")
	if _, ok := l.Get("p1", "gpt-4o"); ok {
		t.Fatal("expected entry to be deleted")
	}
}

func TestAllReturnsEverySnapshotEntry(t *testing.T) {
	l := New(time.Minute, time.Hour, 3, time.Minute, nil)
	l.Penalize("p1", "gpt-4o", 10, false)
	l.Penalize("p2", "claude-3", 10, false)

	all := l.All()
	if len(all) != 2 {
		t.Fatalf("len(All()) = %d, want 2", len(all))
	}
	if _, ok := all[key("p1", "gpt-4o")]; !ok {
		t.Fatal("expected entry for p1/gpt-4o")
	}
	if _, ok := all[key("p2", "claude-3")]; !ok {
		t.Fatal("expected entry for p2/claude-3")
	}
}

func TestClearRemovesEntryAndResetsBackoff(t *testing.T) {
	l := New(time.Minute, time.Hour, 3, time.Minute, nil)
	l.Penalize("p1", "gpt-4o", 10, false)
	l.Penalize("p1", "gpt-4o", 10, false) // backoff now doubled

	l.Clear("p1", "gpt-4o")
	if _, ok := l.Get("p1", "gpt-4o"); ok {
		t.Fatal("expected entry to be cleared")
	}

	// A fresh penalty after Clear should start back at the floor, proving
	// the doubled backoff went away with the entry.
	l.Penalize("p1", "gpt-4o", 10, false)
	e, _ := l.Get("p1", "gpt-4o")
	if e.BackoffMs != time.Minute.Milliseconds() {
		t.Fatalf("BackoffMs after Clear+Penalize = %d, want floor of %d", e.BackoffMs, time.Minute.Milliseconds())
	}
}
