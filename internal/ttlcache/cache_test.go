package ttlcache

import (
	"testing"
	"time"
)

func TestGetSet(t *testing.T) {
	c := New(10, time.Minute)
	c.Set("a", 1)
	v, ok := c.Get("a")
	if !ok || v.(int) != 1 {
		t.Fatalf("Get(a) = %v, %v; want 1, true", v, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Fatal("expected miss for absent key")
	}
}

func TestExpiry(t *testing.T) {
	c := New(10, 10*time.Millisecond)
	c.Set("a", 1)
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected entry to have expired")
	}
}

func TestLRUEviction(t *testing.T) {
	c := New(2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a") // touch a, making b the least-recently-used
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Fatal("expected b to be evicted as least-recently-used")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected a to survive eviction")
	}
	if _, ok := c.Get("c"); !ok {
		t.Fatal("expected c to be present")
	}
}

func TestInvalidatePattern(t *testing.T) {
	c := New(10, time.Minute)
	c.Set("providers:list", 1)
	c.Set("providers:active", 2)
	c.Set("models:list", 3)

	n := c.InvalidatePattern("providers")
	if n != 2 {
		t.Fatalf("InvalidatePattern removed %d entries, want 2", n)
	}
	if _, ok := c.Get("models:list"); !ok {
		t.Fatal("unrelated key should survive pattern invalidation")
	}
}

func TestStatsHitRate(t *testing.T) {
	c := New(10, time.Minute)
	c.Set("a", 1)
	c.Get("a")
	c.Get("missing")

	s := c.Stats()
	if s.Hits != 1 || s.Misses != 1 {
		t.Fatalf("stats = %+v, want 1 hit 1 miss", s)
	}
	if s.HitRate() != 0.5 {
		t.Fatalf("HitRate() = %v, want 0.5", s.HitRate())
	}
}
