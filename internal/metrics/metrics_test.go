package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewRegistersWithoutPanic(t *testing.T) {
	r := New()
	if r.PromRegistry() == nil {
		t.Fatal("expected a non-nil prometheus registry")
	}
	if r.Handler() == nil {
		t.Fatal("expected a non-nil /metrics handler")
	}
}

func TestObserveHTTPIncrementsCounters(t *testing.T) {
	r := New()
	r.ObserveHTTP("/v1/chat/completions", 200, 15*time.Millisecond)
	r.ObserveHTTP("/v1/chat/completions", 200, 20*time.Millisecond)

	got := testutil.ToFloat64(r.httpRequestsTotal.WithLabelValues("/v1/chat/completions", "200"))
	if got != 2 {
		t.Fatalf("httpRequestsTotal = %v, want 2", got)
	}
}

func TestObserveUpstreamAttempt(t *testing.T) {
	r := New()
	r.ObserveUpstreamAttempt("openrouter", "gpt-4o", "success", 120*time.Millisecond)

	got := testutil.ToFloat64(r.upstreamAttempts.WithLabelValues("openrouter", "gpt-4o", "success"))
	if got != 1 {
		t.Fatalf("upstreamAttempts = %v, want 1", got)
	}
}

func TestCacheHitMiss(t *testing.T) {
	r := New()
	r.CacheHit("providers")
	r.CacheHit("providers")
	r.CacheMiss("providers")

	if got := testutil.ToFloat64(r.cacheOps.WithLabelValues("providers", "hit")); got != 2 {
		t.Fatalf("cache hits = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.cacheOps.WithLabelValues("providers", "miss")); got != 1 {
		t.Fatalf("cache misses = %v, want 1", got)
	}
}

func TestSetCircuitBreakerOnlyCountsRealTransitions(t *testing.T) {
	r := New()
	r.SetCircuitBreaker("openrouter", 1) // closed -> open
	r.SetCircuitBreaker("openrouter", 1) // no change
	r.SetCircuitBreaker("openrouter", 0) // open -> closed

	if got := testutil.ToFloat64(r.circuitBreakerState.WithLabelValues("openrouter")); got != 0 {
		t.Fatalf("circuitBreakerState = %v, want 0", got)
	}
	if got := testutil.ToFloat64(r.cbTransitions.WithLabelValues("openrouter", "1")); got != 1 {
		t.Fatalf("transitions to state 1 = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.cbTransitions.WithLabelValues("openrouter", "0")); got != 1 {
		t.Fatalf("transitions to state 0 = %v, want 1", got)
	}
}

func TestRecordRateLimit(t *testing.T) {
	r := New()
	r.RecordRateLimit("allowed")
	r.RecordRateLimit("rejected")
	r.RecordRateLimit("rejected")

	if got := testutil.ToFloat64(r.rateLimitTotal.WithLabelValues("rejected")); got != 2 {
		t.Fatalf("rejected = %v, want 2", got)
	}
}
