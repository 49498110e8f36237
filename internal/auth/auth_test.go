package auth

import (
	"context"
	"testing"

	"github.com/hermesgw/hermes/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open("file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestExtractBearer(t *testing.T) {
	tok, ok := ExtractBearer("Bearer sk-abc123")
	if !ok || tok != "sk-abc123" {
		t.Fatalf("tok=%q ok=%v", tok, ok)
	}
	if _, ok := ExtractBearer("Basic abc"); ok {
		t.Fatal("expected non-bearer scheme to fail")
	}
	if _, ok := ExtractBearer("Bearer "); ok {
		t.Fatal("expected empty token to fail")
	}
}

func TestVerifyAcceptsIssuedKey(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	raw := "sk-issued-test-key"
	if err := s.InsertKey(ctx, store.KeyRecord{ID: "k1", KeyHash: HashKey(raw), Description: "test"}); err != nil {
		t.Fatalf("InsertKey: %v", err)
	}

	a := New(s, "")
	if !a.Verify(ctx, raw) {
		t.Fatal("expected issued key to verify")
	}
	if a.Verify(ctx, "wrong-key") {
		t.Fatal("expected wrong key to fail verification")
	}
}

func TestVerifyAcceptsStaticSecret(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a := New(s, "static-secret")
	if !a.Verify(ctx, "static-secret") {
		t.Fatal("expected static secret to verify")
	}
}
