package dispatcher

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hermesgw/hermes/internal/breaker"
	"github.com/hermesgw/hermes/internal/cooldown"
	"github.com/hermesgw/hermes/internal/providers"
	"github.com/hermesgw/hermes/internal/routerscore"
)

type fakeCatalog struct {
	records []providers.Record
}

func (f *fakeCatalog) List(ctx context.Context) ([]providers.Record, error) { return f.records, nil }
func (f *fakeCatalog) TriggerResync(ctx context.Context, id string)         {}

func newTestDispatcher(recs []providers.Record) *Dispatcher {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ledger := cooldown.New(time.Minute, time.Hour, 3, time.Minute, nil)
	br := breaker.New(5, 30*time.Second, 2)
	sc := routerscore.New()
	return New(&fakeCatalog{records: recs}, ledger, br, sc, log)
}

func TestSelectNoSupportingProvider(t *testing.T) {
	d := newTestDispatcher([]providers.Record{
		{ID: "p1", Status: providers.StatusActive, Models: []string{"claude-3-opus"}, LastSyncedAt: time.Now()},
	})
	_, ok, err := d.Select(context.Background(), "gpt-4o", nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if ok {
		t.Fatal("expected no selection for unsupported model family")
	}
}

func TestSelectPicksRecentlySyncedProvider(t *testing.T) {
	d := newTestDispatcher([]providers.Record{
		{ID: "p1", Status: providers.StatusActive, Models: []string{"gpt-4o"}, LastSyncedAt: time.Now()},
	})
	sel, ok, err := d.Select(context.Background(), "gpt-4o", nil)
	if err != nil || !ok {
		t.Fatalf("Select: ok=%v err=%v", ok, err)
	}
	if sel.Provider.ID != "p1" || sel.ResolvedModel != "gpt-4o" {
		t.Fatalf("sel = %+v", sel)
	}
}

func TestSelectExcludesProvider(t *testing.T) {
	d := newTestDispatcher([]providers.Record{
		{ID: "p1", Status: providers.StatusActive, Models: []string{"gpt-4o"}, LastSyncedAt: time.Now()},
	})
	_, ok, err := d.Select(context.Background(), "gpt-4o", map[string]struct{}{"p1": {}})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if ok {
		t.Fatal("expected excluded provider to yield no selection")
	}
}

func TestSelectSkipsOpenBreaker(t *testing.T) {
	d := newTestDispatcher([]providers.Record{
		{ID: "p1", Status: providers.StatusActive, Models: []string{"gpt-4o"}, LastSyncedAt: time.Now()},
	})
	for i := 0; i < 5; i++ {
		d.breaker.RecordFailure(providers.CircuitKey("p1"))
	}
	_, ok, err := d.Select(context.Background(), "gpt-4o", nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if ok {
		t.Fatal("expected open-breaker provider to be skipped")
	}
}

func TestSelectRespectsActiveCooldown(t *testing.T) {
	d := newTestDispatcher([]providers.Record{
		{ID: "p1", Status: providers.StatusActive, Models: []string{"gpt-4o"}, LastSyncedAt: time.Now().Add(-time.Hour)},
	})
	d.cooldown.Penalize("p1", "gpt-4o", 1000, false)
	_, ok, err := d.Select(context.Background(), "gpt-4o", nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if ok {
		t.Fatal("expected provider under active cooldown to be skipped")
	}
}
