package logbatch

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hermesgw/hermes/internal/store"
)

type fakeInserter struct {
	mu       sync.Mutex
	requests []store.RequestLogRow
	syncs    []store.SyncLogRow
	calls    int
}

func (f *fakeInserter) InsertLogBatch(ctx context.Context, requests []store.RequestLogRow, syncs []store.SyncLogRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, requests...)
	f.syncs = append(f.syncs, syncs...)
	f.calls++
	return nil
}

func newTestBatcher(ins *fakeInserter, batchSize int, interval time.Duration) *Batcher {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(ins, batchSize, interval, log)
}

func TestFlushOnBatchSize(t *testing.T) {
	ins := &fakeInserter{}
	b := newTestBatcher(ins, 3, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)
	defer cancel()

	for i := 0; i < 3; i++ {
		b.AddRequest(store.RequestLogRow{ID: "r"})
	}

	deadline := time.After(time.Second)
	for {
		ins.mu.Lock()
		n := len(ins.requests)
		ins.mu.Unlock()
		if n == 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected 3 flushed requests, got %d", n)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestFlushOnInterval(t *testing.T) {
	ins := &fakeInserter{}
	b := newTestBatcher(ins, 1000, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)
	defer cancel()

	b.AddSync(store.SyncLogRow{ID: "s1"})

	deadline := time.After(time.Second)
	for {
		ins.mu.Lock()
		n := len(ins.syncs)
		ins.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("expected interval flush to deliver sync row")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestQueueDropsWhenFull(t *testing.T) {
	ins := &fakeInserter{}
	b := newTestBatcher(ins, 1_000_000, time.Hour) // never auto-flush

	for i := 0; i < queueCapacity+50; i++ {
		b.AddRequest(store.RequestLogRow{ID: "r"})
	}

	b.mu.Lock()
	n := len(b.requests)
	b.mu.Unlock()
	if n != queueCapacity {
		t.Fatalf("queued = %d, want %d", n, queueCapacity)
	}
}
