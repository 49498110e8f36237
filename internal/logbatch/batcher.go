// Package logbatch buffers request and sync log rows in memory and
// flushes them to the store in bounded batches, so the hot request
// path never blocks on a database write.
package logbatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hermesgw/hermes/internal/store"
)

const (
	queueCapacity        = 2000
	DefaultBatchSize     = 50
	DefaultFlushInterval = 5 * time.Second
)

// Inserter is the persistence capability the batcher needs.
type Inserter interface {
	InsertLogBatch(ctx context.Context, requests []store.RequestLogRow, syncs []store.SyncLogRow) error
}

// Batcher accumulates log rows and flushes them on a size or time
// trigger, whichever comes first.
type Batcher struct {
	store         Inserter
	log           *slog.Logger
	batchSize     int
	flushInterval time.Duration

	mu       sync.Mutex
	requests []store.RequestLogRow
	syncs    []store.SyncLogRow
	flushCh  chan struct{}
}

// New creates a Batcher with the given thresholds. A zero batchSize or
// flushInterval falls back to the package defaults.
func New(st Inserter, batchSize int, flushInterval time.Duration, log *slog.Logger) *Batcher {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}
	return &Batcher{
		store:         st,
		log:           log,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		flushCh:       make(chan struct{}, 1),
	}
}

// AddRequest appends a request log row. Once the combined queue
// reaches batchSize, a flush is scheduled; if the queue is already at
// capacity the row is dropped and logged at warn level.
func (b *Batcher) AddRequest(row store.RequestLogRow) {
	b.mu.Lock()
	full := len(b.requests)+len(b.syncs) >= queueCapacity
	if !full {
		b.requests = append(b.requests, row)
	}
	trigger := len(b.requests)+len(b.syncs) >= b.batchSize
	b.mu.Unlock()

	if full {
		b.log.Warn("logbatch: queue full, dropping request log row", slog.String("id", row.ID))
		return
	}
	if trigger {
		b.scheduleFlush()
	}
}

// AddSync appends a sync log row, following the same backpressure rule
// as AddRequest.
func (b *Batcher) AddSync(row store.SyncLogRow) {
	b.mu.Lock()
	full := len(b.requests)+len(b.syncs) >= queueCapacity
	if !full {
		b.syncs = append(b.syncs, row)
	}
	trigger := len(b.requests)+len(b.syncs) >= b.batchSize
	b.mu.Unlock()

	if full {
		b.log.Warn("logbatch: queue full, dropping sync log row", slog.String("id", row.ID))
		return
	}
	if trigger {
		b.scheduleFlush()
	}
}

func (b *Batcher) scheduleFlush() {
	select {
	case b.flushCh <- struct{}{}:
	default:
	}
}

// Run drives the periodic flush loop. It blocks until ctx is canceled,
// performing one final flush before returning.
func (b *Batcher) Run(ctx context.Context) {
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			b.flush(context.Background())
			return
		case <-ticker.C:
			b.flush(ctx)
		case <-b.flushCh:
			b.flush(ctx)
		}
	}
}

func (b *Batcher) flush(ctx context.Context) {
	b.mu.Lock()
	requests := b.requests
	syncs := b.syncs
	b.requests = nil
	b.syncs = nil
	b.mu.Unlock()

	if len(requests) == 0 && len(syncs) == 0 {
		return
	}
	if err := b.store.InsertLogBatch(ctx, requests, syncs); err != nil {
		b.log.Error("logbatch: flush failed", slog.Int("requests", len(requests)), slog.Int("syncs", len(syncs)), slog.String("error", err.Error()))
	}
}
