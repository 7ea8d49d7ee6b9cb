package database

import (
	"context"
	"sync"

	"interp-crawler/logger"
	"interp-crawler/metrics"
)

// Batcher stages records for one collection and flushes them as a single
// upsert each time the staging area reaches Size. Close flushes whatever is
// left. A failed flush is logged and dropped; staging continues.
type Batcher struct {
	store      Upserter
	collection string
	keyField   string
	size       int
	log        logger.Interface
	metrics    *metrics.Metrics

	mu       sync.Mutex
	staging  []any
	flushes  int
	failures int
	written  int
}

func NewBatcher(store Upserter, collection, keyField string, size int, log logger.Interface, m *metrics.Metrics) *Batcher {
	if size <= 0 {
		size = 1
	}
	return &Batcher{
		store:      store,
		collection: collection,
		keyField:   keyField,
		size:       size,
		log:        log.With("collection", collection),
		metrics:    m,
		staging:    make([]any, 0, size),
	}
}

// Record stages item and flushes when the threshold is reached.
func (b *Batcher) Record(ctx context.Context, item any) {
	b.mu.Lock()
	b.staging = append(b.staging, item)
	var batch []any
	if len(b.staging) >= b.size {
		batch = b.staging
		b.staging = make([]any, 0, b.size)
	}
	b.mu.Unlock()

	if batch != nil {
		b.flush(ctx, batch)
	}
}

// Close flushes the remaining partial batch, if any.
func (b *Batcher) Close(ctx context.Context) {
	b.mu.Lock()
	batch := b.staging
	b.staging = nil
	b.mu.Unlock()

	if len(batch) > 0 {
		b.flush(ctx, batch)
	}
}

func (b *Batcher) flush(ctx context.Context, batch []any) {
	res, err := b.store.BulkUpsert(ctx, b.collection, batch, b.keyField)

	b.mu.Lock()
	if err != nil {
		b.failures++
	} else {
		b.flushes++
		b.written += len(batch)
	}
	b.mu.Unlock()

	b.metrics.ObserveFlush(b.collection, err)
	if err != nil {
		b.log.Error("batch flush failed", "size", len(batch), "error", err)
		return
	}
	b.log.Info("batch flushed", "size", len(batch), "inserted", res.Inserted, "updated", res.Updated)
}

// Flushes is the number of successful flushes.
func (b *Batcher) Flushes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushes
}

// Failures is the number of flushes the store rejected.
func (b *Batcher) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Written is the number of records in successful flushes.
func (b *Batcher) Written() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.written
}
