// Package batch buffers records for bulk insertion into a store,
// trading per-record Save latency for fewer, larger write bursts.
package batch

import (
	"fmt"
	"sync"

	"github.com/chronoindex/chronoindex/pkg/store"
	"github.com/chronoindex/chronoindex/pkg/temporal"
)

// RecordBatch buffers records up to a maximum size.
type RecordBatch struct {
	records []temporal.TemporalRecord
	mu      sync.Mutex
	maxSize int
}

// NewRecordBatch creates a new record batch.
func NewRecordBatch(maxSize int) *RecordBatch {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &RecordBatch{
		records: make([]temporal.TemporalRecord, 0, maxSize),
		maxSize: maxSize,
	}
}

// Add adds a record to the batch.
func (rb *RecordBatch) Add(rec temporal.TemporalRecord) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.records = append(rb.records, rec)
}

// AddBulk adds multiple records to the batch.
func (rb *RecordBatch) AddBulk(recs []temporal.TemporalRecord) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.records = append(rb.records, recs...)
}

// Size returns the current batch size.
func (rb *RecordBatch) Size() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return len(rb.records)
}

// IsFull checks if the batch has reached its maximum size.
func (rb *RecordBatch) IsFull() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return len(rb.records) >= rb.maxSize
}

// Flush returns and clears the batch.
func (rb *RecordBatch) Flush() []temporal.TemporalRecord {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if len(rb.records) == 0 {
		return nil
	}

	result := make([]temporal.TemporalRecord, len(rb.records))
	copy(result, rb.records)
	rb.records = rb.records[:0]

	return result
}

// BatchProcessor buffers records and flushes them into a store, either
// on demand or automatically once the batch is full.
type BatchProcessor struct {
	batch     *RecordBatch
	store     *store.Store
	autoFlush bool
	mu        sync.Mutex
}

// NewBatchProcessor creates a batch processor writing into s.
func NewBatchProcessor(maxSize int, autoFlush bool, s *store.Store) *BatchProcessor {
	return &BatchProcessor{
		batch:     NewRecordBatch(maxSize),
		store:     s,
		autoFlush: autoFlush,
	}
}

// AddRecord adds a record and flushes if auto-flush is enabled and the
// batch is now full.
func (bp *BatchProcessor) AddRecord(rec temporal.TemporalRecord) error {
	bp.batch.Add(rec)

	if bp.autoFlush && bp.batch.IsFull() {
		return bp.Flush()
	}
	return nil
}

// AddBulk adds multiple records and flushes if auto-flush is enabled
// and the batch is now full.
func (bp *BatchProcessor) AddBulk(recs []temporal.TemporalRecord) error {
	bp.batch.AddBulk(recs)

	if bp.autoFlush && bp.batch.IsFull() {
		return bp.Flush()
	}
	return nil
}

// Flush saves every buffered record, collecting the first error
// encountered but continuing to attempt the rest.
func (bp *BatchProcessor) Flush() error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	records := bp.batch.Flush()
	if len(records) == 0 {
		return nil
	}

	var firstErr error
	failed := 0
	for _, rec := range records {
		if err := bp.store.Save(rec); err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr != nil {
		return fmt.Errorf("batch flush: %d of %d records failed, first error: %w", failed, len(records), firstErr)
	}
	return nil
}

// Stats returns batch processor statistics.
func (bp *BatchProcessor) Stats() BatchStats {
	return BatchStats{BatchSize: bp.batch.Size()}
}

// BatchStats holds batch processor statistics.
type BatchStats struct {
	BatchSize int
}
