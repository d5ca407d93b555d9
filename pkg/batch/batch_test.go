package batch

import (
	"fmt"
	"testing"
	"time"

	"github.com/chronoindex/chronoindex/pkg/config"
	"github.com/chronoindex/chronoindex/pkg/store"
	"github.com/chronoindex/chronoindex/pkg/temporal"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Dimension = 4
	cfg.MaxMemories = 10000
	s, err := store.New(cfg, nil, nil)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	return s
}

func testRecord(id string) temporal.TemporalRecord {
	now := time.Now()
	return temporal.TemporalRecord{
		Vector: temporal.Vector{ID: id, Data: []float32{1, 0, 0, 0}},
		Attributes: temporal.MemoryAttributes{
			CreatedAt:     now,
			LastAccess:    now,
			Importance:    0.5,
			Context:       "default",
			DecayRate:     0.1,
			Relationships: map[string]struct{}{},
		},
	}
}

func TestRecordBatchFlushReturnsAndClears(t *testing.T) {
	rb := NewRecordBatch(10)
	rb.Add(testRecord("a"))
	rb.Add(testRecord("b"))

	if rb.Size() != 2 {
		t.Fatalf("size = %d, want 2", rb.Size())
	}

	flushed := rb.Flush()
	if len(flushed) != 2 {
		t.Fatalf("flushed = %d, want 2", len(flushed))
	}
	if rb.Size() != 0 {
		t.Fatalf("size after flush = %d, want 0", rb.Size())
	}
}

func TestRecordBatchIsFull(t *testing.T) {
	rb := NewRecordBatch(2)
	rb.Add(testRecord("a"))
	if rb.IsFull() {
		t.Fatal("expected not full at size 1 of 2")
	}
	rb.Add(testRecord("b"))
	if !rb.IsFull() {
		t.Fatal("expected full at size 2 of 2")
	}
}

func TestBatchProcessorAutoFlushSavesToStore(t *testing.T) {
	s := newTestStore(t)
	bp := NewBatchProcessor(3, true, s)

	for i := 0; i < 3; i++ {
		if err := bp.AddRecord(testRecord(fmt.Sprintf("rec-%d", i))); err != nil {
			t.Fatalf("AddRecord: %v", err)
		}
	}

	if bp.Stats().BatchSize != 0 {
		t.Fatalf("expected batch drained after auto-flush, got size %d", bp.Stats().BatchSize)
	}
	for i := 0; i < 3; i++ {
		if _, err := s.Get(fmt.Sprintf("rec-%d", i)); err != nil {
			t.Errorf("record %d not saved: %v", i, err)
		}
	}
}

func TestBatchProcessorManualFlush(t *testing.T) {
	s := newTestStore(t)
	bp := NewBatchProcessor(100, false, s)

	if err := bp.AddRecord(testRecord("x")); err != nil {
		t.Fatalf("AddRecord: %v", err)
	}
	if bp.Stats().BatchSize != 1 {
		t.Fatalf("expected record buffered, size = %d", bp.Stats().BatchSize)
	}

	if err := bp.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if _, err := s.Get("x"); err != nil {
		t.Fatalf("record not saved after manual flush: %v", err)
	}
}
