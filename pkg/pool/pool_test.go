package pool

import (
	"testing"
	"time"

	"github.com/chronoindex/chronoindex/pkg/temporal"
)

func TestVectorPoolReturnsZeroedBuffer(t *testing.T) {
	vp := NewVectorPool()
	v := vp.Get(8)
	if len(v) != 8 {
		t.Fatalf("expected length 8, got %d", len(v))
	}
	for _, x := range v {
		if x != 0 {
			t.Fatalf("expected zeroed buffer, got %v", v)
		}
	}
	v[0] = 1
	vp.Put(v)

	v2 := vp.Get(8)
	if v2[0] != 0 {
		t.Fatalf("expected reused buffer to be cleared, got %v", v2)
	}
}

func TestBufferPoolSizeClasses(t *testing.T) {
	bp := NewBufferPool()
	small := bp.Get(100)
	if len(small) != 100 {
		t.Fatalf("expected length 100, got %d", len(small))
	}
	bp.Put(small)

	large := bp.Get(2 * 1024 * 1024)
	if len(large) != 2*1024*1024 {
		t.Fatalf("expected unpooled oversized buffer, got len %d", len(large))
	}
}

func TestQueryResultPoolResets(t *testing.T) {
	qp := NewQueryResultPool()
	r := qp.Get()
	r.Records = append(r.Records, temporal.TemporalRecord{
		Vector: temporal.Vector{ID: "a"},
		Attributes: temporal.MemoryAttributes{
			CreatedAt:  time.Now(),
			LastAccess: time.Now(),
		},
	})
	r.Scores = append(r.Scores, 0.1)
	qp.Put(r)

	r2 := qp.Get()
	if len(r2.Records) != 0 || len(r2.Scores) != 0 {
		t.Fatalf("expected reused query result to be empty, got %d records, %d scores", len(r2.Records), len(r2.Scores))
	}
}
