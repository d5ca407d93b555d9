// Package pool provides sync.Pool-backed allocation pools for the
// memory store's hot paths: per-dimension vector buffers, byte buffers
// for the snapshot codec, and the scored-result buckets a query scan
// assembles before copying out a caller-owned slice.
package pool

import (
	"sync"

	"github.com/chronoindex/chronoindex/pkg/temporal"
)

// VectorPool manages reusable float32 slices for vectors, keyed by
// dimension since a store instance is fixed-dimension but tests and
// multi-tenant embeddings may not share one.
type VectorPool struct {
	pools map[int]*sync.Pool
	mu    sync.RWMutex
}

// NewVectorPool creates a new vector pool.
func NewVectorPool() *VectorPool {
	return &VectorPool{
		pools: make(map[int]*sync.Pool),
	}
}

// Get retrieves a zeroed vector of the given dimension from the pool.
func (vp *VectorPool) Get(dimension int) []float32 {
	vp.mu.RLock()
	p, ok := vp.pools[dimension]
	vp.mu.RUnlock()

	if !ok {
		vp.mu.Lock()
		p, ok = vp.pools[dimension]
		if !ok {
			p = &sync.Pool{
				New: func() interface{} {
					vec := make([]float32, dimension)
					return &vec
				},
			}
			vp.pools[dimension] = p
		}
		vp.mu.Unlock()
	}

	vecPtr := p.Get().(*[]float32)
	vec := *vecPtr
	for i := range vec {
		vec[i] = 0
	}
	return vec
}

// Put returns a vector to the pool for reuse.
func (vp *VectorPool) Put(vec []float32) {
	dimension := len(vec)
	vp.mu.RLock()
	p, ok := vp.pools[dimension]
	vp.mu.RUnlock()

	if ok {
		v := vec
		p.Put(&v)
	}
}

// BufferPool manages reusable byte slices for the snapshot codec's
// section buffers.
type BufferPool struct {
	small  *sync.Pool // < 4KB
	medium *sync.Pool // 4KB - 64KB
	large  *sync.Pool // 64KB - 1MB
}

// NewBufferPool creates a new buffer pool.
func NewBufferPool() *BufferPool {
	return &BufferPool{
		small: &sync.Pool{
			New: func() interface{} {
				buf := make([]byte, 4*1024)
				return &buf
			},
		},
		medium: &sync.Pool{
			New: func() interface{} {
				buf := make([]byte, 64*1024)
				return &buf
			},
		},
		large: &sync.Pool{
			New: func() interface{} {
				buf := make([]byte, 1024*1024)
				return &buf
			},
		},
	}
}

// Get retrieves a buffer of at least size bytes.
func (bp *BufferPool) Get(size int) []byte {
	var p *sync.Pool
	var defaultSize int

	switch {
	case size <= 4*1024:
		p, defaultSize = bp.small, 4*1024
	case size <= 64*1024:
		p, defaultSize = bp.medium, 64*1024
	case size <= 1024*1024:
		p, defaultSize = bp.large, 1024*1024
	default:
		return make([]byte, size)
	}

	bufPtr := p.Get().(*[]byte)
	buf := *bufPtr
	if len(buf) < size {
		buf = make([]byte, defaultSize)
	}
	return buf[:size]
}

// Put returns a buffer to the pool.
func (bp *BufferPool) Put(buf []byte) {
	capacity := cap(buf)

	var p *sync.Pool
	switch {
	case capacity <= 4*1024:
		p = bp.small
	case capacity <= 64*1024:
		p = bp.medium
	case capacity <= 1024*1024:
		p = bp.large
	default:
		return
	}

	buf = buf[:cap(buf)]
	p.Put(&buf)
}

// QueryResult is the reusable bucket a store query assembles its
// blended-score results into before returning a caller-owned copy.
type QueryResult struct {
	Records []temporal.TemporalRecord
	Scores  []float32
}

// QueryResultPool pools QueryResult buckets.
type QueryResultPool struct {
	pool *sync.Pool
}

// NewQueryResultPool creates a new query-result pool.
func NewQueryResultPool() *QueryResultPool {
	return &QueryResultPool{
		pool: &sync.Pool{
			New: func() interface{} {
				return &QueryResult{
					Records: make([]temporal.TemporalRecord, 0, 64),
					Scores:  make([]float32, 0, 64),
				}
			},
		},
	}
}

// Get retrieves an empty QueryResult.
func (qp *QueryResultPool) Get() *QueryResult {
	r := qp.pool.Get().(*QueryResult)
	r.Records = r.Records[:0]
	r.Scores = r.Scores[:0]
	return r
}

// Put returns a QueryResult to the pool.
func (qp *QueryResultPool) Put(r *QueryResult) {
	qp.pool.Put(r)
}

// Default pools, shared by every store instance and the backup codec so
// independent stores in the same process amortize allocation across each
// other.
var (
	DefaultVectorPool      = NewVectorPool()
	DefaultBufferPool      = NewBufferPool()
	DefaultQueryResultPool = NewQueryResultPool()
)
