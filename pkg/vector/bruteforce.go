package vector

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/chronoindex/chronoindex/pkg/simd"
	"github.com/chronoindex/chronoindex/pkg/temporal"
)

// BruteForceIndex scores every stored vector on every query. Exact, O(n)
// per search, and used in tests as the recall oracle the HNSW graph is
// checked against (they must agree exactly when TemporalWeight is 0,
// since weighted() degenerates to pure geometric distance).
type BruteForceIndex struct {
	mu             sync.RWMutex
	dimension      int
	temporalWeight float32
	nodes          map[string]bruteNode
}

type bruteNode struct {
	data      []float32
	timestamp time.Time
}

// NewBruteForceIndex creates an empty oracle index for the given config.
func NewBruteForceIndex(config Config) *BruteForceIndex {
	return &BruteForceIndex{
		dimension:      config.D,
		temporalWeight: config.TemporalWeight,
		nodes:          make(map[string]bruteNode),
	}
}

func (b *BruteForceIndex) Dimension() int { return b.dimension }

func (b *BruteForceIndex) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.nodes)
}

func (b *BruteForceIndex) Insert(id string, data []float32, timestamp time.Time) error {
	if len(data) != b.dimension {
		return &temporal.DimensionError{Got: len(data), Expected: b.dimension}
	}
	normalized := simd.Normalize(data)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.nodes[id] = bruteNode{data: normalized, timestamp: timestamp}
	return nil
}

func (b *BruteForceIndex) Remove(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.nodes[id]; !ok {
		return false
	}
	delete(b.nodes, id)
	return true
}

func (b *BruteForceIndex) Search(query []float32, k int) ([]SearchResult, error) {
	if len(query) != b.dimension {
		return nil, &temporal.DimensionError{Got: len(query), Expected: b.dimension}
	}
	if k <= 0 {
		return []SearchResult{}, nil
	}
	normalized := simd.Normalize(query)
	now := time.Now()

	b.mu.RLock()
	defer b.mu.RUnlock()

	type scored struct {
		id    string
		score float32
	}
	all := make([]scored, 0, len(b.nodes))
	for id, n := range b.nodes {
		d := simd.CosineDistance(normalized, n.data)
		ts := temporal.TemporalScore(n.timestamp, now)
		all = append(all, scored{id: id, score: weighted(d, ts, b.temporalWeight)})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score < all[j].score
		}
		return all[i].id < all[j].id
	})
	if len(all) > k {
		all = all[:k]
	}
	out := make([]SearchResult, len(all))
	for i, s := range all {
		out[i] = SearchResult{ID: s.id, Score: s.score}
	}
	return out, nil
}

func (b *BruteForceIndex) GetAllVectors() map[string][]float32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string][]float32, len(b.nodes))
	for id, n := range b.nodes {
		cp := make([]float32, len(n.data))
		copy(cp, n.data)
		out[id] = cp
	}
	return out
}

func (b *BruteForceIndex) Rebuild() error { return nil }

func (b *BruteForceIndex) ValidateIntegrity() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, n := range b.nodes {
		if len(n.data) != b.dimension {
			return fmt.Errorf("vector %q has wrong dimension: expected %d, got %d", id, b.dimension, len(n.data))
		}
	}
	return nil
}

func (b *BruteForceIndex) Save(w io.Writer) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := writeUint32(w, uint32(b.dimension)); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(len(b.nodes))); err != nil {
		return err
	}
	for id, n := range b.nodes {
		if err := writeString(w, id); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, n.timestamp.UnixNano()); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, n.data); err != nil {
			return err
		}
	}
	return nil
}

func (b *BruteForceIndex) Load(r io.Reader) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	dim, err := readUint32(r)
	if err != nil {
		return err
	}
	count, err := readUint32(r)
	if err != nil {
		return err
	}
	b.dimension = int(dim)
	b.nodes = make(map[string]bruteNode, count)

	for i := uint32(0); i < count; i++ {
		id, err := readString(r)
		if err != nil {
			return err
		}
		var nanos int64
		if err := binary.Read(r, binary.LittleEndian, &nanos); err != nil {
			return err
		}
		data := make([]float32, b.dimension)
		if err := binary.Read(r, binary.LittleEndian, data); err != nil {
			return err
		}
		b.nodes[id] = bruteNode{data: data, timestamp: time.Unix(0, nanos)}
	}
	return nil
}
