// Package vector provides the temporal-aware HNSW index used by the
// memory store, plus a brute-force index kept as a recall oracle for
// tests.
package vector

import (
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/chronoindex/chronoindex/pkg/simd"
	"github.com/chronoindex/chronoindex/pkg/temporal"
)

// SearchResult pairs an id with its weighted score. Lower is better.
type SearchResult struct {
	ID    string
	Score float32
}

// Index is the contract both HNSWIndex and BruteForceIndex satisfy.
type Index interface {
	Insert(id string, data []float32, timestamp time.Time) error
	Remove(id string) bool
	Search(query []float32, k int) ([]SearchResult, error)
	Count() int
	Dimension() int
	Save(w io.Writer) error
	Load(r io.Reader) error
	GetAllVectors() map[string][]float32
	Rebuild() error
	ValidateIntegrity() error
}

// Config holds the tunables for an HNSW graph: dimensionality, target
// neighbor degree, construction/search candidate-list sizes, the layer
// cap, and the weight blending geometric distance against recency.
type Config struct {
	D              int     // vector dimensionality
	M              int     // target neighbor degree per node per layer
	EfConstruction int     // candidate-list size during insertion
	EfSearch       int     // candidate-list size during query
	MaxLayers      int     // upper bound on layer index
	TemporalWeight float32 // blend factor for recency, in [0, 1]
}

// DefaultConfig returns sensible default tunables for dimension d.
func DefaultConfig(d int) Config {
	return Config{
		D:              d,
		M:              16,
		EfConstruction: 200,
		EfSearch:       50,
		MaxLayers:      16,
		TemporalWeight: 0,
	}
}

type hnswNode struct {
	id        string
	data      []float32 // normalized copy
	timestamp time.Time
	friends   [][]string // friends[layer] = neighbor ids
}

// HNSWIndex is a multi-layer proximity graph with temporal-weighted search.
//
// A store-wide list of entry points per layer is one way to do this; this
// keeps a single (entryID, topLayer) pair instead, which is equivalent —
// the node at topLayer is present (and a valid local entry) at every
// layer from 0 up to its own layer, so one node always covers the full
// entry-point list.
type HNSWIndex struct {
	mu        sync.RWMutex
	config    Config
	dimension int
	nodes     map[string]*hnswNode
	entryID   string
	topLayer  int // -1 when empty
}

// NewHNSWIndex creates an empty index for the given config.
func NewHNSWIndex(config Config) *HNSWIndex {
	return &HNSWIndex{
		config:    config,
		dimension: config.D,
		nodes:     make(map[string]*hnswNode),
		topLayer:  -1,
	}
}

func (h *HNSWIndex) Dimension() int { return h.dimension }

func (h *HNSWIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.nodes)
}

// randomLevel draws a layer from a p=0.5 coin flip, capped at MaxLayers.
func randomLevel(maxLayers int) int {
	level := 0
	for rand.Float64() < 0.5 && level < maxLayers {
		level++
	}
	return level
}

// weighted blends geometric distance with temporal recency for candidate
// scoring. Lower is better.
func weighted(d, ts, temporalWeight float32) float32 {
	return (1-temporalWeight)*d + temporalWeight*(1-ts)
}

func (h *HNSWIndex) nodeScore(query []float32, n *hnswNode, now time.Time) float32 {
	d := simd.CosineDistance(query, n.data)
	ts := temporal.TemporalScore(n.timestamp, now)
	return weighted(d, ts, h.config.TemporalWeight)
}

// Insert validates, normalizes, and inserts data into the graph under id.
// timestamp is the node's own creation reference, used for its future
// temporal score; the insertion procedure itself scores existing
// candidates at the current wall clock.
func (h *HNSWIndex) Insert(id string, data []float32, timestamp time.Time) error {
	if len(data) != h.dimension {
		return &temporal.DimensionError{Got: len(data), Expected: h.dimension}
	}
	normalized := simd.Normalize(data)
	newLayer := randomLevel(h.config.MaxLayers)
	now := time.Now()

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.nodes[id]; exists {
		h.removeLocked(id)
	}

	node := &hnswNode{
		id:        id,
		data:      normalized,
		timestamp: timestamp,
		friends:   make([][]string, newLayer+1),
	}
	for l := range node.friends {
		node.friends[l] = make([]string, 0, h.config.M)
	}

	if len(h.nodes) == 0 {
		h.nodes[id] = node
		h.entryID = id
		h.topLayer = newLayer
		return nil
	}

	ep := h.entryID
	for l := h.topLayer; l > newLayer; l-- {
		ep = h.searchLayerClosest(normalized, ep, l, now)
	}

	top := newLayer
	if h.topLayer < top {
		top = h.topLayer
	}
	for l := top; l >= 0; l-- {
		candidates := h.searchLayer(normalized, ep, h.config.EfConstruction, l, now)
		selected := selectIDs(candidates, h.config.M)
		node.friends[l] = selected

		for _, nbID := range selected {
			nb := h.nodes[nbID]
			if nb == nil || l >= len(nb.friends) {
				continue
			}
			nb.friends[l] = append(nb.friends[l], id)
			maxDeg := h.config.M
			if l == 0 {
				maxDeg = h.config.M * 2
			}
			if len(nb.friends[l]) > maxDeg {
				nb.friends[l] = h.pruneNeighbors(nb, l, now, h.config.M)
			}
		}

		if len(selected) > 0 {
			ep = selected[0]
		}
	}

	h.nodes[id] = node

	if newLayer > h.topLayer {
		h.entryID = id
		h.topLayer = newLayer
	}

	return nil
}

// searchLayerClosest greedily walks to the best-scoring neighbor at layer,
// using an effective ef of 1.
func (h *HNSWIndex) searchLayerClosest(query []float32, epID string, layer int, now time.Time) string {
	cur := epID
	curNode := h.nodes[cur]
	if curNode == nil {
		return cur
	}
	curScore := h.nodeScore(query, curNode, now)

	changed := true
	for changed {
		changed = false
		node := h.nodes[cur]
		if node == nil || layer >= len(node.friends) {
			break
		}
		for _, nbID := range node.friends[layer] {
			nb := h.nodes[nbID]
			if nb == nil {
				continue
			}
			sc := h.nodeScore(query, nb, now)
			if sc < curScore {
				cur = nbID
				curScore = sc
				changed = true
			}
		}
	}
	return cur
}

type scoredCandidate struct {
	id    string
	score float32
}

// searchLayer runs a bounded best-first search within one graph layer,
// returning up to ef candidates sorted ascending by weighted score.
func (h *HNSWIndex) searchLayer(query []float32, epID string, ef, layer int, now time.Time) []scoredCandidate {
	epNode := h.nodes[epID]
	if epNode == nil {
		return nil
	}

	visited := map[string]bool{epID: true}
	epScore := h.nodeScore(query, epNode, now)

	frontier := newMinHeap()
	frontier.push(pqItem{id: epID, score: epScore})
	results := newMaxHeap()
	results.push(pqItem{id: epID, score: epScore})

	for frontier.len() > 0 {
		cur, ok := frontier.pop()
		if !ok {
			break
		}
		if results.len() >= ef {
			if worst, ok := results.peek(); ok && cur.score > worst.score {
				break
			}
		}

		node := h.nodes[cur.id]
		if node == nil || layer >= len(node.friends) {
			continue
		}
		for _, nbID := range node.friends[layer] {
			if visited[nbID] {
				continue
			}
			visited[nbID] = true
			nb := h.nodes[nbID]
			if nb == nil {
				// Dangling reference: skip without aborting traversal.
				continue
			}
			sc := h.nodeScore(query, nb, now)
			worst, haveWorst := results.peek()
			if results.len() < ef || (haveWorst && sc < worst.score) {
				frontier.push(pqItem{id: nbID, score: sc})
				results.push(pqItem{id: nbID, score: sc})
				if results.len() > ef {
					results.popWorst()
				}
			}
		}
	}

	return results.sortedAscending()
}

func selectIDs(candidates []scoredCandidate, m int) []string {
	if len(candidates) > m {
		candidates = candidates[:m]
	}
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.id
	}
	return out
}

// pruneNeighbors re-scores nb's friends at layer against nb's own vector
// and keeps the `keep` best, enforcing the degree bound after a
// reciprocal edge insertion.
func (h *HNSWIndex) pruneNeighbors(nb *hnswNode, layer int, now time.Time, keep int) []string {
	cands := make([]scoredCandidate, 0, len(nb.friends[layer]))
	for _, fid := range nb.friends[layer] {
		f := h.nodes[fid]
		if f == nil {
			continue
		}
		cands = append(cands, scoredCandidate{id: fid, score: h.nodeScore(nb.data, f, now)})
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score < cands[j].score
		}
		return cands[i].id < cands[j].id
	})
	return selectIDs(cands, keep)
}

// Search returns up to k nearest neighbors to query, ordered ascending by
// weighted score. Returns an error (index unchanged) on dimension
// mismatch, and an empty slice (no error) for an empty index.
func (h *HNSWIndex) Search(query []float32, k int) ([]SearchResult, error) {
	if len(query) != h.dimension {
		return nil, &temporal.DimensionError{Got: len(query), Expected: h.dimension}
	}
	if k <= 0 {
		return []SearchResult{}, nil
	}

	normalized := simd.Normalize(query)
	now := time.Now()

	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.nodes) == 0 {
		return []SearchResult{}, nil
	}

	ep := h.entryID
	for l := h.topLayer; l > 0; l-- {
		ep = h.searchLayerClosest(normalized, ep, l, now)
	}

	ef := h.config.EfSearch
	if k > ef {
		ef = k
	}
	candidates := h.searchLayer(normalized, ep, ef, 0, now)
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	out := make([]SearchResult, len(candidates))
	for i, c := range candidates {
		out[i] = SearchResult{ID: c.id, Score: c.score}
	}
	return out, nil
}

// Remove deletes a node, best-effort repairing neighbor lists. Graph
// connectivity is not guaranteed to remain optimal after deletion — an
// explicit Rebuild restores it.
func (h *HNSWIndex) Remove(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.removeLocked(id)
}

func (h *HNSWIndex) removeLocked(id string) bool {
	node, exists := h.nodes[id]
	if !exists {
		return false
	}

	for level, friends := range node.friends {
		for _, fid := range friends {
			f := h.nodes[fid]
			if f == nil || level >= len(f.friends) {
				continue
			}
			f.friends[level] = removeFromSlice(f.friends[level], id)
		}
	}
	delete(h.nodes, id)

	if h.entryID == id {
		if len(h.nodes) == 0 {
			h.entryID = ""
			h.topLayer = -1
		} else {
			h.entryID, h.topLayer = h.findNewEntry()
		}
	}
	return true
}

func (h *HNSWIndex) findNewEntry() (string, int) {
	bestID := ""
	bestLayer := -1
	for id, n := range h.nodes {
		layer := len(n.friends) - 1
		if layer > bestLayer {
			bestLayer = layer
			bestID = id
		}
	}
	return bestID, bestLayer
}

func removeFromSlice(ids []string, target string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// GetAllVectors returns a snapshot of every node's raw (normalized) vector.
func (h *HNSWIndex) GetAllVectors() map[string][]float32 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string][]float32, len(h.nodes))
	for id, n := range h.nodes {
		cp := make([]float32, len(n.data))
		copy(cp, n.data)
		out[id] = cp
	}
	return out
}

// Rebuild reconstructs the graph from scratch from the current vectors,
// useful after heavy deletion has fragmented the graph.
func (h *HNSWIndex) Rebuild() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.nodes) == 0 {
		return nil
	}

	type seed struct {
		id        string
		data      []float32
		timestamp time.Time
	}
	seeds := make([]seed, 0, len(h.nodes))
	for id, n := range h.nodes {
		seeds = append(seeds, seed{id: id, data: n.data, timestamp: n.timestamp})
	}
	sort.Slice(seeds, func(i, j int) bool { return seeds[i].id < seeds[j].id })

	backupNodes, backupEntry, backupTop := h.nodes, h.entryID, h.topLayer

	h.nodes = make(map[string]*hnswNode, len(seeds))
	h.entryID = ""
	h.topLayer = -1

	now := time.Now()
	for _, s := range seeds {
		newLayer := randomLevel(h.config.MaxLayers)
		node := &hnswNode{id: s.id, data: s.data, timestamp: s.timestamp, friends: make([][]string, newLayer+1)}
		for l := range node.friends {
			node.friends[l] = make([]string, 0, h.config.M)
		}

		if len(h.nodes) == 0 {
			h.nodes[s.id] = node
			h.entryID = s.id
			h.topLayer = newLayer
			continue
		}

		ep := h.entryID
		for l := h.topLayer; l > newLayer; l-- {
			ep = h.searchLayerClosest(s.data, ep, l, now)
		}

		top := newLayer
		if h.topLayer < top {
			top = h.topLayer
		}
		for l := top; l >= 0; l-- {
			candidates := h.searchLayer(s.data, ep, h.config.EfConstruction, l, now)
			selected := selectIDs(candidates, h.config.M)
			node.friends[l] = selected
			for _, nbID := range selected {
				nb := h.nodes[nbID]
				if nb == nil || l >= len(nb.friends) {
					continue
				}
				nb.friends[l] = append(nb.friends[l], s.id)
				maxDeg := h.config.M
				if l == 0 {
					maxDeg = h.config.M * 2
				}
				if len(nb.friends[l]) > maxDeg {
					nb.friends[l] = h.pruneNeighbors(nb, l, now, h.config.M)
				}
			}
			if len(selected) > 0 {
				ep = selected[0]
			}
		}

		h.nodes[s.id] = node
		if newLayer > h.topLayer {
			h.entryID = s.id
			h.topLayer = newLayer
		}
	}

	if err := h.validateIntegrityLocked(); err != nil {
		h.nodes, h.entryID, h.topLayer = backupNodes, backupEntry, backupTop
		return fmt.Errorf("rebuild validation failed, rolled back: %w", err)
	}
	return nil
}

// ValidateIntegrity checks that the entry point and every neighbor
// reference resolves to a live node, within a tolerance for benign
// post-deletion dangling edges.
func (h *HNSWIndex) ValidateIntegrity() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.validateIntegrityLocked()
}

func (h *HNSWIndex) validateIntegrityLocked() error {
	if len(h.nodes) == 0 {
		return nil
	}
	if _, ok := h.nodes[h.entryID]; !ok {
		return fmt.Errorf("entry point %q does not exist", h.entryID)
	}

	dangling := 0
	for id, n := range h.nodes {
		if len(n.data) != h.dimension {
			return fmt.Errorf("node %q has wrong dimension: expected %d, got %d", id, h.dimension, len(n.data))
		}
		for _, friends := range n.friends {
			for _, fid := range friends {
				if _, ok := h.nodes[fid]; !ok {
					dangling++
				}
			}
		}
	}
	if dangling > len(h.nodes)/100 {
		return fmt.Errorf("high number of dangling references: %d (>1%% of nodes)", dangling)
	}
	return nil
}

// Save serializes the index to w. See pkg/backup for the store-level
// snapshot format that embeds this per-index frame.
func (h *HNSWIndex) Save(w io.Writer) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if err := writeUint32(w, uint32(h.dimension)); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(len(h.nodes))); err != nil {
		return err
	}
	if err := writeString(w, h.entryID); err != nil {
		return err
	}
	if err := writeInt32(w, int32(h.topLayer)); err != nil {
		return err
	}

	for _, n := range h.nodes {
		if err := writeString(w, n.id); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, n.timestamp.UnixNano()); err != nil {
			return err
		}
		if err := writeUint32(w, uint32(len(n.data))); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, n.data); err != nil {
			return err
		}
		if err := writeUint32(w, uint32(len(n.friends))); err != nil {
			return err
		}
		for _, layer := range n.friends {
			if err := writeUint32(w, uint32(len(layer))); err != nil {
				return err
			}
			for _, fid := range layer {
				if err := writeString(w, fid); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Load replaces the index contents with data read from r, written by Save.
func (h *HNSWIndex) Load(r io.Reader) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	dim, err := readUint32(r)
	if err != nil {
		return fmt.Errorf("read dimension: %w", err)
	}
	count, err := readUint32(r)
	if err != nil {
		return fmt.Errorf("read count: %w", err)
	}
	if count > 100_000_000 {
		return fmt.Errorf("invalid node count in header: %d", count)
	}
	entryID, err := readString(r)
	if err != nil {
		return fmt.Errorf("read entry id: %w", err)
	}
	var topLayer int32
	if err := binary.Read(r, binary.LittleEndian, &topLayer); err != nil {
		return fmt.Errorf("read top layer: %w", err)
	}

	h.dimension = int(dim)
	h.entryID = entryID
	h.topLayer = int(topLayer)
	h.nodes = make(map[string]*hnswNode, count)

	for i := uint32(0); i < count; i++ {
		id, err := readString(r)
		if err != nil {
			return fmt.Errorf("read node %d id: %w", i, err)
		}
		var nanos int64
		if err := binary.Read(r, binary.LittleEndian, &nanos); err != nil {
			return fmt.Errorf("read node %d timestamp: %w", i, err)
		}
		dlen, err := readUint32(r)
		if err != nil {
			return fmt.Errorf("read node %d vector length: %w", i, err)
		}
		if dlen > 1_000_000 {
			return fmt.Errorf("invalid vector length: %d", dlen)
		}
		data := make([]float32, dlen)
		if err := binary.Read(r, binary.LittleEndian, data); err != nil {
			return fmt.Errorf("read node %d vector: %w", i, err)
		}
		numLayers, err := readUint32(r)
		if err != nil {
			return fmt.Errorf("read node %d layer count: %w", i, err)
		}
		if numLayers > 1000 {
			return fmt.Errorf("invalid layer count: %d", numLayers)
		}
		friends := make([][]string, numLayers)
		for l := uint32(0); l < numLayers; l++ {
			flen, err := readUint32(r)
			if err != nil {
				return fmt.Errorf("read node %d layer %d friend count: %w", i, l, err)
			}
			if flen > 100_000 {
				return fmt.Errorf("invalid friend count: %d", flen)
			}
			layer := make([]string, flen)
			for f := uint32(0); f < flen; f++ {
				fid, err := readString(r)
				if err != nil {
					return fmt.Errorf("read node %d layer %d friend %d: %w", i, l, f, err)
				}
				layer[f] = fid
			}
			friends[l] = layer
		}
		h.nodes[id] = &hnswNode{
			id:        id,
			data:      data,
			timestamp: time.Unix(0, nanos),
			friends:   friends,
		}
	}
	return nil
}

func writeUint32(w io.Writer, v uint32) error { return binary.Write(w, binary.LittleEndian, v) }
func writeInt32(w io.Writer, v int32) error   { return binary.Write(w, binary.LittleEndian, v) }

func writeString(w io.Writer, s string) error {
	if err := writeUint32(w, uint32(len(s))); err != nil {
		return err
	}
	_, err := w.Write([]byte(s))
	return err
}

func readUint32(r io.Reader) (uint32, error) {
	var v uint32
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, err
}

func readString(r io.Reader) (string, error) {
	n, err := readUint32(r)
	if err != nil {
		return "", err
	}
	if n > 10_000_000 {
		return "", fmt.Errorf("invalid string length: %d", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
