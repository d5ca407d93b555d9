// Package store implements the temporal-aware memory store: a map of
// records guarded by one lock, backed by an HNSW index guarded by its
// own. Both locks are always taken in the same order — records, then
// index — so no call path can deadlock against another.
package store

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/chronoindex/chronoindex/pkg/config"
	"github.com/chronoindex/chronoindex/pkg/logging"
	"github.com/chronoindex/chronoindex/pkg/metrics"
	"github.com/chronoindex/chronoindex/pkg/pool"
	"github.com/chronoindex/chronoindex/pkg/simd"
	"github.com/chronoindex/chronoindex/pkg/temporal"
	"github.com/chronoindex/chronoindex/pkg/vector"
)

// fixedImportanceWeight is the importance term's share of SearchSimilar's
// blended score. config.Validate enforces temporal_weight +
// fixedImportanceWeight <= 1 so the remaining weight on geometric
// distance is never negative. SearchByContext does not use it; its
// weights are the fixed 0.4/0.4/0.2 of its own formula.
const fixedImportanceWeight = 0.3

// ScoredRecord pairs a record with the blended score it was ranked by.
// Lower is better, matching vector.SearchResult's convention.
type ScoredRecord struct {
	Record temporal.TemporalRecord
	Score  float32
}

// Store is a single-dimension, in-memory temporal vector store.
type Store struct {
	mu      sync.RWMutex
	records map[string]temporal.TemporalRecord

	cfg     config.MemoryConfig
	index   vector.Index
	log     *logging.Logger
	metrics *metrics.Collector
}

// New constructs a Store. The config is validated before anything else.
func New(cfg config.MemoryConfig, log *logging.Logger, collector *metrics.Collector) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	idxConfig := vector.DefaultConfig(cfg.Dimension)
	idxConfig.TemporalWeight = cfg.TemporalWeight

	return &Store{
		records: make(map[string]temporal.TemporalRecord),
		cfg:     cfg,
		index:   vector.NewHNSWIndex(idxConfig),
		log:     log,
		metrics: collector,
	}, nil
}

// Save inserts or merges a record. On conflict (existing id), attributes
// replace except relationships, which are set-unioned (temporal.Merge).
func (s *Store) Save(record temporal.TemporalRecord) error {
	if err := record.Validate(s.cfg.Dimension, s.cfg.Bounds()); err != nil {
		return err
	}

	s.mu.Lock()
	existing, exists := s.records[record.Vector.ID]
	var decayed []string
	if !exists && len(s.records) >= s.cfg.MaxMemories {
		if s.cfg.AutoCleanupEnabled {
			decayed = s.applyDecayLocked()
		}
		if len(s.records) >= s.cfg.MaxMemories {
			s.mu.Unlock()
			for _, id := range decayed {
				s.index.Remove(id)
			}
			return temporal.ErrCapacityExceeded
		}
	}

	merged := record.Clone()
	if exists {
		merged = temporal.Merge(existing, record)
	}
	s.records[merged.Vector.ID] = merged
	s.mu.Unlock()

	for _, id := range decayed {
		s.index.Remove(id)
	}

	if err := s.index.Insert(merged.Vector.ID, merged.Vector.Data, merged.Attributes.CreatedAt); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.Counter("store.records_saved", 1)
	}
	if s.log != nil {
		s.log.Debug("saved record id=%s context=%s", merged.Vector.ID, merged.Attributes.Context)
	}
	return nil
}

// Get retrieves a record by id, bumping its access count and last-access
// timestamp as a side effect.
func (s *Store) Get(id string) (temporal.TemporalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return temporal.TemporalRecord{}, &temporal.NotFoundError{ID: id}
	}
	rec.Attributes.AccessCount++
	rec.Attributes.LastAccess = time.Now()
	s.records[id] = rec
	return rec.Clone(), nil
}

// SearchSimilar delegates candidate retrieval to the HNSW index, then
// re-ranks the results with a three-term blend: normalized geometric
// distance, temporal recency, and importance. The weight on importance
// is fixed at fixedImportanceWeight; the remainder splits between
// distance and recency according to cfg.TemporalWeight.
func (s *Store) SearchSimilar(query []float32, k int) ([]ScoredRecord, error) {
	if k <= 0 {
		return nil, nil
	}
	normalized := pool.DefaultVectorPool.Get(len(query))
	defer pool.DefaultVectorPool.Put(normalized)
	normalizeInto(normalized, query)

	// spec.md §4.D: k' = max(k, 2k), which for k > 0 is always 2k.
	overfetch := 2 * k
	if overfetch < k {
		overfetch = k
	}
	candidates, err := s.index.Search(normalized, overfetch)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	wI := float32(fixedImportanceWeight)
	wT := s.cfg.TemporalWeight
	wD := 1 - wT - wI

	bucket := pool.DefaultQueryResultPool.Get()
	defer pool.DefaultQueryResultPool.Put(bucket)

	dists := make([]float32, 0, len(candidates))
	var maxDist float32

	s.mu.RLock()
	for _, c := range candidates {
		rec, ok := s.records[c.ID]
		if !ok {
			continue // dangling index entry; tolerated, not escalated
		}
		d := simd.CosineDistance(normalized, rec.Vector.Data)
		if d > maxDist {
			maxDist = d
		}
		dists = append(dists, d)
		bucket.Records = append(bucket.Records, rec.Clone())
	}
	s.mu.RUnlock()

	for i, rec := range bucket.Records {
		distNorm := float32(0)
		if maxDist > 0 {
			distNorm = dists[i] / maxDist
		}
		ts := temporal.TemporalScore(rec.Attributes.CreatedAt, now)
		score := wD*distNorm + wT*(1-ts) + wI*(1-rec.Attributes.Importance)
		bucket.Scores = append(bucket.Scores, score)
	}

	scored := zipScored(bucket)
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score < scored[j].Score
		}
		// spec.md §4.D: ties broken by higher temporalScore (more recent wins).
		tsI := temporal.TemporalScore(scored[i].Record.Attributes.CreatedAt, now)
		tsJ := temporal.TemporalScore(scored[j].Record.Attributes.CreatedAt, now)
		if tsI != tsJ {
			return tsI > tsJ
		}
		return scored[i].Record.Vector.ID < scored[j].Record.Vector.ID
	})
	if len(scored) > k {
		scored = scored[:k]
	}

	if s.metrics != nil {
		s.metrics.Counter("store.search_similar_calls", 1)
	}
	return scored, nil
}

// SearchByContext filters the store to records tagged with context, then
// ranks them by spec.md §4.D's context-search blend: geometric distance
// to the caller's query, temporal recency, and importance. Unlike
// SearchSimilar this is a linear scan over the context-filtered subset
// rather than a delegation to the HNSW index, since the filtered subset
// is typically small.
func (s *Store) SearchByContext(context string, query []float32, limit int) ([]ScoredRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	if s.cfg.MaxContextWindow > 0 && limit > s.cfg.MaxContextWindow {
		limit = s.cfg.MaxContextWindow
	}
	normalized := pool.DefaultVectorPool.Get(len(query))
	defer pool.DefaultVectorPool.Put(normalized)
	normalizeInto(normalized, query)

	now := time.Now()

	bucket := pool.DefaultQueryResultPool.Get()
	defer pool.DefaultQueryResultPool.Put(bucket)

	s.mu.RLock()
	for _, rec := range s.records {
		if rec.Attributes.Context != context {
			continue
		}
		d := simd.CosineDistance(normalized, rec.Vector.Data)
		ts := temporal.TemporalScore(rec.Attributes.CreatedAt, now)
		// spec.md §4.D: score = 0.4*distance - 0.4*temporalScore - 0.2*importance
		score := 0.4*d - 0.4*ts - 0.2*rec.Attributes.Importance
		bucket.Records = append(bucket.Records, rec.Clone())
		bucket.Scores = append(bucket.Scores, score)
	}
	s.mu.RUnlock()

	scored := zipScored(bucket)
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score < scored[j].Score
		}
		return scored[i].Record.Vector.ID < scored[j].Record.Vector.ID
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}

	if s.metrics != nil {
		s.metrics.Counter("store.search_by_context_calls", 1)
	}
	return scored, nil
}

// ImportantMemories returns every record with importance >= threshold.
func (s *Store) ImportantMemories(threshold float32) []temporal.TemporalRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]temporal.TemporalRecord, 0)
	for _, rec := range s.records {
		if rec.Attributes.Importance >= threshold {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Vector.ID < out[j].Vector.ID })
	return out
}

// ApplyDecay ages every record's importance down based on its age, how
// long it has gone unread, and how often it has been read, damped by
// the configured base and per-record decay rates. window is accepted to
// match the external interface's apply_decay(window_duration) shape but,
// per the decay formula this follows, does not itself enter the
// per-record computation (age and recency are measured against now, not
// against window). Records whose importance decays to at most
// MinImportance are removed from both the record map and the index.
func (s *Store) ApplyDecay(window time.Duration) error {
	s.mu.Lock()
	removed := s.applyDecayLocked()
	s.mu.Unlock()

	for _, id := range removed {
		s.index.Remove(id)
	}
	if s.metrics != nil {
		s.metrics.Counter("store.decay_runs", 1)
		s.metrics.Counter("store.decay_removed", int64(len(removed)))
	}
	if s.log != nil && len(removed) > 0 {
		s.log.Info("decay removed %d records", len(removed))
	}
	return nil
}

// applyDecayLocked requires the caller to hold s.mu for writing. It
// returns the ids removed so the caller can evict them from the index
// after releasing the records lock.
func (s *Store) applyDecayLocked() []string {
	now := time.Now()
	removed := make([]string, 0)

	for id, rec := range s.records {
		ageHours := float32(now.Sub(rec.Attributes.CreatedAt).Hours())
		recencyHours := float32(now.Sub(rec.Attributes.LastAccess).Hours())
		if ageHours < 0 {
			ageHours = 0
		}
		if recencyHours < 0 {
			recencyHours = 0
		}
		accessFactor := 1 / (1 + float32(math.Log1p(float64(rec.Attributes.AccessCount))))
		decay := s.cfg.BaseDecayRate * rec.Attributes.DecayRate * ageHours * recencyHours * accessFactor
		if decay < 0 {
			decay = 0
		}

		newImportance := rec.Attributes.Importance * (1 - decay)
		newImportance = clampFloat32(newImportance, s.cfg.MinImportance, s.cfg.MaxImportance)

		if newImportance <= s.cfg.MinImportance {
			delete(s.records, id)
			removed = append(removed, id)
			continue
		}
		rec.Attributes.Importance = newImportance
		s.records[id] = rec
	}
	return removed
}

func clampFloat32(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Consolidate finds every unordered pair of records whose cosine
// similarity is at least SimilarityThreshold and merges each pair it
// visits, in lexicographic (min_id, max_id) order, into the
// lower-id survivor: its importance becomes the pair's average, its
// relationships gain the other's, and the other is deleted. Running
// Consolidate again on an already-consolidated store is a no-op, since
// no pair still exceeds the threshold.
func (s *Store) Consolidate() error {
	s.mu.Lock()

	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	removedIDs := make([]string, 0)
	mergeCount := 0
	removed := make(map[string]bool, len(ids))

	for i := 0; i < len(ids); i++ {
		minID, maxID := ids[i], ""
		if removed[minID] {
			continue
		}
		for j := i + 1; j < len(ids); j++ {
			maxID = ids[j]
			if removed[maxID] {
				continue
			}
			a, aok := s.records[minID]
			b, bok := s.records[maxID]
			if !aok || !bok {
				continue
			}
			sim := simd.CosineSimilarity(a.Vector.Data, b.Vector.Data)
			if sim < s.cfg.SimilarityThreshold {
				continue
			}
			merged := mergeNearDuplicates(a, b)
			s.records[minID] = merged
			delete(s.records, maxID)
			removed[maxID] = true
			removedIDs = append(removedIDs, maxID)
			mergeCount++
		}
	}
	s.mu.Unlock()

	for _, id := range removedIDs {
		s.index.Remove(id)
	}

	if s.metrics != nil {
		s.metrics.Counter("store.consolidate_merges", int64(mergeCount))
	}
	if s.log != nil && mergeCount > 0 {
		s.log.Info("consolidated %d near-duplicate records", mergeCount)
	}
	return nil
}

// mergeNearDuplicates folds b into a: a's vector and id survive
// untouched, its importance becomes the pair's average, its
// relationships gain b's, per spec.md §4.D's consolidate description.
func mergeNearDuplicates(a, b temporal.TemporalRecord) temporal.TemporalRecord {
	merged := a.Clone()
	merged.Attributes.Importance = (a.Attributes.Importance + b.Attributes.Importance) / 2
	for relID := range b.Attributes.Relationships {
		merged.Attributes.Relationships[relID] = struct{}{}
	}
	return merged
}

// GetRelated returns the records reachable from id's relationship graph
// within maxDepth hops, breadth-first. Dangling relationship ids are
// skipped rather than treated as errors.
func (s *Store) GetRelated(id string, maxDepth int) ([]temporal.TemporalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.records[id]; !ok {
		return nil, &temporal.NotFoundError{ID: id}
	}
	if maxDepth <= 0 {
		return []temporal.TemporalRecord{}, nil
	}

	visited := map[string]bool{id: true}
	frontier := []string{id}
	out := make([]temporal.TemporalRecord, 0)

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		next := make([]string, 0)
		for _, cur := range frontier {
			rec, ok := s.records[cur]
			if !ok {
				continue
			}
			relIDs := make([]string, 0, len(rec.Attributes.Relationships))
			for relID := range rec.Attributes.Relationships {
				relIDs = append(relIDs, relID)
			}
			sort.Strings(relIDs)
			for _, relID := range relIDs {
				if visited[relID] {
					continue
				}
				visited[relID] = true
				related, ok := s.records[relID]
				if !ok {
					continue // dangling relationship reference
				}
				out = append(out, related.Clone())
				next = append(next, relID)
			}
		}
		frontier = next
	}
	return out, nil
}

// GetContextSummary aggregates every record tagged with context: a mean
// vector, mean importance, and the five most frequent cross-record
// relationship ids.
func (s *Store) GetContextSummary(context string) (temporal.ContextSummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matching := make([]temporal.TemporalRecord, 0)
	for _, rec := range s.records {
		if rec.Attributes.Context == context {
			matching = append(matching, rec)
		}
	}
	if len(matching) == 0 {
		return temporal.ContextSummary{}, false
	}

	centroid := make([]float32, s.cfg.Dimension)
	var totalImportance float32
	relFreq := make(map[string]int)
	for _, rec := range matching {
		totalImportance += rec.Attributes.Importance
		for i, x := range rec.Vector.Data {
			centroid[i] += x
		}
		for relID := range rec.Attributes.Relationships {
			relFreq[relID]++
		}
	}
	n := float32(len(matching))
	for i := range centroid {
		centroid[i] /= n
	}

	return temporal.ContextSummary{
		Context:          context,
		MemoryCount:      len(matching),
		MeanImportance:   totalImportance / n,
		Centroid:         centroid,
		TopRelationships: topRelationships(relFreq, 5),
	}, true
}

// CompressContext synthesizes a single representative record for a
// context without mutating the store: an importance-weighted vector
// average plus the union of every member's relationships. Unlike
// Consolidate, which merges matching records in place, this is a
// read-only projection a caller can use for summarization.
func (s *Store) CompressContext(context string) (temporal.TemporalRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matching := make([]temporal.TemporalRecord, 0)
	for _, rec := range s.records {
		if rec.Attributes.Context == context {
			matching = append(matching, rec)
		}
	}
	if len(matching) == 0 {
		return temporal.TemporalRecord{}, false
	}

	avg := make([]float32, s.cfg.Dimension)
	var totalImportance, totalDecay float32
	relationships := make(map[string]struct{})
	for _, rec := range matching {
		for i, x := range rec.Vector.Data {
			avg[i] += x * rec.Attributes.Importance
		}
		totalImportance += rec.Attributes.Importance
		totalDecay += rec.Attributes.DecayRate
		for relID := range rec.Attributes.Relationships {
			relationships[relID] = struct{}{}
		}
	}
	if totalImportance > 0 {
		for i := range avg {
			avg[i] /= totalImportance
		}
	}

	return temporal.TemporalRecord{
		Vector: temporal.Vector{ID: "compressed:" + context, Data: simd.Normalize(avg)},
		Attributes: temporal.MemoryAttributes{
			CreatedAt:     time.Now(),
			LastAccess:    time.Now(),
			Importance:    totalImportance / float32(len(matching)),
			Context:       context,
			DecayRate:     totalDecay / float32(len(matching)),
			Relationships: relationships,
		},
	}, true
}

// Stats summarizes the whole store.
func (s *Store) Stats() temporal.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var totalImportance float32
	contextHist := make(map[string]int)
	relFreq := make(map[string]int)
	for _, rec := range s.records {
		totalImportance += rec.Attributes.Importance
		contextHist[rec.Attributes.Context]++
		for relID := range rec.Attributes.Relationships {
			relFreq[relID]++
		}
	}

	total := len(s.records)
	meanImportance := float32(0)
	if total > 0 {
		meanImportance = totalImportance / float32(total)
	}

	return temporal.Stats{
		Total:            total,
		CapacityUsed:     float32(total) / float32(s.cfg.MaxMemories),
		MeanImportance:   meanImportance,
		ContextHistogram: contextHist,
		TopRelationships: topRelationships(relFreq, 10),
	}
}

// zipScored pairs up a pooled query bucket's parallel Records/Scores
// slices into the []ScoredRecord a caller gets back. The bucket itself
// is returned to the pool by the caller once this copy is made.
func zipScored(bucket *pool.QueryResult) []ScoredRecord {
	scored := make([]ScoredRecord, len(bucket.Records))
	for i := range bucket.Records {
		scored[i] = ScoredRecord{Record: bucket.Records[i], Score: bucket.Scores[i]}
	}
	return scored
}

// normalizeInto writes src's L2-normalized form into dst, a pool-provided
// buffer of the same length, avoiding the per-call allocation
// simd.Normalize would otherwise make on SearchSimilar's hot path.
func normalizeInto(dst, src []float32) {
	n := simd.Norm(src)
	if n <= 1e-10 {
		for i := range dst {
			dst[i] = 0
		}
		return
	}
	inv := 1 / n
	for i, x := range src {
		dst[i] = x * inv
	}
}

func topRelationships(freq map[string]int, n int) []temporal.RelationshipFrequency {
	out := make([]temporal.RelationshipFrequency, 0, len(freq))
	for id, count := range freq {
		out = append(out, temporal.RelationshipFrequency{ID: id, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
