package store

import (
	"testing"
	"time"

	"github.com/chronoindex/chronoindex/pkg/config"
	"github.com/chronoindex/chronoindex/pkg/temporal"
)

func newTestStore(t *testing.T, mutate func(*config.MemoryConfig)) *Store {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Dimension = 4
	cfg.MaxMemories = 1000
	cfg.ConsolidationWindow = time.Hour
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func record(id, context string, data []float32, importance float32) temporal.TemporalRecord {
	now := time.Now()
	return temporal.TemporalRecord{
		Vector: temporal.Vector{ID: id, Data: data},
		Attributes: temporal.MemoryAttributes{
			CreatedAt:     now,
			LastAccess:    now,
			Importance:    importance,
			Context:       context,
			DecayRate:     0.1,
			Relationships: map[string]struct{}{},
		},
	}
}

func TestSaveAndGet(t *testing.T) {
	s := newTestStore(t, nil)
	if err := s.Save(record("a", "ctx", []float32{1, 0, 0, 0}, 0.5)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Get("a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Attributes.AccessCount != 1 {
		t.Errorf("access count = %d, want 1", got.Attributes.AccessCount)
	}
	got2, err := s.Get("a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got2.Attributes.AccessCount != 2 {
		t.Errorf("access count after second get = %d, want 2", got2.Attributes.AccessCount)
	}
}

func TestGetMissingReturnsNotFoundError(t *testing.T) {
	s := newTestStore(t, nil)
	_, err := s.Get("missing")
	if err == nil {
		t.Fatal("expected error for missing id")
	}
	if _, ok := err.(*temporal.NotFoundError); !ok {
		t.Errorf("expected *temporal.NotFoundError, got %T", err)
	}
}

func TestSaveMergesRelationshipsOnConflict(t *testing.T) {
	s := newTestStore(t, nil)
	first := record("a", "ctx", []float32{1, 0, 0, 0}, 0.5)
	first.Attributes.Relationships["x"] = struct{}{}
	if err := s.Save(first); err != nil {
		t.Fatalf("Save: %v", err)
	}

	second := record("a", "ctx", []float32{1, 0, 0, 0}, 0.9)
	second.Attributes.Relationships["y"] = struct{}{}
	if err := s.Save(second); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Get("a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Attributes.Importance != 0.9 {
		t.Errorf("importance = %v, want 0.9 (incoming wins)", got.Attributes.Importance)
	}
	if _, ok := got.Attributes.Relationships["x"]; !ok {
		t.Error("expected relationship x to survive merge")
	}
	if _, ok := got.Attributes.Relationships["y"]; !ok {
		t.Error("expected relationship y to survive merge")
	}
}

func TestSaveRejectsInvalidRecord(t *testing.T) {
	s := newTestStore(t, nil)
	bad := record("a", "ctx", []float32{1, 0, 0}, 0.5) // wrong dimension
	if err := s.Save(bad); err == nil {
		t.Fatal("expected dimension error")
	}
}

func TestSaveRejectsAtCapacity(t *testing.T) {
	s := newTestStore(t, func(c *config.MemoryConfig) { c.MaxMemories = 2 })
	if err := s.Save(record("a", "ctx", []float32{1, 0, 0, 0}, 0.5)); err != nil {
		t.Fatalf("Save a: %v", err)
	}
	if err := s.Save(record("b", "ctx", []float32{0, 1, 0, 0}, 0.5)); err != nil {
		t.Fatalf("Save b: %v", err)
	}
	if err := s.Save(record("c", "ctx", []float32{0, 0, 1, 0}, 0.5)); err != temporal.ErrCapacityExceeded {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
}

func TestSearchSimilarRanksClosestFirst(t *testing.T) {
	s := newTestStore(t, func(c *config.MemoryConfig) { c.TemporalWeight = 0 })
	if err := s.Save(record("close", "ctx", []float32{1, 0, 0, 0}, 0.5)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(record("far", "ctx", []float32{0, 1, 0, 0}, 0.5)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	results, err := s.SearchSimilar([]float32{1, 0, 0, 0}, 2)
	if err != nil {
		t.Fatalf("SearchSimilar: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Record.Vector.ID != "close" {
		t.Errorf("closest = %s, want close", results[0].Record.Vector.ID)
	}
	if results[0].Score > results[1].Score {
		t.Errorf("results not sorted ascending by score: %v", results)
	}
}

func TestSearchSimilarPrefersHigherImportanceAtTie(t *testing.T) {
	s := newTestStore(t, func(c *config.MemoryConfig) { c.TemporalWeight = 0 })
	if err := s.Save(record("low", "ctx", []float32{1, 0, 0, 0}, 0.1)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(record("high", "ctx", []float32{1, 0, 0, 0}, 0.9)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	results, err := s.SearchSimilar([]float32{1, 0, 0, 0}, 2)
	if err != nil {
		t.Fatalf("SearchSimilar: %v", err)
	}
	if results[0].Record.Vector.ID != "high" {
		t.Errorf("expected higher-importance record to rank first on identical vectors, got %s", results[0].Record.Vector.ID)
	}
}

func TestSearchByContextFiltersAndRanks(t *testing.T) {
	s := newTestStore(t, nil)
	if err := s.Save(record("a", "work", []float32{1, 0, 0, 0}, 0.9)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(record("b", "personal", []float32{0, 1, 0, 0}, 0.9)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(record("c", "work", []float32{0, 0, 1, 0}, 0.1)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	results, err := s.SearchByContext("work", []float32{1, 0, 0, 0}, 10)
	if err != nil {
		t.Fatalf("SearchByContext: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 work records, got %d", len(results))
	}
	if results[0].Record.Vector.ID != "a" {
		t.Errorf("expected closer, higher-importance record a to rank first, got %s", results[0].Record.Vector.ID)
	}
}

func TestApplyDecayRemovesLowImportanceRecords(t *testing.T) {
	s := newTestStore(t, func(c *config.MemoryConfig) {
		c.MinImportance = 0.05
		c.BaseDecayRate = 0.9
	})
	rec := record("a", "ctx", []float32{1, 0, 0, 0}, 0.1)
	rec.Attributes.DecayRate = 1.0
	rec.Attributes.CreatedAt = time.Now().Add(-48 * time.Hour)
	rec.Attributes.LastAccess = time.Now().Add(-48 * time.Hour)
	if err := s.Save(rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := s.ApplyDecay(time.Hour); err != nil {
		t.Fatalf("ApplyDecay: %v", err)
	}

	if _, err := s.Get("a"); err == nil {
		t.Fatal("expected record to be decayed away")
	}
}

func TestApplyDecayLeavesRecentlyAccessedRecordsAlone(t *testing.T) {
	s := newTestStore(t, nil)
	if err := s.Save(record("a", "ctx", []float32{1, 0, 0, 0}, 0.9)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := s.ApplyDecay(time.Hour); err != nil {
		t.Fatalf("ApplyDecay: %v", err)
	}

	got, err := s.Get("a")
	if err != nil {
		t.Fatalf("expected record to survive decay: %v", err)
	}
	if got.Attributes.Importance <= 0 {
		t.Errorf("importance went to zero unexpectedly: %v", got.Attributes.Importance)
	}
}

func TestConsolidateMergesNearDuplicatesAndIsIdempotent(t *testing.T) {
	s := newTestStore(t, func(c *config.MemoryConfig) { c.SimilarityThreshold = 0.99 })
	if err := s.Save(record("a", "ctx", []float32{1, 0, 0, 0}, 0.5)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(record("b", "ctx", []float32{1, 0, 0, 0}, 0.5)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := s.Consolidate(); err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	if s.Stats().Total != 1 {
		t.Fatalf("expected 1 record after merge, got %d", s.Stats().Total)
	}

	if err := s.Consolidate(); err != nil {
		t.Fatalf("second Consolidate: %v", err)
	}
	if s.Stats().Total != 1 {
		t.Fatalf("expected consolidate to be idempotent, got %d records", s.Stats().Total)
	}
}

func TestConsolidateDoesNotMergeDissimilarVectors(t *testing.T) {
	s := newTestStore(t, func(c *config.MemoryConfig) { c.SimilarityThreshold = 0.99 })
	if err := s.Save(record("a", "ctx", []float32{1, 0, 0, 0}, 0.5)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(record("b", "ctx", []float32{0, 1, 0, 0}, 0.5)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := s.Consolidate(); err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	if s.Stats().Total != 2 {
		t.Fatalf("expected 2 distinct records to survive, got %d", s.Stats().Total)
	}
}

func TestGetRelatedBFSSkipsDanglingReferences(t *testing.T) {
	s := newTestStore(t, nil)
	a := record("a", "ctx", []float32{1, 0, 0, 0}, 0.5)
	a.Attributes.Relationships["b"] = struct{}{}
	a.Attributes.Relationships["ghost"] = struct{}{}
	if err := s.Save(a); err != nil {
		t.Fatalf("Save a: %v", err)
	}
	b := record("b", "ctx", []float32{0, 1, 0, 0}, 0.5)
	b.Attributes.Relationships["c"] = struct{}{}
	if err := s.Save(b); err != nil {
		t.Fatalf("Save b: %v", err)
	}
	c := record("c", "ctx", []float32{0, 0, 1, 0}, 0.5)
	if err := s.Save(c); err != nil {
		t.Fatalf("Save c: %v", err)
	}

	related, err := s.GetRelated("a", 2)
	if err != nil {
		t.Fatalf("GetRelated: %v", err)
	}
	ids := map[string]bool{}
	for _, r := range related {
		ids[r.Vector.ID] = true
	}
	if !ids["b"] || !ids["c"] {
		t.Errorf("expected b and c reachable within depth 2, got %v", ids)
	}
	if ids["ghost"] {
		t.Error("dangling relationship should not appear in results")
	}
}

func TestGetRelatedMissingIDReturnsNotFoundError(t *testing.T) {
	s := newTestStore(t, nil)
	_, err := s.GetRelated("missing", 1)
	if _, ok := err.(*temporal.NotFoundError); !ok {
		t.Errorf("expected *temporal.NotFoundError, got %v", err)
	}
}

func TestGetContextSummaryAggregates(t *testing.T) {
	s := newTestStore(t, nil)
	if err := s.Save(record("a", "work", []float32{1, 0, 0, 0}, 0.4)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(record("b", "work", []float32{0, 1, 0, 0}, 0.6)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	summary, ok := s.GetContextSummary("work")
	if !ok {
		t.Fatal("expected summary for context with records")
	}
	if summary.MemoryCount != 2 {
		t.Errorf("memory count = %d, want 2", summary.MemoryCount)
	}
	if summary.MeanImportance < 0.49 || summary.MeanImportance > 0.51 {
		t.Errorf("mean importance = %v, want ~0.5", summary.MeanImportance)
	}
}

func TestGetContextSummaryMissingContext(t *testing.T) {
	s := newTestStore(t, nil)
	_, ok := s.GetContextSummary("nope")
	if ok {
		t.Fatal("expected no summary for empty context")
	}
}

func TestImportantMemoriesFiltersByThreshold(t *testing.T) {
	s := newTestStore(t, nil)
	if err := s.Save(record("low", "ctx", []float32{1, 0, 0, 0}, 0.2)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(record("high", "ctx", []float32{0, 1, 0, 0}, 0.8)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	important := s.ImportantMemories(0.5)
	if len(important) != 1 || important[0].Vector.ID != "high" {
		t.Errorf("expected only high to pass threshold, got %v", important)
	}
}

func TestCompressContextDoesNotMutateStore(t *testing.T) {
	s := newTestStore(t, nil)
	if err := s.Save(record("a", "work", []float32{1, 0, 0, 0}, 0.5)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(record("b", "work", []float32{0, 1, 0, 0}, 0.5)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	before := s.Stats().Total
	compressed, ok := s.CompressContext("work")
	if !ok {
		t.Fatal("expected compressed record")
	}
	if compressed.Attributes.Context != "work" {
		t.Errorf("context = %s, want work", compressed.Attributes.Context)
	}
	if s.Stats().Total != before {
		t.Errorf("CompressContext mutated the store: before=%d after=%d", before, s.Stats().Total)
	}
}

func TestStatsReportsContextHistogram(t *testing.T) {
	s := newTestStore(t, nil)
	if err := s.Save(record("a", "work", []float32{1, 0, 0, 0}, 0.5)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(record("b", "work", []float32{0, 1, 0, 0}, 0.5)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(record("c", "personal", []float32{0, 0, 1, 0}, 0.5)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	stats := s.Stats()
	if stats.Total != 3 {
		t.Errorf("total = %d, want 3", stats.Total)
	}
	if stats.ContextHistogram["work"] != 2 {
		t.Errorf("work context count = %d, want 2", stats.ContextHistogram["work"])
	}
	if stats.ContextHistogram["personal"] != 1 {
		t.Errorf("personal context count = %d, want 1", stats.ContextHistogram["personal"])
	}
}
