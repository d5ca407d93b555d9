// Package engine provides the facade a caller embeds: a single memory
// store wired to logging, metrics, pressure monitoring, and snapshotting,
// plus a bounded log of recent search diagnostics for debugging.
package engine

import (
	"container/list"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chronoindex/chronoindex/pkg/backup"
	"github.com/chronoindex/chronoindex/pkg/config"
	"github.com/chronoindex/chronoindex/pkg/logging"
	"github.com/chronoindex/chronoindex/pkg/memorypressure"
	"github.com/chronoindex/chronoindex/pkg/metrics"
	"github.com/chronoindex/chronoindex/pkg/store"
	"github.com/chronoindex/chronoindex/pkg/temporal"
)

// MaxDiagnosticsEntries bounds the in-memory search diagnostics log.
const MaxDiagnosticsEntries = 10000

// diagnosticsLRU is a capacity-bounded cache of recent search
// diagnostics, evicting least-recently-set entries once full.
type diagnosticsLRU struct {
	mu       sync.RWMutex
	capacity int
	items    map[uint64]*list.Element
	order    *list.List
}

type diagnosticsEntry struct {
	id   uint64
	diag SearchDiagnostics
}

func newDiagnosticsLRU(capacity int) *diagnosticsLRU {
	return &diagnosticsLRU{
		capacity: capacity,
		items:    make(map[uint64]*list.Element),
		order:    list.New(),
	}
}

func (c *diagnosticsLRU) Set(id uint64, diag SearchDiagnostics) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[id]; ok {
		c.order.MoveToFront(elem)
		elem.Value.(*diagnosticsEntry).diag = diag
		return
	}

	for c.order.Len() >= c.capacity {
		back := c.order.Back()
		if back == nil {
			break
		}
		entry := back.Value.(*diagnosticsEntry)
		delete(c.items, entry.id)
		c.order.Remove(back)
	}

	entry := &diagnosticsEntry{id: id, diag: diag}
	elem := c.order.PushFront(entry)
	c.items[id] = elem
}

func (c *diagnosticsLRU) Get(id uint64) (SearchDiagnostics, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	elem, ok := c.items[id]
	if !ok {
		return SearchDiagnostics{}, false
	}
	return elem.Value.(*diagnosticsEntry).diag, true
}

func (c *diagnosticsLRU) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.order.Len()
}

// SearchDiagnostics records one SearchSimilar or SearchByContext call for
// later inspection via Explain.
type SearchDiagnostics struct {
	QueryID     uint64
	Kind        string // "similar" or "context"
	Query       string // context tag, or "<vector>" for SearchSimilar
	K           int
	ResultCount int
	Duration    time.Duration
	Timestamp   time.Time
}

// Service is the embeddable facade over a memory store: construction,
// logging, metrics, pressure monitoring, snapshotting, and search
// diagnostics all wired together.
type Service struct {
	store   *store.Store
	log     *logging.Logger
	metrics *metrics.Collector
	monitor *memorypressure.Manager

	diagnostics *diagnosticsLRU
	queryIDGen  atomic.Uint64
}

// New constructs a Service: a memory store validated against cfg, a
// logger from logCfg, a metrics collector, and (if cfg.AutoCleanupEnabled)
// a pressure monitor ticking at cfg.CleanupInterval.
func New(cfg config.MemoryConfig, logCfg logging.Config) (*Service, error) {
	log, err := logging.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	collector := metrics.NewCollector()
	s, err := store.New(cfg, log, collector)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	svc := &Service{
		store:       s,
		log:         log,
		metrics:     collector,
		diagnostics: newDiagnosticsLRU(MaxDiagnosticsEntries),
	}

	if cfg.AutoCleanupEnabled {
		pressureCfg := memorypressure.DefaultConfig()
		pressureCfg.CheckInterval = cfg.CleanupInterval
		svc.monitor = memorypressure.NewManager(pressureCfg, s, log, collector)
		svc.monitor.Start()
	}

	log.Info("engine started: dimension=%d max_memories=%d", cfg.Dimension, cfg.MaxMemories)
	return svc, nil
}

// Close stops the pressure monitor, if running, and closes the logger.
func (svc *Service) Close() error {
	if svc.monitor != nil {
		svc.monitor.Stop()
	}
	return svc.log.Close()
}

// Save stores or merges a record.
func (svc *Service) Save(rec temporal.TemporalRecord) error {
	return svc.store.Save(rec)
}

// Get retrieves a record by id, recording an access.
func (svc *Service) Get(id string) (temporal.TemporalRecord, error) {
	return svc.store.Get(id)
}

// SearchSimilar runs a temporal-weighted similarity search and logs
// diagnostics retrievable via Explain.
func (svc *Service) SearchSimilar(query []float32, k int) ([]store.ScoredRecord, uint64, error) {
	start := time.Now()
	results, err := svc.store.SearchSimilar(query, k)
	elapsed := time.Since(start)

	queryID := svc.queryIDGen.Add(1)
	svc.diagnostics.Set(queryID, SearchDiagnostics{
		QueryID:     queryID,
		Kind:        "similar",
		Query:       "<vector>",
		K:           k,
		ResultCount: len(results),
		Duration:    elapsed,
		Timestamp:   start,
	})
	if svc.metrics != nil {
		svc.metrics.Histogram("engine.search_similar_ms", float64(elapsed.Microseconds())/1000)
	}
	return results, queryID, err
}

// SearchByContext ranks records tagged with context against query and
// logs diagnostics retrievable via Explain.
func (svc *Service) SearchByContext(context string, query []float32, limit int) ([]store.ScoredRecord, uint64, error) {
	start := time.Now()
	results, err := svc.store.SearchByContext(context, query, limit)
	elapsed := time.Since(start)

	queryID := svc.queryIDGen.Add(1)
	svc.diagnostics.Set(queryID, SearchDiagnostics{
		QueryID:     queryID,
		Kind:        "context",
		Query:       context,
		K:           limit,
		ResultCount: len(results),
		Duration:    elapsed,
		Timestamp:   start,
	})
	if svc.metrics != nil {
		svc.metrics.Histogram("engine.search_by_context_ms", float64(elapsed.Microseconds())/1000)
	}
	return results, queryID, err
}

// Explain returns the diagnostics recorded for a prior search call.
func (svc *Service) Explain(queryID uint64) (SearchDiagnostics, bool) {
	return svc.diagnostics.Get(queryID)
}

// GetRelated returns records reachable from id's relationship graph.
func (svc *Service) GetRelated(id string, maxDepth int) ([]temporal.TemporalRecord, error) {
	return svc.store.GetRelated(id, maxDepth)
}

// GetContextSummary aggregates the records tagged with context.
func (svc *Service) GetContextSummary(context string) (temporal.ContextSummary, bool) {
	return svc.store.GetContextSummary(context)
}

// ImportantMemories returns every record at or above threshold.
func (svc *Service) ImportantMemories(threshold float32) []temporal.TemporalRecord {
	return svc.store.ImportantMemories(threshold)
}

// CompressContext synthesizes a representative record for context
// without mutating the store.
func (svc *Service) CompressContext(context string) (temporal.TemporalRecord, bool) {
	return svc.store.CompressContext(context)
}

// ApplyDecay ages importance down across every record. window matches
// the external apply_decay(window_duration) interface shape.
func (svc *Service) ApplyDecay(window time.Duration) error {
	return svc.store.ApplyDecay(window)
}

// Consolidate merges every near-duplicate record pair above the
// configured similarity threshold.
func (svc *Service) Consolidate() error {
	return svc.store.Consolidate()
}

// Stats summarizes the whole store.
func (svc *Service) Stats() temporal.Stats {
	return svc.store.Stats()
}

// MetricsSnapshot returns a point-in-time metrics snapshot.
func (svc *Service) MetricsSnapshot() *metrics.Snapshot {
	return svc.metrics.Snapshot()
}

// Snapshot writes a full point-in-time backup of the store to path.
func (svc *Service) Snapshot(path string) error {
	return backup.SaveStore(path, svc.store)
}

// Restore replaces the store's contents with a snapshot written by
// Snapshot.
func (svc *Service) Restore(path string) error {
	return backup.LoadStore(path, svc.store)
}

// PressureStats returns the most recent pressure-monitor check, or the
// zero value if no monitor is running.
func (svc *Service) PressureStats() memorypressure.PressureStats {
	if svc.monitor == nil {
		return memorypressure.PressureStats{}
	}
	return svc.monitor.LastCheck()
}
