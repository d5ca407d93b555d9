// Package memorypressure monitors store capacity on a ticker, triggering
// decay and consolidation before the store hits a hard capacity wall.
// Process memory figures are read and reported alongside, but do not
// trigger anything.
package memorypressure

import (
	"runtime"
	"sync"
	"time"

	"github.com/chronoindex/chronoindex/pkg/logging"
	"github.com/chronoindex/chronoindex/pkg/metrics"
	"github.com/chronoindex/chronoindex/pkg/store"
)

// Config tunes the pressure monitor's check interval and the capacity
// ratios that trigger decay versus consolidation.
type Config struct {
	CheckInterval        time.Duration
	MaxMemoryBytes       int64 // not consulted: process memory is reported, never checked against a limit
	DecayThreshold       float64
	ConsolidateThreshold float64
}

// DefaultConfig returns conservative thresholds: decay once the store is
// 75% full, consolidate once it is 90% full.
func DefaultConfig() *Config {
	return &Config{
		CheckInterval:        time.Minute,
		MaxMemoryBytes:       0,
		DecayThreshold:       0.75,
		ConsolidateThreshold: 0.90,
	}
}

// Manager periodically checks a store's capacity, running ApplyDecay and
// Consolidate before the store refuses new saves, and records process
// memory usage in each check's PressureStats.
type Manager struct {
	config  *Config
	store   *store.Store
	log     *logging.Logger
	metrics *metrics.Collector

	stopCh chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	lastCheck PressureStats
}

// NewManager creates a pressure monitor over s. A nil config uses
// DefaultConfig; a nil logger disables logging; a nil collector
// disables gauge reporting.
func NewManager(config *Config, s *store.Store, log *logging.Logger, collector *metrics.Collector) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	return &Manager{
		config:  config,
		store:   s,
		log:     log,
		metrics: collector,
		stopCh:  make(chan struct{}),
	}
}

// Start begins the background monitor loop.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.monitorLoop()
}

// Stop halts the monitor loop and waits for it to exit.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *Manager) monitorLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.checkPressure()
		}
	}
}

func (m *Manager) checkPressure() {
	stats := m.store.Stats()
	capacityUsed := float64(stats.CapacityUsed)

	var consolidated, decayed bool
	if capacityUsed >= m.config.ConsolidateThreshold {
		if err := m.store.Consolidate(); err != nil && m.log != nil {
			m.log.Warn("consolidate under pressure failed: %v", err)
		}
		consolidated = true
	}
	if capacityUsed >= m.config.DecayThreshold {
		if err := m.store.ApplyDecay(m.config.CheckInterval); err != nil && m.log != nil {
			m.log.Warn("decay under pressure failed: %v", err)
		}
		decayed = true
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.mu.Lock()
	m.lastCheck = PressureStats{
		AllocatedBytes: int64(memStats.Alloc),
		SystemBytes:    int64(memStats.Sys),
		NumGC:          memStats.NumGC,
		CapacityUsed:   stats.CapacityUsed,
		RecordCount:    stats.Total,
		Decayed:        decayed,
		Consolidated:   consolidated,
	}
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.Gauge("memorypressure.capacity_used_permille", int64(capacityUsed*1000))
		m.metrics.Gauge("memorypressure.record_count", int64(stats.Total))
		m.metrics.Gauge("memorypressure.allocated_bytes", int64(memStats.Alloc))
	}

	if m.log != nil && (decayed || consolidated) {
		m.log.Info("pressure check: capacity=%.2f decayed=%v consolidated=%v", capacityUsed, decayed, consolidated)
	}
}

// LastCheck returns the outcome of the most recent pressure check.
func (m *Manager) LastCheck() PressureStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCheck
}

// PressureStats snapshots one pressure check's findings.
type PressureStats struct {
	AllocatedBytes int64
	SystemBytes    int64
	NumGC          uint32
	CapacityUsed   float32
	RecordCount    int
	Decayed        bool
	Consolidated   bool
}
