// Package config defines the tunables for a memory store instance and
// validates them at construction time.
package config

import (
	"time"

	"github.com/chronoindex/chronoindex/pkg/temporal"
)

// MemoryConfig holds every tunable for a memory store instance: capacity,
// decay, temporal-weighting, consolidation, and context-window behavior.
type MemoryConfig struct {
	Dimension            int
	MaxMemories          int
	MinImportance        float32
	MaxImportance        float32
	BaseDecayRate        float32
	TemporalWeight       float32
	SimilarityThreshold  float32
	MaxRelationships     int
	ConsolidationWindow  time.Duration
	SimilarMemoryCount   int
	MaxContextWindow     int
	AutoCleanupEnabled   bool
	CleanupInterval      time.Duration
}

// DefaultConfig returns the defaults the original memory system shipped
// with (BERT-base dimensionality, 30% temporal weighting).
func DefaultConfig() MemoryConfig {
	return MemoryConfig{
		Dimension:           768,
		MaxMemories:         1000,
		MinImportance:       0.0,
		MaxImportance:       1.0,
		BaseDecayRate:       0.1,
		TemporalWeight:      0.3,
		SimilarityThreshold: 0.8,
		MaxRelationships:    50,
		ConsolidationWindow: 24 * time.Hour,
		SimilarMemoryCount:  10,
		MaxContextWindow:    1000,
		AutoCleanupEnabled:  false,
		CleanupInterval:     time.Hour,
	}
}

// Validate rejects configurations that would make the store's invariants
// unsatisfiable, including the score-composition constraint
// temporal_weight + 0.3 <= 1 — 0.3 is the fixed importance weight used by
// SearchSimilar's blended score, so the remaining distance weight must
// stay non-negative.
func (c MemoryConfig) Validate() error {
	switch {
	case c.Dimension <= 0:
		return &temporal.ConfigError{Reason: "dimension must be greater than 0"}
	case c.MaxMemories <= 0:
		return &temporal.ConfigError{Reason: "max_memories must be greater than 0"}
	case c.MinImportance < 0 || c.MinImportance > 1:
		return &temporal.ConfigError{Reason: "min_importance must be in [0, 1]"}
	case c.MaxImportance < c.MinImportance || c.MaxImportance > 1:
		return &temporal.ConfigError{Reason: "max_importance must be in [min_importance, 1]"}
	case c.BaseDecayRate <= 0 || c.BaseDecayRate >= 1:
		return &temporal.ConfigError{Reason: "base_decay_rate must be in (0, 1)"}
	case c.SimilarityThreshold <= 0 || c.SimilarityThreshold >= 1:
		return &temporal.ConfigError{Reason: "similarity_threshold must be in (0, 1)"}
	case c.MaxRelationships <= 0:
		return &temporal.ConfigError{Reason: "max_relationships must be greater than 0"}
	case c.ConsolidationWindow <= 0:
		return &temporal.ConfigError{Reason: "consolidation_window must be greater than 0"}
	case c.SimilarMemoryCount <= 0:
		return &temporal.ConfigError{Reason: "similar_memory_count must be greater than 0"}
	case c.MaxContextWindow <= 0:
		return &temporal.ConfigError{Reason: "max_context_window must be greater than 0"}
	case c.TemporalWeight < 0 || c.TemporalWeight > 1:
		return &temporal.ConfigError{Reason: "temporal_weight must be in [0, 1]"}
	case c.TemporalWeight+0.3 > 1:
		return &temporal.ConfigError{Reason: "temporal_weight + 0.3 must not exceed 1 (search_similar's fixed importance weight)"}
	case c.AutoCleanupEnabled && c.CleanupInterval <= 0:
		return &temporal.ConfigError{Reason: "cleanup_interval must be greater than 0 when auto cleanup is enabled"}
	}
	return nil
}

// Bounds extracts the importance and relationship-count bounds
// temporal.Validate needs.
func (c MemoryConfig) Bounds() temporal.Bounds {
	return temporal.Bounds{
		MinImportance:    c.MinImportance,
		MaxImportance:    c.MaxImportance,
		MaxRelationships: c.MaxRelationships,
	}
}
