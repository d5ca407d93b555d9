// Package temporal defines the data model stored by the memory index:
// vectors carrying per-item temporal metadata such as recency,
// importance, and inter-item relationships.
package temporal

import (
	"math"
	"time"
)

// Vector is a fixed-dimensional floating point embedding identified by id.
type Vector struct {
	ID   string
	Data []float32
}

// MemoryAttributes holds the temporal metadata attached to a stored vector.
type MemoryAttributes struct {
	CreatedAt     time.Time
	LastAccess    time.Time
	Importance    float32
	Context       string
	DecayRate     float32
	Relationships map[string]struct{}
	AccessCount   uint64
}

// CloneRelationships returns an independent copy of the relationship set.
func (a MemoryAttributes) CloneRelationships() map[string]struct{} {
	out := make(map[string]struct{}, len(a.Relationships))
	for id := range a.Relationships {
		out[id] = struct{}{}
	}
	return out
}

// TemporalRecord is one stored item: a vector plus its temporal attributes.
// Canonical equality is by Vector.ID.
type TemporalRecord struct {
	Vector     Vector
	Attributes MemoryAttributes
}

// Clone returns a deep copy safe to hand to a caller outside the store's lock.
func (r TemporalRecord) Clone() TemporalRecord {
	data := make([]float32, len(r.Vector.Data))
	copy(data, r.Vector.Data)
	return TemporalRecord{
		Vector: Vector{ID: r.Vector.ID, Data: data},
		Attributes: MemoryAttributes{
			CreatedAt:     r.Attributes.CreatedAt,
			LastAccess:    r.Attributes.LastAccess,
			Importance:    r.Attributes.Importance,
			Context:       r.Attributes.Context,
			DecayRate:     r.Attributes.DecayRate,
			Relationships: r.Attributes.CloneRelationships(),
			AccessCount:   r.Attributes.AccessCount,
		},
	}
}

// Merge returns the record produced by saving `incoming` over `existing`:
// attributes replace except relationships, which are set-unioned.
func Merge(existing, incoming TemporalRecord) TemporalRecord {
	merged := incoming.Clone()
	union := existing.Attributes.CloneRelationships()
	for id := range incoming.Attributes.Relationships {
		union[id] = struct{}{}
	}
	merged.Attributes.Relationships = union
	return merged
}

// Bounds constrains the valid range for importance, plus the maximum
// number of relationships a single record may carry. The decay-rate
// range (0, 1] is fixed in Validate, not configured here.
type Bounds struct {
	MinImportance    float32
	MaxImportance    float32
	MaxRelationships int
}

// Validate checks the invariants a stored record must satisfy: dimension
// match, finite components, importance/decay bounds, non-empty context.
// It does not check relationships against the store's id set — dangling
// relationship ids are permitted and only skipped at traversal time.
func (r TemporalRecord) Validate(dimension int, bounds Bounds) error {
	if len(r.Vector.Data) != dimension {
		return &DimensionError{Got: len(r.Vector.Data), Expected: dimension}
	}
	if len(r.Vector.Data) == 0 {
		return ErrInvalidVectorData
	}
	for _, x := range r.Vector.Data {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return ErrInvalidVectorData
		}
	}
	if r.Attributes.Importance < bounds.MinImportance || r.Attributes.Importance > bounds.MaxImportance {
		return &InvalidImportanceError{Value: r.Attributes.Importance, Bounds: bounds}
	}
	if r.Attributes.DecayRate <= 0 || r.Attributes.DecayRate > 1 {
		return &InvalidAttributesError{Reason: "decay_rate must be in (0, 1]"}
	}
	if r.Attributes.Context == "" {
		return &InvalidAttributesError{Reason: "context must be non-empty"}
	}
	if bounds.MaxRelationships > 0 && len(r.Attributes.Relationships) > bounds.MaxRelationships {
		return &InvalidAttributesError{Reason: "relationships exceed max_relationships"}
	}
	return nil
}

// TemporalScore returns exp(-0.1 * age_seconds), a value in (0, 1] that
// decreases monotonically with age.
func TemporalScore(timestamp, now time.Time) float32 {
	age := now.Sub(timestamp).Seconds()
	if age < 0 {
		age = 0
	}
	return float32(math.Exp(-0.1 * age))
}

// ContextSummary aggregates the records sharing one context tag.
type ContextSummary struct {
	Context           string
	MemoryCount       int
	MeanImportance    float32
	Centroid          []float32
	TopRelationships  []RelationshipFrequency
}

// RelationshipFrequency pairs a related id with how often it appears.
type RelationshipFrequency struct {
	ID    string
	Count int
}

// Stats aggregates over the whole store.
type Stats struct {
	Total              int
	CapacityUsed       float32
	MeanImportance     float32
	ContextHistogram   map[string]int
	TopRelationships   []RelationshipFrequency
}
