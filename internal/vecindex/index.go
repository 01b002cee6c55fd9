// Package vecindex provides nearest-neighbor search over ready embedding
// vectors, partitioned per owner.
package vecindex

import "context"

// Candidate is one nearest-neighbor hit. Distance is the index's raw metric
// (cosine distance); the ranker converts it to a similarity.
type Candidate struct {
	Kind     string
	TargetID string
	StreamID string
	Day      string
	Distance float64
}

// Index maintains the vector-search representation of chunks and summaries.
// All operations are scoped to one owner; a cross-owner query cannot be
// expressed.
type Index interface {
	Upsert(ctx context.Context, ownerID, kind, targetID string, vec []float32, payload map[string]interface{}) error
	Delete(ctx context.Context, ownerID, kind, targetID string) error
	// Purge drops every vector for the owner. Used by provider-change
	// rebuilds so stale-generation vectors never mix into a candidate set.
	Purge(ctx context.Context, ownerID string) error
	// Search returns the topK nearest candidates for the query vector,
	// optionally restricted to one stream (empty streamID means all).
	Search(ctx context.Context, ownerID, streamID string, vec []float32, topK int) ([]Candidate, error)
}

// HealthPinger is optionally implemented by an Index.
type HealthPinger interface {
	HealthPing(ctx context.Context) error
}
