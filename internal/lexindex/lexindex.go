// Package lexindex provides the keyword half of hybrid retrieval: a BM25
// full-text index over chunk texts and segment summaries.
package lexindex

import "context"

// Hit is one keyword match. Score is a positive BM25 relevance value where
// higher means more relevant.
type Hit struct {
	Kind     string
	TargetID string
	StreamID string
	Day      string
	Score    float64
}

// Index is the lexical side of retrieval. All reads and writes are
// owner-scoped.
type Index interface {
	// Upsert indexes (or re-indexes) the text for a target.
	Upsert(ctx context.Context, ownerID, kind, targetID, streamID, day, text string) error
	Delete(ctx context.Context, ownerID, kind, targetID string) error
	// Search returns up to topK BM25-ranked hits for the query. streamID
	// narrows to one stream when non-empty. A query with no indexable terms
	// returns no hits.
	Search(ctx context.Context, ownerID, streamID, query string, topK int) ([]Hit, error)
	// ListRecent returns targets ordered by day descending then target id
	// ascending, for match-all retrieval.
	ListRecent(ctx context.Context, ownerID, streamID string, limit int) ([]Hit, error)
	Close() error
}
