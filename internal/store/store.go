package store

import (
	"context"

	"github.com/chronologue/chronologue/internal/model"
)

// Store exposes persistence operations required by the engine.
// Implementations live under internal/store/<driver>/ (postgres, memstore).
// Every query is owner-scoped at the lowest data-access layer; no cross-owner
// read or write can be constructed through these interfaces.
type Store interface {
	Owners() Owners
	Messages() Messages
	Segments() Segments
	Chunks() Chunks
	Embeddings() Embeddings
	Jobs() Jobs
	Locks() Locks
}

type Owners interface {
	Put(ctx context.Context, o *model.Owner) (*model.Owner, error)
	Get(ctx context.Context, ownerID string) (*model.Owner, error)
	List(ctx context.Context) ([]*model.Owner, error)
}

// Messages is the append-only conversation log. Append assigns the next
// per-(owner, stream) sequence number.
type Messages interface {
	Append(ctx context.Context, m *model.Message) (*model.Message, error)
	Get(ctx context.Context, ownerID, streamID string, seq int64) (*model.Message, error)
	// ListRange returns messages with fromSeq <= seq <= toSeq in ascending order.
	ListRange(ctx context.Context, ownerID, streamID string, fromSeq, toSeq int64) ([]*model.Message, error)
	// List walks the log with AfterSeq/Before filters; descending when Before
	// is set, ascending when AfterSeq is set.
	List(ctx context.Context, req model.ListMessagesRequest) ([]*model.Message, error)
	LastSeq(ctx context.Context, ownerID, streamID string) (int64, error)
}

type Segments interface {
	// ResolveOrCreate inserts the segment if no segment exists for its
	// (owner, stream, day) and returns the stored row either way. The insert
	// races safely: it is create-if-absent under a unique constraint, not
	// check-then-insert.
	ResolveOrCreate(ctx context.Context, s *model.Segment) (*model.Segment, error)
	Get(ctx context.Context, ownerID, segmentID string) (*model.Segment, error)
	GetByIDs(ctx context.Context, ownerID string, segmentIDs []string) (map[string]*model.Segment, error)
	GetByDay(ctx context.Context, ownerID, streamID, day string) (*model.Segment, error)
	// NextAfter returns the stream's earliest segment whose day sorts
	// strictly after the given day, or ErrNotFound. Used to bound a closing
	// segment when later days already exist.
	NextAfter(ctx context.Context, ownerID, streamID, day string) (*model.Segment, error)
	// ListPendingClose returns non-closed segments whose day sorts strictly
	// before the given day label.
	ListPendingClose(ctx context.Context, ownerID, beforeDay string) ([]*model.Segment, error)
	// SetMarker writes the in-progress summarization watermark. Called with
	// the segment lock held.
	SetMarker(ctx context.Context, ownerID, segmentID string, marker int64) error
	// ApplySummary stores the summary and advances covered-until, but only if
	// the stored marker still equals the given one; otherwise it returns
	// model.ErrStaleUpdate and writes nothing. Covered-until never moves
	// backward regardless of input.
	ApplySummary(ctx context.Context, ownerID, segmentID, summary string, coveredUntil, marker int64) error
	// Close finalizes the segment: sets last-seq and status closed. No-op if
	// already closed.
	Close(ctx context.Context, ownerID, segmentID string, lastSeq int64) error
}

type Chunks interface {
	// Upsert inserts the chunk or, when a chunk with the same boundaries
	// already exists, updates it only if the content hash differs. The bool
	// reports whether anything was written.
	Upsert(ctx context.Context, c *model.Chunk) (*model.Chunk, bool, error)
	Get(ctx context.Context, ownerID, chunkID string) (*model.Chunk, error)
	GetByIDs(ctx context.Context, ownerID string, chunkIDs []string) (map[string]*model.Chunk, error)
	ListBySegment(ctx context.Context, ownerID, segmentID string) ([]*model.Chunk, error)
	Delete(ctx context.Context, ownerID, chunkID string) error
}

type Embeddings interface {
	// Put creates or replaces the record for (owner, kind, target).
	Put(ctx context.Context, r *model.EmbeddingRecord) error
	Get(ctx context.Context, ownerID, targetKind, targetID string) (*model.EmbeddingRecord, error)
	MarkReady(ctx context.Context, ownerID, targetKind, targetID string, vector []float32, dim int) error
	MarkError(ctx context.Context, ownerID, targetKind, targetID, errMsg string) error
	// ResetAllPending flips every record for the owner back to pending with
	// the new provider metadata and clears errors and vectors. It returns the
	// affected targets with summaries ordered before chunks.
	ResetAllPending(ctx context.Context, ownerID, provider, mdl string, dim int) ([]*model.EmbeddingRecord, error)
	Delete(ctx context.Context, ownerID, targetKind, targetID string) error
}

// Jobs is the durable at-least-once work queue. LeaseBatch returns due jobs
// and guards them against concurrent workers; MarkFailed schedules a bounded
// exponential-backoff retry.
type Jobs interface {
	Enqueue(ctx context.Context, kind, key string, payload map[string]interface{}) error
	LeaseBatch(ctx context.Context, n int) ([]*model.Job, error)
	MarkDone(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64) error
}

// Locks provides exclusive advisory locks scoped to a string key, used for
// per-(owner, segment) finalize/recompute exclusivity and per-owner embedding
// rebuilds. TryAcquire never blocks: ok=false means someone else holds it.
type Locks interface {
	TryAcquire(ctx context.Context, key string) (release func(), ok bool, err error)
}
