package model

import "time"

// Message roles. System messages are structural and never enter chunk text;
// tool outputs are trimmed before indexing.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Segment states. A segment is open while its day is the owner's "today" and
// closed after nightly finalize. "Pending close" is derived, never stored: an
// open segment whose day is before the owner's today (Segments.ListPendingClose).
const (
	SegmentOpen   = "open"
	SegmentClosed = "closed"
)

// Embedding record states.
const (
	EmbeddingPending = "pending"
	EmbeddingReady   = "ready"
	EmbeddingError   = "error"
)

// Search result kinds.
const (
	KindChunk   = "chunk"
	KindSummary = "summary"
)

// Owner is a tenant. Embedding provider/model are per-owner configuration;
// changing them triggers a full rebuild of the owner's embedding records.
type Owner struct {
	OwnerID        string    `json:"ownerId"`
	TimeZone       string    `json:"timeZone"`
	EmbedProvider  string    `json:"embedProvider"`
	EmbedModel     string    `json:"embedModel"`
	EmbedDimension int       `json:"embedDimension"`
	CreationTime   time.Time `json:"creationTime"`
}

// Job is one unit of asynchronous work in the queue. Execution is
// at-least-once; handlers are idempotent.
type Job struct {
	ID       int64                  `json:"id"`
	Kind     string                 `json:"kind"`
	Key      string                 `json:"key"`
	Payload  map[string]interface{} `json:"payload"`
	Attempts int                    `json:"attempts"`
}

// Message is one turn in an append-only conversation log. Seq is assigned by
// the store and is strictly increasing per (owner, stream).
type Message struct {
	OwnerID      string    `json:"ownerId"`
	StreamID     string    `json:"streamId"`
	Seq          int64     `json:"seq"`
	Role         string    `json:"role"`
	Content      string    `json:"content"`
	CreationTime time.Time `json:"creationTime"`
}

// Segment is one calendar day of a stream in the owner's timezone. Summary and
// CoveredUntil are written only by the job coordinator; CoveredUntil never
// moves backward.
type Segment struct {
	SegmentID    string    `json:"segmentId"`
	OwnerID      string    `json:"ownerId"`
	StreamID     string    `json:"streamId"`
	Day          string    `json:"day"` // YYYY-MM-DD in owner's timezone
	FirstSeq     int64     `json:"firstSeq"`
	LastSeq      *int64    `json:"lastSeq,omitempty"` // set when closed
	Summary      string    `json:"summary,omitempty"`
	CoveredUntil int64     `json:"coveredUntil"` // 0: nothing summarized yet
	Status       string    `json:"status"`
	Marker       int64     `json:"marker"` // in-progress summarization watermark
	UpdateTime   time.Time `json:"updateTime"`
}

// Chunk is a contiguous window of messages within a segment, the unit of
// lexical and vector indexing. (OwnerID, StreamID, StartSeq, EndSeq) is unique.
type Chunk struct {
	ChunkID      string    `json:"chunkId"`
	OwnerID      string    `json:"ownerId"`
	StreamID     string    `json:"streamId"`
	SegmentID    string    `json:"segmentId"`
	StartSeq     int64     `json:"startSeq"`
	EndSeq       int64     `json:"endSeq"`
	Text         string    `json:"text"`
	Hash         string    `json:"hash"`
	TokenCount   int       `json:"tokenCount"`
	CreationTime time.Time `json:"creationTime"`
	UpdateTime   time.Time `json:"updateTime"`
}

// EmbeddingRecord tracks the vector for one embeddable unit (chunk or segment
// summary). At most one record exists per (owner, kind, target); a provider or
// model change resets every record for the owner to pending.
type EmbeddingRecord struct {
	OwnerID    string    `json:"ownerId"`
	TargetKind string    `json:"targetKind"` // chunk | summary
	TargetID   string    `json:"targetId"`
	Provider   string    `json:"provider"`
	Model      string    `json:"model"`
	Dimension  int       `json:"dimension"`
	Vector     []float32 `json:"vector,omitempty"`
	Status     string    `json:"status"`
	ErrorMsg   string    `json:"errorMsg,omitempty"`
	UpdateTime time.Time `json:"updateTime"`
}

// SearchResult is an ephemeral ranked hit; it is never persisted.
type SearchResult struct {
	Kind             string  `json:"kind"`
	TargetID         string  `json:"targetId"`
	StreamID         string  `json:"streamId"`
	Snippet          string  `json:"snippet"`
	Day              string  `json:"day"`
	LexicalScore     float64 `json:"lexicalScore"`
	VectorDistance   float64 `json:"vectorDistance"`
	CoveredBySummary bool    `json:"coveredBySummary"`
	Score            float64 `json:"score"`
}

// ContextBundle is the bounded prompt payload assembled for an agent turn.
type ContextBundle struct {
	TodaySummary     string    `json:"todaySummary,omitempty"`
	YesterdaySummary string    `json:"yesterdaySummary,omitempty"`
	RawWindow        []Message `json:"rawWindow"`
	Truncated        bool      `json:"truncated"`
}

// Window is a drill-down page of raw messages around a ranked hit.
type Window struct {
	Messages   []Message `json:"messages"`
	Truncated  bool      `json:"truncated"`
	NextBefore *int64    `json:"nextBefore,omitempty"`
	NextAfter  *int64    `json:"nextAfter,omitempty"`
}

// ListMessagesRequest captures filters for walking the message log.
type ListMessagesRequest struct {
	OwnerID  string
	StreamID string
	AfterSeq *int64
	Before   *int64
	Limit    int
}
