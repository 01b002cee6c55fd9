// Package memstore is an in-memory Store used by unit tests and the local
// build target. It mirrors the Postgres adapter's semantics, including the
// marker check in ApplySummary and covered-until monotonicity.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chronologue/chronologue/internal/model"
	"github.com/chronologue/chronologue/internal/store"
)

// New returns an empty in-memory store.
func New() store.Store {
	return &memStore{
		owners:   map[string]*model.Owner{},
		messages: map[string][]*model.Message{},
		segments: map[string]map[string]*model.Segment{},
		chunks:   map[string]map[string]*model.Chunk{},
		records:  map[string]map[string]*model.EmbeddingRecord{},
		locks:    map[string]bool{},
	}
}

type memStore struct {
	mu       sync.Mutex
	owners   map[string]*model.Owner
	messages map[string][]*model.Message            // owner|stream -> ordered log
	segments map[string]map[string]*model.Segment   // owner -> segmentID -> segment
	chunks   map[string]map[string]*model.Chunk     // owner -> chunkID -> chunk
	records  map[string]map[string]*model.EmbeddingRecord // owner -> kind|target -> record
	jobs     []*memJob
	nextJob  int64
	locks    map[string]bool
}

type memJob struct {
	model.Job
	status  string
	dueAt   time.Time
}

func streamKey(ownerID, streamID string) string { return ownerID + "|" + streamID }
func recordKey(kind, target string) string      { return kind + "|" + target }

func (s *memStore) Owners() store.Owners         { return (*memOwners)(s) }
func (s *memStore) Messages() store.Messages     { return (*memMessages)(s) }
func (s *memStore) Segments() store.Segments     { return (*memSegments)(s) }
func (s *memStore) Chunks() store.Chunks         { return (*memChunks)(s) }
func (s *memStore) Embeddings() store.Embeddings { return (*memEmbeddings)(s) }
func (s *memStore) Jobs() store.Jobs             { return (*memJobs)(s) }
func (s *memStore) Locks() store.Locks           { return (*memLocks)(s) }

// HealthPing implements health.HealthPinger.
func (s *memStore) HealthPing(ctx context.Context) error { return nil }

// --- Owners ---

type memOwners memStore

func (o *memOwners) Put(ctx context.Context, m *model.Owner) (*model.Owner, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := *m
	if existing, ok := o.owners[m.OwnerID]; ok {
		out.CreationTime = existing.CreationTime
	} else {
		out.CreationTime = time.Now().UTC()
	}
	o.owners[m.OwnerID] = &out
	cp := out
	return &cp, nil
}

func (o *memOwners) Get(ctx context.Context, ownerID string) (*model.Owner, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	m, ok := o.owners[ownerID]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (o *memOwners) List(ctx context.Context) ([]*model.Owner, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*model.Owner, 0, len(o.owners))
	for _, m := range o.owners {
		cp := *m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OwnerID < out[j].OwnerID })
	return out, nil
}

// --- Messages ---

type memMessages memStore

func (e *memMessages) Append(ctx context.Context, m *model.Message) (*model.Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := streamKey(m.OwnerID, m.StreamID)
	log := e.messages[key]
	out := *m
	out.Seq = int64(len(log)) + 1
	if out.CreationTime.IsZero() {
		out.CreationTime = time.Now().UTC()
	}
	e.messages[key] = append(log, &out)
	cp := out
	return &cp, nil
}

func (e *memMessages) Get(ctx context.Context, ownerID, streamID string, seq int64) (*model.Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	log := e.messages[streamKey(ownerID, streamID)]
	if seq < 1 || seq > int64(len(log)) {
		return nil, model.ErrNotFound
	}
	cp := *log[seq-1]
	return &cp, nil
}

func (e *memMessages) ListRange(ctx context.Context, ownerID, streamID string, fromSeq, toSeq int64) ([]*model.Message, error) {
	if fromSeq > toSeq {
		return nil, model.ErrInvalidRange
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	log := e.messages[streamKey(ownerID, streamID)]
	var out []*model.Message
	for _, m := range log {
		if m.Seq >= fromSeq && m.Seq <= toSeq {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (e *memMessages) List(ctx context.Context, req model.ListMessagesRequest) ([]*model.Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	log := e.messages[streamKey(req.OwnerID, req.StreamID)]
	var out []*model.Message
	if req.Before != nil {
		for i := len(log) - 1; i >= 0; i-- {
			if log[i].Seq < *req.Before {
				cp := *log[i]
				out = append(out, &cp)
				if req.Limit > 0 && len(out) >= req.Limit {
					break
				}
			}
		}
		return out, nil
	}
	for _, m := range log {
		if req.AfterSeq != nil && m.Seq <= *req.AfterSeq {
			continue
		}
		cp := *m
		out = append(out, &cp)
		if req.Limit > 0 && len(out) >= req.Limit {
			break
		}
	}
	return out, nil
}

func (e *memMessages) LastSeq(ctx context.Context, ownerID, streamID string) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return int64(len(e.messages[streamKey(ownerID, streamID)])), nil
}

// --- Segments ---

type memSegments memStore

func (s *memSegments) ResolveOrCreate(ctx context.Context, seg *model.Segment) (*model.Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID := s.segments[seg.OwnerID]
	if byID == nil {
		byID = map[string]*model.Segment{}
		s.segments[seg.OwnerID] = byID
	}
	for _, existing := range byID {
		if existing.StreamID == seg.StreamID && existing.Day == seg.Day {
			cp := *existing
			return &cp, nil
		}
	}
	out := *seg
	if out.SegmentID == "" {
		out.SegmentID = uuid.New().String()
	}
	out.Status = model.SegmentOpen
	out.CoveredUntil = 0
	out.Marker = 0
	out.UpdateTime = time.Now().UTC()
	byID[out.SegmentID] = &out
	cp := out
	return &cp, nil
}

func (s *memSegments) Get(ctx context.Context, ownerID, segmentID string) (*model.Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(ownerID, segmentID)
}

func (s *memSegments) getLocked(ownerID, segmentID string) (*model.Segment, error) {
	seg, ok := s.segments[ownerID][segmentID]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *seg
	return &cp, nil
}

func (s *memSegments) GetByIDs(ctx context.Context, ownerID string, segmentIDs []string) (map[string]*model.Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*model.Segment, len(segmentIDs))
	for _, id := range segmentIDs {
		if seg, ok := s.segments[ownerID][id]; ok {
			cp := *seg
			out[id] = &cp
		}
	}
	return out, nil
}

func (s *memSegments) GetByDay(ctx context.Context, ownerID, streamID, day string) (*model.Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, seg := range s.segments[ownerID] {
		if seg.StreamID == streamID && seg.Day == day {
			cp := *seg
			return &cp, nil
		}
	}
	return nil, model.ErrNotFound
}

func (s *memSegments) NextAfter(ctx context.Context, ownerID, streamID, day string) (*model.Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *model.Segment
	for _, seg := range s.segments[ownerID] {
		if seg.StreamID != streamID || seg.Day <= day {
			continue
		}
		if best == nil || seg.Day < best.Day {
			best = seg
		}
	}
	if best == nil {
		return nil, model.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (s *memSegments) ListPendingClose(ctx context.Context, ownerID, beforeDay string) ([]*model.Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Segment
	for _, seg := range s.segments[ownerID] {
		if seg.Day < beforeDay && seg.Status != model.SegmentClosed {
			cp := *seg
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out, nil
}

func (s *memSegments) SetMarker(ctx context.Context, ownerID, segmentID string, marker int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	seg, ok := s.segments[ownerID][segmentID]
	if !ok {
		return model.ErrNotFound
	}
	seg.Marker = marker
	seg.UpdateTime = time.Now().UTC()
	return nil
}

func (s *memSegments) ApplySummary(ctx context.Context, ownerID, segmentID, summary string, coveredUntil, marker int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	seg, ok := s.segments[ownerID][segmentID]
	if !ok || seg.Marker != marker {
		return model.ErrStaleUpdate
	}
	seg.Summary = summary
	if coveredUntil > seg.CoveredUntil {
		seg.CoveredUntil = coveredUntil
	}
	seg.UpdateTime = time.Now().UTC()
	return nil
}

func (s *memSegments) Close(ctx context.Context, ownerID, segmentID string, lastSeq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	seg, ok := s.segments[ownerID][segmentID]
	if !ok {
		return model.ErrNotFound
	}
	if seg.Status == model.SegmentClosed {
		return nil
	}
	seg.LastSeq = &lastSeq
	seg.Status = model.SegmentClosed
	seg.UpdateTime = time.Now().UTC()
	return nil
}

// --- Chunks ---

type memChunks memStore

func (c *memChunks) Upsert(ctx context.Context, m *model.Chunk) (*model.Chunk, bool, error) {
	if m.StartSeq > m.EndSeq {
		return nil, false, model.ErrInvalidRange
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	byID := c.chunks[m.OwnerID]
	if byID == nil {
		byID = map[string]*model.Chunk{}
		c.chunks[m.OwnerID] = byID
	}
	for _, existing := range byID {
		if existing.StreamID == m.StreamID && existing.StartSeq == m.StartSeq && existing.EndSeq == m.EndSeq {
			if existing.Hash == m.Hash {
				cp := *existing
				return &cp, false, nil
			}
			existing.Text = m.Text
			existing.Hash = m.Hash
			existing.TokenCount = m.TokenCount
			existing.UpdateTime = time.Now().UTC()
			cp := *existing
			return &cp, true, nil
		}
	}
	out := *m
	if out.ChunkID == "" {
		out.ChunkID = uuid.New().String()
	}
	now := time.Now().UTC()
	out.CreationTime = now
	out.UpdateTime = now
	byID[out.ChunkID] = &out
	cp := out
	return &cp, true, nil
}

func (c *memChunks) Get(ctx context.Context, ownerID, chunkID string) (*model.Chunk, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.chunks[ownerID][chunkID]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *ch
	return &cp, nil
}

func (c *memChunks) GetByIDs(ctx context.Context, ownerID string, chunkIDs []string) (map[string]*model.Chunk, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]*model.Chunk, len(chunkIDs))
	for _, id := range chunkIDs {
		if ch, ok := c.chunks[ownerID][id]; ok {
			cp := *ch
			out[id] = &cp
		}
	}
	return out, nil
}

func (c *memChunks) ListBySegment(ctx context.Context, ownerID, segmentID string) ([]*model.Chunk, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*model.Chunk
	for _, ch := range c.chunks[ownerID] {
		if ch.SegmentID == segmentID {
			cp := *ch
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartSeq < out[j].StartSeq })
	return out, nil
}

func (c *memChunks) Delete(ctx context.Context, ownerID, chunkID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.chunks[ownerID], chunkID)
	return nil
}

// --- Embedding records ---

type memEmbeddings memStore

func (e *memEmbeddings) Put(ctx context.Context, r *model.EmbeddingRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	byKey := e.records[r.OwnerID]
	if byKey == nil {
		byKey = map[string]*model.EmbeddingRecord{}
		e.records[r.OwnerID] = byKey
	}
	cp := *r
	cp.UpdateTime = time.Now().UTC()
	byKey[recordKey(r.TargetKind, r.TargetID)] = &cp
	return nil
}

func (e *memEmbeddings) Get(ctx context.Context, ownerID, targetKind, targetID string) (*model.EmbeddingRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.records[ownerID][recordKey(targetKind, targetID)]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (e *memEmbeddings) MarkReady(ctx context.Context, ownerID, targetKind, targetID string, vector []float32, dim int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.records[ownerID][recordKey(targetKind, targetID)]
	if !ok {
		return model.ErrNotFound
	}
	r.Vector = append([]float32(nil), vector...)
	r.Dimension = dim
	r.Status = model.EmbeddingReady
	r.ErrorMsg = ""
	r.UpdateTime = time.Now().UTC()
	return nil
}

func (e *memEmbeddings) MarkError(ctx context.Context, ownerID, targetKind, targetID, errMsg string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.records[ownerID][recordKey(targetKind, targetID)]
	if !ok {
		return model.ErrNotFound
	}
	r.Status = model.EmbeddingError
	r.ErrorMsg = errMsg
	r.UpdateTime = time.Now().UTC()
	return nil
}

func (e *memEmbeddings) ResetAllPending(ctx context.Context, ownerID, provider, mdl string, dim int) ([]*model.EmbeddingRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*model.EmbeddingRecord
	for _, r := range e.records[ownerID] {
		r.Status = model.EmbeddingPending
		r.ErrorMsg = ""
		r.Vector = nil
		r.Provider = provider
		r.Model = mdl
		r.Dimension = dim
		r.UpdateTime = time.Now().UTC()
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TargetKind != out[j].TargetKind {
			return out[i].TargetKind == model.KindSummary
		}
		return out[i].TargetID < out[j].TargetID
	})
	return out, nil
}

func (e *memEmbeddings) Delete(ctx context.Context, ownerID, targetKind, targetID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.records[ownerID], recordKey(targetKind, targetID))
	return nil
}

// --- Jobs ---

type memJobs memStore

func (j *memJobs) Enqueue(ctx context.Context, kind, key string, payload map[string]interface{}) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.nextJob++
	j.jobs = append(j.jobs, &memJob{
		Job:    model.Job{ID: j.nextJob, Kind: kind, Key: key, Payload: payload},
		status: "pending",
		dueAt:  time.Now(),
	})
	return nil
}

func (j *memJobs) LeaseBatch(ctx context.Context, n int) ([]*model.Job, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := time.Now()
	var out []*model.Job
	for _, job := range j.jobs {
		if len(out) >= n {
			break
		}
		if job.status == "pending" && !job.dueAt.After(now) {
			job.dueAt = now.Add(5 * time.Minute)
			cp := job.Job
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (j *memJobs) MarkDone(ctx context.Context, id int64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, job := range j.jobs {
		if job.ID == id {
			job.status = "done"
			return nil
		}
	}
	return nil
}

func (j *memJobs) MarkFailed(ctx context.Context, id int64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, job := range j.jobs {
		if job.ID == id {
			job.Attempts++
			backoff := time.Duration(1<<uint(job.Attempts)) * time.Second
			if backoff > 300*time.Second {
				backoff = 300 * time.Second
			}
			job.dueAt = time.Now().Add(backoff)
			return nil
		}
	}
	return nil
}

// --- Locks ---

type memLocks memStore

func (l *memLocks) TryAcquire(ctx context.Context, key string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks[key] {
		return nil, false, nil
	}
	l.locks[key] = true
	release := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.locks, key)
	}
	return release, true, nil
}
