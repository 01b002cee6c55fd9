// Package coordinator drives segment lifecycle: incremental chunk indexing on
// append, heuristic mid-day summarization, and nightly finalize of past days.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/chronologue/chronologue/internal/chunker"
	"github.com/chronologue/chronologue/internal/embeddings"
	"github.com/chronologue/chronologue/internal/lexindex"
	"github.com/chronologue/chronologue/internal/model"
	"github.com/chronologue/chronologue/internal/segmenter"
	"github.com/chronologue/chronologue/internal/store"
	"github.com/chronologue/chronologue/internal/summarizer"
)

// Job kinds handled by the worker.
const (
	JobKindIndexChunks      = "index_chunks"
	JobKindSummarizeSegment = "summarize_segment"
	JobKindFinalizeSegment  = "finalize_segment"
)

type Config struct {
	// SummarizeEvery triggers mid-day summarization after this many messages
	// past covered-until.
	SummarizeEvery int
	// TokenBudget is the context window budget; summarization also triggers
	// when the uncovered tail approaches it.
	TokenBudget int
	// ExternalTimeout bounds each summarization call.
	ExternalTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.SummarizeEvery <= 0 {
		c.SummarizeEvery = 10
	}
	if c.TokenBudget <= 0 {
		c.TokenBudget = 4000
	}
	if c.ExternalTimeout <= 0 {
		c.ExternalTimeout = 2 * time.Minute
	}
	return c
}

type Coordinator struct {
	store    store.Store
	segments *segmenter.Segmenter
	chunker  *chunker.Chunker
	lex      lexindex.Index
	pipeline *embeddings.Pipeline
	summ     summarizer.Summarizer
	cfg      Config
	now      func() time.Time
	log      zerolog.Logger
}

func New(s store.Store, seg *segmenter.Segmenter, ch *chunker.Chunker, lex lexindex.Index,
	pipe *embeddings.Pipeline, summ summarizer.Summarizer, cfg Config, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		store:    s,
		segments: seg,
		chunker:  ch,
		lex:      lex,
		pipeline: pipe,
		summ:     summ,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		log:      log,
	}
}

// OnAppend resolves the message's day segment and schedules the follow-up
// work: chunk indexing always, summarization when enough of the tail is
// uncovered.
func (c *Coordinator) OnAppend(ctx context.Context, msg *model.Message) (*model.Segment, error) {
	seg, err := c.segments.ResolveOrCreate(ctx, msg)
	if err != nil {
		return nil, err
	}
	if err := c.store.Jobs().Enqueue(ctx, JobKindIndexChunks, segKey(seg), segPayload(seg)); err != nil {
		return nil, err
	}
	need, err := c.shouldSummarize(ctx, seg, msg.Seq)
	if err != nil {
		// summarization is opportunistic; the nightly pass covers gaps
		c.log.Warn().Err(err).Str("segmentId", seg.SegmentID).Msg("summarize trigger check failed")
	} else if need {
		payload := segPayload(seg)
		// snapshot the range end so the summary covers exactly the messages
		// that triggered it, however late the job runs
		payload["upTo"] = msg.Seq
		if err := c.store.Jobs().Enqueue(ctx, JobKindSummarizeSegment, segKey(seg), payload); err != nil {
			return nil, err
		}
	}
	return seg, nil
}

// shouldSummarize fires on message count past covered-until, or earlier when
// the uncovered tail nears the context token budget.
func (c *Coordinator) shouldSummarize(ctx context.Context, seg *model.Segment, latestSeq int64) (bool, error) {
	base := seg.CoveredUntil
	if base < seg.FirstSeq-1 {
		base = seg.FirstSeq - 1
	}
	uncovered := latestSeq - base
	// fire at exact multiples so a queued-but-unprocessed job is not
	// re-enqueued with a wider range on every subsequent append
	if uncovered > 0 && uncovered%int64(c.cfg.SummarizeEvery) == 0 {
		return true, nil
	}
	if uncovered < 3 {
		return false, nil
	}
	msgs, err := c.store.Messages().ListRange(ctx, seg.OwnerID, seg.StreamID, base+1, latestSeq)
	if err != nil {
		return false, err
	}
	total := 0
	for _, m := range msgs {
		total += chunker.EstimateTokens(m.Content)
	}
	return total >= c.cfg.TokenBudget*8/10, nil
}

// IndexChunks is the append-path job: upsert the chunk windows of the
// segment and index whatever actually changed. Idempotent, safe to retry.
func (c *Coordinator) IndexChunks(ctx context.Context, ownerID, segmentID string) error {
	release, ok, err := c.store.Locks().TryAcquire(ctx, lockKey(ownerID, segmentID))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("segment busy: %w", model.ErrConflict)
	}
	defer release()

	seg, err := c.store.Segments().Get(ctx, ownerID, segmentID)
	if err != nil {
		return err
	}
	// Bound the window build by the segment's own end: when this job lags
	// past midnight, the next day's messages already exist in the stream and
	// must not land in this segment's chunks.
	end, err := c.segmentEnd(ctx, seg)
	if err != nil {
		return err
	}
	written, err := c.chunker.AppendChunks(ctx, seg, 0, end)
	if err != nil {
		return err
	}
	return c.indexChunks(ctx, seg, written)
}

func (c *Coordinator) indexChunks(ctx context.Context, seg *model.Segment, chunks []*model.Chunk) error {
	for _, ch := range chunks {
		if err := c.lex.Upsert(ctx, ch.OwnerID, model.KindChunk, ch.ChunkID, ch.StreamID, seg.Day, ch.Text); err != nil {
			return err
		}
		if err := c.pipeline.Enqueue(ctx, ch.OwnerID, model.KindChunk, ch.ChunkID); err != nil {
			return err
		}
	}
	return nil
}

// SummarizeSegment folds the uncovered tail into the segment summary, up to
// upTo (0 means the segment's current end). The lock is not held across the
// model call: the marker snapshot taken under the lock lets the apply step
// detect that a concurrent run advanced the segment, in which case this
// result is discarded.
func (c *Coordinator) SummarizeSegment(ctx context.Context, ownerID, segmentID string, upTo int64) error {
	seg, upTo, marker, err := c.beginSummarize(ctx, ownerID, segmentID, upTo)
	if err != nil || seg == nil {
		return err
	}

	from := seg.CoveredUntil + 1
	if from < seg.FirstSeq {
		from = seg.FirstSeq
	}
	msgs, err := c.store.Messages().ListRange(ctx, ownerID, seg.StreamID, from, upTo)
	if err != nil {
		return err
	}
	summary, err := c.summarize(ctx, seg.Summary, msgs)
	if err != nil {
		return fmt.Errorf("summarize segment %s: %v: %w", segmentID, err, model.ErrExternalCall)
	}

	return c.applySummary(ctx, seg, summary, upTo, marker, false)
}

// FinalizeSegment is the nightly close: recompute chunks over the exact
// segment range, summarize the whole day, advance covered-until to the end,
// and mark the segment closed. Competing runs are resolved by the marker:
// exactly one apply wins.
func (c *Coordinator) FinalizeSegment(ctx context.Context, ownerID, segmentID string) error {
	release, ok, err := c.store.Locks().TryAcquire(ctx, lockKey(ownerID, segmentID))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("segment busy: %w", model.ErrConflict)
	}

	seg, err := c.store.Segments().Get(ctx, ownerID, segmentID)
	if err != nil {
		release()
		return err
	}
	if seg.Status == model.SegmentClosed {
		release()
		return nil
	}
	lastSeq, err := c.segmentEnd(ctx, seg)
	if err != nil {
		release()
		return err
	}
	if lastSeq < seg.FirstSeq {
		// a segment row created but never written to; close it empty
		err = c.store.Segments().Close(ctx, ownerID, segmentID, seg.FirstSeq)
		release()
		return err
	}

	marker := seg.Marker + 1
	if err := c.store.Segments().SetMarker(ctx, ownerID, segmentID, marker); err != nil {
		release()
		return err
	}
	written, deleted, err := c.chunker.RecomputeSegment(ctx, seg, lastSeq)
	if err != nil {
		release()
		return err
	}
	if err := c.indexChunks(ctx, seg, written); err != nil {
		release()
		return err
	}
	for _, ch := range deleted {
		if err := c.deindexChunk(ctx, ch); err != nil {
			release()
			return err
		}
	}
	release()

	msgs, err := c.store.Messages().ListRange(ctx, ownerID, seg.StreamID, seg.FirstSeq, lastSeq)
	if err != nil {
		return err
	}
	summary, err := c.summarize(ctx, "", msgs)
	if err != nil {
		return fmt.Errorf("finalize segment %s: %v: %w", segmentID, err, model.ErrExternalCall)
	}

	return c.applySummary(ctx, seg, summary, lastSeq, marker, true)
}

// beginSummarize takes the lock, snapshots the work range, and bumps the
// marker. Returns a nil segment when there is nothing to summarize.
func (c *Coordinator) beginSummarize(ctx context.Context, ownerID, segmentID string, upTo int64) (*model.Segment, int64, int64, error) {
	release, ok, err := c.store.Locks().TryAcquire(ctx, lockKey(ownerID, segmentID))
	if err != nil {
		return nil, 0, 0, err
	}
	if !ok {
		return nil, 0, 0, fmt.Errorf("segment busy: %w", model.ErrConflict)
	}
	defer release()

	seg, err := c.store.Segments().Get(ctx, ownerID, segmentID)
	if err != nil {
		return nil, 0, 0, err
	}
	if seg.Status == model.SegmentClosed {
		return nil, 0, 0, nil
	}
	if upTo == 0 {
		if upTo, err = c.segmentEnd(ctx, seg); err != nil {
			return nil, 0, 0, err
		}
	}
	if upTo <= seg.CoveredUntil || upTo < seg.FirstSeq {
		return nil, 0, 0, nil
	}
	marker := seg.Marker + 1
	if err := c.store.Segments().SetMarker(ctx, ownerID, segmentID, marker); err != nil {
		return nil, 0, 0, err
	}
	return seg, upTo, marker, nil
}

// applySummary re-locks and applies the computed summary iff the marker is
// still ours. A stale marker means a concurrent run superseded this work;
// the result is discarded without error.
func (c *Coordinator) applySummary(ctx context.Context, seg *model.Segment, summary string, coveredUntil, marker int64, close bool) error {
	release, ok, err := c.store.Locks().TryAcquire(ctx, lockKey(seg.OwnerID, seg.SegmentID))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("segment busy: %w", model.ErrConflict)
	}
	defer release()

	err = c.store.Segments().ApplySummary(ctx, seg.OwnerID, seg.SegmentID, summary, coveredUntil, marker)
	if errors.Is(err, model.ErrStaleUpdate) {
		c.log.Info().Str("segmentId", seg.SegmentID).Int64("marker", marker).
			Msg("summary superseded by concurrent update, discarding")
		return nil
	}
	if err != nil {
		return err
	}
	if close {
		if err := c.store.Segments().Close(ctx, seg.OwnerID, seg.SegmentID, coveredUntil); err != nil {
			return err
		}
	}
	if err := c.lex.Upsert(ctx, seg.OwnerID, model.KindSummary, seg.SegmentID, seg.StreamID, seg.Day, summary); err != nil {
		return err
	}
	return c.pipeline.Enqueue(ctx, seg.OwnerID, model.KindSummary, seg.SegmentID)
}

// segmentEnd resolves the last message belonging to the segment: one before
// the next day's first message, or the stream's log end when no later
// segment exists.
func (c *Coordinator) segmentEnd(ctx context.Context, seg *model.Segment) (int64, error) {
	if seg.LastSeq != nil {
		return *seg.LastSeq, nil
	}
	next, err := c.store.Segments().NextAfter(ctx, seg.OwnerID, seg.StreamID, seg.Day)
	if err == nil {
		return next.FirstSeq - 1, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return 0, err
	}
	return c.store.Messages().LastSeq(ctx, seg.OwnerID, seg.StreamID)
}

func (c *Coordinator) deindexChunk(ctx context.Context, ch *model.Chunk) error {
	if err := c.lex.Delete(ctx, ch.OwnerID, model.KindChunk, ch.ChunkID); err != nil {
		return err
	}
	return c.pipeline.Deindex(ctx, ch.OwnerID, model.KindChunk, ch.ChunkID)
}

func (c *Coordinator) summarize(ctx context.Context, prior string, msgs []*model.Message) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, c.cfg.ExternalTimeout)
	defer cancel()
	return c.summ.Summarize(cctx, prior, msgs)
}

// NightlySweep enqueues a finalize job for every still-open segment whose
// day has passed in its owner's timezone. Runs periodically; enqueueing the
// same key again is harmless because finalize is idempotent.
func (c *Coordinator) NightlySweep(ctx context.Context) error {
	owners, err := c.store.Owners().List(ctx)
	if err != nil {
		return err
	}
	for _, o := range owners {
		today := segmenter.DayOf(c.now(), o.TimeZone)
		segs, err := c.store.Segments().ListPendingClose(ctx, o.OwnerID, today)
		if err != nil {
			return err
		}
		for _, seg := range segs {
			if err := c.store.Jobs().Enqueue(ctx, JobKindFinalizeSegment, segKey(seg), segPayload(seg)); err != nil {
				return err
			}
		}
	}
	return nil
}

func lockKey(ownerID, segmentID string) string { return "segment/" + ownerID + "/" + segmentID }

func segKey(seg *model.Segment) string { return seg.OwnerID + "/" + seg.SegmentID }

func segPayload(seg *model.Segment) map[string]interface{} {
	return map[string]interface{}{
		"ownerId":   seg.OwnerID,
		"segmentId": seg.SegmentID,
	}
}
