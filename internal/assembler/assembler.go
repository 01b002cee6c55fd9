// Package assembler builds the per-turn context bundle and message windows
// for drill-down into retrieval hits.
package assembler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/chronologue/chronologue/internal/chunker"
	"github.com/chronologue/chronologue/internal/model"
	"github.com/chronologue/chronologue/internal/segmenter"
	"github.com/chronologue/chronologue/internal/store"
)

const (
	// DefaultTokenBudget bounds the raw window in build_context.
	DefaultTokenBudget = 4000

	defaultWindowSpan = 5
	maxWindowLimit    = 100
)

type Assembler struct {
	store  store.Store
	budget int
	now    func() time.Time
	log    zerolog.Logger
}

func New(s store.Store, tokenBudget int, log zerolog.Logger) *Assembler {
	if tokenBudget <= 0 {
		tokenBudget = DefaultTokenBudget
	}
	return &Assembler{store: s, budget: tokenBudget, now: time.Now, log: log}
}

// BuildContext assembles the agent-turn bundle: today's and yesterday's
// summaries plus a budget-bounded raw window over today's messages. It never
// fails on missing data; absent segments simply yield empty fields.
func (a *Assembler) BuildContext(ctx context.Context, ownerID, streamID string) (*model.ContextBundle, error) {
	owner, err := a.store.Owners().Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	today := segmenter.DayOf(a.now(), owner.TimeZone)
	yesterday := dayBefore(today)

	bundle := &model.ContextBundle{}

	if seg, err := a.store.Segments().GetByDay(ctx, ownerID, streamID, today); err == nil {
		bundle.TodaySummary = seg.Summary
		msgs, trimmed, err := a.rawWindow(ctx, ownerID, streamID, seg)
		if err != nil {
			return nil, err
		}
		bundle.RawWindow = msgs
		bundle.Truncated = trimmed
	} else if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}

	if seg, err := a.store.Segments().GetByDay(ctx, ownerID, streamID, yesterday); err == nil {
		bundle.YesterdaySummary = seg.Summary
	} else if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}

	return bundle, nil
}

// rawWindow loads today's messages and fits them into the token budget.
// Trim order: tool outputs are reduced to head+tail first (oldest first),
// then whole oldest turns are dropped. User and assistant text is never cut
// mid-message.
func (a *Assembler) rawWindow(ctx context.Context, ownerID, streamID string, seg *model.Segment) ([]model.Message, bool, error) {
	lastSeq, err := a.store.Messages().LastSeq(ctx, ownerID, streamID)
	if err != nil {
		return nil, false, err
	}
	if seg.LastSeq != nil && *seg.LastSeq < lastSeq {
		lastSeq = *seg.LastSeq
	}
	if lastSeq < seg.FirstSeq {
		return nil, false, nil
	}
	msgs, err := a.store.Messages().ListRange(ctx, ownerID, streamID, seg.FirstSeq, lastSeq)
	if err != nil {
		return nil, false, err
	}

	window := make([]model.Message, len(msgs))
	costs := make([]int, len(msgs))
	total := 0
	for i, m := range msgs {
		window[i] = *m
		costs[i] = chunker.EstimateTokens(m.Content)
		total += costs[i]
	}
	if total <= a.budget {
		return window, false, nil
	}

	truncated := true
	for i := range window {
		if total <= a.budget {
			break
		}
		if window[i].Role != model.RoleTool {
			continue
		}
		trimmed := chunker.TrimToolOutput(window[i].Content)
		if trimmed == window[i].Content {
			continue
		}
		window[i].Content = trimmed
		total += chunker.EstimateTokens(trimmed) - costs[i]
		costs[i] = chunker.EstimateTokens(trimmed)
	}

	drop := 0
	for drop < len(window) && total > a.budget {
		total -= costs[drop]
		drop++
	}
	return window[drop:], truncated, nil
}

type WindowRequest struct {
	OwnerID  string
	StreamID string
	// Ref is the anchor sequence number, typically a chunk boundary from a
	// search hit.
	Ref int64
	// Before/After are how many messages to include around Ref; zero means
	// the default span.
	Before int
	After  int
	Limit  int
}

// Window returns the messages around an anchor reference with continuation
// seqs for paging outward in either direction.
func (a *Assembler) Window(ctx context.Context, req WindowRequest) (*model.Window, error) {
	if req.Ref < 1 {
		return nil, model.ErrInvalidRange
	}
	before := req.Before
	if before <= 0 {
		before = defaultWindowSpan
	}
	after := req.After
	if after <= 0 {
		after = defaultWindowSpan
	}
	limit := req.Limit
	if limit <= 0 || limit > maxWindowLimit {
		limit = maxWindowLimit
	}

	lastSeq, err := a.store.Messages().LastSeq(ctx, req.OwnerID, req.StreamID)
	if err != nil {
		return nil, err
	}
	if lastSeq == 0 {
		return nil, model.ErrNotFound
	}

	from := req.Ref - int64(before)
	if from < 1 {
		from = 1
	}
	to := req.Ref + int64(after)
	if to > lastSeq {
		to = lastSeq
	}
	if from > to {
		return nil, model.ErrInvalidRange
	}

	msgs, err := a.store.Messages().ListRange(ctx, req.OwnerID, req.StreamID, from, to)
	if err != nil {
		return nil, err
	}

	w := &model.Window{}
	if len(msgs) > limit {
		msgs = msgs[:limit]
		w.Truncated = true
	}
	for _, m := range msgs {
		w.Messages = append(w.Messages, *m)
	}
	if len(msgs) > 0 {
		first, last := msgs[0].Seq, msgs[len(msgs)-1].Seq
		if first > 1 {
			prev := first - 1
			w.NextBefore = &prev
		}
		if last < lastSeq {
			next := last + 1
			w.NextAfter = &next
		}
	}
	return w, nil
}

func dayBefore(day string) string {
	t, err := time.Parse(segmenter.DayLayout, day)
	if err != nil {
		return ""
	}
	return t.AddDate(0, 0, -1).Format(segmenter.DayLayout)
}
