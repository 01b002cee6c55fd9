// Package chunker builds fixed-size overlapping text windows over a segment's
// messages. Chunk boundaries are deterministic for a given message range, and
// content hashing makes upserts idempotent so unchanged chunks are never
// re-embedded.
package chunker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/chronologue/chronologue/internal/model"
	"github.com/chronologue/chronologue/internal/store"
)

// toolOutputKeepTokens bounds each side of a trimmed tool payload.
const toolOutputKeepTokens = 100

// toolOutputPlaceholder marks elided tool output in chunk and context text.
const toolOutputPlaceholder = "[... tool output trimmed ...]"

type Config struct {
	TargetTokens  int // chunk closes once it reaches this size (~600)
	OverlapTokens int // tail of the previous chunk carried into the next (~100)
}

type Chunker struct {
	store store.Store
	cfg   Config
}

func New(s store.Store, cfg Config) *Chunker {
	if cfg.TargetTokens <= 0 {
		cfg.TargetTokens = 600
	}
	if cfg.OverlapTokens < 0 {
		cfg.OverlapTokens = 0
	}
	return &Chunker{store: s, cfg: cfg}
}

// AppendChunks upserts the chunks covering messages after fromSeq
// (exclusive) and up to toSeq (inclusive; 0 means the stream's last
// message). Windows are always derived from the full segment so that
// incremental appends land on the same boundaries a nightly recompute would
// produce; only windows that reach past fromSeq are upserted, and unchanged
// ones are skipped via hash comparison. Callers indexing a past-day segment
// must pass the segment's resolved end as toSeq, or a lagging job would fold
// the next day's messages into this segment. Returns the chunks actually
// written.
func (c *Chunker) AppendChunks(ctx context.Context, seg *model.Segment, fromSeq, toSeq int64) ([]*model.Chunk, error) {
	lastSeq, err := c.store.Messages().LastSeq(ctx, seg.OwnerID, seg.StreamID)
	if err != nil {
		return nil, err
	}
	if toSeq > 0 && toSeq < lastSeq {
		lastSeq = toSeq
	}
	if lastSeq <= fromSeq || lastSeq < seg.FirstSeq {
		return nil, nil
	}
	msgs, err := c.store.Messages().ListRange(ctx, seg.OwnerID, seg.StreamID, seg.FirstSeq, lastSeq)
	if err != nil {
		return nil, err
	}
	var fresh []window
	for _, w := range buildWindows(msgs, c.cfg) {
		if w.endSeq > fromSeq {
			fresh = append(fresh, w)
		}
	}
	return c.upsertWindows(ctx, seg, fresh)
}

// RecomputeSegment rebuilds the segment's chunk set from scratch over
// [seg.FirstSeq, lastSeq], then diffs against the stored set: chunks absent
// from the rebuild are deleted, the rest are upserted (no-ops when hashes
// match). The caller must hold the segment's lock so a concurrent append
// cannot race the deletes. Returns (written, deleted).
func (c *Chunker) RecomputeSegment(ctx context.Context, seg *model.Segment, lastSeq int64) ([]*model.Chunk, []*model.Chunk, error) {
	if lastSeq < seg.FirstSeq {
		return nil, nil, model.ErrInvalidRange
	}
	msgs, err := c.store.Messages().ListRange(ctx, seg.OwnerID, seg.StreamID, seg.FirstSeq, lastSeq)
	if err != nil {
		return nil, nil, err
	}
	windows := buildWindows(msgs, c.cfg)

	existing, err := c.store.Chunks().ListBySegment(ctx, seg.OwnerID, seg.SegmentID)
	if err != nil {
		return nil, nil, err
	}
	keep := make(map[string]bool, len(windows))
	for _, w := range windows {
		keep[rangeKey(w.startSeq, w.endSeq)] = true
	}

	written, err := c.upsertWindows(ctx, seg, windows)
	if err != nil {
		return nil, nil, err
	}

	var deleted []*model.Chunk
	for _, ch := range existing {
		if keep[rangeKey(ch.StartSeq, ch.EndSeq)] {
			continue
		}
		if err := c.store.Chunks().Delete(ctx, seg.OwnerID, ch.ChunkID); err != nil {
			return nil, nil, err
		}
		deleted = append(deleted, ch)
	}
	return written, deleted, nil
}

func (c *Chunker) upsertWindows(ctx context.Context, seg *model.Segment, windows []window) ([]*model.Chunk, error) {
	var written []*model.Chunk
	for _, w := range windows {
		ch := &model.Chunk{
			OwnerID:    seg.OwnerID,
			StreamID:   seg.StreamID,
			SegmentID:  seg.SegmentID,
			StartSeq:   w.startSeq,
			EndSeq:     w.endSeq,
			Text:       w.text,
			Hash:       ContentHash(w.startSeq, w.endSeq, w.text),
			TokenCount: w.tokens,
		}
		stored, wrote, err := c.store.Chunks().Upsert(ctx, ch)
		if err != nil {
			return nil, err
		}
		if wrote {
			written = append(written, stored)
		}
	}
	return written, nil
}

// ContentHash hashes the chunk's boundary ids and normalized text.
func ContentHash(startSeq, endSeq int64, text string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%d:%d:%s", startSeq, endSeq, text)))
	return hex.EncodeToString(h[:])
}

func rangeKey(start, end int64) string { return fmt.Sprintf("%d-%d", start, end) }

// window is one chunk-to-be.
type window struct {
	startSeq int64
	endSeq   int64
	text     string
	tokens   int
}

// entry is one rendered message inside a window.
type entry struct {
	seq    int64
	text   string
	tokens int
}

// buildWindows is the deterministic core shared by append and recompute:
// concatenate rendered user/assistant/tool turns, close a window once it
// reaches the token target, and seed the next window with a token-bounded
// tail of the previous one.
func buildWindows(msgs []*model.Message, cfg Config) []window {
	var entries []entry
	for _, m := range msgs {
		text := RenderMessage(m)
		if text == "" {
			continue
		}
		entries = append(entries, entry{seq: m.Seq, text: text, tokens: EstimateTokens(text)})
	}
	if len(entries) == 0 {
		return nil
	}

	var out []window
	var cur []entry
	curTokens := 0
	fresh := 0 // entries in cur that are not carried-over overlap

	flush := func() {
		out = append(out, window{
			startSeq: cur[0].seq,
			endSeq:   cur[len(cur)-1].seq,
			text:     joinEntries(cur),
			tokens:   curTokens,
		})
	}

	for _, e := range entries {
		cur = append(cur, e)
		curTokens += e.tokens
		fresh++
		if curTokens < cfg.TargetTokens {
			continue
		}
		flush()
		tail := overlapTail(cur, cfg.OverlapTokens)
		cur = tail
		curTokens = 0
		for _, t := range tail {
			curTokens += t.tokens
		}
		fresh = 0
	}
	if fresh > 0 {
		flush()
	}
	return out
}

// overlapTail returns the suffix of entries whose token total stays within
// budget. The tail never spans the whole window; a chunk must always add at
// least one new message.
func overlapTail(entries []entry, budget int) []entry {
	if budget <= 0 || len(entries) < 2 {
		return nil
	}
	total := 0
	start := len(entries)
	for i := len(entries) - 1; i > 0; i-- {
		if total+entries[i].tokens > budget {
			break
		}
		total += entries[i].tokens
		start = i
	}
	if start == len(entries) {
		return nil
	}
	return append([]entry(nil), entries[start:]...)
}

func joinEntries(entries []entry) string {
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = e.text
	}
	return strings.Join(parts, "\n")
}

// RenderMessage normalizes one message into chunk text. System messages are
// structural and excluded; large tool outputs are reduced to head + tail
// around a placeholder so noise does not dominate the index.
func RenderMessage(m *model.Message) string {
	switch m.Role {
	case model.RoleSystem:
		return ""
	case model.RoleTool:
		return m.Role + ": " + TrimToolOutput(m.Content)
	default:
		return m.Role + ": " + m.Content
	}
}

// TrimToolOutput bounds a tool payload to a head and tail around a
// placeholder. Short payloads pass through untouched. Cut points land on
// rune boundaries so the trimmed text stays valid UTF-8.
func TrimToolOutput(content string) string {
	keep := toolOutputKeepTokens * 4 // chars per side
	if len(content) <= 2*keep+len(toolOutputPlaceholder) {
		return content
	}
	head := keep
	for head > 0 && !utf8.RuneStart(content[head]) {
		head--
	}
	tail := len(content) - keep
	for tail < len(content) && !utf8.RuneStart(content[tail]) {
		tail++
	}
	return content[:head] + "\n" + toolOutputPlaceholder + "\n" + content[tail:]
}
