// Package ranker merges lexical and vector retrieval signals into one scored,
// paginated result list.
package ranker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/chronologue/chronologue/internal/lexindex"
	"github.com/chronologue/chronologue/internal/model"
	"github.com/chronologue/chronologue/internal/store"
	"github.com/chronologue/chronologue/internal/vecindex"
)

// ErrBadCursor reports an unparseable pagination cursor.
var ErrBadCursor = errors.New("invalid search cursor")

// QueryEmbedder produces a query vector with the owner's active provider.
// A nil vector with nil error means embeddings are disabled for the owner.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, ownerID, text string) ([]float32, error)
}

// Weights holds the ranking constants. Zero values are replaced by defaults.
type Weights struct {
	Semantic       float64
	Lexical        float64
	CoveredPenalty float64
	TopK           int
	PageLimit      int
}

func (w Weights) withDefaults() Weights {
	if w.Semantic == 0 && w.Lexical == 0 {
		w.Semantic, w.Lexical = 0.7, 0.3
	}
	if w.CoveredPenalty == 0 {
		w.CoveredPenalty = 0.85
	}
	if w.TopK == 0 {
		w.TopK = 50
	}
	if w.PageLimit == 0 {
		w.PageLimit = 20
	}
	return w
}

type Request struct {
	OwnerID  string
	StreamID string // empty scopes to all streams
	Query    string
	Limit    int
	Cursor   string
}

type Page struct {
	Results    []model.SearchResult
	NextCursor string
}

type Ranker struct {
	store   store.Store
	lex     lexindex.Index
	vec     vecindex.Index
	embed   QueryEmbedder
	weights Weights
	log     zerolog.Logger
}

func New(s store.Store, lex lexindex.Index, vec vecindex.Index, embed QueryEmbedder, w Weights, log zerolog.Logger) *Ranker {
	return &Ranker{store: s, lex: lex, vec: vec, embed: embed, weights: w.withDefaults(), log: log}
}

// candidate carries both raw signals for one target while ranking. A nil
// signal means the target was absent from that side's top-K.
type candidate struct {
	kind     string
	targetID string
	streamID string
	day      string
	lexScore *float64
	distance *float64
	covered  bool
	snippet  string
	score    float64
}

// cursor is the opaque pagination token: the sort position of the last
// returned result. Ordering is score desc, day desc, target id asc.
type cursor struct {
	Score float64 `json:"s"`
	Day   string  `json:"d"`
	Kind  string  `json:"k"`
	ID    string  `json:"i"`
}

func encodeCursor(c cursor) string {
	b, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeCursor(s string) (*cursor, error) {
	if s == "" {
		return nil, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrBadCursor
	}
	var c cursor
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, ErrBadCursor
	}
	return &c, nil
}

// Rank runs the hybrid retrieval algorithm. Retrieval degrades rather than
// fails: a broken vector side falls back to lexical-only, a broken lexical
// side to vector-only, and both broken yields an empty page.
func (r *Ranker) Rank(ctx context.Context, req Request) (*Page, error) {
	after, err := decodeCursor(req.Cursor)
	if err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 || limit > r.weights.PageLimit {
		limit = r.weights.PageLimit
	}

	query := strings.TrimSpace(req.Query)
	if query == "" || query == "*" {
		return r.rankRecency(ctx, req.OwnerID, req.StreamID, limit, after)
	}

	cands := r.gather(ctx, req.OwnerID, req.StreamID, query)
	if len(cands) == 0 {
		return &Page{}, nil
	}
	normalize(cands, r.weights)
	if err := r.annotate(ctx, req.OwnerID, cands); err != nil {
		return nil, err
	}
	for _, c := range cands {
		if c.kind == model.KindChunk && c.covered {
			c.score *= r.weights.CoveredPenalty
		}
	}
	sort.SliceStable(cands, func(i, j int) bool { return less(cands[i], cands[j]) })
	return paginate(cands, limit, after), nil
}

// gather fetches both top-K candidate lists and unions them by target.
func (r *Ranker) gather(ctx context.Context, ownerID, streamID, query string) []*candidate {
	byKey := make(map[string]*candidate)
	upsert := func(kind, targetID, stream, day string) *candidate {
		key := kind + "/" + targetID
		c, ok := byKey[key]
		if !ok {
			c = &candidate{kind: kind, targetID: targetID, streamID: stream, day: day}
			byKey[key] = c
		}
		return c
	}

	hits, err := r.lex.Search(ctx, ownerID, streamID, query, r.weights.TopK)
	if err != nil {
		r.log.Warn().Err(err).Msg("lexical search failed, continuing vector-only")
	}
	for i := range hits {
		h := hits[i]
		upsert(h.Kind, h.TargetID, h.StreamID, h.Day).lexScore = &h.Score
	}

	qvec, err := r.embed.EmbedQuery(ctx, ownerID, query)
	if err != nil {
		r.log.Warn().Err(err).Msg("query embedding failed, continuing lexical-only")
	}
	if qvec != nil {
		vhits, err := r.vec.Search(ctx, ownerID, streamID, qvec, r.weights.TopK)
		if err != nil {
			r.log.Warn().Err(err).Msg("vector search failed, continuing lexical-only")
		}
		for i := range vhits {
			v := vhits[i]
			upsert(v.Kind, v.TargetID, v.StreamID, v.Day).distance = &v.Distance
		}
	}

	out := make([]*candidate, 0, len(byKey))
	for _, c := range byKey {
		out = append(out, c)
	}
	return out
}

// normalize min-maxes each signal within the working set and combines them.
// A candidate missing a signal contributes 0 for it.
func normalize(cands []*candidate, w Weights) {
	lexNorm := minMax(cands, func(c *candidate) *float64 { return c.lexScore })
	simNorm := minMax(cands, func(c *candidate) *float64 {
		if c.distance == nil {
			return nil
		}
		s := 1.0 / (1.0 + *c.distance)
		return &s
	})
	for i, c := range cands {
		c.score = w.Semantic*simNorm[i] + w.Lexical*lexNorm[i]
	}
}

// minMax maps each present value to [0,1] within the set; absent values map
// to 0. A degenerate set (all present values equal) maps present values to 1.
func minMax(cands []*candidate, get func(*candidate) *float64) []float64 {
	lo, hi := 0.0, 0.0
	seen := false
	vals := make([]*float64, len(cands))
	for i, c := range cands {
		v := get(c)
		vals[i] = v
		if v == nil {
			continue
		}
		if !seen || *v < lo {
			lo = *v
		}
		if !seen || *v > hi {
			hi = *v
		}
		seen = true
	}
	out := make([]float64, len(cands))
	for i, v := range vals {
		if v == nil {
			continue
		}
		if hi == lo {
			out[i] = 1.0
			continue
		}
		out[i] = (*v - lo) / (hi - lo)
	}
	return out
}

// annotate loads chunks and segments to fill snippets, day labels, and the
// covered-by-summary flag.
func (r *Ranker) annotate(ctx context.Context, ownerID string, cands []*candidate) error {
	var chunkIDs, segIDs []string
	for _, c := range cands {
		switch c.kind {
		case model.KindChunk:
			chunkIDs = append(chunkIDs, c.targetID)
		case model.KindSummary:
			segIDs = append(segIDs, c.targetID)
		}
	}
	chunks, err := r.store.Chunks().GetByIDs(ctx, ownerID, chunkIDs)
	if err != nil {
		return err
	}
	for _, ch := range chunks {
		segIDs = append(segIDs, ch.SegmentID)
	}
	segs, err := r.store.Segments().GetByIDs(ctx, ownerID, segIDs)
	if err != nil {
		return err
	}

	for _, c := range cands {
		switch c.kind {
		case model.KindChunk:
			ch, ok := chunks[c.targetID]
			if !ok {
				continue // deleted since indexing
			}
			c.streamID = ch.StreamID
			c.snippet = snippet(ch.Text)
			if seg, ok := segs[ch.SegmentID]; ok {
				c.day = seg.Day
				c.covered = ch.EndSeq <= seg.CoveredUntil
			}
		case model.KindSummary:
			seg, ok := segs[c.targetID]
			if !ok {
				continue
			}
			c.streamID = seg.StreamID
			c.day = seg.Day
			c.snippet = snippet(seg.Summary)
		}
	}
	return nil
}

func less(a, b *candidate) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	if a.day != b.day {
		return a.day > b.day
	}
	if a.targetID != b.targetID {
		return a.targetID < b.targetID
	}
	return a.kind < b.kind
}

// paginate applies the keyset cursor and cuts one page, emitting a next
// cursor only when results remain.
func paginate(cands []*candidate, limit int, after *cursor) *Page {
	start := 0
	if after != nil {
		pos := &candidate{score: after.Score, day: after.Day, kind: after.Kind, targetID: after.ID}
		for start < len(cands) && !less(pos, cands[start]) {
			start++
		}
	}
	page := &Page{}
	end := start + limit
	if end > len(cands) {
		end = len(cands)
	}
	for _, c := range cands[start:end] {
		res := model.SearchResult{
			Kind:             c.kind,
			TargetID:         c.targetID,
			StreamID:         c.streamID,
			Snippet:          c.snippet,
			Day:              c.day,
			CoveredBySummary: c.covered,
			Score:            c.score,
		}
		if c.lexScore != nil {
			res.LexicalScore = *c.lexScore
		}
		if c.distance != nil {
			res.VectorDistance = *c.distance
		}
		page.Results = append(page.Results, res)
	}
	if end < len(cands) && end > start {
		last := cands[end-1]
		page.NextCursor = encodeCursor(cursor{Score: last.score, Day: last.day, Kind: last.kind, ID: last.targetID})
	}
	return page
}

// rankRecency serves match-all queries: recency ordering, no scoring.
func (r *Ranker) rankRecency(ctx context.Context, ownerID, streamID string, limit int, after *cursor) (*Page, error) {
	hits, err := r.lex.ListRecent(ctx, ownerID, streamID, 2*r.weights.TopK)
	if err != nil {
		return nil, err
	}
	cands := make([]*candidate, 0, len(hits))
	for _, h := range hits {
		cands = append(cands, &candidate{kind: h.Kind, targetID: h.TargetID, streamID: h.StreamID, day: h.Day})
	}
	if err := r.annotate(ctx, ownerID, cands); err != nil {
		return nil, err
	}
	// scores are all zero, so less() degenerates to day desc then id asc
	sort.SliceStable(cands, func(i, j int) bool { return less(cands[i], cands[j]) })
	return paginate(cands, limit, after), nil
}

func snippet(text string) string {
	const max = 240
	text = strings.TrimSpace(text)
	if len(text) <= max {
		return text
	}
	end := max
	for end > 0 && !utf8.RuneStart(text[end]) {
		end--
	}
	cut := text[:end]
	if i := strings.LastIndexByte(cut, ' '); i > max/2 {
		cut = cut[:i]
	}
	return cut + "…"
}
