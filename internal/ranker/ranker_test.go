package ranker

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronologue/chronologue/internal/lexindex"
	"github.com/chronologue/chronologue/internal/model"
	"github.com/chronologue/chronologue/internal/store"
	"github.com/chronologue/chronologue/internal/store/memstore"
	"github.com/chronologue/chronologue/internal/vecindex"
)

type fakeLex struct {
	hits   []lexindex.Hit
	recent []lexindex.Hit
	err    error
}

func (f *fakeLex) Upsert(ctx context.Context, ownerID, kind, targetID, streamID, day, text string) error {
	return nil
}
func (f *fakeLex) Delete(ctx context.Context, ownerID, kind, targetID string) error { return nil }
func (f *fakeLex) Search(ctx context.Context, ownerID, streamID, query string, topK int) ([]lexindex.Hit, error) {
	return f.hits, f.err
}
func (f *fakeLex) ListRecent(ctx context.Context, ownerID, streamID string, limit int) ([]lexindex.Hit, error) {
	return f.recent, f.err
}
func (f *fakeLex) Close() error { return nil }

type fakeVec struct {
	cands []vecindex.Candidate
	err   error
}

func (f *fakeVec) Upsert(ctx context.Context, ownerID, kind, targetID string, vec []float32, payload map[string]interface{}) error {
	return nil
}
func (f *fakeVec) Delete(ctx context.Context, ownerID, kind, targetID string) error { return nil }
func (f *fakeVec) Purge(ctx context.Context, ownerID string) error                  { return nil }
func (f *fakeVec) Search(ctx context.Context, ownerID, streamID string, vec []float32, topK int) ([]vecindex.Candidate, error) {
	return f.cands, f.err
}

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, ownerID, text string) ([]float32, error) {
	return f.vec, f.err
}

func seedChunk(t *testing.T, s store.Store, chunkID, segID string, endSeq int64) {
	t.Helper()
	ctx := context.Background()
	_, err := s.Segments().ResolveOrCreate(ctx, &model.Segment{
		SegmentID: segID, OwnerID: "o1", StreamID: "s1", Day: "2026-08-30", FirstSeq: 1,
	})
	require.NoError(t, err)
	_, _, err = s.Chunks().Upsert(ctx, &model.Chunk{
		ChunkID: chunkID, OwnerID: "o1", StreamID: "s1", SegmentID: segID,
		StartSeq: 1, EndSeq: endSeq, Text: "chunk text for " + chunkID, Hash: chunkID,
	})
	require.NoError(t, err)
}

func newRanker(s store.Store, lex lexindex.Index, vec vecindex.Index, embed QueryEmbedder) *Ranker {
	return New(s, lex, vec, embed, Weights{}, zerolog.Nop())
}

func TestRankCombinesWeightedSignals(t *testing.T) {
	s := memstore.New()
	seedChunk(t, s, "lexOnly", "seg1", 5)
	seedChunk(t, s, "vecOnly", "seg1", 5)

	lex := &fakeLex{hits: []lexindex.Hit{
		{Kind: model.KindChunk, TargetID: "lexOnly", StreamID: "s1", Day: "2026-08-30", Score: 4.2},
	}}
	vec := &fakeVec{cands: []vecindex.Candidate{
		{Kind: model.KindChunk, TargetID: "vecOnly", StreamID: "s1", Day: "2026-08-30", Distance: 0.1},
	}}
	r := newRanker(s, lex, vec, &fakeEmbedder{vec: []float32{1, 0}})

	page, err := r.Rank(context.Background(), Request{OwnerID: "o1", Query: "anything"})
	require.NoError(t, err)
	require.Len(t, page.Results, 2)

	// Each side is the max of its own signal, so norms are 1.0 on the present
	// side and 0 on the missing one. Semantic weight wins.
	assert.Equal(t, "vecOnly", page.Results[0].TargetID)
	assert.InDelta(t, 0.7, page.Results[0].Score, 1e-9)
	assert.Equal(t, "lexOnly", page.Results[1].TargetID)
	assert.InDelta(t, 0.3, page.Results[1].Score, 1e-9)
}

func TestRankLexicalOnlyWhenEmbeddingsDisabled(t *testing.T) {
	s := memstore.New()
	seedChunk(t, s, "c1", "seg1", 5)

	lex := &fakeLex{hits: []lexindex.Hit{
		{Kind: model.KindChunk, TargetID: "c1", StreamID: "s1", Day: "2026-08-30", Score: 2.0},
	}}
	// nil vector, nil error: owner has no embedding provider
	r := newRanker(s, lex, &fakeVec{}, &fakeEmbedder{})

	page, err := r.Rank(context.Background(), Request{OwnerID: "o1", Query: "anything"})
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	assert.Equal(t, "c1", page.Results[0].TargetID)
	assert.InDelta(t, 0.3, page.Results[0].Score, 1e-9)
}

func TestRankVectorOnlyWhenLexicalFails(t *testing.T) {
	s := memstore.New()
	seedChunk(t, s, "c1", "seg1", 5)

	lex := &fakeLex{err: errors.New("index corrupt")}
	vec := &fakeVec{cands: []vecindex.Candidate{
		{Kind: model.KindChunk, TargetID: "c1", StreamID: "s1", Day: "2026-08-30", Distance: 0.2},
	}}
	r := newRanker(s, lex, vec, &fakeEmbedder{vec: []float32{1}})

	page, err := r.Rank(context.Background(), Request{OwnerID: "o1", Query: "anything"})
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	assert.Equal(t, "c1", page.Results[0].TargetID)
}

func TestRankEmptyWhenBothSidesEmpty(t *testing.T) {
	r := newRanker(memstore.New(), &fakeLex{}, &fakeVec{}, &fakeEmbedder{err: errors.New("provider down")})

	page, err := r.Rank(context.Background(), Request{OwnerID: "o1", Query: "anything"})
	require.NoError(t, err)
	assert.Empty(t, page.Results)
	assert.Empty(t, page.NextCursor)
}

func TestCoveredChunkIsPenalized(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	seedChunk(t, s, "covered", "seg1", 5)
	seedChunk(t, s, "fresh", "seg1", 12)
	require.NoError(t, s.Segments().ApplySummary(ctx, "o1", "seg1", "day summary", 10, 0))

	lex := &fakeLex{hits: []lexindex.Hit{
		{Kind: model.KindChunk, TargetID: "covered", StreamID: "s1", Day: "2026-08-30", Score: 3.0},
		{Kind: model.KindChunk, TargetID: "fresh", StreamID: "s1", Day: "2026-08-30", Score: 3.0},
	}}
	r := newRanker(s, lex, &fakeVec{}, &fakeEmbedder{})

	page, err := r.Rank(ctx, Request{OwnerID: "o1", Query: "anything"})
	require.NoError(t, err)
	require.Len(t, page.Results, 2)
	assert.Equal(t, "fresh", page.Results[0].TargetID)
	assert.False(t, page.Results[0].CoveredBySummary)
	assert.Equal(t, "covered", page.Results[1].TargetID)
	assert.True(t, page.Results[1].CoveredBySummary)
	assert.InDelta(t, page.Results[0].Score*0.85, page.Results[1].Score, 1e-9)
}

func TestSummaryIsNeverPenalized(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	seedChunk(t, s, "c1", "seg1", 5)
	require.NoError(t, s.Segments().ApplySummary(ctx, "o1", "seg1", "day summary", 10, 0))

	lex := &fakeLex{hits: []lexindex.Hit{
		{Kind: model.KindSummary, TargetID: "seg1", StreamID: "s1", Day: "2026-08-30", Score: 3.0},
	}}
	r := newRanker(s, lex, &fakeVec{}, &fakeEmbedder{})

	page, err := r.Rank(ctx, Request{OwnerID: "o1", Query: "anything"})
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	assert.False(t, page.Results[0].CoveredBySummary)
	assert.InDelta(t, 0.3, page.Results[0].Score, 1e-9)
}

func TestMatchAllReturnsRecencyOrder(t *testing.T) {
	s := memstore.New()
	lex := &fakeLex{recent: []lexindex.Hit{
		{Kind: model.KindChunk, TargetID: "a", StreamID: "s1", Day: "2026-08-31"},
		{Kind: model.KindChunk, TargetID: "b", StreamID: "s1", Day: "2026-08-30"},
		{Kind: model.KindSummary, TargetID: "c", StreamID: "s1", Day: "2026-08-29"},
	}}
	r := newRanker(s, lex, &fakeVec{}, &fakeEmbedder{})

	for _, q := range []string{"", "*", "  "} {
		page, err := r.Rank(context.Background(), Request{OwnerID: "o1", Query: q, Limit: 3})
		require.NoError(t, err)
		require.Len(t, page.Results, 3, "query %q", q)
		assert.Equal(t, "a", page.Results[0].TargetID)
		assert.Equal(t, "b", page.Results[1].TargetID)
		assert.Equal(t, "c", page.Results[2].TargetID)
		assert.Zero(t, page.Results[0].Score)
	}
}

func TestPaginationCursorWalksFullSet(t *testing.T) {
	s := memstore.New()
	var hits []lexindex.Hit
	ids := []string{"c1", "c2", "c3", "c4", "c5"}
	for i, id := range ids {
		seedChunk(t, s, id, "seg1", 5)
		hits = append(hits, lexindex.Hit{
			Kind: model.KindChunk, TargetID: id, StreamID: "s1", Day: "2026-08-30",
			Score: float64(10 - i),
		})
	}
	r := newRanker(s, &fakeLex{hits: hits}, &fakeVec{}, &fakeEmbedder{})

	var got []string
	cur := ""
	for range [10]int{} {
		page, err := r.Rank(context.Background(), Request{OwnerID: "o1", Query: "q", Limit: 2, Cursor: cur})
		require.NoError(t, err)
		for _, res := range page.Results {
			got = append(got, res.TargetID)
		}
		if page.NextCursor == "" {
			break
		}
		cur = page.NextCursor
	}
	assert.Equal(t, ids, got)
}

func TestPageLimitHardCap(t *testing.T) {
	s := memstore.New()
	var hits []lexindex.Hit
	for i := 0; i < 30; i++ {
		id := string(rune('a'+i/10)) + string(rune('0'+i%10))
		seedChunk(t, s, id, "seg1", 5)
		hits = append(hits, lexindex.Hit{
			Kind: model.KindChunk, TargetID: id, StreamID: "s1", Day: "2026-08-30",
			Score: float64(100 - i),
		})
	}
	r := newRanker(s, &fakeLex{hits: hits}, &fakeVec{}, &fakeEmbedder{})

	page, err := r.Rank(context.Background(), Request{OwnerID: "o1", Query: "q", Limit: 500})
	require.NoError(t, err)
	assert.Len(t, page.Results, 20)
	assert.NotEmpty(t, page.NextCursor)
}

func TestBadCursorIsRejected(t *testing.T) {
	r := newRanker(memstore.New(), &fakeLex{}, &fakeVec{}, &fakeEmbedder{})

	_, err := r.Rank(context.Background(), Request{OwnerID: "o1", Query: "q", Cursor: "not base64!!"})
	assert.ErrorIs(t, err, ErrBadCursor)
}

func TestSnippetRuneSafe(t *testing.T) {
	// An ASCII prefix shifts every 3-byte rune off the 240-byte cut point,
	// and no spaces means the word-break fallback cannot mask a mid-rune cut.
	text := "a" + strings.Repeat("世", 100)
	out := snippet(text)
	assert.True(t, utf8.ValidString(out))
	assert.True(t, strings.HasSuffix(out, "…"))

	short := "plain ascii snippet"
	assert.Equal(t, short, snippet(short))
}
