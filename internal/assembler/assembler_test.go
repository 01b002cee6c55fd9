package assembler

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronologue/chronologue/internal/chunker"
	"github.com/chronologue/chronologue/internal/model"
	"github.com/chronologue/chronologue/internal/store"
	"github.com/chronologue/chronologue/internal/store/memstore"
)

var testNow = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

func newTestAssembler(t *testing.T, budget int) (*Assembler, store.Store) {
	t.Helper()
	s := memstore.New()
	_, err := s.Owners().Put(context.Background(), &model.Owner{OwnerID: "o1", TimeZone: "UTC"})
	require.NoError(t, err)
	a := New(s, budget, zerolog.Nop())
	a.now = func() time.Time { return testNow }
	return a, s
}

func appendMsg(t *testing.T, s store.Store, role, content string) *model.Message {
	t.Helper()
	m, err := s.Messages().Append(context.Background(), &model.Message{
		OwnerID: "o1", StreamID: "s1", Role: role, Content: content, CreationTime: testNow,
	})
	require.NoError(t, err)
	return m
}

func makeSegment(t *testing.T, s store.Store, day string, firstSeq int64, summary string) *model.Segment {
	t.Helper()
	ctx := context.Background()
	seg, err := s.Segments().ResolveOrCreate(ctx, &model.Segment{
		OwnerID: "o1", StreamID: "s1", Day: day, FirstSeq: firstSeq,
	})
	require.NoError(t, err)
	if summary != "" {
		require.NoError(t, s.Segments().ApplySummary(ctx, "o1", seg.SegmentID, summary, firstSeq, seg.Marker))
	}
	return seg
}

func TestBuildContextFullWindowUnderBudget(t *testing.T) {
	a, s := newTestAssembler(t, 4000)
	ctx := context.Background()

	makeSegment(t, s, "2026-08-29", 1, "yesterday we planned the rollout")
	appendMsg(t, s, model.RoleUser, "old message from yesterday")
	makeSegment(t, s, "2026-08-30", 2, "today we started executing")
	appendMsg(t, s, model.RoleUser, "how is the rollout going")
	appendMsg(t, s, model.RoleAssistant, "two of three regions are done")

	b, err := a.BuildContext(ctx, "o1", "s1")
	require.NoError(t, err)
	assert.Equal(t, "today we started executing", b.TodaySummary)
	assert.Equal(t, "yesterday we planned the rollout", b.YesterdaySummary)
	require.Len(t, b.RawWindow, 2)
	assert.Equal(t, int64(2), b.RawWindow[0].Seq)
	assert.Equal(t, int64(3), b.RawWindow[1].Seq)
	assert.False(t, b.Truncated)
}

func TestBuildContextEmptyWhenNoSegments(t *testing.T) {
	a, _ := newTestAssembler(t, 4000)

	b, err := a.BuildContext(context.Background(), "o1", "s1")
	require.NoError(t, err)
	assert.Empty(t, b.TodaySummary)
	assert.Empty(t, b.YesterdaySummary)
	assert.Empty(t, b.RawWindow)
	assert.False(t, b.Truncated)
}

func TestBuildContextTrimsToolOutputFirst(t *testing.T) {
	a, s := newTestAssembler(t, 300)
	ctx := context.Background()

	makeSegment(t, s, "2026-08-30", 1, "")
	appendMsg(t, s, model.RoleUser, strings.Repeat("u", 100))
	appendMsg(t, s, model.RoleTool, strings.Repeat("x", 1200))
	appendMsg(t, s, model.RoleAssistant, strings.Repeat("a", 100))

	b, err := a.BuildContext(ctx, "o1", "s1")
	require.NoError(t, err)
	assert.True(t, b.Truncated)
	require.Len(t, b.RawWindow, 3)

	// Tool output reduced to head+tail, not dropped; text messages untouched.
	assert.Contains(t, b.RawWindow[1].Content, "trimmed")
	assert.Less(t, len(b.RawWindow[1].Content), 1200)
	assert.Len(t, b.RawWindow[0].Content, 100)
	assert.Len(t, b.RawWindow[2].Content, 100)

	total := 0
	for _, m := range b.RawWindow {
		total += chunker.EstimateTokens(m.Content)
	}
	assert.LessOrEqual(t, total, 300)
}

func TestBuildContextDropsOldestWhenStillOverBudget(t *testing.T) {
	a, s := newTestAssembler(t, 100)
	ctx := context.Background()

	makeSegment(t, s, "2026-08-30", 1, "")
	for i := 0; i < 10; i++ {
		appendMsg(t, s, model.RoleUser, strings.Repeat("m", 200)) // 50 tokens each
	}

	b, err := a.BuildContext(ctx, "o1", "s1")
	require.NoError(t, err)
	assert.True(t, b.Truncated)
	require.Len(t, b.RawWindow, 2)
	// The newest messages survive.
	assert.Equal(t, int64(9), b.RawWindow[0].Seq)
	assert.Equal(t, int64(10), b.RawWindow[1].Seq)
	for _, m := range b.RawWindow {
		assert.Len(t, m.Content, 200)
	}
}

func TestBuildContextRespectsClosedSegmentBoundary(t *testing.T) {
	a, s := newTestAssembler(t, 4000)
	ctx := context.Background()

	seg := makeSegment(t, s, "2026-08-30", 1, "")
	appendMsg(t, s, model.RoleUser, "inside the segment")
	appendMsg(t, s, model.RoleUser, "also inside")
	require.NoError(t, s.Segments().Close(ctx, "o1", seg.SegmentID, 2))
	appendMsg(t, s, model.RoleUser, "past the boundary")

	b, err := a.BuildContext(ctx, "o1", "s1")
	require.NoError(t, err)
	require.Len(t, b.RawWindow, 2)
	assert.Equal(t, int64(2), b.RawWindow[1].Seq)
}

func TestWindowAroundRef(t *testing.T) {
	a, s := newTestAssembler(t, 4000)
	for i := 1; i <= 20; i++ {
		appendMsg(t, s, model.RoleUser, "message")
	}

	w, err := a.Window(context.Background(), WindowRequest{
		OwnerID: "o1", StreamID: "s1", Ref: 10, Before: 2, After: 2,
	})
	require.NoError(t, err)
	require.Len(t, w.Messages, 5)
	assert.Equal(t, int64(8), w.Messages[0].Seq)
	assert.Equal(t, int64(12), w.Messages[4].Seq)
	require.NotNil(t, w.NextBefore)
	assert.Equal(t, int64(7), *w.NextBefore)
	require.NotNil(t, w.NextAfter)
	assert.Equal(t, int64(13), *w.NextAfter)
	assert.False(t, w.Truncated)
}

func TestWindowClampsAtLogEdges(t *testing.T) {
	a, s := newTestAssembler(t, 4000)
	for i := 1; i <= 5; i++ {
		appendMsg(t, s, model.RoleUser, "message")
	}

	w, err := a.Window(context.Background(), WindowRequest{
		OwnerID: "o1", StreamID: "s1", Ref: 1, Before: 3, After: 10,
	})
	require.NoError(t, err)
	require.Len(t, w.Messages, 5)
	assert.Nil(t, w.NextBefore)
	assert.Nil(t, w.NextAfter)
}

func TestWindowLimitTruncates(t *testing.T) {
	a, s := newTestAssembler(t, 4000)
	for i := 1; i <= 20; i++ {
		appendMsg(t, s, model.RoleUser, "message")
	}

	w, err := a.Window(context.Background(), WindowRequest{
		OwnerID: "o1", StreamID: "s1", Ref: 10, Before: 5, After: 5, Limit: 4,
	})
	require.NoError(t, err)
	assert.Len(t, w.Messages, 4)
	assert.True(t, w.Truncated)
}

func TestWindowRejectsBadRef(t *testing.T) {
	a, _ := newTestAssembler(t, 4000)

	_, err := a.Window(context.Background(), WindowRequest{OwnerID: "o1", StreamID: "s1", Ref: 0})
	assert.ErrorIs(t, err, model.ErrInvalidRange)
}

func TestWindowEmptyStreamNotFound(t *testing.T) {
	a, _ := newTestAssembler(t, 4000)

	_, err := a.Window(context.Background(), WindowRequest{OwnerID: "o1", StreamID: "s1", Ref: 3})
	assert.ErrorIs(t, err, model.ErrNotFound)
}
