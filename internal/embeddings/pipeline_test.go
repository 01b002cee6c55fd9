package embeddings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronologue/chronologue/internal/model"
	"github.com/chronologue/chronologue/internal/store"
	"github.com/chronologue/chronologue/internal/store/memstore"
	"github.com/chronologue/chronologue/internal/vecindex"
)

type fakeProvider struct {
	vec   []float32
	err   error
	calls int
}

func (f *fakeProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}

func fixedRegistry(p Provider) Registry {
	return func(provider, mdl string) (Provider, error) {
		if provider == "" || provider == "none" {
			return nil, nil
		}
		return p, nil
	}
}

func seedPipeline(t *testing.T, provider Provider, dim int) (store.Store, vecindex.Index, *Pipeline) {
	t.Helper()
	st := memstore.New()
	vec := vecindex.NewMemIndex()
	_, err := st.Owners().Put(context.Background(), &model.Owner{
		OwnerID: "o1", TimeZone: "UTC",
		EmbedProvider: "fake", EmbedModel: "fake-model", EmbedDimension: dim,
	})
	require.NoError(t, err)
	p := NewPipeline(st, vec, fixedRegistry(provider), time.Minute, zerolog.Nop())
	return st, vec, p
}

func seedChunk(t *testing.T, st store.Store) *model.Chunk {
	t.Helper()
	ctx := context.Background()
	seg, err := st.Segments().ResolveOrCreate(ctx, &model.Segment{
		OwnerID: "o1", StreamID: "s1", Day: "2026-08-30", FirstSeq: 1,
	})
	require.NoError(t, err)
	ch, _, err := st.Chunks().Upsert(ctx, &model.Chunk{
		OwnerID: "o1", StreamID: "s1", SegmentID: seg.SegmentID,
		StartSeq: 1, EndSeq: 2, Text: "user: hello there", Hash: "h1", TokenCount: 5,
	})
	require.NoError(t, err)
	return ch
}

func TestNormalizeDimension(t *testing.T) {
	exact, err := NormalizeDimension([]float32{1, 2, 3}, 3)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, exact)

	padded, err := NormalizeDimension([]float32{1, 2}, 4)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 0, 0}, padded)

	_, err = NormalizeDimension([]float32{1, 2, 3, 4}, 3)
	assert.ErrorIs(t, err, model.ErrDimensionExceeded)
}

func TestEnqueueDisabledOwnerIsNoop(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	_, err := st.Owners().Put(ctx, &model.Owner{OwnerID: "o1", TimeZone: "UTC", EmbedProvider: "none"})
	require.NoError(t, err)
	p := NewPipeline(st, vecindex.NewMemIndex(), fixedRegistry(nil), time.Minute, zerolog.Nop())

	require.NoError(t, p.Enqueue(ctx, "o1", model.KindChunk, "c1"))
	jobs, err := st.Jobs().LeaseBatch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestComputeStoresVectorAndIndexes(t *testing.T) {
	prov := &fakeProvider{vec: []float32{1, 0, 0}}
	st, vec, p := seedPipeline(t, prov, 3)
	ctx := context.Background()
	ch := seedChunk(t, st)

	require.NoError(t, p.Enqueue(ctx, "o1", model.KindChunk, ch.ChunkID))
	require.NoError(t, p.Compute(ctx, "o1", model.KindChunk, ch.ChunkID))

	rec, err := st.Embeddings().Get(ctx, "o1", model.KindChunk, ch.ChunkID)
	require.NoError(t, err)
	assert.Equal(t, model.EmbeddingReady, rec.Status)
	assert.Equal(t, []float32{1, 0, 0}, rec.Vector)

	hits, err := vec.Search(ctx, "o1", "", []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, ch.ChunkID, hits[0].TargetID)
	assert.Equal(t, "s1", hits[0].StreamID)
	assert.Equal(t, "2026-08-30", hits[0].Day)
}

func TestComputePadsShortVector(t *testing.T) {
	prov := &fakeProvider{vec: []float32{1, 2}}
	st, _, p := seedPipeline(t, prov, 4)
	ctx := context.Background()
	ch := seedChunk(t, st)

	require.NoError(t, p.Enqueue(ctx, "o1", model.KindChunk, ch.ChunkID))
	require.NoError(t, p.Compute(ctx, "o1", model.KindChunk, ch.ChunkID))

	rec, err := st.Embeddings().Get(ctx, "o1", model.KindChunk, ch.ChunkID)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 0, 0}, rec.Vector)
	assert.Equal(t, 4, rec.Dimension)
}

func TestComputeOversizedVectorIsPermanent(t *testing.T) {
	prov := &fakeProvider{vec: []float32{1, 2, 3, 4, 5}}
	st, _, p := seedPipeline(t, prov, 3)
	ctx := context.Background()
	ch := seedChunk(t, st)

	require.NoError(t, p.Enqueue(ctx, "o1", model.KindChunk, ch.ChunkID))
	err := p.Compute(ctx, "o1", model.KindChunk, ch.ChunkID)
	assert.ErrorIs(t, err, model.ErrDimensionExceeded)
	assert.NotErrorIs(t, err, model.ErrExternalCall)

	rec, gerr := st.Embeddings().Get(ctx, "o1", model.KindChunk, ch.ChunkID)
	require.NoError(t, gerr)
	assert.Equal(t, model.EmbeddingError, rec.Status)
	assert.NotEmpty(t, rec.ErrorMsg)
}

func TestComputeProviderFailureIsRetryable(t *testing.T) {
	prov := &fakeProvider{err: errors.New("connection refused")}
	st, _, p := seedPipeline(t, prov, 3)
	ctx := context.Background()
	ch := seedChunk(t, st)

	require.NoError(t, p.Enqueue(ctx, "o1", model.KindChunk, ch.ChunkID))
	err := p.Compute(ctx, "o1", model.KindChunk, ch.ChunkID)
	assert.ErrorIs(t, err, model.ErrExternalCall)

	rec, gerr := st.Embeddings().Get(ctx, "o1", model.KindChunk, ch.ChunkID)
	require.NoError(t, gerr)
	assert.Equal(t, model.EmbeddingError, rec.Status)
}

func TestComputeDeletedTargetDropsRecord(t *testing.T) {
	prov := &fakeProvider{vec: []float32{1, 0, 0}}
	st, _, p := seedPipeline(t, prov, 3)
	ctx := context.Background()
	ch := seedChunk(t, st)

	require.NoError(t, p.Enqueue(ctx, "o1", model.KindChunk, ch.ChunkID))
	require.NoError(t, st.Chunks().Delete(ctx, "o1", ch.ChunkID))

	require.NoError(t, p.Compute(ctx, "o1", model.KindChunk, ch.ChunkID))
	_, err := st.Embeddings().Get(ctx, "o1", model.KindChunk, ch.ChunkID)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Zero(t, prov.calls, "no provider call for a deleted target")
}

func TestRebuildPurgesAndRequeues(t *testing.T) {
	prov := &fakeProvider{vec: []float32{1, 0, 0}}
	st, vec, p := seedPipeline(t, prov, 3)
	ctx := context.Background()
	ch := seedChunk(t, st)

	require.NoError(t, p.Enqueue(ctx, "o1", model.KindChunk, ch.ChunkID))
	require.NoError(t, p.Compute(ctx, "o1", model.KindChunk, ch.ChunkID))
	// clear the enqueue job so only rebuild output remains
	jobs, err := st.Jobs().LeaseBatch(ctx, 10)
	require.NoError(t, err)
	for _, j := range jobs {
		require.NoError(t, st.Jobs().MarkDone(ctx, j.ID))
	}

	require.NoError(t, p.Rebuild(ctx, "o1", "fake", "fake-model-v2", 3))

	owner, err := st.Owners().Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, "fake-model-v2", owner.EmbedModel)

	hits, err := vec.Search(ctx, "o1", "", []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits, "old-generation vectors purged")

	rec, err := st.Embeddings().Get(ctx, "o1", model.KindChunk, ch.ChunkID)
	require.NoError(t, err)
	assert.Equal(t, model.EmbeddingPending, rec.Status)
	assert.Equal(t, "fake-model-v2", rec.Model)

	jobs, err = st.Jobs().LeaseBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, JobKindEmbedTarget, jobs[0].Kind)
}

func TestRebuildConflictsWithItself(t *testing.T) {
	st, _, p := seedPipeline(t, &fakeProvider{vec: []float32{1}}, 3)
	ctx := context.Background()

	release, ok, err := st.Locks().TryAcquire(ctx, "embed-rebuild/o1")
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	err = p.Rebuild(ctx, "o1", "fake", "fake-model", 3)
	assert.ErrorIs(t, err, model.ErrConflict)
}

func TestEmbedQueryDisabledOwner(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	_, err := st.Owners().Put(ctx, &model.Owner{OwnerID: "o1", TimeZone: "UTC", EmbedProvider: "none"})
	require.NoError(t, err)
	p := NewPipeline(st, vecindex.NewMemIndex(), fixedRegistry(nil), time.Minute, zerolog.Nop())

	vec, err := p.EmbedQuery(ctx, "o1", "anything")
	require.NoError(t, err)
	assert.Nil(t, vec)
}
