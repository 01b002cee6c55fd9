package jobs

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronologue/chronologue/internal/model"
	"github.com/chronologue/chronologue/internal/store/memstore"
)

func TestWorkerAcksSuccessfulJob(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	w := NewWorker(s, 10, time.Second, zerolog.Nop())

	var got []string
	w.Register("greet", func(ctx context.Context, job *model.Job) error {
		got = append(got, StringField(job.Payload, "name"))
		return nil
	})

	require.NoError(t, s.Jobs().Enqueue(ctx, "greet", "k1", map[string]interface{}{"name": "ada"}))
	require.NoError(t, w.RunOnce(ctx))
	assert.Equal(t, []string{"ada"}, got)

	batch, err := s.Jobs().LeaseBatch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestWorkerRetriesTransientFailureWithBackoff(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	w := NewWorker(s, 10, time.Second, zerolog.Nop())

	calls := 0
	w.Register("flaky", func(ctx context.Context, job *model.Job) error {
		calls++
		return fmt.Errorf("upstream: %w", model.ErrExternalCall)
	})

	require.NoError(t, s.Jobs().Enqueue(ctx, "flaky", "k1", nil))
	require.NoError(t, w.RunOnce(ctx))
	assert.Equal(t, 1, calls)

	// backoff keeps the job out of the next immediate batch
	require.NoError(t, w.RunOnce(ctx))
	assert.Equal(t, 1, calls)
}

func TestWorkerDropsPermanentFailure(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	w := NewWorker(s, 10, time.Second, zerolog.Nop())

	calls := 0
	w.Register("bad", func(ctx context.Context, job *model.Job) error {
		calls++
		return fmt.Errorf("vector too large: %w", model.ErrDimensionExceeded)
	})

	require.NoError(t, s.Jobs().Enqueue(ctx, "bad", "k1", nil))
	require.NoError(t, w.RunOnce(ctx))
	assert.Equal(t, 1, calls)

	batch, err := s.Jobs().LeaseBatch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, batch, "permanent failures are not retried")
}

func TestWorkerDropsUnknownKind(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	w := NewWorker(s, 10, time.Second, zerolog.Nop())

	require.NoError(t, s.Jobs().Enqueue(ctx, "mystery", "k1", nil))
	require.NoError(t, w.RunOnce(ctx))

	batch, err := s.Jobs().LeaseBatch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestInt64FieldAcceptsJSONShapes(t *testing.T) {
	p := map[string]interface{}{
		"a": int64(7),
		"b": float64(7),
		"c": "not a number",
	}
	assert.Equal(t, int64(7), Int64Field(p, "a"))
	assert.Equal(t, int64(7), Int64Field(p, "b"))
	assert.Equal(t, int64(0), Int64Field(p, "c"))
	assert.Equal(t, int64(0), Int64Field(p, "missing"))
}
