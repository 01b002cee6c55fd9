// Package jobs runs the durable background queue: leased batches, per-kind
// handlers, retry with backoff, and the periodic nightly sweep.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/chronologue/chronologue/internal/model"
	"github.com/chronologue/chronologue/internal/store"
)

// Handler processes one job. A nil return acknowledges the job; an error
// reschedules it with backoff unless the error is permanent.
type Handler func(ctx context.Context, job *model.Job) error

type Worker struct {
	store     store.Store
	handlers  map[string]Handler
	batchSize int
	poll      time.Duration
	log       zerolog.Logger
}

func NewWorker(s store.Store, batchSize int, poll time.Duration, log zerolog.Logger) *Worker {
	if batchSize <= 0 {
		batchSize = 10
	}
	if poll <= 0 {
		poll = 2 * time.Second
	}
	return &Worker{
		store:     s,
		handlers:  make(map[string]Handler),
		batchSize: batchSize,
		poll:      poll,
		log:       log,
	}
}

func (w *Worker) Register(kind string, h Handler) { w.handlers[kind] = h }

// Run polls until the context is cancelled. Execution is at-least-once:
// a worker crash mid-job surfaces the job again after its lease expires, so
// handlers must be idempotent.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()
	for {
		if err := w.RunOnce(ctx); err != nil {
			w.log.Error().Err(err).Msg("job batch failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce leases and processes a single batch.
func (w *Worker) RunOnce(ctx context.Context) error {
	batch, err := w.store.Jobs().LeaseBatch(ctx, w.batchSize)
	if err != nil {
		return err
	}
	for _, job := range batch {
		w.process(ctx, job)
	}
	return nil
}

func (w *Worker) process(ctx context.Context, job *model.Job) {
	h, ok := w.handlers[job.Kind]
	if !ok {
		w.log.Error().Str("kind", job.Kind).Int64("jobId", job.ID).Msg("no handler for job kind, dropping")
		_ = w.store.Jobs().MarkDone(ctx, job.ID)
		return
	}
	err := h(ctx, job)
	switch {
	case err == nil:
		if derr := w.store.Jobs().MarkDone(ctx, job.ID); derr != nil {
			w.log.Error().Err(derr).Int64("jobId", job.ID).Msg("mark job done")
		}
	case permanent(err):
		// config or invariant errors cannot succeed on retry; keep the last
		// good state and record the failure for operators
		w.log.Error().Err(err).Str("kind", job.Kind).Str("key", job.Key).
			Int64("jobId", job.ID).Msg("job failed permanently, dropping")
		if derr := w.store.Jobs().MarkDone(ctx, job.ID); derr != nil {
			w.log.Error().Err(derr).Int64("jobId", job.ID).Msg("mark job done")
		}
	default:
		w.log.Warn().Err(err).Str("kind", job.Kind).Str("key", job.Key).
			Int64("jobId", job.ID).Int("attempts", job.Attempts).Msg("job failed, will retry")
		if ferr := w.store.Jobs().MarkFailed(ctx, job.ID); ferr != nil {
			w.log.Error().Err(ferr).Int64("jobId", job.ID).Msg("mark job failed")
		}
	}
}

func permanent(err error) bool {
	return errors.Is(err, model.ErrDimensionExceeded) || errors.Is(err, model.ErrInvalidRange)
}

// StringField reads a string payload field, tolerating absence.
func StringField(p map[string]interface{}, key string) string {
	s, _ := p[key].(string)
	return s
}

// Int64Field reads an integer payload field. JSON round-trips turn integers
// into float64 or json.Number depending on the decoder, so all three
// representations are accepted.
func Int64Field(p map[string]interface{}, key string) int64 {
	switch v := p[key].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	default:
		return 0
	}
}
