// Package jobworker boots the background worker process: the job queue
// consumer plus the cron scheduler that sweeps stale segments.
package jobworker

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/chronologue/chronologue/internal/config"
	"github.com/chronologue/chronologue/internal/coordinator"
	"github.com/chronologue/chronologue/internal/embeddings"
	"github.com/chronologue/chronologue/internal/factory"
	"github.com/chronologue/chronologue/internal/jobs"
	"github.com/chronologue/chronologue/internal/logger"
	"github.com/chronologue/chronologue/internal/model"
)

// Run starts the worker and blocks until shutdown or error.
func Run() error {
	log := logger.New("chronologue-worker")

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("load configuration")
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := factory.NewEngine(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("build engine")
		return err
	}
	defer func() { _ = engine.Close() }()

	worker := jobs.NewWorker(engine.Store, cfg.JobBatchSize, time.Duration(cfg.JobPollSeconds)*time.Second, log)
	registerHandlers(worker, engine)

	sched := jobs.NewScheduler(log)
	if err := sched.Add(cfg.NightlySweepSpec, "segment-sweep", engine.Coordinator.NightlySweep); err != nil {
		log.Error().Err(err).Msg("register segment sweep")
		return err
	}
	sched.Start()
	defer sched.Stop()

	log.Info().Int("batch_size", cfg.JobBatchSize).Str("sweep", cfg.NightlySweepSpec).Msg("worker starting")
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		log.Error().Err(err).Msg("worker stopped")
		return err
	}
	log.Info().Msg("worker exited")
	return nil
}

func registerHandlers(w *jobs.Worker, engine *factory.Engine) {
	w.Register(coordinator.JobKindIndexChunks, func(ctx context.Context, job *model.Job) error {
		return engine.Coordinator.IndexChunks(ctx,
			jobs.StringField(job.Payload, "ownerId"),
			jobs.StringField(job.Payload, "segmentId"))
	})
	w.Register(coordinator.JobKindSummarizeSegment, func(ctx context.Context, job *model.Job) error {
		return engine.Coordinator.SummarizeSegment(ctx,
			jobs.StringField(job.Payload, "ownerId"),
			jobs.StringField(job.Payload, "segmentId"),
			jobs.Int64Field(job.Payload, "upTo"))
	})
	w.Register(coordinator.JobKindFinalizeSegment, func(ctx context.Context, job *model.Job) error {
		return engine.Coordinator.FinalizeSegment(ctx,
			jobs.StringField(job.Payload, "ownerId"),
			jobs.StringField(job.Payload, "segmentId"))
	})
	w.Register(embeddings.JobKindEmbedTarget, func(ctx context.Context, job *model.Job) error {
		return engine.Pipeline.Compute(ctx,
			jobs.StringField(job.Payload, "ownerId"),
			jobs.StringField(job.Payload, "kind"),
			jobs.StringField(job.Payload, "targetId"))
	})
	w.Register(embeddings.JobKindRebuild, func(ctx context.Context, job *model.Job) error {
		return engine.Pipeline.Rebuild(ctx,
			jobs.StringField(job.Payload, "ownerId"),
			jobs.StringField(job.Payload, "provider"),
			jobs.StringField(job.Payload, "model"),
			int(jobs.Int64Field(job.Payload, "dimension")))
	})
}
