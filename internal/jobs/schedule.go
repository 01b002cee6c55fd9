package jobs

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler runs periodic maintenance, currently just the sweep that
// enqueues finalize jobs for rolled-over segments.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

func NewScheduler(log zerolog.Logger) *Scheduler {
	return &Scheduler{cron: cron.New(), log: log}
}

// Add schedules fn on a cron spec (e.g. "@hourly"). The sweep runs more
// often than nightly on purpose: day rollover happens at a different wall
// time per owner timezone.
func (s *Scheduler) Add(spec, name string, fn func(ctx context.Context) error) error {
	_, err := s.cron.AddFunc(spec, func() {
		if err := fn(context.Background()); err != nil {
			s.log.Error().Err(err).Str("task", name).Msg("scheduled task failed")
		}
	})
	return err
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts scheduling and returns once running tasks complete.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
