// Package scheduler runs the periodic pipelines on cron schedules.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// JobFunc is one schedulable unit of work.
type JobFunc func(ctx context.Context) error

// Scheduler manages the background jobs. Each job run gets its own
// timeout-bound context so a wedged run cannot block the next tick forever.
type Scheduler struct {
	cron       *cron.Cron
	log        zerolog.Logger
	jobTimeout time.Duration
}

// New creates a scheduler. jobTimeout bounds each job run.
func New(log zerolog.Logger, jobTimeout time.Duration) *Scheduler {
	if jobTimeout <= 0 {
		jobTimeout = 10 * time.Minute
	}
	return &Scheduler{
		cron:       cron.New(),
		log:        log.With().Str("component", "scheduler").Logger(),
		jobTimeout: jobTimeout,
	}
}

// AddJob registers fn under the given cron schedule. Schedules accept the
// standard five-field syntax plus descriptors like "@every 5m".
func (s *Scheduler) AddJob(schedule, name string, fn JobFunc) error {
	_, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
		defer cancel()

		s.log.Debug().Str("job", name).Msg("running job")
		if err := fn(ctx); err != nil {
			s.log.Error().Err(err).Str("job", name).Msg("job failed")
			return
		}
		s.log.Debug().Str("job", name).Msg("job completed")
	})
	if err != nil {
		return err
	}

	s.log.Info().Str("schedule", schedule).Str("job", name).Msg("job registered")
	return nil
}

// Start starts the scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("scheduler started")
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("scheduler stopped")
}
