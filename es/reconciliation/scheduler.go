package reconciliation

import (
	"context"
	"time"
)

// Runner is one reconciliation pass.
type Runner interface {
	Run(ctx context.Context) error
}

// Scheduler runs a Job, then waits Interval, for as long as its context lives.
type Scheduler struct {
	config Config
	job    Runner
}

// NewScheduler creates a Scheduler.
func NewScheduler(job Runner, opts ...Option) *Scheduler {
	return &Scheduler{
		config: NewConfig(opts...),
		job:    job,
	}
}

// Run blocks until ctx is cancelled and then returns nil. Errors from a
// single pass are logged and do not stop the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.config.Logger != nil {
		s.config.Logger.Info(ctx, "reconciliation scheduler starting",
			"interval", s.config.Interval.String(),
			"grace_period", s.config.GracePeriod.String())
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if s.config.Logger != nil {
				s.config.Logger.Info(ctx, "reconciliation scheduler stopped")
			}
			return nil
		case <-timer.C:
		}

		if err := s.job.Run(ctx); err != nil && ctx.Err() == nil {
			if s.config.Logger != nil {
				s.config.Logger.Error(ctx, "reconciliation pass failed",
					"error", err)
			}
		}

		timer.Reset(s.config.Interval)
	}
}
