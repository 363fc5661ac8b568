package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs registered jobs on their cron cadences. All
// expressions are evaluated in UTC.
type Scheduler struct {
	cron   *cron.Cron
	runner *Runner
	logger *slog.Logger
}

func NewScheduler(runner *Runner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		runner: runner,
		logger: logger,
	}
}

// Register adds a job to the schedule. Invalid cron expressions are
// rejected up front so misconfiguration fails at startup.
func (s *Scheduler) Register(ctx context.Context, job Job) error {
	_, err := s.cron.AddFunc(job.Schedule(), func() {
		if _, err := s.runner.Run(ctx, job); err != nil {
			s.logger.Error("scheduled job failed", "job", job.Name(), "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("register job %s with schedule %q: %w", job.Name(), job.Schedule(), err)
	}
	s.logger.Info("job scheduled", "job", job.Name(), "schedule", job.Schedule())
	return nil
}

// Start begins cron dispatch in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts dispatch and waits for running jobs to complete.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
