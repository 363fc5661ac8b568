// Package pipeline runs the periodic per-user background jobs: insight
// generation, reminders, schedule optimization and metrics.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/flowmind/flowmind/internal/events"
	"github.com/flowmind/flowmind/internal/llm"
)

// Job is one periodic batch operation. Units are user IDs; a failing
// unit never aborts the batch.
type Job interface {
	Name() string
	// Schedule is a standard cron expression, evaluated in UTC.
	Schedule() string
	// Units lists the user IDs this run should process.
	Units(ctx context.Context) ([]int64, error)
	// Process handles one user. It must be idempotent; re-running a
	// unit after a partial batch is expected.
	Process(ctx context.Context, userID int64) error
}

// JobReport summarizes one batch run
type JobReport struct {
	Job       string        `json:"job"`
	Total     int           `json:"total"`
	Processed int           `json:"processed"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// Runner executes a job's units on a bounded worker pool
type Runner struct {
	workers int
	logger  *slog.Logger

	// Bus, when set, receives job start and completion events.
	Bus *events.Bus
}

// NewRunner creates a runner with the given concurrency.
func NewRunner(workers int, logger *slog.Logger) *Runner {
	if workers <= 0 {
		workers = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{workers: workers, logger: logger}
}

// Run processes every unit of the job, isolating per-unit failures.
// Listing the units is the only step that can fail the whole run.
// Cancellation stops dispatch between units; in-flight units finish.
func (r *Runner) Run(ctx context.Context, job Job) (JobReport, error) {
	start := time.Now()
	report := JobReport{Job: job.Name()}

	units, err := job.Units(ctx)
	if err != nil {
		return report, err
	}
	report.Total = len(units)
	r.publish(ctx, events.EventPipelineJobStarted, map[string]interface{}{
		"job":   job.Name(),
		"total": report.Total,
	})
	if len(units) == 0 {
		report.Duration = time.Since(start)
		r.publishDone(ctx, report)
		return report, nil
	}

	workers := r.workers
	if workers > len(units) {
		workers = len(units)
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	unitCh := make(chan int64)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for userID := range unitCh {
				if err := job.Process(ctx, userID); err != nil {
					r.logger.Error("job unit failed",
						"job", job.Name(), "user_id", userID, "error", err)
					mu.Lock()
					report.Failed++
					mu.Unlock()
					continue
				}
				mu.Lock()
				report.Processed++
				mu.Unlock()
			}
		}()
	}

dispatch:
	for _, userID := range units {
		select {
		case <-ctx.Done():
			break dispatch
		case unitCh <- userID:
		}
	}
	close(unitCh)
	wg.Wait()

	report.Duration = time.Since(start)
	r.publishDone(ctx, report)
	r.logger.Info("job run complete",
		"job", job.Name(),
		"processed", report.Processed,
		"total", report.Total,
		"failed", report.Failed,
		"duration", report.Duration)
	return report, nil
}

func (r *Runner) publish(ctx context.Context, eventType events.EventType, data map[string]interface{}) {
	if r.Bus == nil {
		return
	}
	if err := r.Bus.Publish(ctx, &events.Event{Type: eventType, Data: data}); err != nil {
		r.logger.Warn("publishing pipeline event", "type", eventType, "error", err)
	}
}

func (r *Runner) publishDone(ctx context.Context, report JobReport) {
	r.publish(ctx, events.EventPipelineJobDone, map[string]interface{}{
		"job":         report.Job,
		"total":       report.Total,
		"processed":   report.Processed,
		"failed":      report.Failed,
		"duration_ms": report.Duration.Milliseconds(),
	})
}

// retryTransient runs fn, retrying only transient AI outages with
// exponential backoff. Everything else fails immediately.
func retryTransient(ctx context.Context, attempts int, base time.Duration, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, llm.ErrServiceUnavailable) || attempt >= attempts {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(base << attempt):
		}
	}
}
