package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
)

// DurablePipeline runs batch jobs as DBOS workflows so that a crashed
// run resumes from its last completed unit instead of starting over.
type DurablePipeline struct {
	dbosCtx dbos.DBOSContext
	queue   dbos.WorkflowQueue
	jobs    map[string]Job
	logger  *slog.Logger
}

// JobRunInput identifies one durable batch run.
type JobRunInput struct {
	JobName string `json:"job_name"`
}

// NewDurablePipeline wraps an existing DBOS context. Workflows must be
// registered before the context is launched.
func NewDurablePipeline(dbosCtx dbos.DBOSContext, jobs []Job, logger *slog.Logger) *DurablePipeline {
	if logger == nil {
		logger = slog.Default()
	}
	byName := make(map[string]Job, len(jobs))
	for _, j := range jobs {
		byName[j.Name()] = j
	}
	p := &DurablePipeline{
		dbosCtx: dbosCtx,
		jobs:    byName,
		logger:  logger,
	}
	p.queue = dbos.NewWorkflowQueue(dbosCtx, "flowmind-jobs",
		dbos.WithQueueBasePollingInterval(10*time.Millisecond))
	dbos.RegisterWorkflow(dbosCtx, p.RunJobWorkflow)
	return p
}

// Enqueue submits a durable run of the named job and waits for its
// report.
func (p *DurablePipeline) Enqueue(jobName string) (JobReport, error) {
	if _, ok := p.jobs[jobName]; !ok {
		return JobReport{}, fmt.Errorf("unknown job: %s", jobName)
	}
	handle, err := dbos.RunWorkflow(p.dbosCtx, p.RunJobWorkflow, JobRunInput{JobName: jobName},
		dbos.WithQueue(p.queue.Name))
	if err != nil {
		return JobReport{}, fmt.Errorf("enqueue job %s: %w", jobName, err)
	}
	report, err := handle.GetResult()
	if err != nil {
		return JobReport{}, fmt.Errorf("job %s workflow: %w", jobName, err)
	}
	return report, nil
}

// RunJobWorkflow is the durable form of Runner.Run. Each unit is a
// checkpointed step; completed units are not re-executed on recovery.
func (p *DurablePipeline) RunJobWorkflow(ctx dbos.DBOSContext, input JobRunInput) (JobReport, error) {
	start := time.Now()
	report := JobReport{Job: input.JobName}

	job, ok := p.jobs[input.JobName]
	if !ok {
		return report, fmt.Errorf("unknown job: %s", input.JobName)
	}

	units, err := dbos.RunAsStep(ctx, func(stepCtx context.Context) ([]int64, error) {
		return job.Units(stepCtx)
	}, dbos.WithStepMaxRetries(2))
	if err != nil {
		return report, fmt.Errorf("list units for %s: %w", input.JobName, err)
	}
	report.Total = len(units)

	for _, userID := range units {
		uid := userID
		_, err := dbos.RunAsStep(ctx, func(stepCtx context.Context) (bool, error) {
			return true, job.Process(stepCtx, uid)
		}, dbos.WithStepMaxRetries(2))
		if err != nil {
			p.logger.Error("durable job unit failed",
				"job", input.JobName, "user_id", uid, "error", err)
			report.Failed++
			continue
		}
		report.Processed++
	}

	report.Duration = time.Since(start)
	p.logger.Info("durable job run complete",
		"job", input.JobName,
		"processed", report.Processed,
		"total", report.Total,
		"failed", report.Failed,
		"duration", report.Duration)
	return report, nil
}
