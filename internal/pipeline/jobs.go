package pipeline

import (
	"context"
	"time"

	"github.com/flowmind/flowmind/internal/config"
	"github.com/flowmind/flowmind/internal/db"
	"github.com/flowmind/flowmind/internal/events"
	"github.com/flowmind/flowmind/internal/parse"
	"github.com/flowmind/flowmind/pkg/types"
)

// TaskService is the slice of the task layer the jobs consume.
type TaskService interface {
	GenerateInsights(ctx context.Context, userID int64) (parse.InsightsResult, error)
	OptimizeUserSchedule(ctx context.Context, userID int64) (int, error)
	SummarizeSessions(ctx context.Context, userID int64) (int, error)
	Analytics(ctx context.Context, userID int64, periodDays int) (*types.Analytics, error)
}

const (
	defaultAIRetries = 2
	aiRetryBackoff   = 2 * time.Second
)

func retryAttempts(n int) int {
	if n > 0 {
		return n
	}
	return defaultAIRetries
}

// InsightsJob generates a daily productivity summary for every active user
type InsightsJob struct {
	Store   *db.Store
	Service TaskService
	Cron    string

	// Retries bounds transient AI retry attempts per user.
	Retries int
}

func (j *InsightsJob) Name() string     { return "daily_insights" }
func (j *InsightsJob) Schedule() string { return j.Cron }

func (j *InsightsJob) Units(ctx context.Context) ([]int64, error) {
	return j.Store.ListActiveUserIDs()
}

func (j *InsightsJob) Process(ctx context.Context, userID int64) error {
	return retryTransient(ctx, retryAttempts(j.Retries), aiRetryBackoff, func() error {
		_, err := j.Service.GenerateInsights(ctx, userID)
		return err
	})
}

// ScheduleOptimizationJob refreshes AI time-slot suggestions during
// working hours. Outside the working window it is a no-op.
type ScheduleOptimizationJob struct {
	Store   *db.Store
	Service TaskService
	Cron    string

	// WorkingHoursStart and WorkingHoursEnd bound the UTC hours in
	// which the job runs, start inclusive, end exclusive.
	WorkingHoursStart int
	WorkingHoursEnd   int

	Retries int

	nowFunc func() time.Time
}

func (j *ScheduleOptimizationJob) Name() string     { return "schedule_optimization" }
func (j *ScheduleOptimizationJob) Schedule() string { return j.Cron }

func (j *ScheduleOptimizationJob) now() time.Time {
	if j.nowFunc != nil {
		return j.nowFunc()
	}
	return time.Now().UTC()
}

func (j *ScheduleOptimizationJob) Units(ctx context.Context) ([]int64, error) {
	hour := j.now().Hour()
	if hour < j.WorkingHoursStart || hour >= j.WorkingHoursEnd {
		return nil, nil
	}
	return j.Store.ListActiveUserIDs()
}

func (j *ScheduleOptimizationJob) Process(ctx context.Context, userID int64) error {
	return retryTransient(ctx, retryAttempts(j.Retries), aiRetryBackoff, func() error {
		_, err := j.Service.OptimizeUserSchedule(ctx, userID)
		return err
	})
}

// ReminderJob publishes reminder.due events for tasks due within the
// lookahead window. Delivery is the subscribers' concern.
type ReminderJob struct {
	Store *db.Store
	Bus   *events.Bus
	Cron  string

	// Lookahead is how far ahead of now a task counts as due.
	Lookahead time.Duration

	nowFunc func() time.Time
}

func (j *ReminderJob) Name() string     { return "due_reminders" }
func (j *ReminderJob) Schedule() string { return j.Cron }

func (j *ReminderJob) now() time.Time {
	if j.nowFunc != nil {
		return j.nowFunc()
	}
	return time.Now().UTC()
}

func (j *ReminderJob) lookahead() time.Duration {
	if j.Lookahead > 0 {
		return j.Lookahead
	}
	return 24 * time.Hour
}

func (j *ReminderJob) Units(ctx context.Context) ([]int64, error) {
	return j.Store.ListActiveUserIDs()
}

func (j *ReminderJob) Process(ctx context.Context, userID int64) error {
	now := j.now()
	tasks, err := j.Store.ListDueBetween(userID, now, now.Add(j.lookahead()))
	if err != nil {
		return err
	}
	for _, t := range tasks {
		event := &events.Event{
			Type:   events.EventReminderDue,
			UserID: userID,
			TaskID: t.ID,
			Data: map[string]interface{}{
				"title":    t.Title,
				"due_date": t.DueDate.UTC().Format(time.RFC3339),
				"priority": string(t.Priority),
			},
		}
		if err := j.Bus.Publish(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// SessionSummaryJob condenses finished AI conversation sessions into
// summary records so the interaction log stays skimmable
type SessionSummaryJob struct {
	Store   *db.Store
	Service TaskService
	Cron    string
	Retries int
}

func (j *SessionSummaryJob) Name() string     { return "session_summaries" }
func (j *SessionSummaryJob) Schedule() string { return j.Cron }

func (j *SessionSummaryJob) Units(ctx context.Context) ([]int64, error) {
	return j.Store.ListActiveUserIDs()
}

func (j *SessionSummaryJob) Process(ctx context.Context, userID int64) error {
	return retryTransient(ctx, retryAttempts(j.Retries), aiRetryBackoff, func() error {
		_, err := j.Service.SummarizeSessions(ctx, userID)
		return err
	})
}

// MetricsJob computes hourly per-user analytics and publishes them
type MetricsJob struct {
	Service TaskService
	Store   *db.Store
	Bus     *events.Bus
	Cron    string
}

func (j *MetricsJob) Name() string     { return "hourly_metrics" }
func (j *MetricsJob) Schedule() string { return j.Cron }

func (j *MetricsJob) Units(ctx context.Context) ([]int64, error) {
	return j.Store.ListActiveUserIDs()
}

func (j *MetricsJob) Process(ctx context.Context, userID int64) error {
	stats, err := j.Service.Analytics(ctx, userID, 1)
	if err != nil {
		return err
	}
	event := &events.Event{
		Type:   events.EventMetricsComputed,
		UserID: userID,
		Data: map[string]interface{}{
			"total_tasks":     stats.TotalTasks,
			"completed_tasks": stats.CompletedTasks,
			"completion_rate": stats.CompletionRate,
			"overdue_tasks":   stats.OverdueTasks,
		},
	}
	return j.Bus.Publish(ctx, event)
}

// DefaultJobs builds the standard job set from configuration.
func DefaultJobs(cfg *config.Config, store *db.Store, svc TaskService, bus *events.Bus) []Job {
	return []Job{
		&InsightsJob{Store: store, Service: svc, Cron: cfg.Pipeline.InsightsSchedule, Retries: cfg.AI.MaxRetries},
		&ScheduleOptimizationJob{
			Store:             store,
			Service:           svc,
			Cron:              cfg.Pipeline.OptimizationSchedule,
			WorkingHoursStart: cfg.Pipeline.WorkingHoursStart,
			WorkingHoursEnd:   cfg.Pipeline.WorkingHoursEnd,
			Retries:           cfg.AI.MaxRetries,
		},
		&ReminderJob{Store: store, Bus: bus, Cron: cfg.Pipeline.ReminderSchedule, Lookahead: 24 * time.Hour},
		&MetricsJob{Service: svc, Store: store, Bus: bus, Cron: cfg.Pipeline.MetricsSchedule},
		&SessionSummaryJob{Store: store, Service: svc, Cron: cfg.Pipeline.SummarySchedule, Retries: cfg.AI.MaxRetries},
	}
}
