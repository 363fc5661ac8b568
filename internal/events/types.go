// Package events provides in-process streaming of task lifecycle events
package events

// EventType identifies what happened
type EventType string

const (
	EventTaskCreated   EventType = "task.created"
	EventTaskUpdated   EventType = "task.updated"
	EventTaskCompleted EventType = "task.completed"
	EventTaskDeleted   EventType = "task.deleted"

	EventDependencyAdded   EventType = "dependency.added"
	EventDependencyRemoved EventType = "dependency.removed"

	EventReminderDue     EventType = "reminder.due"
	EventMetricsComputed EventType = "metrics.computed"

	EventTaskParsed         EventType = "ai.task_parsed"
	EventScheduleOptimized  EventType = "ai.schedule_optimized"
	EventInsightsGenerated  EventType = "ai.insights_generated"
	EventPipelineJobStarted EventType = "pipeline.job_started"
	EventPipelineJobDone    EventType = "pipeline.job_done"
)

// Event is a single lifecycle notification
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	UserID    int64                  `json:"user_id,omitempty"`
	TaskID    int64                  `json:"task_id,omitempty"`
	Timestamp int64                  `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// EventFilter narrows what a streamer forwards
type EventFilter struct {
	Types  []EventType
	UserID int64
	TaskID int64
	Since  int64
	Until  int64
}
