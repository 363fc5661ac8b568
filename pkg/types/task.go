// Package types defines core data structures for FlowMind
package types

import "time"

// TaskStatus represents the current state of a task
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusCancelled  TaskStatus = "cancelled"
	TaskStatusOnHold     TaskStatus = "on_hold"
)

// Valid reports whether s is one of the known task states.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted,
		TaskStatusCancelled, TaskStatusOnHold:
		return true
	}
	return false
}

// TaskPriority represents a named urgency tier
type TaskPriority string

const (
	TaskPriorityLow    TaskPriority = "low"
	TaskPriorityMedium TaskPriority = "medium"
	TaskPriorityHigh   TaskPriority = "high"
	TaskPriorityUrgent TaskPriority = "urgent"
)

// Valid reports whether p is one of the known priority tiers.
func (p TaskPriority) Valid() bool {
	switch p {
	case TaskPriorityLow, TaskPriorityMedium, TaskPriorityHigh, TaskPriorityUrgent:
		return true
	}
	return false
}

// DependencyType describes how a task is ordered relative to its prerequisite
type DependencyType string

const (
	DependencyFinishToStart DependencyType = "finish_to_start"
	DependencyStartToStart  DependencyType = "start_to_start"
)

// Task represents a unit of work owned by a single user
type Task struct {
	ID          int64        `json:"id" db:"id"`
	UUID        string       `json:"uuid" db:"uuid"`
	UserID      int64        `json:"user_id" db:"user_id"`
	Title       string       `json:"title" db:"title"`
	Description *string      `json:"description,omitempty" db:"description"`
	Status      TaskStatus   `json:"status" db:"status"`
	Priority    TaskPriority `json:"priority" db:"priority"`

	DueDate           *time.Time `json:"due_date,omitempty" db:"due_date"`
	StartDate         *time.Time `json:"start_date,omitempty" db:"start_date"`
	EstimatedDuration *int       `json:"estimated_duration,omitempty" db:"estimated_duration"` // minutes
	ActualDuration    *int       `json:"actual_duration,omitempty" db:"actual_duration"`       // minutes

	Tags     []string `json:"tags" db:"tags"`
	Category *string  `json:"category,omitempty" db:"category"`
	Project  *string  `json:"project,omitempty" db:"project"`

	ParentTaskID *int64 `json:"parent_task_id,omitempty" db:"parent_task_id"`

	AIGenerated         bool       `json:"ai_generated" db:"ai_generated"`
	AIPriorityScore     *int       `json:"ai_priority_score,omitempty" db:"ai_priority_score"`     // 0-100
	AIComplexityScore   *int       `json:"ai_complexity_score,omitempty" db:"ai_complexity_score"` // 0-100
	AISuggestedTimeSlot *time.Time `json:"ai_suggested_time_slot,omitempty" db:"ai_suggested_time_slot"`

	// AIContext is a free-form blob of AI-derived context about the
	// task, stored as JSON.
	AIContext map[string]interface{} `json:"ai_context" db:"ai_context"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// IsOverdue reports whether the task's due date has passed without completion.
func (t *Task) IsOverdue(now time.Time) bool {
	if t.DueDate == nil || t.Status == TaskStatusCompleted {
		return false
	}
	return t.DueDate.Before(now)
}

// IsDueSoon reports whether the task is due within the next three days.
func (t *Task) IsDueSoon(now time.Time) bool {
	if t.DueDate == nil || t.Status == TaskStatusCompleted {
		return false
	}
	return !t.DueDate.Before(now) && !t.DueDate.After(now.Add(3*24*time.Hour))
}

// TaskDependency represents a prerequisite edge between two tasks
type TaskDependency struct {
	ID             int64          `json:"id" db:"id"`
	TaskID         int64          `json:"task_id" db:"task_id"`
	DependsOnID    int64          `json:"depends_on_id" db:"depends_on_id"`
	DependencyType DependencyType `json:"dependency_type" db:"dependency_type"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
}

// DependencyLink is a dependency edge joined with the task on the far side
type DependencyLink struct {
	EdgeID         int64          `json:"edge_id"`
	TaskID         int64          `json:"task_id"`
	Title          string         `json:"title"`
	Status         TaskStatus     `json:"status"`
	DependencyType DependencyType `json:"dependency_type"`
}

// Analytics summarizes task activity for a user over a window
type Analytics struct {
	UserID            int64   `json:"user_id"`
	PeriodDays        int     `json:"period_days"`
	TotalTasks        int     `json:"total_tasks"`
	CompletedTasks    int     `json:"completed_tasks"`
	PendingTasks      int     `json:"pending_tasks"`
	OverdueTasks      int     `json:"overdue_tasks"`
	CompletionRate    float64 `json:"completion_rate"`
	ProductivityScore float64 `json:"productivity_score"`
}
