// Package types defines core data structures for FlowMind
package types

import "time"

// InteractionKind classifies what an AI exchange was about
type InteractionKind string

const (
	InteractionKindParse    InteractionKind = "task_parse"
	InteractionKindSchedule InteractionKind = "schedule_optimization"
	InteractionKindInsights InteractionKind = "productivity_insights"
	InteractionKindSummary  InteractionKind = "session_summary"
)

// InteractionRole represents the role of a message sender
type InteractionRole string

const (
	InteractionRoleUser      InteractionRole = "user"
	InteractionRoleAssistant InteractionRole = "assistant"
	InteractionRoleSystem    InteractionRole = "system"
)

// Interaction is a write-once record of one side of an AI exchange.
// Records are never updated after insert; history is append only.
type Interaction struct {
	ID          int64           `json:"id" db:"id"`
	UUID        string          `json:"uuid" db:"uuid"`
	UserID      int64           `json:"user_id" db:"user_id"`
	SessionID   string          `json:"session_id" db:"session_id"`
	Kind        InteractionKind `json:"kind" db:"kind"`
	Role        InteractionRole `json:"role" db:"role"`
	Content     string          `json:"content" db:"content"`
	TotalTokens int             `json:"total_tokens" db:"total_tokens"`
	Entity      string          `json:"entity,omitempty" db:"entity"` // JSON payload extracted from the exchange
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// InteractionStats summarizes AI usage for a user
type InteractionStats struct {
	TotalInteractions int     `json:"total_interactions"`
	TotalTokens       int     `json:"total_tokens"`
	AvgTokens         float64 `json:"avg_tokens"`
}
