package task

import (
	"fmt"
	"strings"
	"time"

	"github.com/flowmind/flowmind/pkg/types"
)

const parseSystemPrompt = `You are an intelligent task parsing assistant. Extract structured task information from natural language input.

Respond with only a JSON object using these keys:
- title: concise task title (max 200 chars)
- description: longer detail if present, else null
- priority: one of "low", "medium", "high", "urgent"
- due_date: ISO 8601 date or datetime if a deadline is mentioned, else null
- estimated_duration: estimated minutes to complete, else null
- tags: array of short lowercase tags
- dependencies: array of things that must happen first
- subtasks: array of sub-steps if the request is compound
- confidence: 0.0-1.0 confidence in this extraction
- reasoning: one sentence on how you interpreted the input`

const scheduleSystemPrompt = `You are a scheduling optimizer. Given a user's open tasks, propose when each should be worked on.

Respond with only a JSON object using these keys:
- optimized_schedule: array of {"task_id": <id>, "suggested_time": "<ISO 8601 datetime>"}
- conflicts_resolved: array of {"conflict": "...", "resolution": "..."}
- focus_blocks: array of {"start": "HH:MM", "end": "HH:MM", "activity": "..."}
- productivity_tips: array of short actionable strings
- optimization_score: 0-100 quality estimate of this schedule`

const insightsSystemPrompt = `You are a productivity analyst. Given a summary of a user's recent task activity, produce observations they can act on.

Respond with only a JSON object:
{"insights": [{"type": "...", "title": "...", "description": "...", "impact_score": 0.0-1.0, "confidence": 0.0-1.0, "recommendations": ["...", "..."]}]}`

const summarySystemPrompt = `You are a conversation summarizer. Condense a task-management AI session into a short summary a user could skim later.

Respond with 2-4 plain sentences covering what was asked, what was created or changed, and anything left open. No JSON, no lists.`

// buildSummaryPrompt renders a session transcript oldest first.
func buildSummaryPrompt(records []*types.Interaction) string {
	var sb strings.Builder
	sb.WriteString("Session transcript:\n")
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		fmt.Fprintf(&sb, "[%s/%s] %s\n", rec.Kind, rec.Role, rec.Content)
	}
	sb.WriteString("\nSummarize this session.")
	return sb.String()
}

// buildParseUserPrompt frames the raw input with today's date so
// relative deadlines resolve deterministically.
func buildParseUserPrompt(input string, now time.Time) string {
	return fmt.Sprintf("Current date: %s\n\nParse this task request:\n%s",
		now.Format("2006-01-02"), input)
}

// buildSchedulePrompt renders the open tasks the optimizer may place.
func buildSchedulePrompt(tasks []*types.Task, now time.Time) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Current time: %s\n\nOpen tasks:\n", now.Format(time.RFC3339))
	for _, task := range tasks {
		fmt.Fprintf(&sb, "- id=%d title=%q priority=%s status=%s", task.ID, task.Title, task.Priority, task.Status)
		if task.DueDate != nil {
			fmt.Fprintf(&sb, " due=%s", task.DueDate.Format(time.RFC3339))
		}
		if task.EstimatedDuration != nil {
			fmt.Fprintf(&sb, " estimated_minutes=%d", *task.EstimatedDuration)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\nPropose a schedule.")
	return sb.String()
}

// buildInsightsPrompt renders a compact activity summary.
func buildInsightsPrompt(analytics *types.Analytics, recent []*types.Task) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Activity over the last %d days:\n", analytics.PeriodDays)
	fmt.Fprintf(&sb, "- total tasks: %d\n- completed: %d\n- pending: %d\n- overdue: %d\n- completion rate: %.1f%%\n\n",
		analytics.TotalTasks, analytics.CompletedTasks, analytics.PendingTasks,
		analytics.OverdueTasks, analytics.CompletionRate)
	sb.WriteString("Recent tasks:\n")
	for _, task := range recent {
		fmt.Fprintf(&sb, "- %q status=%s priority=%s", task.Title, task.Status, task.Priority)
		if task.Category != nil {
			fmt.Fprintf(&sb, " category=%s", *task.Category)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\nGenerate productivity insights.")
	return sb.String()
}
