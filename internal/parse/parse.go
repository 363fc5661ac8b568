// Package parse turns raw AI completion text into typed results.
//
// Parsing never fails: malformed or partial responses degrade into a
// deterministic fallback value with the Fallback flag set, so callers
// branch on data instead of recovering from errors.
package parse

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/flowmind/flowmind/pkg/types"
)

const fallbackReason = "Fallback parsing due to AI service error"

// ParsedTask is the structured form of a natural language task request
type ParsedTask struct {
	Title             string             `json:"title"`
	Description       *string            `json:"description,omitempty"`
	Priority          types.TaskPriority `json:"priority"`
	DueDate           *time.Time         `json:"due_date,omitempty"`
	EstimatedDuration *int               `json:"estimated_duration,omitempty"`
	Tags              []string           `json:"tags"`
	Dependencies      []string           `json:"dependencies"`
	Subtasks          []string           `json:"subtasks"`
	Confidence        float64            `json:"confidence"`
	Reasoning         string             `json:"reasoning"`
}

// TaskResult carries a parsed task plus fallback provenance
type TaskResult struct {
	Parsed   ParsedTask
	Fallback bool
	Reason   string
}

// ScheduleSlot assigns a task a suggested start time
type ScheduleSlot struct {
	TaskID        int64      `json:"task_id"`
	SuggestedTime *time.Time `json:"suggested_time,omitempty"`
}

// ConflictResolution describes a scheduling conflict the AI resolved
type ConflictResolution struct {
	Conflict   string `json:"conflict"`
	Resolution string `json:"resolution"`
}

// FocusBlock is a recommended block of uninterrupted work
type FocusBlock struct {
	Start    string `json:"start"`
	End      string `json:"end"`
	Activity string `json:"activity"`
}

// ScheduleOptimization is the structured form of a schedule response
type ScheduleOptimization struct {
	Slots       []ScheduleSlot       `json:"optimized_schedule"`
	Conflicts   []ConflictResolution `json:"conflicts_resolved"`
	FocusBlocks []FocusBlock         `json:"focus_blocks"`
	Tips        []string             `json:"productivity_tips"`
	Score       float64              `json:"optimization_score"`
}

// ScheduleResult carries a schedule optimization plus fallback provenance
type ScheduleResult struct {
	Optimization ScheduleOptimization
	Fallback     bool
	Reason       string
}

// Insight is a single productivity observation. ImpactScore and
// Confidence are in [0, 1].
type Insight struct {
	Type            string   `json:"type"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	ImpactScore     float64  `json:"impact_score"`
	Confidence      float64  `json:"confidence"`
	Recommendations []string `json:"recommendations"`
}

// InsightsResult carries insights plus fallback provenance
type InsightsResult struct {
	Insights []Insight
	Fallback bool
	Reason   string
}

// taskPayload is the loose wire shape tolerated from the model
type taskPayload struct {
	Title             string   `json:"title"`
	Description       *string  `json:"description"`
	Priority          string   `json:"priority"`
	DueDate           string   `json:"due_date"`
	EstimatedDuration *int     `json:"estimated_duration"`
	Tags              []string `json:"tags"`
	Dependencies      []string `json:"dependencies"`
	Subtasks          []string `json:"subtasks"`
	Confidence        *float64 `json:"confidence"`
	Reasoning         string   `json:"reasoning"`
}

// Task parses a task extraction response. The original input is needed
// to build the fallback task when the response is unusable.
func Task(raw, input string) TaskResult {
	var payload taskPayload
	if err := json.Unmarshal([]byte(stripFences(raw)), &payload); err != nil {
		return fallbackTask(input)
	}
	if payload.empty() {
		return fallbackTask(input)
	}

	parsed := ParsedTask{
		Title:             payload.Title,
		Description:       payload.Description,
		Priority:          types.TaskPriority(payload.Priority),
		EstimatedDuration: payload.EstimatedDuration,
		Tags:              orEmpty(payload.Tags),
		Dependencies:      orEmpty(payload.Dependencies),
		Subtasks:          orEmpty(payload.Subtasks),
		Reasoning:         payload.Reasoning,
	}
	if parsed.Title == "" {
		parsed.Title = truncate(input, 100)
	}
	if !parsed.Priority.Valid() {
		parsed.Priority = types.TaskPriorityMedium
	}
	if payload.DueDate != "" {
		parsed.DueDate = parseDate(payload.DueDate)
	}
	if payload.Confidence != nil {
		parsed.Confidence = *payload.Confidence
	} else {
		parsed.Confidence = 0.8
	}

	return TaskResult{Parsed: parsed}
}

// empty reports whether the payload carries no model content at all,
// as when the response is "null" or "{}".
func (p taskPayload) empty() bool {
	return p.Title == "" && p.Description == nil && p.Priority == "" &&
		p.DueDate == "" && p.EstimatedDuration == nil && p.Confidence == nil &&
		len(p.Tags) == 0 && len(p.Dependencies) == 0 && len(p.Subtasks) == 0 &&
		p.Reasoning == ""
}

func fallbackTask(input string) TaskResult {
	parsed := ParsedTask{
		Title:        truncate(input, 100),
		Priority:     types.TaskPriorityMedium,
		Tags:         []string{},
		Dependencies: []string{},
		Subtasks:     []string{},
		Confidence:   0.3,
		Reasoning:    fallbackReason,
	}
	if len([]rune(input)) > 100 {
		description := input
		parsed.Description = &description
	}
	return TaskResult{Parsed: parsed, Fallback: true, Reason: fallbackReason}
}

// schedulePayload tolerates string timestamps in slot entries
type schedulePayload struct {
	Slots []struct {
		TaskID        int64  `json:"task_id"`
		SuggestedTime string `json:"suggested_time"`
	} `json:"optimized_schedule"`
	Conflicts   []ConflictResolution `json:"conflicts_resolved"`
	FocusBlocks []FocusBlock         `json:"focus_blocks"`
	Tips        []string             `json:"productivity_tips"`
	Score       float64              `json:"optimization_score"`
}

// Schedule parses a schedule optimization response.
func Schedule(raw string) ScheduleResult {
	var payload schedulePayload
	if err := json.Unmarshal([]byte(stripFences(raw)), &payload); err != nil {
		return fallbackSchedule()
	}

	opt := ScheduleOptimization{
		Slots:       []ScheduleSlot{},
		Conflicts:   orEmpty(payload.Conflicts),
		FocusBlocks: orEmpty(payload.FocusBlocks),
		Tips:        orEmpty(payload.Tips),
		Score:       payload.Score,
	}
	for _, slot := range payload.Slots {
		parsed := ScheduleSlot{TaskID: slot.TaskID}
		if slot.SuggestedTime != "" {
			parsed.SuggestedTime = parseDate(slot.SuggestedTime)
		}
		opt.Slots = append(opt.Slots, parsed)
	}

	return ScheduleResult{Optimization: opt}
}

func fallbackSchedule() ScheduleResult {
	return ScheduleResult{
		Optimization: ScheduleOptimization{
			Slots:       []ScheduleSlot{},
			Conflicts:   []ConflictResolution{},
			FocusBlocks: []FocusBlock{},
			Tips:        []string{"Unable to generate optimization at this time"},
			Score:       0,
		},
		Fallback: true,
		Reason:   fallbackReason,
	}
}

// Insights parses a productivity insights response.
func Insights(raw string) InsightsResult {
	var payload struct {
		Insights []Insight `json:"insights"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &payload); err != nil {
		return InsightsResult{Insights: []Insight{}, Fallback: true, Reason: fallbackReason}
	}
	insights := orEmpty(payload.Insights)
	for i := range insights {
		insights[i].Recommendations = orEmpty(insights[i].Recommendations)
	}
	return InsightsResult{Insights: insights}
}

// parseDate tries the timestamp formats models actually emit, most
// specific first. Returns nil when nothing matches.
func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02",
		"2006-01-02 15:04",
		"01/02/2006",
		"02/01/2006",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// stripFences removes a surrounding markdown code fence if present.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func orEmpty[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}
