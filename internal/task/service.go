// Package task implements the task lifecycle, scoring and the
// AI-assisted operations built on top of the store.
package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/flowmind/flowmind/internal/conversation"
	"github.com/flowmind/flowmind/internal/db"
	"github.com/flowmind/flowmind/internal/events"
	"github.com/flowmind/flowmind/internal/graph"
	"github.com/flowmind/flowmind/internal/llm"
	"github.com/flowmind/flowmind/internal/llm/client"
	"github.com/flowmind/flowmind/internal/parse"
	"github.com/flowmind/flowmind/pkg/types"
)

// ErrInvalidTransition is returned for a status change the lifecycle
// does not allow.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrInvalidInput wraps validation failures on create and update.
var ErrInvalidInput = errors.New("invalid input")

// Per-operation sampling temperatures. Extraction wants determinism,
// analysis tolerates more variety.
var (
	tempParse    = 0.1
	tempSchedule = 0.3
	tempInsights = 0.4
	tempSummary  = 0.3
)

const (
	scheduleContextLimit = 50
	scheduleBatchLimit   = 20
	insightsRecentLimit  = 20
	insightsPeriodDays   = 7
	summaryScanLimit     = 100
	summaryMinRecords    = 2
)

// Completer is the slice of the AI client the service needs.
type Completer interface {
	Complete(ctx context.Context, messages []llm.Message, opts client.Options) (string, llm.Usage, error)
	ProviderName() llm.ProviderType
}

// Service coordinates the store, the dependency graph and the AI layer
type Service struct {
	store        *db.Store
	graph        *graph.Manager
	ai           Completer // nil means AI-backed operations degrade to fallbacks
	interactions conversation.Store
	bus          *events.Bus
	validate     *validator.Validate
	logger       *slog.Logger
	now          func() time.Time
}

// New creates a task service. ai may be nil; AI-backed operations then
// behave as if the service were unreachable.
func New(store *db.Store, graphMgr *graph.Manager, ai Completer, interactions conversation.Store, bus *events.Bus, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:        store,
		graph:        graphMgr,
		ai:           ai,
		interactions: interactions,
		bus:          bus,
		validate:     validator.New(),
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// CreateInput is a validated task creation request
type CreateInput struct {
	UserID            int64              `validate:"required"`
	Title             string             `validate:"required,min=1,max=200"`
	Description       *string            `validate:"omitempty,max=2000"`
	Priority          types.TaskPriority `validate:"omitempty,oneof=low medium high urgent"`
	DueDate           *time.Time
	StartDate         *time.Time
	EstimatedDuration *int     `validate:"omitempty,min=1,max=1440"`
	Tags              []string `validate:"max=10,dive,max=50"`
	Category          *string  `validate:"omitempty,max=100"`
	Project           *string  `validate:"omitempty,max=100"`
	ParentTaskID      *int64
	AIGenerated       bool
	AIContext         map[string]interface{}
}

// Create validates the input, scores the task and persists it.
func (s *Service) Create(ctx context.Context, in CreateInput) (*types.Task, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	if in.ParentTaskID != nil {
		if _, err := s.store.GetTask(in.UserID, *in.ParentTaskID); err != nil {
			return nil, fmt.Errorf("parent task: %w", err)
		}
	}

	priority := in.Priority
	if priority == "" {
		priority = types.TaskPriorityMedium
	}

	now := s.now()
	priorityScore := PriorityScore(priority, in.DueDate, now)
	complexityScore := ComplexityScore(in.EstimatedDuration, in.Description)

	task := &types.Task{
		UserID:            in.UserID,
		Title:             in.Title,
		Description:       in.Description,
		Status:            types.TaskStatusPending,
		Priority:          priority,
		DueDate:           in.DueDate,
		StartDate:         in.StartDate,
		EstimatedDuration: in.EstimatedDuration,
		Tags:              NormalizeTags(in.Tags),
		Category:          in.Category,
		Project:           in.Project,
		ParentTaskID:      in.ParentTaskID,
		AIGenerated:       in.AIGenerated,
		AIPriorityScore:   &priorityScore,
		AIComplexityScore: &complexityScore,
		AIContext:         in.AIContext,
	}

	created, err := s.store.CreateTask(task)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.EventTaskCreated, created.UserID, created.ID, nil)
	s.logger.Info("task created", "task_id", created.ID, "user_id", created.UserID, "priority", created.Priority)
	return created, nil
}

// Get returns the user's task.
func (s *Service) Get(ctx context.Context, userID, taskID int64) (*types.Task, error) {
	return s.store.GetTask(userID, taskID)
}

// List returns the page of the user's tasks matching the filter and
// the total match count.
func (s *Service) List(ctx context.Context, userID int64, filter db.TaskFilter) ([]*types.Task, int, error) {
	return s.store.ListTasks(userID, filter, s.now())
}

// UpdateInput is a validated partial update request
type UpdateInput struct {
	Title             *string             `validate:"omitempty,min=1,max=200"`
	Description       *string             `validate:"omitempty,max=2000"`
	Status            *types.TaskStatus   `validate:"omitempty,oneof=pending in_progress completed cancelled on_hold"`
	Priority          *types.TaskPriority `validate:"omitempty,oneof=low medium high urgent"`
	DueDate           *time.Time
	StartDate         *time.Time
	EstimatedDuration *int `validate:"omitempty,min=1,max=1440"`
	ActualDuration    *int `validate:"omitempty,min=1,max=1440"`
	Tags              *[]string
	Category          *string `validate:"omitempty,max=100"`
	Project           *string `validate:"omitempty,max=100"`
}

// Update applies a partial update, enforcing the status lifecycle, and
// refreshes the deterministic scores.
func (s *Service) Update(ctx context.Context, userID, taskID int64, in UpdateInput) (*types.Task, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if in.Tags != nil {
		if len(*in.Tags) > 10 {
			return nil, fmt.Errorf("%w: at most 10 tags", ErrInvalidInput)
		}
		normalized := NormalizeTags(*in.Tags)
		in.Tags = &normalized
	}

	current, err := s.store.GetTask(userID, taskID)
	if err != nil {
		return nil, err
	}
	if in.Status != nil && !canTransition(current.Status, *in.Status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, *in.Status)
	}

	updated, err := s.store.UpdateTask(userID, taskID, db.TaskUpdate{
		Title:             in.Title,
		Description:       in.Description,
		Status:            in.Status,
		Priority:          in.Priority,
		DueDate:           in.DueDate,
		StartDate:         in.StartDate,
		EstimatedDuration: in.EstimatedDuration,
		ActualDuration:    in.ActualDuration,
		Tags:              in.Tags,
		Category:          in.Category,
		Project:           in.Project,
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	priorityScore := PriorityScore(updated.Priority, updated.DueDate, now)
	complexityScore := ComplexityScore(updated.EstimatedDuration, updated.Description)
	if err := s.store.SetScores(userID, taskID, priorityScore, complexityScore); err != nil {
		return nil, err
	}
	updated.AIPriorityScore = &priorityScore
	updated.AIComplexityScore = &complexityScore

	eventType := events.EventTaskUpdated
	if in.Status != nil && *in.Status == types.TaskStatusCompleted {
		eventType = events.EventTaskCompleted
	}
	s.publish(ctx, eventType, userID, taskID, nil)
	return updated, nil
}

// Complete marks the task completed, recording the actual duration when
// given. Open prerequisites do not block completion, only log.
func (s *Service) Complete(ctx context.Context, userID, taskID int64, actualDuration *int) (*types.Task, error) {
	open, err := s.graph.HasOpenPrerequisites(userID, taskID)
	if err != nil {
		return nil, err
	}
	if open {
		s.logger.Warn("completing task with open prerequisites", "task_id", taskID, "user_id", userID)
	}

	status := types.TaskStatusCompleted
	return s.Update(ctx, userID, taskID, UpdateInput{
		Status:         &status,
		ActualDuration: actualDuration,
	})
}

// Delete removes the task. Sub-tasks and dependency edges go with it.
func (s *Service) Delete(ctx context.Context, userID, taskID int64) error {
	subtasks, err := s.store.CountSubtasks(taskID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteTask(userID, taskID); err != nil {
		return err
	}
	if subtasks > 0 {
		s.logger.Info("deleted task with subtasks", "task_id", taskID, "subtasks", subtasks)
	}
	s.publish(ctx, events.EventTaskDeleted, userID, taskID, nil)
	return nil
}

// AddDependency records a prerequisite edge between two of the user's tasks.
func (s *Service) AddDependency(ctx context.Context, userID, taskID, dependsOnID int64, depType types.DependencyType) (*types.TaskDependency, error) {
	dep, err := s.graph.AddDependency(userID, taskID, dependsOnID, depType)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.EventDependencyAdded, userID, taskID, map[string]interface{}{
		"depends_on_id": dependsOnID,
	})
	return dep, nil
}

// RemoveDependency deletes a prerequisite edge.
func (s *Service) RemoveDependency(ctx context.Context, userID, taskID, dependsOnID int64) error {
	if err := s.graph.RemoveDependency(userID, taskID, dependsOnID); err != nil {
		return err
	}
	s.publish(ctx, events.EventDependencyRemoved, userID, taskID, nil)
	return nil
}

// ListDependencies returns what the task depends on.
func (s *Service) ListDependencies(ctx context.Context, userID, taskID int64) ([]*types.DependencyLink, error) {
	return s.graph.ListDependencies(userID, taskID)
}

// ListDependents returns what depends on the task.
func (s *Service) ListDependents(ctx context.Context, userID, taskID int64) ([]*types.DependencyLink, error) {
	return s.graph.ListDependents(userID, taskID)
}

// CreateFromNaturalLanguage extracts a task from free-form text and
// persists it. Extraction never fails: when the AI layer is down the
// deterministic fallback parse is used and flagged on the result.
func (s *Service) CreateFromNaturalLanguage(ctx context.Context, userID int64, input, sessionID string) (*types.Task, parse.TaskResult, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, parse.TaskResult{}, fmt.Errorf("%w: empty input", ErrInvalidInput)
	}

	s.record(ctx, userID, sessionID, types.InteractionKindParse, types.InteractionRoleUser, input, 0, "")

	raw, usage := s.complete(ctx, parseSystemPrompt, buildParseUserPrompt(input, s.now()), tempParse)
	res := parse.Task(raw, input)

	entity, _ := json.Marshal(res.Parsed)
	content := raw
	if res.Fallback {
		content = res.Reason
	}
	s.record(ctx, userID, sessionID, types.InteractionKindParse, types.InteractionRoleAssistant, content, usage.TotalTokens, string(entity))

	in := CreateInput{
		UserID:            userID,
		Title:             truncate(res.Parsed.Title, 200),
		Description:       res.Parsed.Description,
		Priority:          res.Parsed.Priority,
		DueDate:           res.Parsed.DueDate,
		Tags:              capTags(res.Parsed.Tags, 10),
		EstimatedDuration: clampDuration(res.Parsed.EstimatedDuration),
		AIGenerated:       true,
		AIContext: map[string]interface{}{
			"source":     "natural_language",
			"input":      input,
			"confidence": res.Parsed.Confidence,
			"reasoning":  res.Parsed.Reasoning,
		},
	}
	if in.Description != nil && len(*in.Description) > 2000 {
		trimmed := (*in.Description)[:2000]
		in.Description = &trimmed
	}

	created, err := s.Create(ctx, in)
	if err != nil {
		return nil, res, err
	}

	// Suggested subtasks are best effort; a failed child never undoes
	// the parent.
	for _, title := range res.Parsed.Subtasks {
		title = strings.TrimSpace(title)
		if title == "" {
			continue
		}
		_, err := s.Create(ctx, CreateInput{
			UserID:       userID,
			Title:        truncate(title, 200),
			Priority:     created.Priority,
			ParentTaskID: &created.ID,
			AIGenerated:  true,
		})
		if err != nil {
			s.logger.Warn("creating suggested subtask", "parent_id", created.ID, "error", err)
		}
	}

	s.publish(ctx, events.EventTaskParsed, userID, created.ID, map[string]interface{}{
		"fallback":   res.Fallback,
		"confidence": res.Parsed.Confidence,
	})
	return created, res, nil
}

// OptimizeScheduling asks the AI layer for a time slot for one task.
// AI failures leave the task unmodified and surface as a fallback
// result, not an error. No database transaction is held across the call.
func (s *Service) OptimizeScheduling(ctx context.Context, userID, taskID int64, sessionID string) (*types.Task, parse.ScheduleResult, error) {
	task, err := s.store.GetTask(userID, taskID)
	if err != nil {
		return nil, parse.ScheduleResult{}, err
	}

	context50, err := s.store.ListRecent(userID, scheduleContextLimit)
	if err != nil {
		return nil, parse.ScheduleResult{}, err
	}
	// Keep the target first so the model always sees it.
	prompt := buildSchedulePrompt(prepend(task, context50), s.now())

	raw, usage := s.complete(ctx, scheduleSystemPrompt, prompt, tempSchedule)
	res := parse.Schedule(raw)
	s.record(ctx, userID, sessionID, types.InteractionKindSchedule, types.InteractionRoleAssistant, raw, usage.TotalTokens, "")

	if !res.Fallback {
		for _, slot := range res.Optimization.Slots {
			if slot.TaskID == taskID && slot.SuggestedTime != nil {
				if err := s.store.SetSuggestedTimeSlot(userID, taskID, *slot.SuggestedTime); err != nil {
					return nil, res, err
				}
				task, err = s.store.GetTask(userID, taskID)
				if err != nil {
					return nil, res, err
				}
				break
			}
		}
	}

	s.publish(ctx, events.EventScheduleOptimized, userID, taskID, map[string]interface{}{
		"fallback": res.Fallback,
		"score":    res.Optimization.Score,
	})
	return task, res, nil
}

// OptimizeUserSchedule places suggested time slots on up to 20 of the
// user's open tasks with due dates. Unlike the single-task variant it
// returns AI failures so batch callers can apply retry policy.
func (s *Service) OptimizeUserSchedule(ctx context.Context, userID int64) (int, error) {
	candidates, err := s.store.ListSchedulingCandidates(userID, scheduleBatchLimit)
	if err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	if s.ai == nil {
		return 0, llm.ErrServiceUnavailable
	}
	raw, usage, err := s.ai.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: scheduleSystemPrompt},
		{Role: llm.RoleUser, Content: buildSchedulePrompt(candidates, s.now())},
	}, client.Options{Temperature: &tempSchedule})
	if err != nil {
		return 0, err
	}

	res := parse.Schedule(raw)
	s.record(ctx, userID, "", types.InteractionKindSchedule, types.InteractionRoleAssistant, raw, usage.TotalTokens, "")
	if res.Fallback {
		return 0, nil
	}

	byID := make(map[int64]bool, len(candidates))
	for _, task := range candidates {
		byID[task.ID] = true
	}

	applied := 0
	for _, slot := range res.Optimization.Slots {
		if slot.SuggestedTime == nil || !byID[slot.TaskID] {
			continue
		}
		if err := s.store.SetSuggestedTimeSlot(userID, slot.TaskID, *slot.SuggestedTime); err != nil {
			s.logger.Error("applying suggested slot", "task_id", slot.TaskID, "error", err)
			continue
		}
		applied++
	}

	s.publish(ctx, events.EventScheduleOptimized, userID, 0, map[string]interface{}{
		"applied": applied,
	})
	return applied, nil
}

// GenerateInsights produces productivity insights from the last week of
// activity and records them in the interaction log.
func (s *Service) GenerateInsights(ctx context.Context, userID int64) (parse.InsightsResult, error) {
	now := s.now()
	analytics, err := s.store.Analytics(userID, now.AddDate(0, 0, -insightsPeriodDays), now)
	if err != nil {
		return parse.InsightsResult{}, err
	}
	analytics.PeriodDays = insightsPeriodDays

	recent, err := s.store.ListRecent(userID, insightsRecentLimit)
	if err != nil {
		return parse.InsightsResult{}, err
	}

	if s.ai == nil {
		return parse.InsightsResult{}, llm.ErrServiceUnavailable
	}
	raw, usage, err := s.ai.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: insightsSystemPrompt},
		{Role: llm.RoleUser, Content: buildInsightsPrompt(analytics, recent)},
	}, client.Options{Temperature: &tempInsights})
	if err != nil {
		return parse.InsightsResult{}, err
	}

	res := parse.Insights(raw)
	entity, _ := json.Marshal(res.Insights)
	s.record(ctx, userID, "", types.InteractionKindInsights, types.InteractionRoleAssistant, raw, usage.TotalTokens, string(entity))

	s.publish(ctx, events.EventInsightsGenerated, userID, 0, map[string]interface{}{
		"count":    len(res.Insights),
		"fallback": res.Fallback,
	})
	return res, nil
}

// SummarizeSessions condenses unsummarized conversation sessions into
// one summary record each and returns how many were written. Re-running
// is idempotent; summarized sessions are skipped.
func (s *Service) SummarizeSessions(ctx context.Context, userID int64) (int, error) {
	if s.interactions == nil {
		return 0, nil
	}
	recent, err := s.interactions.ListRecent(ctx, userID, "", summaryScanLimit)
	if err != nil {
		return 0, err
	}

	sessions := make(map[string][]*types.Interaction)
	summarized := make(map[string]bool)
	for _, rec := range recent {
		if rec.SessionID == "" {
			continue
		}
		if rec.Kind == types.InteractionKindSummary {
			summarized[rec.SessionID] = true
			continue
		}
		sessions[rec.SessionID] = append(sessions[rec.SessionID], rec)
	}

	written := 0
	for sessionID, records := range sessions {
		if summarized[sessionID] || len(records) < summaryMinRecords {
			continue
		}
		if s.ai == nil {
			return written, llm.ErrServiceUnavailable
		}

		raw, usage, err := s.ai.Complete(ctx, []llm.Message{
			{Role: llm.RoleSystem, Content: summarySystemPrompt},
			{Role: llm.RoleUser, Content: buildSummaryPrompt(records)},
		}, client.Options{Temperature: &tempSummary})
		if err != nil {
			return written, err
		}

		s.record(ctx, userID, sessionID, types.InteractionKindSummary, types.InteractionRoleAssistant, raw, usage.TotalTokens, "")
		written++
	}

	if written > 0 {
		s.logger.Info("sessions summarized", "user_id", userID, "count", written)
	}
	return written, nil
}

// Analytics summarizes the user's tasks created in the last periodDays.
func (s *Service) Analytics(ctx context.Context, userID int64, periodDays int) (*types.Analytics, error) {
	if periodDays <= 0 {
		periodDays = 30
	}
	now := s.now()
	analytics, err := s.store.Analytics(userID, now.AddDate(0, 0, -periodDays), now)
	if err != nil {
		return nil, err
	}
	analytics.PeriodDays = periodDays
	return analytics, nil
}

// complete runs a system+user exchange, mapping a nil client and all
// errors to an empty response so parsers fall back.
func (s *Service) complete(ctx context.Context, system, user string, temperature float64) (string, llm.Usage) {
	if s.ai == nil {
		return "", llm.Usage{}
	}
	raw, usage, err := s.ai.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: user},
	}, client.Options{Temperature: &temperature})
	if err != nil {
		s.logger.Error("ai completion failed", "error", err)
		return "", llm.Usage{}
	}
	return raw, usage
}

func (s *Service) record(ctx context.Context, userID int64, sessionID string, kind types.InteractionKind, role types.InteractionRole, content string, tokens int, entity string) {
	if s.interactions == nil {
		return
	}
	err := s.interactions.Append(ctx, &types.Interaction{
		UserID:      userID,
		SessionID:   sessionID,
		Kind:        kind,
		Role:        role,
		Content:     content,
		TotalTokens: tokens,
		Entity:      entity,
	})
	if err != nil {
		s.logger.Error("recording interaction", "error", err)
	}
}

func (s *Service) publish(ctx context.Context, eventType events.EventType, userID, taskID int64, data map[string]interface{}) {
	if s.bus == nil {
		return
	}
	err := s.bus.Publish(ctx, &events.Event{
		Type:   eventType,
		UserID: userID,
		TaskID: taskID,
		Data:   data,
	})
	if err != nil {
		s.logger.Debug("publishing event", "type", eventType, "error", err)
	}
}

// canTransition encodes the status lifecycle. Completed and cancelled
// tasks can only be reopened, everything else moves freely.
func canTransition(from, to types.TaskStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case types.TaskStatusCompleted:
		return to == types.TaskStatusPending || to == types.TaskStatusInProgress
	case types.TaskStatusCancelled:
		return to == types.TaskStatusPending
	default:
		return to.Valid()
	}
}

// NormalizeTags lowercases, trims and drops empty tags.
func NormalizeTags(tags []string) []string {
	out := []string{}
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag != "" {
			out = append(out, tag)
		}
	}
	return out
}

func clampDuration(minutes *int) *int {
	if minutes == nil || *minutes < 1 || *minutes > 1440 {
		return nil
	}
	return minutes
}

func capTags(tags []string, n int) []string {
	if len(tags) > n {
		return tags[:n]
	}
	return tags
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func prepend(task *types.Task, tasks []*types.Task) []*types.Task {
	out := []*types.Task{task}
	for _, t := range tasks {
		if t.ID != task.ID {
			out = append(out, t)
		}
	}
	return out
}
