package task

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/flowmind/flowmind/internal/conversation"
	"github.com/flowmind/flowmind/internal/db"
	"github.com/flowmind/flowmind/internal/events"
	"github.com/flowmind/flowmind/internal/graph"
	"github.com/flowmind/flowmind/internal/llm"
	"github.com/flowmind/flowmind/internal/llm/client"
	"github.com/flowmind/flowmind/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAI struct {
	response string
	err      error
	calls    int
	lastOpts client.Options
	lastMsgs []llm.Message
}

func (f *fakeAI) Complete(ctx context.Context, messages []llm.Message, opts client.Options) (string, llm.Usage, error) {
	f.calls++
	f.lastMsgs = messages
	f.lastOpts = opts
	if f.err != nil {
		return "", llm.Usage{}, f.err
	}
	return f.response, llm.Usage{TotalTokens: 7}, nil
}

func (f *fakeAI) ProviderName() llm.ProviderType { return "fake" }

type fixture struct {
	svc          *Service
	store        *db.Store
	interactions conversation.Store
	ai           *fakeAI
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "flowmind.db"))
	require.NoError(t, err)
	require.NoError(t, store.InitSchema())
	t.Cleanup(func() { store.Close() })

	interactions, err := conversation.NewSQLiteStore(store.DB)
	require.NoError(t, err)

	bus := events.NewBus()
	t.Cleanup(func() { bus.Close() })

	ai := &fakeAI{}
	svc := New(store, graph.NewManager(store), ai, interactions, bus, nil)
	return &fixture{svc: svc, store: store, interactions: interactions, ai: ai}
}

func TestCreateComputesScoresAndNormalizesTags(t *testing.T) {
	f := newFixture(t)
	due := time.Now().UTC().Add(12 * time.Hour)
	desc := "short description"

	task, err := f.svc.Create(context.Background(), CreateInput{
		UserID:      1,
		Title:       "Prepare slides",
		Description: &desc,
		Priority:    types.TaskPriorityHigh,
		DueDate:     &due,
		Tags:        []string{" Work ", "URGENT", "", "work"},
	})
	require.NoError(t, err)

	assert.Equal(t, types.TaskStatusPending, task.Status)
	assert.Equal(t, []string{"work", "urgent", "work"}, task.Tags)
	require.NotNil(t, task.AIPriorityScore)
	assert.Equal(t, 95, *task.AIPriorityScore) // 75 + 20 for imminent due date
	require.NotNil(t, task.AIComplexityScore)
	assert.Equal(t, 30, *task.AIComplexityScore)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := map[string]CreateInput{
		"missing title":   {UserID: 1},
		"overlong title":  {UserID: 1, Title: string(make([]rune, 201))},
		"bad priority":    {UserID: 1, Title: "x", Priority: "critical"},
		"zero duration":   {UserID: 1, Title: "x", EstimatedDuration: intp(0)},
		"giant duration":  {UserID: 1, Title: "x", EstimatedDuration: intp(2000)},
		"too many tags":   {UserID: 1, Title: "x", Tags: []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "10", "11"}},
		"missing user id": {Title: "x"},
	}
	for name, in := range cases {
		_, err := f.svc.Create(ctx, in)
		assert.ErrorIs(t, err, ErrInvalidInput, name)
	}
}

func TestCreateParentMustExistAndBeOwned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	parent, err := f.svc.Create(ctx, CreateInput{UserID: 2, Title: "their parent"})
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, CreateInput{UserID: 1, Title: "child", ParentTaskID: &parent.ID})
	assert.ErrorIs(t, err, db.ErrNotFound)

	mine, err := f.svc.Create(ctx, CreateInput{UserID: 1, Title: "my parent"})
	require.NoError(t, err)
	child, err := f.svc.Create(ctx, CreateInput{UserID: 1, Title: "child", ParentTaskID: &mine.ID})
	require.NoError(t, err)
	assert.Equal(t, mine.ID, *child.ParentTaskID)
}

func TestUpdateLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task, err := f.svc.Create(ctx, CreateInput{UserID: 1, Title: "lifecycle"})
	require.NoError(t, err)

	setStatus := func(s types.TaskStatus) error {
		_, err := f.svc.Update(ctx, 1, task.ID, UpdateInput{Status: &s})
		return err
	}

	require.NoError(t, setStatus(types.TaskStatusInProgress))
	require.NoError(t, setStatus(types.TaskStatusCancelled))

	// Cancelled tasks only reopen to pending.
	assert.ErrorIs(t, setStatus(types.TaskStatusInProgress), ErrInvalidTransition)
	assert.ErrorIs(t, setStatus(types.TaskStatusCompleted), ErrInvalidTransition)
	require.NoError(t, setStatus(types.TaskStatusPending))

	require.NoError(t, setStatus(types.TaskStatusCompleted))
	assert.ErrorIs(t, setStatus(types.TaskStatusCancelled), ErrInvalidTransition)
	require.NoError(t, setStatus(types.TaskStatusInProgress))
}

func TestUpdateRefreshesScores(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task, err := f.svc.Create(ctx, CreateInput{UserID: 1, Title: "rescore", Priority: types.TaskPriorityLow})
	require.NoError(t, err)
	require.Equal(t, 25, *task.AIPriorityScore)

	urgent := types.TaskPriorityUrgent
	updated, err := f.svc.Update(ctx, 1, task.ID, UpdateInput{Priority: &urgent})
	require.NoError(t, err)
	assert.Equal(t, 95, *updated.AIPriorityScore)
}

func TestCompleteRecordsDuration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task, err := f.svc.Create(ctx, CreateInput{UserID: 1, Title: "finish"})
	require.NoError(t, err)

	done, err := f.svc.Complete(ctx, 1, task.ID, intp(45))
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
	assert.Equal(t, 45, *done.ActualDuration)
}

func TestCompleteWithOpenPrerequisitesStillCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.Create(ctx, CreateInput{UserID: 1, Title: "A"})
	require.NoError(t, err)
	b, err := f.svc.Create(ctx, CreateInput{UserID: 1, Title: "B"})
	require.NoError(t, err)
	_, err = f.svc.AddDependency(ctx, 1, a.ID, b.ID, "")
	require.NoError(t, err)

	done, err := f.svc.Complete(ctx, 1, a.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusCompleted, done.Status)
}

func TestCreateFromNaturalLanguage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ai.response = `{
		"title": "Call the dentist",
		"priority": "high",
		"due_date": "2026-09-02",
		"estimated_duration": 15,
		"tags": ["Health"],
		"confidence": 0.9,
		"reasoning": "clear request"
	}`

	task, res, err := f.svc.CreateFromNaturalLanguage(ctx, 1, "call the dentist by tuesday", "sess-1")
	require.NoError(t, err)
	require.False(t, res.Fallback)
	assert.Equal(t, "Call the dentist", task.Title)
	assert.Equal(t, types.TaskPriorityHigh, task.Priority)
	assert.True(t, task.AIGenerated)
	assert.Equal(t, "natural_language", task.AIContext["source"])
	assert.InDelta(t, 0.9, task.AIContext["confidence"].(float64), 0.001)
	assert.Equal(t, []string{"health"}, task.Tags)
	require.NotNil(t, task.DueDate)
	assert.Equal(t, 15, *task.EstimatedDuration)

	// Extraction uses a near-deterministic temperature.
	require.NotNil(t, f.ai.lastOpts.Temperature)
	assert.InDelta(t, 0.1, *f.ai.lastOpts.Temperature, 0.001)

	// Both sides of the exchange land in the interaction log.
	records, err := f.interactions.ListBySession(ctx, 1, "sess-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, types.InteractionRoleUser, records[0].Role)
	assert.Equal(t, types.InteractionRoleAssistant, records[1].Role)
	assert.Equal(t, 7, records[1].TotalTokens)
	assert.Contains(t, records[1].Entity, "Call the dentist")
}

func TestCreateFromNaturalLanguageSpawnsSubtasks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ai.response = `{
		"title": "Plan team offsite",
		"priority": "high",
		"subtasks": ["Book venue", "Send invites", "  "],
		"confidence": 0.9
	}`

	parent, res, err := f.svc.CreateFromNaturalLanguage(ctx, 1, "organize the offsite", "sess-3")
	require.NoError(t, err)
	require.False(t, res.Fallback)

	count, err := f.store.CountSubtasks(parent.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	children, _, err := f.svc.List(ctx, 1, db.TaskFilter{})
	require.NoError(t, err)
	byTitle := map[string]*types.Task{}
	for _, c := range children {
		byTitle[c.Title] = c
	}
	venue := byTitle["Book venue"]
	require.NotNil(t, venue)
	require.NotNil(t, venue.ParentTaskID)
	assert.Equal(t, parent.ID, *venue.ParentTaskID)
	assert.True(t, venue.AIGenerated)
	assert.Equal(t, types.TaskPriorityHigh, venue.Priority)
}

func TestCreateFromNaturalLanguageFallsBackOnAIError(t *testing.T) {
	f := newFixture(t)
	f.ai.err = fmt.Errorf("%w: boom", llm.ErrServiceUnavailable)

	input := "water the plants every friday"
	task, res, err := f.svc.CreateFromNaturalLanguage(context.Background(), 1, input, "sess-2")
	require.NoError(t, err)
	require.True(t, res.Fallback)
	assert.Equal(t, input, task.Title)
	assert.Equal(t, types.TaskPriorityMedium, task.Priority)
	assert.True(t, task.AIGenerated)
}

func TestCreateFromNaturalLanguageWithoutAIClient(t *testing.T) {
	f := newFixture(t)
	f.svc.ai = nil

	task, res, err := f.svc.CreateFromNaturalLanguage(context.Background(), 1, "buy milk", "")
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Equal(t, "buy milk", task.Title)
}

func TestCreateFromNaturalLanguageRejectsEmptyInput(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.CreateFromNaturalLanguage(context.Background(), 1, "   ", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestOptimizeSchedulingAppliesSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task, err := f.svc.Create(ctx, CreateInput{UserID: 1, Title: "deep work"})
	require.NoError(t, err)

	slot := "2026-09-01T09:00:00Z"
	f.ai.response = fmt.Sprintf(`{
		"optimized_schedule": [{"task_id": %d, "suggested_time": "%s"}],
		"optimization_score": 90
	}`, task.ID, slot)

	updated, res, err := f.svc.OptimizeScheduling(ctx, 1, task.ID, "")
	require.NoError(t, err)
	require.False(t, res.Fallback)
	require.NotNil(t, updated.AISuggestedTimeSlot)
	assert.Equal(t, "2026-09-01T09:00:00Z", updated.AISuggestedTimeSlot.Format(time.RFC3339))

	require.NotNil(t, f.ai.lastOpts.Temperature)
	assert.InDelta(t, 0.3, *f.ai.lastOpts.Temperature, 0.001)
}

func TestOptimizeSchedulingAIFailureLeavesTaskUnmodified(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task, err := f.svc.Create(ctx, CreateInput{UserID: 1, Title: "untouched"})
	require.NoError(t, err)

	f.ai.err = fmt.Errorf("%w", llm.ErrServiceUnavailable)
	got, res, err := f.svc.OptimizeScheduling(ctx, 1, task.ID, "")
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Nil(t, got.AISuggestedTimeSlot)
	assert.Equal(t, []string{"Unable to generate optimization at this time"}, res.Optimization.Tips)
}

func TestOptimizeUserSchedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	due := time.Now().UTC().Add(24 * time.Hour)

	first, err := f.svc.Create(ctx, CreateInput{UserID: 1, Title: "one", DueDate: &due})
	require.NoError(t, err)
	second, err := f.svc.Create(ctx, CreateInput{UserID: 1, Title: "two", DueDate: &due})
	require.NoError(t, err)

	f.ai.response = fmt.Sprintf(`{
		"optimized_schedule": [
			{"task_id": %d, "suggested_time": "2026-09-01T09:00:00Z"},
			{"task_id": %d, "suggested_time": "2026-09-01T11:00:00Z"},
			{"task_id": 99999, "suggested_time": "2026-09-01T13:00:00Z"}
		]
	}`, first.ID, second.ID)

	applied, err := f.svc.OptimizeUserSchedule(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, applied)

	got, err := f.svc.Get(ctx, 1, first.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.AISuggestedTimeSlot)
}

func TestOptimizeUserScheduleNoCandidates(t *testing.T) {
	f := newFixture(t)
	applied, err := f.svc.OptimizeUserSchedule(context.Background(), 1)
	require.NoError(t, err)
	assert.Zero(t, applied)
	assert.Zero(t, f.ai.calls)
}

func TestOptimizeUserSchedulePropagatesAIError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	due := time.Now().UTC().Add(24 * time.Hour)
	_, err := f.svc.Create(ctx, CreateInput{UserID: 1, Title: "one", DueDate: &due})
	require.NoError(t, err)

	f.ai.err = fmt.Errorf("%w", llm.ErrServiceUnavailable)
	_, err = f.svc.OptimizeUserSchedule(ctx, 1)
	assert.ErrorIs(t, err, llm.ErrServiceUnavailable)
}

func TestGenerateInsights(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Create(ctx, CreateInput{UserID: 1, Title: "context task"})
	require.NoError(t, err)

	f.ai.response = `{"insights": [{"type": "pattern", "title": "Focus", "description": "d", "impact_score": 0.6, "confidence": 0.9, "recommendations": ["r"]}]}`
	res, err := f.svc.GenerateInsights(ctx, 1)
	require.NoError(t, err)
	require.Len(t, res.Insights, 1)
	assert.InDelta(t, 0.6, res.Insights[0].ImpactScore, 0.001)
	assert.Equal(t, []string{"r"}, res.Insights[0].Recommendations)

	require.NotNil(t, f.ai.lastOpts.Temperature)
	assert.InDelta(t, 0.4, *f.ai.lastOpts.Temperature, 0.001)

	records, err := f.interactions.ListRecent(ctx, 1, types.InteractionKindInsights, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Contains(t, records[0].Entity, "Focus")
}

func TestGenerateInsightsPropagatesAIError(t *testing.T) {
	f := newFixture(t)
	f.ai.err = fmt.Errorf("%w", llm.ErrServiceUnavailable)
	_, err := f.svc.GenerateInsights(context.Background(), 1)
	assert.ErrorIs(t, err, llm.ErrServiceUnavailable)
}

func TestSummarizeSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Two parse exchanges in one session, one stray batch record
	for _, rec := range []*types.Interaction{
		{UserID: 1, SessionID: "s1", Kind: types.InteractionKindParse, Role: types.InteractionRoleUser, Content: "buy milk tomorrow"},
		{UserID: 1, SessionID: "s1", Kind: types.InteractionKindParse, Role: types.InteractionRoleAssistant, Content: `{"title":"Buy milk"}`},
		{UserID: 1, SessionID: "", Kind: types.InteractionKindInsights, Role: types.InteractionRoleAssistant, Content: "{}"},
	} {
		require.NoError(t, f.interactions.Append(ctx, rec))
	}

	f.ai.response = "The user created a shopping task due tomorrow."
	written, err := f.svc.SummarizeSessions(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, written)
	assert.Equal(t, 1, f.ai.calls)
	require.NotNil(t, f.ai.lastOpts.Temperature)
	assert.InDelta(t, 0.3, *f.ai.lastOpts.Temperature, 0.001)

	records, err := f.interactions.ListBySession(ctx, 1, "s1")
	require.NoError(t, err)
	require.Len(t, records, 3)
	last := records[len(records)-1]
	assert.Equal(t, types.InteractionKindSummary, last.Kind)
	assert.Equal(t, "The user created a shopping task due tomorrow.", last.Content)

	// Re-running writes nothing new
	written, err = f.svc.SummarizeSessions(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, written)
	assert.Equal(t, 1, f.ai.calls)
}

func TestSummarizeSessionsPropagatesAIError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, content := range []string{"plan my week", `{"title":"Plan week"}`} {
		require.NoError(t, f.interactions.Append(ctx, &types.Interaction{
			UserID: 1, SessionID: "s1", Kind: types.InteractionKindParse,
			Role: types.InteractionRoleUser, Content: content,
		}))
	}

	f.ai.err = fmt.Errorf("%w", llm.ErrServiceUnavailable)
	_, err := f.svc.SummarizeSessions(ctx, 1)
	assert.ErrorIs(t, err, llm.ErrServiceUnavailable)
}

func TestAnalytics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := f.svc.Create(ctx, CreateInput{UserID: 1, Title: "t"})
		require.NoError(t, err)
	}
	task, err := f.svc.Create(ctx, CreateInput{UserID: 1, Title: "done"})
	require.NoError(t, err)
	_, err = f.svc.Complete(ctx, 1, task.ID, nil)
	require.NoError(t, err)

	analytics, err := f.svc.Analytics(ctx, 1, 7)
	require.NoError(t, err)
	assert.Equal(t, 7, analytics.PeriodDays)
	assert.Equal(t, 5, analytics.TotalTasks)
	assert.Equal(t, 1, analytics.CompletedTasks)
	assert.InDelta(t, 20.0, analytics.CompletionRate, 0.01)
}

func intp(v int) *int { return &v }
