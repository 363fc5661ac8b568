package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/flowmind/flowmind/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "flowmind.db"))
	require.NoError(t, err)
	require.NoError(t, store.InitSchema())
	t.Cleanup(func() { store.Close() })
	return store
}

func mkTask(t *testing.T, store *Store, userID int64, title string, mut func(*types.Task)) *types.Task {
	t.Helper()
	task := &types.Task{UserID: userID, Title: title}
	if mut != nil {
		mut(task)
	}
	created, err := store.CreateTask(task)
	require.NoError(t, err)
	return created
}

func timePtr(v time.Time) *time.Time { return &v }
func strPtr(v string) *string        { return &v }
func iPtr(v int) *int                { return &v }

func TestCreateAndGetTask(t *testing.T) {
	store := newTestStore(t)

	due := time.Now().Add(48 * time.Hour).Truncate(time.Second).UTC()
	created := mkTask(t, store, 1, "Write report", func(task *types.Task) {
		task.Description = strPtr("Quarterly report for finance")
		task.Priority = types.TaskPriorityHigh
		task.DueDate = &due
		task.EstimatedDuration = iPtr(90)
		task.Tags = []string{"work", "finance"}
		task.Category = strPtr("work")
		task.AIContext = map[string]interface{}{"source": "manual", "confidence": 0.9}
	})

	require.NotZero(t, created.ID)
	require.NotEmpty(t, created.UUID)
	assert.Equal(t, types.TaskStatusPending, created.Status)

	got, err := store.GetTask(1, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Write report", got.Title)
	assert.Equal(t, "Quarterly report for finance", *got.Description)
	assert.Equal(t, types.TaskPriorityHigh, got.Priority)
	assert.Equal(t, due.Unix(), got.DueDate.Unix())
	assert.Equal(t, 90, *got.EstimatedDuration)
	assert.Equal(t, []string{"work", "finance"}, got.Tags)
	assert.Equal(t, "manual", got.AIContext["source"])
	assert.InDelta(t, 0.9, got.AIContext["confidence"].(float64), 0.001)
	assert.Nil(t, got.CompletedAt)
}

func TestCreateTaskDefaultsAIContext(t *testing.T) {
	store := newTestStore(t)
	created := mkTask(t, store, 1, "plain", nil)

	got, err := store.GetTask(1, created.ID)
	require.NoError(t, err)
	require.NotNil(t, got.AIContext)
	assert.Empty(t, got.AIContext)
}

func TestGetTaskScopedToOwner(t *testing.T) {
	store := newTestStore(t)
	created := mkTask(t, store, 1, "Private task", nil)

	_, err := store.GetTask(2, created.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.GetTask(1, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListTasksOrdering(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	mkTask(t, store, 1, "no due medium", nil)
	mkTask(t, store, 1, "urgent late", func(task *types.Task) {
		task.Priority = types.TaskPriorityUrgent
		task.DueDate = timePtr(now.Add(96 * time.Hour))
	})
	mkTask(t, store, 1, "high early", func(task *types.Task) {
		task.Priority = types.TaskPriorityHigh
		task.DueDate = timePtr(now.Add(24 * time.Hour))
	})
	mkTask(t, store, 1, "low early", func(task *types.Task) {
		task.Priority = types.TaskPriorityLow
		task.DueDate = timePtr(now.Add(12 * time.Hour))
	})

	tasks, _, err := store.ListTasks(1, TaskFilter{}, now)
	require.NoError(t, err)
	require.Len(t, tasks, 4)

	titles := make([]string, len(tasks))
	for i, task := range tasks {
		titles[i] = task.Title
	}
	assert.Equal(t, []string{"urgent late", "high early", "low early", "no due medium"}, titles)
}

func TestListTasksFilters(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	mkTask(t, store, 1, "Buy groceries", func(task *types.Task) {
		task.Category = strPtr("errands")
		task.DueDate = timePtr(now.Add(48 * time.Hour))
	})
	mkTask(t, store, 1, "Ship release", func(task *types.Task) {
		task.Priority = types.TaskPriorityUrgent
		task.Project = strPtr("flowmind")
		task.DueDate = timePtr(now.Add(30 * 24 * time.Hour))
	})
	mkTask(t, store, 1, "Old chore", func(task *types.Task) {
		task.DueDate = timePtr(now.Add(-24 * time.Hour))
	})
	done := mkTask(t, store, 1, "Done already", func(task *types.Task) {
		task.DueDate = timePtr(now.Add(24 * time.Hour))
	})
	_, err := store.UpdateTask(1, done.ID, TaskUpdate{Status: statusPtr(types.TaskStatusCompleted)})
	require.NoError(t, err)
	mkTask(t, store, 2, "Someone else's", nil)

	t.Run("status", func(t *testing.T) {
		tasks, _, err := store.ListTasks(1, TaskFilter{Status: types.TaskStatusCompleted}, now)
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.Equal(t, "Done already", tasks[0].Title)
	})

	t.Run("priority", func(t *testing.T) {
		tasks, _, err := store.ListTasks(1, TaskFilter{Priority: types.TaskPriorityUrgent}, now)
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.Equal(t, "Ship release", tasks[0].Title)
	})

	t.Run("category and project", func(t *testing.T) {
		tasks, _, err := store.ListTasks(1, TaskFilter{Category: "errands"}, now)
		require.NoError(t, err)
		require.Len(t, tasks, 1)

		tasks, _, err = store.ListTasks(1, TaskFilter{Project: "flowmind"}, now)
		require.NoError(t, err)
		require.Len(t, tasks, 1)
	})

	t.Run("due soon excludes completed and far-out", func(t *testing.T) {
		tasks, _, err := store.ListTasks(1, TaskFilter{DueSoon: true}, now)
		require.NoError(t, err)
		titles := taskTitles(tasks)
		assert.ElementsMatch(t, []string{"Buy groceries", "Old chore"}, titles)
	})

	t.Run("overdue", func(t *testing.T) {
		tasks, _, err := store.ListTasks(1, TaskFilter{Overdue: true}, now)
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.Equal(t, "Old chore", tasks[0].Title)
	})

	t.Run("search is case insensitive over title and description", func(t *testing.T) {
		tasks, _, err := store.ListTasks(1, TaskFilter{Search: "GROCER"}, now)
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.Equal(t, "Buy groceries", tasks[0].Title)
	})

	t.Run("pagination", func(t *testing.T) {
		page1, total, err := store.ListTasks(1, TaskFilter{Limit: 2}, now)
		require.NoError(t, err)
		require.Len(t, page1, 2)
		assert.Equal(t, 4, total)

		page2, _, err := store.ListTasks(1, TaskFilter{Limit: 2, Offset: 2}, now)
		require.NoError(t, err)
		require.Len(t, page2, 2)
		assert.NotEqual(t, page1[0].ID, page2[0].ID)
	})
}

func TestUpdateTaskCompletionTimestamps(t *testing.T) {
	store := newTestStore(t)
	task := mkTask(t, store, 1, "Finish me", nil)

	updated, err := store.UpdateTask(1, task.ID, TaskUpdate{Status: statusPtr(types.TaskStatusCompleted)})
	require.NoError(t, err)
	require.NotNil(t, updated.CompletedAt)
	stamped := *updated.CompletedAt

	// Completing an already completed task keeps the original stamp.
	updated, err = store.UpdateTask(1, task.ID, TaskUpdate{
		Title:  strPtr("Finish me (renamed)"),
		Status: statusPtr(types.TaskStatusCompleted),
	})
	require.NoError(t, err)
	require.NotNil(t, updated.CompletedAt)
	assert.Equal(t, stamped.Unix(), updated.CompletedAt.Unix())
	assert.Equal(t, "Finish me (renamed)", updated.Title)

	// Reopening clears the stamp.
	updated, err = store.UpdateTask(1, task.ID, TaskUpdate{Status: statusPtr(types.TaskStatusPending)})
	require.NoError(t, err)
	assert.Nil(t, updated.CompletedAt)
}

func TestUpdateTaskNotFound(t *testing.T) {
	store := newTestStore(t)
	task := mkTask(t, store, 1, "Mine", nil)

	_, err := store.UpdateTask(2, task.ID, TaskUpdate{Title: strPtr("stolen")})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteTaskCascades(t *testing.T) {
	store := newTestStore(t)
	parent := mkTask(t, store, 1, "Parent", nil)
	child := mkTask(t, store, 1, "Child", func(task *types.Task) {
		task.ParentTaskID = &parent.ID
	})
	other := mkTask(t, store, 1, "Other", nil)

	_, err := store.DB.Exec(`
		INSERT INTO task_dependencies (task_id, depends_on_id, dependency_type, created_at)
		VALUES (?, ?, 'finish_to_start', ?)
	`, other.ID, parent.ID, time.Now().Unix())
	require.NoError(t, err)

	require.NoError(t, store.DeleteTask(1, parent.ID))

	_, err = store.GetTask(1, child.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	var edges int
	require.NoError(t, store.DB.QueryRow(`SELECT COUNT(*) FROM task_dependencies`).Scan(&edges))
	assert.Zero(t, edges)

	assert.ErrorIs(t, store.DeleteTask(1, parent.ID), ErrNotFound)
}

func TestDeleteTaskCascadesOnFreshConnection(t *testing.T) {
	store := newTestStore(t)
	parent := mkTask(t, store, 1, "Parent", nil)
	other := mkTask(t, store, 1, "Other", nil)

	_, err := store.DB.Exec(`
		INSERT INTO task_dependencies (task_id, depends_on_id, dependency_type, created_at)
		VALUES (?, ?, 'finish_to_start', ?)
	`, other.ID, parent.ID, time.Now().Unix())
	require.NoError(t, err)

	// Hold the first pooled connection open so the delete runs on a
	// connection the pool opens fresh. Foreign-key enforcement is per
	// connection in SQLite, so the cascade must not depend on which
	// connection the delete lands on.
	rows, err := store.DB.Query(`SELECT id FROM tasks`)
	require.NoError(t, err)
	require.True(t, rows.Next())

	require.NoError(t, store.DeleteTask(1, parent.ID))
	require.NoError(t, rows.Close())

	var edges int
	require.NoError(t, store.DB.QueryRow(`SELECT COUNT(*) FROM task_dependencies`).Scan(&edges))
	assert.Zero(t, edges)
}

func TestSetSuggestedTimeSlot(t *testing.T) {
	store := newTestStore(t)
	task := mkTask(t, store, 1, "Plan sprint", nil)

	slot := time.Now().Add(3 * time.Hour).Truncate(time.Second).UTC()
	require.NoError(t, store.SetSuggestedTimeSlot(1, task.ID, slot))

	got, err := store.GetTask(1, task.ID)
	require.NoError(t, err)
	require.NotNil(t, got.AISuggestedTimeSlot)
	assert.Equal(t, slot.Unix(), got.AISuggestedTimeSlot.Unix())

	assert.ErrorIs(t, store.SetSuggestedTimeSlot(2, task.ID, slot), ErrNotFound)
}

func TestAnalytics(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		mkTask(t, store, 1, "open", nil)
	}
	done := mkTask(t, store, 1, "done", nil)
	_, err := store.UpdateTask(1, done.ID, TaskUpdate{Status: statusPtr(types.TaskStatusCompleted)})
	require.NoError(t, err)
	mkTask(t, store, 1, "late", func(task *types.Task) {
		task.DueDate = timePtr(now.Add(-48 * time.Hour))
	})
	dropped := mkTask(t, store, 1, "dropped", nil)
	_, err = store.UpdateTask(1, dropped.ID, TaskUpdate{Status: statusPtr(types.TaskStatusCancelled)})
	require.NoError(t, err)

	a, err := store.Analytics(1, now.Add(-7*24*time.Hour), now)
	require.NoError(t, err)
	assert.Equal(t, 6, a.TotalTasks)
	assert.Equal(t, 1, a.CompletedTasks)
	// Pending counts everything not completed, cancelled included
	assert.Equal(t, 5, a.PendingTasks)
	assert.Equal(t, 1, a.OverdueTasks)
	assert.InDelta(t, 100.0/6, a.CompletionRate, 0.01)
	assert.InDelta(t, 100.0/6, a.ProductivityScore, 0.01)
}

func TestListActiveUserIDs(t *testing.T) {
	store := newTestStore(t)
	mkTask(t, store, 3, "c", nil)
	mkTask(t, store, 1, "a", nil)
	mkTask(t, store, 1, "b", nil)

	ids, err := store.ListActiveUserIDs()
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, ids)
}

func TestListSchedulingCandidates(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	mkTask(t, store, 1, "no due", nil)
	second := mkTask(t, store, 1, "second", func(task *types.Task) {
		task.DueDate = timePtr(now.Add(48 * time.Hour))
	})
	first := mkTask(t, store, 1, "first", func(task *types.Task) {
		task.DueDate = timePtr(now.Add(24 * time.Hour))
	})
	done := mkTask(t, store, 1, "done", func(task *types.Task) {
		task.DueDate = timePtr(now.Add(12 * time.Hour))
	})
	_, err := store.UpdateTask(1, done.ID, TaskUpdate{Status: statusPtr(types.TaskStatusCompleted)})
	require.NoError(t, err)

	tasks, err := store.ListSchedulingCandidates(1, 20)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, first.ID, tasks[0].ID)
	assert.Equal(t, second.ID, tasks[1].ID)
}

func statusPtr(s types.TaskStatus) *types.TaskStatus { return &s }

func taskTitles(tasks []*types.Task) []string {
	titles := make([]string, len(tasks))
	for i, task := range tasks {
		titles[i] = task.Title
	}
	return titles
}
