// Package db handles database operations for FlowMind
package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flowmind/flowmind/pkg/types"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a row does not exist or belongs to another user.
var ErrNotFound = errors.New("not found")

// Store manages database operations
type Store struct {
	DB *sql.DB
}

// Open opens a SQLite database at the given path.
//
// The pragmas ride in the DSN so every pooled connection gets them;
// a one-shot Exec would only configure whichever connection ran it,
// and foreign-key enforcement is per connection in SQLite.
func Open(path string) (*Store, error) {
	dsn := path + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	return &Store{DB: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.DB.Close()
}

// InitSchema creates the database schema
func (s *Store) InitSchema() error {
	schema := `
	-- Tasks are the unit of work, scoped to their owner
	CREATE TABLE IF NOT EXISTS tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uuid TEXT NOT NULL UNIQUE,
		user_id INTEGER NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		priority TEXT NOT NULL DEFAULT 'medium',
		due_date INTEGER,
		start_date INTEGER,
		estimated_duration INTEGER,
		actual_duration INTEGER,
		tags TEXT NOT NULL DEFAULT '[]',
		category TEXT,
		project TEXT,
		parent_task_id INTEGER,
		ai_generated INTEGER NOT NULL DEFAULT 0,
		ai_priority_score INTEGER,
		ai_complexity_score INTEGER,
		ai_suggested_time_slot INTEGER,
		ai_context TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		completed_at INTEGER,
		FOREIGN KEY (parent_task_id) REFERENCES tasks(id) ON DELETE CASCADE
	);

	-- Dependencies define prerequisite relationships
	CREATE TABLE IF NOT EXISTS task_dependencies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id INTEGER NOT NULL,
		depends_on_id INTEGER NOT NULL,
		dependency_type TEXT NOT NULL DEFAULT 'finish_to_start',
		created_at INTEGER NOT NULL,
		UNIQUE (task_id, depends_on_id),
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE,
		FOREIGN KEY (depends_on_id) REFERENCES tasks(id) ON DELETE CASCADE
	);

	-- Indexes for common queries
	CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks(user_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_user_status ON tasks(user_id, status);
	CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks(due_date);
	CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks(parent_task_id);
	CREATE INDEX IF NOT EXISTS idx_dependencies_task ON task_dependencies(task_id);
	CREATE INDEX IF NOT EXISTS idx_dependencies_depends_on ON task_dependencies(depends_on_id);
	`

	_, err := s.DB.Exec(schema)
	return err
}

// taskColumns is the canonical SELECT list scanned by scanTask.
const taskColumns = `id, uuid, user_id, title, description, status, priority,
	due_date, start_date, estimated_duration, actual_duration,
	tags, category, project, parent_task_id,
	ai_generated, ai_priority_score, ai_complexity_score, ai_suggested_time_slot, ai_context,
	created_at, updated_at, completed_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*types.Task, error) {
	var (
		task              types.Task
		description       sql.NullString
		dueDate           sql.NullInt64
		startDate         sql.NullInt64
		estimatedDuration sql.NullInt64
		actualDuration    sql.NullInt64
		tagsJSON          string
		category          sql.NullString
		project           sql.NullString
		parentTaskID      sql.NullInt64
		aiGenerated       int
		aiPriorityScore   sql.NullInt64
		aiComplexityScore sql.NullInt64
		aiSuggestedSlot   sql.NullInt64
		aiContextJSON     string
		createdAt         int64
		updatedAt         int64
		completedAt       sql.NullInt64
	)

	err := row.Scan(&task.ID, &task.UUID, &task.UserID, &task.Title, &description,
		&task.Status, &task.Priority,
		&dueDate, &startDate, &estimatedDuration, &actualDuration,
		&tagsJSON, &category, &project, &parentTaskID,
		&aiGenerated, &aiPriorityScore, &aiComplexityScore, &aiSuggestedSlot, &aiContextJSON,
		&createdAt, &updatedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	task.Description = nullString(description)
	task.DueDate = nullTime(dueDate)
	task.StartDate = nullTime(startDate)
	task.EstimatedDuration = nullInt(estimatedDuration)
	task.ActualDuration = nullInt(actualDuration)
	task.Category = nullString(category)
	task.Project = nullString(project)
	if parentTaskID.Valid {
		task.ParentTaskID = &parentTaskID.Int64
	}
	task.AIGenerated = aiGenerated != 0
	task.AIPriorityScore = nullInt(aiPriorityScore)
	task.AIComplexityScore = nullInt(aiComplexityScore)
	task.AISuggestedTimeSlot = nullTime(aiSuggestedSlot)
	task.CreatedAt = time.Unix(createdAt, 0).UTC()
	task.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	task.CompletedAt = nullTime(completedAt)

	task.Tags = []string{}
	if tagsJSON != "" {
		if err := json.Unmarshal([]byte(tagsJSON), &task.Tags); err != nil {
			return nil, fmt.Errorf("decoding tags: %w", err)
		}
	}
	task.AIContext = map[string]interface{}{}
	if aiContextJSON != "" {
		if err := json.Unmarshal([]byte(aiContextJSON), &task.AIContext); err != nil {
			return nil, fmt.Errorf("decoding ai context: %w", err)
		}
	}

	return &task, nil
}

// CreateTask inserts a task and returns it with generated fields populated.
func (s *Store) CreateTask(task *types.Task) (*types.Task, error) {
	now := time.Now().UTC()
	task.UUID = uuid.NewString()
	task.CreatedAt = now
	task.UpdatedAt = now
	if task.Status == "" {
		task.Status = types.TaskStatusPending
	}
	if task.Priority == "" {
		task.Priority = types.TaskPriorityMedium
	}
	if task.Tags == nil {
		task.Tags = []string{}
	}
	if task.AIContext == nil {
		task.AIContext = map[string]interface{}{}
	}

	tagsJSON, err := json.Marshal(task.Tags)
	if err != nil {
		return nil, fmt.Errorf("encoding tags: %w", err)
	}
	aiContextJSON, err := json.Marshal(task.AIContext)
	if err != nil {
		return nil, fmt.Errorf("encoding ai context: %w", err)
	}

	res, err := s.DB.Exec(`
		INSERT INTO tasks (uuid, user_id, title, description, status, priority,
			due_date, start_date, estimated_duration, actual_duration,
			tags, category, project, parent_task_id,
			ai_generated, ai_priority_score, ai_complexity_score, ai_suggested_time_slot, ai_context,
			created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
	`, task.UUID, task.UserID, task.Title, ptrString(task.Description),
		task.Status, task.Priority,
		timePtrUnix(task.DueDate), timePtrUnix(task.StartDate),
		intPtr(task.EstimatedDuration), intPtr(task.ActualDuration),
		string(tagsJSON), ptrString(task.Category), ptrString(task.Project),
		int64Ptr(task.ParentTaskID),
		boolInt(task.AIGenerated), intPtr(task.AIPriorityScore), intPtr(task.AIComplexityScore),
		timePtrUnix(task.AISuggestedTimeSlot), string(aiContextJSON),
		task.CreatedAt.Unix(), task.UpdatedAt.Unix())
	if err != nil {
		return nil, fmt.Errorf("creating task: %w", err)
	}

	task.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading task id: %w", err)
	}

	return task, nil
}

// GetTask retrieves a task by ID, scoped to its owner
func (s *Store) GetTask(userID, taskID int64) (*types.Task, error) {
	row := s.DB.QueryRow(`
		SELECT `+taskColumns+` FROM tasks WHERE id = ? AND user_id = ?
	`, taskID, userID)

	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting task: %w", err)
	}
	return task, nil
}

// TaskFilter narrows ListTasks results. Zero values mean no filtering.
type TaskFilter struct {
	Status   types.TaskStatus
	Priority types.TaskPriority
	Category string
	Project  string
	DueSoon  bool // due within 7 days and not completed
	Overdue  bool // past due and not completed
	Search   string
	Limit    int
	Offset   int
}

// ListTasks returns the page of the user's tasks matching the filter
// plus the total match count before pagination.
//
// Ordering is fixed: urgent first, then high, then earliest due date
// (tasks without one sort last), then newest created.
func (s *Store) ListTasks(userID int64, filter TaskFilter, now time.Time) ([]*types.Task, int, error) {
	where := []string{"user_id = ?"}
	args := []interface{}{userID}

	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Priority != "" {
		where = append(where, "priority = ?")
		args = append(args, filter.Priority)
	}
	if filter.Category != "" {
		where = append(where, "category = ?")
		args = append(args, filter.Category)
	}
	if filter.Project != "" {
		where = append(where, "project = ?")
		args = append(args, filter.Project)
	}
	if filter.DueSoon {
		where = append(where, "due_date IS NOT NULL AND due_date <= ? AND status != 'completed'")
		args = append(args, now.Add(7*24*time.Hour).Unix())
	}
	if filter.Overdue {
		where = append(where, "due_date IS NOT NULL AND due_date < ? AND status != 'completed'")
		args = append(args, now.Unix())
	}
	if filter.Search != "" {
		pattern := "%" + strings.ToLower(filter.Search) + "%"
		where = append(where, "(LOWER(title) LIKE ? OR LOWER(COALESCE(description, '')) LIKE ?)")
		args = append(args, pattern, pattern)
	}

	whereClause := strings.Join(where, " AND ")

	var total int
	if err := s.DB.QueryRow(`SELECT COUNT(*) FROM tasks WHERE `+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting tasks: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit, filter.Offset)

	rows, err := s.DB.Query(`
		SELECT `+taskColumns+` FROM tasks
		WHERE `+whereClause+`
		ORDER BY
			CASE WHEN priority = 'urgent' THEN 0 ELSE 1 END,
			CASE WHEN priority = 'high' THEN 0 ELSE 1 END,
			CASE WHEN due_date IS NULL THEN 1 ELSE 0 END,
			due_date ASC,
			created_at DESC,
			id DESC
		LIMIT ? OFFSET ?
	`, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()

	tasks, err := collectTasks(rows)
	if err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

// TaskUpdate describes a partial update. Nil fields are left unchanged.
type TaskUpdate struct {
	Title             *string
	Description       *string
	Status            *types.TaskStatus
	Priority          *types.TaskPriority
	DueDate           *time.Time
	StartDate         *time.Time
	EstimatedDuration *int
	ActualDuration    *int
	Tags              *[]string
	Category          *string
	Project           *string
}

// UpdateTask applies a partial update and returns the updated task.
//
// Transitioning into completed stamps completed_at once; moving to any
// other status clears it.
func (s *Store) UpdateTask(userID, taskID int64, upd TaskUpdate) (*types.Task, error) {
	tx, err := s.DB.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(`
		SELECT `+taskColumns+` FROM tasks WHERE id = ? AND user_id = ?
	`, taskID, userID)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting task: %w", err)
	}

	if upd.Title != nil {
		task.Title = *upd.Title
	}
	if upd.Description != nil {
		task.Description = upd.Description
	}
	if upd.Priority != nil {
		task.Priority = *upd.Priority
	}
	if upd.DueDate != nil {
		task.DueDate = upd.DueDate
	}
	if upd.StartDate != nil {
		task.StartDate = upd.StartDate
	}
	if upd.EstimatedDuration != nil {
		task.EstimatedDuration = upd.EstimatedDuration
	}
	if upd.ActualDuration != nil {
		task.ActualDuration = upd.ActualDuration
	}
	if upd.Tags != nil {
		task.Tags = *upd.Tags
	}
	if upd.Category != nil {
		task.Category = upd.Category
	}
	if upd.Project != nil {
		task.Project = upd.Project
	}

	now := time.Now().UTC()
	if upd.Status != nil {
		task.Status = *upd.Status
		if task.Status == types.TaskStatusCompleted {
			if task.CompletedAt == nil {
				task.CompletedAt = &now
			}
		} else {
			task.CompletedAt = nil
		}
	}
	task.UpdatedAt = now

	tagsJSON, err := json.Marshal(task.Tags)
	if err != nil {
		return nil, fmt.Errorf("encoding tags: %w", err)
	}

	_, err = tx.Exec(`
		UPDATE tasks
		SET title = ?, description = ?, status = ?, priority = ?,
			due_date = ?, start_date = ?, estimated_duration = ?, actual_duration = ?,
			tags = ?, category = ?, project = ?,
			updated_at = ?, completed_at = ?
		WHERE id = ? AND user_id = ?
	`, task.Title, ptrString(task.Description), task.Status, task.Priority,
		timePtrUnix(task.DueDate), timePtrUnix(task.StartDate),
		intPtr(task.EstimatedDuration), intPtr(task.ActualDuration),
		string(tagsJSON), ptrString(task.Category), ptrString(task.Project),
		task.UpdatedAt.Unix(), timePtrUnix(task.CompletedAt),
		taskID, userID)
	if err != nil {
		return nil, fmt.Errorf("updating task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing update: %w", err)
	}

	return task, nil
}

// SetScores persists AI-derived scores for a task.
func (s *Store) SetScores(userID, taskID int64, priorityScore, complexityScore int) error {
	res, err := s.DB.Exec(`
		UPDATE tasks
		SET ai_priority_score = ?, ai_complexity_score = ?, updated_at = ?
		WHERE id = ? AND user_id = ?
	`, priorityScore, complexityScore, time.Now().Unix(), taskID, userID)
	if err != nil {
		return fmt.Errorf("setting scores: %w", err)
	}
	return requireRow(res)
}

// SetSuggestedTimeSlot records the AI-suggested start time for a task.
func (s *Store) SetSuggestedTimeSlot(userID, taskID int64, slot time.Time) error {
	res, err := s.DB.Exec(`
		UPDATE tasks
		SET ai_suggested_time_slot = ?, updated_at = ?
		WHERE id = ? AND user_id = ?
	`, slot.Unix(), time.Now().Unix(), taskID, userID)
	if err != nil {
		return fmt.Errorf("setting suggested time slot: %w", err)
	}
	return requireRow(res)
}

// DeleteTask removes a task. Sub-tasks and dependency edges cascade.
func (s *Store) DeleteTask(userID, taskID int64) error {
	res, err := s.DB.Exec(`
		DELETE FROM tasks WHERE id = ? AND user_id = ?
	`, taskID, userID)
	if err != nil {
		return fmt.Errorf("deleting task: %w", err)
	}
	return requireRow(res)
}

// CountSubtasks returns how many tasks list the given task as parent.
func (s *Store) CountSubtasks(taskID int64) (int, error) {
	var n int
	err := s.DB.QueryRow(`
		SELECT COUNT(*) FROM tasks WHERE parent_task_id = ?
	`, taskID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting subtasks: %w", err)
	}
	return n, nil
}

// ListActiveUserIDs returns the distinct owners of all tasks.
func (s *Store) ListActiveUserIDs() ([]int64, error) {
	rows, err := s.DB.Query(`SELECT DISTINCT user_id FROM tasks ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListSchedulingCandidates returns open tasks with due dates, earliest first.
func (s *Store) ListSchedulingCandidates(userID int64, limit int) ([]*types.Task, error) {
	rows, err := s.DB.Query(`
		SELECT `+taskColumns+` FROM tasks
		WHERE user_id = ?
		  AND status IN ('pending', 'in_progress')
		  AND due_date IS NOT NULL
		ORDER BY due_date ASC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing scheduling candidates: %w", err)
	}
	defer rows.Close()

	return collectTasks(rows)
}

// ListRecent returns the user's most recently created tasks.
func (s *Store) ListRecent(userID int64, limit int) ([]*types.Task, error) {
	rows, err := s.DB.Query(`
		SELECT `+taskColumns+` FROM tasks
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing recent tasks: %w", err)
	}
	defer rows.Close()

	return collectTasks(rows)
}

// ListDueBetween returns open tasks due in the window, for reminders.
func (s *Store) ListDueBetween(userID int64, from, to time.Time) ([]*types.Task, error) {
	rows, err := s.DB.Query(`
		SELECT `+taskColumns+` FROM tasks
		WHERE user_id = ?
		  AND due_date IS NOT NULL
		  AND due_date >= ? AND due_date < ?
		  AND status NOT IN ('completed', 'cancelled')
		ORDER BY due_date ASC
	`, userID, from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("listing due tasks: %w", err)
	}
	defer rows.Close()

	return collectTasks(rows)
}

// Analytics summarizes tasks created since the given time.
func (s *Store) Analytics(userID int64, since, now time.Time) (*types.Analytics, error) {
	a := &types.Analytics{UserID: userID}
	err := s.DB.QueryRow(`
		SELECT
			COUNT(*),
			SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END),
			SUM(CASE WHEN due_date IS NOT NULL AND due_date < ? AND status != 'completed' THEN 1 ELSE 0 END)
		FROM tasks
		WHERE user_id = ? AND created_at >= ?
	`, now.Unix(), userID, since.Unix()).Scan(
		&a.TotalTasks, &a.CompletedTasks, &a.OverdueTasks)
	if err != nil {
		return nil, fmt.Errorf("computing analytics: %w", err)
	}
	// Pending means not yet completed, cancelled and on-hold included
	a.PendingTasks = a.TotalTasks - a.CompletedTasks

	if a.TotalTasks > 0 {
		a.CompletionRate = float64(a.CompletedTasks) / float64(a.TotalTasks) * 100
	}
	a.ProductivityScore = a.CompletionRate
	if a.ProductivityScore > 100 {
		a.ProductivityScore = 100
	}
	return a, nil
}

func collectTasks(rows *sql.Rows) ([]*types.Task, error) {
	var tasks []*types.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func nullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

func ptrString(v *string) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func intPtr(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func int64Ptr(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func timePtrUnix(v *time.Time) interface{} {
	if v == nil {
		return nil
	}
	return v.Unix()
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
