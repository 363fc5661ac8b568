// Package graph manages prerequisite edges between tasks and guards
// the dependency graph against cycles.
package graph

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/flowmind/flowmind/internal/db"
	"github.com/flowmind/flowmind/pkg/types"
)

var (
	// ErrInvalidOperation covers self-dependencies, duplicate edges and
	// edges that reference missing or foreign tasks.
	ErrInvalidOperation = errors.New("invalid dependency operation")

	// ErrCycleDetected is returned when an edge would close a cycle.
	ErrCycleDetected = errors.New("dependency cycle detected")
)

// Manager validates and persists dependency edges
type Manager struct {
	store *db.Store
}

// NewManager creates a dependency manager over the given store.
func NewManager(store *db.Store) *Manager {
	return &Manager{store: store}
}

// AddDependency records that task depends on another task of the same user.
//
// The cycle check and the insert run in one transaction so a concurrent
// writer cannot slip a closing edge in between.
func (m *Manager) AddDependency(userID, taskID, dependsOnID int64, depType types.DependencyType) (*types.TaskDependency, error) {
	if taskID == dependsOnID {
		return nil, fmt.Errorf("%w: task cannot depend on itself", ErrInvalidOperation)
	}
	if depType == "" {
		depType = types.DependencyFinishToStart
	}

	tx, err := m.store.DB.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	// Both endpoints must exist and belong to the user.
	var owned int
	err = tx.QueryRow(`
		SELECT COUNT(*) FROM tasks WHERE id IN (?, ?) AND user_id = ?
	`, taskID, dependsOnID, userID).Scan(&owned)
	if err != nil {
		return nil, fmt.Errorf("checking tasks: %w", err)
	}
	if owned != 2 {
		return nil, fmt.Errorf("%w: task not found", ErrInvalidOperation)
	}

	var exists int
	err = tx.QueryRow(`
		SELECT COUNT(*) FROM task_dependencies WHERE task_id = ? AND depends_on_id = ?
	`, taskID, dependsOnID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("checking duplicate edge: %w", err)
	}
	if exists > 0 {
		return nil, fmt.Errorf("%w: dependency already exists", ErrInvalidOperation)
	}

	cyclic, err := wouldCycle(tx, userID, taskID, dependsOnID)
	if err != nil {
		return nil, err
	}
	if cyclic {
		return nil, fmt.Errorf("%w: adding this edge would create a cycle", ErrCycleDetected)
	}

	dep := &types.TaskDependency{
		TaskID:         taskID,
		DependsOnID:    dependsOnID,
		DependencyType: depType,
		CreatedAt:      time.Now().UTC(),
	}

	res, err := tx.Exec(`
		INSERT INTO task_dependencies (task_id, depends_on_id, dependency_type, created_at)
		VALUES (?, ?, ?, ?)
	`, dep.TaskID, dep.DependsOnID, dep.DependencyType, dep.CreatedAt.Unix())
	if err != nil {
		return nil, fmt.Errorf("inserting dependency: %w", err)
	}
	dep.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading dependency id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing dependency: %w", err)
	}

	return dep, nil
}

// RemoveDependency deletes the edge from task to its prerequisite.
func (m *Manager) RemoveDependency(userID, taskID, dependsOnID int64) error {
	res, err := m.store.DB.Exec(`
		DELETE FROM task_dependencies
		WHERE task_id = ? AND depends_on_id = ?
		  AND task_id IN (SELECT id FROM tasks WHERE user_id = ?)
	`, taskID, dependsOnID, userID)
	if err != nil {
		return fmt.Errorf("removing dependency: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: dependency not found", ErrInvalidOperation)
	}
	return nil
}

// ListDependencies returns what the given task depends on.
func (m *Manager) ListDependencies(userID, taskID int64) ([]*types.DependencyLink, error) {
	if err := m.requireTask(userID, taskID); err != nil {
		return nil, err
	}
	return m.queryLinks(`
		SELECT td.id, t.id, t.title, t.status, td.dependency_type
		FROM task_dependencies td
		JOIN tasks t ON t.id = td.depends_on_id
		WHERE td.task_id = ?
		ORDER BY td.id
	`, taskID)
}

// ListDependents returns the tasks that depend on the given task.
func (m *Manager) ListDependents(userID, taskID int64) ([]*types.DependencyLink, error) {
	if err := m.requireTask(userID, taskID); err != nil {
		return nil, err
	}
	return m.queryLinks(`
		SELECT td.id, t.id, t.title, t.status, td.dependency_type
		FROM task_dependencies td
		JOIN tasks t ON t.id = td.task_id
		WHERE td.depends_on_id = ?
		ORDER BY td.id
	`, taskID)
}

// HasOpenPrerequisites reports whether any prerequisite of the task is
// not yet completed.
func (m *Manager) HasOpenPrerequisites(userID, taskID int64) (bool, error) {
	deps, err := m.ListDependencies(userID, taskID)
	if err != nil {
		return false, err
	}
	for _, dep := range deps {
		if dep.Status != types.TaskStatusCompleted {
			return true, nil
		}
	}
	return false, nil
}

func (m *Manager) requireTask(userID, taskID int64) error {
	var exists int
	err := m.store.DB.QueryRow(`
		SELECT COUNT(*) FROM tasks WHERE id = ? AND user_id = ?
	`, taskID, userID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking task: %w", err)
	}
	if exists == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (m *Manager) queryLinks(query string, taskID int64) ([]*types.DependencyLink, error) {
	rows, err := m.store.DB.Query(query, taskID)
	if err != nil {
		return nil, fmt.Errorf("listing dependencies: %w", err)
	}
	defer rows.Close()

	links := []*types.DependencyLink{}
	for rows.Next() {
		var link types.DependencyLink
		if err := rows.Scan(&link.EdgeID, &link.TaskID, &link.Title, &link.Status, &link.DependencyType); err != nil {
			return nil, err
		}
		links = append(links, &link)
	}
	return links, rows.Err()
}

// wouldCycle reports whether taskID is reachable from dependsOnID by
// following existing depends-on edges. Reachability over the full graph
// catches indirect cycles, not just back edges.
func wouldCycle(tx *sql.Tx, userID, taskID, dependsOnID int64) (bool, error) {
	rows, err := tx.Query(`
		SELECT td.task_id, td.depends_on_id
		FROM task_dependencies td
		JOIN tasks t ON t.id = td.task_id
		WHERE t.user_id = ?
	`, userID)
	if err != nil {
		return false, fmt.Errorf("loading dependency graph: %w", err)
	}
	defer rows.Close()

	adjacent := make(map[int64][]int64)
	for rows.Next() {
		var from, to int64
		if err := rows.Scan(&from, &to); err != nil {
			return false, err
		}
		adjacent[from] = append(adjacent[from], to)
	}
	if err := rows.Err(); err != nil {
		return false, err
	}

	// Depth-first walk from the prerequisite side.
	visited := make(map[int64]bool)
	stack := []int64{dependsOnID}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if node == taskID {
			return true, nil
		}
		if visited[node] {
			continue
		}
		visited[node] = true
		stack = append(stack, adjacent[node]...)
	}
	return false, nil
}
