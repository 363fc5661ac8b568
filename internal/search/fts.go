// Package search provides full-text task search using SQLite FTS5
package search

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// Result is one full-text match
type Result struct {
	TaskID  int64   `json:"task_id"`
	Title   string  `json:"title"`
	Status  string  `json:"status"`
	Snippet string  `json:"snippet"`
	Rank    float64 `json:"rank"`
}

// Searcher maintains an FTS5 index over the tasks table and answers
// ranked queries against it. It shares the caller's database handle.
type Searcher struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSearcher creates the FTS5 index and its sync triggers if needed.
// The tasks table must already exist.
func NewSearcher(db *sql.DB, logger *slog.Logger) (*Searcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Searcher{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Searcher) initSchema() error {
	// External-content table: rows live in tasks, FTS stores only the index
	if _, err := s.db.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS tasks_fts USING fts5(
			title,
			description,
			content='tasks',
			content_rowid='id'
		);
	`); err != nil {
		return fmt.Errorf("creating tasks_fts table: %w", err)
	}

	triggers := []string{
		`CREATE TRIGGER IF NOT EXISTS tasks_fts_ai AFTER INSERT ON tasks BEGIN
			INSERT INTO tasks_fts(rowid, title, description)
			VALUES (NEW.id, NEW.title, COALESCE(NEW.description, ''));
		END;`,
		`CREATE TRIGGER IF NOT EXISTS tasks_fts_ad AFTER DELETE ON tasks BEGIN
			INSERT INTO tasks_fts(tasks_fts, rowid, title, description)
			VALUES ('delete', OLD.id, OLD.title, COALESCE(OLD.description, ''));
		END;`,
		`CREATE TRIGGER IF NOT EXISTS tasks_fts_au AFTER UPDATE OF title, description ON tasks BEGIN
			INSERT INTO tasks_fts(tasks_fts, rowid, title, description)
			VALUES ('delete', OLD.id, OLD.title, COALESCE(OLD.description, ''));
			INSERT INTO tasks_fts(rowid, title, description)
			VALUES (NEW.id, NEW.title, COALESCE(NEW.description, ''));
		END;`,
	}
	for _, trigger := range triggers {
		if _, err := s.db.Exec(trigger); err != nil {
			return fmt.Errorf("creating fts trigger: %w", err)
		}
	}
	return nil
}

// Rebuild reindexes every task. Needed once when enabling search on a
// database that predates the triggers.
func (s *Searcher) Rebuild() error {
	if _, err := s.db.Exec(`INSERT INTO tasks_fts(tasks_fts) VALUES ('rebuild')`); err != nil {
		return fmt.Errorf("rebuilding fts index: %w", err)
	}
	s.logger.Info("search index rebuilt")
	return nil
}

// Search returns the user's tasks matching the query, best match first.
func (s *Searcher) Search(userID int64, query string, limit int) ([]*Result, error) {
	ftsQuery := sanitizeQuery(query)
	if ftsQuery == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(`
		SELECT t.id, t.title, t.status,
		       snippet(tasks_fts, 1, '[', ']', '…', 12),
		       bm25(tasks_fts)
		FROM tasks_fts
		JOIN tasks t ON t.id = tasks_fts.rowid
		WHERE tasks_fts MATCH ? AND t.user_id = ?
		ORDER BY bm25(tasks_fts)
		LIMIT ?
	`, ftsQuery, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("searching tasks: %w", err)
	}
	defer rows.Close()

	var results []*Result
	for rows.Next() {
		r := &Result{}
		if err := rows.Scan(&r.TaskID, &r.Title, &r.Status, &r.Snippet, &r.Rank); err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// sanitizeQuery turns free text into a safe FTS5 query. Each term is
// quoted so user input cannot inject FTS operators, and terms combine
// with implicit AND.
func sanitizeQuery(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return ""
	}
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, "")
		if f == "" {
			continue
		}
		terms = append(terms, `"`+f+`"`)
	}
	return strings.Join(terms, " ")
}
