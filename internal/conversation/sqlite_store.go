package conversation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/flowmind/flowmind/pkg/types"
	"github.com/google/uuid"
)

// SQLiteStore implements Store on an existing SQLite handle.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the interaction store and its schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS interactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uuid TEXT NOT NULL UNIQUE,
		user_id INTEGER NOT NULL,
		session_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		total_tokens INTEGER NOT NULL DEFAULT 0,
		entity TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_interactions_user ON interactions(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_interactions_session ON interactions(session_id);
	CREATE INDEX IF NOT EXISTS idx_interactions_kind ON interactions(user_id, kind);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("creating interactions schema: %w", err)
	}
	return nil
}

// Append adds an interaction record
func (s *SQLiteStore) Append(ctx context.Context, record *types.Interaction) error {
	record.UUID = uuid.NewString()
	record.CreatedAt = time.Now().UTC()
	if record.SessionID == "" {
		record.SessionID = uuid.NewString()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO interactions (uuid, user_id, session_id, kind, role, content, total_tokens, entity, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, record.UUID, record.UserID, record.SessionID, record.Kind, record.Role,
		record.Content, record.TotalTokens, nullIfEmpty(record.Entity), record.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("appending interaction: %w", err)
	}

	record.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading interaction id: %w", err)
	}
	return nil
}

// ListBySession retrieves a session's records in insertion order
func (s *SQLiteStore) ListBySession(ctx context.Context, userID int64, sessionID string) ([]*types.Interaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, uuid, user_id, session_id, kind, role, content, total_tokens, COALESCE(entity, ''), created_at
		FROM interactions
		WHERE user_id = ? AND session_id = ?
		ORDER BY id ASC
	`, userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing session interactions: %w", err)
	}
	defer rows.Close()

	return collect(rows)
}

// ListRecent retrieves the user's newest records
func (s *SQLiteStore) ListRecent(ctx context.Context, userID int64, kind types.InteractionKind, limit int) ([]*types.Interaction, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, uuid, user_id, session_id, kind, role, content, total_tokens, COALESCE(entity, ''), created_at
		FROM interactions
		WHERE user_id = ?`
	args := []interface{}{userID}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing recent interactions: %w", err)
	}
	defer rows.Close()

	return collect(rows)
}

// Stats summarizes the user's AI usage
func (s *SQLiteStore) Stats(ctx context.Context, userID int64) (*types.InteractionStats, error) {
	stats := &types.InteractionStats{}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(total_tokens), 0)
		FROM interactions
		WHERE user_id = ?
	`, userID).Scan(&stats.TotalInteractions, &stats.TotalTokens)
	if err != nil {
		return nil, fmt.Errorf("computing interaction stats: %w", err)
	}
	if stats.TotalInteractions > 0 {
		stats.AvgTokens = float64(stats.TotalTokens) / float64(stats.TotalInteractions)
	}
	return stats, nil
}

// Close is a no-op; the underlying handle is owned by the caller.
func (s *SQLiteStore) Close() error {
	return nil
}

func collect(rows *sql.Rows) ([]*types.Interaction, error) {
	records := []*types.Interaction{}
	for rows.Next() {
		var rec types.Interaction
		var createdAt int64
		if err := rows.Scan(&rec.ID, &rec.UUID, &rec.UserID, &rec.SessionID, &rec.Kind,
			&rec.Role, &rec.Content, &rec.TotalTokens, &rec.Entity, &createdAt); err != nil {
			return nil, err
		}
		rec.CreatedAt = time.Unix(createdAt, 0).UTC()
		records = append(records, &rec)
	}
	return records, rows.Err()
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
