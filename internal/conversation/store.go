// Package conversation provides persistent storage for AI interactions
package conversation

import (
	"context"

	"github.com/flowmind/flowmind/pkg/types"
)

// Store manages interaction persistence. Records are append only.
type Store interface {
	// Append adds an interaction record. ID, UUID and CreatedAt are
	// populated on the way in.
	Append(ctx context.Context, record *types.Interaction) error

	// ListBySession retrieves a session's records in insertion order.
	ListBySession(ctx context.Context, userID int64, sessionID string) ([]*types.Interaction, error)

	// ListRecent retrieves the user's newest records, optionally
	// filtered by kind. Empty kind means all kinds.
	ListRecent(ctx context.Context, userID int64, kind types.InteractionKind, limit int) ([]*types.Interaction, error)

	// Stats summarizes the user's AI usage.
	Stats(ctx context.Context, userID int64) (*types.InteractionStats, error)

	// Close releases the store's resources.
	Close() error
}
