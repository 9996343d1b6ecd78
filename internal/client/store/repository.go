// Package store is the Local Record Store: the on-device mirror of business
// entities used for optimistic, offline-capable reads and writes.
package store

import (
	"context"

	"github.com/villaprodiq/studiosync/internal/client/models"
	"github.com/villaprodiq/studiosync/internal/entity"
)

// Repository describes the operations the sync layer needs from the local
// record mirror. Implementations are backed by the agent's SQLite database.
type Repository interface {
	// Upsert inserts a new record or replaces an existing one by (entity, id).
	Upsert(ctx context.Context, rec *models.Record) error

	// Get returns one record, or common.ErrNotFound.
	Get(ctx context.Context, t entity.Type, id string) (*models.Record, error)

	// List returns all non-deleted records of one entity type.
	List(ctx context.Context, t entity.Type) ([]*models.Record, error)

	// SetBaseVersion advances the record's last-synced server version token.
	SetBaseVersion(ctx context.Context, t entity.Type, id, version string) error

	// MarkDeleted soft-deletes a record locally. The physical row remains
	// until the deletion has been synced and compacted.
	MarkDeleted(ctx context.Context, t entity.Type, id string) error

	// Replace overwrites the local payload and base version with the
	// server's copy (used by the "accept server" conflict resolution).
	Replace(ctx context.Context, t entity.Type, id string, payload map[string]any, version string) error
}
