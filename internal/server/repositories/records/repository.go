package records

import (
	"context"

	"github.com/villaprodiq/studiosync/internal/server/models"
)

// Repository is the storage layer behind the sync endpoint. All methods take
// the target table explicitly; callers resolve it through the entity
// catalogue, never from client input.
type Repository interface {
	// Fetch returns the full row and its version token.
	Fetch(ctx context.Context, table, id string) (models.Row, string, error)

	// Insert creates a new row carrying the given version token.
	Insert(ctx context.Context, table string, data models.Row, version string) error

	// Update rewrites the row's columns if its current version token equals
	// expected. A token mismatch (or a missing row) leaves the table
	// untouched and reports common.ErrVersionConflict.
	Update(ctx context.Context, table, id string, data models.Row, version, expected string) error

	// SoftDelete marks the row deleted under the same token guard as Update.
	SoftDelete(ctx context.Context, table, id, version, expected string) error

	// HardDelete removes the row outright.
	HardDelete(ctx context.Context, table, id string) error

	// SelectUpdated returns rows whose version token sorts after since,
	// oldest first.
	SelectUpdated(ctx context.Context, table, since string) ([]models.Row, error)
}
