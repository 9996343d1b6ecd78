// Package conflicts persists Conflict Records awaiting user resolution.
package conflicts

import (
	"context"

	"github.com/villaprodiq/studiosync/internal/client/models"
)

// Repository describes conflict persistence.
type Repository interface {
	// Insert stores a newly detected conflict.
	Insert(ctx context.Context, c *models.Conflict) error

	// GetByID returns one conflict, or common.ErrNotFound.
	GetByID(ctx context.Context, id string) (*models.Conflict, error)

	// ListPending returns unresolved conflicts, most recent first.
	ListPending(ctx context.Context) ([]*models.Conflict, error)

	// MarkResolved records the chosen resolution. Returns the number of
	// rows transitioned (0 when already resolved).
	MarkResolved(ctx context.Context, id string, res models.Resolution) (int, error)
}
