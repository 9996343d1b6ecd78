package ledger

import (
	"context"
	"time"

	"github.com/villaprodiq/studiosync/internal/server/models"
)

// Repository persists the reversible transaction ledger. Rows are immutable
// except for the single active → reversed transition.
type Repository interface {
	Insert(ctx context.Context, tx *models.LedgerTransaction) error
	GetByID(ctx context.Context, id string) (*models.LedgerTransaction, error)

	// ActiveBalance sums credits minus deductions over active rows only.
	ActiveBalance(ctx context.Context, clientID string) (int64, error)

	// MarkReversed flips an active row to reversed. A row that is missing
	// or already reversed reports common.ErrAlreadyReversed.
	MarkReversed(ctx context.Context, id, by, reason string, at time.Time) error

	// ListByClient returns a client's transactions, newest first.
	ListByClient(ctx context.Context, clientID string) ([]*models.LedgerTransaction, error)
}
