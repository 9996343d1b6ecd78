// Package ledger provides the PostgreSQL-backed repository for the
// reversible client-account ledger.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/villaprodiq/studiosync/internal/common"
	"github.com/villaprodiq/studiosync/internal/dbx"
	"github.com/villaprodiq/studiosync/internal/server/models"
)

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectColumns = `id, client_id, kind, amount, currency, description,
	status, created_at, can_reverse_until, reversed_at, reversed_by, reverse_reason`

func (r *PostgresRepository) Insert(ctx context.Context, tx *models.LedgerTransaction) error {
	query := `
		INSERT INTO ledger_transactions
			(id, client_id, kind, amount, currency, description, status, created_at, can_reverse_until)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.ExecContext(ctx, query,
		tx.ID, tx.ClientID, string(tx.Kind), tx.Amount, tx.Currency,
		tx.Description, string(tx.Status), tx.CreatedAt, tx.CanReverseUntil)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.LedgerTransaction, error) {
	query := `SELECT ` + selectColumns + ` FROM ledger_transactions WHERE id=$1`

	var (
		item          models.LedgerTransaction
		kind, status  string
		reversedAt    sql.NullTime
		reversedBy    sql.NullString
		reverseReason sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&item.ID, &item.ClientID, &kind, &item.Amount, &item.Currency,
		&item.Description, &status, &item.CreatedAt, &item.CanReverseUntil,
		&reversedAt, &reversedBy, &reverseReason,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	item.Kind = models.LedgerKind(kind)
	item.Status = models.LedgerStatus(status)
	if reversedAt.Valid {
		t := reversedAt.Time
		item.ReversedAt = &t
	}
	item.ReversedBy = reversedBy.String
	item.ReverseReason = reverseReason.String
	return &item, nil
}

func (r *PostgresRepository) ActiveBalance(ctx context.Context, clientID string) (int64, error) {
	query := `
		SELECT COALESCE(SUM(CASE WHEN kind = 'credit' THEN amount ELSE -amount END), 0)
		FROM ledger_transactions
		WHERE client_id = $1 AND status = 'active'
	`
	var balance int64
	if err := r.db.QueryRowContext(ctx, query, clientID).Scan(&balance); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return balance, nil
}

func (r *PostgresRepository) MarkReversed(ctx context.Context, id, by, reason string, at time.Time) error {
	query := `
		UPDATE ledger_transactions
		SET status = 'reversed', reversed_at = $1, reversed_by = $2, reverse_reason = $3
		WHERE id = $4 AND status = 'active'
	`
	res, err := r.db.ExecContext(ctx, query, at, by, reason, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return common.ErrAlreadyReversed
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}

func (r *PostgresRepository) ListByClient(ctx context.Context, clientID string) ([]*models.LedgerTransaction, error) {
	query := `SELECT ` + selectColumns + ` FROM ledger_transactions
		WHERE client_id=$1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to select transactions: %w", err)
	}
	defer rows.Close()

	var result []*models.LedgerTransaction
	for rows.Next() {
		var (
			item          models.LedgerTransaction
			kind, status  string
			reversedAt    sql.NullTime
			reversedBy    sql.NullString
			reverseReason sql.NullString
		)
		if err := rows.Scan(
			&item.ID, &item.ClientID, &kind, &item.Amount, &item.Currency,
			&item.Description, &status, &item.CreatedAt, &item.CanReverseUntil,
			&reversedAt, &reversedBy, &reverseReason,
		); err != nil {
			return nil, err
		}
		item.Kind = models.LedgerKind(kind)
		item.Status = models.LedgerStatus(status)
		if reversedAt.Valid {
			t := reversedAt.Time
			item.ReversedAt = &t
		}
		item.ReversedBy = reversedBy.String
		item.ReverseReason = reverseReason.String
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
