package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/villaprodiq/studiosync/internal/common"
	"github.com/villaprodiq/studiosync/internal/dbx"
	"github.com/villaprodiq/studiosync/internal/logging"
	"github.com/villaprodiq/studiosync/internal/server/models"
	"github.com/villaprodiq/studiosync/internal/server/repositories/repomanager"
)

// ReversalWindow is how long after creation a ledger transaction stays
// reversible.
const ReversalWindow = 5 * time.Minute

// LedgerService runs the reversible client-account ledger. All validation is
// synchronous: a rejected operation persists nothing and is never queued.
type LedgerService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	log         logging.Logger
	now         func() time.Time
}

func NewLedgerService(db *sql.DB, rm repomanager.RepositoryManager, log logging.Logger) *LedgerService {
	return &LedgerService{
		db:          db,
		repomanager: rm,
		log:         log.With("component", "ledger_service"),
		now:         time.Now,
	}
}

// SetNow overrides the clock. Tests only.
func (s *LedgerService) SetNow(now func() time.Time) { s.now = now }

// AddCredit records a positive money movement onto the client's account.
func (s *LedgerService) AddCredit(ctx context.Context, clientID string, amount int64,
	currency, description string) (*models.LedgerTransaction, error) {
	return s.record(ctx, clientID, models.LedgerCredit, amount, currency, description)
}

// DeductCredit records a deduction. The balance check and the insert run in
// one transaction, so two concurrent deductions cannot both pass against the
// same balance.
func (s *LedgerService) DeductCredit(ctx context.Context, clientID string, amount int64,
	currency, description string) (*models.LedgerTransaction, error) {
	return s.record(ctx, clientID, models.LedgerDeduction, amount, currency, description)
}

func (s *LedgerService) record(ctx context.Context, clientID string, kind models.LedgerKind,
	amount int64, currency, description string) (*models.LedgerTransaction, error) {
	if amount <= 0 {
		return nil, common.ErrInvalidAmount
	}
	if clientID == "" || currency == "" {
		return nil, fmt.Errorf("client id and currency are required: %w", common.ErrInternal)
	}

	created := s.now().UTC()
	tx := &models.LedgerTransaction{
		ID:              uuid.NewString(),
		ClientID:        clientID,
		Kind:            kind,
		Amount:          amount,
		Currency:        currency,
		Description:     description,
		Status:          models.LedgerActive,
		CreatedAt:       created,
		CanReverseUntil: created.Add(ReversalWindow),
	}

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, dbtx dbx.DBTX) error {
		repo := s.repomanager.Ledger(dbtx)

		if kind == models.LedgerDeduction {
			balance, err := repo.ActiveBalance(ctx, clientID)
			if err != nil {
				return err
			}
			if balance < amount {
				return fmt.Errorf("balance %d, deduction %d: %w",
					balance, amount, common.ErrInsufficientBalance)
			}
		}

		return repo.Insert(ctx, tx)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info(ctx, "ledger transaction recorded",
		"id", tx.ID, "client", clientID, "kind", string(kind), "amount", amount, "currency", currency)
	return tx, nil
}

// CanReverse reports whether tx is still reversible at the given instant.
func CanReverse(tx *models.LedgerTransaction, at time.Time) bool {
	return tx.Status == models.LedgerActive && !at.After(tx.CanReverseUntil)
}

// Reverse voids a transaction inside its reversal window. After it, the
// amount no longer counts toward the client's balance.
func (s *LedgerService) Reverse(ctx context.Context, id, by, reason string) (*models.LedgerTransaction, error) {
	at := s.now().UTC()

	var reversed *models.LedgerTransaction
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, dbtx dbx.DBTX) error {
		repo := s.repomanager.Ledger(dbtx)

		tx, err := repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if tx.Status == models.LedgerReversed {
			return common.ErrAlreadyReversed
		}
		if !CanReverse(tx, at) {
			return fmt.Errorf("window closed at %s: %w",
				tx.CanReverseUntil.Format(time.RFC3339), common.ErrReversalWindowExpired)
		}

		if err := repo.MarkReversed(ctx, id, by, reason, at); err != nil {
			return err
		}

		tx.Status = models.LedgerReversed
		tx.ReversedAt = &at
		tx.ReversedBy = by
		tx.ReverseReason = reason
		reversed = tx
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info(ctx, "ledger transaction reversed", "id", id, "by", by)
	return reversed, nil
}

// Balance is the sum of the client's active amounts only.
func (s *LedgerService) Balance(ctx context.Context, clientID string) (int64, error) {
	return s.repomanager.Ledger(s.db).ActiveBalance(ctx, clientID)
}

// Transactions lists the client's ledger history, newest first.
func (s *LedgerService) Transactions(ctx context.Context, clientID string) ([]*models.LedgerTransaction, error) {
	return s.repomanager.Ledger(s.db).ListByClient(ctx, clientID)
}
