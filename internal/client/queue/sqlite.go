package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/villaprodiq/studiosync/internal/client/models"
	"github.com/villaprodiq/studiosync/internal/common"
	"github.com/villaprodiq/studiosync/internal/dbx"
	"github.com/villaprodiq/studiosync/internal/entity"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
//
// Timestamps are stored as integer Unix nanoseconds so ordering and due-time
// comparisons stay exact. The monotonically increasing seq column, not the
// enqueue timestamp, is the ordering authority: two entries enqueued within
// the same clock tick still have a defined order.
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const entryColumns = `id, action, entity_type, record_id, payload, hard_delete, enqueued_at, attempts, next_attempt, status, last_error`

func (r *SQLiteRepository) Insert(ctx context.Context, e *models.SyncEntry) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	query := `INSERT INTO sync_queue (` + entryColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, query,
		e.ID, string(e.Action), string(e.EntityType), e.RecordID, string(payload),
		e.HardDelete, e.EnqueuedAt.UnixNano(), e.Attempts, e.NextAttempt.UnixNano(),
		string(e.Status), e.LastError)
	if err != nil {
		return fmt.Errorf("failed to insert queue entry: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.SyncEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM sync_queue WHERE id=?`
	row := r.db.QueryRowContext(ctx, query, id)

	e, err := scanEntry(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select queue entry: %w", err)
	}
	return e, nil
}

func (r *SQLiteRepository) NextDispatchable(ctx context.Context, now time.Time) (*models.SyncEntry, error) {
	// Per-record FIFO: an entry is dispatchable only when nothing older for
	// the same (entity_type, record_id) is still pending, in flight or
	// parked failed. This also guarantees at most one in-flight entry per
	// record key.
	query := `SELECT ` + entryColumns + ` FROM sync_queue e
			WHERE e.status='pending' AND e.next_attempt <= ?
			AND NOT EXISTS (
				SELECT 1 FROM sync_queue q
				WHERE q.entity_type = e.entity_type
				  AND q.record_id = e.record_id
				  AND q.seq < e.seq
				  AND q.status IN ('pending', 'in_flight', 'failed')
			)
			ORDER BY e.seq LIMIT 1`

	row := r.db.QueryRowContext(ctx, query, now.UnixNano())

	e, err := scanEntry(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select next entry: %w", err)
	}
	return e, nil
}

func (r *SQLiteRepository) MarkInFlight(ctx context.Context, id string) error {
	return r.transition(ctx, id,
		`UPDATE sync_queue SET status='in_flight' WHERE id=? AND status='pending'`)
}

func (r *SQLiteRepository) RecoverInFlight(ctx context.Context) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sync_queue SET status='pending' WHERE status='in_flight'`)
	if err != nil {
		return 0, fmt.Errorf("failed to recover in-flight entries: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(ra), nil
}

func (r *SQLiteRepository) Purge(ctx context.Context, id string) error {
	return r.transition(ctx, id, `DELETE FROM sync_queue WHERE id=?`)
}

func (r *SQLiteRepository) MarkRetry(ctx context.Context, id string, attempts int, next time.Time, lastError string) error {
	query := `UPDATE sync_queue SET status='pending', attempts=?, next_attempt=?, last_error=? WHERE id=?`
	res, err := r.db.ExecContext(ctx, query, attempts, next.UnixNano(), lastError, id)
	if err != nil {
		return fmt.Errorf("failed to schedule retry: %w", err)
	}
	return requireOneRow(res)
}

func (r *SQLiteRepository) MarkFailed(ctx context.Context, id string, lastError string) error {
	query := `UPDATE sync_queue SET status='failed', last_error=? WHERE id=?`
	res, err := r.db.ExecContext(ctx, query, lastError, id)
	if err != nil {
		return fmt.Errorf("failed to mark entry failed: %w", err)
	}
	return requireOneRow(res)
}

func (r *SQLiteRepository) ResetFailed(ctx context.Context, id string) error {
	query := `UPDATE sync_queue SET status='pending', attempts=0, next_attempt=0, last_error='' WHERE id=? AND status='failed'`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to reset entry: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return common.ErrNotRetryable
	}
	return nil
}

func (r *SQLiteRepository) Cancel(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM sync_queue WHERE id=? AND status='pending'`, id)
	if err != nil {
		return fmt.Errorf("failed to cancel entry: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return common.ErrNotCancellable
	}
	return nil
}

func (r *SQLiteRepository) Discard(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM sync_queue WHERE id=? AND status='failed'`, id)
	if err != nil {
		return fmt.Errorf("failed to discard entry: %w", err)
	}
	return requireOneRow(res)
}

func (r *SQLiteRepository) DeletePendingForRecord(ctx context.Context, t entity.Type, recordID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM sync_queue WHERE entity_type=? AND record_id=? AND status='pending'`,
		string(t), recordID)
	if err != nil {
		return fmt.Errorf("failed to delete pending entries: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) CountPending(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_queue WHERE status IN ('pending', 'in_flight')`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending entries: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) ListFailed(ctx context.Context) ([]*models.SyncEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM sync_queue WHERE status='failed' ORDER BY seq`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select failed entries: %w", err)
	}
	defer rows.Close()

	var result []*models.SyncEntry
	for rows.Next() {
		e, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) transition(ctx context.Context, id, query string) error {
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to transition entry: %w", err)
	}
	return requireOneRow(res)
}

func requireOneRow(res sql.Result) error {
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return common.ErrNotFound
	}
	return nil
}

func scanEntry(scan func(dest ...any) error) (*models.SyncEntry, error) {
	var (
		e          models.SyncEntry
		action     string
		et         string
		payload    string
		enqueuedAt int64
		next       int64
		status     string
	)
	if err := scan(&e.ID, &action, &et, &e.RecordID, &payload, &e.HardDelete,
		&enqueuedAt, &e.Attempts, &next, &status, &e.LastError); err != nil {
		return nil, err
	}
	e.Action = entity.Action(action)
	e.EntityType = entity.Type(et)
	e.Status = models.EntryStatus(status)
	e.EnqueuedAt = time.Unix(0, enqueuedAt).UTC()
	e.NextAttempt = time.Unix(0, next).UTC()
	if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	return &e, nil
}
