// Package queue is the durable Sync Queue: an ordered list of pending local
// mutations awaiting transmission to the remote store. Entries survive
// process restarts; a crash or offline period never loses a mutation.
package queue

import (
	"context"
	"time"

	"github.com/villaprodiq/studiosync/internal/client/models"
	"github.com/villaprodiq/studiosync/internal/entity"
)

// Repository describes queue persistence. All state transitions go through
// the repository so that the on-disk state is always an accurate picture of
// delivery progress.
type Repository interface {
	// Insert appends a new pending entry.
	Insert(ctx context.Context, e *models.SyncEntry) error

	// GetByID returns one entry, or common.ErrNotFound.
	GetByID(ctx context.Context, id string) (*models.SyncEntry, error)

	// NextDispatchable returns the oldest pending entry that is due
	// (next_attempt <= now) and has no earlier unfinished entry for the
	// same (entity_type, record_id). Returns nil when nothing is ready.
	// An earlier pending, in-flight or failed entry for the same record
	// blocks later entries for that record; entries for other records are
	// unaffected.
	NextDispatchable(ctx context.Context, now time.Time) (*models.SyncEntry, error)

	// MarkInFlight transitions a pending entry to in_flight.
	MarkInFlight(ctx context.Context, id string) error

	// RecoverInFlight returns every in_flight entry to pending and reports
	// how many were recovered. A crash between MarkInFlight and the
	// terminal transition leaves entries stranded in_flight; they must be
	// recovered at startup or they — and every later entry for the same
	// record — would never be dispatched again. Re-dispatch is safe: the
	// remote apply is version-guarded.
	RecoverInFlight(ctx context.Context) (int, error)

	// Purge removes a delivered or superseded entry (terminal "done").
	Purge(ctx context.Context, id string) error

	// MarkRetry returns an entry to pending with an incremented attempt
	// count and a scheduled next attempt.
	MarkRetry(ctx context.Context, id string, attempts int, next time.Time, lastError string) error

	// MarkFailed parks an entry in the failed state. Failed entries are
	// user-visible and require ResetFailed or Discard to proceed.
	MarkFailed(ctx context.Context, id string, lastError string) error

	// ResetFailed returns a failed entry to pending with a fresh retry
	// budget (user-triggered manual retry).
	ResetFailed(ctx context.Context, id string) error

	// Cancel removes an entry that is still pending. Cancelling an
	// in-flight entry is unsupported and returns common.ErrNotCancellable.
	Cancel(ctx context.Context, id string) error

	// Discard removes a failed entry (user gave up on the mutation).
	Discard(ctx context.Context, id string) error

	// DeletePendingForRecord drops all pending entries targeting one
	// record. Used by the "accept server" conflict resolution.
	DeletePendingForRecord(ctx context.Context, t entity.Type, recordID string) error

	// CountPending returns the size of the backlog (pending + in_flight).
	CountPending(ctx context.Context) (int, error)

	// ListFailed returns all failed entries, oldest first.
	ListFailed(ctx context.Context) ([]*models.SyncEntry, error)
}
