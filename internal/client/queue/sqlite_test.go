package queue

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/villaprodiq/studiosync/internal/client/models"
	"github.com/villaprodiq/studiosync/internal/common"
	"github.com/villaprodiq/studiosync/internal/entity"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE sync_queue (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  id TEXT NOT NULL UNIQUE,
  action TEXT NOT NULL,
  entity_type TEXT NOT NULL,
  record_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  hard_delete INTEGER NOT NULL DEFAULT 0,
  enqueued_at INTEGER NOT NULL,
  attempts INTEGER NOT NULL DEFAULT 0,
  next_attempt INTEGER NOT NULL DEFAULT 0,
  status TEXT NOT NULL DEFAULT 'pending',
  last_error TEXT NOT NULL DEFAULT ''
);
`)
	require.NoError(t, err)

	return db
}

func newEntry(action entity.Action, recordID string) *models.SyncEntry {
	return &models.SyncEntry{
		ID:         uuid.NewString(),
		Action:     action,
		EntityType: entity.TypeBooking,
		RecordID:   recordID,
		Payload:    map[string]any{"record": recordID},
		EnqueuedAt: time.Now().UTC(),
		Status:     models.EntryPending,
	}
}

func TestNextDispatchable_PerRecordFIFO(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	a := newEntry(entity.ActionUpdate, "b1")
	b := newEntry(entity.ActionUpdate, "b1")
	c := newEntry(entity.ActionUpdate, "b2")
	for _, e := range []*models.SyncEntry{a, b, c} {
		require.NoError(t, r.Insert(ctx, e))
	}

	now := time.Now()

	got, err := r.NextDispatchable(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, a.ID, got.ID)

	// While a is in flight, b (same record) must wait but c (other record)
	// is dispatchable.
	require.NoError(t, r.MarkInFlight(ctx, a.ID))

	got, err = r.NextDispatchable(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, c.ID, got.ID)

	require.NoError(t, r.MarkInFlight(ctx, c.ID))

	got, err = r.NextDispatchable(ctx, now)
	require.NoError(t, err)
	assert.Nil(t, got)

	// Completing a unblocks b.
	require.NoError(t, r.Purge(ctx, a.ID))

	got, err = r.NextDispatchable(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, b.ID, got.ID)
}

func TestNextDispatchable_RespectsBackoffDueTime(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	e := newEntry(entity.ActionCreate, "b1")
	require.NoError(t, r.Insert(ctx, e))

	now := time.Now()
	require.NoError(t, r.MarkInFlight(ctx, e.ID))
	require.NoError(t, r.MarkRetry(ctx, e.ID, 1, now.Add(time.Minute), "timeout"))

	got, err := r.NextDispatchable(ctx, now)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = r.NextDispatchable(ctx, now.Add(2*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "timeout", got.LastError)
}

func TestFailedEntry_BlocksSameRecordOnly(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	a := newEntry(entity.ActionUpdate, "b1")
	b := newEntry(entity.ActionUpdate, "b1")
	c := newEntry(entity.ActionUpdate, "b2")
	for _, e := range []*models.SyncEntry{a, b, c} {
		require.NoError(t, r.Insert(ctx, e))
	}

	require.NoError(t, r.MarkInFlight(ctx, a.ID))
	require.NoError(t, r.MarkFailed(ctx, a.ID, "schema mismatch"))

	// b is stuck behind the failed a; c proceeds.
	got, err := r.NextDispatchable(ctx, time.Now())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, c.ID, got.ID)

	// Manual retry releases the record.
	require.NoError(t, r.ResetFailed(ctx, a.ID))
	require.NoError(t, r.MarkInFlight(ctx, c.ID))

	got, err = r.NextDispatchable(ctx, time.Now())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, 0, got.Attempts)
}

func TestRecoverInFlight_ReturnsStrandedEntriesToPending(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	a := newEntry(entity.ActionUpdate, "b1")
	b := newEntry(entity.ActionUpdate, "b1")
	for _, e := range []*models.SyncEntry{a, b} {
		require.NoError(t, r.Insert(ctx, e))
	}
	require.NoError(t, r.MarkInFlight(ctx, a.ID))

	// A crash here would leave a stranded in_flight: not dispatchable, not
	// failed, and blocking b for the same record.
	got, err := r.NextDispatchable(ctx, time.Now())
	require.NoError(t, err)
	assert.Nil(t, got)

	n, err := r.RecoverInFlight(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// a is back in rotation and still goes before b.
	got, err = r.NextDispatchable(ctx, time.Now())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, models.EntryPending, got.Status)

	// Nothing left to recover on a clean queue.
	n, err = r.RecoverInFlight(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestCancel_OnlyWhilePending(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	e := newEntry(entity.ActionDelete, "b1")
	require.NoError(t, r.Insert(ctx, e))
	require.NoError(t, r.MarkInFlight(ctx, e.ID))

	assert.ErrorIs(t, r.Cancel(ctx, e.ID), common.ErrNotCancellable)

	e2 := newEntry(entity.ActionDelete, "b2")
	require.NoError(t, r.Insert(ctx, e2))
	require.NoError(t, r.Cancel(ctx, e2.ID))

	_, err := r.GetByID(ctx, e2.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestResetFailed_RequiresFailedState(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	e := newEntry(entity.ActionUpdate, "b1")
	require.NoError(t, r.Insert(ctx, e))

	assert.ErrorIs(t, r.ResetFailed(ctx, e.ID), common.ErrNotRetryable)
}

func TestDeletePendingForRecord(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	a := newEntry(entity.ActionUpdate, "b1")
	b := newEntry(entity.ActionUpdate, "b1")
	c := newEntry(entity.ActionUpdate, "b2")
	for _, e := range []*models.SyncEntry{a, b, c} {
		require.NoError(t, r.Insert(ctx, e))
	}

	require.NoError(t, r.DeletePendingForRecord(ctx, entity.TypeBooking, "b1"))

	n, err := r.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCountPending_IncludesInFlight(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	a := newEntry(entity.ActionUpdate, "b1")
	b := newEntry(entity.ActionUpdate, "b2")
	require.NoError(t, r.Insert(ctx, a))
	require.NoError(t, r.Insert(ctx, b))
	require.NoError(t, r.MarkInFlight(ctx, a.ID))

	n, err := r.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestListFailed(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	a := newEntry(entity.ActionUpdate, "b1")
	require.NoError(t, r.Insert(ctx, a))
	require.NoError(t, r.MarkInFlight(ctx, a.ID))
	require.NoError(t, r.MarkFailed(ctx, a.ID, "retry budget exceeded"))

	failed, err := r.ListFailed(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, models.EntryFailed, failed[0].Status)
	assert.Equal(t, "retry budget exceeded", failed[0].LastError)
}
