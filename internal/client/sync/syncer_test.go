package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/villaprodiq/studiosync/internal/client/gateway"
	"github.com/villaprodiq/studiosync/internal/client/models"
	"github.com/villaprodiq/studiosync/internal/client/queue"
	"github.com/villaprodiq/studiosync/internal/client/store"
	"github.com/villaprodiq/studiosync/internal/common"
	"github.com/villaprodiq/studiosync/internal/entity"
	"github.com/villaprodiq/studiosync/internal/logging"

	_ "modernc.org/sqlite"
)

// fakeApplier replays scripted outcomes and records the applied entries in
// order.
type fakeApplier struct {
	applied  []appliedCall
	outcomes []applyOutcome
}

type appliedCall struct {
	action      entity.Action
	typ         entity.Type
	recordID    string
	payload     map[string]any
	baseVersion string
	hardDelete  bool
}

type applyOutcome struct {
	res *gateway.Result
	err error
}

func (f *fakeApplier) Apply(ctx context.Context, action entity.Action, t entity.Type,
	recordID string, payload map[string]any, baseVersion string, hardDelete bool) (*gateway.Result, error) {
	f.applied = append(f.applied, appliedCall{action, t, recordID, payload, baseVersion, hardDelete})
	if len(f.outcomes) == 0 {
		return &gateway.Result{Data: payload, Version: "t1"}, nil
	}
	o := f.outcomes[0]
	f.outcomes = f.outcomes[1:]
	return o.res, o.err
}

type fakeSink struct {
	observed []observedConflict
}

type observedConflict struct {
	typ           entity.Type
	recordID      string
	localData     map[string]any
	serverData    map[string]any
	serverVersion string
}

func (f *fakeSink) Observe(ctx context.Context, t entity.Type, recordID string,
	localData map[string]any, serverData map[string]any, serverVersion string) (*models.Conflict, error) {
	f.observed = append(f.observed, observedConflict{t, recordID, localData, serverData, serverVersion})
	return &models.Conflict{ID: "conf-1"}, nil
}

type fixture struct {
	syncer  *Syncer
	applier *fakeApplier
	sink    *fakeSink
	queue   queue.Repository
	records store.Repository
	clock   *fakeClock
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func setup(t *testing.T, cfg Config) *fixture {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE records (
  id TEXT NOT NULL,
  entity_type TEXT NOT NULL,
  payload TEXT NOT NULL,
  base_version TEXT NOT NULL DEFAULT '',
  deleted INTEGER NOT NULL DEFAULT 0,
  updated_at TEXT NOT NULL,
  PRIMARY KEY (id, entity_type)
);
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

	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))

	applier := &fakeApplier{}
	sink := &fakeSink{}
	queueRepo := queue.NewSQLiteRepository(db)
	recordRepo := store.NewSQLiteRepository(db)

	s := NewSyncer(queueRepo, recordRepo, applier, sink, cfg, log)
	clock := &fakeClock{t: time.Now().UTC()}
	s.SetNow(clock.now)

	return &fixture{syncer: s, applier: applier, sink: sink, queue: queueRepo, records: recordRepo, clock: clock}
}

func testConfig() Config {
	return Config{
		MaxRetries:       3,
		BaseDelay:        time.Second,
		MaxDelay:         time.Minute,
		DispatchInterval: 10 * time.Millisecond,
	}
}

func TestEnqueue_AlwaysSucceedsOffline(t *testing.T) {
	f := setup(t, testConfig())
	ctx := context.Background()

	// No network involved at all; enqueue is a local write.
	id, err := f.syncer.Enqueue(ctx, entity.ActionCreate, entity.TypeBooking,
		"b1", map[string]any{"session_type": "wedding"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	n, err := f.syncer.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, f.applier.applied)
}

func TestEnqueue_UnknownEntityRejected(t *testing.T) {
	f := setup(t, testConfig())

	_, err := f.syncer.Enqueue(context.Background(), entity.ActionCreate,
		entity.Type("invoice"), "x", nil)
	assert.ErrorIs(t, err, common.ErrUnknownEntity)
}

func TestStage_OptimisticLocalWriteThenEnqueue(t *testing.T) {
	f := setup(t, testConfig())
	ctx := context.Background()

	_, err := f.syncer.Stage(ctx, entity.ActionCreate, entity.TypeBooking,
		"b1", map[string]any{"session_type": "wedding"})
	require.NoError(t, err)

	rec, err := f.records.Get(ctx, entity.TypeBooking, "b1")
	require.NoError(t, err)
	assert.Equal(t, "wedding", rec.Payload["session_type"])

	n, err := f.syncer.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDispatch_SuccessAdvancesBaseVersionAndPurges(t *testing.T) {
	f := setup(t, testConfig())
	ctx := context.Background()

	_, err := f.syncer.Stage(ctx, entity.ActionCreate, entity.TypeBooking,
		"b1", map[string]any{"session_type": "wedding"})
	require.NoError(t, err)

	dispatched, err := f.syncer.DispatchNext(ctx)
	require.NoError(t, err)
	assert.True(t, dispatched)

	rec, err := f.records.Get(ctx, entity.TypeBooking, "b1")
	require.NoError(t, err)
	assert.Equal(t, "t1", rec.BaseVersion)

	n, err := f.syncer.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDispatch_PerRecordOrdering(t *testing.T) {
	// Property: for update A then update B on the same record, the gateway
	// must never see B before A completed or was definitively superseded.
	f := setup(t, testConfig())
	ctx := context.Background()

	_, err := f.syncer.Stage(ctx, entity.ActionUpdate, entity.TypeBooking,
		"b1", map[string]any{"notes": "A"})
	require.NoError(t, err)
	_, err = f.syncer.Stage(ctx, entity.ActionUpdate, entity.TypeBooking,
		"b1", map[string]any{"notes": "B"})
	require.NoError(t, err)

	// First dispatch fails transiently: A stays queued with backoff.
	f.applier.outcomes = []applyOutcome{{err: errors.New("connection reset")}}

	require.NoError(t, f.syncer.Drain(ctx))

	// Only A was attempted; B never overtook it while A was backing off.
	require.Len(t, f.applier.applied, 1)
	assert.Equal(t, map[string]any{"notes": "A"}, f.applier.applied[0].payload)

	// After the backoff elapses, A goes first again, then B.
	f.clock.advance(time.Hour)
	require.NoError(t, f.syncer.Drain(ctx))

	require.Len(t, f.applier.applied, 3)
	assert.Equal(t, map[string]any{"notes": "A"}, f.applier.applied[1].payload)
	assert.Equal(t, map[string]any{"notes": "B"}, f.applier.applied[2].payload)
}

func TestDispatch_ConflictHandoff(t *testing.T) {
	f := setup(t, testConfig())
	ctx := context.Background()

	require.NoError(t, f.records.Upsert(ctx, &models.Record{
		ID: "c1", EntityType: entity.TypeClient,
		Payload: map[string]any{"name": "X"}, BaseVersion: "t0",
	}))
	_, err := f.syncer.Enqueue(ctx, entity.ActionUpdate, entity.TypeClient,
		"c1", map[string]any{"name": "X"})
	require.NoError(t, err)

	f.applier.outcomes = []applyOutcome{{err: &gateway.ConflictError{
		ServerData:    map[string]any{"name": "Y"},
		ServerVersion: "t1",
	}}}

	dispatched, err := f.syncer.DispatchNext(ctx)
	require.NoError(t, err)
	assert.True(t, dispatched)

	// Exactly one conflict observed with both versions materialized.
	require.Len(t, f.sink.observed, 1)
	obs := f.sink.observed[0]
	assert.Equal(t, "X", obs.localData["name"])
	assert.Equal(t, "Y", obs.serverData["name"])
	assert.Equal(t, "t1", obs.serverVersion)

	// The queue entry is superseded, not retried.
	n, err := f.syncer.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDispatch_TransientRetriesThenParksFailed(t *testing.T) {
	// Property: no silent loss. The entry ends in a terminal, observable
	// state after the retry budget runs out.
	cfg := testConfig()
	f := setup(t, cfg)
	ctx := context.Background()

	id, err := f.syncer.Enqueue(ctx, entity.ActionCreate, entity.TypeBooking,
		"b1", map[string]any{"session_type": "newborn"})
	require.NoError(t, err)

	for i := 0; i < cfg.MaxRetries; i++ {
		f.applier.outcomes = append(f.applier.outcomes, applyOutcome{err: errors.New("timeout")})
	}

	for i := 0; i < cfg.MaxRetries; i++ {
		require.NoError(t, f.syncer.Drain(ctx))
		f.clock.advance(time.Hour)
	}

	assert.Len(t, f.applier.applied, cfg.MaxRetries)

	failed, err := f.syncer.FailedEntries(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, id, failed[0].ID)
	assert.Contains(t, failed[0].LastError, common.ErrRetriesExceeded.Error())

	// Manual retry puts it back in rotation with a fresh budget.
	require.NoError(t, f.syncer.RetryFailed(ctx, id))
	require.NoError(t, f.syncer.Drain(ctx))

	n, err := f.syncer.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDispatch_HardErrorFailsImmediately(t *testing.T) {
	f := setup(t, testConfig())
	ctx := context.Background()

	_, err := f.syncer.Enqueue(ctx, entity.ActionCreate, entity.TypeBooking,
		"b1", map[string]any{"session_type": "wedding"})
	require.NoError(t, err)

	f.applier.outcomes = []applyOutcome{
		{err: fmt.Errorf("all schema shapes rejected: %w", common.ErrUndefinedColumn)},
	}

	require.NoError(t, f.syncer.Drain(ctx))

	assert.Len(t, f.applier.applied, 1)
	failed, err := f.syncer.FailedEntries(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
}

func TestStageDelete_SoftByDefaultHardOnRequest(t *testing.T) {
	f := setup(t, testConfig())
	ctx := context.Background()

	require.NoError(t, f.records.Upsert(ctx, &models.Record{
		ID: "b1", EntityType: entity.TypeBooking,
		Payload: map[string]any{"session_type": "wedding"}, BaseVersion: "t0",
	}))
	require.NoError(t, f.records.Upsert(ctx, &models.Record{
		ID: "b2", EntityType: entity.TypeBooking,
		Payload: map[string]any{"session_type": "newborn"}, BaseVersion: "t0",
	}))

	_, err := f.syncer.StageDelete(ctx, entity.TypeBooking, "b1", false)
	require.NoError(t, err)
	_, err = f.syncer.StageDelete(ctx, entity.TypeBooking, "b2", true)
	require.NoError(t, err)

	// Both records carry the local deleted marker either way.
	rec, err := f.records.Get(ctx, entity.TypeBooking, "b1")
	require.NoError(t, err)
	assert.True(t, rec.Deleted)

	// The flag survives the durable queue and reaches the gateway.
	require.NoError(t, f.syncer.Drain(ctx))

	require.Len(t, f.applier.applied, 2)
	assert.Equal(t, entity.ActionDelete, f.applier.applied[0].action)
	assert.False(t, f.applier.applied[0].hardDelete)
	assert.Equal(t, "b2", f.applier.applied[1].recordID)
	assert.True(t, f.applier.applied[1].hardDelete)
}

func TestCancel_PendingOnly(t *testing.T) {
	f := setup(t, testConfig())
	ctx := context.Background()

	id, err := f.syncer.Enqueue(ctx, entity.ActionCreate, entity.TypeBooking,
		"b1", map[string]any{})
	require.NoError(t, err)

	require.NoError(t, f.syncer.Cancel(ctx, id))

	n, err := f.syncer.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestBackoffDelay_ExponentialCapped(t *testing.T) {
	f := setup(t, Config{MaxRetries: 10, BaseDelay: time.Second, MaxDelay: 10 * time.Second})

	assert.Equal(t, 1*time.Second, f.syncer.backoffDelay(0))
	assert.Equal(t, 2*time.Second, f.syncer.backoffDelay(1))
	assert.Equal(t, 4*time.Second, f.syncer.backoffDelay(2))
	assert.Equal(t, 8*time.Second, f.syncer.backoffDelay(3))
	assert.Equal(t, 10*time.Second, f.syncer.backoffDelay(4))
	assert.Equal(t, 10*time.Second, f.syncer.backoffDelay(8))
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	f := setup(t, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.syncer.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}
