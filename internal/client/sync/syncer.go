// Package sync contains the queue dispatcher: durable, ordered delivery of
// local mutations to the remote store, with retry, backoff and conflict
// handoff.
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/villaprodiq/studiosync/internal/client/gateway"
	"github.com/villaprodiq/studiosync/internal/client/models"
	"github.com/villaprodiq/studiosync/internal/client/queue"
	"github.com/villaprodiq/studiosync/internal/client/store"
	"github.com/villaprodiq/studiosync/internal/common"
	"github.com/villaprodiq/studiosync/internal/entity"
	"github.com/villaprodiq/studiosync/internal/logging"
)

// Applier is the slice of the Remote Sync Gateway the dispatcher uses.
// *gateway.Gateway satisfies it.
type Applier interface {
	Apply(ctx context.Context, action entity.Action, t entity.Type,
		recordID string, payload map[string]any, baseVersion string, hardDelete bool) (*gateway.Result, error)
}

// ConflictSink receives detected divergences. *conflict.Manager satisfies it.
type ConflictSink interface {
	Observe(ctx context.Context, t entity.Type, recordID string,
		localData map[string]any, serverData map[string]any, serverVersion string) (*models.Conflict, error)
}

// Config holds dispatcher tuning knobs.
type Config struct {
	// MaxRetries bounds transient delivery attempts per entry; past it the
	// entry is parked failed and surfaces to the user.
	MaxRetries int

	// BaseDelay is the first retry delay; each further attempt doubles it.
	BaseDelay time.Duration

	// MaxDelay caps the backoff growth.
	MaxDelay time.Duration

	// DispatchInterval is how often the background loop drains the queue.
	DispatchInterval time.Duration
}

// DefaultConfig mirrors the retry policy of the production deployment.
func DefaultConfig() Config {
	return Config{
		MaxRetries:       5,
		BaseDelay:        2 * time.Second,
		MaxDelay:         5 * time.Minute,
		DispatchInterval: 10 * time.Second,
	}
}

// Syncer is the Sync Queue service. All methods are safe under the
// process's single-writer event loop; the Syncer itself does not spawn
// concurrent dispatches for the same record (the repository's dispatch
// query enforces per-record exclusivity).
type Syncer struct {
	queueRepo  queue.Repository
	recordRepo store.Repository
	applier    Applier
	sink       ConflictSink
	cfg        Config
	log        logging.Logger
	now        func() time.Time
}

// NewSyncer wires a dispatcher.
func NewSyncer(queueRepo queue.Repository, recordRepo store.Repository,
	applier Applier, sink ConflictSink, cfg Config, log logging.Logger) *Syncer {
	return &Syncer{
		queueRepo:  queueRepo,
		recordRepo: recordRepo,
		applier:    applier,
		sink:       sink,
		cfg:        cfg,
		log:        log.With("component", "syncer"),
		now:        time.Now,
	}
}

// SetNow overrides the clock. Tests only.
func (s *Syncer) SetNow(now func() time.Time) { s.now = now }

// Enqueue appends a mutation to the durable queue. It never blocks on the
// network and succeeds while offline; delivery failures are only observable
// later as queue-entry state.
func (s *Syncer) Enqueue(ctx context.Context, action entity.Action, t entity.Type,
	recordID string, payload map[string]any) (string, error) {
	return s.enqueue(ctx, action, t, recordID, payload, false)
}

func (s *Syncer) enqueue(ctx context.Context, action entity.Action, t entity.Type,
	recordID string, payload map[string]any, hardDelete bool) (string, error) {

	if _, err := entity.Lookup(t); err != nil {
		return "", err
	}

	now := s.now().UTC()
	e := &models.SyncEntry{
		ID:          uuid.NewString(),
		Action:      action,
		EntityType:  t,
		RecordID:    recordID,
		Payload:     payload,
		HardDelete:  hardDelete,
		EnqueuedAt:  now,
		NextAttempt: now,
		Status:      models.EntryPending,
	}
	if err := s.queueRepo.Insert(ctx, e); err != nil {
		return "", fmt.Errorf("failed to enqueue: %w", err)
	}

	s.log.Debug(ctx, "enqueued", "entry_id", e.ID, "action", string(action),
		"entity", string(t), "record_id", recordID)
	return e.ID, nil
}

// Stage applies a mutation to the Local Record Store optimistically and
// enqueues it for delivery, in that order. This is the entry point the UI
// layer calls for every local edit.
func (s *Syncer) Stage(ctx context.Context, action entity.Action, t entity.Type,
	recordID string, payload map[string]any) (string, error) {

	if _, err := entity.Lookup(t); err != nil {
		return "", err
	}

	switch action {
	case entity.ActionDelete:
		if err := s.recordRepo.MarkDeleted(ctx, t, recordID); err != nil && !errors.Is(err, common.ErrNotFound) {
			return "", err
		}
	default:
		baseVersion := ""
		if existing, err := s.recordRepo.Get(ctx, t, recordID); err == nil {
			baseVersion = existing.BaseVersion
		}
		if err := s.recordRepo.Upsert(ctx, &models.Record{
			ID:          recordID,
			EntityType:  t,
			Payload:     payload,
			BaseVersion: baseVersion,
		}); err != nil {
			return "", err
		}
	}

	return s.Enqueue(ctx, action, t, recordID, payload)
}

// StageDelete marks the record deleted locally and enqueues the delete.
// By default the remote copy is soft-deleted; hard requests physical
// removal on the server.
func (s *Syncer) StageDelete(ctx context.Context, t entity.Type, recordID string, hard bool) (string, error) {
	if _, err := entity.Lookup(t); err != nil {
		return "", err
	}

	if err := s.recordRepo.MarkDeleted(ctx, t, recordID); err != nil && !errors.Is(err, common.ErrNotFound) {
		return "", err
	}

	return s.enqueue(ctx, entity.ActionDelete, t, recordID, nil, hard)
}

// DispatchNext attempts delivery of the oldest dispatchable entry. It
// reports whether an entry was dispatched. A dispatch that ends in a
// scheduled retry, a parked failure or a conflict handoff still counts as
// dispatched; only an empty (or fully blocked) queue returns false.
func (s *Syncer) DispatchNext(ctx context.Context) (bool, error) {
	e, err := s.queueRepo.NextDispatchable(ctx, s.now())
	if err != nil {
		return false, err
	}
	if e == nil {
		return false, nil
	}

	if err := s.queueRepo.MarkInFlight(ctx, e.ID); err != nil {
		return false, err
	}

	baseVersion := ""
	localData := e.Payload
	if rec, err := s.recordRepo.Get(ctx, e.EntityType, e.RecordID); err == nil {
		baseVersion = rec.BaseVersion
		if rec.Payload != nil {
			localData = rec.Payload
		}
	}

	res, applyErr := s.applier.Apply(ctx, e.Action, e.EntityType, e.RecordID, e.Payload, baseVersion, e.HardDelete)

	switch {
	case applyErr == nil:
		return true, s.completeDelivered(ctx, e, res)

	case isConflict(applyErr):
		return true, s.handOffConflict(ctx, e, applyErr, localData)

	case isHard(applyErr):
		s.log.Error(ctx, "entry failed with non-retriable error",
			"entry_id", e.ID, "error", applyErr.Error())
		return true, s.queueRepo.MarkFailed(ctx, e.ID, applyErr.Error())

	default:
		return true, s.scheduleRetry(ctx, e, applyErr)
	}
}

func (s *Syncer) completeDelivered(ctx context.Context, e *models.SyncEntry, res *gateway.Result) error {
	if res != nil && res.Version != "" {
		err := s.recordRepo.SetBaseVersion(ctx, e.EntityType, e.RecordID, res.Version)
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			return err
		}
	}
	if err := s.queueRepo.Purge(ctx, e.ID); err != nil {
		return err
	}
	s.log.Debug(ctx, "entry delivered", "entry_id", e.ID, "record_id", e.RecordID)
	return nil
}

func (s *Syncer) handOffConflict(ctx context.Context, e *models.SyncEntry, applyErr error, localData map[string]any) error {
	var conflictErr *gateway.ConflictError
	if !errors.As(applyErr, &conflictErr) {
		return applyErr
	}

	if _, err := s.sink.Observe(ctx, e.EntityType, e.RecordID,
		localData, conflictErr.ServerData, conflictErr.ServerVersion); err != nil {
		return err
	}

	// The entry is superseded by the conflict resolution flow; it is not
	// silently retried.
	return s.queueRepo.Purge(ctx, e.ID)
}

func (s *Syncer) scheduleRetry(ctx context.Context, e *models.SyncEntry, applyErr error) error {
	attempts := e.Attempts + 1
	if attempts >= s.cfg.MaxRetries {
		s.log.Error(ctx, "retry budget exceeded, parking entry",
			"entry_id", e.ID, "attempts", attempts, "error", applyErr.Error())
		return s.queueRepo.MarkFailed(ctx, e.ID,
			fmt.Sprintf("%s: %s", common.ErrRetriesExceeded.Error(), applyErr.Error()))
	}

	next := s.now().Add(s.backoffDelay(e.Attempts))
	s.log.Warn(ctx, "transient delivery failure, retry scheduled",
		"entry_id", e.ID, "attempts", attempts, "next_attempt", next, "error", applyErr.Error())
	return s.queueRepo.MarkRetry(ctx, e.ID, attempts, next, applyErr.Error())
}

// backoffDelay computes base × 2^attempts, capped at MaxDelay.
func (s *Syncer) backoffDelay(attempts int) time.Duration {
	b := retry.WithCappedDuration(s.cfg.MaxDelay, retry.NewExponential(s.cfg.BaseDelay))
	var d time.Duration
	for i := 0; i <= attempts; i++ {
		d, _ = b.Next()
	}
	return d
}

// Drain dispatches until nothing is ready. Called on reconnect and by the
// background loop.
func (s *Syncer) Drain(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		dispatched, err := s.DispatchNext(ctx)
		if err != nil {
			return err
		}
		if !dispatched {
			return nil
		}
	}
}

// Run drains the queue on a fixed interval until ctx is cancelled. The
// monitor additionally triggers immediate drains on reconnect.
func (s *Syncer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.DispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Drain(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Error(ctx, "drain failed", "error", err.Error())
			}
		}
	}
}

// RetryFailed is the user-triggered manual retry for a parked entry.
func (s *Syncer) RetryFailed(ctx context.Context, id string) error {
	return s.queueRepo.ResetFailed(ctx, id)
}

// Discard drops a parked failed entry for good.
func (s *Syncer) Discard(ctx context.Context, id string) error {
	return s.queueRepo.Discard(ctx, id)
}

// Cancel removes an entry that has not been dispatched yet.
func (s *Syncer) Cancel(ctx context.Context, id string) error {
	return s.queueRepo.Cancel(ctx, id)
}

// PendingCount is the user-visible backlog size.
func (s *Syncer) PendingCount(ctx context.Context) (int, error) {
	return s.queueRepo.CountPending(ctx)
}

// FailedEntries lists entries awaiting manual retry or discard.
func (s *Syncer) FailedEntries(ctx context.Context) ([]*models.SyncEntry, error) {
	return s.queueRepo.ListFailed(ctx)
}

// FailedCount is the number of parked entries shown next to the backlog.
func (s *Syncer) FailedCount(ctx context.Context) (int, error) {
	failed, err := s.queueRepo.ListFailed(ctx)
	if err != nil {
		return 0, err
	}
	return len(failed), nil
}

func isConflict(err error) bool {
	return errors.Is(err, common.ErrVersionConflict)
}

func isHard(err error) bool {
	return errors.Is(err, common.ErrUndefinedColumn) || errors.Is(err, common.ErrUnknownEntity)
}
