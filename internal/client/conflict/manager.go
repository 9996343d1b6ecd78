// Package conflict implements divergence detection and user-mediated
// resolution between local and remote copies of a record.
package conflict

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/villaprodiq/studiosync/internal/client/conflicts"
	"github.com/villaprodiq/studiosync/internal/client/models"
	"github.com/villaprodiq/studiosync/internal/client/queue"
	"github.com/villaprodiq/studiosync/internal/client/store"
	"github.com/villaprodiq/studiosync/internal/common"
	"github.com/villaprodiq/studiosync/internal/entity"
	"github.com/villaprodiq/studiosync/internal/logging"
)

// Enqueuer re-enqueues a mutation. Implemented by the sync dispatcher;
// declared here so the manager does not depend on it.
type Enqueuer interface {
	Enqueue(ctx context.Context, action entity.Action, t entity.Type, recordID string, payload map[string]any) (string, error)
}

// Manager detects, stores and resolves conflicts. It is constructed
// explicitly and injected into its consumers; there is no package-level
// instance.
type Manager struct {
	conflictRepo conflicts.Repository
	recordRepo   store.Repository
	queueRepo    queue.Repository
	enqueuer     Enqueuer
	log          logging.Logger
	now          func() time.Time
}

// NewManager wires a Manager. The enqueuer is set separately via
// SetEnqueuer because the dispatcher and the manager reference each other.
func NewManager(conflictRepo conflicts.Repository, recordRepo store.Repository,
	queueRepo queue.Repository, log logging.Logger) *Manager {
	return &Manager{
		conflictRepo: conflictRepo,
		recordRepo:   recordRepo,
		queueRepo:    queueRepo,
		log:          log.With("component", "conflict_manager"),
		now:          time.Now,
	}
}

// SetEnqueuer installs the dispatcher used by "accept local" resolutions.
func (m *Manager) SetEnqueuer(e Enqueuer) { m.enqueuer = e }

// SetNow overrides the clock. Tests only.
func (m *Manager) SetNow(now func() time.Time) { m.now = now }

// Observe is called when a sync attempt reported a version mismatch. It
// creates and persists a Conflict Record only when the server payload
// differs materially from the local payload; a divergence confined to
// server-managed metadata silently adopts the server's version token and
// returns nil.
func (m *Manager) Observe(ctx context.Context, t entity.Type, recordID string,
	localData map[string]any, serverData map[string]any, serverVersion string) (*models.Conflict, error) {

	if !materiallyDifferent(t, localData, serverData) {
		if err := m.adoptVersion(ctx, t, recordID, serverData, serverVersion); err != nil {
			return nil, err
		}
		m.log.Debug(ctx, "metadata-only divergence, no conflict raised",
			"entity", string(t), "record_id", recordID)
		return nil, nil
	}

	c := &models.Conflict{
		ID:            uuid.NewString(),
		RecordID:      recordID,
		EntityType:    t,
		LocalData:     localData,
		ServerData:    serverData,
		ServerVersion: serverVersion,
		DetectedAt:    m.now().UTC(),
		Status:        models.ConflictPending,
	}
	if err := m.conflictRepo.Insert(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to store conflict: %w", err)
	}

	m.log.Info(ctx, "conflict detected",
		"conflict_id", c.ID, "entity", string(t), "record_id", recordID)
	return c, nil
}

// Pending returns all unresolved conflicts, most recent first.
func (m *Manager) Pending(ctx context.Context) ([]*models.Conflict, error) {
	return m.conflictRepo.ListPending(ctx)
}

// Resolve applies one of the two resolutions. Resolving an unknown or
// already-resolved conflict is a no-op, so the UI may safely retry.
func (m *Manager) Resolve(ctx context.Context, id string, res models.Resolution) error {
	c, err := m.conflictRepo.GetByID(ctx, id)
	if errors.Is(err, common.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if c.Status == models.ConflictResolved {
		return nil
	}

	switch res {
	case models.ResolutionLocal:
		// Re-push the local payload; it will overwrite remote state on the
		// next successful sync.
		if m.enqueuer == nil {
			return fmt.Errorf("no enqueuer configured: %w", common.ErrInternal)
		}
		if _, err := m.enqueuer.Enqueue(ctx, entity.ActionUpsert, c.EntityType, c.RecordID, c.LocalData); err != nil {
			return fmt.Errorf("failed to re-enqueue local payload: %w", err)
		}

	case models.ResolutionServer:
		// Drop the queued local mutation and adopt the server copy.
		if err := m.queueRepo.DeletePendingForRecord(ctx, c.EntityType, c.RecordID); err != nil {
			return err
		}
		if err := m.adoptVersion(ctx, c.EntityType, c.RecordID, c.ServerData, c.ServerVersion); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unknown resolution %q: %w", res, common.ErrInternal)
	}

	if _, err := m.conflictRepo.MarkResolved(ctx, id, res); err != nil {
		return err
	}
	m.log.Info(ctx, "conflict resolved", "conflict_id", id, "resolution", string(res))
	return nil
}

func (m *Manager) adoptVersion(ctx context.Context, t entity.Type, recordID string,
	serverData map[string]any, serverVersion string) error {
	err := m.recordRepo.Replace(ctx, t, recordID, serverData, serverVersion)
	if errors.Is(err, common.ErrNotFound) {
		// Record never existed locally (e.g. conflict on a record created
		// on another device); adopt the server copy wholesale.
		return m.recordRepo.Upsert(ctx, &models.Record{
			ID:          recordID,
			EntityType:  t,
			Payload:     serverData,
			BaseVersion: serverVersion,
		})
	}
	return err
}

// materiallyDifferent compares business-relevant payload fields. The two
// sides arrive in different shapes: the local payload is what the UI staged
// (camelCase keys, business fields only), the server payload is the full
// stored row (every column, snake_case). Both are projected onto the
// entity's current schema first, which snake-cases and renames keys, drops
// anything outside the field allow-list and with it the server-managed
// metadata. Comparison then runs over the fields the local mutation
// carries: the server write path only sets the columns present in a
// payload, so a server value for a column outside the local edit cannot
// clash with it.
func materiallyDifferent(t entity.Type, local, server map[string]any) bool {
	d, err := entity.Lookup(t)
	if err != nil {
		return true
	}
	current := d.Schemas[0]
	l := entity.Shape(normalize(local), current)
	s := entity.Shape(normalize(server), current)

	for k, lv := range l {
		sv, ok := s[k]
		if !ok || !reflect.DeepEqual(lv, sv) {
			return true
		}
	}
	return false
}

func normalize(payload map[string]any) map[string]any {
	data, err := json.Marshal(payload)
	if err != nil {
		return payload
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return payload
	}
	for k := range out {
		if entity.IsVolatile(k) {
			delete(out, k)
		}
	}
	return out
}
