// Package gateway translates sync-queue entries into remote operations:
// entity-specific payload shaping, the ordered schema fallback chain, and
// classification of the backend's answer into success, conflict, hard
// shape error, or transient failure.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/villaprodiq/studiosync/internal/client/platform"
	"github.com/villaprodiq/studiosync/internal/common"
	"github.com/villaprodiq/studiosync/internal/entity"
	"github.com/villaprodiq/studiosync/internal/logging"
)

// Result is a successful remote application: the stored payload and the
// server's new version token for the record.
type Result struct {
	Data    map[string]any
	Version string
}

// ConflictError reports that the remote record's version token no longer
// matches the base version the local mutation was derived from. It carries
// the server's current copy for conflict materialization.
type ConflictError struct {
	ServerData    map[string]any
	ServerVersion string
}

func (e *ConflictError) Error() string { return "version conflict" }

func (e *ConflictError) Unwrap() error { return common.ErrVersionConflict }

// Gateway applies mutations through the platform bridge. It performs no
// local side effects; updating local state on success is the dispatcher's
// responsibility.
type Gateway struct {
	bridge  platform.Bridge
	log     logging.Logger
	timeout time.Duration
}

// New returns a Gateway. timeout bounds each individual remote call.
func New(bridge platform.Bridge, log logging.Logger, timeout time.Duration) *Gateway {
	return &Gateway{bridge: bridge, log: log.With("component", "gateway"), timeout: timeout}
}

// Apply sends one mutation. The payload is shaped per the entity's newest
// schema first; when the backend rejects a shape with an undefined-column
// class error, the next (older) schema is tried. The first accepted shape
// wins. Exhausting the chain is a hard error wrapping
// common.ErrUndefinedColumn and must not be retried; any error that is not a
// *ConflictError and does not wrap common.ErrUndefinedColumn or
// common.ErrUnknownEntity is transient.
func (g *Gateway) Apply(ctx context.Context, action entity.Action, t entity.Type,
	recordID string, payload map[string]any, baseVersion string, hardDelete bool) (*Result, error) {

	desc, err := entity.Lookup(t)
	if err != nil {
		return nil, err
	}

	if action == entity.ActionDelete {
		// Deletion needs no field shaping: the backend sets the soft-delete
		// marker itself unless hard deletion was requested.
		return g.send(ctx, platform.Request{
			Action:      action,
			Entity:      t,
			Data:        map[string]any{"id": recordID},
			BaseVersion: baseVersion,
			HardDelete:  hardDelete,
		})
	}

	for i, schema := range desc.Schemas {
		shaped := entity.Shape(payload, schema)
		shaped["id"] = recordID

		res, err := g.send(ctx, platform.Request{
			Action:      action,
			Entity:      t,
			Data:        shaped,
			BaseVersion: baseVersion,
		})
		if err == nil {
			return res, nil
		}
		if isUndefinedColumn(err) && i < len(desc.Schemas)-1 {
			g.log.Warn(ctx, "schema shape rejected, trying older shape",
				"entity", string(t), "rejected_version", schema.Version)
			continue
		}
		return nil, err
	}

	return nil, fmt.Errorf("all schema shapes rejected for %s: %w", t, common.ErrUndefinedColumn)
}

func (g *Gateway) send(ctx context.Context, req platform.Request) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.bridge.SendRemote(ctx, req)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.Success:
		return &Result{Data: resp.Data, Version: resp.Version}, nil
	case resp.Conflict:
		return nil, &ConflictError{ServerData: resp.ServerData, ServerVersion: resp.ServerVersion}
	case resp.ErrorClass == platform.ErrorClassUndefinedColumn:
		return nil, fmt.Errorf("%s: %w", resp.Error, common.ErrUndefinedColumn)
	case resp.ErrorClass == platform.ErrorClassUnknownEntity:
		return nil, fmt.Errorf("%s: %w", resp.Error, common.ErrUnknownEntity)
	default:
		return nil, fmt.Errorf("remote rejected request: %s", resp.Error)
	}
}

func isUndefinedColumn(err error) bool {
	return errors.Is(err, common.ErrUndefinedColumn)
}
