// Package services holds the server's business layer: the sync apply/feed
// service and the reversible client-account ledger. Services own transaction
// boundaries (dbx.WithTx) and leave SQL to the repositories.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/villaprodiq/studiosync/internal/common"
	"github.com/villaprodiq/studiosync/internal/dbx"
	"github.com/villaprodiq/studiosync/internal/entity"
	"github.com/villaprodiq/studiosync/internal/logging"
	"github.com/villaprodiq/studiosync/internal/server/models"
	"github.com/villaprodiq/studiosync/internal/server/repositories/records"
	"github.com/villaprodiq/studiosync/internal/server/repositories/repomanager"
)

// versionLayout is a fixed-width RFC3339 form. time.RFC3339Nano trims
// trailing zeros, which breaks the lexicographic "version > since" queries;
// this layout never does.
const versionLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ApplyRequest is one decoded sync mutation.
type ApplyRequest struct {
	Action      entity.Action
	Entity      entity.Type
	Data        models.Row
	BaseVersion string
	HardDelete  bool
}

// ApplyResult carries the stored row and its newly assigned version token.
type ApplyResult struct {
	Data    models.Row
	Version string
}

// ConflictError reports a version-token mismatch together with the server's
// copy, so the client can open a conflict record without a second round trip.
type ConflictError struct {
	ServerData    models.Row
	ServerVersion string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict, server at %s", e.ServerVersion)
}

func (e *ConflictError) Unwrap() error { return common.ErrVersionConflict }

// SyncService applies agent mutations to the entity tables and serves the
// changed-rows feed.
type SyncService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	log         logging.Logger
	now         func() time.Time
}

func NewSyncService(db *sql.DB, rm repomanager.RepositoryManager, log logging.Logger) *SyncService {
	return &SyncService{
		db:          db,
		repomanager: rm,
		log:         log.With("component", "sync_service"),
		now:         time.Now,
	}
}

// SetNow overrides the clock. Tests only.
func (s *SyncService) SetNow(now func() time.Time) { s.now = now }

// Apply runs one mutation atomically. Token comparison and the write happen
// in the same transaction, so a concurrent edit either precedes this apply
// entirely or conflicts it.
func (s *SyncService) Apply(ctx context.Context, req *ApplyRequest) (*ApplyResult, error) {
	desc, err := entity.Lookup(req.Entity)
	if err != nil {
		return nil, err
	}

	id, _ := req.Data["id"].(string)
	if id == "" {
		return nil, fmt.Errorf("missing record id: %w", common.ErrInternal)
	}

	token := s.now().UTC().Format(versionLayout)

	var result *ApplyResult
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Records(tx)

		if req.Action == entity.ActionDelete {
			res, err := s.applyDelete(ctx, repo, desc.Table, id, req, token)
			result = res
			return err
		}

		current, curVersion, err := repo.Fetch(ctx, desc.Table, id)
		switch {
		case errors.Is(err, common.ErrNotFound):
			if err := repo.Insert(ctx, desc.Table, req.Data, token); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			if req.BaseVersion != curVersion {
				return &ConflictError{ServerData: current, ServerVersion: curVersion}
			}
			if err := repo.Update(ctx, desc.Table, id, req.Data, token, curVersion); err != nil {
				return err
			}
		}

		stored, _, err := repo.Fetch(ctx, desc.Table, id)
		if err != nil {
			return err
		}
		result = &ApplyResult{Data: stored, Version: token}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug(ctx, "mutation applied",
		"entity", string(req.Entity), "action", string(req.Action), "id", id, "version", token)
	return result, nil
}

func (s *SyncService) applyDelete(ctx context.Context, repo records.Repository,
	table, id string, req *ApplyRequest, token string) (*ApplyResult, error) {
	if req.HardDelete {
		if err := repo.HardDelete(ctx, table, id); err != nil {
			return nil, err
		}
		return &ApplyResult{Version: token}, nil
	}

	_, curVersion, err := repo.Fetch(ctx, table, id)
	if errors.Is(err, common.ErrNotFound) {
		// Deleting a row the server never saw is a no-op, not an error.
		return &ApplyResult{Version: token}, nil
	}
	if err != nil {
		return nil, err
	}

	expected := req.BaseVersion
	if expected == "" {
		expected = curVersion
	}
	if err := repo.SoftDelete(ctx, table, id, token, expected); err != nil {
		if errors.Is(err, common.ErrVersionConflict) {
			current, version, ferr := repo.Fetch(ctx, table, id)
			if ferr != nil {
				return nil, err
			}
			return nil, &ConflictError{ServerData: current, ServerVersion: version}
		}
		return nil, err
	}
	return &ApplyResult{Version: token}, nil
}

// ListUpdated returns rows of one entity changed after the given version
// token, oldest first. An empty since returns everything.
func (s *SyncService) ListUpdated(ctx context.Context, t entity.Type, since string) ([]models.Row, error) {
	table, err := entity.Table(t)
	if err != nil {
		return nil, err
	}
	return s.repomanager.Records(s.db).SelectUpdated(ctx, table, since)
}
