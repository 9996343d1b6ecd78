package store

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
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Upsert(ctx context.Context, rec *models.Record) error {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	query := `INSERT INTO records (id, entity_type, payload, base_version, deleted, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id, entity_type) DO UPDATE SET
				payload = excluded.payload,
				base_version = excluded.base_version,
				deleted = excluded.deleted,
				updated_at = excluded.updated_at
	`
	_, err = r.db.ExecContext(ctx, query,
		rec.ID, string(rec.EntityType), string(payload), rec.BaseVersion, rec.Deleted,
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to upsert record: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, t entity.Type, id string) (*models.Record, error) {
	query := `SELECT id, entity_type, payload, base_version, deleted, updated_at
			FROM records WHERE entity_type=? AND id=?`
	row := r.db.QueryRowContext(ctx, query, string(t), id)

	rec, err := scanRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select record: %w", err)
	}
	return rec, nil
}

func (r *SQLiteRepository) List(ctx context.Context, t entity.Type) ([]*models.Record, error) {
	query := `SELECT id, entity_type, payload, base_version, deleted, updated_at
			FROM records WHERE entity_type=? AND deleted=0 ORDER BY updated_at`
	rows, err := r.db.QueryContext(ctx, query, string(t))
	if err != nil {
		return nil, fmt.Errorf("failed to select records: %w", err)
	}
	defer rows.Close()

	var result []*models.Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) SetBaseVersion(ctx context.Context, t entity.Type, id, version string) error {
	query := `UPDATE records SET base_version=? WHERE entity_type=? AND id=?`
	res, err := r.db.ExecContext(ctx, query, version, string(t), id)
	if err != nil {
		return fmt.Errorf("failed to update base version: %w", err)
	}
	return requireOneRow(res)
}

func (r *SQLiteRepository) MarkDeleted(ctx context.Context, t entity.Type, id string) error {
	query := `UPDATE records SET deleted=1 WHERE entity_type=? AND id=? AND deleted=0`
	res, err := r.db.ExecContext(ctx, query, string(t), id)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return requireOneRow(res)
}

func (r *SQLiteRepository) Replace(ctx context.Context, t entity.Type, id string, payload map[string]any, version string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	query := `UPDATE records SET payload=?, base_version=?, updated_at=? WHERE entity_type=? AND id=?`
	res, err := r.db.ExecContext(ctx, query,
		string(data), version, time.Now().UTC().Format(time.RFC3339Nano), string(t), id)
	if err != nil {
		return fmt.Errorf("failed to replace record: %w", err)
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

func scanRecord(scan func(dest ...any) error) (*models.Record, error) {
	var (
		rec       models.Record
		et        string
		payload   string
		updatedAt string
	)
	if err := scan(&rec.ID, &et, &payload, &rec.BaseVersion, &rec.Deleted, &updatedAt); err != nil {
		return nil, err
	}
	rec.EntityType = entity.Type(et)
	if err := json.Unmarshal([]byte(payload), &rec.Payload); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	if ts, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		rec.UpdatedAt = ts
	}
	return &rec, nil
}
