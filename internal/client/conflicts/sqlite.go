package conflicts

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

const conflictColumns = `id, record_id, entity_type, local_data, server_data, server_version, detected_at, status, resolution, resolved_at`

func (r *SQLiteRepository) Insert(ctx context.Context, c *models.Conflict) error {
	local, err := json.Marshal(c.LocalData)
	if err != nil {
		return fmt.Errorf("failed to encode local data: %w", err)
	}
	server, err := json.Marshal(c.ServerData)
	if err != nil {
		return fmt.Errorf("failed to encode server data: %w", err)
	}

	query := `INSERT INTO conflicts (` + conflictColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', NULL)`
	_, err = r.db.ExecContext(ctx, query,
		c.ID, c.RecordID, string(c.EntityType), string(local), string(server),
		c.ServerVersion, c.DetectedAt.UnixNano(), string(c.Status))
	if err != nil {
		return fmt.Errorf("failed to insert conflict: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.Conflict, error) {
	query := `SELECT ` + conflictColumns + ` FROM conflicts WHERE id=?`
	row := r.db.QueryRowContext(ctx, query, id)

	c, err := scanConflict(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select conflict: %w", err)
	}
	return c, nil
}

func (r *SQLiteRepository) ListPending(ctx context.Context) ([]*models.Conflict, error) {
	query := `SELECT ` + conflictColumns + ` FROM conflicts
			WHERE status='pending' ORDER BY detected_at DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select conflicts: %w", err)
	}
	defer rows.Close()

	var result []*models.Conflict
	for rows.Next() {
		c, err := scanConflict(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) MarkResolved(ctx context.Context, id string, res models.Resolution) (int, error) {
	query := `UPDATE conflicts SET status='resolved', resolution=?, resolved_at=?
			WHERE id=? AND status='pending'`
	result, err := r.db.ExecContext(ctx, query,
		string(res), time.Now().UTC().UnixNano(), id)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve conflict: %w", err)
	}
	ra, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(ra), nil
}

func scanConflict(scan func(dest ...any) error) (*models.Conflict, error) {
	var (
		c          models.Conflict
		et         string
		local      string
		server     string
		detectedAt int64
		status     string
		resolution string
		resolvedAt sql.NullInt64
	)
	if err := scan(&c.ID, &c.RecordID, &et, &local, &server,
		&c.ServerVersion, &detectedAt, &status, &resolution, &resolvedAt); err != nil {
		return nil, err
	}
	c.EntityType = entity.Type(et)
	c.Status = models.ConflictStatus(status)
	c.Resolution = models.Resolution(resolution)
	c.DetectedAt = time.Unix(0, detectedAt).UTC()
	if resolvedAt.Valid {
		ts := time.Unix(0, resolvedAt.Int64).UTC()
		c.ResolvedAt = &ts
	}
	if err := json.Unmarshal([]byte(local), &c.LocalData); err != nil {
		return nil, fmt.Errorf("failed to decode local data: %w", err)
	}
	if err := json.Unmarshal([]byte(server), &c.ServerData); err != nil {
		return nil, fmt.Errorf("failed to decode server data: %w", err)
	}
	return &c, nil
}
