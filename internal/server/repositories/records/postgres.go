// Package records provides the PostgreSQL-backed storage behind the sync
// endpoint. Entity tables share sync metadata columns (id, version, deleted)
// but otherwise differ, so statements are built from the payload's column
// set; Postgres itself rejects columns a deployment does not have yet, which
// is what drives the client's schema fallback chain.
package records

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/villaprodiq/studiosync/internal/common"
	"github.com/villaprodiq/studiosync/internal/dbx"
	"github.com/villaprodiq/studiosync/internal/server/models"
)

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

var identRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

const (
	pgUndefinedColumn = "42703"
	pgUndefinedTable  = "42P01"
)

// columnNames validates and orders the payload's keys. Identifiers come from
// client payloads, so anything outside the snake_case grammar is refused
// before it can reach a statement.
func columnNames(data models.Row) ([]string, error) {
	cols := make([]string, 0, len(data))
	for k := range data {
		if !identRe.MatchString(k) {
			return nil, fmt.Errorf("column %q: %w", k, common.ErrUndefinedColumn)
		}
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols, nil
}

// mapPgError translates Postgres error codes into the domain sentinels the
// sync service reacts to.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUndefinedColumn:
			return fmt.Errorf("%s: %w", pgErr.Message, common.ErrUndefinedColumn)
		case pgUndefinedTable:
			return fmt.Errorf("%s: %w", pgErr.Message, common.ErrUnknownEntity)
		}
	}
	return err
}

func (r *PostgresRepository) Fetch(ctx context.Context, table, id string) (models.Row, string, error) {
	query := fmt.Sprintf(`SELECT * FROM %s WHERE id=$1`, table)
	rows, err := r.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, "", mapPgError(err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, "", err
		}
		return nil, "", common.ErrNotFound
	}

	row, err := scanRow(rows)
	if err != nil {
		return nil, "", err
	}
	version, _ := row["version"].(string)
	return row, version, rows.Err()
}

func (r *PostgresRepository) Insert(ctx context.Context, table string, data models.Row, version string) error {
	cols, err := columnNames(data)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(cols)+1)
	placeholders := make([]string, 0, len(cols)+1)
	args := make([]any, 0, len(cols)+1)
	for _, c := range cols {
		names = append(names, c)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)+1))
		args = append(args, data[c])
	}
	names = append(names, "version")
	placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)+1))
	args = append(args, version)

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		table, strings.Join(names, ", "), strings.Join(placeholders, ", "))

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("db error: %w", mapPgError(err))
	}
	return nil
}

func (r *PostgresRepository) Update(ctx context.Context, table, id string, data models.Row, version, expected string) error {
	cols, err := columnNames(data)
	if err != nil {
		return err
	}

	sets := make([]string, 0, len(cols)+1)
	args := make([]any, 0, len(cols)+3)
	for _, c := range cols {
		if c == "id" {
			continue
		}
		args = append(args, data[c])
		sets = append(sets, fmt.Sprintf("%s = $%d", c, len(args)))
	}
	args = append(args, version)
	sets = append(sets, fmt.Sprintf("version = $%d", len(args)))

	args = append(args, id, expected)
	query := fmt.Sprintf(`UPDATE %s SET %s WHERE id = $%d AND version = $%d`,
		table, strings.Join(sets, ", "), len(args)-1, len(args))

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", mapPgError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return common.ErrVersionConflict
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}

func (r *PostgresRepository) SoftDelete(ctx context.Context, table, id, version, expected string) error {
	query := fmt.Sprintf(`UPDATE %s SET deleted = TRUE, version = $1 WHERE id = $2 AND version = $3`, table)
	res, err := r.db.ExecContext(ctx, query, version, id, expected)
	if err != nil {
		return fmt.Errorf("db error: %w", mapPgError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return common.ErrVersionConflict
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}

func (r *PostgresRepository) HardDelete(ctx context.Context, table, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table)
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("db error: %w", mapPgError(err))
	}
	return nil
}

func (r *PostgresRepository) SelectUpdated(ctx context.Context, table, since string) ([]models.Row, error) {
	query := fmt.Sprintf(`SELECT * FROM %s WHERE version > $1 ORDER BY version`, table)
	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to select rows: %w", mapPgError(err))
	}
	defer rows.Close()

	var result []models.Row
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// rowScanner is the slice of *sql.Rows needed to scan one generic row.
type rowScanner interface {
	Columns() ([]string, error)
	Scan(dest ...any) error
}

// scanRow reads the current row into a column-keyed map, normalizing []byte
// values to string so JSON encoding does not base64 them.
func scanRow(rows rowScanner) (models.Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}

	row := make(models.Row, len(cols))
	for i, c := range cols {
		switch v := values[i].(type) {
		case []byte:
			row[c] = string(v)
		default:
			row[c] = v
		}
	}
	return row, nil
}
