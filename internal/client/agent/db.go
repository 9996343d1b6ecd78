package agent

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/villaprodiq/studiosync/internal/client/conflicts"
	"github.com/villaprodiq/studiosync/internal/client/migrations"
	"github.com/villaprodiq/studiosync/internal/client/queue"
	"github.com/villaprodiq/studiosync/internal/client/store"
)

// Repositories bundles the agent's local persistence layers, all sharing one
// SQLite handle.
type Repositories struct {
	Records   store.Repository
	Queue     queue.Repository
	Conflicts conflicts.Repository
	DB        *sql.DB
}

// RunMigrations applies the embedded goose migrations to db.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	return goose.UpContext(ctx, db, ".")
}

// InitDatabase opens (creating if needed) the local SQLite database at dsn,
// applies migrations and returns the repository set.
func InitDatabase(ctx context.Context, dsn string) (*Repositories, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if err := RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	repos := &Repositories{
		Records:   store.NewSQLiteRepository(db),
		Queue:     queue.NewSQLiteRepository(db),
		Conflicts: conflicts.NewSQLiteRepository(db),
		DB:        db,
	}

	// Entries left in flight by a crashed run go back to pending, or they
	// would block their record key forever.
	if _, err := repos.Queue.RecoverInFlight(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return repos, nil
}
