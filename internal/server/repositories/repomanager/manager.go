package repomanager

import (
	"context"
	"database/sql"

	"github.com/villaprodiq/studiosync/internal/dbx"
	"github.com/villaprodiq/studiosync/internal/server/repositories/ledger"
	"github.com/villaprodiq/studiosync/internal/server/repositories/records"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Records(db dbx.DBTX) records.Repository
	Ledger(db dbx.DBTX) ledger.Repository
}
