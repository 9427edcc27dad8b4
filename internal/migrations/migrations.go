// Package migrations embeds and runs the framework's own fixed-table
// schema (checkpoints, raw events, the dynamic contract registry).
// Entity tables are generator-owned and created lazily by
// internal/storage instead of migrated here.
package migrations

import (
	_ "embed"
	"database/sql"

	migrate "github.com/rubenv/sql-migrate"

	"github.com/chainindexor/core/internal/db"
	"github.com/chainindexor/core/internal/logger"
)

//go:embed 001_checkpoints.sql
var mig001 string

//go:embed 002_raw_events.sql
var mig002 string

//go:embed 003_dynamic_contract_registry.sql
var mig003 string

// RunMigrations applies the framework's fixed-table migrations against
// an already-open database handle.
func RunMigrations(log *logger.Logger, sqlDB *sql.DB) error {
	migs := []db.Migration{
		{ID: "001_checkpoints.sql", SQL: mig001},
		{ID: "002_raw_events.sql", SQL: mig002},
		{ID: "003_dynamic_contract_registry.sql", SQL: mig003},
	}
	return db.RunMigrationsDBExtended(log, sqlDB, migs, migrate.Up, db.NoLimitMigrations)
}
