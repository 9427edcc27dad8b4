// Package storage implements the durable-storage collaborator
// (pkg/storage.Storage) against SQLite, using mattn/go-sqlite3 and
// rubenv/sql-migrate the way the teacher framework's internal/db
// package wires them. Entity tables are created lazily per entity type
// since their shape is declared by the generator's schema, out of this
// core's scope; the framework's own fixed tables (raw events, the
// dynamic contract registry, checkpoints) are migrated up front.
package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/chainindexor/core/pkg/config"
)

// Open opens (and configures) a SQLite database per cfg, the way
// internal/db.NewSQLiteDBFromConfig does for the single-chain framework.
func Open(cfg config.DatabaseConfig) (*sql.DB, error) {
	foreignKeys := "off"
	if cfg.EnableForeignKeys {
		foreignKeys = "on"
	}

	connStr := fmt.Sprintf(
		"file:%s?_txlock=immediate&_foreign_keys=%s&_journal_mode=%s&_busy_timeout=%d",
		cfg.Path,
		foreignKeys,
		cfg.JournalMode,
		cfg.BusyTimeout,
	)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)

	pragmas := []string{
		fmt.Sprintf("PRAGMA synchronous = %s", cfg.Synchronous),
		fmt.Sprintf("PRAGMA cache_size = %d", cfg.CacheSize),
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("storage: set pragma %q: %w", pragma, err)
		}
	}

	return db, nil
}
