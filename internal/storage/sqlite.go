package storage

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/russross/meddler"

	"github.com/chainindexor/core/internal/logger"
	"github.com/chainindexor/core/pkg/entity"
	"github.com/chainindexor/core/pkg/storage"
)

// SQLiteStorage implements pkg/storage.Storage against a SQLite
// database, the way internal/db backs the single-chain framework.
type SQLiteStorage struct {
	db  *sql.DB
	log *logger.Logger
}

// New wraps an already-opened, already-migrated database handle.
func New(db *sql.DB, log *logger.Logger) *SQLiteStorage {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &SQLiteStorage{db: db, log: log.WithComponent("storage")}
}

func (s *SQLiteStorage) WithTx(ctx context.Context, fn func(storage.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin tx: %w", err)
	}

	sqlTx := &tx_{tx: tx, log: s.log}
	if err := fn(sqlTx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Errorw("rollback failed", "error", rbErr, "original_error", err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit tx: %w", err)
	}
	return nil
}

// tx_ implements pkg/storage.Tx for one transaction. The trailing
// underscore avoids colliding with database/sql.Tx while keeping the
// name short at call sites within this file.
type tx_ struct {
	tx  *sql.Tx
	log *logger.Logger
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func entityTableName(entityType string) (string, error) {
	if !identifierPattern.MatchString(entityType) {
		return "", fmt.Errorf("storage: invalid entity type name %q", entityType)
	}
	return "entities_" + entityType, nil
}

func (t *tx_) ensureEntityTable(ctx context.Context, table string) error {
	_, err := t.tx.ExecContext(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (id TEXT PRIMARY KEY, data TEXT NOT NULL)`, table))
	if err != nil {
		return fmt.Errorf("storage: ensure entity table %s: %w", table, err)
	}
	return nil
}

func (t *tx_) BatchRead(ctx context.Context, entityType string, ids []string) ([]storage.Row, error) {
	table, err := entityTableName(entityType)
	if err != nil {
		return nil, err
	}
	if err := t.ensureEntityTable(ctx, table); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	query := fmt.Sprintf("SELECT id, data FROM %s WHERE id IN (%s)", table, placeholders)
	var rows []entityRow
	if err := meddler.QueryAll(t.tx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("storage: batch read %s: %w", entityType, err)
	}

	out := make([]storage.Row, 0, len(rows))
	for _, r := range rows {
		out = append(out, storage.Row{ID: r.ID, Value: r.Data})
	}
	return out, nil
}

func (t *tx_) BatchUpsert(ctx context.Context, entityType string, rows []storage.Row) error {
	table, err := entityTableName(entityType)
	if err != nil {
		return err
	}
	if err := t.ensureEntityTable(ctx, table); err != nil {
		return err
	}

	stmt, err := t.tx.PrepareContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (id, data) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET data = excluded.data", table))
	if err != nil {
		return fmt.Errorf("storage: prepare upsert %s: %w", entityType, err)
	}
	defer stmt.Close()

	for _, row := range rows {
		encoded, err := (JSONMeddler{}).PreWrite(row.Value)
		if err != nil {
			return fmt.Errorf("storage: encode %s/%s: %w", entityType, row.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, row.ID, encoded); err != nil {
			return fmt.Errorf("storage: upsert %s/%s: %w", entityType, row.ID, err)
		}
	}
	return nil
}

func (t *tx_) BatchDelete(ctx context.Context, entityType string, ids []string) error {
	table, err := entityTableName(entityType)
	if err != nil {
		return err
	}
	if err := t.ensureEntityTable(ctx, table); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE id IN (%s)", table, placeholders)
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("storage: batch delete %s: %w", entityType, err)
	}
	return nil
}

func (t *tx_) BatchSetRawEvents(ctx context.Context, records []entity.RawEventRecord) error {
	stmt, err := t.tx.PrepareContext(ctx,
		`INSERT INTO raw_events (
			chain_id, event_id, block_number, block_timestamp, block_hash,
			tx_hash, tx_index, log_index, contract_address, event_name, raw_params_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chain_id, event_id) DO UPDATE SET
			block_number = excluded.block_number,
			block_timestamp = excluded.block_timestamp,
			block_hash = excluded.block_hash,
			tx_hash = excluded.tx_hash,
			tx_index = excluded.tx_index,
			log_index = excluded.log_index,
			contract_address = excluded.contract_address,
			event_name = excluded.event_name,
			raw_params_json = excluded.raw_params_json`)
	if err != nil {
		return fmt.Errorf("storage: prepare set raw events: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		row := rawEventRowFrom(rec)
		_, err := stmt.ExecContext(ctx,
			row.ChainID, row.EventID, row.BlockNumber, row.BlockTimestamp, row.BlockHash,
			row.TxHash, row.TxIndex, row.LogIndex, row.ContractAddress, row.EventName, row.RawParamsJSON)
		if err != nil {
			return fmt.Errorf("storage: set raw event %d/%s: %w", rec.ChainID, rec.EventID, err)
		}
	}
	return nil
}

func (t *tx_) BatchDeleteRawEvents(ctx context.Context, keys []storage.RawEventKey) error {
	stmt, err := t.tx.PrepareContext(ctx, "DELETE FROM raw_events WHERE chain_id = ? AND event_id = ?")
	if err != nil {
		return fmt.Errorf("storage: prepare delete raw events: %w", err)
	}
	defer stmt.Close()
	for _, k := range keys {
		if _, err := stmt.ExecContext(ctx, k.ChainID, k.EventID); err != nil {
			return fmt.Errorf("storage: delete raw event %d/%s: %w", k.ChainID, k.EventID, err)
		}
	}
	return nil
}

func (t *tx_) LatestProcessedBlock(ctx context.Context, chainID uint64) (uint64, bool, error) {
	var row checkpointRow
	err := meddler.QueryRow(t.tx, &row, "SELECT chain_id, last_processed_block FROM checkpoints WHERE chain_id = ?", chainID)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("storage: latest processed block for chain %d: %w", chainID, err)
	}
	return row.LastProcessedBlock, true, nil
}

func (t *tx_) SetLatestProcessedBlock(ctx context.Context, chainID uint64, block uint64) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO checkpoints (chain_id, last_processed_block) VALUES (?, ?)
		 ON CONFLICT(chain_id) DO UPDATE SET last_processed_block = excluded.last_processed_block`,
		chainID, block)
	if err != nil {
		return fmt.Errorf("storage: set latest processed block for chain %d: %w", chainID, err)
	}
	return nil
}

func (t *tx_) BatchSetDynamicContracts(ctx context.Context, regs []entity.DynamicContractRegistration) error {
	stmt, err := t.tx.PrepareContext(ctx,
		`INSERT INTO dynamic_contract_registry (chain_id, contract_address, contract_type, registering_event_id)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(chain_id, contract_address) DO UPDATE SET
		   contract_type = excluded.contract_type,
		   registering_event_id = excluded.registering_event_id`)
	if err != nil {
		return fmt.Errorf("storage: prepare set dynamic contracts: %w", err)
	}
	defer stmt.Close()

	for _, reg := range regs {
		if _, err := stmt.ExecContext(ctx, reg.ChainID, reg.ContractAddress, reg.ContractType, reg.RegisteringEventID); err != nil {
			return fmt.Errorf("storage: set dynamic contract %d/%s: %w", reg.ChainID, reg.ContractAddress, err)
		}
	}
	return nil
}

func (t *tx_) BatchDeleteDynamicContracts(ctx context.Context, keys []storage.DynamicContractKey) error {
	stmt, err := t.tx.PrepareContext(ctx, "DELETE FROM dynamic_contract_registry WHERE chain_id = ? AND contract_address = ?")
	if err != nil {
		return fmt.Errorf("storage: prepare delete dynamic contracts: %w", err)
	}
	defer stmt.Close()
	for _, k := range keys {
		if _, err := stmt.ExecContext(ctx, k.ChainID, k.Address); err != nil {
			return fmt.Errorf("storage: delete dynamic contract %d/%s: %w", k.ChainID, k.Address, err)
		}
	}
	return nil
}

func (t *tx_) AllDynamicContracts(ctx context.Context) ([]entity.DynamicContractRegistration, error) {
	var rows []dynamicContractRow
	if err := meddler.QueryAll(t.tx, &rows, "SELECT chain_id, contract_address, contract_type, registering_event_id FROM dynamic_contract_registry"); err != nil {
		return nil, fmt.Errorf("storage: all dynamic contracts: %w", err)
	}
	out := make([]entity.DynamicContractRegistration, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toRegistration())
	}
	return out, nil
}
