// Package commit implements the commit engine (component F): it reads
// the staged store produced by one batch, partitions each namespace
// into deletes and upserts, and flushes them plus the raw-event and
// dynamic-contract-registry namespaces inside a single durable-storage
// transaction, advancing the per-chain checkpoint only on success.
package commit

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/chainindexor/core/internal/logger"
	"github.com/chainindexor/core/internal/store"
	"github.com/chainindexor/core/pkg/entity"
	"github.com/chainindexor/core/pkg/storage"
)

// Engine is the commit engine. One Engine serves every chain; a single
// Commit call covers one block range per chain touched by the batch.
type Engine struct {
	db  storage.Storage
	log *logger.Logger

	maxRetries uint64
}

// New returns a commit engine backed by db. maxRetries bounds the
// number of transaction retries on CommitError before the batch is
// surfaced to the caller with the checkpoint left unadvanced.
func New(db storage.Storage, log *logger.Logger, maxRetries uint64) *Engine {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if maxRetries == 0 {
		maxRetries = 5
	}
	return &Engine{
		db:         db,
		log:        log.WithComponent("commit"),
		maxRetries: maxRetries,
	}
}

// ChainRange is a chain's block range covered by one batch. A single
// batch can span multiple chains, so Commit accepts one range per chain
// touched and advances every checkpoint inside the same transaction as
// the staged-row flush.
type ChainRange struct {
	ChainID   uint64
	FromBlock uint64
	ToBlock   uint64
}

// Commit flushes st's staged rows for the given chain ranges inside a
// single transaction, retrying the whole transaction with exponential
// backoff on failure. On success the store is reset. On exhaustion the
// error is returned and the store is left untouched so the batch can be
// retried from the load phase.
func (e *Engine) Commit(ctx context.Context, st *store.Store, ranges []ChainRange) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, e.maxRetries), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		if txErr := e.commitOnce(ctx, st, ranges); txErr != nil {
			e.log.Warnw("commit attempt failed, retrying",
				"ranges", ranges, "attempt", attempt, "error", txErr,
			)
			return txErr
		}
		return nil
	}, policy)

	if err != nil {
		return fmt.Errorf("commit: exhausted retries for ranges %v: %w", ranges, err)
	}

	st.Reset()
	e.log.Infow("batch committed", "ranges", ranges, "attempts", attempt)
	return nil
}

func (e *Engine) commitOnce(ctx context.Context, st *store.Store, ranges []ChainRange) error {
	return e.db.WithTx(ctx, func(tx storage.Tx) error {
		entityTypes := st.EntityTypes()
		sort.Strings(entityTypes)

		for _, entityType := range entityTypes {
			rows := st.Rows(entityType)
			deleteIDs, upsertRows := partition(rows)

			if len(deleteIDs) > 0 {
				if err := tx.BatchDelete(ctx, entityType, deleteIDs); err != nil {
					return fmt.Errorf("batch delete %s: %w", entityType, err)
				}
			}
			if len(upsertRows) > 0 {
				if err := tx.BatchUpsert(ctx, entityType, upsertRows); err != nil {
					return fmt.Errorf("batch upsert %s: %w", entityType, err)
				}
			}
		}

		if err := e.commitRawEvents(ctx, tx, st); err != nil {
			return err
		}
		if err := e.commitDynamicContracts(ctx, tx, st); err != nil {
			return err
		}

		for _, r := range ranges {
			if err := tx.SetLatestProcessedBlock(ctx, r.ChainID, r.ToBlock); err != nil {
				return fmt.Errorf("set latest processed block for chain %d: %w", r.ChainID, err)
			}
		}
		return nil
	})
}

func (e *Engine) commitRawEvents(ctx context.Context, tx storage.Tx, st *store.Store) error {
	rows := st.RawEventRows()
	if len(rows) == 0 {
		return nil
	}

	var deleteKeys []storage.RawEventKey
	var records []entity.RawEventRecord
	keys := sortedKeys(rows)
	for _, key := range keys {
		row := rows[key]
		rec, _ := row.Entity.(entity.RawEventRecord)
		switch row.CRUD {
		case entity.Delete:
			deleteKeys = append(deleteKeys, storage.RawEventKey{ChainID: rec.ChainID, EventID: rec.EventID})
		case entity.Create, entity.Update:
			records = append(records, rec)
		}
	}

	if len(deleteKeys) > 0 {
		if err := tx.BatchDeleteRawEvents(ctx, deleteKeys); err != nil {
			return fmt.Errorf("batch delete raw events: %w", err)
		}
	}
	if len(records) > 0 {
		if err := tx.BatchSetRawEvents(ctx, records); err != nil {
			return fmt.Errorf("batch set raw events: %w", err)
		}
	}
	return nil
}

func (e *Engine) commitDynamicContracts(ctx context.Context, tx storage.Tx, st *store.Store) error {
	rows := st.DynamicContractRows()
	if len(rows) == 0 {
		return nil
	}

	var deleteKeys []storage.DynamicContractKey
	var regs []entity.DynamicContractRegistration
	keys := sortedKeys(rows)
	for _, key := range keys {
		row := rows[key]
		reg, _ := row.Entity.(entity.DynamicContractRegistration)
		switch row.CRUD {
		case entity.Delete:
			deleteKeys = append(deleteKeys, storage.DynamicContractKey{ChainID: reg.ChainID, Address: reg.ContractAddress})
		case entity.Create, entity.Update:
			regs = append(regs, reg)
		}
	}

	if len(deleteKeys) > 0 {
		if err := tx.BatchDeleteDynamicContracts(ctx, deleteKeys); err != nil {
			return fmt.Errorf("batch delete dynamic contracts: %w", err)
		}
	}
	if len(regs) > 0 {
		if err := tx.BatchSetDynamicContracts(ctx, regs); err != nil {
			return fmt.Errorf("batch set dynamic contracts: %w", err)
		}
	}
	return nil
}

// partition splits a namespace's staged rows into ids to delete and
// rows to upsert, in deterministic id order. Read-only rows are
// dropped, as the spec requires.
func partition(rows map[string]*entity.StagedRow) (deleteIDs []string, upsertRows []storage.Row) {
	ids := sortedKeys(rows)
	for _, id := range ids {
		row := rows[id]
		switch row.CRUD {
		case entity.Delete:
			deleteIDs = append(deleteIDs, id)
		case entity.Create, entity.Update:
			upsertRows = append(upsertRows, storage.Row{ID: id, Value: row.Entity})
		case entity.Read:
			// dropped
		}
	}
	return deleteIDs, upsertRows
}

func sortedKeys(m map[string]*entity.StagedRow) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
