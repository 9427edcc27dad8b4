package api

import (
	"context"
	"sync"

	"github.com/chainindexor/core/pkg/entity"
	pkgstorage "github.com/chainindexor/core/pkg/storage"
)

// fakeStorage is a minimal in-memory pkgstorage.Storage for testing the
// debug API's handlers without a real database.
type fakeStorage struct {
	mu          sync.Mutex
	rows        map[string]map[string]any // entityType -> id -> value
	checkpoints map[uint64]uint64
	withTxErr   error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		rows:        make(map[string]map[string]any),
		checkpoints: make(map[uint64]uint64),
	}
}

func (f *fakeStorage) WithTx(ctx context.Context, fn func(pkgstorage.Tx) error) error {
	if f.withTxErr != nil {
		return f.withTxErr
	}
	return fn(&fakeTx{s: f})
}

func (f *fakeStorage) setRow(entityType, id string, value any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rows[entityType] == nil {
		f.rows[entityType] = make(map[string]any)
	}
	f.rows[entityType][id] = value
}

func (f *fakeStorage) setCheckpoint(chainID, block uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkpoints[chainID] = block
}

type fakeTx struct {
	s *fakeStorage
}

func (t *fakeTx) BatchRead(ctx context.Context, entityType string, ids []string) ([]pkgstorage.Row, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	rows := make([]pkgstorage.Row, 0, len(ids))
	for _, id := range ids {
		if value, ok := t.s.rows[entityType][id]; ok {
			rows = append(rows, pkgstorage.Row{ID: id, Value: value})
		}
	}
	return rows, nil
}

func (t *fakeTx) BatchUpsert(ctx context.Context, entityType string, rows []pkgstorage.Row) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.s.rows[entityType] == nil {
		t.s.rows[entityType] = make(map[string]any)
	}
	for _, row := range rows {
		t.s.rows[entityType][row.ID] = row.Value
	}
	return nil
}

func (t *fakeTx) BatchDelete(ctx context.Context, entityType string, ids []string) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, id := range ids {
		delete(t.s.rows[entityType], id)
	}
	return nil
}

func (t *fakeTx) BatchSetRawEvents(ctx context.Context, records []entity.RawEventRecord) error {
	return nil
}

func (t *fakeTx) BatchDeleteRawEvents(ctx context.Context, keys []pkgstorage.RawEventKey) error {
	return nil
}

func (t *fakeTx) LatestProcessedBlock(ctx context.Context, chainID uint64) (uint64, bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	block, ok := t.s.checkpoints[chainID]
	return block, ok, nil
}

func (t *fakeTx) SetLatestProcessedBlock(ctx context.Context, chainID uint64, block uint64) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.s.checkpoints[chainID] = block
	return nil
}

func (t *fakeTx) BatchSetDynamicContracts(ctx context.Context, regs []entity.DynamicContractRegistration) error {
	return nil
}

func (t *fakeTx) BatchDeleteDynamicContracts(ctx context.Context, keys []pkgstorage.DynamicContractKey) error {
	return nil
}

func (t *fakeTx) AllDynamicContracts(ctx context.Context) ([]entity.DynamicContractRegistration, error) {
	return nil, nil
}
