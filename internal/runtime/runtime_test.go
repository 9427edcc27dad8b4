package runtime

import (
	"context"
	"sync"
	"testing"

	gethcommon "github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainindexor/core/internal/store"
	"github.com/chainindexor/core/pkg/entity"
	"github.com/chainindexor/core/pkg/events"
	"github.com/chainindexor/core/pkg/storage"
)

// fakeStorage is a minimal in-memory storage.Storage, grounded on the
// debug API's test double, reused here so the runtime's bulk-read phase
// has something to read from besides a live database.
type fakeStorage struct {
	mu          sync.Mutex
	rows        map[string]map[string]any
	checkpoints map[uint64]uint64
	reads       int
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		rows:        make(map[string]map[string]any),
		checkpoints: make(map[uint64]uint64),
	}
}

func (f *fakeStorage) WithTx(ctx context.Context, fn func(storage.Tx) error) error {
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

type fakeTx struct {
	s *fakeStorage
}

func (t *fakeTx) BatchRead(ctx context.Context, entityType string, ids []string) ([]storage.Row, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.s.reads++
	rows := make([]storage.Row, 0, len(ids))
	for _, id := range ids {
		if value, ok := t.s.rows[entityType][id]; ok {
			rows = append(rows, storage.Row{ID: id, Value: value})
		}
	}
	return rows, nil
}

func (t *fakeTx) BatchUpsert(ctx context.Context, entityType string, rows []storage.Row) error {
	return nil
}

func (t *fakeTx) BatchDelete(ctx context.Context, entityType string, ids []string) error {
	return nil
}

func (t *fakeTx) BatchSetRawEvents(ctx context.Context, records []entity.RawEventRecord) error {
	return nil
}

func (t *fakeTx) BatchDeleteRawEvents(ctx context.Context, keys []storage.RawEventKey) error {
	return nil
}

func (t *fakeTx) LatestProcessedBlock(ctx context.Context, chainID uint64) (uint64, bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	block, ok := t.s.checkpoints[chainID]
	return block, ok, nil
}

func (t *fakeTx) SetLatestProcessedBlock(ctx context.Context, chainID uint64, block uint64) error {
	return nil
}

func (t *fakeTx) BatchSetDynamicContracts(ctx context.Context, regs []entity.DynamicContractRegistration) error {
	return nil
}

func (t *fakeTx) BatchDeleteDynamicContracts(ctx context.Context, keys []storage.DynamicContractKey) error {
	return nil
}

func (t *fakeTx) AllDynamicContracts(ctx context.Context) ([]entity.DynamicContractRegistration, error) {
	return nil, nil
}

func newEvent(chainID, block uint64, logIndex uint, contractType, eventName string, args map[string]any) *events.DecodedEvent {
	return &events.DecodedEvent{
		OrderKey: events.OrderKey{
			Timestamp:   1000 + block,
			ChainID:     chainID,
			BlockNumber: block,
			LogIndex:    logIndex,
		},
		ContractType: contractType,
		EventName:    eventName,
		Args:         args,
		Raw: gethtypes.Log{
			TxHash: gethcommon.HexToHash("0x1"),
			Index:  logIndex,
		},
	}
}

func TestProcessBatch_LoadThenHandleInOrder(t *testing.T) {
	db := newFakeStorage()
	db.setRow("gravatar", "g1", map[string]any{"id": "g1", "updates_count": float64(3)})

	rt := New(db, nil)

	var handled []string
	rt.RegisterHandler(EventHandler{
		ContractType: "gravatar", EventName: "UpdatedGravatar",
		Load: func(ctx *LoaderCtx, ev *events.DecodedEvent) {
			ctx.Load("gravatar", "g1")
		},
		Handle: func(ctx *HandlerCtx, ev *events.DecodedEvent) error {
			value, ok := ctx.Get("gravatar", "g1")
			require.True(t, ok, "loader-requested entity must be readable in handle phase")
			entry := value.(map[string]any)
			assert.Equal(t, float64(3), entry["updates_count"])
			handled = append(handled, "updated-"+ev.EventID())
			ctx.Update("gravatar", "g1", map[string]any{"id": "g1", "updates_count": float64(4)})
			return nil
		},
	})
	rt.RegisterHandler(EventHandler{
		ContractType: "gravatar", EventName: "NewGravatar",
		Handle: func(ctx *HandlerCtx, ev *events.DecodedEvent) error {
			handled = append(handled, "new-"+ev.EventID())
			ctx.Insert("gravatar", "g2", map[string]any{"id": "g2", "updates_count": float64(1)})
			return nil
		},
	})

	st := store.New(nil)
	batch := []*events.DecodedEvent{
		newEvent(1, 10, 0, "gravatar", "UpdatedGravatar", nil),
		newEvent(1, 11, 0, "gravatar", "NewGravatar", nil),
	}

	err := rt.ProcessBatch(context.Background(), st, batch)
	require.NoError(t, err)

	assert.Equal(t, []string{"updated-" + batch[0].EventID(), "new-" + batch[1].EventID()}, handled, "handle phase must run strictly in batch order")

	g1, ok := st.Get("gravatar", "g1")
	require.True(t, ok)
	assert.Equal(t, float64(4), g1.(map[string]any)["updates_count"])

	g2, ok := st.Get("gravatar", "g2")
	require.True(t, ok)
	assert.Equal(t, float64(1), g2.(map[string]any)["updates_count"])
}

func TestProcessBatch_UnregisteredEventSkipped(t *testing.T) {
	db := newFakeStorage()
	rt := New(db, nil)

	st := store.New(nil)
	batch := []*events.DecodedEvent{
		newEvent(1, 10, 0, "gravatar", "SomeUnhandledEvent", nil),
	}

	err := rt.ProcessBatch(context.Background(), st, batch)
	require.NoError(t, err)
	assert.Empty(t, st.EntityTypes())
}

func TestProcessBatch_StagesRawEventForEveryEventRegardlessOfHandler(t *testing.T) {
	db := newFakeStorage()
	rt := New(db, nil)
	rt.RegisterHandler(EventHandler{
		ContractType: "gravatar", EventName: "NewGravatar",
		Handle: func(ctx *HandlerCtx, ev *events.DecodedEvent) error { return nil },
	})

	st := store.New(nil)
	batch := []*events.DecodedEvent{
		newEvent(1, 10, 0, "gravatar", "NewGravatar", map[string]any{"owner": "0xabc"}),
		newEvent(1, 10, 1, "unknown", "Unhandled", map[string]any{"x": 1}),
	}

	err := rt.ProcessBatch(context.Background(), st, batch)
	require.NoError(t, err)

	rows := st.RawEventRows()
	assert.Len(t, rows, 2, "every event in the batch is staged, handled or not")
}

func TestProcessBatch_HandlerErrorStopsBatch(t *testing.T) {
	db := newFakeStorage()
	rt := New(db, nil)

	var secondRan bool
	rt.RegisterHandler(EventHandler{
		ContractType: "gravatar", EventName: "Bad",
		Handle: func(ctx *HandlerCtx, ev *events.DecodedEvent) error {
			return assert.AnError
		},
	})
	rt.RegisterHandler(EventHandler{
		ContractType: "gravatar", EventName: "Good",
		Handle: func(ctx *HandlerCtx, ev *events.DecodedEvent) error {
			secondRan = true
			return nil
		},
	})

	st := store.New(nil)
	batch := []*events.DecodedEvent{
		newEvent(1, 10, 0, "gravatar", "Bad", nil),
		newEvent(1, 10, 1, "gravatar", "Good", nil),
	}

	err := rt.ProcessBatch(context.Background(), st, batch)
	require.Error(t, err)
	assert.False(t, secondRan, "a handler error must abort the rest of the batch")
}

func TestProcessBatch_ReferenceExpansionFollowsOneHop(t *testing.T) {
	db := newFakeStorage()
	db.setRow("owner", "o1", map[string]any{"id": "o1", "gravatar_id": "g1"})
	db.setRow("gravatar", "g1", map[string]any{"id": "g1", "updates_count": float64(9)})

	rt := New(db, nil)
	rt.RegisterReference(ReferenceSpec{FromType: "owner", Field: "gravatar_id", ToType: "gravatar", Many: false})

	var sawGravatar bool
	rt.RegisterHandler(EventHandler{
		ContractType: "gravatar", EventName: "Touch",
		Load: func(ctx *LoaderCtx, ev *events.DecodedEvent) {
			ctx.Load("owner", "o1")
		},
		Handle: func(ctx *HandlerCtx, ev *events.DecodedEvent) error {
			_, sawGravatar = ctx.Get("gravatar", "g1")
			return nil
		},
	})

	st := store.New(nil)
	batch := []*events.DecodedEvent{newEvent(1, 10, 0, "gravatar", "Touch", nil)}

	err := rt.ProcessBatch(context.Background(), st, batch)
	require.NoError(t, err)
	assert.True(t, sawGravatar, "reference expansion must bulk-read the referenced entity without an explicit Load call")
}

func TestProcessBatch_RoundTripReprocessingIsDeterministic(t *testing.T) {
	db := newFakeStorage()
	newRuntime := func() *Runtime {
		rt := New(db, nil)
		rt.RegisterHandler(EventHandler{
			ContractType: "gravatar", EventName: "UpdatedGravatar",
			Load: func(ctx *LoaderCtx, ev *events.DecodedEvent) { ctx.Load("gravatar", "g1") },
			Handle: func(ctx *HandlerCtx, ev *events.DecodedEvent) error {
				count := 1
				if existing, ok := ctx.Get("gravatar", "g1"); ok {
					if m, ok := existing.(map[string]any); ok {
						if n, ok := m["updates_count"].(float64); ok {
							count = int(n) + 1
						}
					}
				}
				ctx.Update("gravatar", "g1", map[string]any{"id": "g1", "updates_count": float64(count)})
				return nil
			},
		})
		return rt
	}

	batch := []*events.DecodedEvent{
		newEvent(1, 10, 0, "gravatar", "UpdatedGravatar", nil),
		newEvent(1, 11, 0, "gravatar", "UpdatedGravatar", nil),
	}

	run := func() any {
		st := store.New(nil)
		rt := newRuntime()
		require.NoError(t, rt.ProcessBatch(context.Background(), st, batch))
		v, _ := st.Get("gravatar", "g1")
		return v
	}

	first := run()
	second := run()
	assert.Equal(t, first, second, "reprocessing the same batch from the same durable state must yield the same result")
}
