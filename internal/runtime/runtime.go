// Package runtime implements the loader/handler two-phase pipeline
// (component E): for each event in a batch it runs the user-supplied
// loader to declare which ids will be read, bulk-reads them plus one
// hop of declared references, then runs the user-supplied handler with
// a context that proxies into the in-memory store.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/chainindexor/core/internal/logger"
	"github.com/chainindexor/core/internal/store"
	"github.com/chainindexor/core/pkg/entity"
	"github.com/chainindexor/core/pkg/events"
	"github.com/chainindexor/core/pkg/storage"
)

// Loader declares, for one event, which entity ids the handler will
// need. It must not perform I/O; it only records intent via ctx.
type Loader func(ctx *LoaderCtx, ev *events.DecodedEvent)

// Handler mutates the in-memory store in response to one event.
type Handler func(ctx *HandlerCtx, ev *events.DecodedEvent) error

// EventHandler pairs a loader and handler for one (contract_type,
// event_name) variant. Either callback may be nil.
type EventHandler struct {
	ContractType string
	EventName    string
	Load         Loader
	Handle       Handler
}

func handlerKey(contractType, eventName string) string {
	return contractType + "|" + eventName
}

// ReferenceSpec declares a one-hop relational reference a loader wants
// followed: when an entity of FromType is loaded and its field Field
// holds an id (or slice of ids, if Many), that id is also loaded as an
// entity of ToType.
type ReferenceSpec struct {
	FromType string
	Field    string
	ToType   string
	Many     bool
}

// Runtime owns the registered event handlers and reference specs, and
// drives ProcessBatch against a durable-storage collaborator for bulk
// reads.
type Runtime struct {
	db         storage.Storage
	log        *logger.Logger
	handlers   map[string]EventHandler
	references []ReferenceSpec

	registerDynamicContract func(chainID uint64, address common.Address, contractType string, afterEvent *events.DecodedEvent) error
}

// New returns a runtime with no registered handlers.
func New(db storage.Storage, log *logger.Logger) *Runtime {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Runtime{
		db:       db,
		log:      log.WithComponent("runtime"),
		handlers: make(map[string]EventHandler),
	}
}

// RegisterHandler registers the loader/handler pair for one event
// variant.
func (r *Runtime) RegisterHandler(h EventHandler) {
	r.handlers[handlerKey(h.ContractType, h.EventName)] = h
}

// RegisterReference declares a one-hop reference to follow during the
// bulk-read phase.
func (r *Runtime) RegisterReference(ref ReferenceSpec) {
	r.references = append(r.references, ref)
}

// OnRegisterDynamicContract wires the chain manager's dynamic contract
// hook so handlers can register new fetch targets via HandlerCtx.
func (r *Runtime) OnRegisterDynamicContract(fn func(chainID uint64, address common.Address, contractType string, afterEvent *events.DecodedEvent) error) {
	r.registerDynamicContract = fn
}

// ProcessBatch runs the load, bulk-read, reference-expansion and handle
// phases for a batch of events in order, staging the results into st
// for the commit engine. Every event's raw record is staged; load and
// handle callbacks run only for events with a registered handler.
func (r *Runtime) ProcessBatch(ctx context.Context, st *store.Store, batch []*events.DecodedEvent) error {
	loaderCtx := newLoaderCtx()

	// Phase 1: load. Pure, no I/O.
	for _, ev := range batch {
		h, ok := r.handlers[handlerKey(ev.ContractType, ev.EventName)]
		if !ok || h.Load == nil {
			continue
		}
		h.Load(loaderCtx, ev)
	}

	// Phase 2: bulk read.
	if err := r.bulkRead(ctx, st, loaderCtx.requested); err != nil {
		return fmt.Errorf("runtime: bulk read: %w", err)
	}

	// Phase 3: one-hop reference expansion.
	if err := r.expandReferences(ctx, st, loaderCtx.requested); err != nil {
		return fmt.Errorf("runtime: reference expansion: %w", err)
	}

	// Phase 4: handle, strictly in batch order.
	for _, ev := range batch {
		stageRawEvent(st, ev)

		h, ok := r.handlers[handlerKey(ev.ContractType, ev.EventName)]
		if !ok || h.Handle == nil {
			continue
		}
		prov := entity.Provenance{ChainID: ev.ChainID, EventID: ev.EventID()}
		hctx := newHandlerCtx(st, prov, r.registerDynamicContract)
		if err := h.Handle(hctx, ev); err != nil {
			return fmt.Errorf("runtime: handler %s.%s: %w", ev.ContractType, ev.EventName, err)
		}
	}

	return nil
}

// bulkRead fans the per-entity-type reads out concurrently via
// errgroup, the way the teacher's indexer_coordinator fans HandleLogs
// out across indexers: each entity type's batch read is an independent
// transaction, so nothing is shared until results are applied to the
// store. Applying results to st happens strictly after the group
// completes since Store is not safe for concurrent writes.
func (r *Runtime) bulkRead(ctx context.Context, st *store.Store, requested map[string]map[string]struct{}) error {
	entityTypes := make([]string, 0, len(requested))
	for t := range requested {
		entityTypes = append(entityTypes, t)
	}
	sort.Strings(entityTypes)

	results := make([][]storage.Row, len(entityTypes))
	g, gctx := errgroup.WithContext(ctx)
	for i, entityType := range entityTypes {
		i, entityType := i, entityType
		ids := setToSortedSlice(requested[entityType])
		if len(ids) == 0 {
			continue
		}
		g.Go(func() error {
			rows, err := r.fetchRows(gctx, entityType, ids)
			if err != nil {
				return fmt.Errorf("batch read %s: %w", entityType, err)
			}
			results[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, entityType := range entityTypes {
		applyRows(st, entityType, results[i])
	}
	return nil
}

func (r *Runtime) fetchRows(ctx context.Context, entityType string, ids []string) ([]storage.Row, error) {
	var rows []storage.Row
	err := r.db.WithTx(ctx, func(tx storage.Tx) error {
		readRows, err := tx.BatchRead(ctx, entityType, ids)
		if err != nil {
			return err
		}
		rows = readRows
		return nil
	})
	return rows, err
}

func (r *Runtime) readInto(ctx context.Context, st *store.Store, entityType string, ids []string) error {
	rows, err := r.fetchRows(ctx, entityType, ids)
	if err != nil {
		return fmt.Errorf("batch read %s: %w", entityType, err)
	}
	applyRows(st, entityType, rows)
	return nil
}

func applyRows(st *store.Store, entityType string, rows []storage.Row) {
	for _, row := range rows {
		st.Set(entityType, row.ID, row.Value, entity.Read, entity.Provenance{})
	}
}

// expandReferences follows ReferenceSpecs one hop: for every entity
// already loaded whose type matches a spec's FromType, it collects the
// referenced ids from the declared field and bulk-reads them too.
func (r *Runtime) expandReferences(ctx context.Context, st *store.Store, requested map[string]map[string]struct{}) error {
	if len(r.references) == 0 {
		return nil
	}

	byToType := make(map[string]map[string]struct{})
	for _, ref := range r.references {
		ids, ok := requested[ref.FromType]
		if !ok {
			continue
		}
		for id := range ids {
			value, ok := st.Get(ref.FromType, id)
			if !ok {
				continue
			}
			collectReferenced(value, ref, byToType)
		}
	}

	for toType, ids := range byToType {
		idList := setToSortedSlice(ids)
		if len(idList) == 0 {
			continue
		}
		if err := r.readInto(ctx, st, toType, idList); err != nil {
			return err
		}
	}
	return nil
}

func collectReferenced(value any, ref ReferenceSpec, byToType map[string]map[string]struct{}) {
	fields, ok := value.(map[string]any)
	if !ok {
		return
	}
	raw, ok := fields[ref.Field]
	if !ok {
		return
	}

	dest, ok := byToType[ref.ToType]
	if !ok {
		dest = make(map[string]struct{})
		byToType[ref.ToType] = dest
	}

	if ref.Many {
		ids, ok := raw.([]string)
		if !ok {
			if anySlice, ok := raw.([]any); ok {
				for _, v := range anySlice {
					if s, ok := v.(string); ok {
						dest[s] = struct{}{}
					}
				}
			}
			return
		}
		for _, id := range ids {
			dest[id] = struct{}{}
		}
		return
	}

	if id, ok := raw.(string); ok {
		dest[id] = struct{}{}
	}
}

// stageRawEvent persists the decoded log alongside its arguments so
// reprocessing a batch never requires re-querying the RPC provider.
func stageRawEvent(st *store.Store, ev *events.DecodedEvent) {
	raw, err := json.Marshal(ev.Args)
	if err != nil {
		raw = []byte("{}")
	}
	st.SetRawEvent(entity.RawEventRecord{
		ChainID:         ev.ChainID,
		EventID:         ev.EventID(),
		BlockNumber:     ev.BlockNumber,
		BlockTimestamp:  ev.Timestamp,
		BlockHash:       ev.Raw.BlockHash.Hex(),
		TxHash:          ev.Raw.TxHash.Hex(),
		TxIndex:         ev.Raw.TxIndex,
		LogIndex:        ev.LogIndex,
		ContractAddress: ev.ContractAddress.Hex(),
		EventName:       ev.EventName,
		RawParamsJSON:   string(raw),
	}, entity.Create)
}

func setToSortedSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
