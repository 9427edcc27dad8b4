// Package store implements the in-memory write-back entity store
// (component D): a namespace per entity type plus one for raw events
// and one for the dynamic-contract registry, each a keyed mapping from
// id to staged row with CRUD folding on repeated writes.
//
// The store is created empty per batch, mutated exclusively by handlers
// through handler contexts, read by the commit engine, then reset. It
// is single-threaded within a batch; callers must not share one across
// concurrently-processing batches.
package store

import (
	"fmt"

	"github.com/chainindexor/core/internal/logger"
	"github.com/chainindexor/core/pkg/entity"
)

const (
	namespaceRawEvents        = "__raw_events"
	namespaceDynamicContracts = "__dynamic_contracts"
)

// Store is the in-memory store. The zero value is not usable; use New.
type Store struct {
	log *logger.Logger

	// namespaces maps entity type -> id -> staged row. Raw events and
	// the dynamic-contract registry live in their own reserved
	// namespaces so they share the same commit boundary as user
	// entities without polluting entity-type iteration.
	namespaces map[string]map[string]*entity.StagedRow
}

// New returns an empty store.
func New(log *logger.Logger) *Store {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Store{
		log:        log.WithComponent("store"),
		namespaces: make(map[string]map[string]*entity.StagedRow),
	}
}

func (s *Store) namespace(entityType string) map[string]*entity.StagedRow {
	ns, ok := s.namespaces[entityType]
	if !ok {
		ns = make(map[string]*entity.StagedRow)
		s.namespaces[entityType] = ns
	}
	return ns
}

// Get returns the staged entity value for (type, id) if it is currently
// Create, Read or Update; returns (nil, false) if absent or Deleted.
// Reads see the handler's own uncommitted writes within the batch.
func (s *Store) Get(entityType, id string) (any, bool) {
	row, ok := s.namespaces[entityType][id]
	if !ok || row.CRUD == entity.Delete {
		return nil, false
	}
	return row.Entity, true
}

// Set folds next into the currently-staged tag for (type, id) per the
// CRUD fold table and overwrites the entity value.
func (s *Store) Set(entityType, id string, value any, next entity.CRUD, prov entity.Provenance) {
	ns := s.namespace(entityType)
	row, exists := ns[id]
	prev := entity.None
	if exists {
		prev = row.CRUD
	}

	folded, warnedCreate := entity.Fold(prev, next)
	if warnedCreate {
		s.log.Warnw("second create observed for entity, folding to update",
			"entity_type", entityType, "id", id,
			"chain_id", prov.ChainID, "event_id", prov.EventID,
		)
	}

	ns[id] = &entity.StagedRow{
		CRUD:       folded,
		Entity:     value,
		Provenance: prov,
	}
}

// Delete is equivalent to Set with Delete and the previously-known
// entity value, or nil if the id was never staged.
func (s *Store) Delete(entityType, id string, prov entity.Provenance) {
	ns := s.namespace(entityType)
	var value any
	if row, ok := ns[id]; ok {
		value = row.Entity
	}
	s.Set(entityType, id, value, entity.Delete, prov)
}

// Reset clears every namespace, returning the store to its empty,
// per-batch starting state.
func (s *Store) Reset() {
	s.namespaces = make(map[string]map[string]*entity.StagedRow)
}

// EntityTypes returns the user entity type names currently staged,
// excluding the reserved raw-event and dynamic-contract namespaces.
func (s *Store) EntityTypes() []string {
	types := make([]string, 0, len(s.namespaces))
	for t := range s.namespaces {
		if t == namespaceRawEvents || t == namespaceDynamicContracts {
			continue
		}
		types = append(types, t)
	}
	return types
}

// Rows returns the staged rows for an entity type, keyed by id. Callers
// (the commit engine) must not mutate the returned map.
func (s *Store) Rows(entityType string) map[string]*entity.StagedRow {
	return s.namespaces[entityType]
}

func rawEventKey(chainID uint64, eventID string) string {
	return fmt.Sprintf("%d:%s", chainID, eventID)
}

func dynamicContractKey(chainID uint64, address string) string {
	return fmt.Sprintf("%d:%s", chainID, address)
}

// SetRawEvent stages a raw event record, keyed by (chain_id, event_id).
func (s *Store) SetRawEvent(rec entity.RawEventRecord, next entity.CRUD) {
	key := rawEventKey(rec.ChainID, rec.EventID)
	s.Set(namespaceRawEvents, key, rec, next, entity.Provenance{ChainID: rec.ChainID, EventID: rec.EventID})
}

// RawEventRows returns the staged raw-event rows.
func (s *Store) RawEventRows() map[string]*entity.StagedRow {
	return s.namespaces[namespaceRawEvents]
}

// SetDynamicContract stages a dynamic contract registration, keyed by
// (chain_id, address).
func (s *Store) SetDynamicContract(reg entity.DynamicContractRegistration, next entity.CRUD) {
	key := dynamicContractKey(reg.ChainID, reg.ContractAddress)
	s.Set(namespaceDynamicContracts, key, reg, next, entity.Provenance{ChainID: reg.ChainID, EventID: reg.RegisteringEventID})
}

// DynamicContractRows returns the staged dynamic-contract registry rows.
func (s *Store) DynamicContractRows() map[string]*entity.StagedRow {
	return s.namespaces[namespaceDynamicContracts]
}
