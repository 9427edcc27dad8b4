package runtime

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/chainindexor/core/internal/store"
	"github.com/chainindexor/core/pkg/entity"
	"github.com/chainindexor/core/pkg/events"
)

// LoaderCtx records the ids a loader requests, per entity type, into
// unique-id sets. It performs no I/O; the runtime bulk-reads the
// recorded ids after every loader in the batch has run.
type LoaderCtx struct {
	requested map[string]map[string]struct{}
}

func newLoaderCtx() *LoaderCtx {
	return &LoaderCtx{requested: make(map[string]map[string]struct{})}
}

// Load declares that the upcoming handle phase will need entity (type,
// id). Calling it more than once for the same id is a no-op.
func (c *LoaderCtx) Load(entityType, id string) {
	set, ok := c.requested[entityType]
	if !ok {
		set = make(map[string]struct{})
		c.requested[entityType] = set
	}
	set[id] = struct{}{}
}

// HandlerCtx is passed to a handler; its entity getters/setters proxy
// into the in-memory store, stamping every write with the event's
// provenance. Handlers never read durable storage directly: Get only
// sees what the loader already requested.
type HandlerCtx struct {
	store *store.Store
	prov  entity.Provenance

	registerDynamicContract func(chainID uint64, address common.Address, contractType string, afterEvent *events.DecodedEvent) error
}

func newHandlerCtx(st *store.Store, prov entity.Provenance, registerDynamicContract func(uint64, common.Address, string, *events.DecodedEvent) error) *HandlerCtx {
	return &HandlerCtx{store: st, prov: prov, registerDynamicContract: registerDynamicContract}
}

// Get returns a previously-loaded entity, or (nil, false) if the loader
// never requested it or it has since been deleted in this batch.
func (c *HandlerCtx) Get(entityType, id string) (any, bool) {
	return c.store.Get(entityType, id)
}

// Insert stages a Create for (type, id). A second Create in the same
// batch folds to Update per the store's invariant.
func (c *HandlerCtx) Insert(entityType, id string, value any) {
	c.store.Set(entityType, id, value, entity.Create, c.prov)
}

// Update stages an Update for (type, id).
func (c *HandlerCtx) Update(entityType, id string, value any) {
	c.store.Set(entityType, id, value, entity.Update, c.prov)
}

// Delete stages a Delete for (type, id).
func (c *HandlerCtx) Delete(entityType, id string) {
	c.store.Delete(entityType, id, c.prov)
}

// RegisterDynamicContract registers a new fetch target mid-run: the
// event currently being handled becomes the registering event for
// diagnostics, and the chain manager schedules a back-fill if needed.
func (c *HandlerCtx) RegisterDynamicContract(chainID uint64, address common.Address, contractType string, afterEvent *events.DecodedEvent) error {
	c.store.SetDynamicContract(entity.DynamicContractRegistration{
		ChainID:            chainID,
		ContractAddress:    address.Hex(),
		ContractType:       contractType,
		RegisteringEventID: c.prov.EventID,
	}, entity.Create)

	if c.registerDynamicContract == nil {
		return nil
	}
	return c.registerDynamicContract(chainID, address, contractType, afterEvent)
}
