// Package chainmanager implements the chain manager (component C): it
// merges every chain fetcher's per-chain queue plus an auxiliary
// priority queue of late-arriving or back-filled events into a single
// globally-ordered stream, and forms batches for the loader/handler
// runtime.
package chainmanager

import (
	"container/heap"
	"fmt"
	"math"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainindexor/core/internal/decoder"
	"github.com/chainindexor/core/internal/fetcher"
	"github.com/chainindexor/core/internal/logger"
	"github.com/chainindexor/core/pkg/events"

	"context"
)

// Manager is the chain manager. One Manager serves every configured
// chain for the process.
type Manager struct {
	mu       sync.Mutex
	fetchers map[uint64]*fetcher.Fetcher
	aux      auxHeap
	registry *decoder.Registry
	log      *logger.Logger
}

// New returns an empty manager.
func New(registry *decoder.Registry, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.NewNopLogger()
	}
	m := &Manager{
		fetchers: make(map[uint64]*fetcher.Fetcher),
		registry: registry,
		log:      log.WithComponent("chainmanager"),
	}
	heap.Init(&m.aux)
	return m
}

// RegisterFetcher adds a chain's fetcher and wires its dynamic
// injection callback into the auxiliary heap.
func (m *Manager) RegisterFetcher(f *fetcher.Fetcher) {
	m.mu.Lock()
	m.fetchers[f.ChainID()] = f
	m.mu.Unlock()
	f.SetAuxInjector(m.injectAux)
}

func (m *Manager) injectAux(ev *events.DecodedEvent) {
	m.mu.Lock()
	heap.Push(&m.aux, ev)
	m.mu.Unlock()
}

// sentinel keys let NoItem participate in the same OrderKey.Less
// comparator as a real Item: an Item at the same (timestamp, chain_id)
// always sorts before its own chain's NoItem, which cannot happen in
// practice since a chain reports Item instead of NoItem whenever it has
// one.
const sentinelBlock = math.MaxUint64

func noItemKey(no events.NoItem) events.OrderKey {
	return events.OrderKey{
		Timestamp:   no.LatestFetchedTimestamp,
		ChainID:     no.ChainID,
		BlockNumber: sentinelBlock,
		LogIndex:    math.MaxUint32,
	}
}

// PopSync peeks every fetcher and the aux heap without blocking. A
// fetcher reporting NoItem never wins here; pop_sync yields None (ok =
// false) unless at least one fetcher has a real item or the aux heap is
// non-empty.
func (m *Manager) PopSync() (ev *events.DecodedEvent, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *fetcher.Fetcher
	var bestItem *events.DecodedEvent

	for _, f := range m.fetchers {
		item, _, hasItem := f.PeekFront()
		if !hasItem {
			continue
		}
		if bestItem == nil || item.OrderKey.Less(bestItem.OrderKey) {
			bestItem = item
			best = f
		}
	}

	var auxTop *events.DecodedEvent
	if len(m.aux) > 0 {
		auxTop = m.aux[0]
	}

	switch {
	case bestItem == nil && auxTop == nil:
		return nil, false
	case bestItem == nil:
		return heap.Pop(&m.aux).(*events.DecodedEvent), true
	case auxTop == nil:
		return best.PopFront(), true
	case auxTop.OrderKey.Less(bestItem.OrderKey):
		return heap.Pop(&m.aux).(*events.DecodedEvent), true
	default:
		return best.PopFront(), true
	}
}

// PopAsync blocks until the globally-earliest item is determinable:
// when the current earliest candidate is a chain's NoItem watermark and
// nothing in the aux heap beats it, it awaits that chain's next query
// window and retries.
func (m *Manager) PopAsync(ctx context.Context) (*events.DecodedEvent, error) {
	for {
		m.mu.Lock()
		if len(m.fetchers) == 0 {
			m.mu.Unlock()
			return nil, fmt.Errorf("chainmanager: no fetchers registered")
		}

		type candidate struct {
			key     events.OrderKey
			isItem  bool
			chainID uint64
			from    string // "fetcher" or "aux"
		}

		var minCand candidate
		first := true

		for _, f := range m.fetchers {
			item, no, hasItem := f.PeekFront()
			var key events.OrderKey
			isItem := hasItem
			if hasItem {
				key = item.OrderKey
			} else {
				key = noItemKey(no)
			}
			if first || key.Less(minCand.key) {
				minCand = candidate{key: key, isItem: isItem, chainID: f.ChainID(), from: "fetcher"}
				first = false
			}
		}

		if len(m.aux) > 0 {
			auxKey := m.aux[0].OrderKey
			if first || auxKey.Less(minCand.key) {
				minCand = candidate{key: auxKey, isItem: true, from: "aux"}
				first = false
			}
		}
		m.mu.Unlock()

		if minCand.isItem {
			ev, ok := m.PopSync()
			if !ok {
				// The winning candidate vanished (raced with another
				// consumer in a single-consumer design this shouldn't
				// happen); retry the comparison from scratch.
				continue
			}
			return ev, nil
		}

		waitChain := minCand.chainID
		m.mu.Lock()
		f := m.fetchers[waitChain]
		m.mu.Unlock()
		if err := f.AwaitNext(ctx); err != nil {
			return nil, err
		}
	}
}

// MakeBatch drives PopAsync until min items are collected, then drains
// PopSync opportunistically up to max. Batches may span chains freely;
// cross-chain ordering is preserved by construction.
func (m *Manager) MakeBatch(ctx context.Context, min, max int) ([]*events.DecodedEvent, error) {
	batch := make([]*events.DecodedEvent, 0, max)

	for len(batch) < min {
		ev, err := m.PopAsync(ctx)
		if err != nil {
			return batch, err
		}
		batch = append(batch, ev)
	}

	for len(batch) < max {
		ev, ok := m.PopSync()
		if !ok {
			break
		}
		batch = append(batch, ev)
	}

	return batch, nil
}

// RegisterDynamicContract informs the relevant fetcher of a new fetch
// target and, if after_event precedes the chain's latest fetched block,
// schedules a back-fill query whose decoded events enter the aux
// priority queue.
func (m *Manager) RegisterDynamicContract(chainID uint64, address common.Address, contractType string, afterEvent *events.DecodedEvent) error {
	m.mu.Lock()
	f, ok := m.fetchers[chainID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("chainmanager: unknown chain %d", chainID)
	}

	if err := m.registry.RegisterContractByType(chainID, address, contractType); err != nil {
		return fmt.Errorf("chainmanager: %w", err)
	}

	if afterEvent != nil && afterEvent.BlockNumber < f.LatestFetchedBlock() {
		f.ScheduleBackfill(address, afterEvent.BlockNumber, f.LatestFetchedBlock())
		m.log.Infow("scheduled dynamic contract backfill",
			"chain_id", chainID, "address", address.Hex(), "contract_type", contractType,
			"from_block", afterEvent.BlockNumber, "to_block", f.LatestFetchedBlock(),
		)
	}
	return nil
}
