// Package events defines the decoded-event and ordering-key types that
// flow from the chain fetcher through the chain manager into the
// loader/handler runtime.
package events

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// OrderKey is the global ordering key: (block_timestamp, chain_id,
// block_number, log_index), lexicographic ascending.
type OrderKey struct {
	Timestamp   uint64
	ChainID     uint64
	BlockNumber uint64
	LogIndex    uint
}

// Less reports whether k sorts strictly before other.
func (k OrderKey) Less(other OrderKey) bool {
	if k.Timestamp != other.Timestamp {
		return k.Timestamp < other.Timestamp
	}
	if k.ChainID != other.ChainID {
		return k.ChainID < other.ChainID
	}
	if k.BlockNumber != other.BlockNumber {
		return k.BlockNumber < other.BlockNumber
	}
	return k.LogIndex < other.LogIndex
}

// DecodedEvent is a log that the decoder registry matched to a known
// (contract_type, event_name) variant, with its arguments decoded.
type DecodedEvent struct {
	OrderKey

	ContractType    string
	EventName       string
	ContractAddress common.Address
	Args            map[string]any
	Raw             types.Log
}

// EventID is the provider-supplied identifier for the underlying log,
// unique within a chain.
func (e *DecodedEvent) EventID() string {
	return fmt.Sprintf("%s-%d", e.Raw.TxHash.Hex(), e.Raw.Index)
}

// QueueItem wraps a single decoded event. The fetcher queue and the
// chain manager hold *DecodedEvent values directly, not QueueItem.
type QueueItem struct {
	Event *DecodedEvent
}

// NoItem is returned by a fetcher's PeekFront when it has nothing
// pending, but can still report how far it has looked so the chain
// manager can reason about cross-chain ordering without blocking.
type NoItem struct {
	LatestFetchedTimestamp uint64
	ChainID                uint64
}

// PeekResult bundles one peek outcome: Item is valid when HasItem is
// true, otherwise Empty carries the watermark. Fetcher.PeekFront does
// not return this type; it returns a *DecodedEvent, a NoItem and a
// has-item flag as separate values.
type PeekResult struct {
	Item  *QueueItem
	Empty NoItem
	// HasItem is false when the fetcher has nothing queued and Empty
	// carries the watermark instead.
	HasItem bool
}

// Earlier implements the comparator from the chain manager design: an
// Item is earlier than a NoItem iff its (timestamp, chain_id) is
// strictly less than the NoItem's (latest_fetched_timestamp, chain_id).
func Earlier(item *DecodedEvent, no NoItem) bool {
	if item.Timestamp != no.LatestFetchedTimestamp {
		return item.Timestamp < no.LatestFetchedTimestamp
	}
	return item.ChainID < no.ChainID
}
