// Package decoder implements the event decoder registry (component A):
// it maps (chain id, contract address, topic) to a typed event variant
// and decodes raw logs into events.DecodedEvent values. ABI parsing
// itself is delegated to go-ethereum's accounts/abi package, treated as
// the "ABI parsing and log decoding" collaborator the core consumes
// through this registry rather than reimplements.
package decoder

import (
	"fmt"
	"os"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/chainindexor/core/pkg/events"
)

// LoadABI reads and parses a contract ABI JSON file from disk.
func LoadABI(path string) (abi.ABI, error) {
	f, err := os.Open(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("decoder: open ABI file %s: %w", path, err)
	}
	defer f.Close()

	parsed, err := abi.JSON(f)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("decoder: parse ABI file %s: %w", path, err)
	}
	return parsed, nil
}

// EventDescriptor names the variant a topic decodes to.
type EventDescriptor struct {
	ContractType string
	EventName    string
	Event        abi.Event
}

type contractEntry struct {
	contractType string
	abi          abi.ABI
	// topics indexed by the subset of event names the config declared
	// for this contract, not necessarily every event in the ABI.
	topics map[common.Hash]EventDescriptor
}

// Registry is the per-process decoder registry. It is immutable after
// construction except for RegisterContract / RegisterContractByType, a
// pure addition used by the dynamic contract registrar.
type Registry struct {
	mu sync.RWMutex
	// contracts[chainID][address] -> contractEntry
	contracts map[uint64]map[common.Address]*contractEntry
	// templates[contractType] -> the ABI and event subset declared for
	// it at startup, reused when a new address of a known contract
	// type registers dynamically without resupplying its ABI.
	templates map[string]contractEntry
	// unknownTopics counts logs skipped because no registered contract
	// declared that topic; exposed for metrics wiring.
	unknownTopics uint64
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		contracts: make(map[uint64]map[common.Address]*contractEntry),
		templates: make(map[string]contractEntry),
	}
}

// RegisterContract adds a contract's ABI and the subset of its events to
// index for a given chain and address. Calling it again for the same
// (chain, address) replaces the prior registration; calling it for a new
// address on an existing contract type is the "pure addition" the spec
// describes for dynamic contract registration.
func (r *Registry) RegisterContract(chainID uint64, address common.Address, contractType string, contractABI abi.ABI, eventNames []string) error {
	topics := make(map[common.Hash]EventDescriptor, len(eventNames))
	for _, name := range eventNames {
		ev, ok := contractABI.Events[name]
		if !ok {
			return fmt.Errorf("decoder: event %q not found in ABI for contract type %q", name, contractType)
		}
		topics[ev.ID] = EventDescriptor{
			ContractType: contractType,
			EventName:    name,
			Event:        ev,
		}
	}

	entry := contractEntry{
		contractType: contractType,
		abi:          contractABI,
		topics:       topics,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.templates[contractType] = entry

	byAddress, ok := r.contracts[chainID]
	if !ok {
		byAddress = make(map[common.Address]*contractEntry)
		r.contracts[chainID] = byAddress
	}
	byAddress[address] = &entry
	return nil
}

// RegisterContractByType adds a new address for a contract type whose
// ABI and event subset were already declared via RegisterContract on
// some chain. This is the pure-addition path dynamic contract
// registration uses: it never needs the ABI again.
func (r *Registry) RegisterContractByType(chainID uint64, address common.Address, contractType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tmpl, ok := r.templates[contractType]
	if !ok {
		return fmt.Errorf("decoder: unknown contract type %q, register it via config first", contractType)
	}

	byAddress, ok := r.contracts[chainID]
	if !ok {
		byAddress = make(map[common.Address]*contractEntry)
		r.contracts[chainID] = byAddress
	}
	byAddress[address] = &tmpl
	return nil
}

// Decode matches a log against the registry and decodes it into a
// DecodedEvent. It returns (nil, false, nil) for an address or topic the
// registry doesn't know about — silently skipped, counted via
// UnknownTopicCount. A decoding error for a topic the registry DOES
// recognize is returned as a fatal error: it indicates ABI/schema drift
// and the caller should not retry.
func (r *Registry) Decode(chainID uint64, log types.Log) (*events.DecodedEvent, bool, error) {
	if len(log.Topics) == 0 {
		return nil, false, nil
	}

	r.mu.RLock()
	byAddress, ok := r.contracts[chainID]
	if !ok {
		r.mu.RUnlock()
		r.bumpUnknown()
		return nil, false, nil
	}
	entry, ok := byAddress[log.Address]
	if !ok {
		r.mu.RUnlock()
		r.bumpUnknown()
		return nil, false, nil
	}
	desc, ok := entry.topics[log.Topics[0]]
	if !ok {
		r.mu.RUnlock()
		r.bumpUnknown()
		return nil, false, nil
	}
	contractABI := entry.abi
	r.mu.RUnlock()

	args := make(map[string]any, len(desc.Event.Inputs))

	indexed := make(abi.Arguments, 0)
	nonIndexed := make(abi.Arguments, 0)
	for _, input := range desc.Event.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		} else {
			nonIndexed = append(nonIndexed, input)
		}
	}

	if len(nonIndexed) > 0 {
		unpacked := make(map[string]any)
		if err := contractABI.UnpackIntoMap(unpacked, desc.EventName, log.Data); err != nil {
			return nil, true, fmt.Errorf("decoder: unpack %s.%s: %w", desc.ContractType, desc.EventName, err)
		}
		for k, v := range unpacked {
			args[k] = v
		}
	}

	if len(indexed) > 0 {
		if len(log.Topics)-1 < len(indexed) {
			return nil, true, fmt.Errorf("decoder: %s.%s has %d indexed args but log has %d topics", desc.ContractType, desc.EventName, len(indexed), len(log.Topics)-1)
		}
		if err := abi.ParseTopicsIntoMap(args, indexed, log.Topics[1:]); err != nil {
			return nil, true, fmt.Errorf("decoder: parse indexed topics %s.%s: %w", desc.ContractType, desc.EventName, err)
		}
	}

	decoded := &events.DecodedEvent{
		OrderKey: events.OrderKey{
			ChainID:     chainID,
			BlockNumber: log.BlockNumber,
			LogIndex:    log.Index,
			// Timestamp is filled in later once the fetcher resolves
			// the block header; zero here is not a valid ordering key.
		},
		ContractType:    desc.ContractType,
		EventName:       desc.EventName,
		ContractAddress: log.Address,
		Args:            args,
		Raw:             log,
	}
	return decoded, true, nil
}

func (r *Registry) bumpUnknown() {
	r.mu.Lock()
	r.unknownTopics++
	r.mu.Unlock()
}

// UnknownTopicCount returns the number of logs silently skipped because
// no registered contract declared their topic.
func (r *Registry) UnknownTopicCount() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.unknownTopics
}

// Addresses returns the set of contract addresses currently registered
// for a chain, used by the fetcher to build its getLogs filter.
func (r *Registry) Addresses(chainID uint64) []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byAddress, ok := r.contracts[chainID]
	if !ok {
		return nil
	}
	out := make([]common.Address, 0, len(byAddress))
	for addr := range byAddress {
		out = append(out, addr)
	}
	return out
}

// ContractType returns the contract type registered for an address on a
// chain, used by the dynamic-contract back-fill path to look up ABI
// event descriptors once a new address joins an existing type.
func (r *Registry) ContractType(chainID uint64, address common.Address) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byAddress, ok := r.contracts[chainID]
	if !ok {
		return "", false
	}
	entry, ok := byAddress[address]
	if !ok {
		return "", false
	}
	return entry.contractType, true
}
