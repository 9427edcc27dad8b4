// Package fetcher implements the chain fetcher (component B): one
// instance per chain, querying a sliding block window over JSON-RPC
// getLogs, decoding matched logs, and queuing them for the chain
// manager with adaptive interval backoff.
package fetcher

import (
	"github.com/chainindexor/core/internal/types"
	"github.com/chainindexor/core/pkg/events"
)

// state is the fetcher's internal state machine position. It is not
// exported: callers only observe effects through PeekFront and the
// "new range queried" notification channel.
type state int

const (
	stateIdle state = iota
	stateQuerying
	stateBackoff
)

// Config configures one chain's fetcher.
type Config struct {
	ChainID uint64
	// StartBlock is the first block to query on a cold start; ignored
	// if a durable checkpoint for this chain already exists.
	StartBlock uint64
	// MaxBlockInterval bounds how many blocks one getLogs call spans.
	// Defaults to 2000 per the external interface contract.
	MaxBlockInterval uint64
	// MaxQueueSize bounds the per-chain output queue; producers block
	// when full, which is how backpressure reaches the manager.
	MaxQueueSize int
	// Finality caps the sliding window at the given block tag so the
	// fetcher never queries past it. It does not rewind anything
	// already queued or committed on a reorg; it only bounds how far
	// ahead of confirmation a window is allowed to run.
	Finality types.BlockFinality
}

func (c *Config) applyDefaults() {
	if c.MaxBlockInterval == 0 {
		c.MaxBlockInterval = 2000
	}
	if c.MaxQueueSize == 0 {
		c.MaxQueueSize = 200
	}
	if c.Finality == "" {
		c.Finality = types.FinalityLatest
	}
}

// peekResult groups the three values PeekFront returns; PeekFront
// itself returns them separately and does not use this type.
type peekResult struct {
	item    *events.DecodedEvent
	noItem  events.NoItem
	hasItem bool
}
