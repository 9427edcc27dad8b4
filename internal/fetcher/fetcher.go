package fetcher

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/chainindexor/core/internal/decoder"
	"github.com/chainindexor/core/internal/logger"
	"github.com/chainindexor/core/internal/types"
	pkgrpc "github.com/chainindexor/core/pkg/rpc"

	"github.com/chainindexor/core/pkg/events"
)

const (
	rpcTimeout          = 20 * time.Second
	backoffDelay        = 5 * time.Second
	backoffFactor       = 0.8
	growthStep          = 200
	minInterval         = 1
	noHeadProgressDelay = 2 * time.Second
)

// backfillJob is a dynamic-contract back-fill query: its decoded events
// go to the chain manager's auxiliary queue, never to the per-chain
// queue, to preserve per-chain monotonicity.
type backfillJob struct {
	address     common.Address
	fromBlock   uint64
	toBlock     uint64
}

// Fetcher is one chain's instance of component B.
type Fetcher struct {
	cfg      Config
	log      *logger.Logger
	provider pkgrpc.EthClient
	registry *decoder.Registry

	mu                     sync.Mutex
	from                   uint64
	interval               uint64
	latestFetchedTimestamp uint64
	queue                  []*events.DecodedEvent
	rangeUpdated           chan struct{}

	notFull *sync.Cond

	auxInject func(*events.DecodedEvent)

	backfillMu  sync.Mutex
	backfillJobs []backfillJob
}

// New returns a fetcher for one chain. startBlock is used only if
// resumeFrom is zero (no durable checkpoint yet).
func New(cfg Config, resumeFrom uint64, log *logger.Logger, provider pkgrpc.EthClient, registry *decoder.Registry) *Fetcher {
	cfg.applyDefaults()
	if log == nil {
		log = logger.NewNopLogger()
	}

	from := cfg.StartBlock
	if resumeFrom > 0 {
		from = resumeFrom
	}

	f := &Fetcher{
		cfg:          cfg,
		log:          log.WithComponent(fmt.Sprintf("fetcher-%d", cfg.ChainID)),
		provider:     provider,
		registry:     registry,
		from:         from,
		interval:     cfg.MaxBlockInterval,
		rangeUpdated: make(chan struct{}),
	}
	f.notFull = sync.NewCond(&f.mu)
	return f
}

// SetAuxInjector wires the chain manager callback that back-filled,
// dynamically-injected events are delivered to.
func (f *Fetcher) SetAuxInjector(fn func(*events.DecodedEvent)) {
	f.mu.Lock()
	f.auxInject = fn
	f.mu.Unlock()
}

// ScheduleBackfill queues a back-fill getLogs query for a single
// address over [fromBlock, toBlock], run interleaved with the main
// sliding window. Used when a dynamic contract registration's
// after_event precedes the chain's latest fetched block.
func (f *Fetcher) ScheduleBackfill(address common.Address, fromBlock, toBlock uint64) {
	f.backfillMu.Lock()
	f.backfillJobs = append(f.backfillJobs, backfillJob{address: address, fromBlock: fromBlock, toBlock: toBlock})
	f.backfillMu.Unlock()
}

// LatestFetchedBlock reports the chain-local progress watermark: the
// upper bound of the most recently completed query window.
func (f *Fetcher) LatestFetchedBlock() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.from == 0 {
		return 0
	}
	return f.from - 1
}

// Run drives the fetcher's state machine until ctx is cancelled.
// Cancellation is checked between windows. RPC calls run under
// contexts derived from ctx, so cancelling ctx also aborts a call that
// is in flight rather than letting it finish or time out.
func (f *Fetcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if job, ok := f.nextBackfillJob(); ok {
			if err := f.runBackfill(ctx, job); err != nil {
				f.log.Errorw("backfill query failed, will not retry automatically", "error", err, "address", job.address.Hex())
			}
			continue
		}

		if err := f.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Any RPC error or timeout enters Backoff: delay, shrink
			// interval, retry the same `from`.
			f.enterBackoff()
			if err := sleepCtx(ctx, backoffDelay); err != nil {
				return err
			}
		}
	}
}

func (f *Fetcher) nextBackfillJob() (backfillJob, bool) {
	f.backfillMu.Lock()
	defer f.backfillMu.Unlock()
	if len(f.backfillJobs) == 0 {
		return backfillJob{}, false
	}
	job := f.backfillJobs[0]
	f.backfillJobs = f.backfillJobs[1:]
	return job, true
}

func (f *Fetcher) enterBackoff() {
	f.mu.Lock()
	next := uint64(float64(f.interval) * backoffFactor)
	if next < minInterval {
		next = minInterval
	}
	f.interval = next
	f.mu.Unlock()
	observeBackoff(f.cfg.ChainID)
	observeInterval(f.cfg.ChainID, next)
	f.notifyRangeUpdated()
}

// runOnce executes one Querying(from, to, interval) step and its
// EnqueueBlocks/Advance follow-up.
func (f *Fetcher) runOnce(ctx context.Context) error {
	f.mu.Lock()
	from := f.from
	interval := f.interval
	f.mu.Unlock()

	head, err := f.resolveFinalityHead(ctx)
	if err != nil {
		return fmt.Errorf("resolve %s head: %w", f.cfg.Finality, err)
	}
	if head < from {
		// Chain hasn't produced a new block confirmed to the
		// configured finality tag yet; wait rather than hammer the
		// RPC with an empty window.
		return sleepCtx(ctx, noHeadProgressDelay)
	}

	to := from + interval - 1
	if to > head {
		to = head
	}

	addresses := f.registry.Addresses(f.cfg.ChainID)

	queryCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	logs, err := f.provider.GetLogs(queryCtx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: addresses,
	})
	cancel()
	if err != nil {
		return fmt.Errorf("getLogs [%d,%d]: %w", from, to, err)
	}

	decoded, err := f.decodeAndResolve(ctx, logs)
	if err != nil {
		return err
	}

	windowTimestamp, err := f.resolveWindowTimestamp(ctx, to, decoded)
	if err != nil {
		return fmt.Errorf("resolve window timestamp for block %d: %w", to, err)
	}

	f.mu.Lock()
	for _, ev := range decoded {
		for len(f.queue) >= f.cfg.MaxQueueSize {
			f.notFull.Wait()
		}
		f.queue = append(f.queue, ev)
	}
	f.latestFetchedTimestamp = windowTimestamp
	f.from = to + 1
	grown := f.interval + growthStep
	if grown > f.cfg.MaxBlockInterval {
		grown = f.cfg.MaxBlockInterval
	}
	f.interval = grown
	queueLen := len(f.queue)
	f.mu.Unlock()

	observeInterval(f.cfg.ChainID, grown)
	observeQueueDepth(f.cfg.ChainID, queueLen)
	observeLastFetchedBlock(f.cfg.ChainID, to)
	f.notifyRangeUpdated()

	return nil
}

// resolveFinalityHead returns the block number of the chain head at the
// fetcher's configured finality tag, the upper bound the sliding window
// is never allowed to cross.
func (f *Fetcher) resolveFinalityHead(ctx context.Context) (uint64, error) {
	queryCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	var header *gethtypes.Header
	var err error
	switch f.cfg.Finality {
	case types.FinalityFinalized:
		header, err = f.provider.GetFinalizedBlockHeader(queryCtx)
	case types.FinalitySafe:
		header, err = f.provider.GetSafeBlockHeader(queryCtx)
	default:
		header, err = f.provider.GetLatestBlockHeader(queryCtx)
	}
	if err != nil {
		return 0, err
	}
	return header.Number.Uint64(), nil
}

// decodeAndResolve decodes matched logs and fills in their block
// timestamps, issuing at most one getBlock per unique block number.
func (f *Fetcher) decodeAndResolve(ctx context.Context, logs []gethtypes.Log) ([]*events.DecodedEvent, error) {
	decoded := make([]*events.DecodedEvent, 0, len(logs))
	blockNumbers := make([]uint64, 0, len(logs))
	seen := make(map[uint64]struct{})

	for _, log := range logs {
		ev, matched, err := f.registry.Decode(f.cfg.ChainID, log)
		if err != nil {
			// Decoding failure for a known topic is fatal: ABI/schema
			// drift, not something backoff can fix.
			return nil, fmt.Errorf("fatal decode error: %w", err)
		}
		if !matched {
			continue
		}
		decoded = append(decoded, ev)
		if _, ok := seen[log.BlockNumber]; !ok {
			seen[log.BlockNumber] = struct{}{}
			blockNumbers = append(blockNumbers, log.BlockNumber)
		}
	}

	if len(blockNumbers) == 0 {
		return decoded, nil
	}

	headers, err := f.provider.BatchGetBlockHeaders(ctx, blockNumbers)
	if err != nil {
		return nil, fmt.Errorf("batch getBlock: %w", err)
	}
	byNumber := make(map[uint64]*gethtypes.Header, len(headers))
	for _, h := range headers {
		if h == nil {
			return nil, fmt.Errorf("null block header in batch response")
		}
		byNumber[h.Number.Uint64()] = h
	}

	for _, ev := range decoded {
		h, ok := byNumber[ev.Raw.BlockNumber]
		if !ok {
			return nil, fmt.Errorf("missing block header for block %d", ev.Raw.BlockNumber)
		}
		ev.Timestamp = h.Time
	}

	return decoded, nil
}

// resolveWindowTimestamp reports the timestamp to advertise via NoItem
// once the window is drained: the last event's timestamp if the window
// produced any, otherwise the `to` block's own header timestamp so the
// manager can still reason about progress on an empty window.
func (f *Fetcher) resolveWindowTimestamp(ctx context.Context, to uint64, decoded []*events.DecodedEvent) (uint64, error) {
	if len(decoded) > 0 {
		max := decoded[0].Timestamp
		for _, ev := range decoded[1:] {
			if ev.Timestamp > max {
				max = ev.Timestamp
			}
		}
		return max, nil
	}

	queryCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()
	header, err := f.provider.GetBlockHeader(queryCtx, to)
	if err != nil {
		// A null/errored block response on the boundary is treated as
		// an RPC error by the caller's backoff path.
		return 0, err
	}
	return header.Time, nil
}

func (f *Fetcher) runBackfill(ctx context.Context, job backfillJob) error {
	queryCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	logs, err := f.provider.GetLogs(queryCtx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(job.fromBlock),
		ToBlock:   new(big.Int).SetUint64(job.toBlock),
		Addresses: []common.Address{job.address},
	})
	cancel()
	if err != nil {
		return fmt.Errorf("backfill getLogs [%d,%d] %s: %w", job.fromBlock, job.toBlock, job.address.Hex(), err)
	}

	decoded, err := f.decodeAndResolve(ctx, logs)
	if err != nil {
		return err
	}

	f.mu.Lock()
	inject := f.auxInject
	f.mu.Unlock()
	if inject == nil {
		return fmt.Errorf("backfill produced %d events but no aux injector is wired", len(decoded))
	}
	for _, ev := range decoded {
		inject(ev)
	}
	return nil
}

// PeekFront returns the earliest queued item without removing it, or a
// NoItem watermark if the queue is currently empty.
func (f *Fetcher) PeekFront() (item *events.DecodedEvent, noItem events.NoItem, hasItem bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) > 0 {
		return f.queue[0], events.NoItem{}, true
	}
	return nil, events.NoItem{LatestFetchedTimestamp: f.latestFetchedTimestamp, ChainID: f.cfg.ChainID}, false
}

// PopFront removes and returns the earliest queued item. Callers must
// have just observed it via PeekFront; PopFront does not itself peek.
func (f *Fetcher) PopFront() *events.DecodedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return nil
	}
	item := f.queue[0]
	f.queue = f.queue[1:]
	f.notFull.Signal()
	observeQueueDepth(f.cfg.ChainID, len(f.queue))
	return item
}

// AwaitNext blocks until the fetcher completes its next query window
// (successful or backed off), or ctx is cancelled. This is the
// suspension point pop_async relies on when this chain reports NoItem.
func (f *Fetcher) AwaitNext(ctx context.Context) error {
	f.mu.Lock()
	ch := f.rangeUpdated
	f.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Fetcher) notifyRangeUpdated() {
	f.mu.Lock()
	old := f.rangeUpdated
	f.rangeUpdated = make(chan struct{})
	f.mu.Unlock()
	close(old)
}

// ChainID returns the chain this fetcher serves.
func (f *Fetcher) ChainID() uint64 {
	return f.cfg.ChainID
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
