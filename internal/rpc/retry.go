package rpc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/chainindexor/core/pkg/config"
	pkgrpc "github.com/chainindexor/core/pkg/rpc"
)

// retryingClient wraps an EthClient so every call is retried with
// exponential backoff per cfg, the way the teacher's retry.go was
// written to be used but never itself wired into a caller.
type retryingClient struct {
	inner pkgrpc.EthClient
	cfg   *config.RetryConfig
}

// NewRetryingClient decorates inner with retryWithBackoff on every
// method. A nil cfg makes every call a passthrough (single attempt).
func NewRetryingClient(inner pkgrpc.EthClient, cfg *config.RetryConfig) pkgrpc.EthClient {
	return &retryingClient{inner: inner, cfg: cfg}
}

func (r *retryingClient) Close() {
	r.inner.Close()
}

func (r *retryingClient) GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	var out []types.Log
	err := retryWithBackoff(ctx, r.cfg, "get_logs", func() error {
		logs, err := r.inner.GetLogs(ctx, query)
		out = logs
		return err
	})
	return out, err
}

func (r *retryingClient) GetBlockHeader(ctx context.Context, blockNum uint64) (*types.Header, error) {
	var out *types.Header
	err := retryWithBackoff(ctx, r.cfg, "get_block_header", func() error {
		h, err := r.inner.GetBlockHeader(ctx, blockNum)
		out = h
		return err
	})
	return out, err
}

func (r *retryingClient) GetLatestBlockHeader(ctx context.Context) (*types.Header, error) {
	var out *types.Header
	err := retryWithBackoff(ctx, r.cfg, "get_latest_block_header", func() error {
		h, err := r.inner.GetLatestBlockHeader(ctx)
		out = h
		return err
	})
	return out, err
}

func (r *retryingClient) GetFinalizedBlockHeader(ctx context.Context) (*types.Header, error) {
	var out *types.Header
	err := retryWithBackoff(ctx, r.cfg, "get_finalized_block_header", func() error {
		h, err := r.inner.GetFinalizedBlockHeader(ctx)
		out = h
		return err
	})
	return out, err
}

func (r *retryingClient) GetSafeBlockHeader(ctx context.Context) (*types.Header, error) {
	var out *types.Header
	err := retryWithBackoff(ctx, r.cfg, "get_safe_block_header", func() error {
		h, err := r.inner.GetSafeBlockHeader(ctx)
		out = h
		return err
	})
	return out, err
}

func (r *retryingClient) BatchGetLogs(ctx context.Context, queries []ethereum.FilterQuery) ([][]types.Log, error) {
	var out [][]types.Log
	err := retryWithBackoff(ctx, r.cfg, "batch_get_logs", func() error {
		logs, err := r.inner.BatchGetLogs(ctx, queries)
		out = logs
		return err
	})
	return out, err
}

func (r *retryingClient) BatchGetBlockHeaders(ctx context.Context, blockNums []uint64) ([]*types.Header, error) {
	var out []*types.Header
	err := retryWithBackoff(ctx, r.cfg, "batch_get_block_headers", func() error {
		headers, err := r.inner.BatchGetBlockHeaders(ctx, blockNums)
		out = headers
		return err
	})
	return out, err
}

// retryableError checks if an error should trigger a retry.
func retryableError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	// Network errors
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// Connection errors
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	// Timeout errors
	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "context deadline exceeded") {
		return true
	}

	// Rate limiting
	if strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "rate limit") {
		return true
	}

	// Temporary server errors
	if strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "gateway timeout") {
		return true
	}

	// Connection pool exhausted
	if strings.Contains(errStr, "connection pool") ||
		strings.Contains(errStr, "no available connection") {
		return true
	}

	return false
}

// calculateBackoff computes the backoff duration for a given attempt with jitter.
func calculateBackoff(attempt int, cfg *config.RetryConfig) time.Duration {
	if attempt <= 1 {
		return 0
	}

	// Calculate exponential backoff
	backoff := float64(cfg.InitialBackoff.Duration) * math.Pow(cfg.BackoffMultiplier, float64(attempt-2))

	// Cap at max backoff
	if backoff > float64(cfg.MaxBackoff.Duration) {
		backoff = float64(cfg.MaxBackoff.Duration)
	}

	// Add jitter (Â±25%)
	jitterRange := backoff * 0.25
	jitter := (rand.Float64() * 2 * jitterRange) - jitterRange
	backoff += jitter

	// Ensure non-negative
	if backoff < 0 {
		backoff = 0
	}

	return time.Duration(backoff)
}

// retryWithBackoff executes a function with exponential backoff retry logic.
// It respects context cancellation and deadlines.
func retryWithBackoff(ctx context.Context, cfg *config.RetryConfig, operation string, fn func() error) error {
	if cfg == nil {
		// No retry config, execute once
		return fn()
	}

	var lastErr error
	startTime := time.Now()

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		// Check context before attempting
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context cancelled before attempt %d: %w", attempt, err)
		}

		// Execute the operation
		err := fn()
		if err == nil {
			// Success
			if attempt > 1 {
				// Log retry success metrics
				RPCRetryInc(operation)
			}
			return nil
		}

		lastErr = err

		// Check if error is retryable
		if !retryableError(err) {
			// Non-retryable error, fail immediately
			return fmt.Errorf("non-retryable error on attempt %d/%d: %w", attempt, cfg.MaxAttempts, err)
		}

		// Check if we have more attempts left
		if attempt >= cfg.MaxAttempts {
			// No more retries
			break
		}

		// Calculate the backoff to wait before the next attempt
		backoffDuration := calculateBackoff(attempt+1, cfg)

		// Wait with context awareness
		if backoffDuration > 0 {
			select {
			case <-time.After(backoffDuration):
				// Continue to next attempt
			case <-ctx.Done():
				return fmt.Errorf("context cancelled during backoff (attempt %d/%d): %w",
					attempt, cfg.MaxAttempts, ctx.Err())
			}
		}

		// Increment retry counter
		RPCRetryInc(operation)
	}

	// All retries exhausted
	return fmt.Errorf("all %d attempts failed after %v (last error: %w)",
		cfg.MaxAttempts, time.Since(startTime), lastErr)
}
