package api

import "time"

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// CheckpointInfo is a single chain's durably committed progress.
type CheckpointInfo struct {
	ChainID       uint64 `json:"chain_id"`
	LatestBlock   uint64 `json:"latest_block"`
	HasCheckpoint bool   `json:"has_checkpoint"`
}

// CheckpointsResponse lists every configured chain's checkpoint.
type CheckpointsResponse struct {
	Checkpoints []CheckpointInfo `json:"checkpoints"`
}

// EntityResponse wraps a single entity row read back from the store.
type EntityResponse struct {
	EntityType string `json:"entity_type"`
	ID         string `json:"id"`
	Value      any    `json:"value"`
}

// StatsResponse reports process-wide indexing stats, the debug
// counterpart to the Prometheus metrics exposed by internal/metrics.
type StatsResponse struct {
	Checkpoints   []CheckpointInfo `json:"checkpoints"`
	UnknownTopics uint64           `json:"unknown_topics"`
}
