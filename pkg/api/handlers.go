package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/chainindexor/core/internal/decoder"
	"github.com/chainindexor/core/internal/logger"
	pkgstorage "github.com/chainindexor/core/pkg/storage"
)

// Handler handles the debug HTTP API's requests: checkpoint and entity
// introspection against durable storage, plus a registry-derived stats
// view. It has no write paths — everything here is read-only, the
// commit engine is the only writer.
type Handler struct {
	storage  pkgstorage.Storage
	registry *decoder.Registry
	chainIDs []uint64
	log      *logger.Logger
}

// NewHandler creates a new API handler. chainIDs is the set of
// configured chains to report checkpoints for.
func NewHandler(storage pkgstorage.Storage, registry *decoder.Registry, chainIDs []uint64, log *logger.Logger) *Handler {
	return &Handler{
		storage:  storage,
		registry: registry,
		chainIDs: chainIDs,
		log:      log,
	}
}

// Health reports that the process is up. It does not touch storage:
// a database outage shouldn't make the liveness probe fail.
// @Summary Health check
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /healthz [get]
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
	})
}

// Checkpoints reports each configured chain's latest durably committed
// block.
// @Summary List chain checkpoints
// @Produce json
// @Success 200 {object} CheckpointsResponse
// @Failure 500 {object} ErrorResponse
// @Router /checkpoints [get]
func (h *Handler) Checkpoints(w http.ResponseWriter, r *http.Request) {
	checkpoints, err := h.fetchCheckpoints(r)
	if err != nil {
		h.log.Errorf("failed to read checkpoints: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to read checkpoints")
		return
	}
	respondJSON(w, http.StatusOK, CheckpointsResponse{Checkpoints: checkpoints})
}

// GetEntity reads a single entity row by type and id from durable
// storage.
// @Summary Get an entity by type and id
// @Produce json
// @Param type path string true "Entity type"
// @Param id path string true "Entity id"
// @Success 200 {object} EntityResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /entities/{type}/{id} [get]
func (h *Handler) GetEntity(w http.ResponseWriter, r *http.Request) {
	entityType := r.PathValue("type")
	id := r.PathValue("id")
	if entityType == "" || id == "" {
		respondError(w, http.StatusBadRequest, "entity type and id are required")
		return
	}

	var value any
	var found bool
	err := h.storage.WithTx(r.Context(), func(tx pkgstorage.Tx) error {
		rows, err := tx.BatchRead(r.Context(), entityType, []string{id})
		if err != nil {
			return err
		}
		if len(rows) > 0 {
			value = rows[0].Value
			found = true
		}
		return nil
	})
	if err != nil {
		h.log.Errorf("failed to read entity %s/%s: %v", entityType, id, err)
		respondError(w, http.StatusInternalServerError, "failed to read entity")
		return
	}
	if !found {
		respondError(w, http.StatusNotFound, fmt.Sprintf("entity %s/%s not found", entityType, id))
		return
	}

	respondJSON(w, http.StatusOK, EntityResponse{EntityType: entityType, ID: id, Value: value})
}

// Stats reports checkpoints plus the decoder registry's unknown-topic
// counter, the debug-API equivalent of the Prometheus gauges exposed by
// internal/metrics.
// @Summary Indexer-wide stats
// @Produce json
// @Success 200 {object} StatsResponse
// @Failure 500 {object} ErrorResponse
// @Router /stats [get]
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	checkpoints, err := h.fetchCheckpoints(r)
	if err != nil {
		h.log.Errorf("failed to read checkpoints: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to read checkpoints")
		return
	}

	respondJSON(w, http.StatusOK, StatsResponse{
		Checkpoints:   checkpoints,
		UnknownTopics: h.registry.UnknownTopicCount(),
	})
}

func (h *Handler) fetchCheckpoints(r *http.Request) ([]CheckpointInfo, error) {
	checkpoints := make([]CheckpointInfo, 0, len(h.chainIDs))
	err := h.storage.WithTx(r.Context(), func(tx pkgstorage.Tx) error {
		for _, chainID := range h.chainIDs {
			block, ok, err := tx.LatestProcessedBlock(r.Context(), chainID)
			if err != nil {
				return err
			}
			checkpoints = append(checkpoints, CheckpointInfo{ChainID: chainID, LatestBlock: block, HasCheckpoint: ok})
		}
		return nil
	})
	return checkpoints, err
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")

	encoded, err := json.Marshal(data)
	if err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	if _, err := w.Write(encoded); err != nil {
		return
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	})
}
