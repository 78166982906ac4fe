package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/store3d/forge/internal/services/generation"
)

// QueueHandler exposes the queue snapshot
type QueueHandler struct {
	generationService *generation.Service
	logger            arbor.ILogger
}

// NewQueueHandler creates a new queue handler
func NewQueueHandler(generationService *generation.Service, logger arbor.ILogger) *QueueHandler {
	return &QueueHandler{
		generationService: generationService,
		logger:            logger,
	}
}

// SnapshotHandler returns the current queue depth and per-job ETAs. The
// numbers are display estimates and can move in either direction between
// calls.
// GET /api/queue/snapshot
func (h *QueueHandler) SnapshotHandler(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.generationService.Snapshot(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to compute queue snapshot")
		WriteError(w, http.StatusInternalServerError, "Failed to compute queue snapshot")
		return
	}

	WriteJSON(w, http.StatusOK, snapshot)
}
