package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/store3d/forge/internal/interfaces"
	"github.com/store3d/forge/internal/models"
	"github.com/store3d/forge/internal/services/bridge"
)

// BridgeHandler serves the DCC bridge API consumed by the Blender addon
type BridgeHandler struct {
	bridgeService *bridge.Service
	logger        arbor.ILogger
}

// NewBridgeHandler creates a new bridge handler
func NewBridgeHandler(bridgeService *bridge.Service, logger arbor.ILogger) *BridgeHandler {
	return &BridgeHandler{
		bridgeService: bridgeService,
		logger:        logger,
	}
}

// IssuePairCodeHandler mints a pair code for the web UI to display
// POST /api/dcc/pair-codes  {"user_id": "..."}
func (h *BridgeHandler) IssuePairCodeHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		WriteError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	pair, err := h.bridgeService.IssuePairCode(r.Context(), req.UserID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "User not found")
			return
		}
		h.logger.Error().Err(err).Msg("Failed to issue pair code")
		WriteError(w, http.StatusInternalServerError, "Failed to issue pair code")
		return
	}

	WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"code":       pair.Code,
		"expires_at": pair.ExpiresAt,
	})
}

// PairHandler exchanges a pair code for a bearer token
// PUT /api/dcc/blender/pair  {"code": "..."}
func (h *BridgeHandler) PairHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		WriteError(w, http.StatusBadRequest, "code is required")
		return
	}

	token, err := h.bridgeService.Redeem(r.Context(), req.Code)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Pair code redemption rejected")
		WriteError(w, http.StatusUnauthorized, "Invalid or expired pair code")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"token": token})
}

// ListDeliveriesHandler returns deliveries awaiting pickup for the
// authenticated client
// GET /api/dcc/blender/jobs?status=queued
func (h *BridgeHandler) ListDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	status := r.URL.Query().Get("status")
	if status != "" && status != string(models.BridgeDeliveryQueued) {
		WriteError(w, http.StatusBadRequest, "Only queued deliveries can be listed")
		return
	}

	deliveries, err := h.bridgeService.QueuedDeliveries(r.Context(), user.ID)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", user.ID).Msg("Failed to list deliveries")
		WriteError(w, http.StatusInternalServerError, "Failed to list deliveries")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{"jobs": deliveries})
}

// AckDeliveryHandler advances a delivery through the client handshake. The
// addon addresses deliveries by the jobId it saw in the listing and sends
// "picked" before the download, then "imported" or "error".
// POST /api/dcc/blender/jobs/{jobId}/ack  {"status": "picked"|"imported"|"error", "message": "..."}
func (h *BridgeHandler) AckDeliveryHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	// /api/dcc/blender/jobs/{jobId}/ack
	jobID := PathSegment(r, 4)
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	var req struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	status := models.BridgeDeliveryStatus(req.Status)
	if req.Status == "error" {
		// Wire status used by the addon
		status = models.BridgeDeliveryFailed
	}

	delivery, err := h.bridgeService.AckDelivery(r.Context(), user.ID, jobID, status, req.Message)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "Delivery not found")
			return
		}
		h.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to ack delivery")
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, delivery)
}

func (h *BridgeHandler) authenticate(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	user, err := h.bridgeService.Authenticate(r.Context(), BearerToken(r))
	if err != nil {
		WriteError(w, http.StatusUnauthorized, "Invalid bridge token")
		return nil, false
	}
	return user, true
}
