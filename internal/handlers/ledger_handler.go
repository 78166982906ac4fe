package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ternarybob/arbor"

	"github.com/store3d/forge/internal/interfaces"
	"github.com/store3d/forge/internal/ledger"
)

// LedgerHandler exposes token balances and ledger history
type LedgerHandler struct {
	ledgerService *ledger.Service
	logger        arbor.ILogger
}

// NewLedgerHandler creates a new ledger handler
func NewLedgerHandler(ledgerService *ledger.Service, logger arbor.ILogger) *LedgerHandler {
	return &LedgerHandler{
		ledgerService: ledgerService,
		logger:        logger,
	}
}

// BalanceHandler returns a user's current token balance
// GET /api/users/{id}/balance
func (h *LedgerHandler) BalanceHandler(w http.ResponseWriter, r *http.Request) {
	userID := PathSegment(r, 2)
	if userID == "" {
		WriteError(w, http.StatusBadRequest, "User ID is required")
		return
	}

	balance, err := h.ledgerService.Balance(r.Context(), userID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "User not found")
			return
		}
		h.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to get balance")
		WriteError(w, http.StatusInternalServerError, "Failed to get balance")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": userID,
		"balance": balance,
	})
}

// EventsHandler returns a user's ledger history, newest first
// GET /api/users/{id}/ledger?limit=50
func (h *LedgerHandler) EventsHandler(w http.ResponseWriter, r *http.Request) {
	userID := PathSegment(r, 2)
	if userID == "" {
		WriteError(w, http.StatusBadRequest, "User ID is required")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	events, err := h.ledgerService.Events(r.Context(), userID, limit)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to list ledger events")
		WriteError(w, http.StatusInternalServerError, "Failed to list ledger events")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// TopUpHandler credits purchased tokens. The idempotency key ties the
// credit to its payment reference so webhook redelivery cannot double-pay.
// POST /api/users/{id}/topup  {"amount": 100, "idempotency_key": "pay_...", "reason": "..."}
func (h *LedgerHandler) TopUpHandler(w http.ResponseWriter, r *http.Request) {
	userID := PathSegment(r, 2)
	if userID == "" {
		WriteError(w, http.StatusBadRequest, "User ID is required")
		return
	}

	var req struct {
		Amount         int    `json:"amount"`
		IdempotencyKey string `json:"idempotency_key"`
		Reason         string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.IdempotencyKey == "" {
		WriteError(w, http.StatusBadRequest, "idempotency_key is required")
		return
	}

	result, err := h.ledgerService.TopUp(r.Context(), userID, req.Amount, req.IdempotencyKey, req.Reason)
	if err != nil {
		h.logger.Warn().Err(err).Str("user_id", userID).Msg("Top-up rejected")
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, result)
}
