package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ternarybob/arbor"

	"github.com/store3d/forge/internal/interfaces"
	"github.com/store3d/forge/internal/ledger"
	"github.com/store3d/forge/internal/services/generation"
	"github.com/store3d/forge/internal/state"
)

// JobHandler handles generation job API requests
type JobHandler struct {
	generationService *generation.Service
	logger            arbor.ILogger
}

// NewJobHandler creates a new job handler
func NewJobHandler(generationService *generation.Service, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		generationService: generationService,
		logger:            logger,
	}
}

// CreateJobHandler creates a new generation job
// POST /api/jobs
func (h *JobHandler) CreateJobHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req generation.CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	job, err := h.generationService.CreateJob(ctx, &req)
	if err != nil {
		var insufficient *ledger.InsufficientCreditsError
		if errors.As(err, &insufficient) {
			WriteError(w, http.StatusPaymentRequired, "Insufficient token balance")
			return
		}
		h.logger.Warn().Err(err).Msg("Failed to create job")
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	WriteJSON(w, http.StatusCreated, job)
}

// ListJobsHandler returns a filtered list of jobs
// GET /api/jobs?user_id=...&status=completed&limit=50&offset=0
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := 50
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}

	opts := &interfaces.JobListOptions{
		UserID:   r.URL.Query().Get("user_id"),
		Status:   r.URL.Query().Get("status"),
		Limit:    limit,
		Offset:   offset,
		OrderBy:  r.URL.Query().Get("order_by"),
		OrderDir: r.URL.Query().Get("order_dir"),
	}

	jobs, err := h.generationService.ListJobs(ctx, opts)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list jobs")
		WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":   jobs,
		"limit":  limit,
		"offset": offset,
	})
}

// GetJobHandler returns a single job by ID
// GET /api/jobs/{id}
func (h *JobHandler) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	jobID := PathSegment(r, 2)
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	job, err := h.generationService.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "Job not found")
			return
		}
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	WriteJSON(w, http.StatusOK, job)
}

// GetJobEventsHandler returns a job's transition audit trail
// GET /api/jobs/{id}/events
func (h *JobHandler) GetJobEventsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	jobID := PathSegment(r, 2)
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	events, err := h.generationService.JobEvents(ctx, jobID)
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to list job events")
		WriteError(w, http.StatusInternalServerError, "Failed to list job events")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// CancelJobHandler cancels a job and refunds its reservation
// POST /api/jobs/{id}/cancel
func (h *JobHandler) CancelJobHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	jobID := PathSegment(r, 2)
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	job, err := h.generationService.Cancel(ctx, jobID)
	if err != nil {
		var invalid *state.InvalidTransitionError
		if errors.As(err, &invalid) {
			WriteError(w, http.StatusConflict, "Job cannot be cancelled in its current state")
			return
		}
		if errors.Is(err, interfaces.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "Job not found")
			return
		}
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to cancel job")
		WriteError(w, http.StatusInternalServerError, "Failed to cancel job")
		return
	}

	WriteJSON(w, http.StatusOK, job)
}
