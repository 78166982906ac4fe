// -----------------------------------------------------------------------
// Generation Service - request-side lifecycle of generation jobs
// -----------------------------------------------------------------------

package generation

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/store3d/forge/internal/common"
	"github.com/store3d/forge/internal/interfaces"
	"github.com/store3d/forge/internal/ledger"
	"github.com/store3d/forge/internal/models"
	"github.com/store3d/forge/internal/queue"
	"github.com/store3d/forge/internal/state"
)

// CreateJobRequest is the validated payload for a new generation job
type CreateJobRequest struct {
	UserID     string `json:"user_id" validate:"required"`
	Mode       string `json:"mode" validate:"required,oneof=text_to_3d image_to_3d"`
	Prompt     string `json:"prompt" validate:"required_if=Mode text_to_3d,max=2000"`
	SourceURL  string `json:"source_url" validate:"required_if=Mode image_to_3d,omitempty,url"`
	SourceType string `json:"source_type" validate:"omitempty,oneof=prompt image"`
}

// Service owns job creation and cancellation. The worker owns everything in
// between.
type Service struct {
	storage   interfaces.StorageManager
	machine   *state.Machine
	ledger    *ledger.Service
	queue     interfaces.QueueAdapter
	events    interfaces.EventService
	validate  *validator.Validate
	pricing   common.PricingConfig
	estimator common.EstimatorConfig
	provider  string
	logger    arbor.ILogger
}

// NewService creates a generation service
func NewService(cfg *common.Config, storage interfaces.StorageManager, machine *state.Machine, ledgerSvc *ledger.Service, queueAdapter interfaces.QueueAdapter, events interfaces.EventService, logger arbor.ILogger) *Service {
	return &Service{
		storage:   storage,
		machine:   machine,
		ledger:    ledgerSvc,
		queue:     queueAdapter,
		events:    events,
		validate:  validator.New(),
		pricing:   cfg.Pricing,
		estimator: cfg.Estimator,
		provider:  cfg.Provider.Default,
		logger:    logger,
	}
}

// Cost returns the token price for a generation mode
func (s *Service) Cost(mode string) (int, error) {
	switch mode {
	case models.ModeTextTo3D:
		return s.pricing.TextTo3D, nil
	case models.ModeImageTo3D:
		return s.pricing.ImageTo3D, nil
	default:
		return 0, fmt.Errorf("unknown generation mode: %q", mode)
	}
}

// CreateJob validates the request, reserves tokens and enqueues a new job.
// The reservation happens before the job exists; if it fails, no job row is
// ever written.
func (s *Service) CreateJob(ctx context.Context, req *CreateJobRequest) (*models.Job, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid generation request: %w", err)
	}

	cost, err := s.Cost(req.Mode)
	if err != nil {
		return nil, err
	}

	sourceType := req.SourceType
	if sourceType == "" {
		sourceType = models.SourceTypePrompt
		if req.Mode == models.ModeImageTo3D {
			sourceType = models.SourceTypeImage
		}
	}

	jobID := common.NewJobID()

	// Reserve first. An InsufficientCreditsError here means the user never
	// sees a job at all.
	reservation, err := s.ledger.Reserve(ctx, req.UserID, jobID, cost)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	job := &models.Job{
		ID:             jobID,
		UserID:         req.UserID,
		Status:         models.JobStatusQueued,
		Provider:       s.provider,
		Mode:           req.Mode,
		ReservedTokens: cost,
		Prompt:         req.Prompt,
		SourceType:     sourceType,
		SourceURL:      req.SourceURL,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.storage.JobStorage().SaveJob(ctx, job); err != nil {
		// Roll the reservation back so the tokens are not stranded
		if _, releaseErr := s.ledger.Release(ctx, req.UserID, jobID); releaseErr != nil {
			s.logger.Error().Err(releaseErr).Str("job_id", jobID).Msg("Failed to release reservation after save failure")
		}
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	if err := s.queue.Enqueue(ctx, jobID, nil); err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to enqueue job")
	}

	if s.events != nil {
		if err := s.events.Publish(ctx, interfaces.Event{Type: interfaces.EventJobCreated, Payload: job}); err != nil {
			s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to publish job created event")
		}
	}

	s.logger.Info().
		Str("job_id", jobID).
		Str("user_id", req.UserID).
		Str("mode", req.Mode).
		Int("cost", cost).
		Int("balance_after", reservation.BalanceAfter).
		Msg("Generation job created")

	return job, nil
}

// GetJob returns one job
func (s *Service) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	return s.storage.JobStorage().GetJob(ctx, jobID)
}

// ListJobs returns jobs matching the filter
func (s *Service) ListJobs(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.Job, error) {
	return s.storage.JobStorage().ListJobs(ctx, opts)
}

// JobEvents returns a job's transition audit trail
func (s *Service) JobEvents(ctx context.Context, jobID string) ([]*models.JobEvent, error) {
	return s.storage.JobEventStorage().ListJobEvents(ctx, jobID)
}

// Cancel moves a cancellable job to cancelled, refunds its reservation and
// removes it from the queue.
func (s *Service) Cancel(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := s.machine.Transition(ctx, jobID, models.JobStatusCancelled, &state.TransitionMeta{EventType: "cancelled"})
	if err != nil {
		return nil, err
	}

	if _, err := s.ledger.Release(ctx, job.UserID, job.ID); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to release reservation on cancel")
	}

	if err := s.queue.Fail(ctx, job.ID, "cancelled by user"); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to remove cancelled job from queue")
	}

	return job, nil
}

// Snapshot computes current queue depth and per-job ETAs. Recomputed on
// every call.
func (s *Service) Snapshot(ctx context.Context) (*queue.Snapshot, error) {
	jobs, err := s.storage.JobStorage().GetQueueRelevantJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load queue-relevant jobs: %w", err)
	}
	return queue.Compute(jobs, s.estimator, time.Now()), nil
}
