// -----------------------------------------------------------------------
// Worker - advances eligible jobs one step per tick
// -----------------------------------------------------------------------

package worker

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/store3d/forge/internal/common"
	"github.com/store3d/forge/internal/interfaces"
	"github.com/store3d/forge/internal/ledger"
	"github.com/store3d/forge/internal/models"
	"github.com/store3d/forge/internal/provider"
	"github.com/store3d/forge/internal/queue"
	"github.com/store3d/forge/internal/state"
)

// errStale marks jobs abandoned mid-flight, e.g. after a crash. Treated as
// a transient failure so the normal retry budget applies.
var errStale = provider.Transient(errors.New("job stalled in flight"))

// Worker drives eligible jobs through the state machine. Each tick advances
// a bounded batch of due jobs by at most one provider interaction each;
// long-running generations make progress across many ticks.
type Worker struct {
	jobs     interfaces.JobStorage
	machine  *state.Machine
	ledger   *ledger.Service
	queue    interfaces.QueueAdapter
	provider interfaces.GenerationProvider
	logger   arbor.ILogger

	batchLimit  int
	maxAttempts int
	pollDelay   time.Duration
	retryBase   time.Duration
	retryMax    time.Duration
	staleAfter  time.Duration
}

// New creates a worker from the configured collaborators
func New(cfg *common.Config, jobs interfaces.JobStorage, machine *state.Machine, ledgerSvc *ledger.Service, queueAdapter interfaces.QueueAdapter, provider interfaces.GenerationProvider, logger arbor.ILogger) *Worker {
	batchLimit := cfg.Worker.BatchLimit
	if batchLimit <= 0 {
		batchLimit = 10
	}
	maxAttempts := cfg.Queue.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	return &Worker{
		jobs:        jobs,
		machine:     machine,
		ledger:      ledgerSvc,
		queue:       queueAdapter,
		provider:    provider,
		logger:      logger,
		batchLimit:  batchLimit,
		maxAttempts: maxAttempts,
		pollDelay:   common.ParseDuration(cfg.Worker.PollDelay, 3*time.Second),
		retryBase:   common.ParseDuration(cfg.Queue.RetryBaseDelay, 15*time.Second),
		retryMax:    common.ParseDuration(cfg.Queue.RetryMaxDelay, 4*time.Minute),
		staleAfter:  common.ParseDuration(cfg.Worker.StaleAfter, 15*time.Minute),
	}
}

// Tick advances up to the configured batch of due jobs and returns how many
// actually moved. Per-job failures are absorbed into the job lifecycle and
// never abort the batch.
func (w *Worker) Tick(ctx context.Context) (int, error) {
	jobs, err := w.jobs.GetEligibleJobs(ctx, time.Now(), w.batchLimit)
	if err != nil {
		return 0, err
	}

	advanced := 0
	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		if w.advance(ctx, job) {
			advanced++
		}
	}

	if advanced > 0 {
		w.logger.Debug().
			Int("eligible", len(jobs)).
			Int("advanced", advanced).
			Msg("Worker tick")
	}

	return advanced, nil
}

// advance moves one job a single step. Returns true when the job changed.
func (w *Worker) advance(ctx context.Context, job *models.Job) bool {
	switch models.NormalizeStatus(job.Status) {
	case models.JobStatusQueued:
		return w.start(ctx, job, models.JobStatusRunning)

	case models.JobStatusRunning:
		// A crash between the running transition and the provider submit
		// leaves the job here; resubmit.
		return w.submit(ctx, job)

	case models.JobStatusRetrying:
		// Retries resubmit from scratch under the fresh queue entry
		return w.start(ctx, job, models.JobStatusProviderPending)

	case models.JobStatusProviderPending, models.JobStatusProviderProcessing:
		return w.poll(ctx, job)

	case models.JobStatusPostprocessing:
		return w.complete(ctx, job)

	default:
		return false
	}
}

// start transitions a fresh or retrying job forward and submits it to the
// provider.
func (w *Worker) start(ctx context.Context, job *models.Job, via models.JobStatus) bool {
	updated, err := w.machine.Transition(ctx, job.ID, via, nil)
	if err != nil {
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to begin job")
		return false
	}
	return w.submit(ctx, updated)
}

// submit asks the provider to start the generation
func (w *Worker) submit(ctx context.Context, job *models.Job) bool {
	update, err := w.provider.Start(ctx, job)
	if err != nil {
		w.handleProviderError(ctx, job, err)
		return true
	}

	next := time.Now().Add(w.pollDelay)
	meta := &state.TransitionMeta{
		ProviderJobID: update.ProviderJobID,
		Progress:      intPtr(update.Progress),
		NextActionAt:  &next,
	}

	if models.NormalizeStatus(job.Status) == models.JobStatusProviderPending {
		// Retry path already sits at provider_pending; record the new
		// provider id without a status change.
		job.ProviderJobID = update.ProviderJobID
		job.NextActionAt = &next
		if err := w.jobs.SaveJob(ctx, job); err != nil {
			w.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to record provider submission")
		}
		return true
	}

	if _, err := w.machine.Transition(ctx, job.ID, models.JobStatusProviderPending, meta); err != nil {
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to record provider submission")
	}
	return true
}

// poll observes the provider-side generation and advances accordingly
func (w *Worker) poll(ctx context.Context, job *models.Job) bool {
	update, err := w.provider.Poll(ctx, job)
	if err != nil {
		w.handleProviderError(ctx, job, err)
		return true
	}

	switch update.Status {
	case interfaces.ProviderStatusSucceeded:
		meta := &state.TransitionMeta{
			Progress: intPtr(100),
			Result:   update.Result,
		}
		if _, err := w.machine.Transition(ctx, job.ID, models.JobStatusPostprocessing, meta); err != nil {
			w.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to enter postprocessing")
			return true
		}
		// Finish within the same tick; postprocessing is local work
		return w.complete(ctx, job)

	case interfaces.ProviderStatusFailed:
		msg := update.ErrorMessage
		if msg == "" {
			msg = "generation failed"
		}
		w.fail(ctx, job, msg)
		return true

	default:
		next := time.Now().Add(w.pollDelay)
		if models.NormalizeStatus(job.Status) == models.JobStatusProviderPending && update.Progress > 0 {
			meta := &state.TransitionMeta{
				Progress:     intPtr(update.Progress),
				NextActionAt: &next,
			}
			if _, err := w.machine.Transition(ctx, job.ID, models.JobStatusProviderProcessing, meta); err != nil {
				w.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to record provider progress")
			}
			return true
		}
		if _, err := w.machine.RecordProgress(ctx, job.ID, update.Progress, &next); err != nil {
			w.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to record provider progress")
		}
		return true
	}
}

// complete finishes a postprocessing job: completed status, finalized
// charge, queue acknowledgement.
func (w *Worker) complete(ctx context.Context, job *models.Job) bool {
	meta := &state.TransitionMeta{EventType: "completed"}
	updated, err := w.machine.Transition(ctx, job.ID, models.JobStatusCompleted, meta)
	if err != nil {
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to complete job")
		return false
	}

	if _, err := w.ledger.Finalize(ctx, updated.UserID, updated.ID); err != nil {
		// The job is done either way; the settlement marker makes this safe
		// to retry out of band.
		w.logger.Error().Err(err).Str("job_id", updated.ID).Msg("Failed to finalize token charge")
	}

	if err := w.queue.Ack(ctx, updated.ID); err != nil {
		w.logger.Warn().Err(err).Str("job_id", updated.ID).Msg("Failed to ack queue entry")
	}

	w.logger.Info().
		Str("job_id", updated.ID).
		Str("user_id", updated.UserID).
		Msg("Job completed")
	return true
}

// handleProviderError routes a provider failure to retry or terminal failure
func (w *Worker) handleProviderError(ctx context.Context, job *models.Job, err error) {
	if provider.IsTransient(err) && job.Attempts < w.maxAttempts {
		w.retry(ctx, job, err)
		return
	}
	w.fail(ctx, job, err.Error())
}

// retry schedules another attempt with exponential backoff
func (w *Worker) retry(ctx context.Context, job *models.Job, cause error) {
	attempt := job.Attempts + 1
	delay := queue.Backoff(attempt, w.retryBase, w.retryMax)
	next := time.Now().Add(delay)

	meta := &state.TransitionMeta{
		EventType:         "retry_scheduled",
		NextActionAt:      &next,
		IncrementAttempts: true,
	}
	if _, err := w.machine.Transition(ctx, job.ID, models.JobStatusRetrying, meta); err != nil {
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to schedule retry")
		return
	}

	if err := w.queue.Retry(ctx, job.ID, &interfaces.EnqueueOptions{Delay: delay}); err != nil {
		w.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to re-enqueue for retry")
	}

	w.logger.Warn().
		Err(cause).
		Str("job_id", job.ID).
		Int("attempt", attempt).
		Dur("delay", delay).
		Msg("Job retry scheduled")
}

// fail terminates the job, refunds the reservation and records the failure
func (w *Worker) fail(ctx context.Context, job *models.Job, message string) {
	meta := &state.TransitionMeta{
		EventType:    "failed",
		ErrorMessage: message,
	}
	updated, err := w.machine.Transition(ctx, job.ID, models.JobStatusFailed, meta)
	if err != nil {
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to mark job failed")
		return
	}

	if _, err := w.ledger.Release(ctx, updated.UserID, updated.ID); err != nil {
		w.logger.Error().Err(err).Str("job_id", updated.ID).Msg("Failed to release token reservation")
	}

	if err := w.queue.Fail(ctx, updated.ID, message); err != nil {
		w.logger.Warn().Err(err).Str("job_id", updated.ID).Msg("Failed to record queue failure")
	}

	w.logger.Error().
		Str("job_id", updated.ID).
		Str("user_id", updated.UserID).
		Str("error", message).
		Msg("Job failed")
}

// Sweep fails or retries in-flight jobs that have not been touched within
// the stale window, typically after a crash mid-generation.
func (w *Worker) Sweep(ctx context.Context) (int, error) {
	threshold := time.Now().Add(-w.staleAfter)
	stale, err := w.jobs.GetStaleJobs(ctx, threshold)
	if err != nil {
		return 0, err
	}

	for _, job := range stale {
		w.logger.Warn().
			Str("job_id", job.ID).
			Str("status", string(job.Status)).
			Str("updated_at", job.UpdatedAt.Format(time.RFC3339)).
			Msg("Sweeping stale job")
		w.handleProviderError(ctx, job, errStale)
	}

	return len(stale), nil
}

func intPtr(v int) *int {
	return &v
}
