// -----------------------------------------------------------------------
// Job State Machine - the only sanctioned way to mutate job status
// -----------------------------------------------------------------------

package state

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/store3d/forge/internal/common"
	"github.com/store3d/forge/internal/interfaces"
	"github.com/store3d/forge/internal/models"
)

// legalTransitions is the authoritative transition table. A status absent
// from the map is terminal.
var legalTransitions = map[models.JobStatus][]models.JobStatus{
	models.JobStatusQueued: {
		models.JobStatusRunning,
		models.JobStatusRetrying,
		models.JobStatusFailed,
		models.JobStatusCancelled,
	},
	models.JobStatusRunning: {
		models.JobStatusProviderPending,
		models.JobStatusPostprocessing, // synchronous providers skip the pending states
		models.JobStatusRetrying,
		models.JobStatusFailed,
		models.JobStatusCancelled,
	},
	models.JobStatusProviderPending: {
		models.JobStatusProviderProcessing,
		models.JobStatusPostprocessing,
		models.JobStatusRetrying,
		models.JobStatusFailed,
		models.JobStatusCancelled,
	},
	models.JobStatusProviderProcessing: {
		models.JobStatusPostprocessing,
		models.JobStatusRetrying,
		models.JobStatusFailed,
		models.JobStatusCancelled,
	},
	models.JobStatusPostprocessing: {
		models.JobStatusCompleted,
		models.JobStatusRetrying,
		models.JobStatusFailed,
		models.JobStatusCancelled,
	},
	models.JobStatusRetrying: {
		models.JobStatusProviderPending,
		models.JobStatusFailed,
		models.JobStatusCancelled,
	},
}

// InvalidTransitionError reports an attempted transition not in the legal
// table. The job is left untouched.
type InvalidTransitionError struct {
	JobID string
	From  models.JobStatus
	To    models.JobStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for job %s: %s -> %s", e.JobID, e.From, e.To)
}

// Legal reports whether (from, to) is in the transition table. Inputs are
// normalized first.
func Legal(from, to models.JobStatus) bool {
	from = models.NormalizeStatus(from)
	to = models.NormalizeStatus(to)
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TransitionMeta carries the optional side-effect payload of a transition
type TransitionMeta struct {
	Progress          *int
	ErrorMessage      string
	ProviderJobID     string
	Result            *models.GenerationResult
	EventType         string
	TraceID           string
	NextActionAt      *time.Time
	IncrementAttempts bool
}

// Machine applies legal transitions with their side effects: timestamps,
// monotonic progress, and one audit JobEvent per accepted transition.
type Machine struct {
	jobs   interfaces.JobStorage
	events interfaces.JobEventStorage
	bus    interfaces.EventService
	logger arbor.ILogger
}

// NewMachine creates a new state machine over the given storage
func NewMachine(jobs interfaces.JobStorage, events interfaces.JobEventStorage, bus interfaces.EventService, logger arbor.ILogger) *Machine {
	return &Machine{
		jobs:   jobs,
		events: events,
		bus:    bus,
		logger: logger,
	}
}

// Transition moves a job to next if the transition is legal, applying side
// effects and appending the audit event. Returns the updated job.
func (m *Machine) Transition(ctx context.Context, jobID string, next models.JobStatus, meta *TransitionMeta) (*models.Job, error) {
	job, err := m.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	current := models.NormalizeStatus(job.Status)
	next = models.NormalizeStatus(next)

	if !Legal(current, next) {
		return nil, &InvalidTransitionError{JobID: jobID, From: current, To: next}
	}

	if meta == nil {
		meta = &TransitionMeta{}
	}

	now := time.Now()
	job.Status = next

	if meta.Progress != nil && *meta.Progress > job.Progress {
		job.Progress = *meta.Progress
	}
	if meta.ProviderJobID != "" {
		job.ProviderJobID = meta.ProviderJobID
	}
	if meta.Result != nil {
		job.Result = meta.Result
	}
	if meta.IncrementAttempts {
		job.Attempts++
	}

	// First entry into a non-queued state marks the job started
	if job.StartedAt == nil && next != models.JobStatusQueued {
		job.StartedAt = &now
	}

	if next.IsTerminal() {
		job.CompletedAt = &now
		job.NextActionAt = nil
		if next == models.JobStatusCompleted {
			job.Progress = 100
		}
		// errorMessage is user-visible only on terminal failure
		if next == models.JobStatusFailed {
			job.ErrorMessage = meta.ErrorMessage
		}
	} else {
		job.NextActionAt = meta.NextActionAt
	}

	if err := m.jobs.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to persist transition %s -> %s: %w", current, next, err)
	}

	eventType := meta.EventType
	if eventType == "" {
		eventType = "status_change"
	}

	audit := &models.JobEvent{
		ID:           common.NewJobEventID(),
		JobID:        job.ID,
		UserID:       job.UserID,
		EventType:    eventType,
		StatusBefore: current,
		StatusAfter:  next,
		Provider:     job.Provider,
		TraceID:      meta.TraceID,
		CreatedAt:    now,
	}
	if err := m.events.AppendJobEvent(ctx, audit); err != nil {
		// The transition is already durable; a lost audit row is logged, not
		// unwound.
		m.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to append job event")
	}

	m.logger.Info().
		Str("job_id", job.ID).
		Str("from", string(current)).
		Str("to", string(next)).
		Int("progress", job.Progress).
		Msg("Job transitioned")

	m.publish(ctx, job)

	return job, nil
}

// RecordProgress raises a job's progress without a status change. Progress
// is monotonic while the job is non-terminal; lower values are ignored.
func (m *Machine) RecordProgress(ctx context.Context, jobID string, progress int, nextActionAt *time.Time) (*models.Job, error) {
	job, err := m.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.IsTerminal() {
		return nil, &InvalidTransitionError{JobID: jobID, From: job.Status, To: job.Status}
	}

	if progress > job.Progress {
		job.Progress = progress
	}
	job.NextActionAt = nextActionAt

	if err := m.jobs.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to persist progress: %w", err)
	}
	return job, nil
}

func (m *Machine) publish(ctx context.Context, job *models.Job) {
	if m.bus == nil {
		return
	}

	eventType := interfaces.EventJobTransitioned
	switch job.Status {
	case models.JobStatusCompleted:
		eventType = interfaces.EventJobCompleted
	case models.JobStatusFailed, models.JobStatusCancelled:
		eventType = interfaces.EventJobFailed
	}

	if err := m.bus.Publish(ctx, interfaces.Event{Type: eventType, Payload: job}); err != nil {
		m.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to publish job event")
	}
}
