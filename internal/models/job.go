// -----------------------------------------------------------------------
// Generation Job - persisted unit of AI generation work
// -----------------------------------------------------------------------

package models

import (
	"time"
)

// JobStatus represents the state of a generation job
type JobStatus string

const (
	JobStatusQueued             JobStatus = "queued"
	JobStatusRunning            JobStatus = "running"
	JobStatusProviderPending    JobStatus = "provider_pending"
	JobStatusProviderProcessing JobStatus = "provider_processing"
	JobStatusPostprocessing     JobStatus = "postprocessing"
	JobStatusRetrying           JobStatus = "retrying"
	JobStatusCompleted          JobStatus = "completed"
	JobStatusFailed             JobStatus = "failed"
	JobStatusCancelled          JobStatus = "cancelled"
)

// legacyStatusProcessing is the alias older persisted jobs carry for
// provider_processing. Normalized at the read boundary, never written back
// as-is.
const legacyStatusProcessing JobStatus = "processing"

// NormalizeStatus maps legacy persisted status aliases to their current
// form. All status reads must pass through here before any transition check.
func NormalizeStatus(s JobStatus) JobStatus {
	if s == legacyStatusProcessing {
		return JobStatusProviderProcessing
	}
	return s
}

// IsTerminal returns true for statuses from which no transition is permitted
func (s JobStatus) IsTerminal() bool {
	switch NormalizeStatus(s) {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Generation modes
const (
	ModeTextTo3D  = "text_to_3d"
	ModeImageTo3D = "image_to_3d"
)

// Source types for the generation input
const (
	SourceTypePrompt = "prompt"
	SourceTypeImage  = "image"
)

// GenerationResult holds the asset locations produced by a completed job
type GenerationResult struct {
	ModelURL   string `json:"model_url"`
	PreviewURL string `json:"preview_url,omitempty"`
	Format     string `json:"format,omitempty"` // glb, gltf, obj, stl
}

// Job is the persisted record of one generation request. Status is mutated
// only through the state machine; everything else is written by the worker
// tick as provider updates arrive.
type Job struct {
	ID             string    `json:"id" badgerhold:"key"`
	UserID         string    `json:"user_id" badgerhold:"index"`
	Status         JobStatus `json:"status" badgerhold:"index"`
	Provider       string    `json:"provider"`
	Mode           string    `json:"mode"`
	Progress       int       `json:"progress"` // 0-100, monotonic while non-terminal
	ReservedTokens int       `json:"reserved_tokens"`

	Prompt     string `json:"prompt,omitempty"`
	SourceType string `json:"source_type"`
	SourceURL  string `json:"source_url,omitempty"`

	ProviderJobID string            `json:"provider_job_id,omitempty"`
	ErrorMessage  string            `json:"error_message,omitempty"`
	Attempts      int               `json:"attempts"`
	Result        *GenerationResult `json:"result,omitempty"`

	// NextActionAt gates worker eligibility for retry backoff and provider
	// poll pacing. Nil means due now.
	NextActionAt *time.Time `json:"next_action_at,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// IsTerminal returns true if the job has reached a terminal status
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// Due reports whether the job is eligible for worker action at the given time
func (j *Job) Due(now time.Time) bool {
	if j.IsTerminal() {
		return false
	}
	if j.NextActionAt == nil {
		return true
	}
	return !j.NextActionAt.After(now)
}

// QueueRelevant reports whether the job contributes to the queue snapshot
func (j *Job) QueueRelevant() bool {
	switch NormalizeStatus(j.Status) {
	case JobStatusQueued, JobStatusRunning, JobStatusProviderPending,
		JobStatusProviderProcessing, JobStatusPostprocessing, JobStatusRetrying:
		return true
	}
	return false
}

// Processing reports whether the job is past queued and actively in flight
func (j *Job) Processing() bool {
	return j.QueueRelevant() && NormalizeStatus(j.Status) != JobStatusQueued
}
