package models

import "time"

// JobEvent is one audit row per accepted state transition. Created only by
// the state machine, never independently.
type JobEvent struct {
	ID           string    `json:"id"`
	JobID        string    `json:"job_id" badgerhold:"index"`
	UserID       string    `json:"user_id"`
	EventType    string    `json:"event_type"`
	StatusBefore JobStatus `json:"status_before"`
	StatusAfter  JobStatus `json:"status_after"`
	Provider     string    `json:"provider,omitempty"`
	TraceID      string    `json:"trace_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
