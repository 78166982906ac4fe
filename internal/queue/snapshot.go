// -----------------------------------------------------------------------
// Queue Snapshot - best-effort ETA projection for UI display.
// Never consulted for billing or correctness decisions.
// -----------------------------------------------------------------------

package queue

import (
	"math"
	"time"

	"github.com/store3d/forge/internal/common"
	"github.com/store3d/forge/internal/models"
)

// JobETA is the per-job projection
type JobETA struct {
	JobID         string    `json:"job_id"`
	QueuePosition int       `json:"queue_position,omitempty"` // 1-based, queued jobs only
	EtaSeconds    int       `json:"eta_seconds"`
	EtaStartAt    time.Time `json:"eta_start_at"`
	EtaCompleteAt time.Time `json:"eta_complete_at"`
}

// Snapshot is one recomputed projection of the queue
type Snapshot struct {
	QueueDepth  int                `json:"queue_depth"`  // Jobs waiting their turn
	ActiveCount int                `json:"active_count"` // Jobs in flight
	Jobs        map[string]*JobETA `json:"jobs"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// Compute builds the ETA projection over the queue-relevant jobs, which must
// be ordered FIFO by creation time. Recomputed on every read; never cached.
func Compute(jobs []*models.Job, cfg common.EstimatorConfig, now time.Time) *Snapshot {
	avg := boundTunable(cfg.AvgJobSeconds, 1, 90)
	slot := boundTunable(cfg.QueueSlotSeconds, 0, 20)
	minProcessing := boundTunable(cfg.MinProcessingEtaSeconds, 0, 10)

	snapshot := &Snapshot{
		Jobs:        make(map[string]*JobETA),
		GeneratedAt: now,
	}

	// In-flight jobs first: their remaining time accumulates into the
	// backlog every queued job waits behind.
	processingBacklogSeconds := 0
	for _, job := range jobs {
		if !job.Processing() {
			continue
		}
		snapshot.ActiveCount++

		remaining := int(math.Round(float64(100-job.Progress) / 100.0 * float64(avg)))
		if remaining < minProcessing {
			remaining = minProcessing
		}
		processingBacklogSeconds += remaining

		startAt := now
		if job.StartedAt != nil {
			startAt = *job.StartedAt
		}
		snapshot.Jobs[job.ID] = &JobETA{
			JobID:         job.ID,
			EtaSeconds:    remaining,
			EtaStartAt:    startAt,
			EtaCompleteAt: now.Add(time.Duration(remaining) * time.Second),
		}
	}

	// Queued jobs in FIFO order behind the processing backlog
	index := 0
	for _, job := range jobs {
		if models.NormalizeStatus(job.Status) != models.JobStatusQueued {
			continue
		}
		snapshot.QueueDepth++

		etaStart := processingBacklogSeconds + index*slot
		etaComplete := etaStart + avg

		snapshot.Jobs[job.ID] = &JobETA{
			JobID:         job.ID,
			QueuePosition: index + 1,
			EtaSeconds:    etaComplete,
			EtaStartAt:    now.Add(time.Duration(etaStart) * time.Second),
			EtaCompleteAt: now.Add(time.Duration(etaComplete) * time.Second),
		}
		index++
	}

	return snapshot
}

// boundTunable clamps a configured estimator value to its floor, falling
// back to the default when unset.
func boundTunable(value, floor, fallback int) int {
	if value == 0 {
		return fallback
	}
	if value < floor {
		return floor
	}
	return value
}
