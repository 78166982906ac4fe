package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/store3d/forge/internal/interfaces"
	"github.com/store3d/forge/internal/models"
)

// activeStatuses are the statuses the worker and snapshot care about,
// including the legacy processing alias still present on older records.
var activeStatuses = []interface{}{
	models.JobStatusQueued,
	models.JobStatusRunning,
	models.JobStatusProviderPending,
	models.JobStatusProviderProcessing,
	models.JobStatusPostprocessing,
	models.JobStatusRetrying,
	models.JobStatus("processing"),
}

// JobStorage implements the JobStorage interface for Badger
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobStorage) SaveJob(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	job.UpdatedAt = time.Now()

	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("job %s: %w", jobID, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	normalize(&job)
	return &job, nil
}

func (s *JobStorage) ListJobs(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.Job, error) {
	query := badgerhold.Where("ID").Ne("")

	if opts != nil {
		if opts.UserID != "" {
			query = query.And("UserID").Eq(opts.UserID)
		}
		if opts.Status != "" {
			query = query.And("Status").Eq(models.JobStatus(opts.Status))
		}
		if opts.Limit > 0 {
			query = query.Limit(opts.Limit)
		}
		if opts.Offset > 0 {
			query = query.Skip(opts.Offset)
		}
		if opts.OrderBy != "" {
			if opts.OrderDir == "DESC" {
				query = query.SortBy(opts.OrderBy).Reverse()
			} else {
				query = query.SortBy(opts.OrderBy)
			}
		} else {
			query = query.SortBy("CreatedAt").Reverse()
		}
	} else {
		query = query.SortBy("CreatedAt").Reverse()
	}

	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return collect(jobs), nil
}

func (s *JobStorage) GetEligibleJobs(ctx context.Context, now time.Time, limit int) ([]*models.Job, error) {
	var jobs []models.Job
	query := badgerhold.Where("Status").In(activeStatuses...).SortBy("CreatedAt")
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to query eligible jobs: %w", err)
	}

	// NextActionAt gating happens here rather than in the query; badgerhold
	// cannot express "nil or before now" in one clause.
	result := make([]*models.Job, 0, limit)
	for i := range jobs {
		normalize(&jobs[i])
		if !jobs[i].Due(now) {
			continue
		}
		result = append(result, &jobs[i])
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *JobStorage) GetQueueRelevantJobs(ctx context.Context) ([]*models.Job, error) {
	var jobs []models.Job
	query := badgerhold.Where("Status").In(activeStatuses...).SortBy("CreatedAt")
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to query queue-relevant jobs: %w", err)
	}
	return collect(jobs), nil
}

func (s *JobStorage) GetStaleJobs(ctx context.Context, threshold time.Time) ([]*models.Job, error) {
	var jobs []models.Job
	query := badgerhold.Where("Status").In(activeStatuses...).And("UpdatedAt").Lt(threshold)
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to query stale jobs: %w", err)
	}

	// Queued jobs are waiting their turn, not stale
	result := make([]*models.Job, 0, len(jobs))
	for i := range jobs {
		normalize(&jobs[i])
		if jobs[i].Status == models.JobStatusQueued {
			continue
		}
		result = append(result, &jobs[i])
	}
	return result, nil
}

func (s *JobStorage) CountJobsByStatus(ctx context.Context, status models.JobStatus) (int, error) {
	count, err := s.db.Store().Count(&models.Job{}, badgerhold.Where("Status").Eq(status))
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

// normalize maps legacy status aliases before any caller sees the record
func normalize(job *models.Job) {
	job.Status = models.NormalizeStatus(job.Status)
}

func collect(jobs []models.Job) []*models.Job {
	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		normalize(&jobs[i])
		result[i] = &jobs[i]
	}
	return result
}
