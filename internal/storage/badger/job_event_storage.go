package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/store3d/forge/internal/interfaces"
	"github.com/store3d/forge/internal/models"
)

// JobEventStorage implements the JobEventStorage interface for Badger
type JobEventStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobEventStorage creates a new JobEventStorage instance
func NewJobEventStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobEventStorage {
	return &JobEventStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobEventStorage) AppendJobEvent(ctx context.Context, ev *models.JobEvent) error {
	if ev.ID == "" {
		return fmt.Errorf("job event ID is required")
	}
	if ev.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	if err := s.db.Store().Insert(ev.ID, ev); err != nil {
		return fmt.Errorf("failed to append job event: %w", err)
	}
	return nil
}

func (s *JobEventStorage) ListJobEvents(ctx context.Context, jobID string) ([]*models.JobEvent, error) {
	var events []models.JobEvent
	query := badgerhold.Where("JobID").Eq(jobID).SortBy("CreatedAt")
	if err := s.db.Store().Find(&events, query); err != nil {
		return nil, fmt.Errorf("failed to list job events: %w", err)
	}

	result := make([]*models.JobEvent, len(events))
	for i := range events {
		result[i] = &events[i]
	}
	return result, nil
}
