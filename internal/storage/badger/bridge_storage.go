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

// BridgeStorage implements the BridgeStorage interface for Badger
type BridgeStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewBridgeStorage creates a new BridgeStorage instance
func NewBridgeStorage(db *BadgerDB, logger arbor.ILogger) interfaces.BridgeStorage {
	return &BridgeStorage{
		db:     db,
		logger: logger,
	}
}

func (s *BridgeStorage) SaveDelivery(ctx context.Context, d *models.BridgeDelivery) error {
	if d.ID == "" {
		return fmt.Errorf("delivery ID is required")
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	d.UpdatedAt = time.Now()

	if err := s.db.Store().Upsert(d.ID, d); err != nil {
		return fmt.Errorf("failed to save bridge delivery: %w", err)
	}
	return nil
}

func (s *BridgeStorage) GetDelivery(ctx context.Context, id string) (*models.BridgeDelivery, error) {
	var d models.BridgeDelivery
	if err := s.db.Store().Get(id, &d); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("bridge delivery %s: %w", id, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get bridge delivery: %w", err)
	}
	return &d, nil
}

func (s *BridgeStorage) GetDeliveryByJobID(ctx context.Context, jobID string) (*models.BridgeDelivery, error) {
	var d models.BridgeDelivery
	if err := s.db.Store().FindOne(&d, badgerhold.Where("JobID").Eq(jobID)); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("bridge delivery for job %s: %w", jobID, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get bridge delivery by job: %w", err)
	}
	return &d, nil
}

func (s *BridgeStorage) ListDeliveries(ctx context.Context, userID string, status models.BridgeDeliveryStatus) ([]*models.BridgeDelivery, error) {
	query := badgerhold.Where("UserID").Eq(userID)
	if status != "" {
		query = query.And("Status").Eq(status)
	}
	query = query.SortBy("CreatedAt")

	var deliveries []models.BridgeDelivery
	if err := s.db.Store().Find(&deliveries, query); err != nil {
		return nil, fmt.Errorf("failed to list bridge deliveries: %w", err)
	}

	result := make([]*models.BridgeDelivery, len(deliveries))
	for i := range deliveries {
		result[i] = &deliveries[i]
	}
	return result, nil
}

func (s *BridgeStorage) SavePairCode(ctx context.Context, code *models.PairCode) error {
	if code.Code == "" {
		return fmt.Errorf("pair code is required")
	}
	if code.CreatedAt.IsZero() {
		code.CreatedAt = time.Now()
	}

	if err := s.db.Store().Upsert(code.Code, code); err != nil {
		return fmt.Errorf("failed to save pair code: %w", err)
	}
	return nil
}

func (s *BridgeStorage) GetPairCode(ctx context.Context, code string) (*models.PairCode, error) {
	var pc models.PairCode
	if err := s.db.Store().Get(code, &pc); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("pair code: %w", interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get pair code: %w", err)
	}
	return &pc, nil
}

func (s *BridgeStorage) DeletePairCode(ctx context.Context, code string) error {
	if err := s.db.Store().Delete(code, &models.PairCode{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete pair code: %w", err)
	}
	return nil
}
