package badger

import (
	"context"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/store3d/forge/internal/interfaces"
	"github.com/store3d/forge/internal/models"
)

// settlement is the marker record that makes finalize and release mutually
// exclusive for a job. Keyed by models.SettleKey, inserted at most once.
type settlement struct {
	Key       string                `json:"key"`
	Kind      models.TokenEventType `json:"kind"`
	JobID     string                `json:"job_id"`
	CreatedAt time.Time             `json:"created_at"`
}

// LedgerStorage implements the LedgerStorage interface for Badger. Token
// events are keyed by their idempotency key, so the store's insert-if-absent
// is the uniqueness constraint the ledger design requires. Balance mutation
// and event append share one Badger transaction.
type LedgerStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewLedgerStorage creates a new LedgerStorage instance
func NewLedgerStorage(db *BadgerDB, logger arbor.ILogger) interfaces.LedgerStorage {
	return &LedgerStorage{
		db:     db,
		logger: logger,
	}
}

const maxConflictRetries = 10

// update runs fn in a write transaction, retrying on optimistic-concurrency
// conflicts. A retried loser re-reads the winner's marker and takes the
// no-op path, which is how two workers racing to settle the same job both
// return cleanly.
func (s *LedgerStorage) update(fn func(txn *badgerdb.Txn) error) error {
	var err error
	for i := 0; i < maxConflictRetries; i++ {
		err = s.db.Store().Badger().Update(fn)
		if err != badgerdb.ErrConflict {
			return err
		}
	}
	return err
}

func (s *LedgerStorage) AppendEvent(ctx context.Context, ev *models.TokenEvent) (bool, int, error) {
	if ev.IdempotencyKey == "" {
		return false, 0, fmt.Errorf("idempotency key is required")
	}
	if ev.UserID == "" {
		return false, 0, fmt.Errorf("user ID is required")
	}

	applied := false
	balanceAfter := 0

	err := s.update(func(txn *badgerdb.Txn) error {
		applied = false
		balanceAfter = 0

		var existing models.TokenEvent
		err := s.db.Store().TxGet(txn, ev.IdempotencyKey, &existing)
		if err == nil {
			balanceAfter = existing.BalanceAfter
			return nil
		}
		if err != badgerhold.ErrNotFound {
			return fmt.Errorf("failed to check idempotency key: %w", err)
		}

		after, err := s.writeEvent(txn, ev)
		if err != nil {
			return err
		}
		applied = true
		balanceAfter = after
		return nil
	})
	if err != nil {
		return false, 0, err
	}
	return applied, balanceAfter, nil
}

func (s *LedgerStorage) Settle(ctx context.Context, markerKey string, kind models.TokenEventType, ev *models.TokenEvent) (bool, models.TokenEventType, int, error) {
	if markerKey == "" {
		return false, "", 0, fmt.Errorf("settlement marker key is required")
	}

	applied := false
	var existing models.TokenEventType
	balanceAfter := 0

	err := s.update(func(txn *badgerdb.Txn) error {
		applied = false
		existing = ""
		balanceAfter = 0

		var marker settlement
		err := s.db.Store().TxGet(txn, markerKey, &marker)
		if err == nil {
			existing = marker.Kind
			var user models.User
			if uerr := s.db.Store().TxGet(txn, ev.UserID, &user); uerr == nil {
				balanceAfter = user.TokenBalance
			}
			return nil
		}
		if err != badgerhold.ErrNotFound {
			return fmt.Errorf("failed to check settlement marker: %w", err)
		}

		marker = settlement{
			Key:       markerKey,
			Kind:      kind,
			JobID:     ev.JobID,
			CreatedAt: time.Now(),
		}
		if err := s.db.Store().TxInsert(txn, markerKey, &marker); err != nil {
			return fmt.Errorf("failed to insert settlement marker: %w", err)
		}

		after, err := s.writeEvent(txn, ev)
		if err != nil {
			return err
		}
		applied = true
		existing = kind
		balanceAfter = after
		return nil
	})
	if err != nil {
		return false, "", 0, err
	}
	return applied, existing, balanceAfter, nil
}

// writeEvent applies the event delta to the user balance and inserts the
// event, both inside the caller's transaction.
func (s *LedgerStorage) writeEvent(txn *badgerdb.Txn, ev *models.TokenEvent) (int, error) {
	var user models.User
	if err := s.db.Store().TxGet(txn, ev.UserID, &user); err != nil {
		if err == badgerhold.ErrNotFound {
			return 0, fmt.Errorf("user %s: %w", ev.UserID, interfaces.ErrNotFound)
		}
		return 0, fmt.Errorf("failed to load user: %w", err)
	}

	newBalance := user.TokenBalance + ev.Delta
	if newBalance < 0 {
		return 0, interfaces.ErrInsufficientFunds
	}

	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	ev.BalanceAfter = newBalance

	if err := s.db.Store().TxInsert(txn, ev.IdempotencyKey, ev); err != nil {
		return 0, fmt.Errorf("failed to insert token event: %w", err)
	}

	user.TokenBalance = newBalance
	user.UpdatedAt = time.Now()
	if err := s.db.Store().TxUpsert(txn, user.ID, &user); err != nil {
		return 0, fmt.Errorf("failed to update user balance: %w", err)
	}

	return newBalance, nil
}

func (s *LedgerStorage) GetEventByKey(ctx context.Context, key string) (*models.TokenEvent, error) {
	var ev models.TokenEvent
	if err := s.db.Store().Get(key, &ev); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("token event %s: %w", key, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get token event: %w", err)
	}
	return &ev, nil
}

func (s *LedgerStorage) ListEvents(ctx context.Context, userID string, limit int) ([]*models.TokenEvent, error) {
	query := badgerhold.Where("UserID").Eq(userID).SortBy("CreatedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var events []models.TokenEvent
	if err := s.db.Store().Find(&events, query); err != nil {
		return nil, fmt.Errorf("failed to list token events: %w", err)
	}

	result := make([]*models.TokenEvent, len(events))
	for i := range events {
		result[i] = &events[i]
	}
	return result, nil
}
