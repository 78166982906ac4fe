// -----------------------------------------------------------------------
// Token Ledger - exactly-once charging for generation work
// -----------------------------------------------------------------------

package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/store3d/forge/internal/common"
	"github.com/store3d/forge/internal/interfaces"
	"github.com/store3d/forge/internal/models"
)

// Result reasons reported for idempotency short-circuits. These are not
// errors; callers branch on Reason when they care.
const (
	ReasonApplied          = "applied"
	ReasonDuplicate        = "duplicate"
	ReasonAlreadyFinalized = "already_finalized"
	ReasonAlreadyReleased  = "already_released"
)

// Result is the structured outcome of a ledger operation
type Result struct {
	Applied      bool   `json:"applied"`
	Reason       string `json:"reason"`
	BalanceAfter int    `json:"balance_after"`
}

// InsufficientCreditsError is returned when a reservation cannot proceed.
// The request path surfaces it; no job is created.
type InsufficientCreditsError struct {
	UserID    string
	Requested int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: user %s requested %d tokens", e.UserID, e.Requested)
}

// Service is the token ledger. Every balance mutation in the system flows
// through here; the storage layer's insert-if-absent on the idempotency key
// is the sole concurrency safeguard.
type Service struct {
	storage interfaces.LedgerStorage
	users   interfaces.UserStorage
	logger  arbor.ILogger
}

// NewService creates a new ledger service
func NewService(storage interfaces.LedgerStorage, users interfaces.UserStorage, logger arbor.ILogger) *Service {
	return &Service{
		storage: storage,
		users:   users,
		logger:  logger,
	}
}

// Reserve debits amount from the user's balance for a job, once. Calling it
// again with the same jobID reports a duplicate without re-debiting.
func (s *Service) Reserve(ctx context.Context, userID, jobID string, amount int) (*Result, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("reserve amount must be positive, got %d", amount)
	}

	ev := &models.TokenEvent{
		ID:             common.NewTokenEventID(),
		UserID:         userID,
		JobID:          jobID,
		Type:           models.TokenEventReserve,
		Amount:         amount,
		Delta:          -amount,
		IdempotencyKey: models.ReserveKey(jobID),
	}

	applied, balance, err := s.storage.AppendEvent(ctx, ev)
	if err != nil {
		if errors.Is(err, interfaces.ErrInsufficientFunds) {
			return nil, &InsufficientCreditsError{UserID: userID, Requested: amount}
		}
		return nil, fmt.Errorf("reserve failed for job %s: %w", jobID, err)
	}

	reason := ReasonApplied
	if !applied {
		reason = ReasonDuplicate
	}

	s.logger.Debug().
		Str("user_id", userID).
		Str("job_id", jobID).
		Int("amount", amount).
		Str("reason", reason).
		Msg("Token reservation")

	return &Result{Applied: applied, Reason: reason, BalanceAfter: balance}, nil
}

// Finalize confirms a job's reservation as a real charge. Zero delta; the
// tokens were already debited at reserve time. First writer wins against
// Release.
func (s *Service) Finalize(ctx context.Context, userID, jobID string) (*Result, error) {
	reserved, err := s.reservedAmount(ctx, jobID)
	if err != nil {
		return nil, err
	}

	ev := &models.TokenEvent{
		ID:             common.NewTokenEventID(),
		UserID:         userID,
		JobID:          jobID,
		Type:           models.TokenEventFinalize,
		Amount:         reserved,
		Delta:          0,
		IdempotencyKey: models.FinalizeKey(jobID),
	}

	applied, existing, balance, err := s.storage.Settle(ctx, models.SettleKey(jobID), models.TokenEventFinalize, ev)
	if err != nil {
		return nil, fmt.Errorf("finalize failed for job %s: %w", jobID, err)
	}

	return settleResult(applied, existing, balance), nil
}

// Release refunds a job's reservation in full. No-op if the job was already
// finalized or already released.
func (s *Service) Release(ctx context.Context, userID, jobID string) (*Result, error) {
	reserved, err := s.reservedAmount(ctx, jobID)
	if err != nil {
		return nil, err
	}

	ev := &models.TokenEvent{
		ID:             common.NewTokenEventID(),
		UserID:         userID,
		JobID:          jobID,
		Type:           models.TokenEventRelease,
		Amount:         reserved,
		Delta:          reserved,
		IdempotencyKey: models.ReleaseKey(jobID),
	}

	applied, existing, balance, err := s.storage.Settle(ctx, models.SettleKey(jobID), models.TokenEventRelease, ev)
	if err != nil {
		return nil, fmt.Errorf("release failed for job %s: %w", jobID, err)
	}

	result := settleResult(applied, existing, balance)
	if result.Applied {
		s.logger.Info().
			Str("user_id", userID).
			Str("job_id", jobID).
			Int("refund", reserved).
			Msg("Reservation released")
	}
	return result, nil
}

// TopUp credits purchased tokens to a user. The caller supplies the
// idempotency key (e.g. derived from the payment reference).
func (s *Service) TopUp(ctx context.Context, userID string, amount int, idempotencyKey, reason string) (*Result, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("topup amount must be positive, got %d", amount)
	}
	return s.append(ctx, userID, models.TokenEventTopup, amount, amount, idempotencyKey, reason)
}

// Adjust applies an administrative balance correction, positive or negative
func (s *Service) Adjust(ctx context.Context, userID string, delta int, idempotencyKey, reason string) (*Result, error) {
	if delta == 0 {
		return nil, fmt.Errorf("adjust delta must be non-zero")
	}
	amount := delta
	if amount < 0 {
		amount = -amount
	}
	return s.append(ctx, userID, models.TokenEventAdjust, amount, delta, idempotencyKey, reason)
}

// Balance returns the user's current token balance
func (s *Service) Balance(ctx context.Context, userID string) (int, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return user.TokenBalance, nil
}

// Events returns a user's ledger history, newest first
func (s *Service) Events(ctx context.Context, userID string, limit int) ([]*models.TokenEvent, error) {
	return s.storage.ListEvents(ctx, userID, limit)
}

func (s *Service) append(ctx context.Context, userID string, evType models.TokenEventType, amount, delta int, key, reason string) (*Result, error) {
	if key == "" {
		return nil, fmt.Errorf("idempotency key is required")
	}

	ev := &models.TokenEvent{
		ID:             common.NewTokenEventID(),
		UserID:         userID,
		Type:           evType,
		Reason:         reason,
		Amount:         amount,
		Delta:          delta,
		IdempotencyKey: key,
	}

	applied, balance, err := s.storage.AppendEvent(ctx, ev)
	if err != nil {
		if errors.Is(err, interfaces.ErrInsufficientFunds) {
			return nil, &InsufficientCreditsError{UserID: userID, Requested: -delta}
		}
		return nil, fmt.Errorf("%s failed: %w", evType, err)
	}

	r := ReasonApplied
	if !applied {
		r = ReasonDuplicate
	}
	return &Result{Applied: applied, Reason: r, BalanceAfter: balance}, nil
}

// reservedAmount looks up the original reservation for a job
func (s *Service) reservedAmount(ctx context.Context, jobID string) (int, error) {
	ev, err := s.storage.GetEventByKey(ctx, models.ReserveKey(jobID))
	if err != nil {
		return 0, fmt.Errorf("no reservation found for job %s: %w", jobID, err)
	}
	return ev.Amount, nil
}

func settleResult(applied bool, existing models.TokenEventType, balance int) *Result {
	if applied {
		return &Result{Applied: true, Reason: ReasonApplied, BalanceAfter: balance}
	}
	reason := ReasonAlreadyFinalized
	if existing == models.TokenEventRelease {
		reason = ReasonAlreadyReleased
	}
	return &Result{Applied: false, Reason: reason, BalanceAfter: balance}
}
