// -----------------------------------------------------------------------
// DCC Bridge Service - pairing and delivery pickup for Blender clients
// -----------------------------------------------------------------------

package bridge

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/store3d/forge/internal/common"
	"github.com/store3d/forge/internal/interfaces"
	"github.com/store3d/forge/internal/models"
)

// pairCodeAlphabet omits ambiguous characters (0/O, 1/I/L)
const pairCodeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

const pairCodeLength = 8

// Service implements the DCC bridge: short-lived pair codes the web UI
// shows, bearer tokens the addon holds, and a delivery queue the addon
// drains after each completed generation.
type Service struct {
	storage interfaces.BridgeStorage
	users   interfaces.UserStorage
	ttl     time.Duration
	logger  arbor.ILogger
}

// NewService creates a bridge service
func NewService(cfg *common.Config, storage interfaces.BridgeStorage, users interfaces.UserStorage, logger arbor.ILogger) *Service {
	return &Service{
		storage: storage,
		users:   users,
		ttl:     common.ParseDuration(cfg.Bridge.PairCodeTTL, 10*time.Minute),
		logger:  logger,
	}
}

// IssuePairCode creates a fresh pair code for the user to type into the
// addon. Valid for the configured TTL, single use.
func (s *Service) IssuePairCode(ctx context.Context, userID string) (*models.PairCode, error) {
	if _, err := s.users.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	code, err := randomCode(pairCodeLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate pair code: %w", err)
	}

	now := time.Now()
	pair := &models.PairCode{
		Code:      code,
		UserID:    userID,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.storage.SavePairCode(ctx, pair); err != nil {
		return nil, fmt.Errorf("failed to save pair code: %w", err)
	}

	s.logger.Info().Str("user_id", userID).Msg("Pair code issued")
	return pair, nil
}

// Redeem exchanges a valid pair code for a bearer token and consumes the
// code. The token replaces any previous one on the account.
func (s *Service) Redeem(ctx context.Context, code string) (string, error) {
	pair, err := s.storage.GetPairCode(ctx, code)
	if err != nil {
		return "", fmt.Errorf("invalid pair code: %w", err)
	}
	if pair.Expired(time.Now()) {
		// Expired codes are garbage; remove eagerly
		if err := s.storage.DeletePairCode(ctx, code); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to delete expired pair code")
		}
		return "", fmt.Errorf("pair code expired")
	}

	user, err := s.users.GetUser(ctx, pair.UserID)
	if err != nil {
		return "", err
	}

	token := common.NewToken()
	user.BridgeToken = token
	if err := s.users.SaveUser(ctx, user); err != nil {
		return "", fmt.Errorf("failed to store bridge token: %w", err)
	}

	if err := s.storage.DeletePairCode(ctx, code); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to delete redeemed pair code")
	}

	s.logger.Info().Str("user_id", user.ID).Msg("Bridge client paired")
	return token, nil
}

// Authenticate resolves a bearer token to its user
func (s *Service) Authenticate(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, fmt.Errorf("missing bridge token")
	}
	return s.users.GetUserByBridgeToken(ctx, token)
}

// QueuedDeliveries returns the user's deliveries awaiting pickup
func (s *Service) QueuedDeliveries(ctx context.Context, userID string) ([]*models.BridgeDelivery, error) {
	return s.storage.ListDeliveries(ctx, userID, models.BridgeDeliveryQueued)
}

// AckDelivery advances a job's delivery through the client handshake. The
// addon acks "picked" before downloading, then "imported" or "failed" after
// the import attempt. Deliveries are addressed by job id, which is what the
// listing hands the client.
func (s *Service) AckDelivery(ctx context.Context, userID, jobID string, status models.BridgeDeliveryStatus, message string) (*models.BridgeDelivery, error) {
	switch status {
	case models.BridgeDeliveryPicked, models.BridgeDeliveryImported, models.BridgeDeliveryFailed:
	default:
		return nil, fmt.Errorf("invalid ack status: %q", status)
	}

	delivery, err := s.storage.GetDeliveryByJobID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if delivery.UserID != userID {
		return nil, interfaces.ErrNotFound
	}
	if delivery.Status.Settled() {
		return nil, fmt.Errorf("delivery for job %s already %s", jobID, delivery.Status)
	}

	delivery.Status = status
	delivery.Message = message
	delivery.UpdatedAt = time.Now()
	if err := s.storage.SaveDelivery(ctx, delivery); err != nil {
		return nil, fmt.Errorf("failed to ack delivery: %w", err)
	}

	s.logger.Info().
		Str("job_id", jobID).
		Str("delivery_id", delivery.ID).
		Str("status", string(status)).
		Msg("Bridge delivery acked")
	return delivery, nil
}

// HandleJobCompleted is the event-bus subscriber that turns a completed job
// into a queued delivery. Wired against EventJobCompleted at startup.
func (s *Service) HandleJobCompleted(ctx context.Context, event interfaces.Event) error {
	job, ok := event.Payload.(*models.Job)
	if !ok || job.Result == nil || job.Result.ModelURL == "" {
		return nil
	}

	now := time.Now()
	delivery := &models.BridgeDelivery{
		ID:          common.NewDeliveryID(),
		JobID:       job.ID,
		UserID:      job.UserID,
		Status:      models.BridgeDeliveryQueued,
		DownloadURL: job.Result.ModelURL,
		Format:      job.Result.Format,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.storage.SaveDelivery(ctx, delivery); err != nil {
		return fmt.Errorf("failed to queue bridge delivery for job %s: %w", job.ID, err)
	}

	s.logger.Debug().
		Str("job_id", job.ID).
		Str("delivery_id", delivery.ID).
		Msg("Bridge delivery queued")
	return nil
}

func randomCode(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i := range buf {
		buf[i] = pairCodeAlphabet[int(buf[i])%len(pairCodeAlphabet)]
	}
	return string(buf), nil
}
