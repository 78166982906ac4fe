package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/store3d/forge/internal/common"
	"github.com/store3d/forge/internal/interfaces"
	"github.com/store3d/forge/internal/models"
	badgerstorage "github.com/store3d/forge/internal/storage/badger"
)

func setupService(t *testing.T, ttl string) (*Service, interfaces.StorageManager) {
	t.Helper()

	logger := arbor.NewLogger()
	manager, err := badgerstorage.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("Failed to open test storage: %v", err)
	}
	t.Cleanup(func() {
		if err := manager.Close(); err != nil {
			t.Errorf("Failed to close storage: %v", err)
		}
	})

	cfg := common.NewDefaultConfig()
	if ttl != "" {
		cfg.Bridge.PairCodeTTL = ttl
	}

	svc := NewService(cfg, manager.BridgeStorage(), manager.UserStorage(), logger)
	return svc, manager
}

func seedUser(t *testing.T, manager interfaces.StorageManager, id string) {
	t.Helper()
	err := manager.UserStorage().SaveUser(context.Background(), &models.User{
		ID:           id,
		Email:        id + "@example.com",
		TokenBalance: 100,
	})
	require.NoError(t, err)
}

func TestPairAndAuthenticate(t *testing.T) {
	svc, manager := setupService(t, "")
	ctx := context.Background()
	seedUser(t, manager, "user-1")

	pair, err := svc.IssuePairCode(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, pair.Code, pairCodeLength)
	assert.Equal(t, "user-1", pair.UserID)
	assert.True(t, pair.ExpiresAt.After(time.Now()))

	token, err := svc.Redeem(ctx, pair.Code)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	user, err := svc.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", user.ID)

	// Codes are single use
	_, err = svc.Redeem(ctx, pair.Code)
	assert.Error(t, err)
}

func TestIssuePairCode_UnknownUser(t *testing.T) {
	svc, _ := setupService(t, "")
	_, err := svc.IssuePairCode(context.Background(), "ghost")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestRedeem_ExpiredCode(t *testing.T) {
	svc, manager := setupService(t, "1ms")
	ctx := context.Background()
	seedUser(t, manager, "user-1")

	pair, err := svc.IssuePairCode(ctx, "user-1")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, err = svc.Redeem(ctx, pair.Code)
	require.Error(t, err)

	// Expired codes are removed on the failed redeem
	_, err = manager.BridgeStorage().GetPairCode(ctx, pair.Code)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestRedeem_ReplacesPreviousToken(t *testing.T) {
	svc, manager := setupService(t, "")
	ctx := context.Background()
	seedUser(t, manager, "user-1")

	first, err := svc.IssuePairCode(ctx, "user-1")
	require.NoError(t, err)
	oldToken, err := svc.Redeem(ctx, first.Code)
	require.NoError(t, err)

	second, err := svc.IssuePairCode(ctx, "user-1")
	require.NoError(t, err)
	newToken, err := svc.Redeem(ctx, second.Code)
	require.NoError(t, err)
	assert.NotEqual(t, oldToken, newToken)

	_, err = svc.Authenticate(ctx, oldToken)
	assert.Error(t, err)

	user, err := svc.Authenticate(ctx, newToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", user.ID)
}

func TestHandleJobCompleted_QueuesDelivery(t *testing.T) {
	svc, _ := setupService(t, "")
	ctx := context.Background()

	job := &models.Job{
		ID:     "job-1",
		UserID: "user-1",
		Status: models.JobStatusCompleted,
		Result: &models.GenerationResult{
			ModelURL: "https://cdn.example.com/job-1.glb",
			Format:   "glb",
		},
	}
	err := svc.HandleJobCompleted(ctx, interfaces.Event{
		Type:    interfaces.EventJobCompleted,
		Payload: job,
	})
	require.NoError(t, err)

	deliveries, err := svc.QueuedDeliveries(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, "job-1", deliveries[0].JobID)
	assert.Equal(t, "https://cdn.example.com/job-1.glb", deliveries[0].DownloadURL)
	assert.Equal(t, "glb", deliveries[0].Format)
	assert.Equal(t, models.BridgeDeliveryQueued, deliveries[0].Status)
}

func TestHandleJobCompleted_IgnoresJobsWithoutResult(t *testing.T) {
	svc, _ := setupService(t, "")
	ctx := context.Background()

	err := svc.HandleJobCompleted(ctx, interfaces.Event{
		Type:    interfaces.EventJobCompleted,
		Payload: &models.Job{ID: "job-1", UserID: "user-1"},
	})
	require.NoError(t, err)

	deliveries, err := svc.QueuedDeliveries(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, deliveries)
}

func TestAckDelivery_Handshake(t *testing.T) {
	svc, _ := setupService(t, "")
	ctx := context.Background()

	job := &models.Job{
		ID:     "job-1",
		UserID: "user-1",
		Result: &models.GenerationResult{ModelURL: "mock://models/job-1.glb", Format: "glb"},
	}
	require.NoError(t, svc.HandleJobCompleted(ctx, interfaces.Event{Payload: job}))

	// Acks address the delivery by job id, the identifier the listing exposes
	deliveries, err := svc.QueuedDeliveries(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, "job-1", deliveries[0].JobID)

	// Another user's token cannot ack it
	_, err = svc.AckDelivery(ctx, "user-2", "job-1", models.BridgeDeliveryImported, "")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	// Queued is not a valid ack status
	_, err = svc.AckDelivery(ctx, "user-1", "job-1", models.BridgeDeliveryQueued, "")
	assert.Error(t, err)

	// The client claims the delivery before downloading
	picked, err := svc.AckDelivery(ctx, "user-1", "job-1", models.BridgeDeliveryPicked, "Picked by Blender addon.")
	require.NoError(t, err)
	assert.Equal(t, models.BridgeDeliveryPicked, picked.Status)

	// Picked deliveries leave the pickup queue
	deliveries, err = svc.QueuedDeliveries(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, deliveries)

	acked, err := svc.AckDelivery(ctx, "user-1", "job-1", models.BridgeDeliveryImported, "imported into scene")
	require.NoError(t, err)
	assert.Equal(t, models.BridgeDeliveryImported, acked.Status)
	assert.Equal(t, "imported into scene", acked.Message)

	// Settled deliveries reject further acks
	_, err = svc.AckDelivery(ctx, "user-1", "job-1", models.BridgeDeliveryFailed, "")
	assert.Error(t, err)
}

func TestAckDelivery_FailedWithoutPick(t *testing.T) {
	svc, _ := setupService(t, "")
	ctx := context.Background()

	job := &models.Job{
		ID:     "job-2",
		UserID: "user-1",
		Result: &models.GenerationResult{ModelURL: "mock://models/job-2.glb", Format: "glb"},
	}
	require.NoError(t, svc.HandleJobCompleted(ctx, interfaces.Event{Payload: job}))

	failed, err := svc.AckDelivery(ctx, "user-1", "job-2", models.BridgeDeliveryFailed, "download timed out")
	require.NoError(t, err)
	assert.Equal(t, models.BridgeDeliveryFailed, failed.Status)
	assert.Equal(t, "download timed out", failed.Message)
}
