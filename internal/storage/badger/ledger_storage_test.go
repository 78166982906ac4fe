package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/store3d/forge/internal/interfaces"
	"github.com/store3d/forge/internal/models"
)

func seedUser(t *testing.T, db *BadgerDB, userID string, balance int) {
	t.Helper()
	logger := arbor.NewLogger()
	users := NewUserStorage(db, logger)
	err := users.SaveUser(context.Background(), &models.User{
		ID:           userID,
		Email:        userID + "@example.com",
		TokenBalance: balance,
	})
	require.NoError(t, err)
}

func TestAppendEvent_AppliesDeltaOnce(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	logger := arbor.NewLogger()
	storage := NewLedgerStorage(db, logger)
	seedUser(t, db, "user-1", 120)

	ev := &models.TokenEvent{
		ID:             "tok_1",
		UserID:         "user-1",
		JobID:          "job-1",
		Type:           models.TokenEventReserve,
		Amount:         10,
		Delta:          -10,
		IdempotencyKey: models.ReserveKey("job-1"),
	}

	applied, balance, err := storage.AppendEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, 110, balance)

	// Same key again: no second debit
	dup := &models.TokenEvent{
		ID:             "tok_2",
		UserID:         "user-1",
		JobID:          "job-1",
		Type:           models.TokenEventReserve,
		Amount:         10,
		Delta:          -10,
		IdempotencyKey: models.ReserveKey("job-1"),
	}
	applied, balance, err = storage.AppendEvent(context.Background(), dup)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, 110, balance)

	users := NewUserStorage(db, logger)
	user, err := users.GetUser(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 110, user.TokenBalance)
}

func TestAppendEvent_InsufficientFunds(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	logger := arbor.NewLogger()
	storage := NewLedgerStorage(db, logger)
	seedUser(t, db, "user-1", 5)

	ev := &models.TokenEvent{
		ID:             "tok_1",
		UserID:         "user-1",
		JobID:          "job-1",
		Type:           models.TokenEventReserve,
		Amount:         10,
		Delta:          -10,
		IdempotencyKey: models.ReserveKey("job-1"),
	}

	_, _, err := storage.AppendEvent(context.Background(), ev)
	require.ErrorIs(t, err, interfaces.ErrInsufficientFunds)

	// Nothing written: the same key still applies afterwards
	users := NewUserStorage(db, logger)
	user, err := users.GetUser(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 5, user.TokenBalance)

	_, err = storage.GetEventByKey(context.Background(), models.ReserveKey("job-1"))
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestSettle_FirstWriterWins(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	logger := arbor.NewLogger()
	storage := NewLedgerStorage(db, logger)
	seedUser(t, db, "user-1", 100)

	// Reserve 20 first
	reserve := &models.TokenEvent{
		ID:             "tok_r",
		UserID:         "user-1",
		JobID:          "job-1",
		Type:           models.TokenEventReserve,
		Amount:         20,
		Delta:          -20,
		IdempotencyKey: models.ReserveKey("job-1"),
	}
	_, _, err := storage.AppendEvent(context.Background(), reserve)
	require.NoError(t, err)

	// Release settles first
	release := &models.TokenEvent{
		ID:             "tok_rel",
		UserID:         "user-1",
		JobID:          "job-1",
		Type:           models.TokenEventRelease,
		Amount:         20,
		Delta:          20,
		IdempotencyKey: models.ReleaseKey("job-1"),
	}
	applied, existing, balance, err := storage.Settle(context.Background(), models.SettleKey("job-1"), models.TokenEventRelease, release)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, models.TokenEventRelease, existing)
	assert.Equal(t, 100, balance)

	// A late finalize is a no-op and reports the release won
	finalize := &models.TokenEvent{
		ID:             "tok_f",
		UserID:         "user-1",
		JobID:          "job-1",
		Type:           models.TokenEventFinalize,
		Amount:         20,
		Delta:          0,
		IdempotencyKey: models.FinalizeKey("job-1"),
	}
	applied, existing, balance, err = storage.Settle(context.Background(), models.SettleKey("job-1"), models.TokenEventFinalize, finalize)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, models.TokenEventRelease, existing)
	assert.Equal(t, 100, balance)

	// The finalize event was never written
	_, err = storage.GetEventByKey(context.Background(), models.FinalizeKey("job-1"))
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestListEvents_NewestFirst(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	logger := arbor.NewLogger()
	storage := NewLedgerStorage(db, logger)
	seedUser(t, db, "user-1", 100)

	for _, key := range []string{"k1", "k2", "k3"} {
		ev := &models.TokenEvent{
			ID:             "tok_" + key,
			UserID:         "user-1",
			Type:           models.TokenEventTopup,
			Amount:         1,
			Delta:          1,
			IdempotencyKey: key,
		}
		_, _, err := storage.AppendEvent(context.Background(), ev)
		require.NoError(t, err)
	}

	events, err := storage.ListEvents(context.Background(), "user-1", 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "k3", events[0].IdempotencyKey)
	assert.Equal(t, "k2", events[1].IdempotencyKey)
}
