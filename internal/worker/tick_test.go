package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/store3d/forge/internal/common"
	"github.com/store3d/forge/internal/interfaces"
	"github.com/store3d/forge/internal/ledger"
	"github.com/store3d/forge/internal/models"
	"github.com/store3d/forge/internal/provider"
	"github.com/store3d/forge/internal/queue"
	"github.com/store3d/forge/internal/state"
	badgerstorage "github.com/store3d/forge/internal/storage/badger"
)

type testRig struct {
	worker  *Worker
	storage interfaces.StorageManager
	ledger  *ledger.Service
	queue   interfaces.QueueAdapter
}

func setupWorker(t *testing.T, maxAttempts int) *testRig {
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
	cfg.Queue.MaxAttempts = maxAttempts
	cfg.Queue.RetryBaseDelay = "1ms"
	cfg.Queue.RetryMaxDelay = "2ms"
	cfg.Worker.PollDelay = "1ms"

	adapter := queue.NewMemoryAdapter(logger)
	ledgerSvc := ledger.NewService(manager.LedgerStorage(), manager.UserStorage(), logger)
	machine := state.NewMachine(manager.JobStorage(), manager.JobEventStorage(), nil, logger)
	mock := provider.NewMockProvider()

	w := New(cfg, manager.JobStorage(), machine, ledgerSvc, adapter, mock, logger)

	return &testRig{worker: w, storage: manager, ledger: ledgerSvc, queue: adapter}
}

// seedReservedJob creates a user, reserves tokens and writes a queued job
func (r *testRig) seedReservedJob(t *testing.T, jobID, prompt string, cost int) {
	t.Helper()
	ctx := context.Background()

	if _, err := r.storage.UserStorage().GetUser(ctx, "user-1"); err != nil {
		require.NoError(t, r.storage.UserStorage().SaveUser(ctx, &models.User{
			ID:           "user-1",
			Email:        "user-1@example.com",
			TokenBalance: 100,
		}))
	}

	_, err := r.ledger.Reserve(ctx, "user-1", jobID, cost)
	require.NoError(t, err)

	require.NoError(t, r.storage.JobStorage().SaveJob(ctx, &models.Job{
		ID:             jobID,
		UserID:         "user-1",
		Status:         models.JobStatusQueued,
		Provider:       "mock",
		Mode:           models.ModeTextTo3D,
		ReservedTokens: cost,
		Prompt:         prompt,
		SourceType:     models.SourceTypePrompt,
		CreatedAt:      time.Now(),
	}))
	require.NoError(t, r.queue.Enqueue(ctx, jobID, nil))
}

// drive ticks until the job reaches a terminal status or maxTicks elapse
func (r *testRig) drive(t *testing.T, jobID string, maxTicks int) *models.Job {
	t.Helper()
	ctx := context.Background()

	for i := 0; i < maxTicks; i++ {
		if _, err := r.worker.Tick(ctx); err != nil {
			t.Fatalf("Tick failed: %v", err)
		}
		job, err := r.storage.JobStorage().GetJob(ctx, jobID)
		require.NoError(t, err)
		if job.IsTerminal() {
			return job
		}
		// Let poll delays and retry backoffs elapse
		time.Sleep(5 * time.Millisecond)
	}

	job, err := r.storage.JobStorage().GetJob(ctx, jobID)
	require.NoError(t, err)
	return job
}

func TestTick_HappyPath(t *testing.T) {
	rig := setupWorker(t, 3)
	ctx := context.Background()

	rig.seedReservedJob(t, "job-1", "a small ceramic vase", 10)

	job := rig.drive(t, "job-1", 10)

	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	require.NotNil(t, job.Result)
	assert.Equal(t, "mock://models/job-1.glb", job.Result.ModelURL)
	assert.Equal(t, "glb", job.Result.Format)
	require.NotNil(t, job.StartedAt)
	require.NotNil(t, job.CompletedAt)

	// Charge finalized: the reserved tokens stay spent
	balance, err := rig.ledger.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 90, balance)

	// Late release is a no-op against the settled charge
	res, err := rig.ledger.Release(ctx, "user-1", "job-1")
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, ledger.ReasonAlreadyFinalized, res.Reason)

	depth, err := rig.queue.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestTick_FatalFailureRefunds(t *testing.T) {
	rig := setupWorker(t, 3)
	ctx := context.Background()

	rig.seedReservedJob(t, "job-1", provider.MarkerFatal+" broken prompt", 10)

	job := rig.drive(t, "job-1", 5)

	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.NotEmpty(t, job.ErrorMessage)

	// Reservation refunded in full
	balance, err := rig.ledger.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 100, balance)

	depth, err := rig.queue.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestTick_TransientRetriesThenFails(t *testing.T) {
	rig := setupWorker(t, 2)
	ctx := context.Background()

	rig.seedReservedJob(t, "job-1", provider.MarkerTransient+" busy service", 10)

	job := rig.drive(t, "job-1", 20)

	// Retry budget of 2 exhausted, then terminal failure with refund
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, 2, job.Attempts)

	balance, err := rig.ledger.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 100, balance)

	// The retry path left an audit trail through retrying
	events, err := rig.storage.JobEventStorage().ListJobEvents(ctx, "job-1")
	require.NoError(t, err)
	var sawRetry bool
	for _, ev := range events {
		if ev.StatusAfter == models.JobStatusRetrying {
			sawRetry = true
		}
	}
	assert.True(t, sawRetry)
}

func TestTick_RespectsBatchLimit(t *testing.T) {
	rig := setupWorker(t, 3)
	rig.worker.batchLimit = 1
	ctx := context.Background()

	rig.seedReservedJob(t, "job-1", "first", 10)
	rig.seedReservedJob(t, "job-2", "second", 10)

	advanced, err := rig.worker.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, advanced)

	// FIFO: the older job moved first
	job1, err := rig.storage.JobStorage().GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.NotEqual(t, models.JobStatusQueued, job1.Status)

	job2, err := rig.storage.JobStorage().GetJob(ctx, "job-2")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, job2.Status)
}

func TestSweep_FailsStaleInFlightJobs(t *testing.T) {
	rig := setupWorker(t, 1)
	rig.worker.staleAfter = time.Millisecond
	ctx := context.Background()

	rig.seedReservedJob(t, "job-1", "stale candidate", 10)

	// Move the job in flight, then let it go stale
	_, err := rig.worker.Tick(ctx)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	swept, err := rig.worker.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	job, err := rig.storage.JobStorage().GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRetrying, job.Status)
	assert.Equal(t, 1, job.Attempts)
}
