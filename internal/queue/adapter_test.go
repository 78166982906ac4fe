package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/store3d/forge/internal/common"
)

func TestNewAdapter_MemoryDefault(t *testing.T) {
	logger := arbor.NewLogger()

	adapter, err := NewAdapter(&common.QueueConfig{Backend: ""}, "development", nil, logger)
	require.NoError(t, err)
	assert.IsType(t, &MemoryAdapter{}, adapter)

	adapter, err = NewAdapter(&common.QueueConfig{Backend: BackendMemory}, "production", nil, logger)
	require.NoError(t, err)
	assert.IsType(t, &MemoryAdapter{}, adapter)
}

func TestNewAdapter_BadgerWithoutDB(t *testing.T) {
	logger := arbor.NewLogger()

	// Production: fail fast
	_, err := NewAdapter(&common.QueueConfig{Backend: BackendBadger}, "production", nil, logger)
	require.Error(t, err)

	// Development: fall back to memory with a warning
	adapter, err := NewAdapter(&common.QueueConfig{Backend: BackendBadger}, "development", nil, logger)
	require.NoError(t, err)
	assert.IsType(t, &MemoryAdapter{}, adapter)
}

func TestNewAdapter_UnknownBackend(t *testing.T) {
	_, err := NewAdapter(&common.QueueConfig{Backend: "rabbitmq"}, "development", nil, arbor.NewLogger())
	require.Error(t, err)
}

func TestDefaultAdapterLifecycle(t *testing.T) {
	ResetDefault()
	assert.Nil(t, Default())

	adapter := NewMemoryAdapter(arbor.NewLogger())
	SetDefault(adapter)
	assert.Equal(t, adapter, Default())

	ResetDefault()
	assert.Nil(t, Default())
}

func TestBackoff(t *testing.T) {
	base := 15 * time.Second
	max := 4 * time.Minute

	assert.Equal(t, 15*time.Second, Backoff(1, base, max))
	assert.Equal(t, 30*time.Second, Backoff(2, base, max))
	assert.Equal(t, 60*time.Second, Backoff(3, base, max))
	assert.Equal(t, 2*time.Minute, Backoff(4, base, max))
	assert.Equal(t, 4*time.Minute, Backoff(5, base, max))
	// Capped at max from here on
	assert.Equal(t, max, Backoff(6, base, max))
	assert.Equal(t, max, Backoff(50, base, max))
	// Attempt below 1 is treated as the first
	assert.Equal(t, base, Backoff(0, base, max))
}

func TestMemoryAdapter_EnqueueIdempotent(t *testing.T) {
	adapter := NewMemoryAdapter(arbor.NewLogger())
	ctx := context.Background()

	require.NoError(t, adapter.Enqueue(ctx, "job-1", nil))
	require.NoError(t, adapter.Enqueue(ctx, "job-1", nil))
	require.NoError(t, adapter.Enqueue(ctx, "job-2", nil))

	depth, err := adapter.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, depth)
}

func TestMemoryAdapter_AckRemovesJob(t *testing.T) {
	adapter := NewMemoryAdapter(arbor.NewLogger())
	ctx := context.Background()

	require.NoError(t, adapter.Enqueue(ctx, "job-1", nil))
	require.NoError(t, adapter.Ack(ctx, "job-1"))

	depth, err := adapter.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, depth)

	// Job can be enqueued again after ack
	require.NoError(t, adapter.Enqueue(ctx, "job-1", nil))
	depth, _ = adapter.Depth(ctx)
	assert.Equal(t, 1, depth)
}

func TestMemoryAdapter_RetryBypassesDedup(t *testing.T) {
	adapter := NewMemoryAdapter(arbor.NewLogger())
	ctx := context.Background()

	require.NoError(t, adapter.Enqueue(ctx, "job-1", nil))
	require.NoError(t, adapter.Retry(ctx, "job-1", nil))
	require.NoError(t, adapter.Retry(ctx, "job-1", nil))

	depth, err := adapter.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, depth)

	// Failure removes every entry for the job
	require.NoError(t, adapter.Fail(ctx, "job-1", "gave up"))
	depth, _ = adapter.Depth(ctx)
	assert.Equal(t, 0, depth)
}
