package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/store3d/forge/internal/common"
	"github.com/store3d/forge/internal/models"
)

var estimatorCfg = common.EstimatorConfig{
	AvgJobSeconds:           90,
	QueueSlotSeconds:        20,
	MinProcessingEtaSeconds: 10,
}

func TestCompute_EmptyQueue(t *testing.T) {
	snapshot := Compute(nil, estimatorCfg, time.Now())

	assert.Equal(t, 0, snapshot.QueueDepth)
	assert.Equal(t, 0, snapshot.ActiveCount)
	assert.Empty(t, snapshot.Jobs)
}

func TestCompute_ProcessingRemaining(t *testing.T) {
	now := time.Now()
	jobs := []*models.Job{
		{ID: "job-1", Status: models.JobStatusProviderProcessing, Progress: 50, CreatedAt: now},
	}

	snapshot := Compute(jobs, estimatorCfg, now)

	require.Contains(t, snapshot.Jobs, "job-1")
	assert.Equal(t, 1, snapshot.ActiveCount)
	assert.Equal(t, 0, snapshot.QueueDepth)
	// Half of 90s remains
	assert.Equal(t, 45, snapshot.Jobs["job-1"].EtaSeconds)
}

func TestCompute_MinProcessingFloor(t *testing.T) {
	now := time.Now()
	jobs := []*models.Job{
		{ID: "job-1", Status: models.JobStatusPostprocessing, Progress: 99, CreatedAt: now},
	}

	snapshot := Compute(jobs, estimatorCfg, now)

	// round(1% of 90) = 1, floored to the minimum
	assert.Equal(t, 10, snapshot.Jobs["job-1"].EtaSeconds)
}

func TestCompute_QueuedBehindBacklog(t *testing.T) {
	now := time.Now()
	jobs := []*models.Job{
		{ID: "active", Status: models.JobStatusProviderProcessing, Progress: 0, CreatedAt: now.Add(-time.Minute)},
		{ID: "first", Status: models.JobStatusQueued, CreatedAt: now.Add(-30 * time.Second)},
		{ID: "second", Status: models.JobStatusQueued, CreatedAt: now},
	}

	snapshot := Compute(jobs, estimatorCfg, now)

	assert.Equal(t, 1, snapshot.ActiveCount)
	assert.Equal(t, 2, snapshot.QueueDepth)

	first := snapshot.Jobs["first"]
	second := snapshot.Jobs["second"]
	require.NotNil(t, first)
	require.NotNil(t, second)

	assert.Equal(t, 1, first.QueuePosition)
	assert.Equal(t, 2, second.QueuePosition)

	// First queued job starts after the full 90s backlog of the active job
	assert.Equal(t, now.Add(90*time.Second), first.EtaStartAt)
	assert.Equal(t, 90+90, first.EtaSeconds)

	// Second starts one queue slot later
	assert.Equal(t, now.Add(110*time.Second), second.EtaStartAt)
	assert.Equal(t, 110+90, second.EtaSeconds)

	// ETAs are monotonic in queue order
	assert.True(t, second.EtaCompleteAt.After(first.EtaCompleteAt))
}

func TestCompute_LegacyProcessingCountsAsActive(t *testing.T) {
	now := time.Now()
	jobs := []*models.Job{
		{ID: "job-legacy", Status: models.JobStatus("processing"), Progress: 50, CreatedAt: now},
	}

	snapshot := Compute(jobs, estimatorCfg, now)
	assert.Equal(t, 1, snapshot.ActiveCount)
}

func TestCompute_ZeroConfigFallsBack(t *testing.T) {
	now := time.Now()
	jobs := []*models.Job{
		{ID: "queued", Status: models.JobStatusQueued, CreatedAt: now},
	}

	snapshot := Compute(jobs, common.EstimatorConfig{}, now)

	// Defaults apply when the config is zero-valued
	assert.Equal(t, 90, snapshot.Jobs["queued"].EtaSeconds)
}
