package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/store3d/forge/internal/interfaces"
)

// memoryEntry is one runnable unit in the ephemeral queue
type memoryEntry struct {
	key        string
	jobID      string
	visibleAt  time.Time
	enqueuedAt time.Time
}

// MemoryAdapter keeps queue entries in an in-process map. No durability, no
// cross-instance claiming; acceptable for single-instance deployments and
// tests only.
type MemoryAdapter struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry            // entry key -> entry
	byJob   map[string]map[string]struct{}     // job id -> entry keys
	logger  arbor.ILogger
}

// NewMemoryAdapter creates a new in-memory queue adapter
func NewMemoryAdapter(logger arbor.ILogger) *MemoryAdapter {
	return &MemoryAdapter{
		entries: make(map[string]*memoryEntry),
		byJob:   make(map[string]map[string]struct{}),
		logger:  logger,
	}
}

func (a *MemoryAdapter) Enqueue(ctx context.Context, jobID string, opts *interfaces.EnqueueOptions) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Stable identifier makes re-enqueue a no-op
	if len(a.byJob[jobID]) > 0 {
		a.logger.Debug().Str("job_id", jobID).Msg("Job already queued, enqueue is a no-op")
		return nil
	}

	a.add(jobID, jobID, delayOf(opts))
	return nil
}

func (a *MemoryAdapter) Ack(ctx context.Context, jobID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.remove(jobID)
	return nil
}

func (a *MemoryAdapter) Fail(ctx context.Context, jobID string, reason string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.remove(jobID)
	a.logger.Warn().Str("job_id", jobID).Str("reason", reason).Msg("Job removed from queue after failure")
	return nil
}

func (a *MemoryAdapter) Retry(ctx context.Context, jobID string, opts *interfaces.EnqueueOptions) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Fresh identifier so the retry bypasses the stable-id dedup guard
	key := jobID + ":" + uuid.New().String()
	a.add(key, jobID, delayOf(opts))
	return nil
}

func (a *MemoryAdapter) Depth(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries), nil
}

func (a *MemoryAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = make(map[string]*memoryEntry)
	a.byJob = make(map[string]map[string]struct{})
	return nil
}

// add inserts an entry; caller holds the lock
func (a *MemoryAdapter) add(key, jobID string, delay time.Duration) {
	now := time.Now()
	a.entries[key] = &memoryEntry{
		key:        key,
		jobID:      jobID,
		visibleAt:  now.Add(delay),
		enqueuedAt: now,
	}
	if a.byJob[jobID] == nil {
		a.byJob[jobID] = make(map[string]struct{})
	}
	a.byJob[jobID][key] = struct{}{}
}

// remove drops all entries for a job; caller holds the lock
func (a *MemoryAdapter) remove(jobID string) {
	for key := range a.byJob[jobID] {
		delete(a.entries, key)
	}
	delete(a.byJob, jobID)
}

func delayOf(opts *interfaces.EnqueueOptions) time.Duration {
	if opts == nil || opts.Delay < 0 {
		return 0
	}
	return opts.Delay
}
