package interfaces

import (
	"context"
	"time"
)

// EnqueueOptions carries per-call queue scheduling options
type EnqueueOptions struct {
	// Delay defers visibility of the entry. Zero means immediately runnable.
	Delay time.Duration
}

// QueueAdapter decouples "a job should run" from how it becomes runnable.
// Two backends implement the contract identically: an ephemeral in-process
// map and a durable Badger-backed queue.
type QueueAdapter interface {
	// Enqueue schedules the job under its stable identifier. Re-enqueuing
	// an already-queued job is a no-op.
	Enqueue(ctx context.Context, jobID string, opts *EnqueueOptions) error

	// Ack removes the job from the queue on successful completion
	Ack(ctx context.Context, jobID string) error

	// Fail removes the job from the queue and records the reason
	Fail(ctx context.Context, jobID string, reason string) error

	// Retry re-enqueues under a freshly-generated identifier so the retry
	// cannot collide with the stable-id idempotency guard.
	Retry(ctx context.Context, jobID string, opts *EnqueueOptions) error

	// Depth returns the number of entries currently queued
	Depth(ctx context.Context) (int, error)

	Close() error
}
