// -----------------------------------------------------------------------
// Token Event - append-only ledger record, idempotent per key
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"time"
)

// TokenEventType classifies ledger entries
type TokenEventType string

const (
	TokenEventReserve  TokenEventType = "reserve"
	TokenEventFinalize TokenEventType = "finalize"
	TokenEventRelease  TokenEventType = "release"
	TokenEventSpend    TokenEventType = "spend"
	TokenEventRefund   TokenEventType = "refund"
	TokenEventTopup    TokenEventType = "topup"
	TokenEventAdjust   TokenEventType = "adjust"
)

// TokenEvent is one row of the per-user token ledger. Events are appended
// once and never mutated; IdempotencyKey is unique across the collection and
// is the sole duplicate-effect guard.
type TokenEvent struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id" badgerhold:"index"`
	JobID          string         `json:"job_id,omitempty" badgerhold:"index"`
	Type           TokenEventType `json:"type"`
	Reason         string         `json:"reason,omitempty"`
	Amount         int            `json:"amount"`
	Delta          int            `json:"delta"`
	BalanceAfter   int            `json:"balance_after"`
	IdempotencyKey string         `json:"idempotency_key"`
	CreatedAt      time.Time      `json:"created_at"`
}

// ReserveKey returns the idempotency key for a job's reservation
func ReserveKey(jobID string) string {
	return fmt.Sprintf("job:%s:reserve", jobID)
}

// FinalizeKey returns the idempotency key for a job's finalize event
func FinalizeKey(jobID string) string {
	return fmt.Sprintf("job:%s:finalize", jobID)
}

// ReleaseKey returns the idempotency key for a job's release event
func ReleaseKey(jobID string) string {
	return fmt.Sprintf("job:%s:release", jobID)
}

// SettleKey returns the key of the settlement marker that makes finalize and
// release mutually exclusive for a job. Whichever writes the marker first
// wins; the other settles as a no-op.
func SettleKey(jobID string) string {
	return fmt.Sprintf("job:%s:settle", jobID)
}
