// -----------------------------------------------------------------------
// DCC Bridge - deliveries and pairing for external tool pickup
// -----------------------------------------------------------------------

package models

import "time"

// BridgeDeliveryStatus tracks a delivery through the DCC client handshake
type BridgeDeliveryStatus string

const (
	BridgeDeliveryQueued   BridgeDeliveryStatus = "queued"
	BridgeDeliveryPicked   BridgeDeliveryStatus = "picked"
	BridgeDeliveryImported BridgeDeliveryStatus = "imported"
	BridgeDeliveryFailed   BridgeDeliveryStatus = "failed"
)

// Settled reports whether the delivery handshake is finished
func (s BridgeDeliveryStatus) Settled() bool {
	return s == BridgeDeliveryImported || s == BridgeDeliveryFailed
}

// BridgeDelivery is a completed generation result queued for pickup by a
// paired DCC client. Created when a job completes, acked by the client after
// import.
type BridgeDelivery struct {
	ID          string               `json:"id" badgerhold:"key"`
	JobID       string               `json:"jobId" badgerhold:"index"`
	UserID      string               `json:"userId" badgerhold:"index"`
	Status      BridgeDeliveryStatus `json:"status" badgerhold:"index"`
	DownloadURL string               `json:"downloadUrl"`
	Format      string               `json:"format,omitempty"`
	Message     string               `json:"message,omitempty"`
	CreatedAt   time.Time            `json:"createdAt"`
	UpdatedAt   time.Time            `json:"updatedAt"`
}

// PairCode is a short-lived code shown in the web UI that a DCC client
// redeems for a bearer token.
type PairCode struct {
	Code      string    `json:"code" badgerhold:"key"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the pair code is past its validity window
func (p *PairCode) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}
