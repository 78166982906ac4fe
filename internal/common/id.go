package common

import (
	"github.com/google/uuid"
)

// NewJobID generates a unique job ID with the "job_" prefix
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewTokenEventID generates a unique token event ID with the "tok_" prefix
func NewTokenEventID() string {
	return "tok_" + uuid.New().String()
}

// NewJobEventID generates a unique job event ID with the "evt_" prefix
func NewJobEventID() string {
	return "evt_" + uuid.New().String()
}

// NewDeliveryID generates a unique bridge delivery ID with the "dcc_" prefix
func NewDeliveryID() string {
	return "dcc_" + uuid.New().String()
}

// NewToken generates an opaque bearer token for bridge clients
func NewToken() string {
	return uuid.New().String() + uuid.New().String()
}
