package models

import "time"

// User is the account record the ledger debits against. TokenBalance is the
// only shared mutable value in the system; every change to it goes through
// the ledger in the same transaction as its TokenEvent.
type User struct {
	ID           string    `json:"id" badgerhold:"key"`
	Email        string    `json:"email" badgerhold:"index"`
	TokenBalance int       `json:"token_balance"`

	// BridgeToken authenticates DCC bridge clients (Blender addon) once a
	// pair code has been redeemed.
	BridgeToken string `json:"bridge_token,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
