package model

import "time"

// WalletProfile records the outcome of a completed TON Connect handshake:
// which wallet a user currently has linked, if any. It is reconciled against
// the live connector state and cleared when a session turns out to be stale.
type WalletProfile struct {
	ID            int64         `db:"id" json:"-"`
	Kind          PrincipalKind `db:"kind" json:"kind"`
	UserID        string        `db:"user_id" json:"userId"`
	WalletAddress *string       `db:"wallet_address" json:"walletAddress,omitempty"`
	WalletAppName *string       `db:"wallet_app_name" json:"walletAppName,omitempty"`
	ConnectedAt   *time.Time    `db:"connected_at" json:"connectedAt,omitempty"`
	CreatedAt     time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time     `db:"updated_at" json:"updatedAt"`
}
