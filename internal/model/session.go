package model

import "time"

// WalletSessionRecord is one durable key/value fragment of a TON Connect
// session, scoped to a single user. The pairing SDK writes these through the
// session-store capability; rows past their expiry are treated as absent.
type WalletSessionRecord struct {
	ID         int64     `db:"id" json:"-"`
	UserID     string    `db:"user_id" json:"userId"`
	SessionKey string    `db:"session_key" json:"sessionKey"`
	Value      string    `db:"value" json:"-"`
	ExpiresAt  time.Time `db:"expires_at" json:"expiresAt"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time `db:"updated_at" json:"updatedAt"`
}
