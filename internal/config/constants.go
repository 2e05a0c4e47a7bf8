package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 150 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Background job intervals
const CleanupJobInterval = 5 * time.Minute

// Wallet session lifecycle. SessionTTL is refreshed on every store write;
// SendConfirmTimeout bounds how long a send waits for the human in the
// wallet; TransactionLifetime is the default validUntil window the wallet
// itself enforces.
const (
	SessionTTL          = 24 * time.Hour
	SendConfirmTimeout  = 120 * time.Second
	TransactionLifetime = 600 * time.Second
)

// Pairing presentation
const (
	QRImageSize         = 256
	WalletsCacheTTL     = 10 * time.Minute
	WalletsFetchTimeout = 10 * time.Second
)

// Bridge transport tuning. BridgeMessageTTL is how long the bridge holds an
// undelivered message for the wallet; the reconnect delay paces SSE stream
// re-establishment after a drop.
const (
	BridgeMessageTTL     = 300 * time.Second
	BridgePostTimeout    = 10 * time.Second
	BridgeReconnectDelay = 3 * time.Second
)

// EventPublishTimeout caps how long a payment-event publish may hold up the
// flow that produced it.
const EventPublishTimeout = 5 * time.Second

// DefaultRateLimitPerMin is the per-client request budget on the wallet API.
// Sends block for up to SendConfirmTimeout, so bursts here translate into
// held connections; the cap keeps a misbehaving caller from pinning the pool.
const DefaultRateLimitPerMin = 120
