// Package tonconnect implements the app side of the TON Connect 2.0
// protocol: pairing with a wallet over an HTTP bridge, restoring persisted
// sessions, and submitting transaction requests for the user to approve in
// their wallet. The server never holds a private key; every transaction is
// signed inside the user's wallet app.
package tonconnect

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/xssnick/tonutils-go/address"

	"github.com/channelpay/tonconnect-server-go/internal/model"
)

// SessionStorage is the durable key/value surface a connector persists its
// session through. Reads report absence rather than failing; writes fail
// loudly (see internal/sessionstore).
type SessionStorage interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// Connector is one pairing-protocol session for one user. Implementations
// must be safe for concurrent use; the registry hands the same instance to
// every caller for a given user.
type Connector interface {
	// RestoreConnection rehydrates wallet and account state from storage.
	// A missing or expired session is not an error: the connector simply
	// stays disconnected.
	RestoreConnection(ctx context.Context) error
	// Connect generates a fresh pairing URI scoped to the given bridge
	// endpoints and starts listening for the wallet's reply.
	Connect(ctx context.Context, bridges []string) (string, error)
	// SendTransaction submits a transaction request to the paired wallet
	// and blocks until the wallet confirms, rejects, or ctx ends. On
	// success it returns the signed bag-of-cells, base64-encoded.
	SendTransaction(ctx context.Context, req model.TransactionRequest) (string, error)
	// Disconnect terminates the pairing at the protocol level and clears
	// the persisted session.
	Disconnect(ctx context.Context) error
	// Close stops background listeners without touching persisted state.
	Close()

	Connected() bool
	Wallet() *WalletInfo
	Account() *Account
}

// Factory builds a connector bound to one user's session storage. The
// registry uses it so tests can substitute doubles for the bridge.
type Factory func(storage SessionStorage) Connector

// WalletInfo is what the wallet app reported about itself during the
// handshake.
type WalletInfo struct {
	AppName  string `json:"appName"`
	Version  string `json:"appVersion"`
	Platform string `json:"platform"`
}

// Account is the wallet-reported account state. Address is in raw form
// ("0:<hex>") exactly as received.
type Account struct {
	Address   string `json:"address"`
	Network   string `json:"network"`
	PublicKey string `json:"publicKey,omitempty"`
	StateInit string `json:"walletStateInit,omitempty"`
}

// WalletDescriptor is one entry of the public wallets registry: enough
// metadata to render a pairing button and to know which transport the wallet
// listens on. Embedded (in-app browser) wallets carry no bridge URL and
// cannot be targeted by a shared pairing URI.
type WalletDescriptor struct {
	AppName      string
	Name         string
	ImageURL     string
	AboutURL     string
	UniversalURL string
	BridgeURL    string
	Embedded     bool
}

// ErrNotPaired is returned when an operation needs a paired wallet and the
// connector has none.
var ErrNotPaired = errors.New("tonconnect: no wallet paired")

// Wallet-side error codes defined by the TON Connect protocol.
const (
	CodeUnknownError       = 0
	CodeBadRequest         = 1
	CodeManifestNotFound   = 2
	CodeManifestInvalid    = 3
	CodeUnknownApp         = 100
	CodeUserDeclined       = 300
	CodeMethodNotSupported = 400
)

// RequestError is a structured error the wallet returned over the bridge.
type RequestError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("wallet error %d: %s", e.Code, e.Message)
}

// FriendlyAddress converts a raw "workchain:hex" address into the bounceable
// base64url form wallets display. The raw form is returned unchanged if it
// does not parse, so callers can use this on untrusted input without a
// second validation pass.
func FriendlyAddress(raw string) string {
	wc, data, err := splitRawAddress(raw)
	if err != nil {
		return raw
	}
	return address.NewAddress(0, byte(wc), data).String()
}

func splitRawAddress(raw string) (int8, []byte, error) {
	part := strings.SplitN(raw, ":", 2)
	if len(part) != 2 {
		return 0, nil, fmt.Errorf("not a raw address: %q", raw)
	}
	wc, err := strconv.ParseInt(part[0], 10, 8)
	if err != nil {
		return 0, nil, fmt.Errorf("bad workchain in %q: %w", raw, err)
	}
	data, err := hex.DecodeString(part[1])
	if err != nil {
		return 0, nil, fmt.Errorf("bad account id in %q: %w", raw, err)
	}
	if len(data) != 32 {
		return 0, nil, fmt.Errorf("account id must be 32 bytes, got %d", len(data))
	}
	return int8(wc), data, nil
}
