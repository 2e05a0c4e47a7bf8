package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/channelpay/tonconnect-server-go/internal/config"
	"github.com/channelpay/tonconnect-server-go/internal/model"
	"github.com/channelpay/tonconnect-server-go/internal/service"
	"github.com/channelpay/tonconnect-server-go/internal/sessionstore"
	"github.com/channelpay/tonconnect-server-go/internal/tonconnect"
)

const (
	testPairingURI = "tc://?v=2&id=4a0db0b176dc64ad5e12bc4b6a5e2e37183d54b1e5e4e857de475accee1680f1&r=%7B%22manifestUrl%22%3A%22https%3A%2F%2Fpay.example.com%2Ftonconnect-manifest.json%22%7D&ret=none"
	testRecipient  = "EQD4FPq-PRD4YtG87wgL7AErgQwHUMFQ-JxyYw8jzBPhqjfH"
)

// stubConnector scripts protocol behavior for one user.
type stubConnector struct {
	mu         sync.Mutex
	connected  bool
	wallet     *tonconnect.WalletInfo
	account    *tonconnect.Account
	pairingURI string
	connectErr error
	sendResult string
	sendErr    error
}

func (c *stubConnector) RestoreConnection(ctx context.Context) error { return nil }

func (c *stubConnector) Connect(ctx context.Context, bridges []string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectErr != nil {
		return "", c.connectErr
	}
	return c.pairingURI, nil
}

func (c *stubConnector) SendTransaction(ctx context.Context, req model.TransactionRequest) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return "", c.sendErr
	}
	return c.sendResult, nil
}

func (c *stubConnector) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	return nil
}

func (c *stubConnector) Close() {}

func (c *stubConnector) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *stubConnector) Wallet() *tonconnect.WalletInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wallet
}

func (c *stubConnector) Account() *tonconnect.Account {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.account
}

func pairedStubConnector() *stubConnector {
	return &stubConnector{
		connected: true,
		wallet:    &tonconnect.WalletInfo{AppName: "tonkeeper", Version: "3.16", Platform: "iphone"},
		account: &tonconnect.Account{
			Address: "0:da6b1b6663a0e4d18cc8574ccd9db5296e367dd9324706f3bbd9eb1cd2caf0bf",
			Network: "-239",
		},
	}
}

// memSessionRepo keeps session fragments in a map, satisfying the
// repository interface without a database.
type memSessionRepo struct {
	mu   sync.Mutex
	rows map[string]map[string]string
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{rows: make(map[string]map[string]string)}
}

func (r *memSessionRepo) bucket(kind model.PrincipalKind, userID string) string {
	return kind.String() + "/" + userID
}

func (r *memSessionRepo) Find(ctx context.Context, kind model.PrincipalKind, userID, key string) (*model.WalletSessionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	value, ok := r.rows[r.bucket(kind, userID)][key]
	if !ok {
		return nil, nil
	}
	return &model.WalletSessionRecord{UserID: userID, SessionKey: key, Value: value}, nil
}

func (r *memSessionRepo) Upsert(ctx context.Context, kind model.PrincipalKind, userID, key, value string, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.bucket(kind, userID)
	if r.rows[b] == nil {
		r.rows[b] = make(map[string]string)
	}
	r.rows[b][key] = value
	return nil
}

func (r *memSessionRepo) Delete(ctx context.Context, kind model.PrincipalKind, userID, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows[r.bucket(kind, userID)], key)
	return nil
}

func (r *memSessionRepo) ListKeys(ctx context.Context, kind model.PrincipalKind, userID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var keys []string
	for k := range r.rows[r.bucket(kind, userID)] {
		keys = append(keys, k)
	}
	return keys, nil
}

func (r *memSessionRepo) DeleteExpired(ctx context.Context, kind model.PrincipalKind) (int64, error) {
	return 0, nil
}

type stubCatalog struct {
	wallets []tonconnect.WalletDescriptor
}

func (c *stubCatalog) List(ctx context.Context) []tonconnect.WalletDescriptor {
	return c.wallets
}

func (c *stubCatalog) FindByAppName(ctx context.Context, appName string) *tonconnect.WalletDescriptor {
	for i := range c.wallets {
		if c.wallets[i].AppName == appName {
			return &c.wallets[i]
		}
	}
	return nil
}

type stubProfiles struct{}

func (stubProfiles) SetWallet(ctx context.Context, kind model.PrincipalKind, userID, address, appName string) error {
	return nil
}

func (stubProfiles) ClearWallet(ctx context.Context, kind model.PrincipalKind, userID string) error {
	return nil
}

type stubEvents struct{}

func (stubEvents) TransactionConfirmed(ctx context.Context, kind model.PrincipalKind, userID string, result *model.TransactionResult) {
}
func (stubEvents) TransactionFailed(ctx context.Context, kind model.PrincipalKind, userID string, code string) {
}
func (stubEvents) WalletDisconnected(ctx context.Context, kind model.PrincipalKind, userID string) {}
func (stubEvents) StaleSessionCleared(ctx context.Context, kind model.PrincipalKind, userID string) {
}

func newWalletAPI(t *testing.T, connector *stubConnector) http.Handler {
	t.Helper()

	repo := newMemSessionRepo()
	registry := service.NewConnectorRegistry(
		func(storage tonconnect.SessionStorage) tonconnect.Connector { return connector },
		sessionstore.New(repo, model.PrincipalOwner, ""),
		sessionstore.New(repo, model.PrincipalSubscriber, ""),
	)
	t.Cleanup(registry.Close)

	cfg := &config.Config{
		ManifestURL:      "https://pay.example.com/tonconnect-manifest.json",
		DefaultBridgeURL: "https://bridge.tonapi.io/bridge",
		WalletLinksLimit: 4,
	}
	catalog := &stubCatalog{wallets: []tonconnect.WalletDescriptor{
		{
			AppName:      "telegram-wallet",
			Name:         "Wallet",
			UniversalURL: "https://t.me/wallet?attach=wallet",
			BridgeURL:    "https://walletbot.me/tonconnect-bridge/bridge",
		},
		{
			AppName:      "tonkeeper",
			Name:         "Tonkeeper",
			ImageURL:     "https://tonkeeper.com/assets/tonconnect-icon.png",
			UniversalURL: "https://app.tonkeeper.com/ton-connect",
			BridgeURL:    "https://bridge.tonapi.io/bridge",
		},
	}}

	svc := service.NewWalletService(registry, catalog, stubProfiles{}, stubEvents{}, cfg)
	return NewWalletHandler(svc).Routes()
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestWalletHandler_GenerateConnection(t *testing.T) {
	t.Run("returns offer with QR and links", func(t *testing.T) {
		connector := &stubConnector{pairingURI: testPairingURI}
		handler := newWalletAPI(t, connector)

		rec := doJSON(t, handler, http.MethodPost, "/owner/user-1/connection", nil)

		assert.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, testPairingURI, body["pairingUri"])
		assert.NotEmpty(t, body["qrImage"], "QR image should be present as base64")
		links, ok := body["links"].([]any)
		require.True(t, ok)
		require.Len(t, links, 2)
		first := links[0].(map[string]any)
		assert.Equal(t, "Wallet", first["name"])
		assert.Contains(t, first["url"], "https://t.me/wallet?attach=wallet&")
	})

	t.Run("conflict when already connected", func(t *testing.T) {
		handler := newWalletAPI(t, pairedStubConnector())

		rec := doJSON(t, handler, http.MethodPost, "/owner/user-1/connection", nil)

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "ALREADY_CONNECTED", decodeBody(t, rec)["code"])
	})

	t.Run("bad gateway when bridge fails", func(t *testing.T) {
		connector := &stubConnector{connectErr: assert.AnError}
		handler := newWalletAPI(t, connector)

		rec := doJSON(t, handler, http.MethodPost, "/subscriber/user-2/connection", nil)

		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, "EXTERNAL_SERVICE_ERROR", decodeBody(t, rec)["code"])
	})

	t.Run("rejects unknown principal kind", func(t *testing.T) {
		handler := newWalletAPI(t, &stubConnector{})

		rec := doJSON(t, handler, http.MethodPost, "/admin/user-1/connection", nil)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_INPUT", decodeBody(t, rec)["code"])
	})
}

func TestWalletHandler_Status(t *testing.T) {
	t.Run("connected wallet", func(t *testing.T) {
		handler := newWalletAPI(t, pairedStubConnector())

		rec := doJSON(t, handler, http.MethodGet, "/owner/user-1/status", nil)

		assert.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, true, body["connected"])
		assert.Equal(t, "tonkeeper", body["walletName"])
		address, _ := body["address"].(string)
		assert.True(t, strings.HasPrefix(address, "EQ"), "address should be friendly form, got %q", address)
	})

	t.Run("not connected", func(t *testing.T) {
		handler := newWalletAPI(t, &stubConnector{})

		rec := doJSON(t, handler, http.MethodGet, "/owner/user-1/status", nil)

		assert.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, false, body["connected"])
		assert.NotContains(t, body, "address")
	})
}

func TestWalletHandler_Disconnect(t *testing.T) {
	handler := newWalletAPI(t, pairedStubConnector())

	rec := doJSON(t, handler, http.MethodPost, "/owner/user-1/disconnect", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["success"])
}

func TestWalletHandler_SendTransaction(t *testing.T) {
	validRequest := model.TransactionRequest{
		Messages: []model.TransactionMessage{{Address: testRecipient, Amount: "1250000000"}},
	}

	t.Run("success returns hash", func(t *testing.T) {
		connector := pairedStubConnector()
		connector.sendResult = "te6ccgEBAQEAAgAAAA=="
		handler := newWalletAPI(t, connector)

		rec := doJSON(t, handler, http.MethodPost, "/subscriber/user-9/transactions", validRequest)

		assert.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, true, body["success"])
		hash, _ := body["hash"].(string)
		assert.Len(t, hash, 64)
	})

	t.Run("malformed body", func(t *testing.T) {
		handler := newWalletAPI(t, pairedStubConnector())

		req := httptest.NewRequest(http.MethodPost, "/owner/user-1/transactions", strings.NewReader("{not json"))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "VALIDATION_ERROR", decodeBody(t, rec)["code"])
	})

	t.Run("invalid recipient address", func(t *testing.T) {
		handler := newWalletAPI(t, pairedStubConnector())

		rec := doJSON(t, handler, http.MethodPost, "/owner/user-1/transactions", model.TransactionRequest{
			Messages: []model.TransactionMessage{{Address: "not-an-address", Amount: "100"}},
		})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_TRANSACTION", decodeBody(t, rec)["code"])
	})

	t.Run("no paired wallet", func(t *testing.T) {
		handler := newWalletAPI(t, &stubConnector{})

		rec := doJSON(t, handler, http.MethodPost, "/owner/user-1/transactions", validRequest)

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "NOT_CONNECTED", decodeBody(t, rec)["code"])
	})

	t.Run("user declined in wallet", func(t *testing.T) {
		connector := pairedStubConnector()
		connector.sendErr = &tonconnect.RequestError{Code: tonconnect.CodeUserDeclined, Message: "Canceled by the user"}
		handler := newWalletAPI(t, connector)

		rec := doJSON(t, handler, http.MethodPost, "/owner/user-1/transactions", validRequest)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "USER_REJECTED", decodeBody(t, rec)["code"])
	})
}

func TestWalletHandler_DeepLink(t *testing.T) {
	t.Run("paired wallet gets universal link", func(t *testing.T) {
		handler := newWalletAPI(t, pairedStubConnector())

		rec := doJSON(t, handler, http.MethodGet, "/owner/user-1/deeplink", nil)

		assert.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "tonkeeper", body["walletName"])
		assert.Equal(t, "https://app.tonkeeper.com/ton-connect", body["link"])
	})

	t.Run("conflict when nothing is paired", func(t *testing.T) {
		handler := newWalletAPI(t, &stubConnector{})

		rec := doJSON(t, handler, http.MethodGet, "/owner/user-1/deeplink", nil)

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "NOT_CONNECTED", decodeBody(t, rec)["code"])
	})
}
