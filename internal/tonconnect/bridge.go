package tonconnect

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/nacl/box"

	"github.com/channelpay/tonconnect-server-go/internal/config"
	"github.com/channelpay/tonconnect-server-go/internal/model"
)

// Storage keys one connector owns. Both are wiped on disconnect; the event
// cursor lives under its own key because it churns on every bridge delivery
// while the connection record changes only on pairing and RPC issue.
const (
	keyConnection  = "bridge_connection"
	keyLastEventID = "bridge_last_event_id"
)

// bridgeSession is the durable state of one pairing, JSON-encoded under
// keyConnection. Keys are hex-encoded X25519 material; PublicKey doubles as
// our client_id on the bridge.
type bridgeSession struct {
	PrivateKey string      `json:"privateKey"`
	PublicKey  string      `json:"publicKey"`
	BridgeURL  string      `json:"bridgeUrl,omitempty"`
	WalletID   string      `json:"walletClientId,omitempty"`
	NextID     uint64      `json:"nextRequestId"`
	Wallet     *WalletInfo `json:"wallet,omitempty"`
	Account    *Account    `json:"account,omitempty"`
}

// walletMessage covers both shapes a wallet sends: events (connect,
// connect_error, disconnect) and RPC replies. IDs arrive as either JSON
// numbers or strings depending on the wallet, hence the raw field.
type walletMessage struct {
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RequestError   `json:"error,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

type connectPayload struct {
	Items []struct {
		Name      string `json:"name"`
		Address   string `json:"address"`
		Network   string `json:"network"`
		PublicKey string `json:"publicKey"`
		StateInit string `json:"walletStateInit"`
	} `json:"items"`
	Device struct {
		AppName    string `json:"appName"`
		AppVersion string `json:"appVersion"`
		Platform   string `json:"platform"`
	} `json:"device"`
}

type bridgeResponse struct {
	Result string
	Err    *RequestError
}

// BridgeConnector talks TON Connect over an HTTP bridge: NaCl-boxed JSON
// messages, delivered to the wallet via POST and received back over a
// server-sent-event stream. One instance serves one user.
type BridgeConnector struct {
	manifestURL string
	storage     SessionStorage
	client      *http.Client

	mu        sync.RWMutex
	session   *bridgeSession
	connected bool
	closed    bool
	pending   map[string]chan bridgeResponse

	listenCancel context.CancelFunc
	listenWG     sync.WaitGroup
}

// NewBridgeConnector builds a connector persisting through storage. The
// manifest URL is what wallets fetch to display who is asking for the
// connection.
func NewBridgeConnector(manifestURL string, storage SessionStorage) *BridgeConnector {
	return &BridgeConnector{
		manifestURL: manifestURL,
		storage:     storage,
		// No client-level timeout: the event stream stays open for the
		// life of the session. POSTs bound themselves with a context.
		client:  &http.Client{},
		pending: make(map[string]chan bridgeResponse),
	}
}

// RestoreConnection rehydrates the session persisted by an earlier process.
// Absence is not an error. A session with a wallet ID counts as connected
// even if account data did not survive; the status check reconciles that
// case separately.
func (c *BridgeConnector) RestoreConnection(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		return nil
	}
	raw, ok := c.storage.Get(ctx, keyConnection)
	if !ok {
		return nil
	}
	var session bridgeSession
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return fmt.Errorf("restore wallet session: %w", err)
	}
	if _, err := decodeKey(session.PrivateKey); err != nil {
		return fmt.Errorf("restore wallet session: %w", err)
	}
	c.session = &session
	c.connected = session.WalletID != ""
	if c.connected && session.BridgeURL != "" {
		c.startListenersLocked([]string{session.BridgeURL})
	}
	return nil
}

// Connect starts a fresh pairing: a new X25519 keypair, listeners on every
// given bridge, and a tc:// URI for the wallet to answer. Nothing is
// persisted until a wallet actually connects.
func (c *BridgeConnector) Connect(ctx context.Context, bridges []string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return "", fmt.Errorf("tonconnect: connector closed")
	}
	if c.connected {
		return "", fmt.Errorf("tonconnect: already paired")
	}
	if len(bridges) == 0 {
		return "", fmt.Errorf("tonconnect: no bridge endpoints")
	}

	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("generate session key: %w", err)
	}
	c.session = &bridgeSession{
		PrivateKey: hex.EncodeToString(priv[:]),
		PublicKey:  hex.EncodeToString(pub[:]),
	}

	c.stopListenersLocked()
	c.startListenersLocked(bridges)

	return c.pairingURILocked(), nil
}

func (c *BridgeConnector) pairingURILocked() string {
	connectRequest, _ := json.Marshal(map[string]any{
		"manifestUrl": c.manifestURL,
		"items":       []map[string]string{{"name": "ton_addr"}},
	})
	return fmt.Sprintf("tc://?v=2&id=%s&r=%s&ret=none",
		c.session.PublicKey, url.QueryEscape(string(connectRequest)))
}

// SendTransaction posts a sendTransaction RPC to the paired wallet and
// blocks until the wallet answers or ctx ends. The wallet's confirmation is
// human-paced; callers own the deadline.
func (c *BridgeConnector) SendTransaction(ctx context.Context, req model.TransactionRequest) (string, error) {
	c.mu.Lock()
	if !c.connected || c.session == nil || c.session.WalletID == "" {
		c.mu.Unlock()
		return "", ErrNotPaired
	}
	id := strconv.FormatUint(c.session.NextID, 10)
	c.session.NextID++
	snapshot := *c.session
	ch := make(chan bridgeResponse, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	// The RPC counter must survive restarts or a reused ID would confuse
	// the wallet, so the session is re-persisted before the request goes
	// out.
	if err := c.persistSession(ctx, &snapshot); err != nil {
		return "", err
	}

	params, err := json.Marshal(transactionParams(req))
	if err != nil {
		return "", err
	}
	message, err := json.Marshal(map[string]any{
		"method": "sendTransaction",
		"params": []string{string(params)},
		"id":     id,
	})
	if err != nil {
		return "", err
	}
	sealed, err := sealMessage(snapshot.PrivateKey, snapshot.WalletID, message)
	if err != nil {
		return "", err
	}
	if err := c.post(ctx, snapshot.BridgeURL, snapshot.PublicKey, snapshot.WalletID, sealed); err != nil {
		return "", err
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case resp := <-ch:
		if resp.Err != nil {
			return "", resp.Err
		}
		return resp.Result, nil
	}
}

// transactionParams renders the request in the wire shape wallets expect.
func transactionParams(req model.TransactionRequest) map[string]any {
	messages := make([]map[string]any, 0, len(req.Messages))
	for _, m := range req.Messages {
		msg := map[string]any{
			"address": m.Address,
			"amount":  m.Amount,
		}
		if m.Payload != "" {
			msg["payload"] = m.Payload
		}
		if m.StateInit != "" {
			msg["stateInit"] = m.StateInit
		}
		messages = append(messages, msg)
	}
	return map[string]any{
		"valid_until": req.ValidUntil,
		"messages":    messages,
	}
}

// Disconnect tears the pairing down: notify the wallet (best effort), stop
// listeners, wipe persisted state. Storage failures propagate so the caller
// knows fragments may remain.
func (c *BridgeConnector) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	session := c.session
	wasConnected := c.connected
	c.connected = false
	c.session = nil
	c.stopListenersLocked()
	c.mu.Unlock()

	if wasConnected && session != nil && session.WalletID != "" {
		if err := c.notifyDisconnect(ctx, session); err != nil {
			log.Debug().Err(err).Msg("Wallet disconnect notification failed")
		}
	}

	if err := c.storage.Remove(ctx, keyConnection); err != nil {
		return err
	}
	return c.storage.Remove(ctx, keyLastEventID)
}

func (c *BridgeConnector) notifyDisconnect(ctx context.Context, session *bridgeSession) error {
	message, err := json.Marshal(map[string]any{
		"method": "disconnect",
		"params": []string{},
		"id":     strconv.FormatUint(session.NextID, 10),
	})
	if err != nil {
		return err
	}
	sealed, err := sealMessage(session.PrivateKey, session.WalletID, message)
	if err != nil {
		return err
	}
	return c.post(ctx, session.BridgeURL, session.PublicKey, session.WalletID, sealed)
}

// Close stops background listeners and waits for them. Persisted state is
// untouched; the session can be restored by the next process.
func (c *BridgeConnector) Close() {
	c.mu.Lock()
	c.closed = true
	c.stopListenersLocked()
	c.mu.Unlock()
	c.listenWG.Wait()
}

func (c *BridgeConnector) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *BridgeConnector) Wallet() *WalletInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return nil
	}
	return c.session.Wallet
}

func (c *BridgeConnector) Account() *Account {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return nil
	}
	return c.session.Account
}

// --- bridge transport ---

func (c *BridgeConnector) startListenersLocked(bridges []string) {
	if c.closed {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.listenCancel = cancel
	seen := make(map[string]bool, len(bridges))
	for _, bridge := range bridges {
		if bridge == "" || seen[bridge] {
			continue
		}
		seen[bridge] = true
		c.listenWG.Add(1)
		go c.listen(ctx, bridge)
	}
}

func (c *BridgeConnector) stopListenersLocked() {
	if c.listenCancel != nil {
		c.listenCancel()
		c.listenCancel = nil
	}
}

func (c *BridgeConnector) listen(ctx context.Context, bridgeURL string) {
	defer c.listenWG.Done()
	for {
		err := c.stream(ctx, bridgeURL)
		if ctx.Err() != nil {
			return
		}
		log.Debug().Err(err).Str("bridge", bridgeURL).Msg("Bridge stream closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(config.BridgeReconnectDelay):
		}
	}
}

func (c *BridgeConnector) stream(ctx context.Context, bridgeURL string) error {
	c.mu.RLock()
	if c.session == nil {
		c.mu.RUnlock()
		return fmt.Errorf("no session")
	}
	clientID := c.session.PublicKey
	c.mu.RUnlock()

	endpoint := fmt.Sprintf("%s/events?client_id=%s", strings.TrimSuffix(bridgeURL, "/"), clientID)
	if lastEventID, ok := c.storage.Get(ctx, keyLastEventID); ok && lastEventID != "" {
		endpoint += "&last_event_id=" + url.QueryEscape(lastEventID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bridge events returned status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	var event, data, eventID string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data != "" && event != "heartbeat" {
				c.handleBridgeEvent(ctx, bridgeURL, data, eventID)
			}
			event, data, eventID = "", "", ""
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		case strings.HasPrefix(line, "id:"):
			eventID = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
		}
	}
	return scanner.Err()
}

func (c *BridgeConnector) handleBridgeEvent(ctx context.Context, bridgeURL, data, eventID string) {
	// Event handling must outlive the stream that delivered it: narrowing
	// listeners after a connect cancels the very context this handler was
	// called under.
	ctx = context.WithoutCancel(ctx)

	var envelope struct {
		From    string `json:"from"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(data), &envelope); err != nil {
		log.Debug().Err(err).Msg("Skipping unparseable bridge event")
		return
	}
	if eventID != "" {
		if err := c.storage.Set(ctx, keyLastEventID, eventID); err != nil {
			log.Warn().Err(err).Msg("Failed to persist bridge event cursor")
		}
	}

	plaintext, err := c.openMessage(envelope.From, envelope.Message)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to decrypt bridge message")
		return
	}
	var msg walletMessage
	if err := json.Unmarshal(plaintext, &msg); err != nil {
		log.Warn().Err(err).Msg("Failed to parse wallet message")
		return
	}

	switch msg.Event {
	case "connect":
		c.handleConnect(ctx, bridgeURL, envelope.From, msg.Payload)
	case "connect_error":
		var reqErr RequestError
		_ = json.Unmarshal(msg.Payload, &reqErr)
		log.Warn().Int("code", reqErr.Code).Str("message", reqErr.Message).Msg("Wallet refused connection")
	case "disconnect":
		c.handleRemoteDisconnect(ctx)
	case "":
		c.dispatchResponse(msg)
	default:
		log.Debug().Str("event", msg.Event).Msg("Ignoring unknown wallet event")
	}
}

func (c *BridgeConnector) handleConnect(ctx context.Context, bridgeURL, from string, payload json.RawMessage) {
	var p connectPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		log.Warn().Err(err).Msg("Malformed connect payload")
		return
	}
	var account *Account
	for _, item := range p.Items {
		if item.Name == "ton_addr" && item.Address != "" {
			account = &Account{
				Address:   item.Address,
				Network:   item.Network,
				PublicKey: item.PublicKey,
				StateInit: item.StateInit,
			}
			break
		}
	}
	if account == nil {
		log.Warn().Msg("Connect event carried no ton_addr item")
		return
	}

	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return
	}
	c.session.BridgeURL = bridgeURL
	c.session.WalletID = from
	c.session.Wallet = &WalletInfo{
		AppName:  p.Device.AppName,
		Version:  p.Device.AppVersion,
		Platform: p.Device.Platform,
	}
	c.session.Account = account
	c.connected = true
	snapshot := *c.session
	// The wallet answered on one bridge; the streams on the others have
	// no further use.
	c.stopListenersLocked()
	c.startListenersLocked([]string{bridgeURL})
	c.mu.Unlock()

	if err := c.persistSession(ctx, &snapshot); err != nil {
		log.Error().Err(err).Msg("Failed to persist paired wallet session")
	}
	log.Info().
		Str("wallet", snapshot.Wallet.AppName).
		Str("address", snapshot.Account.Address).
		Msg("Wallet paired")
}

func (c *BridgeConnector) handleRemoteDisconnect(ctx context.Context) {
	c.mu.Lock()
	c.connected = false
	c.session = nil
	c.stopListenersLocked()
	c.mu.Unlock()

	if err := c.storage.Remove(ctx, keyConnection); err != nil {
		log.Error().Err(err).Msg("Failed to clear session after wallet-side disconnect")
	}
	if err := c.storage.Remove(ctx, keyLastEventID); err != nil {
		log.Error().Err(err).Msg("Failed to clear event cursor after wallet-side disconnect")
	}
	log.Info().Msg("Wallet disconnected from its side")
}

func (c *BridgeConnector) dispatchResponse(msg walletMessage) {
	id := jsonScalar(msg.ID)
	if id == "" {
		log.Debug().Msg("Dropping wallet message with no event and no id")
		return
	}
	c.mu.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if !ok {
		// Late confirmation for an abandoned request; discarding it is
		// the documented outcome of losing the confirmation race.
		log.Debug().Str("id", id).Msg("Dropping wallet reply nobody is waiting for")
		return
	}
	ch <- bridgeResponse{Result: jsonScalar(msg.Result), Err: msg.Error}
}

func (c *BridgeConnector) persistSession(ctx context.Context, s *bridgeSession) error {
	encoded, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.storage.Set(ctx, keyConnection, string(encoded))
}

func (c *BridgeConnector) post(ctx context.Context, bridgeURL, clientID, to, body string) error {
	endpoint := fmt.Sprintf("%s/message?client_id=%s&to=%s&ttl=%d",
		strings.TrimSuffix(bridgeURL, "/"), clientID, to, int(config.BridgeMessageTTL.Seconds()))

	postCtx, cancel := context.WithTimeout(ctx, config.BridgePostTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(postCtx, http.MethodPost, endpoint, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bridge message post returned status %d", resp.StatusCode)
	}
	return nil
}

// --- crypto helpers ---

// sealMessage encrypts plaintext for the peer: 24-byte random nonce
// prepended to the NaCl box, base64-encoded as the bridge expects.
func sealMessage(privHex, peerHex string, plaintext []byte) (string, error) {
	priv, err := decodeKey(privHex)
	if err != nil {
		return "", err
	}
	peer, err := decodeKey(peerHex)
	if err != nil {
		return "", err
	}
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", err
	}
	sealed := box.Seal(nonce[:], plaintext, &nonce, peer, priv)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *BridgeConnector) openMessage(fromHex, payload string) ([]byte, error) {
	c.mu.RLock()
	if c.session == nil {
		c.mu.RUnlock()
		return nil, fmt.Errorf("no session")
	}
	privHex := c.session.PrivateKey
	c.mu.RUnlock()

	priv, err := decodeKey(privHex)
	if err != nil {
		return nil, err
	}
	peer, err := decodeKey(fromHex)
	if err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, err
	}
	if len(raw) <= 24 {
		return nil, fmt.Errorf("message too short: %d bytes", len(raw))
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])
	plaintext, ok := box.Open(nil, raw[24:], &nonce, peer, priv)
	if !ok {
		return nil, fmt.Errorf("message authentication failed")
	}
	return plaintext, nil
}

func decodeKey(hexKey string) (*[32]byte, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("bad key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes, got %d", len(raw))
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}

// jsonScalar renders a raw JSON value that may be a string or a number as
// its bare text.
func jsonScalar(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	s = strings.TrimPrefix(s, `"`)
	return strings.TrimSuffix(s, `"`)
}
