package tonconnect

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"

	"github.com/channelpay/tonconnect-server-go/internal/config"
)

// WalletsRegistry serves the list of known wallet applications from the
// public wallets-list JSON, cached for a few minutes. When the registry is
// unreachable it degrades to a small built-in list instead of failing, so
// pairing stays possible through an upstream outage.
type WalletsRegistry struct {
	url    string
	client *http.Client
	cache  *expirable.LRU[string, []WalletDescriptor]
}

func NewWalletsRegistry(url string) *WalletsRegistry {
	return &WalletsRegistry{
		url:    url,
		client: &http.Client{Timeout: config.WalletsFetchTimeout},
		cache:  expirable.NewLRU[string, []WalletDescriptor](2, nil, config.WalletsCacheTTL),
	}
}

// List returns wallet descriptors in registry priority order. It never
// fails: registry errors are logged and answered with fallbackWallets.
func (r *WalletsRegistry) List(ctx context.Context) []WalletDescriptor {
	if cached, ok := r.cache.Get(r.url); ok {
		return cached
	}

	wallets, err := r.fetch(ctx)
	if err != nil {
		log.Warn().Err(err).Str("url", r.url).Msg("Wallets list fetch failed, using fallback list")
		return fallbackWallets()
	}
	r.cache.Add(r.url, wallets)
	return wallets
}

// FindByAppName matches a descriptor by the app name the wallet reported in
// its handshake. Matching is case-insensitive against both the registry key
// and the display name, since wallets report either.
func (r *WalletsRegistry) FindByAppName(ctx context.Context, appName string) *WalletDescriptor {
	for _, w := range r.List(ctx) {
		if strings.EqualFold(w.AppName, appName) || strings.EqualFold(w.Name, appName) {
			return &w
		}
	}
	return nil
}

type walletsListEntry struct {
	AppName      string `json:"app_name"`
	Name         string `json:"name"`
	Image        string `json:"image"`
	AboutURL     string `json:"about_url"`
	UniversalURL string `json:"universal_url"`
	Bridge       []struct {
		Type string `json:"type"`
		URL  string `json:"url"`
	} `json:"bridge"`
}

func (r *WalletsRegistry) fetch(ctx context.Context) ([]WalletDescriptor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("wallets list returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}

	var entries []walletsListEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("parse wallets list: %w", err)
	}

	wallets := make([]WalletDescriptor, 0, len(entries))
	for _, e := range entries {
		d := WalletDescriptor{
			AppName:      e.AppName,
			Name:         e.Name,
			ImageURL:     e.Image,
			AboutURL:     e.AboutURL,
			UniversalURL: e.UniversalURL,
		}
		for _, b := range e.Bridge {
			if b.Type == "sse" && b.URL != "" {
				d.BridgeURL = b.URL
				break
			}
		}
		// A wallet reachable only through an injected JS bridge lives
		// inside its own in-app browser; a server cannot pair with it.
		d.Embedded = d.BridgeURL == ""
		wallets = append(wallets, d)
	}
	return wallets, nil
}

func fallbackWallets() []WalletDescriptor {
	return []WalletDescriptor{
		{
			AppName:      "telegram-wallet",
			Name:         "Wallet",
			ImageURL:     "https://wallet.tg/images/logo-288.png",
			AboutURL:     "https://wallet.tg/",
			UniversalURL: "https://t.me/wallet?attach=wallet",
			BridgeURL:    "https://walletbot.me/tonconnect-bridge/bridge",
		},
		{
			AppName:      "tonkeeper",
			Name:         "Tonkeeper",
			ImageURL:     "https://tonkeeper.com/assets/tonconnect-icon.png",
			AboutURL:     "https://tonkeeper.com",
			UniversalURL: "https://app.tonkeeper.com/ton-connect",
			BridgeURL:    "https://bridge.tonapi.io/bridge",
		},
		{
			AppName:      "mytonwallet",
			Name:         "MyTonWallet",
			ImageURL:     "https://static.mytonwallet.io/icon-256.png",
			AboutURL:     "https://mytonwallet.io",
			UniversalURL: "https://connect.mytonwallet.org",
			BridgeURL:    "https://tonconnectbridge.mytonwallet.org/bridge/",
		},
	}
}
