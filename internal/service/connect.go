package service

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"

	"github.com/channelpay/tonconnect-server-go/internal/config"
	apperrors "github.com/channelpay/tonconnect-server-go/internal/errors"
	"github.com/channelpay/tonconnect-server-go/internal/model"
	"github.com/channelpay/tonconnect-server-go/internal/tonconnect"
)

// walletCatalog is the slice of the wallets registry this service needs.
type walletCatalog interface {
	List(ctx context.Context) []tonconnect.WalletDescriptor
	FindByAppName(ctx context.Context, appName string) *tonconnect.WalletDescriptor
}

// paymentEvents receives the orchestration outcomes the payment monitor
// consumes. Implementations must not block or fail the calling flow.
type paymentEvents interface {
	TransactionConfirmed(ctx context.Context, kind model.PrincipalKind, userID string, result *model.TransactionResult)
	TransactionFailed(ctx context.Context, kind model.PrincipalKind, userID string, code string)
	WalletDisconnected(ctx context.Context, kind model.PrincipalKind, userID string)
	StaleSessionCleared(ctx context.Context, kind model.PrincipalKind, userID string)
}

// profileWriter is the external-collaborator surface for the cached
// wallet-address fields on user profiles.
type profileWriter interface {
	SetWallet(ctx context.Context, kind model.PrincipalKind, userID, address, appName string) error
	ClearWallet(ctx context.Context, kind model.PrincipalKind, userID string) error
}

// WalletService is the caller-facing surface of the wallet-session layer:
// pairing offers, connection status, disconnect, and transaction submission.
type WalletService struct {
	registry *ConnectorRegistry
	wallets  walletCatalog
	profiles profileWriter
	events   paymentEvents
	cfg      *config.Config

	// confirmTimeout is a field so tests can shrink the two-minute wait.
	confirmTimeout time.Duration
}

func NewWalletService(
	registry *ConnectorRegistry,
	wallets walletCatalog,
	profiles profileWriter,
	events paymentEvents,
	cfg *config.Config,
) *WalletService {
	return &WalletService{
		registry:       registry,
		wallets:        wallets,
		profiles:       profiles,
		events:         events,
		cfg:            cfg,
		confirmTimeout: config.SendConfirmTimeout,
	}
}

// GenerateConnection starts a pairing attempt: a fresh protocol URI scoped
// to the bridges the known wallets listen on, a QR rendering of it, and
// per-wallet HTTPS links for the button flow.
func (s *WalletService) GenerateConnection(ctx context.Context, kind model.PrincipalKind, userID string) (*model.ConnectionOffer, error) {
	connector, err := s.registry.GetOrCreate(ctx, kind, userID)
	if err != nil {
		return nil, err
	}
	if connector.Connected() {
		return nil, apperrors.AlreadyConnected()
	}

	wallets := s.wallets.List(ctx)
	bridges := bridgeEndpoints(wallets)
	if len(bridges) == 0 {
		// A registry answer with no bridge-capable wallets would make
		// pairing impossible; the configured default bridge keeps the QR
		// flow alive.
		bridges = []string{s.cfg.DefaultBridgeURL}
	}

	pairingURI, err := connector.Connect(ctx, bridges)
	if err != nil {
		return nil, apperrors.External("tonconnect bridge", err)
	}

	qrImage, err := qrcode.Encode(pairingURI, qrcode.Medium, config.QRImageSize)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "render pairing qr", err)
	}

	links := derivePairingLinks(pairingURI, wallets, s.cfg.WalletLinksLimit)

	log.Info().
		Str("kind", kind.String()).
		Str("user_id", userID).
		Int("bridges", len(bridges)).
		Int("links", len(links)).
		Msg("Pairing offer generated")

	return &model.ConnectionOffer{
		PairingURI: pairingURI,
		QRImage:    qrImage,
		Links:      links,
	}, nil
}

// bridgeEndpoints collects the unique bridge URLs of all non-embedded
// wallets, preserving registry order.
func bridgeEndpoints(wallets []tonconnect.WalletDescriptor) []string {
	var urls []string
	seen := make(map[string]bool)
	for _, w := range wallets {
		if w.Embedded || w.BridgeURL == "" || seen[w.BridgeURL] {
			continue
		}
		seen[w.BridgeURL] = true
		urls = append(urls, w.BridgeURL)
	}
	return urls
}

// derivePairingLinks turns the custom-scheme pairing URI into per-wallet
// HTTPS links. The delivery channel renders links as chat buttons and
// silently drops anything that is not http(s), so a wallet that cannot be
// given a compliant link is skipped rather than included broken.
func derivePairingLinks(pairingURI string, wallets []tonconnect.WalletDescriptor, limit int) []model.PairingLink {
	query := pairingQuery(pairingURI)
	links := make([]model.PairingLink, 0, limit)
	for _, w := range wallets {
		if w.Embedded {
			continue
		}
		if len(links) >= limit {
			break
		}
		link := deriveWalletLink(pairingURI, query, w)
		if !isHTTPURL(link) {
			continue
		}
		links = append(links, model.PairingLink{
			DisplayName: w.Name,
			IconURL:     w.ImageURL,
			HTTPSURL:    link,
		})
	}
	return links
}

func deriveWalletLink(pairingURI, query string, w tonconnect.WalletDescriptor) string {
	if w.UniversalURL != "" {
		if query == "" {
			// Degraded: opens the wallet app but cannot auto-pair.
			return w.UniversalURL
		}
		base := strings.TrimRight(w.UniversalURL, "/")
		joiner := "?"
		if strings.Contains(base, "?") {
			joiner = "&"
		}
		return base + joiner + query
	}
	if isHTTPURL(pairingURI) {
		return pairingURI
	}
	return w.AboutURL
}

// pairingQuery extracts the encoded query portion of a pairing URI. The URI
// uses a custom scheme, so it is grafted onto a placeholder HTTPS origin
// purely to reuse the standard parser.
func pairingQuery(pairingURI string) string {
	i := strings.Index(pairingURI, "?")
	if i < 0 {
		return ""
	}
	parsed, err := url.Parse("https://tc.invalid/" + pairingURI[i:])
	if err != nil {
		return ""
	}
	return parsed.RawQuery
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://")
}
