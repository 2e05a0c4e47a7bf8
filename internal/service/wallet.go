package service

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/channelpay/tonconnect-server-go/internal/audit"
	apperrors "github.com/channelpay/tonconnect-server-go/internal/errors"
	"github.com/channelpay/tonconnect-server-go/internal/model"
	"github.com/channelpay/tonconnect-server-go/internal/tonconnect"
)

// CheckStatus reports the user's wallet connection. A connector that claims
// connected but has lost its wallet or account data is stale; it is cleaned
// up and reported as disconnected rather than surfaced as an error, so the
// caller always gets a well-formed status.
func (s *WalletService) CheckStatus(ctx context.Context, kind model.PrincipalKind, userID string) (*model.ConnectionStatus, error) {
	connector, err := s.registry.GetOrCreate(ctx, kind, userID)
	if err != nil {
		log.Error().
			Err(err).
			Str("kind", kind.String()).
			Str("user_id", userID).
			Msg("Status check could not restore connector, reconciling")
		s.reconcileStale(ctx, kind, userID)
		return &model.ConnectionStatus{Connected: false}, nil
	}

	if !connector.Connected() {
		return &model.ConnectionStatus{Connected: false}, nil
	}

	wallet := connector.Wallet()
	account := connector.Account()
	if wallet == nil || account == nil || account.Address == "" {
		log.Warn().
			Str("kind", kind.String()).
			Str("user_id", userID).
			Bool("has_wallet", wallet != nil).
			Bool("has_account", account != nil).
			Msg("Stale wallet session detected, cleaning up")
		s.reconcileStale(ctx, kind, userID)
		return &model.ConnectionStatus{Connected: false}, nil
	}

	status := &model.ConnectionStatus{
		Connected:  true,
		Address:    tonconnect.FriendlyAddress(account.Address),
		WalletName: wallet.AppName,
	}
	if descriptor := s.wallets.FindByAppName(ctx, wallet.AppName); descriptor != nil {
		status.IconURL = descriptor.ImageURL
	}

	// The profile is the durable record the payment flow reads without
	// waking a connector; refreshing it here keeps it honest after
	// restarts and re-pairings.
	if err := s.profiles.SetWallet(ctx, kind, userID, status.Address, wallet.AppName); err != nil {
		log.Error().
			Err(err).
			Str("kind", kind.String()).
			Str("user_id", userID).
			Msg("Failed to persist wallet profile")
	}
	return status, nil
}

// reconcileStale restores consistency after an inconsistent or broken
// session: full teardown through the registry (protocol disconnect, session
// sweep, eviction), then clear the cached wallet address. Corrective, not an
// error; every step is best-effort and logged.
func (s *WalletService) reconcileStale(ctx context.Context, kind model.PrincipalKind, userID string) {
	if err := s.registry.Disconnect(ctx, kind, userID); err != nil {
		log.Warn().
			Err(err).
			Str("kind", kind.String()).
			Str("user_id", userID).
			Msg("Stale session teardown incomplete")
	}
	if err := s.profiles.ClearWallet(ctx, kind, userID); err != nil {
		log.Error().
			Err(err).
			Str("kind", kind.String()).
			Str("user_id", userID).
			Msg("Failed to clear cached wallet address")
	}
	s.events.StaleSessionCleared(ctx, kind, userID)
	audit.Log(ctx, audit.Event{
		Type:   audit.EventStaleSessionSwept,
		Kind:   kind.String(),
		UserID: userID,
	})
}

// Disconnect is the user-facing full teardown: protocol disconnect, session
// sweep, registry eviction, profile clear, and a payment event for the
// monitor.
func (s *WalletService) Disconnect(ctx context.Context, kind model.PrincipalKind, userID string) error {
	if err := s.registry.Disconnect(ctx, kind, userID); err != nil {
		return err
	}
	if err := s.profiles.ClearWallet(ctx, kind, userID); err != nil {
		return apperrors.Database(err)
	}
	s.events.WalletDisconnected(ctx, kind, userID)
	log.Info().
		Str("kind", kind.String()).
		Str("user_id", userID).
		Msg("Wallet disconnected")
	return nil
}

// DeepLinkForReconfirmation points an already-connected user back into
// their wallet app to approve a pending request. The link may be absent
// when the wallet advertises no HTTPS entry point; the caller then falls
// back to plain text instructions.
func (s *WalletService) DeepLinkForReconfirmation(ctx context.Context, kind model.PrincipalKind, userID string) (*model.ReconfirmLink, error) {
	connector, err := s.registry.GetOrCreate(ctx, kind, userID)
	if err != nil {
		return nil, err
	}
	wallet := connector.Wallet()
	if !connector.Connected() || wallet == nil {
		return nil, apperrors.NotConnected()
	}

	link := &model.ReconfirmLink{WalletName: wallet.AppName}
	if descriptor := s.wallets.FindByAppName(ctx, wallet.AppName); descriptor != nil {
		switch {
		case isHTTPURL(descriptor.UniversalURL):
			link.Link = descriptor.UniversalURL
		case isHTTPURL(descriptor.AboutURL):
			link.Link = descriptor.AboutURL
		}
	}
	return link, nil
}
