package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/channelpay/tonconnect-server-go/internal/config"
	apperrors "github.com/channelpay/tonconnect-server-go/internal/errors"
	"github.com/channelpay/tonconnect-server-go/internal/model"
	"github.com/channelpay/tonconnect-server-go/internal/tonconnect"
	"github.com/channelpay/tonconnect-server-go/internal/util"
)

// Send submits a transaction request to the user's connected wallet and
// waits for the human on the other side to approve it. Validation happens
// before any network traffic; the wait is bounded by the confirmation
// window.
func (s *WalletService) Send(ctx context.Context, kind model.PrincipalKind, userID string, req model.TransactionRequest) (*model.TransactionResult, error) {
	connector, err := s.registry.GetOrCreate(ctx, kind, userID)
	if err != nil {
		return nil, err
	}
	if !connector.Connected() {
		return nil, apperrors.NotConnected()
	}

	if err := validateTransactionRequest(req); err != nil {
		return nil, err
	}
	if req.ValidUntil == 0 {
		req.ValidUntil = time.Now().Add(config.TransactionLifetime).Unix()
	}

	boc, err := s.awaitConfirmation(ctx, connector, req)
	if err != nil {
		failure := classifySendError(err)
		log.Warn().
			Err(err).
			Str("kind", kind.String()).
			Str("user_id", userID).
			Str("code", string(apperrors.GetCode(failure))).
			Msg("Transaction not confirmed")
		s.events.TransactionFailed(ctx, kind, userID, string(apperrors.GetCode(failure)))
		return nil, failure
	}

	result := &model.TransactionResult{
		Success:   true,
		Hash:      extractTransactionHash(boc),
		Timestamp: time.Now(),
	}
	log.Info().
		Str("kind", kind.String()).
		Str("user_id", userID).
		Str("hash", result.Hash).
		Int("messages", len(req.Messages)).
		Msg("Transaction confirmed")
	s.events.TransactionConfirmed(ctx, kind, userID, result)
	return result, nil
}

// awaitConfirmation races the wallet call against the confirmation window.
// The loser is abandoned, not cancelled: the bridge has no cancellation
// primitive, so the wallet call keeps an uncancelled context and a late
// confirmation is discarded by the connector's reply dispatch.
func (s *WalletService) awaitConfirmation(ctx context.Context, connector tonconnect.Connector, req model.TransactionRequest) (string, error) {
	type outcome struct {
		boc string
		err error
	}
	results := make(chan outcome, 1)
	go func() {
		boc, err := connector.SendTransaction(context.WithoutCancel(ctx), req)
		results <- outcome{boc, err}
	}()

	timer := time.NewTimer(s.confirmTimeout)
	defer timer.Stop()
	select {
	case res := <-results:
		return res.boc, res.err
	case <-timer.C:
		return "", apperrors.ConfirmationTimeout()
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func validateTransactionRequest(req model.TransactionRequest) error {
	if len(req.Messages) == 0 {
		return apperrors.InvalidTransaction("transaction has no messages")
	}
	for i, m := range req.Messages {
		if m.Address == "" {
			return apperrors.InvalidTransaction(fmt.Sprintf("message %d is missing an address", i))
		}
		if m.Amount == "" {
			return apperrors.InvalidTransaction(fmt.Sprintf("message %d is missing an amount", i))
		}
		amount, ok := new(big.Int).SetString(m.Amount, 10)
		if !ok {
			return apperrors.InvalidTransaction(fmt.Sprintf("message %d amount %q is not an integer", i, m.Amount))
		}
		if amount.Sign() <= 0 {
			return apperrors.InvalidTransaction(fmt.Sprintf("message %d amount must be positive", i))
		}
		if !util.IsValidTONAddress(m.Address) {
			return apperrors.InvalidTransaction(fmt.Sprintf("message %d address %q is malformed", i, util.MaskAddress(m.Address)))
		}
	}
	return nil
}

// classifySendError maps a wallet-side failure onto the caller-facing
// taxonomy. Structured bridge error codes are authoritative; the substring
// checks survive only for wallets that answer with bare text, and live here
// so a wording change upstream has exactly one place to break.
func classifySendError(err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperrors.TransactionFailed(err)
	}

	var reqErr *tonconnect.RequestError
	if errors.As(err, &reqErr) {
		switch reqErr.Code {
		case tonconnect.CodeUserDeclined:
			return apperrors.UserRejected()
		case tonconnect.CodeBadRequest:
			return apperrors.InvalidTransaction(reqErr.Message)
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "declined"), strings.Contains(msg, "reject"):
		return apperrors.UserRejected()
	case strings.Contains(msg, "insufficient"), strings.Contains(msg, "not enough"):
		return apperrors.InsufficientFunds()
	default:
		return apperrors.TransactionFailed(err)
	}
}
