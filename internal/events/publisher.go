// Package events publishes wallet lifecycle outcomes to the payment monitor
// over Redis pub/sub, one channel per principal. Publishing is fire and
// forget: a lost event is logged, never surfaced to the flow that produced
// it.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/channelpay/tonconnect-server-go/internal/config"
	"github.com/channelpay/tonconnect-server-go/internal/model"
	redisclient "github.com/channelpay/tonconnect-server-go/internal/redis"
)

const (
	TypeTransactionConfirmed = "transaction_confirmed"
	TypeTransactionFailed    = "transaction_failed"
	TypeWalletDisconnected   = "wallet_disconnected"
	TypeStaleSessionCleared  = "stale_session_cleared"
)

// Event is the envelope consumers read off the channel. Data carries the
// type-specific payload: a transaction result for confirmations, a failure
// code for failures, nothing for lifecycle notices.
type Event struct {
	ID        string              `json:"id"`
	Type      string              `json:"type"`
	Kind      model.PrincipalKind `json:"kind"`
	UserID    string              `json:"userId"`
	Timestamp time.Time           `json:"timestamp"`
	Data      json.RawMessage     `json:"data,omitempty"`
}

type failurePayload struct {
	Code string `json:"code"`
}

type Publisher struct {
	redis *redisclient.Client
}

func NewPublisher(redis *redisclient.Client) *Publisher {
	return &Publisher{redis: redis}
}

func (p *Publisher) TransactionConfirmed(ctx context.Context, kind model.PrincipalKind, userID string, result *model.TransactionResult) {
	p.publish(ctx, kind, userID, TypeTransactionConfirmed, result)
}

func (p *Publisher) TransactionFailed(ctx context.Context, kind model.PrincipalKind, userID string, code string) {
	p.publish(ctx, kind, userID, TypeTransactionFailed, failurePayload{Code: code})
}

func (p *Publisher) WalletDisconnected(ctx context.Context, kind model.PrincipalKind, userID string) {
	p.publish(ctx, kind, userID, TypeWalletDisconnected, nil)
}

func (p *Publisher) StaleSessionCleared(ctx context.Context, kind model.PrincipalKind, userID string) {
	p.publish(ctx, kind, userID, TypeStaleSessionCleared, nil)
}

func (p *Publisher) publish(ctx context.Context, kind model.PrincipalKind, userID, eventType string, payload any) {
	// Outcome events outlive the request that produced them; a caller
	// hanging up must not suppress the record of what its wallet did.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.EventPublishTimeout)
	defer cancel()

	event := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Kind:      kind,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			log.Error().Err(err).Str("type", eventType).Msg("Failed to marshal payment event payload")
			return
		}
		event.Data = data
	}

	body, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("type", eventType).Msg("Failed to marshal payment event")
		return
	}

	channel := redisclient.PaymentChannel(kind, userID)
	if err := p.redis.Publish(ctx, channel, body).Err(); err != nil {
		log.Error().
			Err(err).
			Str("channel", channel).
			Str("type", eventType).
			Msg("Failed to publish payment event")
		return
	}
	log.Debug().
		Str("channel", channel).
		Str("type", eventType).
		Str("event_id", event.ID).
		Msg("Payment event published")
}
