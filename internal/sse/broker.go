// Package sse fans payment events out to streaming HTTP clients. The
// publish side lives in internal/events; this broker bridges the Redis
// channels it writes to into per-connection buffers.
package sse

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/channelpay/tonconnect-server-go/internal/events"
	"github.com/channelpay/tonconnect-server-go/internal/model"
	redisclient "github.com/channelpay/tonconnect-server-go/internal/redis"
)

const (
	HeartbeatInterval = 30 * time.Second
)

type Client struct {
	Kind   model.PrincipalKind
	UserID string
	Events chan events.Event
	Done   chan struct{}
}

// subscription is one Redis channel with its attached clients. The relay
// goroutine lives exactly as long as the channel has clients.
type subscription struct {
	clients map[*Client]bool
	cancel  context.CancelFunc
}

type Broker struct {
	redis  *redisclient.Client
	subs   map[string]*subscription // redis channel -> subscription
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
}

func NewBroker(redisClient *redisclient.Client) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		redis:  redisClient,
		subs:   make(map[string]*subscription),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (b *Broker) Subscribe(kind model.PrincipalKind, userID string) *Client {
	client := &Client{
		Kind:   kind,
		UserID: userID,
		Events: make(chan events.Event, 100),
		Done:   make(chan struct{}),
	}
	channel := redisclient.PaymentChannel(kind, userID)

	b.mu.Lock()
	sub := b.subs[channel]
	if sub == nil {
		ctx, cancel := context.WithCancel(b.ctx)
		sub = &subscription{clients: make(map[*Client]bool), cancel: cancel}
		b.subs[channel] = sub
		go b.relay(ctx, channel)
	}
	sub.clients[client] = true
	clientCount := len(sub.clients)
	b.mu.Unlock()

	log.Info().
		Str("channel", channel).
		Int("client_count", clientCount).
		Msg("sse client subscribed")

	return client
}

func (b *Broker) Unsubscribe(client *Client) {
	channel := redisclient.PaymentChannel(client.Kind, client.UserID)

	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[channel]
	if !ok || !sub.clients[client] {
		return
	}
	delete(sub.clients, client)
	close(client.Done)

	if len(sub.clients) == 0 {
		sub.cancel()
		delete(b.subs, channel)
	}

	log.Info().
		Str("channel", channel).
		Int("client_count", len(sub.clients)).
		Msg("sse client unsubscribed")
}

func (b *Broker) relay(ctx context.Context, channel string) {
	pubsub := b.redis.Subscribe(ctx, channel)
	defer pubsub.Close()

	log.Debug().
		Str("channel", channel).
		Msg("redis pubsub subscribed")

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event events.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Str("channel", channel).Msg("failed to unmarshal event")
				continue
			}

			b.broadcast(channel, event)
		}
	}
}

func (b *Broker) broadcast(channel string, event events.Event) {
	b.mu.RLock()
	sub := b.subs[channel]
	var clients []*Client
	if sub != nil {
		clients = make([]*Client, 0, len(sub.clients))
		for client := range sub.clients {
			clients = append(clients, client)
		}
	}
	b.mu.RUnlock()

	for _, client := range clients {
		select {
		case client.Events <- event:
		default:
			log.Warn().
				Str("channel", channel).
				Msg("client event buffer full, dropping event")
		}
	}
}

func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		for client := range sub.clients {
			close(client.Done)
		}
	}
	b.subs = make(map[string]*subscription)
}
