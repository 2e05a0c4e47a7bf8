package sse

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/channelpay/tonconnect-server-go/internal/events"
	"github.com/channelpay/tonconnect-server-go/internal/model"
	redisclient "github.com/channelpay/tonconnect-server-go/internal/redis"
)

func setupTestRedis(t *testing.T) *redisclient.Client {
	t.Helper()

	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379/15"
	}
	client, err := redisclient.NewClient(url)
	if err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// waitForSubscriber blocks until the broker's relay for channel is attached
// on the Redis side, so a following publish cannot race the SUBSCRIBE.
func waitForSubscriber(t *testing.T, client *redisclient.Client, channel string, want int64) {
	t.Helper()

	require.Eventually(t, func() bool {
		counts, err := client.PubSubNumSub(context.Background(), channel).Result()
		return err == nil && counts[channel] >= want
	}, 2*time.Second, 20*time.Millisecond)
}

func publishEvent(t *testing.T, client *redisclient.Client, channel string, event events.Event) {
	t.Helper()

	body, err := json.Marshal(event)
	require.NoError(t, err)
	require.NoError(t, client.Publish(context.Background(), channel, body).Err())
}

func receiveEvent(t *testing.T, client *Client) events.Event {
	t.Helper()

	select {
	case event := <-client.Events:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return events.Event{}
	}
}

func TestBroker_RelaysPublishedEvents(t *testing.T) {
	redis := setupTestRedis(t)
	broker := NewBroker(redis)
	defer broker.Close()

	client := broker.Subscribe(model.PrincipalOwner, "relay-user")
	channel := redisclient.PaymentChannel(model.PrincipalOwner, "relay-user")
	waitForSubscriber(t, redis, channel, 1)

	// A malformed payload must be skipped, not break the relay.
	require.NoError(t, redis.Publish(context.Background(), channel, "not json").Err())
	publishEvent(t, redis, channel, events.Event{
		ID:     "evt-1",
		Type:   events.TypeTransactionConfirmed,
		Kind:   model.PrincipalOwner,
		UserID: "relay-user",
	})

	got := receiveEvent(t, client)
	assert.Equal(t, "evt-1", got.ID)
	assert.Equal(t, events.TypeTransactionConfirmed, got.Type)
}

func TestBroker_FanOutToMultipleClients(t *testing.T) {
	redis := setupTestRedis(t)
	broker := NewBroker(redis)
	defer broker.Close()

	first := broker.Subscribe(model.PrincipalSubscriber, "fan-user")
	second := broker.Subscribe(model.PrincipalSubscriber, "fan-user")
	channel := redisclient.PaymentChannel(model.PrincipalSubscriber, "fan-user")
	waitForSubscriber(t, redis, channel, 1)

	publishEvent(t, redis, channel, events.Event{ID: "evt-2", Type: events.TypeWalletDisconnected})

	assert.Equal(t, "evt-2", receiveEvent(t, first).ID)
	assert.Equal(t, "evt-2", receiveEvent(t, second).ID)
}

func TestBroker_ResubscribeAfterLastClientLeft(t *testing.T) {
	redis := setupTestRedis(t)
	broker := NewBroker(redis)
	defer broker.Close()

	channel := redisclient.PaymentChannel(model.PrincipalOwner, "resub-user")

	first := broker.Subscribe(model.PrincipalOwner, "resub-user")
	waitForSubscriber(t, redis, channel, 1)
	broker.Unsubscribe(first)

	select {
	case <-first.Done:
	default:
		t.Fatal("Done should be closed after Unsubscribe")
	}

	// The relay must be torn down with its last client and come back
	// cleanly for the next one.
	require.Eventually(t, func() bool {
		counts, err := redis.PubSubNumSub(context.Background(), channel).Result()
		return err == nil && counts[channel] == 0
	}, 2*time.Second, 20*time.Millisecond)

	second := broker.Subscribe(model.PrincipalOwner, "resub-user")
	waitForSubscriber(t, redis, channel, 1)

	publishEvent(t, redis, channel, events.Event{ID: "evt-3", Type: events.TypeStaleSessionCleared})
	assert.Equal(t, "evt-3", receiveEvent(t, second).ID)
}

func TestBroker_CloseClosesAllClients(t *testing.T) {
	redis := setupTestRedis(t)
	broker := NewBroker(redis)

	first := broker.Subscribe(model.PrincipalOwner, "close-user")
	second := broker.Subscribe(model.PrincipalSubscriber, "close-user")

	broker.Close()

	for _, client := range []*Client{first, second} {
		select {
		case <-client.Done:
		case <-time.After(time.Second):
			t.Fatal("Done should be closed after broker Close")
		}
	}
}
