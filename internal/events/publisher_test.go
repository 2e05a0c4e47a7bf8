package events

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/channelpay/tonconnect-server-go/internal/model"
	redisclient "github.com/channelpay/tonconnect-server-go/internal/redis"
)

// Publishing tests need a reachable Redis; they skip without one.
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

// subscribeFor opens a live subscription on the user's payment channel. The
// channel name is spelled out literally so a drift in the wire format fails
// here, not in the consumer.
func subscribeFor(t *testing.T, ctx context.Context, client *redisclient.Client, kind model.PrincipalKind, userID string) func() Event {
	t.Helper()
	pubsub := client.Subscribe(ctx, fmt.Sprintf("payments:%s:%s", kind, userID))
	t.Cleanup(func() { pubsub.Close() })
	_, err := pubsub.Receive(ctx)
	require.NoError(t, err, "subscription should be confirmed before publishing")

	return func() Event {
		msg, err := pubsub.ReceiveMessage(ctx)
		require.NoError(t, err)
		var event Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &event))
		return event
	}
}

func TestPublisher_TransactionConfirmed(t *testing.T) {
	client := setupTestRedis(t)
	publisher := NewPublisher(client)
	userID := uuid.NewString()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	next := subscribeFor(t, ctx, client, model.PrincipalSubscriber, userID)

	result := &model.TransactionResult{
		Success:   true,
		Hash:      "8a2b0f2f3f2d6f2a9c7a1b4e5d6f708192a3b4c5d6e7f8091a2b3c4d5e6f7081",
		Timestamp: time.Now().UTC(),
	}
	publisher.TransactionConfirmed(ctx, model.PrincipalSubscriber, userID, result)

	event := next()
	assert.Equal(t, TypeTransactionConfirmed, event.Type)
	assert.Equal(t, model.PrincipalSubscriber, event.Kind)
	assert.Equal(t, userID, event.UserID)
	assert.NotEmpty(t, event.ID)
	assert.False(t, event.Timestamp.IsZero())

	var payload model.TransactionResult
	require.NoError(t, json.Unmarshal(event.Data, &payload))
	assert.True(t, payload.Success)
	assert.Equal(t, result.Hash, payload.Hash)
}

func TestPublisher_TransactionFailedCarriesCode(t *testing.T) {
	client := setupTestRedis(t)
	publisher := NewPublisher(client)
	userID := uuid.NewString()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	next := subscribeFor(t, ctx, client, model.PrincipalOwner, userID)

	publisher.TransactionFailed(ctx, model.PrincipalOwner, userID, "USER_REJECTED")

	event := next()
	assert.Equal(t, TypeTransactionFailed, event.Type)
	assert.JSONEq(t, `{"code":"USER_REJECTED"}`, string(event.Data))
}

func TestPublisher_LifecycleEventsHaveNoPayload(t *testing.T) {
	client := setupTestRedis(t)
	publisher := NewPublisher(client)
	userID := uuid.NewString()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	next := subscribeFor(t, ctx, client, model.PrincipalOwner, userID)

	publisher.WalletDisconnected(ctx, model.PrincipalOwner, userID)
	event := next()
	assert.Equal(t, TypeWalletDisconnected, event.Type)
	assert.Empty(t, event.Data)

	publisher.StaleSessionCleared(ctx, model.PrincipalOwner, userID)
	event = next()
	assert.Equal(t, TypeStaleSessionCleared, event.Type)
	assert.Empty(t, event.Data)
}

func TestPublisher_DeliversAfterCallerGaveUp(t *testing.T) {
	client := setupTestRedis(t)
	publisher := NewPublisher(client)
	userID := uuid.NewString()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	next := subscribeFor(t, ctx, client, model.PrincipalSubscriber, userID)

	// An outcome produced while the caller's context is already dead must
	// still reach the monitor.
	abandoned, abandon := context.WithCancel(context.Background())
	abandon()
	publisher.TransactionFailed(abandoned, model.PrincipalSubscriber, userID, "CONFIRMATION_TIMEOUT")

	event := next()
	assert.Equal(t, TypeTransactionFailed, event.Type)
}
