package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/channelpay/tonconnect-server-go/internal/model"
)

// Client is the shared Redis handle: payment-event pub/sub on the publish
// and relay sides, plus the sliding-window rate limiter.
type Client struct {
	*redis.Client
}

func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	opts.ClientName = "tonconnect-server"

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis unreachable: %w", err)
	}
	return &Client{client}, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}

// PaymentChannel names the pub/sub channel carrying one user's payment
// events. The payment monitor subscribes per principal.
func PaymentChannel(kind model.PrincipalKind, userID string) string {
	return fmt.Sprintf("payments:%s:%s", kind, userID)
}
