package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/orbitfaas/orbit/pkg/engine/logging"
	"github.com/orbitfaas/orbit/pkg/types"
)

// DefaultChannel is the pub/sub channel deployment changes are published on.
const DefaultChannel = "orbit:deployments"

// RedisOptions configures the feed's redis connection.
type RedisOptions struct {
	Address  string
	Password string
	DB       int
	Channel  string
}

// RedisFeed implements ChangeFeed over redis pub/sub. The catalog publishes
// one JSON ChangeEvent per message.
type RedisFeed struct {
	client  *redis.Client
	channel string
	logger  logging.Logger
}

// NewRedisFeed connects to redis and verifies the connection with a ping.
func NewRedisFeed(opts RedisOptions, logger logging.Logger) (*RedisFeed, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Password: opts.Password,
		DB:       opts.DB,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	channel := opts.Channel
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisFeed{client: client, channel: channel, logger: logger}, nil
}

// Subscribe implements ChangeFeed. The returned channel closes when the
// pub/sub connection drops or ctx ends.
func (f *RedisFeed) Subscribe(ctx context.Context) (<-chan types.ChangeEvent, error) {
	sub := f.client.Subscribe(ctx, f.channel)

	// Force the subscription handshake so connection failures surface here
	// instead of as a silently empty channel.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", f.channel, err)
	}

	out := make(chan types.ChangeEvent)
	go func() {
		defer close(out)
		defer sub.Close()

		for {
			select {
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				var evt types.ChangeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					f.logger.Errorf("Dropping malformed change event: %v", err)
					continue
				}
				select {
				case out <- evt:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Publish sends a change event on the feed channel. Used by the deploy CLI
// and by tests.
func (f *RedisFeed) Publish(ctx context.Context, evt types.ChangeEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal change event: %w", err)
	}
	return f.client.Publish(ctx, f.channel, payload).Err()
}

// Close releases the redis connection.
func (f *RedisFeed) Close() error {
	return f.client.Close()
}
