package notification

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher publishes outcomes as JSON on a redis channel for the websocket front end.
// A nil *RedisPublisher is a valid no-op notifier.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	timeout time.Duration
}

// NewRedisPublisher connects to redisURL. An empty URL disables publishing and returns nil.
func NewRedisPublisher(redisURL, channel string) (*RedisPublisher, error) {
	if redisURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisPublisher{
		client:  redis.NewClient(opts),
		channel: channel,
		timeout: 2 * time.Second,
	}, nil
}

// Ping checks the redis connection.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	if p == nil {
		return nil
	}
	return p.client.Ping(ctx).Err()
}

// Notify publishes o in the background.
func (p *RedisPublisher) Notify(o Outcome) {
	if p == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		if err := p.publish(ctx, o); err != nil {
			log.Printf("Failed to publish outcome of request %d: %v", o.RequestID, err)
		}
	}()
}

func (p *RedisPublisher) publish(ctx context.Context, o Outcome) error {
	data, err := json.Marshal(o)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, data).Err()
}

// Close closes the redis connection.
func (p *RedisPublisher) Close() error {
	if p == nil {
		return nil
	}
	return p.client.Close()
}
