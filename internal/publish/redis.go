package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"market-pulse/internal/config"
)

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// Redis publishes events on a pub/sub channel.
type Redis struct {
	client  redisPublisher
	channel string
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newRedis(client, cfg.Channel), nil
}

func newRedis(client redisPublisher, channel string) *Redis {
	if channel == "" {
		channel = "marketpulse.events"
	}
	return &Redis{client: client, channel: channel}
}

// Publish sends the JSON-encoded event.
func (r *Redis) Publish(ctx context.Context, ev Event) error {
	data, err := Encode(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.client.Close()
}
