package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"pulsewatch/internal/models"
)

// RedisRelay republishes bus events to Redis so other instances (or
// observers) can follow coordination activity. Events go to a
// per-conversation channel plus a firehose channel.
type RedisRelay struct {
	client *redis.Client
}

// NewRedisRelay connects a relay to Redis. The URL uses the standard
// redis:// scheme.
func NewRedisRelay(redisURL string) (*RedisRelay, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisRelay{client: redis.NewClient(opts)}, nil
}

// Ping verifies the Redis connection
func (r *RedisRelay) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Relay publishes one event
func (r *RedisRelay) Relay(ctx context.Context, event models.BusEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal bus event: %w", err)
	}
	channel := fmt.Sprintf("conversation:%s:events", event.ConversationID)
	if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
		return err
	}
	return r.client.Publish(ctx, "bus:events", payload).Err()
}

// Close releases the Redis connection
func (r *RedisRelay) Close() error {
	return r.client.Close()
}
