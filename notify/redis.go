package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey holds the pending notification when Redis backs the channel.
const DefaultRedisKey = "permspy:update_notification"

// RedisChannel keeps the pending notification under one Redis key, for
// deployments where the status endpoint and the monitor do not share a disk.
type RedisChannel struct {
	client *redis.Client
	key    string
	now    func() time.Time
}

// NewRedisChannel connects using a redis:// URL and verifies the connection.
func NewRedisChannel(ctx context.Context, url string) (*RedisChannel, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisChannel{client: client, key: DefaultRedisKey, now: time.Now}, nil
}

func (c *RedisChannel) Notify(ctx context.Context, message string) error {
	data, err := json.Marshal(Payload{Timestamp: c.now(), Message: message})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return c.client.Set(ctx, c.key, data, 0).Err()
}

// Consume uses GETDEL so reading and clearing happen in one step.
func (c *RedisChannel) Consume(ctx context.Context) (*Payload, error) {
	data, err := c.client.GetDel(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis getdel: %w", err)
	}

	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode notification: %w", err)
	}
	return &p, nil
}

func (c *RedisChannel) Close() error {
	return c.client.Close()
}
