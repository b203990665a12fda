package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultChannel         = "kassenwart:events"
	NotificationListKey    = "kassenwart:notifications"
	maxStoredNotifications = 1000
)

// RedisPublisher publishes events on a Pub/Sub channel and keeps a capped
// list that the notification worker drains.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client, channel: DefaultChannel}
}

func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	pipe := p.client.TxPipeline()
	pipe.Publish(ctx, p.channel, data)
	pipe.LPush(ctx, NotificationListKey, data)
	pipe.LTrim(ctx, NotificationListKey, 0, maxStoredNotifications-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Recent returns up to n stored notifications, newest first.
func (p *RedisPublisher) Recent(ctx context.Context, n int64) ([]Event, error) {
	if n <= 0 {
		n = 50
	}
	raw, err := p.client.LRange(ctx, NotificationListKey, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read notifications: %w", err)
	}
	out := make([]Event, 0, len(raw))
	for _, r := range raw {
		var e Event
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
