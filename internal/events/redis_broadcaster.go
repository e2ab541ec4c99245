package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// redisBroadcaster publishes events on tenant- and queue-scoped pub/sub
// channels so dashboards can subscribe at either granularity.
type redisBroadcaster struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisBroadcaster creates a redis pub/sub backed broadcaster.
func NewRedisBroadcaster(client *redis.Client, prefix string, logger *zap.Logger) Broadcaster {
	if prefix == "" {
		prefix = "dispatch"
	}
	return &redisBroadcaster{client: client, prefix: prefix, logger: logger}
}

func (b *redisBroadcaster) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	channels := []string{
		fmt.Sprintf("%s:tenant:%s", b.prefix, event.TenantID),
	}
	if event.QueueID != "" {
		channels = append(channels, fmt.Sprintf("%s:queue:%s", b.prefix, event.QueueID))
	}
	if event.ChatID != "" {
		channels = append(channels, fmt.Sprintf("%s:chat:%s", b.prefix, event.ChatID))
	}

	for _, channel := range channels {
		if err := b.client.Publish(ctx, channel, body).Err(); err != nil {
			b.logger.Warn("redis publish failed",
				zap.String("channel", channel),
				zap.String("event_type", string(event.Type)),
				zap.Error(err))
		}
	}
	return nil
}

func (b *redisBroadcaster) Close() error {
	return nil
}
