package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aulaweb/appeals-api/internal/models"
)

// Publisher pushes a notification event towards whatever live transport the
// deployment wires in. Delivery is best-effort and never acknowledged; the
// durable notification row is the source of truth.
type Publisher interface {
	Publish(ctx context.Context, event models.NotificationEvent) error
}

// RedisPublisher broadcasts events on a per-student Redis channel so socket
// gateways can fan them out to connected clients.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// NewRedisPublisher constructs a publisher on the given channel prefix.
func NewRedisPublisher(client *redis.Client, channel string, logger *zap.Logger) *RedisPublisher {
	if channel == "" {
		channel = "notifications"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPublisher{client: client, channel: channel, logger: logger}
}

// Publish serialises the event onto the student's channel. A missing
// subscriber is not an error; the student polls the durable record instead.
func (p *RedisPublisher) Publish(ctx context.Context, event models.NotificationEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal notification event: %w", err)
	}
	channel := fmt.Sprintf("%s:%s", p.channel, event.StudentID)
	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

// NopPublisher discards every event. Used in tests and in deployments without
// a live transport.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, models.NotificationEvent) error { return nil }
