package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/school-portal/assessment-engine/internal/domain/shared"
)

// ChannelPrefix namespaces forwarded events: events:{tenant}:{type}.
const ChannelPrefix = "events:"

// Envelope is the wire form of a forwarded event.
type Envelope struct {
	Type        shared.EventType `json:"type"`
	TenantID    string           `json:"tenant_id"`
	AggregateID string           `json:"aggregate_id"`
	OccurredAt  time.Time        `json:"occurred_at"`
	Payload     map[string]any   `json:"payload"`
}

// NewEnvelope copies an event into its wire form.
func NewEnvelope(event shared.Event) Envelope {
	return Envelope{
		Type:        event.EventType(),
		TenantID:    event.TenantID(),
		AggregateID: event.AggregateID(),
		OccurredAt:  event.OccurredAt(),
		Payload:     event.Payload(),
	}
}

// Channel returns the pub/sub channel for an event.
func Channel(event shared.Event) string {
	return ChannelPrefix + event.TenantID() + ":" + string(event.EventType())
}

// Publisher is the subset of the Redis client the forwarder needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisForwarder republishes bus events on Redis pub/sub so report
// generators and dashboards in other processes can follow executions.
type RedisForwarder struct {
	client  Publisher
	timeout time.Duration
}

// NewRedisForwarder creates a forwarder. Subscribe its Handle with
// SubscribeAll.
func NewRedisForwarder(client Publisher, timeout time.Duration) *RedisForwarder {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &RedisForwarder{client: client, timeout: timeout}
}

// Handle implements shared.EventHandler.
func (f *RedisForwarder) Handle(event shared.Event) error {
	data, err := json.Marshal(NewEnvelope(event))
	if err != nil {
		return fmt.Errorf("forward %s: encode: %w", event.EventType(), err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	if err := f.client.Publish(ctx, Channel(event), data).Err(); err != nil {
		return fmt.Errorf("forward %s: %w", event.EventType(), err)
	}
	return nil
}
