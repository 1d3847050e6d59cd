// Package stream delivers outbox messages to a Redis stream.
package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"costengine/internal/infrastructure/storage/postgres"
)

// DefaultStream is the stream key engine events are appended to.
const DefaultStream = "costengine:events"

// Appender is the part of the redis client the publisher needs.
type Appender interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// Publisher appends each outbox message as one stream entry. Consumers
// deduplicate on message_id, since a relay crash after XADD redelivers.
type Publisher struct {
	client Appender
	stream string
	maxLen int64
}

var _ postgres.OutboxHandler = (*Publisher)(nil)

// NewPublisher creates a publisher. maxLen caps the stream approximately;
// zero keeps every entry.
func NewPublisher(client Appender, stream string, maxLen int64) *Publisher {
	if stream == "" {
		stream = DefaultStream
	}
	return &Publisher{client: client, stream: stream, maxLen: maxLen}
}

func (p *Publisher) Handle(ctx context.Context, msg *postgres.OutboxMessage) error {
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"message_id":     msg.ID.String(),
			"event_type":     msg.EventType,
			"aggregate_type": msg.AggregateType,
			"aggregate_id":   msg.AggregateID.String(),
			"payload":        string(msg.Payload),
			"created_at":     msg.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return nil
}
