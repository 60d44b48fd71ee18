package outbox

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/huddlehq/huddle/internal/db/models"
)

// StreamConfig configures a Redis Streams publisher
type StreamConfig struct {
	// Stream is the stream key events are appended to
	Stream string
	// MaxLen approximately caps the stream length (0 = unbounded)
	MaxLen int64
}

// streamAdder is the subset of redis.Cmdable the publisher uses
type streamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisStreamPublisher appends events to a Redis stream with XADD. Each entry carries the outbox
// id so consumers can de-duplicate redeliveries.
type RedisStreamPublisher struct {
	client streamAdder
	cfg    *StreamConfig
}

// NewRedisStreamPublisher creates a Redis Streams publisher
func NewRedisStreamPublisher(client streamAdder, cfg *StreamConfig) (*RedisStreamPublisher, error) {
	if cfg.Stream == "" {
		return nil, fmt.Errorf("stream name is required")
	}
	return &RedisStreamPublisher{client: client, cfg: cfg}, nil
}

// Publish appends the event to the stream
func (p *RedisStreamPublisher) Publish(ctx context.Context, event *models.OutboxEvent) error {
	args := &redis.XAddArgs{
		Stream: p.cfg.Stream,
		Values: map[string]interface{}{
			"outbox_id":  strconv.FormatInt(event.ID, 10),
			"event_type": event.EventType,
			"payload":    string(event.Payload),
			"created_at": event.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
	if p.cfg.MaxLen > 0 {
		args.MaxLen = p.cfg.MaxLen
		args.Approx = true
	}

	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to append event %d to stream %s: %w", event.ID, p.cfg.Stream, err)
	}
	return nil
}

// Close is a no-op; the Redis client is owned by the caller
func (p *RedisStreamPublisher) Close() error {
	return nil
}
