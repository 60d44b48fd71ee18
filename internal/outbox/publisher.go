// Package outbox publishes committed outbox events to downstream consumers. Events reach the
// outbox table in the same transaction as the change they describe; the relay job then hands
// them to the publishers here. Delivery is at-least-once: a publisher may see the same event
// again after a crash or a failed batch, and consumers de-duplicate on the event id.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/huddlehq/huddle/internal/db/models"
)

// Publisher delivers outbox events to one destination
type Publisher interface {
	// Publish delivers a single event. A nil return means the destination accepted it.
	Publish(ctx context.Context, event *models.OutboxEvent) error
	// Close releases any resources
	Close() error
}

// PublisherConfig selects and configures one publisher
type PublisherConfig struct {
	// Type is "redis_stream" or "webhook"
	Type    string
	Stream  *StreamConfig
	Webhook *WebhookConfig
}

// MultiPublisher fans events out to several publishers
type MultiPublisher struct {
	publishers []Publisher
	mu         sync.RWMutex
}

// NewMultiPublisher builds publishers from configs. rdb is required only for redis_stream.
func NewMultiPublisher(configs []PublisherConfig, rdb redis.Cmdable) (*MultiPublisher, error) {
	mp := &MultiPublisher{publishers: make([]Publisher, 0, len(configs))}

	for _, cfg := range configs {
		var p Publisher
		var err error

		switch cfg.Type {
		case "redis_stream":
			if cfg.Stream == nil {
				return nil, fmt.Errorf("stream config is required for redis_stream publisher")
			}
			if rdb == nil {
				return nil, fmt.Errorf("redis client is required for redis_stream publisher")
			}
			p, err = NewRedisStreamPublisher(rdb, cfg.Stream)
		case "webhook":
			if cfg.Webhook == nil {
				return nil, fmt.Errorf("webhook config is required for webhook publisher")
			}
			p, err = NewWebhookPublisher(cfg.Webhook)
		default:
			return nil, fmt.Errorf("unknown publisher type: %s", cfg.Type)
		}

		if err != nil {
			return nil, fmt.Errorf("failed to create %s publisher: %w", cfg.Type, err)
		}
		mp.publishers = append(mp.publishers, p)
	}

	return mp, nil
}

// NewMultiPublisherFrom wraps already constructed publishers
func NewMultiPublisherFrom(publishers ...Publisher) *MultiPublisher {
	return &MultiPublisher{publishers: publishers}
}

// Len returns the number of configured publishers
func (mp *MultiPublisher) Len() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	return len(mp.publishers)
}

// Publish delivers the event to every publisher. All publishers are attempted; the joined
// error is non-nil if any failed, so the caller retries the event everywhere.
func (mp *MultiPublisher) Publish(ctx context.Context, event *models.OutboxEvent) error {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	var errs []error
	for _, p := range mp.publishers {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all publishers
func (mp *MultiPublisher) Close() error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	var errs []error
	for _, p := range mp.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
