// outbox_relay.go implements the OutboxRelay background job, which tails the outbox_events table
// from a per-consumer cursor and hands each event to a publisher. The cursor only moves past
// events the publisher accepted, and moves with a compare-and-swap on its previous position,
// so a crash or a concurrent relay causes redelivery rather than loss.
//
// Event ids come from a sequence assigned at insert, not at commit, so a committed event can
// appear below ids already visible. The relay stops at a missing id and only skips it after
// it has stayed missing for the gap timeout (a rolled-back transaction leaves it missing forever).
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/huddlehq/huddle/internal/db/models"
	"github.com/huddlehq/huddle/internal/outbox"
	"github.com/huddlehq/huddle/internal/telemetry"
)

// OutboxCursorStore is the subset of the outbox repository the relay needs
type OutboxCursorStore interface {
	ListAfter(ctx context.Context, q sqlx.ExtContext, afterID int64, limit int) ([]*models.OutboxEvent, error)
	GetCursor(ctx context.Context, q sqlx.ExtContext, consumer string) (int64, error)
	AdvanceCursor(ctx context.Context, q sqlx.ExtContext, consumer string, from, to int64) (bool, error)
}

// OutboxRelayConfig controls the relay loop
type OutboxRelayConfig struct {
	Consumer   string
	Interval   time.Duration
	BatchSize  int
	GapTimeout time.Duration
}

// OutboxRelay periodically publishes new outbox events. RunOnce must not be called
// concurrently on one relay; run separate relays for parallel consumers.
type OutboxRelay struct {
	db         sqlx.ExtContext
	store      OutboxCursorStore
	publisher  outbox.Publisher
	consumer   string
	interval   time.Duration
	batchSize  int
	gapTimeout time.Duration
	logger     *slog.Logger
	stopChan   chan struct{}
	stopOnce   sync.Once

	now func() time.Time
	// gapID is the first missing id the relay is waiting on, first seen at gapSince
	gapID    int64
	gapSince time.Time
}

// NewOutboxRelay creates a new OutboxRelay. Zero config values fall back to a 5s interval,
// batches of 100, a 30s gap timeout and the consumer name "default".
func NewOutboxRelay(db sqlx.ExtContext, store OutboxCursorStore, publisher outbox.Publisher, cfg OutboxRelayConfig, logger *slog.Logger) *OutboxRelay {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.GapTimeout <= 0 {
		cfg.GapTimeout = 30 * time.Second
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "default"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OutboxRelay{
		db:         db,
		store:      store,
		publisher:  publisher,
		consumer:   cfg.Consumer,
		interval:   cfg.Interval,
		batchSize:  cfg.BatchSize,
		gapTimeout: cfg.GapTimeout,
		logger:     logger.With("component", "outbox_relay", "consumer", cfg.Consumer),
		stopChan:   make(chan struct{}),
		now:        time.Now,
	}
}

// Start runs the relay loop until ctx is cancelled or Stop is called.
// It drains once immediately, then on every tick.
func (r *OutboxRelay) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("outbox relay started", "interval", r.interval, "batch_size", r.batchSize)

	r.drain(ctx)

	for {
		select {
		case <-ticker.C:
			r.drain(ctx)
		case <-r.stopChan:
			r.logger.Info("outbox relay stopped")
			return
		case <-ctx.Done():
			r.logger.Info("outbox relay context cancelled")
			return
		}
	}
}

// Stop signals the loop to exit. It is safe to call more than once.
func (r *OutboxRelay) Stop() {
	r.stopOnce.Do(func() { close(r.stopChan) })
}

// drain publishes full batches back to back until the backlog is exhausted or a batch fails
func (r *OutboxRelay) drain(ctx context.Context) {
	for ctx.Err() == nil {
		n, err := r.RunOnce(ctx)
		if err != nil {
			telemetry.OutboxRelayErrorsTotal.Inc()
			r.logger.Error("outbox relay batch failed", "error", err)
			return
		}
		if n < r.batchSize {
			return
		}
	}
}

// RunOnce publishes at most one batch and returns how many events it published. The batch ends
// early at an id gap that has not yet timed out. On a publish failure the cursor is advanced
// past the events that did go out and the error is returned.
func (r *OutboxRelay) RunOnce(ctx context.Context) (int, error) {
	from, err := r.store.GetCursor(ctx, r.db, r.consumer)
	if err != nil {
		return 0, err
	}

	events, err := r.store.ListAfter(ctx, r.db, from, r.batchSize)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	to := from
	next := from + 1
	published := 0
	var publishErr error
	for _, event := range events {
		if event.ID != next && !r.gapExpired(next, event.ID) {
			break
		}
		if err := r.publisher.Publish(ctx, event); err != nil {
			publishErr = err
			r.logger.Warn("failed to publish outbox event",
				"event_id", event.ID, "event_type", event.EventType, "error", err)
			break
		}
		telemetry.OutboxEventsRelayedTotal.WithLabelValues(event.EventType).Inc()
		to = event.ID
		next = event.ID + 1
		published++
	}

	if to > from {
		advanced, err := r.store.AdvanceCursor(ctx, r.db, r.consumer, from, to)
		if err != nil {
			return published, err
		}
		if !advanced {
			// Another relay moved the cursor first; its batch overlapped ours.
			r.logger.Warn("relay cursor moved concurrently", "from", from, "to", to)
		}
	}

	return published, publishErr
}

// gapExpired reports whether ids missing through next-1 have stayed absent for the gap timeout.
// The wait starts the first time missing is seen as the lowest absent id.
func (r *OutboxRelay) gapExpired(missing, next int64) bool {
	now := r.now()
	if r.gapID != missing {
		r.gapID = missing
		r.gapSince = now
		r.logger.Debug("waiting on outbox id gap", "missing_from", missing, "missing_to", next-1)
		return false
	}
	if now.Sub(r.gapSince) < r.gapTimeout {
		return false
	}
	r.logger.Warn("skipping outbox id gap", "missing_from", missing, "missing_to", next-1, "waited", now.Sub(r.gapSince))
	return true
}
