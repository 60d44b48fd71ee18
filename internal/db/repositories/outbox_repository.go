// outbox_repository.go implements OutboxRepository. Insert must be called with the same
// transaction as the domain write it describes; the read and cursor methods serve the relay.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/huddlehq/huddle/internal/db/models"
)

// OutboxRepository handles database operations for outbox events and relay cursors
type OutboxRepository struct{}

// NewOutboxRepository creates a new outbox repository
func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{}
}

// Insert appends an event. Pass the transaction that performed the matching domain write.
func (r *OutboxRepository) Insert(ctx context.Context, tx sqlx.ExtContext, eventType string, payload interface{}) (*models.OutboxEvent, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", eventType, err)
	}

	query := `
		INSERT INTO outbox_events (event_type, payload)
		VALUES ($1, $2)
		RETURNING id, created_at
	`

	event := &models.OutboxEvent{EventType: eventType, Payload: body}
	if err := tx.QueryRowxContext(ctx, query, eventType, body).Scan(&event.ID, &event.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to insert outbox event: %w", err)
	}

	return event, nil
}

// ListAfter returns up to limit events with id greater than afterID, in id order
func (r *OutboxRepository) ListAfter(ctx context.Context, q sqlx.ExtContext, afterID int64, limit int) ([]*models.OutboxEvent, error) {
	query := `
		SELECT id, event_type, payload, created_at
		FROM outbox_events
		WHERE id > $1
		ORDER BY id ASC
		LIMIT $2
	`

	events := make([]*models.OutboxEvent, 0)
	if err := sqlx.SelectContext(ctx, q, &events, query, afterID, limit); err != nil {
		return nil, fmt.Errorf("failed to list outbox events: %w", err)
	}

	return events, nil
}

// GetCursor returns the last event id published by consumer, or 0 if it has none yet
func (r *OutboxRepository) GetCursor(ctx context.Context, q sqlx.ExtContext, consumer string) (int64, error) {
	query := `SELECT last_event_id FROM outbox_relay_cursors WHERE consumer = $1`

	var last int64
	err := q.QueryRowxContext(ctx, query, consumer).Scan(&last)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get relay cursor: %w", err)
	}

	return last, nil
}

// AdvanceCursor moves consumer's cursor from `from` to `to`. It only applies when the stored
// position still equals from, so two relays sharing a consumer name cannot both advance it.
func (r *OutboxRepository) AdvanceCursor(ctx context.Context, q sqlx.ExtContext, consumer string, from, to int64) (bool, error) {
	query := `
		INSERT INTO outbox_relay_cursors (consumer, last_event_id, updated_at)
		VALUES ($1, $3, NOW())
		ON CONFLICT (consumer) DO UPDATE
		SET last_event_id = EXCLUDED.last_event_id, updated_at = NOW()
		WHERE outbox_relay_cursors.last_event_id = $2
	`

	result, err := q.ExecContext(ctx, query, consumer, from, to)
	if err != nil {
		return false, fmt.Errorf("failed to advance relay cursor: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	return rows > 0, nil
}
