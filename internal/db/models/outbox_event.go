// Package models - outbox_event.go defines the append-only outbox row and the per-consumer
// relay cursor used to tail it.
package models

import (
	"encoding/json"
	"time"
)

// Outbox event types emitted by the invitation service.
const (
	EventInvitationSent     = "invitation:sent"
	EventInvitationAccepted = "invitation:accepted"
)

// OutboxEvent is a domain event recorded in the same transaction as the mutation it describes.
// Rows are never updated after insert.
type OutboxEvent struct {
	ID        int64           `json:"id" db:"id"`
	EventType string          `json:"event_type" db:"event_type"`
	Payload   json.RawMessage `json:"payload" db:"payload"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// InvitationSentPayload is the payload of an invitation:sent event.
type InvitationSentPayload struct {
	WorkspaceID  string        `json:"workspaceId"`
	InvitationID string        `json:"invitationId"`
	Email        string        `json:"email"`
	Role         WorkspaceRole `json:"role"`
}

// InvitationAcceptedPayload is the payload of an invitation:accepted event.
type InvitationAcceptedPayload struct {
	WorkspaceID  string `json:"workspaceId"`
	InvitationID string `json:"invitationId"`
	Email        string `json:"email"`
	UserID       string `json:"userId"`
}

// RelayCursor records the last outbox event a relay consumer has published.
type RelayCursor struct {
	Consumer    string    `json:"consumer" db:"consumer"`
	LastEventID int64     `json:"last_event_id" db:"last_event_id"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}
