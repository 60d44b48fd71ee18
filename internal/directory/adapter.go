// Package directory defines the contract the invitation service consumes from the external
// organization-directory provider, plus an HTTP client for a WorkOS-style API.
package directory

import (
	"context"
	"time"
)

// Organization is the provider's organization record.
type Organization struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ExternalKey string `json:"external_id"`
}

// CreateOrganizationInput describes an organization to create. ExternalKey is the local
// workspace id; the provider rejects a second organization with the same key.
type CreateOrganizationInput struct {
	Name        string
	ExternalKey string
}

// SendInvitationInput describes an invite to issue. OrganizationID may be empty for an
// application-level invite.
type SendInvitationInput struct {
	OrganizationID string
	Email          string
	InviterUserID  string
	ExpiresInDays  int
}

// Invite is the provider's record of an issued invitation.
type Invite struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	State     string    `json:"state"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Adapter is implemented by directory providers. Every call may fail independently; callers
// classify failures with IsStateConflict.
type Adapter interface {
	// CreateOrganization is not idempotent. Check GetOrganizationByExternalKey first.
	CreateOrganization(ctx context.Context, in CreateOrganizationInput) (*Organization, error)
	// GetOrganizationByExternalKey returns nil, nil when no organization carries the key.
	GetOrganizationByExternalKey(ctx context.Context, externalKey string) (*Organization, error)
	SendInvitation(ctx context.Context, in SendInvitationInput) (*Invite, error)
	RevokeInvitation(ctx context.Context, inviteID string) error
}
