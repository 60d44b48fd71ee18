// Package models defines the database row types for the workspace invitation subsystem.
// Each type corresponds to a table and carries struct tags for both JSON serialization and
// sqlx row scanning. Query logic belongs in the repositories layer, lifecycle rules in the
// invitations service.
package models

import "time"

// InvitationStatus is the lifecycle state of an invitation. Only pending has outgoing edges.
type InvitationStatus string

const (
	InvitationStatusPending  InvitationStatus = "pending"
	InvitationStatusAccepted InvitationStatus = "accepted"
	InvitationStatusRevoked  InvitationStatus = "revoked"
	InvitationStatusExpired  InvitationStatus = "expired"
)

// Valid reports whether s is one of the known statuses.
func (s InvitationStatus) Valid() bool {
	switch s {
	case InvitationStatusPending, InvitationStatusAccepted, InvitationStatusRevoked, InvitationStatusExpired:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible from s.
func (s InvitationStatus) Terminal() bool {
	return s != InvitationStatusPending
}

// WorkspaceRole is the role granted to the invitee on acceptance.
type WorkspaceRole string

const (
	WorkspaceRoleAdmin  WorkspaceRole = "admin"
	WorkspaceRoleMember WorkspaceRole = "member"
)

// Valid reports whether r is a grantable role.
func (r WorkspaceRole) Valid() bool {
	return r == WorkspaceRoleAdmin || r == WorkspaceRoleMember
}

// Invitation is an offer of workspace membership to an email address.
type Invitation struct {
	ID                string           `json:"id" db:"id"`
	WorkspaceID       string           `json:"workspace_id" db:"workspace_id"`
	Email             string           `json:"email" db:"email"` // lowercased and trimmed
	Role              WorkspaceRole    `json:"role" db:"role"`
	Status            InvitationStatus `json:"status" db:"status"`
	InvitedBy         string           `json:"invited_by" db:"invited_by"`
	DirectoryInviteID *string          `json:"directory_invite_id,omitempty" db:"directory_invite_id"` // set once the external send succeeds
	CreatedAt         time.Time        `json:"created_at" db:"created_at"`
	ExpiresAt         time.Time        `json:"expires_at" db:"expires_at"`
	AcceptedAt        *time.Time       `json:"accepted_at,omitempty" db:"accepted_at"`
	RevokedAt         *time.Time       `json:"revoked_at,omitempty" db:"revoked_at"`
}

// ExpiredAt reports whether a pending invitation has passed its expiry at t.
func (i *Invitation) ExpiredAt(t time.Time) bool {
	return i.Status == InvitationStatusPending && !i.ExpiresAt.After(t)
}
