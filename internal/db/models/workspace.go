// Package models - workspace.go defines workspaces, their members, and the users that can be
// invited into them.
package models

import "time"

// Workspace is a tenant. DirectoryOrganizationID links it to the external directory provider and
// is written at most once.
type Workspace struct {
	ID                      string    `json:"id" db:"id"`
	Name                    string    `json:"name" db:"name"`
	DirectoryOrganizationID *string   `json:"directory_organization_id,omitempty" db:"directory_organization_id"`
	CreatedAt               time.Time `json:"created_at" db:"created_at"`
	UpdatedAt               time.Time `json:"updated_at" db:"updated_at"`
}

// WorkspaceMember is a user's membership in a workspace.
type WorkspaceMember struct {
	WorkspaceID    string        `json:"workspace_id" db:"workspace_id"`
	UserID         string        `json:"user_id" db:"user_id"`
	Role           WorkspaceRole `json:"role" db:"role"`
	SetupCompleted bool          `json:"setup_completed" db:"setup_completed"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
}

// User is an account. DirectoryUserID is the user's identity at the directory provider, if any.
type User struct {
	ID              string    `json:"id" db:"id"`
	Email           string    `json:"email" db:"email"`
	Name            string    `json:"name" db:"name"`
	DirectoryUserID *string   `json:"directory_user_id,omitempty" db:"directory_user_id"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}
