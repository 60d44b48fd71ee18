// member_repository.go implements MemberRepository. Besides membership lookups it is the
// concrete membership collaborator: CreateMemberInTransaction writes the member row on the
// caller's transaction so it commits or rolls back with the invitation acceptance.
package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/huddlehq/huddle/internal/db/models"
)

// CreateMemberParams describes a member row to create
type CreateMemberParams struct {
	WorkspaceID    string
	UserID         string
	Role           models.WorkspaceRole
	SetupCompleted bool
}

// MemberRepository handles database operations for workspace members
type MemberRepository struct{}

// NewMemberRepository creates a new member repository
func NewMemberRepository() *MemberRepository {
	return &MemberRepository{}
}

// GetMember retrieves a user's membership in a workspace
func (r *MemberRepository) GetMember(ctx context.Context, q sqlx.ExtContext, workspaceID, userID string) (*models.WorkspaceMember, error) {
	query := `
		SELECT workspace_id, user_id, role, setup_completed, created_at
		FROM workspace_members
		WHERE workspace_id = $1 AND user_id = $2
	`

	var member models.WorkspaceMember
	err := sqlx.GetContext(ctx, q, &member, query, workspaceID, userID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}

	return &member, nil
}

// IsMember reports whether the user belongs to the workspace
func (r *MemberRepository) IsMember(ctx context.Context, q sqlx.ExtContext, workspaceID, userID string) (bool, error) {
	member, err := r.GetMember(ctx, q, workspaceID, userID)
	if err != nil {
		return false, err
	}
	return member != nil, nil
}

// ListMemberUserIDs returns which of userIDs are already members of the workspace
func (r *MemberRepository) ListMemberUserIDs(ctx context.Context, q sqlx.ExtContext, workspaceID string, userIDs []string) ([]string, error) {
	ids := make([]string, 0)
	if len(userIDs) == 0 {
		return ids, nil
	}

	query := `
		SELECT user_id
		FROM workspace_members
		WHERE workspace_id = $1 AND user_id = ANY($2)
	`

	if err := sqlx.SelectContext(ctx, q, &ids, query, workspaceID, pq.Array(userIDs)); err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}

	return ids, nil
}

// CreateMemberInTransaction inserts a member row using the caller's transaction. It returns
// nil, nil when the user is already a member, including when a concurrent transaction inserted
// the row after the caller last checked.
func (r *MemberRepository) CreateMemberInTransaction(ctx context.Context, tx sqlx.ExtContext, params CreateMemberParams) (*models.WorkspaceMember, error) {
	query := `
		INSERT INTO workspace_members (workspace_id, user_id, role, setup_completed, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (workspace_id, user_id) DO NOTHING
		RETURNING created_at
	`

	member := &models.WorkspaceMember{
		WorkspaceID:    params.WorkspaceID,
		UserID:         params.UserID,
		Role:           params.Role,
		SetupCompleted: params.SetupCompleted,
	}
	err := tx.QueryRowxContext(ctx, query,
		params.WorkspaceID,
		params.UserID,
		params.Role,
		params.SetupCompleted,
	).Scan(&member.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create member: %w", err)
	}

	return member, nil
}
