// workspace_repository.go implements WorkspaceRepository: workspace reads and the one-time
// link between a workspace and its directory organization.
package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/huddlehq/huddle/internal/db/models"
)

// WorkspaceRepository handles database operations for workspaces
type WorkspaceRepository struct{}

// NewWorkspaceRepository creates a new workspace repository
func NewWorkspaceRepository() *WorkspaceRepository {
	return &WorkspaceRepository{}
}

// GetByID retrieves a workspace by ID
func (r *WorkspaceRepository) GetByID(ctx context.Context, q sqlx.ExtContext, id string) (*models.Workspace, error) {
	query := `
		SELECT id, name, directory_organization_id, created_at, updated_at
		FROM workspaces
		WHERE id = $1
	`

	var ws models.Workspace
	err := sqlx.GetContext(ctx, q, &ws, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workspace: %w", err)
	}

	return &ws, nil
}

// SetDirectoryOrganizationIDIfUnset links the workspace to orgID unless it is already linked.
// It reports whether this call wrote the link.
func (r *WorkspaceRepository) SetDirectoryOrganizationIDIfUnset(ctx context.Context, q sqlx.ExtContext, id, orgID string) (bool, error) {
	query := `
		UPDATE workspaces
		SET directory_organization_id = $2, updated_at = NOW()
		WHERE id = $1 AND directory_organization_id IS NULL
	`

	result, err := q.ExecContext(ctx, query, id, orgID)
	if err != nil {
		return false, fmt.Errorf("failed to link directory organization: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	return rows > 0, nil
}
