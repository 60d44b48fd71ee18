// invitation_repository.go implements InvitationRepository, the persistence layer for
// workspace invitations. Every method takes the caller's sqlx.ExtContext so the invitation
// service decides which statements share a transaction.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/huddlehq/huddle/internal/db/models"
)

const invitationColumns = `id, workspace_id, email, role, status, invited_by, directory_invite_id,
		       created_at, expires_at, accepted_at, revoked_at`

// InvitationFilter narrows ListByWorkspace results
type InvitationFilter struct {
	Status *models.InvitationStatus
}

// TransitionOptions carries the timestamp written by a status transition.
// RequireUnexpired additionally guards the update on expires_at > NOW().
type TransitionOptions struct {
	AcceptedAt       *time.Time
	RevokedAt        *time.Time
	RequireUnexpired bool
}

// InvitationRepository handles database operations for invitations
type InvitationRepository struct{}

// NewInvitationRepository creates a new invitation repository
func NewInvitationRepository() *InvitationRepository {
	return &InvitationRepository{}
}

// Insert creates a pending invitation. No uniqueness is enforced here.
func (r *InvitationRepository) Insert(ctx context.Context, q sqlx.ExtContext, inv *models.Invitation) error {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	inv.Status = models.InvitationStatusPending

	query := `
		INSERT INTO invitations (id, workspace_id, email, role, status, invited_by, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`

	err := q.QueryRowxContext(ctx, query,
		inv.ID,
		inv.WorkspaceID,
		inv.Email,
		inv.Role,
		inv.Status,
		inv.InvitedBy,
		inv.ExpiresAt,
	).Scan(&inv.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert invitation: %w", err)
	}

	return nil
}

// FindByID retrieves an invitation by ID
func (r *InvitationRepository) FindByID(ctx context.Context, q sqlx.ExtContext, id string) (*models.Invitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM invitations WHERE id = $1`

	var inv models.Invitation
	err := sqlx.GetContext(ctx, q, &inv, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}

	return &inv, nil
}

// FindByDirectoryInviteID retrieves an invitation by the directory provider's invite id
func (r *InvitationRepository) FindByDirectoryInviteID(ctx context.Context, q sqlx.ExtContext, directoryInviteID string) (*models.Invitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM invitations WHERE directory_invite_id = $1`

	var inv models.Invitation
	err := sqlx.GetContext(ctx, q, &inv, query, directoryInviteID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation by directory invite id: %w", err)
	}

	return &inv, nil
}

// ListByWorkspace lists a workspace's invitations, newest first
func (r *InvitationRepository) ListByWorkspace(ctx context.Context, q sqlx.ExtContext, workspaceID string, filter InvitationFilter) ([]*models.Invitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM invitations WHERE workspace_id = $1`
	args := []interface{}{workspaceID}
	if filter.Status != nil {
		query += ` AND status = $2`
		args = append(args, *filter.Status)
	}
	query += ` ORDER BY created_at DESC`

	invitations := make([]*models.Invitation, 0)
	if err := sqlx.SelectContext(ctx, q, &invitations, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}

	return invitations, nil
}

// FindPendingByEmail lists the unexpired pending invitations for an email across all workspaces
func (r *InvitationRepository) FindPendingByEmail(ctx context.Context, q sqlx.ExtContext, email string) ([]*models.Invitation, error) {
	query := `
		SELECT ` + invitationColumns + `
		FROM invitations
		WHERE email = $1 AND status = 'pending' AND expires_at > NOW()
		ORDER BY created_at ASC
	`

	invitations := make([]*models.Invitation, 0)
	if err := sqlx.SelectContext(ctx, q, &invitations, query, email); err != nil {
		return nil, fmt.Errorf("failed to find pending invitations: %w", err)
	}

	return invitations, nil
}

// FindPendingByEmailAndWorkspace returns the newest unexpired pending invitation for an email in a workspace
func (r *InvitationRepository) FindPendingByEmailAndWorkspace(ctx context.Context, q sqlx.ExtContext, email, workspaceID string) (*models.Invitation, error) {
	query := `
		SELECT ` + invitationColumns + `
		FROM invitations
		WHERE email = $1 AND workspace_id = $2 AND status = 'pending' AND expires_at > NOW()
		ORDER BY created_at DESC
		LIMIT 1
	`

	var inv models.Invitation
	err := sqlx.GetContext(ctx, q, &inv, query, email, workspaceID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find pending invitation: %w", err)
	}

	return &inv, nil
}

// FindPendingByEmailsAndWorkspace returns the unexpired pending invitations in a workspace for any of emails
func (r *InvitationRepository) FindPendingByEmailsAndWorkspace(ctx context.Context, q sqlx.ExtContext, emails []string, workspaceID string) ([]*models.Invitation, error) {
	invitations := make([]*models.Invitation, 0)
	if len(emails) == 0 {
		return invitations, nil
	}

	query := `
		SELECT ` + invitationColumns + `
		FROM invitations
		WHERE workspace_id = $1 AND email = ANY($2) AND status = 'pending' AND expires_at > NOW()
	`

	if err := sqlx.SelectContext(ctx, q, &invitations, query, workspaceID, pq.Array(emails)); err != nil {
		return nil, fmt.Errorf("failed to find pending invitations: %w", err)
	}

	return invitations, nil
}

// UpdateStatus moves a pending invitation to status. The WHERE clause requires the row to
// still be pending, so of several concurrent callers at most one sees true; the others
// see false and must treat the transition as already resolved.
func (r *InvitationRepository) UpdateStatus(ctx context.Context, q sqlx.ExtContext, id string, status models.InvitationStatus, opts TransitionOptions) (bool, error) {
	if err := validateTransition(status, opts); err != nil {
		return false, err
	}

	query := `
		UPDATE invitations
		SET status = $2, accepted_at = $3, revoked_at = $4
		WHERE id = $1 AND status = 'pending'
	`
	if opts.RequireUnexpired {
		query += ` AND expires_at > NOW()`
	}

	result, err := q.ExecContext(ctx, query, id, status, opts.AcceptedAt, opts.RevokedAt)
	if err != nil {
		return false, fmt.Errorf("failed to update invitation status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	return rows > 0, nil
}

func validateTransition(status models.InvitationStatus, opts TransitionOptions) error {
	switch status {
	case models.InvitationStatusAccepted:
		if opts.AcceptedAt == nil || opts.RevokedAt != nil {
			return fmt.Errorf("accepted transition requires accepted_at only")
		}
	case models.InvitationStatusRevoked:
		if opts.RevokedAt == nil || opts.AcceptedAt != nil {
			return fmt.Errorf("revoked transition requires revoked_at only")
		}
	case models.InvitationStatusExpired:
		if opts.AcceptedAt != nil || opts.RevokedAt != nil {
			return fmt.Errorf("expired transition takes no timestamps")
		}
	default:
		return fmt.Errorf("invalid target status: %q", status)
	}
	return nil
}

// SetDirectoryInviteID records the directory provider's invite id after a successful send
func (r *InvitationRepository) SetDirectoryInviteID(ctx context.Context, q sqlx.ExtContext, id, directoryInviteID string) error {
	query := `UPDATE invitations SET directory_invite_id = $2 WHERE id = $1`
	if _, err := q.ExecContext(ctx, query, id, directoryInviteID); err != nil {
		return fmt.Errorf("failed to set directory invite id: %w", err)
	}
	return nil
}

// MarkExpired moves a workspace's pending invitations whose expiry has passed to expired.
// It returns the number of rows changed; a repeated call with no new expiries changes none.
func (r *InvitationRepository) MarkExpired(ctx context.Context, q sqlx.ExtContext, workspaceID string) (int64, error) {
	query := `
		UPDATE invitations
		SET status = 'expired'
		WHERE workspace_id = $1 AND status = 'pending' AND expires_at < NOW()
	`

	result, err := q.ExecContext(ctx, query, workspaceID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark invitations expired: %w", err)
	}

	return result.RowsAffected()
}
