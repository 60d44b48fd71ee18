package invitations

import (
	"context"
	"sort"

	"github.com/jmoiron/sqlx"

	"github.com/huddlehq/huddle/internal/db/models"
	"github.com/huddlehq/huddle/internal/db/repositories"
	"github.com/huddlehq/huddle/internal/telemetry"
)

// RevokeInvitation revokes a pending invitation that belongs to workspaceID. It returns false
// when the invitation is missing, belongs to another workspace, or is no longer pending.
// The directory invite, if any, is revoked after the local commit; a directory failure is
// logged and does not undo the local revocation.
func (s *Service) RevokeInvitation(ctx context.Context, invitationID, workspaceID string) (bool, error) {
	var revoked bool
	var directoryInviteID *string

	err := s.tx.WithTx(ctx, func(tx sqlx.ExtContext) error {
		inv, err := s.invitations.FindByID(ctx, tx, invitationID)
		if err != nil {
			return err
		}
		if inv == nil || inv.WorkspaceID != workspaceID {
			return nil
		}

		now := s.now()
		applied, err := s.invitations.UpdateStatus(ctx, tx, invitationID, models.InvitationStatusRevoked,
			repositories.TransitionOptions{RevokedAt: &now})
		if err != nil {
			return err
		}
		if !applied {
			telemetry.InvitationNoopTransitionsTotal.WithLabelValues("revoke").Inc()
			return nil
		}

		revoked = true
		directoryInviteID = inv.DirectoryInviteID
		return nil
	})
	if err != nil {
		return false, err
	}
	if !revoked {
		return false, nil
	}

	s.logger.Info("invitation revoked", "invitation_id", invitationID, "workspace_id", workspaceID)

	if s.directory != nil && directoryInviteID != nil && *directoryInviteID != "" {
		if err := s.directory.RevokeInvitation(ctx, *directoryInviteID); err != nil {
			s.logDirectoryFailure(ctx, "revoke_invitation", err,
				"workspace_id", workspaceID, "invitation_id", invitationID, "directory_invite_id", *directoryInviteID)
		}
	}

	return true, nil
}

// ListInvitations lists a workspace's invitations, newest first, optionally filtered by status.
// Pending invitations past their expiry are marked expired first, and none is ever returned
// as pending.
func (s *Service) ListInvitations(ctx context.Context, workspaceID string, status *models.InvitationStatus) ([]*models.Invitation, error) {
	q := s.tx.Querier()

	marked, err := s.invitations.MarkExpired(ctx, q, workspaceID)
	if err != nil {
		return nil, err
	}
	if marked > 0 {
		s.logger.Debug("invitations expired", "workspace_id", workspaceID, "count", marked)
	}

	list, err := s.invitations.ListByWorkspace(ctx, q, workspaceID, repositories.InvitationFilter{Status: status})
	if err != nil {
		return nil, err
	}

	// Rows can slip past MarkExpired when the application and database clocks disagree.
	// Those are stored as pending but reported as expired, so an expired filter reads them too.
	if status != nil && *status == models.InvitationStatusExpired {
		pending := models.InvitationStatusPending
		stale, err := s.invitations.ListByWorkspace(ctx, q, workspaceID, repositories.InvitationFilter{Status: &pending})
		if err != nil {
			return nil, err
		}
		list = append(list, stale...)
		sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	}

	now := s.now()
	out := make([]*models.Invitation, 0, len(list))
	for _, inv := range list {
		if inv.ExpiredAt(now) {
			inv.Status = models.InvitationStatusExpired
		}
		if status != nil && inv.Status != *status {
			continue
		}
		out = append(out, inv)
	}
	return out, nil
}

// GetPendingInvitation returns the newest unexpired pending invitation for email in the
// workspace, or nil if there is none.
func (s *Service) GetPendingInvitation(ctx context.Context, workspaceID, email string) (*models.Invitation, error) {
	return s.invitations.FindPendingByEmailAndWorkspace(ctx, s.tx.Querier(), NormalizeEmail(email), workspaceID)
}
