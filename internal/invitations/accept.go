package invitations

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/huddlehq/huddle/internal/db"
	"github.com/huddlehq/huddle/internal/db/models"
	"github.com/huddlehq/huddle/internal/db/repositories"
	"github.com/huddlehq/huddle/internal/telemetry"
)

// AcceptFailure records one invitation that could not be accepted in a batch
type AcceptFailure struct {
	InvitationID string `json:"invitationId"`
	Email        string `json:"email"`
	Error        string `json:"error"`
}

// AcceptPendingResult is the outcome of AcceptPendingForEmail
type AcceptPendingResult struct {
	Accepted []string        `json:"accepted"`
	Failed   []AcceptFailure `json:"failed"`
}

// AcceptInvitation accepts an invitation on behalf of userID and returns the workspace id.
// ok is false when the invitation was already accepted, revoked or expired; that is a no-op,
// not an error. The status change, the member row and the invitation:accepted event commit
// together.
func (s *Service) AcceptInvitation(ctx context.Context, invitationID, userID string) (workspaceID string, ok bool, err error) {
	err = s.tx.WithTx(ctx, func(tx sqlx.ExtContext) error {
		workspaceID, ok, err = s.acceptInTx(ctx, tx, invitationID, userID)
		return err
	})
	if err != nil {
		return "", false, err
	}
	return workspaceID, ok, nil
}

// AcceptByDirectoryInvite accepts the invitation the directory provider knows as
// directoryInviteID. ok is false when no such invitation exists or it is no longer pending.
func (s *Service) AcceptByDirectoryInvite(ctx context.Context, directoryInviteID, userID string) (string, bool, error) {
	inv, err := s.invitations.FindByDirectoryInviteID(ctx, s.tx.Querier(), directoryInviteID)
	if err != nil {
		return "", false, err
	}
	if inv == nil {
		return "", false, nil
	}
	return s.AcceptInvitation(ctx, inv.ID, userID)
}

// AcceptPendingForEmail accepts every unexpired pending invitation addressed to email, across
// workspaces, in one transaction. Each invitation runs behind its own savepoint: a failure
// rolls back only that invitation's writes and is reported in Failed while the rest commit.
func (s *Service) AcceptPendingForEmail(ctx context.Context, email, userID string) (*AcceptPendingResult, error) {
	email = NormalizeEmail(email)
	result := &AcceptPendingResult{
		Accepted: make([]string, 0),
		Failed:   make([]AcceptFailure, 0),
	}
	// Send-time de-duplication is best effort, so one workspace can hold two pending rows.
	seen := make(map[string]bool)

	err := s.tx.WithTx(ctx, func(tx sqlx.ExtContext) error {
		pending, err := s.invitations.FindPendingByEmail(ctx, tx, email)
		if err != nil {
			return err
		}

		for i, inv := range pending {
			var workspaceID string
			err := s.tx.WithSavepoint(ctx, tx, fmt.Sprintf("accept_invitation_%d", i), func() error {
				ws, ok, err := s.acceptInTx(ctx, tx, inv.ID, userID)
				if err != nil {
					return err
				}
				if ok {
					workspaceID = ws
				}
				return nil
			})
			if errors.Is(err, db.ErrSavepoint) {
				return err
			}
			if err != nil {
				s.logger.Warn("pending invitation not accepted",
					"invitation_id", inv.ID, "workspace_id", inv.WorkspaceID, "user_id", userID, "error", err)
				result.Failed = append(result.Failed, AcceptFailure{
					InvitationID: inv.ID,
					Email:        inv.Email,
					Error:        err.Error(),
				})
				continue
			}
			if workspaceID != "" && !seen[workspaceID] {
				seen[workspaceID] = true
				result.Accepted = append(result.Accepted, workspaceID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to accept pending invitations: %w", err)
	}

	return result, nil
}

// acceptInTx is the single-invitation accept protocol. It must run inside a transaction.
func (s *Service) acceptInTx(ctx context.Context, tx sqlx.ExtContext, invitationID, userID string) (string, bool, error) {
	now := s.now()
	applied, err := s.invitations.UpdateStatus(ctx, tx, invitationID, models.InvitationStatusAccepted,
		repositories.TransitionOptions{AcceptedAt: &now, RequireUnexpired: true})
	if err != nil {
		return "", false, err
	}
	if !applied {
		telemetry.InvitationNoopTransitionsTotal.WithLabelValues("accept").Inc()
		s.logger.Debug("invitation already resolved", "invitation_id", invitationID, "transition", "accept")
		return "", false, nil
	}

	inv, err := s.invitations.FindByID(ctx, tx, invitationID)
	if err != nil {
		return "", false, err
	}
	if inv == nil {
		return "", false, nil
	}

	isMember, err := s.members.IsMember(ctx, tx, inv.WorkspaceID, userID)
	if err != nil {
		return "", false, err
	}
	if isMember {
		s.logger.Info("invitee already a member", "invitation_id", inv.ID, "workspace_id", inv.WorkspaceID, "user_id", userID)
		return inv.WorkspaceID, true, nil
	}

	member, err := s.membership.CreateMemberInTransaction(ctx, tx, repositories.CreateMemberParams{
		WorkspaceID: inv.WorkspaceID,
		UserID:      userID,
		Role:        inv.Role,
	})
	if err != nil {
		return "", false, err
	}
	if member == nil {
		// a concurrent transaction added the membership after IsMember looked
		s.logger.Info("invitee already a member", "invitation_id", inv.ID, "workspace_id", inv.WorkspaceID, "user_id", userID)
		return inv.WorkspaceID, true, nil
	}

	payload := models.InvitationAcceptedPayload{
		WorkspaceID:  inv.WorkspaceID,
		InvitationID: inv.ID,
		Email:        inv.Email,
		UserID:       userID,
	}
	if _, err := s.outbox.Insert(ctx, tx, models.EventInvitationAccepted, payload); err != nil {
		return "", false, err
	}

	telemetry.InvitationsAcceptedTotal.Inc()
	s.logger.Info("invitation accepted", "invitation_id", inv.ID, "workspace_id", inv.WorkspaceID, "user_id", userID)
	return inv.WorkspaceID, true, nil
}
