package invitations

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"

	"github.com/huddlehq/huddle/internal/db/models"
	"github.com/huddlehq/huddle/internal/directory"
	"github.com/huddlehq/huddle/internal/telemetry"
)

// Skip reasons reported by SendInvitations
const (
	SkipAlreadyMember     = "already_member"
	SkipPendingInvitation = "pending_invitation"
)

// SkippedEmail is an input email that did not produce an invitation
type SkippedEmail struct {
	Email  string `json:"email"`
	Reason string `json:"reason"`
}

// SendResult is the outcome of SendInvitations
type SendResult struct {
	Sent    []*models.Invitation `json:"sent"`
	Skipped []SkippedEmail       `json:"skipped"`
}

// NormalizeEmail lowercases and trims an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// normalizeEmails normalizes and de-duplicates emails, keeping first-seen order and
// dropping blanks.
func normalizeEmails(emails []string) []string {
	seen := make(map[string]bool, len(emails))
	out := make([]string, 0, len(emails))
	for _, e := range emails {
		n := NormalizeEmail(e)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// SendInvitations invites emails to a workspace with the given role.
//
// Local rows and their invitation:sent events are written in one transaction before any
// directory call. Directory sends then run concurrently with no transaction held; each
// one succeeds or fails on its own and a failure leaves the local invitation pending.
// Already-member and already-pending checks run before the transaction and are best effort.
func (s *Service) SendInvitations(ctx context.Context, workspaceID, invitedBy string, emails []string, role models.WorkspaceRole) (*SendResult, error) {
	if !role.Valid() {
		return nil, ErrInvalidRole
	}

	result := &SendResult{
		Sent:    make([]*models.Invitation, 0),
		Skipped: make([]SkippedEmail, 0),
	}
	normalized := normalizeEmails(emails)
	if len(normalized) == 0 {
		return result, nil
	}

	q := s.tx.Querier()

	workspace, err := s.workspaces.GetByID(ctx, q, workspaceID)
	if err != nil {
		return nil, err
	}
	if workspace == nil {
		return nil, ErrWorkspaceNotFound
	}

	// A deleted inviter (invited_by has no foreign key) only loses the external send.
	inviter, err := s.users.GetByID(ctx, q, invitedBy)
	if err != nil {
		return nil, err
	}

	target := s.resolveSendTarget(ctx, workspaceID, inviter)

	toSend, skipped, err := s.partition(ctx, q, workspaceID, normalized)
	if err != nil {
		return nil, err
	}
	result.Skipped = skipped
	for _, sk := range skipped {
		telemetry.InvitationsSkippedTotal.WithLabelValues(sk.Reason).Inc()
	}
	if len(toSend) == 0 {
		return result, nil
	}

	// Phase 1: local rows and events, no external calls.
	expiresAt := s.now().Add(s.ttl)
	created := make([]*models.Invitation, 0, len(toSend))
	err = s.tx.WithTx(ctx, func(tx sqlx.ExtContext) error {
		for _, email := range toSend {
			inv := &models.Invitation{
				WorkspaceID: workspaceID,
				Email:       email,
				Role:        role,
				InvitedBy:   invitedBy,
				ExpiresAt:   expiresAt,
			}
			if err := s.invitations.Insert(ctx, tx, inv); err != nil {
				return err
			}
			payload := models.InvitationSentPayload{
				WorkspaceID:  workspaceID,
				InvitationID: inv.ID,
				Email:        email,
				Role:         role,
			}
			if _, err := s.outbox.Insert(ctx, tx, models.EventInvitationSent, payload); err != nil {
				return err
			}
			created = append(created, inv)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create invitations: %w", err)
	}
	telemetry.InvitationsSentTotal.Add(float64(len(created)))

	// Phases 2 and 3: directory sends, then record their ids.
	if target != nil {
		s.sendExternal(ctx, target, created)
	}

	result.Sent = created
	s.logger.Info("invitations sent",
		"workspace_id", workspaceID,
		"sent", len(created),
		"skipped", len(skipped),
		"external", target != nil,
	)
	return result, nil
}

// sendTarget is what a directory send needs. A nil target means no external sends.
type sendTarget struct {
	organizationID string
	inviterUserID  string
}

func (s *Service) resolveSendTarget(ctx context.Context, workspaceID string, inviter *models.User) *sendTarget {
	if s.directory == nil {
		return nil
	}

	orgID, err := s.EnsureDirectoryOrganization(ctx, workspaceID)
	if err != nil {
		s.logDirectoryFailure(ctx, "ensure_organization", err, "workspace_id", workspaceID)
		return nil
	}

	if inviter == nil {
		s.logger.Warn("inviter has no user record, skipping external sends", "workspace_id", workspaceID)
		return nil
	}
	if inviter.DirectoryUserID == nil || *inviter.DirectoryUserID == "" {
		s.logger.Info("inviter has no directory identity, skipping external sends",
			"workspace_id", workspaceID, "user_id", inviter.ID)
		return nil
	}

	return &sendTarget{organizationID: orgID, inviterUserID: *inviter.DirectoryUserID}
}

// partition splits normalized emails into those to invite and those to skip, preserving order.
func (s *Service) partition(ctx context.Context, q sqlx.ExtContext, workspaceID string, emails []string) ([]string, []SkippedEmail, error) {
	users, err := s.users.FindByEmails(ctx, q, emails)
	if err != nil {
		return nil, nil, err
	}

	userIDs := make([]string, 0, len(users))
	emailByUserID := make(map[string]string, len(users))
	for _, u := range users {
		userIDs = append(userIDs, u.ID)
		emailByUserID[u.ID] = NormalizeEmail(u.Email)
	}

	memberIDs, err := s.members.ListMemberUserIDs(ctx, q, workspaceID, userIDs)
	if err != nil {
		return nil, nil, err
	}
	memberEmails := make(map[string]bool, len(memberIDs))
	for _, id := range memberIDs {
		memberEmails[emailByUserID[id]] = true
	}

	pending, err := s.invitations.FindPendingByEmailsAndWorkspace(ctx, q, emails, workspaceID)
	if err != nil {
		return nil, nil, err
	}
	pendingEmails := make(map[string]bool, len(pending))
	for _, inv := range pending {
		pendingEmails[inv.Email] = true
	}

	toSend := make([]string, 0, len(emails))
	skipped := make([]SkippedEmail, 0)
	for _, email := range emails {
		switch {
		case memberEmails[email]:
			skipped = append(skipped, SkippedEmail{Email: email, Reason: SkipAlreadyMember})
		case pendingEmails[email]:
			skipped = append(skipped, SkippedEmail{Email: email, Reason: SkipPendingInvitation})
		default:
			toSend = append(toSend, email)
		}
	}
	return toSend, skipped, nil
}

// sendExternal issues directory invites for created invitations concurrently and records the
// returned ids. Each send is independent; none of them fails the batch.
func (s *Service) sendExternal(ctx context.Context, target *sendTarget, created []*models.Invitation) {
	invites := make([]*directory.Invite, len(created))
	errs := make([]error, len(created))

	var g errgroup.Group
	g.SetLimit(s.sendConcurrency)
	for i, inv := range created {
		g.Go(func() error {
			invites[i], errs[i] = s.directory.SendInvitation(ctx, directory.SendInvitationInput{
				OrganizationID: target.organizationID,
				Email:          inv.Email,
				InviterUserID:  target.inviterUserID,
				ExpiresInDays:  s.ttlDays(),
			})
			return nil
		})
	}
	_ = g.Wait()

	q := s.tx.Querier()
	for i, inv := range created {
		if errs[i] != nil {
			s.logDirectoryFailure(ctx, "send_invitation", errs[i],
				"workspace_id", inv.WorkspaceID, "invitation_id", inv.ID, "email", inv.Email)
			continue
		}
		if invites[i] == nil || invites[i].ID == "" {
			continue
		}
		if err := s.invitations.SetDirectoryInviteID(ctx, q, inv.ID, invites[i].ID); err != nil {
			s.logger.Error("failed to record directory invite id",
				"invitation_id", inv.ID, "directory_invite_id", invites[i].ID, "error", err)
			continue
		}
		id := invites[i].ID
		inv.DirectoryInviteID = &id
	}
}

func (s *Service) ttlDays() int {
	days := int(s.ttl / (24 * time.Hour))
	if days < 1 {
		days = 1
	}
	return days
}

// logDirectoryFailure logs a failed directory call at warn for known state conflicts and at
// error otherwise.
func (s *Service) logDirectoryFailure(ctx context.Context, operation string, err error, attrs ...any) {
	class, level := "unknown", slog.LevelError
	if directory.IsStateConflict(err) {
		class, level = "conflict", slog.LevelWarn
	}
	telemetry.DirectoryFailuresTotal.WithLabelValues(operation, class).Inc()

	attrs = append(attrs, "operation", operation, "code", directory.CodeOf(err), "error", err)
	s.logger.Log(ctx, level, "directory call failed", attrs...)
}

// ResendInvitation revokes a pending invitation and issues a fresh one to the same email with
// the same role and inviter. It returns nil when the original does not belong to the workspace,
// is no longer pending, or when the fresh send was skipped.
func (s *Service) ResendInvitation(ctx context.Context, invitationID, workspaceID string) (*models.Invitation, error) {
	inv, err := s.invitations.FindByID(ctx, s.tx.Querier(), invitationID)
	if err != nil {
		return nil, err
	}
	if inv == nil || inv.WorkspaceID != workspaceID || inv.Status != models.InvitationStatusPending {
		return nil, nil
	}

	revoked, err := s.RevokeInvitation(ctx, invitationID, workspaceID)
	if err != nil {
		return nil, err
	}
	if !revoked {
		return nil, nil
	}

	result, err := s.SendInvitations(ctx, workspaceID, inv.InvitedBy, []string{inv.Email}, inv.Role)
	if err != nil {
		return nil, err
	}
	if len(result.Sent) == 0 {
		return nil, nil
	}
	return result.Sent[0], nil
}
