// Package invitations implements the HTTP handlers for workspace invitations. Handlers only
// translate between HTTP and the invitation service; every state transition happens there.
package invitations

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/huddlehq/huddle/internal/db/models"
	"github.com/huddlehq/huddle/internal/invitations"
	"github.com/huddlehq/huddle/internal/middleware"
)

// Service is the subset of *invitations.Service the handlers call
type Service interface {
	SendInvitations(ctx context.Context, workspaceID, invitedBy string, emails []string, role models.WorkspaceRole) (*invitations.SendResult, error)
	ListInvitations(ctx context.Context, workspaceID string, status *models.InvitationStatus) ([]*models.Invitation, error)
	GetPendingInvitation(ctx context.Context, workspaceID, email string) (*models.Invitation, error)
	RevokeInvitation(ctx context.Context, invitationID, workspaceID string) (bool, error)
	ResendInvitation(ctx context.Context, invitationID, workspaceID string) (*models.Invitation, error)
	AcceptInvitation(ctx context.Context, invitationID, userID string) (string, bool, error)
	AcceptByDirectoryInvite(ctx context.Context, directoryInviteID, userID string) (string, bool, error)
	AcceptPendingForEmail(ctx context.Context, email, userID string) (*invitations.AcceptPendingResult, error)
}

// Handlers serves the invitation endpoints
type Handlers struct {
	svc Service
}

// NewHandlers creates the invitation handlers
func NewHandlers(svc Service) *Handlers {
	return &Handlers{svc: svc}
}

// SendRequest is the body of a send request
type SendRequest struct {
	Emails []string `json:"emails" binding:"required,min=1,max=100,dive,required,email"`
	Role   string   `json:"role" binding:"required,oneof=admin member"`
}

// @Summary      Send invitations
// @Description  Invite one or more email addresses into a workspace. Addresses that already belong to a member or already have a pending invitation are skipped.
// @Tags         Invitations
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        workspace_id  path  string       true  "Workspace ID"
// @Param        body          body  SendRequest  true  "Emails and role"
// @Success      201  {object}  invitations.SendResult
// @Failure      400  {object}  map[string]interface{}  "Invalid request"
// @Failure      404  {object}  map[string]interface{}  "Workspace not found"
// @Router       /api/v1/workspaces/{workspace_id}/invitations [post]
// SendHandler creates invitations
func (h *Handlers) SendHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SendRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid request",
				"details": err.Error(),
			})
			return
		}

		workspaceID := c.Param(middleware.WorkspaceParam)
		result, err := h.svc.SendInvitations(c.Request.Context(), workspaceID, middleware.CallerID(c),
			req.Emails, models.WorkspaceRole(req.Role))
		if err != nil {
			writeServiceError(c, "send invitations", err)
			return
		}

		c.JSON(http.StatusCreated, result)
	}
}

// @Summary      List invitations
// @Description  List a workspace's invitations, newest first. Pending invitations past their expiry are reported as expired.
// @Tags         Invitations
// @Security     Bearer
// @Produce      json
// @Param        workspace_id  path   string  true   "Workspace ID"
// @Param        status        query  string  false  "pending, accepted, revoked or expired"
// @Success      200  {object}  map[string]interface{}  "invitations: []models.Invitation"
// @Router       /api/v1/workspaces/{workspace_id}/invitations [get]
// ListHandler lists invitations
func (h *Handlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var status *models.InvitationStatus
		if raw := c.Query("status"); raw != "" {
			s := models.InvitationStatus(raw)
			if !s.Valid() {
				c.JSON(http.StatusBadRequest, gin.H{
					"error": "Invalid status filter",
				})
				return
			}
			status = &s
		}

		list, err := h.svc.ListInvitations(c.Request.Context(), c.Param(middleware.WorkspaceParam), status)
		if err != nil {
			writeServiceError(c, "list invitations", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"invitations": list})
	}
}

// GetPendingHandler returns the pending invitation for ?email=
// GET /api/v1/workspaces/:workspace_id/invitations/pending?email=
func (h *Handlers) GetPendingHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		email := invitations.NormalizeEmail(c.Query("email"))
		if email == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "email query parameter is required",
			})
			return
		}

		inv, err := h.svc.GetPendingInvitation(c.Request.Context(), c.Param(middleware.WorkspaceParam), email)
		if err != nil {
			writeServiceError(c, "get pending invitation", err)
			return
		}
		if inv == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "No pending invitation for that email",
			})
			return
		}

		c.JSON(http.StatusOK, inv)
	}
}

// RevokeHandler revokes a pending invitation
// DELETE /api/v1/workspaces/:workspace_id/invitations/:id
func (h *Handlers) RevokeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		revoked, err := h.svc.RevokeInvitation(c.Request.Context(), c.Param("id"), c.Param(middleware.WorkspaceParam))
		if err != nil {
			writeServiceError(c, "revoke invitation", err)
			return
		}
		if !revoked {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "No pending invitation with that id",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{"revoked": true})
	}
}

// ResendHandler revokes a pending invitation and sends a fresh one to the same address
// POST /api/v1/workspaces/:workspace_id/invitations/:id/resend
func (h *Handlers) ResendHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		inv, err := h.svc.ResendInvitation(c.Request.Context(), c.Param("id"), c.Param(middleware.WorkspaceParam))
		if err != nil {
			writeServiceError(c, "resend invitation", err)
			return
		}
		if inv == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "No pending invitation with that id",
			})
			return
		}

		c.JSON(http.StatusCreated, inv)
	}
}

// AcceptHandler accepts an invitation for the caller
// POST /api/v1/invitations/:id/accept
func (h *Handlers) AcceptHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		workspaceID, ok, err := h.svc.AcceptInvitation(c.Request.Context(), c.Param("id"), middleware.CallerID(c))
		writeAcceptResult(c, workspaceID, ok, err)
	}
}

// AcceptDirectoryInviteHandler accepts the invitation behind a directory invite for the caller
// POST /api/v1/directory/invitations/:directory_invite_id/accept
func (h *Handlers) AcceptDirectoryInviteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		workspaceID, ok, err := h.svc.AcceptByDirectoryInvite(c.Request.Context(),
			c.Param("directory_invite_id"), middleware.CallerID(c))
		writeAcceptResult(c, workspaceID, ok, err)
	}
}

// AcceptPendingHandler accepts every pending invitation addressed to the caller's email
// POST /api/v1/invitations/accept-pending
func (h *Handlers) AcceptPendingHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		email := middleware.CallerEmail(c)
		if email == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Token carries no email claim",
			})
			return
		}

		result, err := h.svc.AcceptPendingForEmail(c.Request.Context(), email, middleware.CallerID(c))
		if err != nil {
			writeServiceError(c, "accept pending invitations", err)
			return
		}

		c.JSON(http.StatusOK, result)
	}
}

func writeAcceptResult(c *gin.Context, workspaceID string, ok bool, err error) {
	if err != nil {
		writeServiceError(c, "accept invitation", err)
		return
	}
	if !ok {
		c.JSON(http.StatusConflict, gin.H{
			"error": "Invitation is not pending or has expired",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"workspace_id": workspaceID})
}

// writeServiceError maps service errors to responses. Unknown errors are logged and hidden.
func writeServiceError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, invitations.ErrInvalidRole):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid role"})
	case errors.Is(err, invitations.ErrWorkspaceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Workspace not found"})
	default:
		slog.ErrorContext(c.Request.Context(), "invitation request failed",
			"operation", op, "request_id", c.GetString(middleware.RequestIDKey), "error", err)
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to " + op})
	}
}
