package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/huddlehq/huddle/internal/db/models"
)

// WorkspaceParam is the route parameter holding the workspace id
const WorkspaceParam = "workspace_id"

// MemberLookup reads a single workspace membership
type MemberLookup interface {
	GetMember(ctx context.Context, q sqlx.ExtContext, workspaceID, userID string) (*models.WorkspaceMember, error)
}

// RequireWorkspaceAdmin allows the request only when the caller is an admin of the
// workspace named by the :workspace_id route parameter. Must run after AuthMiddleware.
func RequireWorkspaceAdmin(members MemberLookup, q sqlx.ExtContext) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := CallerID(c)
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			return
		}

		workspaceID := c.Param(WorkspaceParam)
		member, err := members.GetMember(c.Request.Context(), q, workspaceID, userID)
		if err != nil {
			slog.Error("failed to load workspace membership",
				"workspace_id", workspaceID, "user_id", userID, "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to check workspace membership",
			})
			return
		}

		// Non-members get the same answer as non-admins so workspace ids cannot be probed.
		if member == nil || member.Role != models.WorkspaceRoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Workspace admin role required",
			})
			return
		}

		c.Next()
	}
}
