// Package middleware provides Gin HTTP middleware for caller identity, workspace
// authorization, rate limiting, request logging and metrics.
//
// Ordering is enforced in internal/api/router.go:
//
//	RequestID → Logger → Metrics → Auth → WorkspaceAdmin → RateLimit → Handler
//
// Rate limiting on invitation sends runs after authorization so an outsider cannot
// exhaust a workspace's budget.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/huddlehq/huddle/internal/auth"
)

// Context keys set by AuthMiddleware
const (
	UserIDKey = "user_id"
	EmailKey  = "email"
)

// TokenValidator verifies a bearer token and returns its claims
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// AuthMiddleware requires a valid bearer JWT and stores the caller's user id and email
// in the gin context.
func AuthMiddleware(tokens TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Missing authorization header",
			})
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header must start with 'Bearer '",
			})
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization token is empty",
			})
			return
		}

		claims, err := tokens.Validate(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid credentials",
			})
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(EmailKey, claims.Email)
		c.Next()
	}
}

// CallerID returns the authenticated user id, or "" outside AuthMiddleware
func CallerID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

// CallerEmail returns the authenticated user's email claim
func CallerEmail(c *gin.Context) string {
	return c.GetString(EmailKey)
}
