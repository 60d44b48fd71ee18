// Package api wires together all HTTP routes for the invitation service.
//
// Route groups:
//   - /health is the unauthenticated probe; it pings the database and, when configured, Redis.
//   - /api/v1/workspaces/:workspace_id/invitations requires a bearer token whose user is an
//     admin of that workspace. Sends are additionally rate limited per workspace.
//   - /api/v1/invitations and /api/v1/directory require a bearer token; the caller accepts
//     on their own behalf.
package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	invitationsapi "github.com/huddlehq/huddle/internal/api/invitations"
	"github.com/huddlehq/huddle/internal/auth"
	"github.com/huddlehq/huddle/internal/config"
	"github.com/huddlehq/huddle/internal/db"
	"github.com/huddlehq/huddle/internal/db/repositories"
	"github.com/huddlehq/huddle/internal/directory"
	"github.com/huddlehq/huddle/internal/invitations"
	"github.com/huddlehq/huddle/internal/jobs"
	"github.com/huddlehq/huddle/internal/middleware"
	"github.com/huddlehq/huddle/internal/outbox"
	"github.com/huddlehq/huddle/internal/safego"
)

// BackgroundServices holds background jobs and resources that must be stopped during
// graceful shutdown. The caller (cmd/server) calls Shutdown after the HTTP server has drained.
type BackgroundServices struct {
	cancel       context.CancelFunc
	relay        *jobs.OutboxRelay
	publisher    io.Closer
	rateLimiters []*middleware.MemoryLimiter
}

// Shutdown stops all background goroutines
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.relay != nil {
		bg.relay.Stop()
	}
	if bg.cancel != nil {
		bg.cancel()
	}
	if bg.publisher != nil {
		if err := bg.publisher.Close(); err != nil {
			slog.Warn("failed to close outbox publisher", "error", err)
		}
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	slog.Info("all background services stopped")
}

// NewRouter builds the service graph and the Gin router. rdb may be nil when Redis is not
// configured; rate limiting then falls back to process memory and the stream publisher is
// unavailable.
func NewRouter(cfg *config.Config, sqlxDB *sqlx.DB, rdb *redis.Client) (*gin.Engine, *BackgroundServices, error) {
	logger := slog.Default()
	bg := &BackgroundServices{}

	tokens, err := auth.NewTokenManager(cfg.Auth.JWTSecret)
	if err != nil {
		return nil, nil, err
	}

	invitationRepo := repositories.NewInvitationRepository()
	outboxRepo := repositories.NewOutboxRepository()
	workspaceRepo := repositories.NewWorkspaceRepository()
	userRepo := repositories.NewUserRepository()
	memberRepo := repositories.NewMemberRepository()

	deps := invitations.Deps{
		Tx:          db.NewTxManager(sqlxDB),
		Invitations: invitationRepo,
		Outbox:      outboxRepo,
		Workspaces:  workspaceRepo,
		Users:       userRepo,
		Members:     memberRepo,
		Membership:  memberRepo,
		Logger:      logger,
	}
	dir, err := newDirectory(cfg.Directory)
	if err != nil {
		return nil, nil, err
	}
	if dir != nil {
		deps.Directory = dir
	}
	svc := invitations.NewService(deps, invitations.Config{
		TTL:             cfg.Invitations.TTL,
		SendConcurrency: cfg.Invitations.SendConcurrency,
	})

	if cfg.Outbox.RelayEnabled {
		publisher, err := newPublisher(cfg.Outbox, rdb)
		if err != nil {
			return nil, nil, err
		}
		relay := jobs.NewOutboxRelay(sqlxDB, outboxRepo, publisher, jobs.OutboxRelayConfig{
			Consumer:   cfg.Outbox.Consumer,
			Interval:   cfg.Outbox.Interval,
			BatchSize:  cfg.Outbox.BatchSize,
			GapTimeout: cfg.Outbox.GapTimeout,
		}, logger)

		ctx, cancel := context.WithCancel(context.Background())
		bg.cancel = cancel
		bg.relay = relay
		bg.publisher = publisher
		safego.Go("outbox-relay", func() { relay.Start(ctx) })
	}

	var sendLimiter middleware.Limiter
	if cfg.Invitations.SendRatePerMinute > 0 {
		limitCfg := middleware.InvitationSendRateLimitConfig(cfg.Invitations.SendRatePerMinute)
		if rdb != nil {
			sendLimiter = middleware.NewRedisLimiter(rdb, limitCfg)
		} else {
			mem := middleware.NewMemoryLimiter(limitCfg)
			bg.rateLimiters = append(bg.rateLimiters, mem)
			sendLimiter = mem
		}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(middleware.MetricsMiddleware())

	checks := map[string]func(context.Context) error{"database": sqlxDB.PingContext}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	router.GET("/health", healthCheckHandler(checks))

	registerInvitationRoutes(router, invitationsapi.NewHandlers(svc), tokens, memberRepo, sqlxDB, sendLimiter)

	return router, bg, nil
}

// registerInvitationRoutes mounts the invitation endpoints. A nil sendLimiter disables send
// rate limiting.
func registerInvitationRoutes(
	router *gin.Engine,
	h *invitationsapi.Handlers,
	tokens middleware.TokenValidator,
	members middleware.MemberLookup,
	q sqlx.ExtContext,
	sendLimiter middleware.Limiter,
) {
	v1 := router.Group("/api/v1")
	v1.Use(middleware.AuthMiddleware(tokens))

	ws := v1.Group("/workspaces/:workspace_id/invitations")
	ws.Use(middleware.RequireWorkspaceAdmin(members, q))
	{
		send := []gin.HandlerFunc{h.SendHandler()}
		if sendLimiter != nil {
			send = append([]gin.HandlerFunc{middleware.RateLimitMiddleware(sendLimiter, middleware.WorkspaceKey("invitations"))}, send...)
		}
		ws.POST("", send...)
		ws.GET("", h.ListHandler())
		ws.GET("/pending", h.GetPendingHandler())
		ws.DELETE("/:id", h.RevokeHandler())
		ws.POST("/:id/resend", h.ResendHandler())
	}

	v1.POST("/invitations/accept-pending", h.AcceptPendingHandler())
	v1.POST("/invitations/:id/accept", h.AcceptHandler())
	v1.POST("/directory/invitations/:directory_invite_id/accept", h.AcceptDirectoryInviteHandler())
}

// newDirectory returns the directory client, or nil when the integration is disabled
func newDirectory(cfg config.DirectoryConfig) (*directory.WorkOSClient, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	client, err := directory.NewWorkOSClient(directory.ClientConfig{
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create directory client: %w", err)
	}
	return client, nil
}

// newPublisher builds the relay's fan-out publisher from the enabled destinations
func newPublisher(cfg config.OutboxConfig, rdb *redis.Client) (*outbox.MultiPublisher, error) {
	var configs []outbox.PublisherConfig
	if cfg.Stream.Enabled {
		configs = append(configs, outbox.PublisherConfig{
			Type:   "redis_stream",
			Stream: &outbox.StreamConfig{Stream: cfg.Stream.Name, MaxLen: cfg.Stream.MaxLen},
		})
	}
	if cfg.Webhook.Enabled {
		configs = append(configs, outbox.PublisherConfig{
			Type: "webhook",
			Webhook: &outbox.WebhookConfig{
				URL:     cfg.Webhook.URL,
				Headers: cfg.Webhook.Headers,
				Timeout: cfg.Webhook.Timeout,
			},
		})
	}

	// A nil *redis.Client must not reach the publisher as a non-nil interface.
	var cmd redis.Cmdable
	if rdb != nil {
		cmd = rdb
	}
	return outbox.NewMultiPublisher(configs, cmd)
}

// @Summary      Health check
// @Description  Reports whether the database (and Redis, when configured) is reachable.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy"
// @Router       /health [get]
func healthCheckHandler(checks map[string]func(context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		results := gin.H{}
		healthy := true
		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = "unhealthy"
				healthy = false
				continue
			}
			results[name] = "healthy"
		}

		if !healthy {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"checks": results,
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"checks": results,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}
