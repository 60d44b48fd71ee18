// Package telemetry provides application-level observability for the invitation service.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are served on the
// side-channel HTTP server started by main.go:
//
//	GET http://<host>:<HUDDLE_TELEMETRY_METRICS_PORT>/metrics
//
// Default port: 9090. The endpoint is not served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Invitation lifecycle counters (sent, skipped, accepted, no-op transitions)
//   - Directory provider failures, split into expected conflicts and unknown failures
//   - Outbox relay throughput and errors
//   - Database connection pool gauge (polled every 30 s)
//
// # Usage
//
//	telemetry.InvitationsSentTotal.Add(float64(len(sent)))
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template and status code.
//
// The path label holds the Gin route template (e.g. /api/v1/workspaces/:workspace_id/invitations),
// NOT the raw URL, so workspace and invitation ids do not explode label cardinality.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Invitation lifecycle metrics.
//
// InvitationsSentTotal counts invitations created locally. It does not depend on the
// directory send succeeding; see DirectoryFailuresTotal for that.
//
// InvitationsSkippedTotal is labelled by {reason}: "already_member" or "pending_invitation".
//
// InvitationNoopTransitionsTotal is labelled by {transition}: "accept" or "revoke". It counts
// conditional updates that found the invitation already resolved, which is the expected
// outcome for the losers of a race.
//
// Example PromQL queries:
//   - Acceptance ratio (7d):  increase(invitations_accepted_total[7d]) / increase(invitations_sent_total[7d])
//   - Race losers:            rate(invitation_noop_transitions_total[5m])
var (
	InvitationsSentTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "invitations_sent_total",
			Help: "Total number of invitations created.",
		},
	)

	InvitationsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invitations_skipped_total",
			Help: "Total number of invitation requests skipped, by reason.",
		},
		[]string{"reason"},
	)

	InvitationsAcceptedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "invitations_accepted_total",
			Help: "Total number of invitations accepted.",
		},
	)

	InvitationNoopTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invitation_noop_transitions_total",
			Help: "Total number of invitation transitions that found the invitation already resolved, by transition.",
		},
		[]string{"transition"},
	)
)

// DirectoryFailuresTotal is labelled by {operation, class}. class is "conflict" for state
// conflicts the provider reports with a known code and "unknown" for everything else.
// Only the unknown class warrants an alert.
//
// Example PromQL queries:
//   - Alert expression:  increase(directory_failures_total{class="unknown"}[15m]) > 5
var DirectoryFailuresTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "directory_failures_total",
		Help: "Total number of failed directory provider calls, by operation and failure class.",
	},
	[]string{"operation", "class"},
)

// Outbox relay metrics.
//
// OutboxEventsRelayedTotal is labelled by {event_type}. Delivery is at-least-once, so a
// relay restart can count an event twice.
//
// OutboxRelayErrorsTotal counts relay batches that failed to publish or to advance the cursor.
var (
	OutboxEventsRelayedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_events_relayed_total",
			Help: "Total number of outbox events published by the relay, by event type.",
		},
		[]string{"event_type"},
	)

	OutboxRelayErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "outbox_relay_errors_total",
			Help: "Total number of failed outbox relay batches.",
		},
	)
)

// DBOpenConnections tracks the number of open connections held by the sql.DB pool. It is
// sampled every 30 seconds by StartDBStatsCollector.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector samples sql.DB pool statistics every 30 seconds. The goroutine exits
// when the database becomes unreachable, which happens on shutdown once db.Close() runs.
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
