// Package metrics defines and registers the custom Prometheus metrics of the
// dashboard session manager. It is the single source of truth for metric
// names, labels, and help strings.
//
// Metrics are registered with the default registry on package init via
// promauto; the HTTP layer exposes them on /metrics. The session controller
// reaches them only through ports.SessionMetrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bewithu/dashboard-session/internal/core/domain"
	"github.com/bewithu/dashboard-session/internal/core/ports"
)

const namespace = "dashboard_session"

// ── Credential acquisition ────────────────────────────────────────────────────

// LoginsTotal counts login attempts.
// Label:
//   - result: "success", "invalid_credentials", "network_error", "superseded", "error"
var LoginsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "logins_total",
		Help:      "Total number of login attempts, by result.",
	},
	[]string{"result"},
)

// LogoutsTotal counts transitions out of the authenticated state.
// Label:
//   - reason: "logout", "refresh_failed", "session_expired", "external_change"
var LogoutsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "logouts_total",
		Help:      "Total number of sessions ended, by reason.",
	},
	[]string{"reason"},
)

// ── Renewal ───────────────────────────────────────────────────────────────────

// RefreshTotal counts credential renewals.
// Labels:
//   - trigger: "proactive" (scheduler), "reactive" (expired on use), "check" (startup check)
//   - result: "success", "failure", "superseded"
var RefreshTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "refresh_total",
		Help:      "Total number of credential renewals, by trigger and result.",
	},
	[]string{"trigger", "result"},
)

// RefreshDuration measures the wall time of a renewal, gateway call included.
// Label:
//   - trigger: see RefreshTotal
var RefreshDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "refresh_duration_seconds",
		Help:      "Duration of credential renewals.",
		Buckets:   prometheus.DefBuckets, // .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10
	},
	[]string{"trigger"},
)

// ── State ─────────────────────────────────────────────────────────────────────

// SessionAuthenticated is 1 while the session is authenticated, 0 otherwise.
var SessionAuthenticated = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "authenticated",
		Help:      "Whether the dashboard session is currently authenticated.",
	},
)

// GuardDecisionsTotal counts route guard verdicts.
// Labels:
//   - verdict: "allowed", "denied", "redirect", "pending"
//   - route: the matched route path (e.g. "/tickets")
var GuardDecisionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "guard_decisions_total",
		Help:      "Total number of route guard decisions, by verdict and route.",
	},
	[]string{"verdict", "route"},
)

// StoreChangesTotal counts credential store changes observed from other processes.
// Label:
//   - backend: "file", "redis"
var StoreChangesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_external_changes_total",
		Help:      "Total number of credential store changes made by other processes.",
	},
	[]string{"backend"},
)

// SessionRecorder feeds the session controller's outcomes into the
// collectors above.
type SessionRecorder struct{}

var _ ports.SessionMetrics = SessionRecorder{}

func (SessionRecorder) LoginAttempt(result string) {
	LoginsTotal.WithLabelValues(result).Inc()
}

func (SessionRecorder) SessionEnded(reason domain.TransitionReason) {
	LogoutsTotal.WithLabelValues(string(reason)).Inc()
}

func (SessionRecorder) RefreshAttempt(trigger, result string, took time.Duration) {
	RefreshTotal.WithLabelValues(trigger, result).Inc()
	RefreshDuration.WithLabelValues(trigger).Observe(took.Seconds())
}

func (SessionRecorder) Authenticated(authenticated bool) {
	if authenticated {
		SessionAuthenticated.Set(1)
		return
	}
	SessionAuthenticated.Set(0)
}
