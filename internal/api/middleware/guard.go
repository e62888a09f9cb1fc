package middleware

import (
	"net/http"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"

	"github.com/bewithu/dashboard-session/internal/core/domain"
	"github.com/bewithu/dashboard-session/internal/core/service"
	"github.com/bewithu/dashboard-session/internal/infrastructure/metrics"
)

// pendingRetryAfter is sent with 503 while the first auth check runs.
const pendingRetryAfter = "1"

// RequireRole guards a screen. An empty role admits any authenticated
// identity. The decision is taken from the snapshot injected by LoadSession:
//
//	pending  → 503 with Retry-After
//	redirect → 302 to /login?from=<requested location>
//	denied   → 403
func RequireRole(required domain.Role, notice *ExpiryNotice) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			snap, ok := SessionFrom(c)
			if !ok {
				return echo.NewHTTPError(http.StatusInternalServerError, "session not loaded")
			}

			d := service.Evaluate(snap, required, c.Request().URL.RequestURI())
			metrics.GuardDecisionsTotal.WithLabelValues(string(d.Verdict), c.Path()).Inc()

			switch d.Verdict {
			case service.VerdictPending:
				c.Response().Header().Set(echo.HeaderRetryAfter, pendingRetryAfter)
				return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "session is loading"})
			case service.VerdictRedirect:
				location := d.Location()
				if notice != nil && notice.Consume() {
					location = withExpiredReason(location)
				}
				return c.Redirect(http.StatusFound, location)
			case service.VerdictDenied:
				return c.JSON(http.StatusForbidden, map[string]string{"error": d.Reason})
			}
			return next(c)
		}
	}
}

func withExpiredReason(location string) string {
	if strings.Contains(location, "?") {
		return location + "&reason=expired"
	}
	return location + "?reason=expired"
}

// ExpiryNotice remembers that the session was lost involuntarily so the next
// redirect to the login screen can say so. It is fed by session transitions.
type ExpiryNotice struct {
	mu      sync.Mutex
	pending bool
}

// Observe is a transition listener.
func (n *ExpiryNotice) Observe(t domain.Transition) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pending = !t.Authenticated && t.Reason.Forced()
}

// Consume reports whether a forced logout is unreported, and clears it.
func (n *ExpiryNotice) Consume() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	p := n.pending
	n.pending = false
	return p
}
