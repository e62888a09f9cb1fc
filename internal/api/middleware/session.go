package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/bewithu/dashboard-session/internal/core/domain"
)

const sessionKey = "session"

// snapshotSource is satisfied by the session controller.
type snapshotSource interface {
	Snapshot() domain.SessionSnapshot
}

// LoadSession takes one snapshot of the session per request and injects it
// into the context, so every decision in the request sees the same state.
func LoadSession(src snapshotSource) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(sessionKey, src.Snapshot())
			return next(c)
		}
	}
}

// SessionFrom returns the snapshot injected by LoadSession.
func SessionFrom(c echo.Context) (domain.SessionSnapshot, bool) {
	s, ok := c.Get(sessionKey).(domain.SessionSnapshot)
	return s, ok
}
