package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/bewithu/dashboard-session/internal/api/middleware"
	"github.com/bewithu/dashboard-session/internal/core/domain"
)

// ctxIdentity extracts the identity from the snapshot injected by
// LoadSession. Handlers behind RequireRole always find one; the check is a
// fast-fail for routes wired without the guard.
func ctxIdentity(c echo.Context) (*domain.Identity, error) {
	snap, ok := middleware.SessionFrom(c)
	if !ok || !snap.Authenticated() {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	return snap.Identity, nil
}
