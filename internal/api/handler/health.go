package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/bewithu/dashboard-session/internal/core/ports"
)

// HealthHandler handles GET /health, the liveness check. It always
// answers 200 while the process is up.
type HealthHandler struct{}

func NewHealthHandler() *HealthHandler {
	return &HealthHandler{}
}

func (h *HealthHandler) Liveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// ReadinessHandler handles GET /health/ready. It pings the credential store
// backend and reports whether the first auth check has finished.
type ReadinessHandler struct {
	backend string
	store   ports.StorePinger
	session interface{ IsLoading() bool }
}

func NewReadinessHandler(backend string, store ports.StorePinger, session interface{ IsLoading() bool }) *ReadinessHandler {
	return &ReadinessHandler{backend: backend, store: store, session: session}
}

type dependencyStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type readinessResponse struct {
	Status       string                      `json:"status"`
	Dependencies map[string]dependencyStatus `json:"dependencies"`
}

func (h *ReadinessHandler) Readiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	deps := make(map[string]dependencyStatus)
	healthy := true

	// --- Credential store ping ---
	if h.store != nil {
		if err := h.store.Ping(ctx); err != nil {
			deps[h.backend] = dependencyStatus{Status: "unhealthy", Error: err.Error()}
			healthy = false
		} else {
			deps[h.backend] = dependencyStatus{Status: "ok"}
		}
	}

	// --- Initial auth check ---
	if h.session.IsLoading() {
		deps["session"] = dependencyStatus{Status: "loading"}
		healthy = false
	} else {
		deps["session"] = dependencyStatus{Status: "ok"}
	}

	status := "ok"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	return c.JSON(httpStatus, readinessResponse{
		Status:       status,
		Dependencies: deps,
	})
}
