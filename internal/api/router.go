package api

import (
	"net/http"
	"sync"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	echoSwagger "github.com/swaggo/echo-swagger"

	_ "github.com/bewithu/dashboard-session/docs"
	"github.com/bewithu/dashboard-session/internal/api/handler"
	"github.com/bewithu/dashboard-session/internal/api/middleware"
	"github.com/bewithu/dashboard-session/internal/core/ports"
)

// Deps are the collaborators the HTTP surface needs.
type Deps struct {
	Session ports.SessionService
	// Notice marks redirects that follow a forced logout. Optional.
	Notice *middleware.ExpiryNotice
	// StoreBackend names the credential store in readiness output.
	StoreBackend string
	// StorePinger is nil for stores without a network dependency.
	StorePinger ports.StorePinger
	Log         zerolog.Logger
}

// NewRouter builds and returns the Echo instance with all routes registered.
func NewRouter(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = NewHTTPErrorHandler(d.Log)
	e.Validator = handler.NewValidator()

	// --- Global middleware ---
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestID())
	e.Use(requestLogger(d.Log))
	e.Use(httpMetrics())

	// --- Observability (no session required) ---
	healthHandler := handler.NewHealthHandler()
	readinessHandler := handler.NewReadinessHandler(d.StoreBackend, d.StorePinger, d.Session)

	e.GET("/health", healthHandler.Liveness)
	e.GET("/health/ready", readinessHandler.Readiness) // store reachable and first check done
	e.GET("/metrics", echoprometheus.NewHandler())
	e.GET("/swagger/*", echoSwagger.WrapHandler)

	// --- Session API ---
	sessionHandler := handler.NewSessionHandler(d.Session)
	sessions := e.Group("/api/session")
	sessions.GET("", sessionHandler.Status)
	sessions.POST("/login", sessionHandler.Login)
	sessions.POST("/logout", sessionHandler.Logout)
	sessions.POST("/check", sessionHandler.Check)
	sessions.PUT("/profile", sessionHandler.UpdateProfile)
	e.RouteNotFound("/api/*", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	})

	// --- Dashboard screens ---
	pages := handler.NewPagesHandler()
	loadSession := middleware.LoadSession(d.Session)
	e.GET("/login", pages.Login, loadSession)
	e.GET("/", pages.Home)
	for _, s := range handler.Screens {
		e.GET(s.Path, pages.Render(s), loadSession, middleware.RequireRole(s.Role, d.Notice))
	}
	e.RouteNotFound("/*", pages.Home)

	return e
}

// httpMetrics registers the collectors once per process.
var httpMetrics = sync.OnceValue(func() echo.MiddlewareFunc {
	return echoprometheus.NewMiddleware("dashboard_http")
})

func requestLogger(log zerolog.Logger) echo.MiddlewareFunc {
	return echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			ev := log.Info()
			if v.Error != nil {
				ev = log.Warn().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Msg("request")
			return nil
		},
	})
}
