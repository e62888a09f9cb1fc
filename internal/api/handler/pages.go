package handler

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/bewithu/dashboard-session/internal/api/middleware"
	"github.com/bewithu/dashboard-session/internal/core/domain"
)

const homePath = "/dashboard"

// Screen is a protected dashboard page and the minimum role it requires.
type Screen struct {
	Path  string
	Name  string
	Title string
	Role  domain.Role
}

// Screens lists the dashboard pages. Any authenticated identity may open
// the general screens; the support queues need support and system settings
// need admin.
var Screens = []Screen{
	{Path: "/dashboard", Name: "dashboard", Title: "Dashboard"},
	{Path: "/chat", Name: "chat", Title: "Chat"},
	{Path: "/tickets", Name: "tickets", Title: "Tickets", Role: domain.RoleSupport},
	{Path: "/knowledge", Name: "knowledge", Title: "Knowledge Base", Role: domain.RoleSupport},
	{Path: "/settings", Name: "settings", Title: "Settings"},
	{Path: "/settings/system", Name: "system_settings", Title: "System Settings", Role: domain.RoleAdmin},
}

type PagesHandler struct{}

func NewPagesHandler() *PagesHandler {
	return &PagesHandler{}
}

type screenResponse struct {
	Screen string           `json:"screen"`
	Title  string           `json:"title"`
	User   *domain.Identity `json:"user"`
}

type loginScreenResponse struct {
	Screen string `json:"screen"`
	From   string `json:"from,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Render returns the handler for one screen. It runs behind RequireRole.
func (h *PagesHandler) Render(s Screen) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := ctxIdentity(c)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, screenResponse{Screen: s.Name, Title: s.Title, User: user})
	}
}

// Home sends / and unknown screens to the dashboard.
func (h *PagesHandler) Home(c echo.Context) error {
	return c.Redirect(http.StatusFound, homePath)
}

// Login renders the login screen. An authenticated visitor is sent back to
// where they came from.
func (h *PagesHandler) Login(c echo.Context) error {
	from := safeReturnPath(c.QueryParam("from"))

	if snap, ok := middleware.SessionFrom(c); ok && !snap.Loading && snap.Authenticated() {
		if from == "" {
			from = homePath
		}
		return c.Redirect(http.StatusFound, from)
	}

	return c.JSON(http.StatusOK, loginScreenResponse{
		Screen: "login",
		From:   from,
		Reason: c.QueryParam("reason"),
	})
}

// safeReturnPath keeps only local absolute paths. Browsers treat a
// backslash like a slash, so "/\host" is as external as "//host"; both the
// raw and the percent-decoded forms are checked.
func safeReturnPath(p string) string {
	decoded, err := url.PathUnescape(p)
	if err != nil {
		return ""
	}
	for _, candidate := range []string{p, decoded} {
		if !strings.HasPrefix(candidate, "/") ||
			strings.HasPrefix(candidate, "//") ||
			strings.ContainsAny(candidate, "\\\r\n\t") {
			return ""
		}
	}
	u, err := url.Parse(p)
	if err != nil || u.IsAbs() || u.Host != "" {
		return ""
	}
	return p
}
