package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/bewithu/dashboard-session/internal/core/domain"
	"github.com/bewithu/dashboard-session/internal/core/ports"
)

type SessionHandler struct {
	session ports.SessionService
}

func NewSessionHandler(session ports.SessionService) *SessionHandler {
	return &SessionHandler{session: session}
}

type loginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

type profileRequest struct {
	DisplayName *string `json:"display_name,omitempty" validate:"omitempty,max=100"`
	Email       *string `json:"email,omitempty" validate:"omitempty,email"`
	Language    *string `json:"language,omitempty" validate:"omitempty,oneof=ja zh en"`
}

// sessionResponse never carries tokens.
type sessionResponse struct {
	Authenticated bool             `json:"authenticated"`
	Phase         domain.Phase     `json:"phase"`
	Loading       bool             `json:"loading"`
	Refreshing    bool             `json:"refreshing"`
	User          *domain.Identity `json:"user,omitempty"`
	ExpiresAt     *time.Time       `json:"expires_at,omitempty"`
}

type userResponse struct {
	User *domain.Identity `json:"user"`
}

func toSessionResponse(s domain.SessionSnapshot) sessionResponse {
	resp := sessionResponse{
		Authenticated: s.Authenticated(),
		Phase:         s.Phase(),
		Loading:       s.Loading,
		Refreshing:    s.Refreshing,
	}
	if resp.Authenticated {
		resp.User = s.Identity
		exp := s.Credential.ExpiresAt
		resp.ExpiresAt = &exp
	}
	return resp
}

// Login authenticates and starts a session.
//
// @Summary      Login
// @Tags         session
// @Accept       json
// @Produce      json
// @Param        body  body      loginRequest  true  "Username or email, password"
// @Success      200   {object}  sessionResponse
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      502   {object}  map[string]string
// @Router       /api/session/login [post]
func (h *SessionHandler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid payload"})
	}

	if _, err := h.session.Login(c.Request().Context(), req.Username, req.Password, req.RememberMe); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toSessionResponse(h.session.Snapshot()))
}

// Logout ends the session. It succeeds even when no session exists.
//
// @Summary      Logout
// @Tags         session
// @Success      204
// @Failure      500   {object}  map[string]string
// @Router       /api/session/logout [post]
func (h *SessionHandler) Logout(c echo.Context) error {
	if err := h.session.Logout(c.Request().Context()); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Status reports the current session.
//
// @Summary      Session status
// @Tags         session
// @Produce      json
// @Success      200   {object}  sessionResponse
// @Router       /api/session [get]
func (h *SessionHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, toSessionResponse(h.session.Snapshot()))
}

// Check re-validates the stored credential against the auth server.
//
// @Summary      Re-check the stored session
// @Tags         session
// @Produce      json
// @Success      200   {object}  sessionResponse
// @Router       /api/session/check [post]
func (h *SessionHandler) Check(c echo.Context) error {
	h.session.CheckAuth(c.Request().Context())
	return c.JSON(http.StatusOK, toSessionResponse(h.session.Snapshot()))
}

// UpdateProfile changes display name, email or language.
//
// @Summary      Update profile
// @Tags         session
// @Accept       json
// @Produce      json
// @Param        body  body      profileRequest  true  "Fields to change"
// @Success      200   {object}  userResponse
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      422   {object}  map[string]string
// @Router       /api/session/profile [put]
func (h *SessionHandler) UpdateProfile(c echo.Context) error {
	var req profileRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid payload"})
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	update := domain.ProfileUpdate{DisplayName: req.DisplayName, Email: req.Email}
	if req.Language != nil {
		lang := domain.Language(*req.Language)
		update.Language = &lang
	}

	user, err := h.session.UpdateProfile(c.Request().Context(), update)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, userResponse{User: user})
}
