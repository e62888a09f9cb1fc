package httpgateway

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/bewithu/dashboard-session/internal/core/domain"
)

type loginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// authResponse is returned by /auth/login and /auth/refresh. Refresh omits
// user and refreshToken.
type authResponse struct {
	User         *wireUser `json:"user"`
	Token        string    `json:"token"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    string    `json:"expiresAt"`
}

type userResponse struct {
	User *wireUser `json:"user"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (e *errorResponse) text() string {
	if e == nil {
		return ""
	}
	if e.Error != "" {
		return e.Error
	}
	return e.Message
}

// wireUser is the user object as the API serialises it: numeric ids and
// timestamps that may lack a zone.
type wireUser struct {
	ID          flexID  `json:"id"`
	Username    string  `json:"username"`
	Email       string  `json:"email"`
	DisplayName string  `json:"display_name"`
	Role        string  `json:"role"`
	Language    string  `json:"language"`
	IsActive    bool    `json:"is_active"`
	AvatarURL   *string `json:"avatar_url"`
	LastLoginAt *string `json:"last_login_at"`
	CreatedAt   *string `json:"created_at"`
	UpdatedAt   *string `json:"updated_at"`
}

func (u *wireUser) toIdentity() *domain.Identity {
	id := &domain.Identity{
		ID:          string(u.ID),
		Username:    u.Username,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Role:        domain.Role(strings.ToLower(strings.TrimSpace(u.Role))),
		Language:    domain.Language(u.Language),
		IsActive:    u.IsActive,
		CreatedAt:   parseTimestamp(u.CreatedAt),
		UpdatedAt:   parseTimestamp(u.UpdatedAt),
	}
	if u.AvatarURL != nil {
		id.AvatarURL = *u.AvatarURL
	}
	if t := parseTimestamp(u.LastLoginAt); !t.IsZero() {
		id.LastLoginAt = &t
	}
	return id
}

// flexID accepts a JSON string or number.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

func parseTimestamp(s *string) time.Time {
	if s == nil {
		return time.Time{}
	}
	t, err := parseExpiry(*s)
	if err != nil {
		return time.Time{}
	}
	return t
}
