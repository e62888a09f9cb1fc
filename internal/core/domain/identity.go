package domain

import (
	"fmt"
	"strings"
	"time"
)

// Role is the access level of an authenticated principal.
type Role string

const (
	RoleUser    Role = "user"
	RoleSupport Role = "support"
	RoleAdmin   Role = "admin"
)

// roleLevels is the fixed hierarchy user < support < admin.
var roleLevels = map[Role]int{
	RoleUser:    0,
	RoleSupport: 1,
	RoleAdmin:   2,
}

// ParseRole converts a wire value into a Role. Unknown values are rejected.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := roleLevels[r]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
	return r, nil
}

// Valid reports whether r is one of the defined roles.
func (r Role) Valid() bool {
	_, ok := roleLevels[r]
	return ok
}

// Level returns the position of r in the hierarchy, or -1 for unknown roles.
func (r Role) Level() int {
	lvl, ok := roleLevels[r]
	if !ok {
		return -1
	}
	return lvl
}

// AtLeast reports whether r ranks at or above required.
// An unknown role never satisfies anything.
func (r Role) AtLeast(required Role) bool {
	if !r.Valid() || !required.Valid() {
		return false
	}
	return r.Level() >= required.Level()
}

// Language is the preferred UI language of an identity.
type Language string

const (
	LanguageJapanese Language = "ja"
	LanguageChinese  Language = "zh"
	LanguageEnglish  Language = "en"
)

// Valid reports whether l is a supported language.
func (l Language) Valid() bool {
	switch l {
	case LanguageJapanese, LanguageChinese, LanguageEnglish:
		return true
	}
	return false
}

// Identity models the authenticated principal as confirmed by the auth server.
type Identity struct {
	ID          string     `json:"id" validate:"required"`
	Username    string     `json:"username" validate:"required"`
	Email       string     `json:"email" validate:"omitempty,email"`
	DisplayName string     `json:"display_name"`
	Role        Role       `json:"role" validate:"required,oneof=user support admin"`
	Language    Language   `json:"language" validate:"omitempty,oneof=ja zh en"`
	IsActive    bool       `json:"is_active"`
	AvatarURL   string     `json:"avatar_url,omitempty"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Clone returns a deep copy so callers never share the controller's value.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	if i.LastLoginAt != nil {
		t := *i.LastLoginAt
		c.LastLoginAt = &t
	}
	return &c
}

// ProfileUpdate carries a partial identity update. Nil fields are left untouched.
type ProfileUpdate struct {
	DisplayName *string   `json:"display_name,omitempty"`
	Email       *string   `json:"email,omitempty" validate:"omitempty,email"`
	Language    *Language `json:"language,omitempty" validate:"omitempty,oneof=ja zh en"`
}

// Empty reports whether the update carries no fields.
func (p ProfileUpdate) Empty() bool {
	return p.DisplayName == nil && p.Email == nil && p.Language == nil
}
