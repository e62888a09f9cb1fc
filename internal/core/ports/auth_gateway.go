package ports

import (
	"context"

	"github.com/bewithu/dashboard-session/internal/core/domain"
)

// AuthGateway is the remote authority that issues, renews and revokes
// credentials. Implementations translate transport failures into the domain
// sentinels (ErrInvalidCredentials, ErrNetwork, ErrTokenExpired,
// ErrRefreshRejected, ErrValidation).
type AuthGateway interface {
	Login(ctx context.Context, username, password string, rememberMe bool) (*domain.AuthResult, error)
	// Logout revokes the given access token. accessToken may be empty.
	Logout(ctx context.Context, accessToken string) error
	Refresh(ctx context.Context, refreshToken string) (*domain.AuthResult, error)
	CurrentUser(ctx context.Context, accessToken string) (*domain.Identity, error)
	UpdateProfile(ctx context.Context, accessToken string, update domain.ProfileUpdate) (*domain.Identity, error)
}
