package ports

import (
	"context"

	"github.com/bewithu/dashboard-session/internal/core/domain"
)

// SessionService is the consumer-facing surface of the session controller.
type SessionService interface {
	CurrentIdentity() *domain.Identity
	IsAuthenticated() bool
	IsLoading() bool
	Snapshot() domain.SessionSnapshot
	// Subscribe registers fn for authenticated-flag transitions. fn must not
	// call mutating methods synchronously.
	Subscribe(fn func(domain.Transition)) (unsubscribe func())

	Login(ctx context.Context, username, password string, rememberMe bool) (*domain.Identity, error)
	Logout(ctx context.Context) error
	CheckAuth(ctx context.Context)
	UpdateProfile(ctx context.Context, update domain.ProfileUpdate) (*domain.Identity, error)
	// AccessToken returns a usable access token, renewing it first when expired.
	AccessToken(ctx context.Context) (string, error)
}
