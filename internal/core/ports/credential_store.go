package ports

import (
	"context"

	"github.com/bewithu/dashboard-session/internal/core/domain"
)

// CredentialStore persists the current credential triple. It is passive:
// no business logic, no validation beyond structural presence.
type CredentialStore interface {
	// Read returns nil, nil when no complete credential is stored.
	Read(ctx context.Context) (*domain.Credential, error)
	// Write stores all three parts together.
	Write(ctx context.Context, cred domain.Credential) error
	// Clear removes all three parts together. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}

// CredentialWatcher is implemented by stores that can report changes made by
// other processes sharing the same storage.
type CredentialWatcher interface {
	// Watch emits a value each time the stored credential changes outside
	// this process. The channel is closed when ctx is done.
	Watch(ctx context.Context) (<-chan struct{}, error)
}

// StorePinger is implemented by stores backed by a network service.
type StorePinger interface {
	Ping(ctx context.Context) error
}
