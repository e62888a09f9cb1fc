package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	defaultTimeout = 10 * time.Second
	appName        = "bewithu-dashboard"
)

// Config describes the database holding the session document.
type Config struct {
	URI      string
	Database string
	// Profile selects the credential document, so several dashboards can
	// share one collection. Empty means "default".
	Profile string
	Timeout time.Duration
}

// Connect opens a client and pings the primary. Timeout bounds server
// selection and the initial ping; it defaults to ten seconds.
func Connect(ctx context.Context, cfg Config) (*mongo.Client, *mongo.Database, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	opts := options.Client().
		ApplyURI(cfg.URI).
		SetAppName(appName).
		SetServerSelectionTimeout(timeout)

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, nil, fmt.Errorf("mongo ping: %w", err)
	}
	return client, client.Database(cfg.Database), nil
}

// Open connects and returns a credential store that owns the client; Close
// disconnects it.
func Open(ctx context.Context, cfg Config) (*CredentialStore, error) {
	client, db, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := NewCredentialStore(db, cfg.Profile)
	s.client = client
	return s, nil
}

// Disconnect closes client, bounded by the default timeout.
func Disconnect(ctx context.Context, client *mongo.Client) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultTimeout)
	defer cancel()
	return client.Disconnect(ctx)
}
