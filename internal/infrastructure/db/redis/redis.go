package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const defaultTimeout = 5 * time.Second

// Config describes the redis instance holding the shared session.
type Config struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces the credential keys and the change channel, so
	// several dashboards can share one instance. Empty means "bewithU".
	Prefix  string
	Timeout time.Duration
}

// Connect dials redis and pings it once. Timeout bounds dialing, each
// command and the ping; it defaults to five seconds.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// Open connects and returns a credential store that owns the client; Close
// releases it.
func Open(ctx context.Context, cfg Config, log zerolog.Logger) (*CredentialStore, error) {
	client, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := NewCredentialStore(client, cfg.Prefix, log)
	s.ownsClient = true
	return s, nil
}
