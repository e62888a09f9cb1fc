package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/bewithu/dashboard-session/internal/core/domain"
)

const defaultPrefix = "bewithU"

// CredentialStore keeps the credential triple under three keys and announces
// every change on a pub/sub channel so other processes sharing the prefix can
// resync.
//
// Key format: <prefix>:access-token, <prefix>:refresh-token, <prefix>:expires-at
// Channel:    <prefix>:changes (payload is the writer's instance id)
type CredentialStore struct {
	client     *redis.Client
	prefix     string
	instanceID string
	ownsClient bool
	log        zerolog.Logger
}

// NewCredentialStore wraps client. An empty prefix falls back to "bewithU".
func NewCredentialStore(client *redis.Client, prefix string, log zerolog.Logger) *CredentialStore {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &CredentialStore{
		client:     client,
		prefix:     prefix,
		instanceID: uuid.NewString(),
		log:        log.With().Str("component", "redis_credential_store").Logger(),
	}
}

// Close releases the client when the store was created by Open.
func (s *CredentialStore) Close() error {
	if !s.ownsClient {
		return nil
	}
	return s.client.Close()
}

func (s *CredentialStore) Read(ctx context.Context) (*domain.Credential, error) {
	vals, err := s.client.MGet(ctx, s.keys()...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis read credential: %w", err)
	}

	parts := make([]string, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok || str == "" {
			return nil, nil
		}
		parts[i] = str
	}

	exp, err := time.Parse(time.RFC3339Nano, parts[2])
	if err != nil {
		return nil, fmt.Errorf("redis read credential: expires-at: %w", err)
	}
	return &domain.Credential{
		AccessToken:  parts[0],
		RefreshToken: parts[1],
		ExpiresAt:    exp,
	}, nil
}

func (s *CredentialStore) Write(ctx context.Context, c domain.Credential) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.MSet(ctx,
			s.key("access-token"), c.AccessToken,
			s.key("refresh-token"), c.RefreshToken,
			s.key("expires-at"), c.ExpiresAt.UTC().Format(time.RFC3339Nano),
		)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis write credential: %w", err)
	}
	s.announce(ctx)
	return nil
}

func (s *CredentialStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.keys()...).Err(); err != nil {
		return fmt.Errorf("redis clear credential: %w", err)
	}
	s.announce(ctx)
	return nil
}

func (s *CredentialStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Watch subscribes to change announcements from other instances. The
// channel is closed when ctx is done or the subscription breaks.
func (s *CredentialStore) Watch(ctx context.Context) (<-chan struct{}, error) {
	sub := s.client.Subscribe(ctx, s.channel())
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				if msg.Payload == s.instanceID {
					continue
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out, nil
}

func (s *CredentialStore) announce(ctx context.Context) {
	err := s.client.Publish(ctx, s.channel(), s.instanceID).Err()
	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn().Err(err).Msg("failed to announce credential change")
	}
}

func (s *CredentialStore) key(name string) string {
	return s.prefix + ":" + name
}

func (s *CredentialStore) keys() []string {
	return []string{s.key("access-token"), s.key("refresh-token"), s.key("expires-at")}
}

func (s *CredentialStore) channel() string {
	return s.prefix + ":changes"
}
