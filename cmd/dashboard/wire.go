package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/bewithu/dashboard-session/internal/core/ports"
	"github.com/bewithu/dashboard-session/internal/core/service"
	mongostore "github.com/bewithu/dashboard-session/internal/infrastructure/db/mongo"
	redisstore "github.com/bewithu/dashboard-session/internal/infrastructure/db/redis"
	"github.com/bewithu/dashboard-session/internal/infrastructure/filestore"
	"github.com/bewithu/dashboard-session/internal/infrastructure/gateway/demo"
	"github.com/bewithu/dashboard-session/internal/infrastructure/gateway/httpgateway"
	"github.com/bewithu/dashboard-session/internal/infrastructure/memstore"
	"github.com/bewithu/dashboard-session/internal/infrastructure/metrics"
	"github.com/bewithu/dashboard-session/internal/pkg/config"
	"github.com/bewithu/dashboard-session/pkg/logger"
)

// connectBackoff bounds the boot-time connection attempts to redis and mongo.
var connectBackoff = func() retry.Backoff {
	return retry.WithMaxRetries(3, retry.NewExponential(time.Second))
}

// session is a wired controller plus the resources behind it.
type session struct {
	ctrl    *service.SessionController
	store   ports.CredentialStore
	backend string
	closers []func(context.Context)
}

func (s *session) close(ctx context.Context) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i](ctx)
	}
}

func (a *app) openSession(ctx context.Context) (*session, error) {
	s := &session{backend: a.cfg.Session.Store}

	store, err := a.openStore(ctx, s)
	if err != nil {
		return nil, err
	}
	gateway, err := a.openGateway()
	if err != nil {
		s.close(ctx)
		return nil, err
	}

	s.store = store
	s.ctrl = service.NewSessionController(
		gateway, store, nil,
		a.cfg.Session.RefreshTimeout,
		a.log,
		service.WithMetrics(metrics.SessionRecorder{}),
	)
	return s, nil
}

func (a *app) openStore(ctx context.Context, s *session) (ports.CredentialStore, error) {
	cfg := a.cfg
	switch cfg.Session.Store {
	case config.StoreMemory:
		a.log.Warn().Msg("memory credential store: the session is lost when the process exits")
		return memstore.New(), nil

	case config.StoreRedis:
		var store *redisstore.CredentialStore
		err := retry.Do(ctx, connectBackoff(), func(ctx context.Context) error {
			var err error
			store, err = redisstore.Open(ctx, redisstore.Config{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
				Prefix:   cfg.Redis.Prefix,
			}, logger.Component("redis_store"))
			if err != nil {
				a.log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis not reachable, retrying")
				return retry.RetryableError(err)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		s.closers = append(s.closers, func(context.Context) { _ = store.Close() })
		return store, nil

	case config.StoreMongo:
		var store *mongostore.CredentialStore
		err := retry.Do(ctx, connectBackoff(), func(ctx context.Context) error {
			var err error
			store, err = mongostore.Open(ctx, mongostore.Config{
				URI:      cfg.Mongo.URI,
				Database: cfg.Mongo.Database,
				Profile:  cfg.Mongo.Profile,
			})
			if err != nil {
				a.log.Warn().Err(err).Msg("mongo not reachable, retrying")
				return retry.RetryableError(err)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		s.closers = append(s.closers, func(ctx context.Context) {
			if err := store.Close(ctx); err != nil {
				a.log.Warn().Err(err).Msg("mongo disconnect failed")
			}
		})
		return store, nil

	default:
		return filestore.New(filestore.Config{
			Path:   cfg.Session.File,
			Secret: cfg.Session.StoreKey,
		}, logger.Component("file_store"))
	}
}

func (a *app) openGateway() (ports.AuthGateway, error) {
	if a.cfg.Auth.Gateway == config.GatewayDemo {
		a.log.Warn().Msg("using the in-process demo auth gateway")
		return demo.New(a.cfg.Auth.DemoJWTSecret, nil)
	}
	return httpgateway.New(httpgateway.Config{
		BaseURL: a.cfg.Auth.APIURL,
		Timeout: a.cfg.Auth.HTTPTimeout,
	}, logger.Component("auth_gateway")), nil
}
