package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/bewithu/dashboard-session/internal/api"
	"github.com/bewithu/dashboard-session/internal/api/middleware"
	"github.com/bewithu/dashboard-session/internal/core/ports"
	"github.com/bewithu/dashboard-session/internal/core/service"
	"github.com/bewithu/dashboard-session/internal/infrastructure/relay"
	"github.com/bewithu/dashboard-session/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Aliases: []string{"server"},
		Short:   "Run the dashboard HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s, err := a.openSession(ctx)
	if err != nil {
		return err
	}
	defer s.close(context.WithoutCancel(ctx))

	notice := &middleware.ExpiryNotice{}
	unsubscribe := s.ctrl.Subscribe(notice.Observe)
	defer unsubscribe()

	scheduler := service.NewRefreshScheduler(
		s.ctrl, nil,
		a.cfg.Session.RefreshInterval,
		a.cfg.Session.RefreshWindow,
		logger.Component("refresh_scheduler"),
	)
	unbind := service.BindScheduler(ctx, s.ctrl, scheduler)
	defer unbind()

	if a.cfg.Session.WatchStore {
		if w, ok := s.store.(ports.CredentialWatcher); ok {
			if _, err := relay.New(w, s.ctrl, s.backend, a.log).Start(ctx); err != nil {
				a.log.Warn().Err(err).Msg("credential store changes will not be followed")
			}
		}
	}

	var pinger ports.StorePinger
	if p, ok := s.store.(ports.StorePinger); ok {
		pinger = p
	}

	e := api.NewRouter(api.Deps{
		Session:      s.ctrl,
		Notice:       notice,
		StoreBackend: s.backend,
		StorePinger:  pinger,
		Log:          logger.Component("http"),
	})

	go s.ctrl.CheckAuth(ctx)

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		a.log.Info().Str("port", a.cfg.Port).Str("store", s.backend).Msg("dashboard listening")
		if err := e.Start(":" + a.cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.log.Info().Msg("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancelShutdown()
	return e.Shutdown(shutdownCtx)
}
