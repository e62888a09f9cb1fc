package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bewithu/dashboard-session/internal/core/domain"
	"github.com/bewithu/dashboard-session/internal/core/ports"
)

const (
	defaultRefreshInterval = time.Minute
	defaultRefreshWindow   = 5 * time.Minute
)

// proactiveRefresher is the slice of SessionController the scheduler drives.
type proactiveRefresher interface {
	Snapshot() domain.SessionSnapshot
	RefreshProactive(ctx context.Context) error
}

// RefreshScheduler periodically renews a credential that is about to expire.
// It checks once on Start and then every interval until Stop.
type RefreshScheduler struct {
	session  proactiveRefresher
	clock    ports.Clock
	interval time.Duration
	window   time.Duration
	log      zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewRefreshScheduler returns a stopped scheduler. Non-positive interval and
// window fall back to one minute and five minutes.
func NewRefreshScheduler(
	session proactiveRefresher,
	clock ports.Clock,
	interval, window time.Duration,
	log zerolog.Logger,
) *RefreshScheduler {
	if clock == nil {
		clock = SystemClock{}
	}
	if interval <= 0 {
		interval = defaultRefreshInterval
	}
	if window <= 0 {
		window = defaultRefreshWindow
	}
	return &RefreshScheduler{
		session:  session,
		clock:    clock,
		interval: interval,
		window:   window,
		log:      log.With().Str("component", "refresh_scheduler").Logger(),
	}
}

// Start launches the ticker goroutine. Calling Start on a running scheduler
// is a no-op. The goroutine also exits when ctx is cancelled.
func (s *RefreshScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.run(runCtx)
	s.log.Debug().Dur("interval", s.interval).Dur("window", s.window).Msg("refresh scheduler started")
}

// Stop cancels the ticker. It does not wait for an in-flight tick, so it is
// safe to call from a transition listener running on the ticker goroutine.
func (s *RefreshScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel = nil
	s.log.Debug().Msg("refresh scheduler stopped")
}

// Running reports whether the scheduler has been started and not stopped.
func (s *RefreshScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *RefreshScheduler) run(ctx context.Context) {
	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick renews the credential when 0 < remaining <= window.
func (s *RefreshScheduler) tick(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	snap := s.session.Snapshot()
	if !snap.Authenticated() {
		return false
	}

	remaining := snap.Credential.Remaining(s.clock.Now())
	if remaining <= 0 || remaining > s.window {
		return false
	}

	s.log.Debug().Dur("remaining", remaining).Msg("credential close to expiry, renewing")
	err := s.session.RefreshProactive(ctx)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrSessionSuperseded), errors.Is(err, domain.ErrNotAuthenticated), ctx.Err() != nil:
		s.log.Debug().Err(err).Msg("proactive refresh abandoned")
	default:
		s.log.Warn().Err(err).Msg("proactive refresh failed, session logged out")
	}
	return true
}

// BindScheduler keeps the scheduler running exactly while the session is
// authenticated. The returned function unbinds and stops the scheduler.
func BindScheduler(ctx context.Context, ctrl *SessionController, sched *RefreshScheduler) (unbind func()) {
	unsubscribe := ctrl.Subscribe(func(t domain.Transition) {
		if t.Authenticated {
			sched.Start(ctx)
			return
		}
		sched.Stop()
	})
	if ctrl.IsAuthenticated() {
		sched.Start(ctx)
	}
	return func() {
		unsubscribe()
		sched.Stop()
	}
}
