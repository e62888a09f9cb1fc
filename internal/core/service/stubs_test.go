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

// ---------------------------------------------------------------------------
// Stubs
// ---------------------------------------------------------------------------

type stubGateway struct {
	mu sync.Mutex

	loginFn   func(ctx context.Context, username, password string, rememberMe bool) (*domain.AuthResult, error)
	logoutFn  func(ctx context.Context, token string) error
	refreshFn func(ctx context.Context, refreshToken string) (*domain.AuthResult, error)
	currentFn func(ctx context.Context, token string) (*domain.Identity, error)
	profileFn func(ctx context.Context, token string, update domain.ProfileUpdate) (*domain.Identity, error)

	logoutTokens []string
	refreshCalls int
	currentCalls int
}

func (g *stubGateway) Login(ctx context.Context, username, password string, rememberMe bool) (*domain.AuthResult, error) {
	return g.loginFn(ctx, username, password, rememberMe)
}

func (g *stubGateway) Logout(ctx context.Context, token string) error {
	g.mu.Lock()
	g.logoutTokens = append(g.logoutTokens, token)
	g.mu.Unlock()
	if g.logoutFn == nil {
		return nil
	}
	return g.logoutFn(ctx, token)
}

func (g *stubGateway) Refresh(ctx context.Context, refreshToken string) (*domain.AuthResult, error) {
	g.mu.Lock()
	g.refreshCalls++
	g.mu.Unlock()
	return g.refreshFn(ctx, refreshToken)
}

func (g *stubGateway) CurrentUser(ctx context.Context, token string) (*domain.Identity, error) {
	g.mu.Lock()
	g.currentCalls++
	g.mu.Unlock()
	return g.currentFn(ctx, token)
}

func (g *stubGateway) UpdateProfile(ctx context.Context, token string, update domain.ProfileUpdate) (*domain.Identity, error) {
	return g.profileFn(ctx, token, update)
}

func (g *stubGateway) refreshCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.refreshCalls
}

func (g *stubGateway) currentCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.currentCalls
}

func (g *stubGateway) logouts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.logoutTokens...)
}

type stubStore struct {
	mu       sync.Mutex
	cred     *domain.Credential
	writeErr error
	readErr  error
	writes   int
	clears   int
}

func (s *stubStore) Read(_ context.Context) (*domain.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	if !s.cred.Complete() {
		return nil, nil
	}
	return s.cred.Clone(), nil
}

func (s *stubStore) Write(_ context.Context, c domain.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.writes++
	s.cred = c.Clone()
	return nil
}

func (s *stubStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears++
	s.cred = nil
	return nil
}

func (s *stubStore) stored() *domain.Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cred.Clone()
}

// readHookStore runs afterRead once, after a read has completed.
type readHookStore struct {
	*stubStore
	afterRead func()
}

func (s *readHookStore) Read(ctx context.Context) (*domain.Credential, error) {
	cred, err := s.stubStore.Read(ctx)
	if hook := s.afterRead; hook != nil {
		s.afterRead = nil
		hook()
	}
	return cred, err
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

var errBoom = errors.New("boom")

func adminIdentity() *domain.Identity {
	return &domain.Identity{
		ID:          "1",
		Username:    "admin",
		Email:       "admin@bewithu.local",
		DisplayName: "Administrator",
		Role:        domain.RoleAdmin,
		Language:    domain.LanguageJapanese,
		IsActive:    true,
	}
}

func userIdentity() *domain.Identity {
	return &domain.Identity{ID: "2", Username: "taro", Role: domain.RoleUser, IsActive: true}
}

func credentialAt(suffix string, expiresAt time.Time) domain.Credential {
	return domain.Credential{
		AccessToken:  "access-" + suffix,
		RefreshToken: "refresh-" + suffix,
		ExpiresAt:    expiresAt,
	}
}

// newGatewayFor returns a gateway that accepts admin/admin123 and issues a
// one-hour credential.
func newGatewayFor(clock *fakeClock) *stubGateway {
	return &stubGateway{
		loginFn: func(_ context.Context, username, password string, _ bool) (*domain.AuthResult, error) {
			if username != "admin" || password != "admin123" {
				return nil, domain.ErrInvalidCredentials
			}
			return &domain.AuthResult{
				Identity:   adminIdentity(),
				Credential: credentialAt("1", clock.Now().Add(time.Hour)),
			}, nil
		},
		refreshFn: func(_ context.Context, _ string) (*domain.AuthResult, error) {
			return &domain.AuthResult{
				Identity:   adminIdentity(),
				Credential: credentialAt("2", clock.Now().Add(time.Hour)),
			}, nil
		},
		currentFn: func(_ context.Context, _ string) (*domain.Identity, error) {
			return adminIdentity(), nil
		},
	}
}

func newController(gw *stubGateway, store ports.CredentialStore, clock *fakeClock) *SessionController {
	return NewSessionController(gw, store, clock, time.Second, zerolog.Nop())
}

// metricsRecorder captures lifecycle outcomes.
type metricsRecorder struct {
	mu       sync.Mutex
	logins   []string
	ended    []domain.TransitionReason
	refresh  []string
	authFlag []bool
}

func (m *metricsRecorder) LoginAttempt(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logins = append(m.logins, result)
}

func (m *metricsRecorder) SessionEnded(reason domain.TransitionReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ended = append(m.ended, reason)
}

func (m *metricsRecorder) RefreshAttempt(trigger, result string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh = append(m.refresh, trigger+":"+result)
}

func (m *metricsRecorder) Authenticated(authenticated bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authFlag = append(m.authFlag, authenticated)
}

// recorder collects delivered transitions.
type recorder struct {
	mu  sync.Mutex
	got []domain.Transition
}

func (r *recorder) record(t domain.Transition) {
	r.mu.Lock()
	r.got = append(r.got, t)
	r.mu.Unlock()
}

func (r *recorder) reasons() []domain.TransitionReason {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.TransitionReason, 0, len(r.got))
	for _, t := range r.got {
		out = append(out, t.Reason)
	}
	return out
}
