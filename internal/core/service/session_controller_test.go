package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bewithu/dashboard-session/internal/core/domain"
)

// ---------------------------------------------------------------------------
// Login
// ---------------------------------------------------------------------------

func TestSessionController_Login_AdminScenario(t *testing.T) {
	clock := newFakeClock()
	gw := newGatewayFor(clock)
	store := &stubStore{}
	ctrl := newController(gw, store, clock)

	identity, err := ctrl.Login(context.Background(), "admin", "admin123", false)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if identity.Role != domain.RoleAdmin {
		t.Fatalf("expected admin role, got %s", identity.Role)
	}
	if !ctrl.IsAuthenticated() {
		t.Fatalf("expected authenticated session")
	}
	if ctrl.IsLoading() {
		t.Fatalf("login settles the session, loading must be false")
	}
	if got := ctrl.Snapshot().Phase(); got != domain.PhaseAuthenticated {
		t.Fatalf("expected phase authenticated, got %s", got)
	}

	d := Evaluate(ctrl.Snapshot(), domain.RoleAdmin, "/settings/system")
	if d.Verdict != VerdictAllowed {
		t.Fatalf("expected allowed, got %+v", d)
	}
}

func TestSessionController_Login_StoreRoundTrip(t *testing.T) {
	clock := newFakeClock()
	issued := credentialAt("rt", clock.Now().Add(time.Hour))
	gw := newGatewayFor(clock)
	gw.loginFn = func(_ context.Context, _, _ string, _ bool) (*domain.AuthResult, error) {
		return &domain.AuthResult{Identity: userIdentity(), Credential: issued}, nil
	}
	store := &stubStore{}
	ctrl := newController(gw, store, clock)

	if _, err := ctrl.Login(context.Background(), "taro", "pw", true); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if got := store.stored(); !got.Equal(&issued) {
		t.Fatalf("store holds %+v, want %+v", got, issued)
	}

	if err := ctrl.Logout(context.Background()); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	if got := store.stored(); got != nil {
		t.Fatalf("expected empty store after logout, got %+v", got)
	}
}

func TestSessionController_Login_InvalidCredentials(t *testing.T) {
	clock := newFakeClock()
	store := &stubStore{}
	ctrl := newController(newGatewayFor(clock), store, clock)

	_, err := ctrl.Login(context.Background(), "admin", "wrong", false)
	if !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if ctrl.IsAuthenticated() {
		t.Fatalf("failed login must leave the session unauthenticated")
	}
	if store.writes != 0 {
		t.Fatalf("failed login must not write the store")
	}
}

func TestSessionController_Login_EmptyInputNeverReachesGateway(t *testing.T) {
	clock := newFakeClock()
	gw := newGatewayFor(clock)
	gw.loginFn = func(context.Context, string, string, bool) (*domain.AuthResult, error) {
		t.Fatalf("gateway should not be called")
		return nil, nil
	}
	ctrl := newController(gw, &stubStore{}, clock)

	if _, err := ctrl.Login(context.Background(), "", "pw", false); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestSessionController_Login_NetworkErrorPropagates(t *testing.T) {
	clock := newFakeClock()
	gw := newGatewayFor(clock)
	gw.loginFn = func(context.Context, string, string, bool) (*domain.AuthResult, error) {
		return nil, domain.ErrNetwork
	}
	ctrl := newController(gw, &stubStore{}, clock)

	if _, err := ctrl.Login(context.Background(), "admin", "admin123", false); !errors.Is(err, domain.ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
}

func TestSessionController_Login_StoreFailureCommitsNothing(t *testing.T) {
	clock := newFakeClock()
	store := &stubStore{writeErr: errBoom}
	ctrl := newController(newGatewayFor(clock), store, clock)
	rec := &recorder{}
	ctrl.Subscribe(rec.record)

	_, err := ctrl.Login(context.Background(), "admin", "admin123", false)
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if ctrl.IsAuthenticated() || ctrl.CurrentIdentity() != nil {
		t.Fatalf("no in-memory state may be retained after a store failure")
	}
	if len(rec.reasons()) != 0 {
		t.Fatalf("no transition expected, got %v", rec.reasons())
	}
}

func TestSessionController_Login_RejectsUnknownRole(t *testing.T) {
	clock := newFakeClock()
	gw := newGatewayFor(clock)
	gw.loginFn = func(context.Context, string, string, bool) (*domain.AuthResult, error) {
		id := adminIdentity()
		id.Role = "superuser"
		return &domain.AuthResult{Identity: id, Credential: credentialAt("x", clock.Now().Add(time.Hour))}, nil
	}
	store := &stubStore{}
	ctrl := newController(gw, store, clock)

	if _, err := ctrl.Login(context.Background(), "admin", "admin123", false); !errors.Is(err, domain.ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
	if store.stored() != nil {
		t.Fatalf("credential with an invalid identity must not be stored")
	}
}

// ---------------------------------------------------------------------------
// Logout
// ---------------------------------------------------------------------------

func TestSessionController_Logout_Idempotent(t *testing.T) {
	clock := newFakeClock()
	gw := newGatewayFor(clock)
	store := &stubStore{}
	ctrl := newController(gw, store, clock)

	if _, err := ctrl.Login(context.Background(), "admin", "admin123", false); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := ctrl.Logout(context.Background()); err != nil {
			t.Fatalf("logout #%d returned error: %v", i+1, err)
		}
		if ctrl.IsAuthenticated() {
			t.Fatalf("expected anonymous after logout #%d", i+1)
		}
		if got := ctrl.Snapshot().Phase(); got != domain.PhaseAnonymous {
			t.Fatalf("expected phase anonymous, got %s", got)
		}
	}

	tokens := gw.logouts()
	if len(tokens) != 1 || tokens[0] != "access-1" {
		t.Fatalf("expected a single remote logout with the access token, got %v", tokens)
	}
}

func TestSessionController_Logout_RemoteFailureStillClears(t *testing.T) {
	clock := newFakeClock()
	gw := newGatewayFor(clock)
	gw.logoutFn = func(context.Context, string) error { return domain.ErrNetwork }
	store := &stubStore{}
	ctrl := newController(gw, store, clock)

	_, _ = ctrl.Login(context.Background(), "admin", "admin123", false)
	if err := ctrl.Logout(context.Background()); err != nil {
		t.Fatalf("remote logout failure must be absorbed, got %v", err)
	}
	if ctrl.IsAuthenticated() || store.stored() != nil {
		t.Fatalf("local session must be cleared even when the remote call fails")
	}
}

// ---------------------------------------------------------------------------
// CheckAuth
// ---------------------------------------------------------------------------

func TestSessionController_CheckAuth_NoCredential(t *testing.T) {
	clock := newFakeClock()
	gw := newGatewayFor(clock)
	ctrl := newController(gw, &stubStore{}, clock)

	if !ctrl.IsLoading() {
		t.Fatalf("a fresh controller is loading until the first determination")
	}
	if d := Evaluate(ctrl.Snapshot(), "", "/dashboard"); d.Verdict != VerdictPending {
		t.Fatalf("expected pending before CheckAuth, got %+v", d)
	}

	ctrl.CheckAuth(context.Background())

	if ctrl.IsLoading() || ctrl.IsAuthenticated() {
		t.Fatalf("expected settled anonymous session")
	}
	if gw.refreshCount() != 0 || gw.currentCount() != 0 {
		t.Fatalf("no gateway calls expected without a credential")
	}
}

func TestSessionController_CheckAuth_PartialCredentialIsAbsent(t *testing.T) {
	clock := newFakeClock()
	gw := newGatewayFor(clock)
	store := &stubStore{cred: &domain.Credential{AccessToken: "a", ExpiresAt: clock.Now().Add(time.Hour)}}
	ctrl := newController(gw, store, clock)

	ctrl.CheckAuth(context.Background())

	if ctrl.IsAuthenticated() || gw.currentCount() != 0 {
		t.Fatalf("partial credential must be treated as no credential")
	}
}

func TestSessionController_CheckAuth_ClearedStoreEndsSession(t *testing.T) {
	clock := newFakeClock()
	gw := newGatewayFor(clock)
	store := &stubStore{}
	ctrl := newController(gw, store, clock)
	if _, err := ctrl.Login(context.Background(), "admin", "admin123", false); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	rec := &recorder{}
	ctrl.Subscribe(rec.record)

	// Cleared by something other than this controller.
	store.mu.Lock()
	store.cred = nil
	store.mu.Unlock()

	ctrl.CheckAuth(context.Background())

	if ctrl.IsAuthenticated() || ctrl.CurrentIdentity() != nil {
		t.Fatalf("an empty store must settle to anonymous")
	}
	if got := rec.reasons(); len(got) != 1 || got[0] != domain.ReasonSessionExpired {
		t.Fatalf("expected one session_expired transition, got %v", got)
	}
}

func TestSessionController_CheckAuth_PartialCredentialIsCleared(t *testing.T) {
	clock := newFakeClock()
	store := &stubStore{cred: &domain.Credential{AccessToken: "a", ExpiresAt: clock.Now().Add(time.Hour)}}
	ctrl := newController(newGatewayFor(clock), store, clock)

	ctrl.CheckAuth(context.Background())

	store.mu.Lock()
	leftover := store.cred
	store.mu.Unlock()
	if leftover != nil {
		t.Fatalf("partial record must be removed from the store, got %+v", leftover)
	}
}

func TestSessionController_CheckAuth_ValidCredentialRestores(t *testing.T) {
	clock := newFakeClock()
	gw := newGatewayFor(clock)
	stored := credentialAt("s", clock.Now().Add(30*time.Minute))
	store := &stubStore{cred: &stored}
	ctrl := newController(gw, store, clock)
	rec := &recorder{}
	ctrl.Subscribe(rec.record)

	ctrl.CheckAuth(context.Background())

	if !ctrl.IsAuthenticated() {
		t.Fatalf("expected restored session")
	}
	if gw.refreshCount() != 0 {
		t.Fatalf("valid credential must not be refreshed")
	}
	if snap := ctrl.Snapshot(); !snap.Credential.Equal(&stored) {
		t.Fatalf("expected stored credential in memory, got %+v", snap.Credential)
	}
	if got := rec.reasons(); len(got) != 1 || got[0] != domain.ReasonRestored {
		t.Fatalf("expected a restored transition, got %v", got)
	}
}

func TestSessionController_CheckAuth_ExpiryEqualToNowRefreshes(t *testing.T) {
	clock := newFakeClock()
	gw := newGatewayFor(clock)
	stored := credentialAt("s", clock.Now())
	store := &stubStore{cred: &stored}
	ctrl := newController(gw, store, clock)

	ctrl.CheckAuth(context.Background())

	if gw.refreshCount() != 1 {
		t.Fatalf("expiry == now must be treated as expired, refresh calls = %d", gw.refreshCount())
	}
	if gw.currentCount() != 0 {
		t.Fatalf("expired credential must not be validated with CurrentUser")
	}
	if !ctrl.IsAuthenticated() {
		t.Fatalf("expected session after successful refresh")
	}
	if got := store.stored(); got.AccessToken != "access-2" {
		t.Fatalf("expected renewed credential in store, got %+v", got)
	}
}

func TestSessionController_CheckAuth_ExpiredAndRefreshFails(t *testing.T) {
	clock := newFakeClock()
	gw := newGatewayFor(clock)
	gw.refreshFn = func(context.Context, string) (*domain.AuthResult, error) {
		return nil, domain.ErrRefreshRejected
	}
	stored := credentialAt("s", clock.Now().Add(-time.Minute))
	store := &stubStore{cred: &stored}
	ctrl := newController(gw, store, clock)

	ctrl.CheckAuth(context.Background())

	if ctrl.IsAuthenticated() || ctrl.IsLoading() {
		t.Fatalf("expected settled anonymous session")
	}
	if store.stored() != nil {
		t.Fatalf("expected store cleared after failed refresh")
	}
}

func TestSessionController_CheckAuth_TokenExpiredSignalClears(t *testing.T) {
	clock := newFakeClock()
	gw := newGatewayFor(clock)
	gw.currentFn = func(context.Context, string) (*domain.Identity, error) {
		return nil, domain.ErrTokenExpired
	}
	stored := credentialAt("s", clock.Now().Add(time.Hour))
	store := &stubStore{cred: &stored}
	ctrl := newController(gw, store, clock)

	ctrl.CheckAuth(context.Background())

	if ctrl.IsAuthenticated() || store.stored() != nil {
		t.Fatalf("expected anonymous session and cleared store")
	}
}

func TestSessionController_CheckAuth_PanicStillReleasesLoading(t *testing.T) {
	clock := newFakeClock()
	gw := newGatewayFor(clock)
	gw.currentFn = func(context.Context, string) (*domain.Identity, error) {
		panic("transport exploded")
	}
	stored := credentialAt("s", clock.Now().Add(time.Hour))
	store := &stubStore{cred: &stored}
	ctrl := newController(gw, store, clock)

	ctrl.CheckAuth(context.Background())

	if ctrl.IsLoading() {
		t.Fatalf("loading must be released after a panic")
	}
	if ctrl.IsAuthenticated() || store.stored() != nil {
		t.Fatalf("expected anonymous session and cleared store after a panic")
	}
}

func TestSessionController_CheckAuth_StoreReadFailure(t *testing.T) {
	clock := newFakeClock()
	store := &stubStore{readErr: errBoom}
	ctrl := newController(newGatewayFor(clock), store, clock)

	ctrl.CheckAuth(context.Background())

	if ctrl.IsLoading() || ctrl.IsAuthenticated() {
		t.Fatalf("expected settled anonymous session")
	}
}

// ---------------------------------------------------------------------------
// Refresh
// ---------------------------------------------------------------------------

func TestSessionController_RefreshProactive_Success(t *testing.T) {
	clock := newFakeClock()
	gw := newGatewayFor(clock)
	store := &stubStore{}
	ctrl := newController(gw, store, clock)
	_, _ = ctrl.Login(context.Background(), "admin", "admin123", false)
	rec := &recorder{}
	ctrl.Subscribe(rec.record)

	var gotToken string
	gw.refreshFn = func(_ context.Context, token string) (*domain.AuthResult, error) {
		gotToken = token
		return &domain.AuthResult{Identity: adminIdentity(), Credential: credentialAt("2", clock.Now().Add(time.Hour))}, nil
	}

	if err := ctrl.RefreshProactive(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if gotToken != "refresh-1" {
		t.Fatalf("expected the stored refresh token, got %q", gotToken)
	}
	if got := store.stored(); got.AccessToken != "access-2" {
		t.Fatalf("expected renewed credential in store, got %+v", got)
	}
	if got := rec.reasons(); len(got) != 1 || got[0] != domain.ReasonRefreshed {
		t.Fatalf("expected a refreshed transition, got %v", got)
	}
}

func TestSessionController_RefreshProactive_FailureLogsOut(t *testing.T) {
	clock := newFakeClock()
	gw := newGatewayFor(clock)
	store := &stubStore{}
	ctrl := newController(gw, store, clock)
	_, _ = ctrl.Login(context.Background(), "admin", "admin123", false)
	rec := &recorder{}
	ctrl.Subscribe(rec.record)

	gw.refreshFn = func(context.Context, string) (*domain.AuthResult, error) {
		return nil, domain.ErrRefreshRejected
	}

	err := ctrl.RefreshProactive(context.Background())
	if !errors.Is(err, domain.ErrRefreshRejected) {
		t.Fatalf("expected ErrRefreshRejected, got %v", err)
	}
	if ctrl.IsAuthenticated() || store.stored() != nil {
		t.Fatalf("failed proactive refresh must end the session")
	}
	if got := rec.reasons(); len(got) != 1 || got[0] != domain.ReasonRefreshFailed {
		t.Fatalf("expected refresh_failed transition, got %v", got)
	}
	if tokens := gw.logouts(); len(tokens) != 1 {
		t.Fatalf("expected the logout path to revoke remotely, got %v", tokens)
	}
}

func TestSessionController_RefreshProactive_TimeoutIsFailure(t *testing.T) {
	clock := newFakeClock()
	gw := newGatewayFor(clock)
	store := &stubStore{}
	ctrl := NewSessionController(gw, store, clock, 20*time.Millisecond, zerolog.Nop())
	_, _ = ctrl.Login(context.Background(), "admin", "admin123", false)

	gw.refreshFn = func(ctx context.Context, _ string) (*domain.AuthResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	err := ctrl.RefreshProactive(context.Background())
	if !errors.Is(err, domain.ErrNetwork) {
		t.Fatalf("expected timeout reported as ErrNetwork, got %v", err)
	}
	if ctrl.IsAuthenticated() {
		t.Fatalf("timed out refresh must end the session")
	}
}

func TestSessionController_LogoutWinsOverInFlightRefresh(t *testing.T) {
	clock := newFakeClock()
	gw := newGatewayFor(clock)
	store := &stubStore{}
	ctrl := newController(gw, store, clock)
	_, _ = ctrl.Login(context.Background(), "admin", "admin123", false)

	started := make(chan struct{})
	release := make(chan struct{})
	gw.refreshFn = func(context.Context, string) (*domain.AuthResult, error) {
		close(started)
		<-release
		return &domain.AuthResult{Identity: adminIdentity(), Credential: credentialAt("late", clock.Now().Add(time.Hour))}, nil
	}

	done := make(chan error, 1)
	go func() { done <- ctrl.RefreshProactive(context.Background()) }()

	<-started
	if !ctrl.Snapshot().Refreshing {
		t.Fatalf("expected refreshing flag while the call is in flight")
	}
	if !ctrl.IsAuthenticated() {
		t.Fatalf("session must stay authenticated during a background refresh")
	}
	if err := ctrl.Logout(context.Background()); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	close(release)

	if err := <-done; !errors.Is(err, domain.ErrSessionSuperseded) {
		t.Fatalf("expected superseded refresh, got %v", err)
	}
	if ctrl.IsAuthenticated() {
		t.Fatalf("refresh must not resurrect the session")
	}
	if got := store.stored(); got != nil {
		t.Fatalf("refresh must not write the store after logout, got %+v", got)
	}
}

func TestSessionController_LogoutBeforeRefreshReachesGateway(t *testing.T) {
	clock := newFakeClock()
	gw := newGatewayFor(clock)
	store := &readHookStore{stubStore: &stubStore{}}
	ctrl := newController(gw, store, clock)
	if _, err := ctrl.Login(context.Background(), "admin", "admin123", false); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	clock.Advance(2 * time.Hour)

	// The expired credential has been read but the refresh has not started.
	store.afterRead = func() {
		if err := ctrl.Logout(context.Background()); err != nil {
			t.Errorf("logout failed: %v", err)
		}
	}
	ctrl.CheckAuth(context.Background())

	if ctrl.IsAuthenticated() {
		t.Fatalf("logout must win over a refresh started from an older session")
	}
	if got := store.stored(); got != nil {
		t.Fatalf("refresh must not write the store after logout, got %+v", got)
	}
}

func TestSessionController_CheckAuth_RefreshPanicStillReleasesLoading(t *testing.T) {
	clock := newFakeClock()
	gw := newGatewayFor(clock)
	gw.refreshFn = func(context.Context, string) (*domain.AuthResult, error) {
		panic("transport exploded")
	}
	stored := credentialAt("s", clock.Now().Add(-time.Minute))
	store := &stubStore{cred: &stored}
	ctrl := newController(gw, store, clock)

	ctrl.CheckAuth(context.Background())

	if ctrl.IsLoading() {
		t.Fatalf("loading must be released after a panicking refresh")
	}
	if ctrl.IsAuthenticated() || store.stored() != nil {
		t.Fatalf("expected anonymous session and cleared store after a panicking refresh")
	}
}

func TestSessionController_RefreshProactive_PanicIsFailure(t *testing.T) {
	clock := newFakeClock()
	gw := newGatewayFor(clock)
	store := &stubStore{}
	ctrl := newController(gw, store, clock)
	_, _ = ctrl.Login(context.Background(), "admin", "admin123", false)
	gw.refreshFn = func(context.Context, string) (*domain.AuthResult, error) {
		panic("transport exploded")
	}

	err := ctrl.RefreshProactive(context.Background())
	if !errors.Is(err, domain.ErrNetwork) {
		t.Fatalf("expected network error from a panicking refresh, got %v", err)
	}
	if ctrl.IsAuthenticated() || store.stored() != nil {
		t.Fatalf("failed refresh must end the session")
	}
}

func TestSessionController_AccessToken_ReactiveRefresh(t *testing.T) {
	clock := newFakeClock()
	gw := newGatewayFor(clock)
	ctrl := newController(gw, &stubStore{}, clock)
	_, _ = ctrl.Login(context.Background(), "admin", "admin123", false)

	token, err := ctrl.AccessToken(context.Background())
	if err != nil || token != "access-1" {
		t.Fatalf("expected current token, got %q (%v)", token, err)
	}

	clock.Advance(2 * time.Hour)
	token, err = ctrl.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("reactive refresh failed: %v", err)
	}
	if token != "access-2" || gw.refreshCount() != 1 {
		t.Fatalf("expected renewed token after expiry, got %q (refresh calls %d)", token, gw.refreshCount())
	}
}

func TestSessionController_AccessToken_Anonymous(t *testing.T) {
	clock := newFakeClock()
	ctrl := newController(newGatewayFor(clock), &stubStore{}, clock)

	if _, err := ctrl.AccessToken(context.Background()); !errors.Is(err, domain.ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestSessionController_Refresh_MissingIdentityKeepsCurrent(t *testing.T) {
	clock := newFakeClock()
	gw := newGatewayFor(clock)
	ctrl := newController(gw, &stubStore{}, clock)
	_, _ = ctrl.Login(context.Background(), "admin", "admin123", false)

	gw.refreshFn = func(context.Context, string) (*domain.AuthResult, error) {
		return &domain.AuthResult{Credential: credentialAt("2", clock.Now().Add(time.Hour))}, nil
	}
	if err := ctrl.RefreshProactive(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if id := ctrl.CurrentIdentity(); id == nil || id.Username != "admin" {
		t.Fatalf("expected identity to be kept, got %+v", id)
	}
}

// ---------------------------------------------------------------------------
// Profile
// ---------------------------------------------------------------------------

func TestSessionController_UpdateProfile_AdoptsServerIdentity(t *testing.T) {
	clock := newFakeClock()
	gw := newGatewayFor(clock)
	ctrl := newController(gw, &stubStore{}, clock)
	_, _ = ctrl.Login(context.Background(), "admin", "admin123", false)

	name := "Optimistic"
	gw.profileFn = func(_ context.Context, token string, update domain.ProfileUpdate) (*domain.Identity, error) {
		if token != "access-1" {
			t.Fatalf("unexpected token %q", token)
		}
		if update.DisplayName == nil || update.Email != nil || update.Language != nil {
			t.Fatalf("expected a partial update with display name only: %+v", update)
		}
		id := adminIdentity()
		id.DisplayName = "Server Confirmed"
		return id, nil
	}

	got, err := ctrl.UpdateProfile(context.Background(), domain.ProfileUpdate{DisplayName: &name})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if got.DisplayName != "Server Confirmed" || ctrl.CurrentIdentity().DisplayName != "Server Confirmed" {
		t.Fatalf("expected server confirmed identity, got %+v", got)
	}
}

func TestSessionController_UpdateProfile_FailureKeepsIdentity(t *testing.T) {
	clock := newFakeClock()
	gw := newGatewayFor(clock)
	ctrl := newController(gw, &stubStore{}, clock)
	_, _ = ctrl.Login(context.Background(), "admin", "admin123", false)

	gw.profileFn = func(context.Context, string, domain.ProfileUpdate) (*domain.Identity, error) {
		return nil, domain.ErrValidation
	}
	email := "taken@bewithu.local"

	if _, err := ctrl.UpdateProfile(context.Background(), domain.ProfileUpdate{Email: &email}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if got := ctrl.CurrentIdentity(); got.Email != "admin@bewithu.local" {
		t.Fatalf("identity must be unchanged on failure, got %+v", got)
	}
	if !ctrl.IsAuthenticated() {
		t.Fatalf("validation failure must not affect the session")
	}
}

func TestSessionController_UpdateProfile_RequiresSession(t *testing.T) {
	clock := newFakeClock()
	ctrl := newController(newGatewayFor(clock), &stubStore{}, clock)
	name := "x"

	if _, err := ctrl.UpdateProfile(context.Background(), domain.ProfileUpdate{DisplayName: &name}); !errors.Is(err, domain.ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Transitions & resync
// ---------------------------------------------------------------------------

func TestSessionController_TransitionsInOrder(t *testing.T) {
	clock := newFakeClock()
	ctrl := newController(newGatewayFor(clock), &stubStore{}, clock)
	rec := &recorder{}
	unsubscribe := ctrl.Subscribe(rec.record)

	_, _ = ctrl.Login(context.Background(), "admin", "admin123", false)
	_ = ctrl.Logout(context.Background())
	unsubscribe()
	_, _ = ctrl.Login(context.Background(), "admin", "admin123", false)

	got := rec.reasons()
	if len(got) != 2 || got[0] != domain.ReasonLogin || got[1] != domain.ReasonLogout {
		t.Fatalf("unexpected transitions: %v", got)
	}
}

func TestSessionController_Resync_ExternalLogout(t *testing.T) {
	clock := newFakeClock()
	store := &stubStore{}
	ctrl := newController(newGatewayFor(clock), store, clock)
	_, _ = ctrl.Login(context.Background(), "admin", "admin123", false)
	rec := &recorder{}
	ctrl.Subscribe(rec.record)

	_ = store.Clear(context.Background())
	ctrl.Resync(context.Background())

	if ctrl.IsAuthenticated() {
		t.Fatalf("expected session dropped after external logout")
	}
	if got := rec.reasons(); len(got) != 1 || got[0] != domain.ReasonExternalChange {
		t.Fatalf("expected external_change transition, got %v", got)
	}
}

func TestSessionController_Resync_OwnWriteIsNoop(t *testing.T) {
	clock := newFakeClock()
	gw := newGatewayFor(clock)
	ctrl := newController(gw, &stubStore{}, clock)
	_, _ = ctrl.Login(context.Background(), "admin", "admin123", false)

	ctrl.Resync(context.Background())

	if !ctrl.IsAuthenticated() || gw.currentCount() != 0 {
		t.Fatalf("resync with an unchanged store must do nothing")
	}
}

func TestSessionController_Resync_ExternalLoginAdopted(t *testing.T) {
	clock := newFakeClock()
	gw := newGatewayFor(clock)
	store := &stubStore{}
	ctrl := newController(gw, store, clock)
	ctrl.CheckAuth(context.Background())

	other := credentialAt("other", clock.Now().Add(time.Hour))
	_ = store.Write(context.Background(), other)
	ctrl.Resync(context.Background())

	if !ctrl.IsAuthenticated() {
		t.Fatalf("expected credential written by another process to be adopted")
	}
	if snap := ctrl.Snapshot(); !snap.Credential.Equal(&other) {
		t.Fatalf("expected adopted credential, got %+v", snap.Credential)
	}
}

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

func TestSessionController_ReportsMetrics(t *testing.T) {
	clock := newFakeClock()
	gw := newGatewayFor(clock)
	m := &metricsRecorder{}
	ctrl := NewSessionController(gw, &stubStore{}, clock, time.Second, zerolog.Nop(), WithMetrics(m))

	_, _ = ctrl.Login(context.Background(), "admin", "wrong", false)
	_, _ = ctrl.Login(context.Background(), "admin", "admin123", false)
	if err := ctrl.RefreshProactive(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	_ = ctrl.Logout(context.Background())

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.logins) != 2 || m.logins[0] != "invalid_credentials" || m.logins[1] != "success" {
		t.Fatalf("unexpected login outcomes %v", m.logins)
	}
	if len(m.refresh) != 1 || m.refresh[0] != "proactive:success" {
		t.Fatalf("unexpected refresh outcomes %v", m.refresh)
	}
	if len(m.ended) != 1 || m.ended[0] != domain.ReasonLogout {
		t.Fatalf("unexpected session endings %v", m.ended)
	}
	if n := len(m.authFlag); n == 0 || m.authFlag[n-1] {
		t.Fatalf("authenticated gauge must end at false, got %v", m.authFlag)
	}
}
