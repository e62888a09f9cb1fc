package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/bewithu/dashboard-session/internal/core/domain"
	"github.com/bewithu/dashboard-session/internal/core/ports"
)

const defaultRefreshTimeout = 30 * time.Second

// SessionController owns the in-memory session state and is the only writer
// to the credential store.
//
// Two counters guard against superseded results:
//   - epoch changes when the session generation changes (login, logout,
//     forced drop, adopting another principal). Login, refresh and profile
//     results are discarded when it moved.
//   - version changes on every commit. CheckAuth results are discarded when
//     anything was committed while they were in flight.
//
// The mutex is never held across gateway calls.
type SessionController struct {
	gateway        ports.AuthGateway
	store          ports.CredentialStore
	clock          ports.Clock
	refreshTimeout time.Duration
	metrics        ports.SessionMetrics
	log            zerolog.Logger

	mu         sync.Mutex
	identity   *domain.Identity
	cred       *domain.Credential
	epoch      uint64
	version    uint64
	settled    bool
	checking   int
	refreshing int

	listeners  map[int]func(domain.Transition)
	nextListen int
	pending    []domain.Transition
	emitMu     sync.Mutex

	flights singleflight.Group
}

// Option customises a SessionController.
type Option func(*SessionController)

// WithMetrics reports lifecycle outcomes to m.
func WithMetrics(m ports.SessionMetrics) Option {
	return func(c *SessionController) {
		if m != nil {
			c.metrics = m
		}
	}
}

// NewSessionController wires a controller. A nil clock falls back to the
// system clock; a non-positive refreshTimeout falls back to 30s.
func NewSessionController(
	gateway ports.AuthGateway,
	store ports.CredentialStore,
	clock ports.Clock,
	refreshTimeout time.Duration,
	log zerolog.Logger,
	opts ...Option,
) *SessionController {
	if clock == nil {
		clock = SystemClock{}
	}
	if refreshTimeout <= 0 {
		refreshTimeout = defaultRefreshTimeout
	}
	c := &SessionController{
		gateway:        gateway,
		store:          store,
		clock:          clock,
		refreshTimeout: refreshTimeout,
		metrics:        nopMetrics{},
		log:            log.With().Str("component", "session_controller").Logger(),
		listeners:      make(map[int]func(domain.Transition)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ---------------------------------------------------------------------------
// Read side
// ---------------------------------------------------------------------------

// Snapshot returns an immutable copy of the current state.
func (c *SessionController) Snapshot() domain.SessionSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *SessionController) snapshotLocked() domain.SessionSnapshot {
	return domain.SessionSnapshot{
		Identity:   c.identity.Clone(),
		Credential: c.cred.Clone(),
		Loading:    !c.settled || c.checking > 0,
		Refreshing: c.refreshing > 0,
		Epoch:      c.epoch,
	}
}

func (c *SessionController) CurrentIdentity() *domain.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity.Clone()
}

func (c *SessionController) IsAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticatedLocked()
}

func (c *SessionController) IsLoading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.settled || c.checking > 0
}

func (c *SessionController) authenticatedLocked() bool {
	return c.identity != nil && c.cred.Complete()
}

// Subscribe registers fn for session transitions. Transitions are delivered
// in commit order, one at a time. fn must not call mutating controller
// methods synchronously.
func (c *SessionController) Subscribe(fn func(domain.Transition)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextListen
	c.nextListen++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// ---------------------------------------------------------------------------
// Login / Logout
// ---------------------------------------------------------------------------

// Login authenticates against the gateway and commits the returned
// credential and identity as one unit.
func (c *SessionController) Login(ctx context.Context, username, password string, rememberMe bool) (*domain.Identity, error) {
	if username == "" || password == "" {
		c.metrics.LoginAttempt(resultLabel(domain.ErrInvalidCredentials))
		return nil, fmt.Errorf("login: %w", domain.ErrInvalidCredentials)
	}

	c.mu.Lock()
	epoch := c.epoch
	c.mu.Unlock()

	res, err := c.gateway.Login(ctx, username, password, rememberMe)
	if err != nil {
		c.metrics.LoginAttempt(resultLabel(err))
		return nil, fmt.Errorf("login: %w", err)
	}
	if err := validateResult(res); err != nil {
		c.metrics.LoginAttempt("error")
		return nil, fmt.Errorf("login: %w", err)
	}
	if res.Identity == nil {
		c.metrics.LoginAttempt("error")
		return nil, fmt.Errorf("login: %w: response without identity", domain.ErrNetwork)
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		c.metrics.LoginAttempt("superseded")
		return nil, fmt.Errorf("login: %w", domain.ErrSessionSuperseded)
	}
	if err := c.store.Write(ctx, res.Credential); err != nil {
		c.mu.Unlock()
		c.metrics.LoginAttempt("error")
		return nil, fmt.Errorf("login: %w: %v", domain.ErrStoreUnavailable, err)
	}
	c.identity = res.Identity.Clone()
	c.cred = res.Credential.Clone()
	c.epoch++
	c.version++
	c.settled = true
	c.queueLocked(domain.ReasonLogin)
	out := c.identity.Clone()
	c.mu.Unlock()
	c.flush()

	c.metrics.LoginAttempt("success")
	c.log.Info().Str("username", out.Username).Str("role", string(out.Role)).Msg("logged in")
	return out, nil
}

// Logout ends the session locally and then revokes it remotely on a
// best-effort basis. Local cleanup always happens; only a failure to clear
// the store is reported.
func (c *SessionController) Logout(ctx context.Context) error {
	return c.endSession(ctx, domain.ReasonLogout, true)
}

// endSession clears the store and resets the state unconditionally.
func (c *SessionController) endSession(ctx context.Context, reason domain.TransitionReason, revoke bool) error {
	c.mu.Lock()
	token, storeErr := c.dropLocked(ctx, reason)
	c.mu.Unlock()
	c.flush()

	if revoke && token != "" {
		c.revoke(ctx, token)
	}
	if storeErr != nil {
		return fmt.Errorf("logout: %w: %v", domain.ErrStoreUnavailable, storeErr)
	}
	return nil
}

// dropLocked resets the state to anonymous and clears the store. It returns
// the access token that was in use so the caller can revoke it.
func (c *SessionController) dropLocked(ctx context.Context, reason domain.TransitionReason) (string, error) {
	var token string
	if c.cred != nil {
		token = c.cred.AccessToken
	}
	wasAuthenticated := c.authenticatedLocked()

	storeErr := c.store.Clear(ctx)
	if storeErr != nil {
		c.log.Error().Err(storeErr).Str("reason", string(reason)).Msg("failed to clear credential store")
	}

	c.identity = nil
	c.cred = nil
	c.epoch++
	c.version++
	c.settled = true
	if wasAuthenticated {
		c.queueLocked(reason)
		c.metrics.SessionEnded(reason)
	}
	return token, storeErr
}

func (c *SessionController) revoke(ctx context.Context, token string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.refreshTimeout)
	defer cancel()
	if err := c.gateway.Logout(rctx, token); err != nil {
		c.log.Warn().Err(err).Msg("remote logout failed, local session already cleared")
	}
}

// ---------------------------------------------------------------------------
// CheckAuth / Resync
// ---------------------------------------------------------------------------

// CheckAuth determines the session from the stored credential. Failures are
// absorbed and resolved by dropping to the anonymous state. Loading is
// released exactly once, even if a collaborator panics.
func (c *SessionController) CheckAuth(ctx context.Context) {
	c.mu.Lock()
	c.checking++
	version := c.version
	epoch := c.epoch
	c.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Msg("auth check failed unexpectedly")
			c.mu.Lock()
			if c.version == version {
				_, _ = c.dropLocked(ctx, domain.ReasonSessionExpired)
			}
			c.mu.Unlock()
		}
		c.mu.Lock()
		c.checking--
		c.settled = true
		c.mu.Unlock()
		c.flush()
	}()

	c.checkAuth(ctx, epoch, version)
}

func (c *SessionController) checkAuth(ctx context.Context, epoch, version uint64) {
	stored, err := c.store.Read(ctx)
	if err != nil {
		c.log.Error().Err(err).Msg("failed to read credential store")
		c.dropIfVersion(ctx, version, domain.ReasonSessionExpired)
		return
	}
	if !stored.Complete() {
		// Also clears a partial record left in the store.
		c.dropIfVersion(ctx, version, domain.ReasonSessionExpired)
		return
	}

	if stored.ExpiredAt(c.clock.Now()) {
		c.log.Debug().Msg("stored credential expired, refreshing")
		if err := c.refresh(ctx, epoch, stored.RefreshToken, domain.ReasonSessionExpired, false, "check"); err != nil {
			c.log.Info().Err(err).Msg("stored session could not be renewed")
		}
		return
	}

	identity, err := c.gateway.CurrentUser(ctx, stored.AccessToken)
	if err == nil && (identity == nil || !identity.Role.Valid()) {
		err = domain.ErrInvalidRole
	}
	if err != nil {
		c.log.Info().Err(err).Msg("stored session rejected")
		c.dropIfVersion(ctx, version, domain.ReasonSessionExpired)
		return
	}

	c.mu.Lock()
	if c.version != version {
		c.mu.Unlock()
		c.log.Debug().Msg("auth check superseded, result discarded")
		return
	}
	if c.cred != nil && !c.cred.Equal(stored) {
		c.epoch++
	}
	wasAuthenticated := c.authenticatedLocked()
	c.identity = identity.Clone()
	c.cred = stored.Clone()
	c.version++
	if !wasAuthenticated {
		c.queueLocked(domain.ReasonRestored)
	}
	c.mu.Unlock()

	c.log.Info().Str("username", identity.Username).Msg("session restored")
}

func (c *SessionController) dropIfVersion(ctx context.Context, version uint64, reason domain.TransitionReason) {
	c.mu.Lock()
	if c.version == version {
		_, _ = c.dropLocked(ctx, reason)
	}
	c.mu.Unlock()
}

// Resync reconciles the in-memory state with a store that was changed by
// another process sharing it.
func (c *SessionController) Resync(ctx context.Context) {
	stored, err := c.store.Read(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("resync: failed to read credential store")
		return
	}
	if !stored.Complete() {
		stored = nil
	}

	c.mu.Lock()
	if stored.Equal(c.cred) {
		c.mu.Unlock()
		return
	}
	if stored == nil {
		if c.authenticatedLocked() {
			c.identity = nil
			c.cred = nil
			c.epoch++
			c.version++
			c.queueLocked(domain.ReasonExternalChange)
			c.metrics.SessionEnded(domain.ReasonExternalChange)
		}
		c.mu.Unlock()
		c.flush()
		c.log.Info().Msg("session ended by another process")
		return
	}
	c.mu.Unlock()

	c.log.Info().Msg("credential changed by another process, re-checking")
	c.CheckAuth(ctx)
}

// ---------------------------------------------------------------------------
// Refresh
// ---------------------------------------------------------------------------

// RefreshProactive renews the in-memory credential before it expires. On
// failure the session is logged out.
func (c *SessionController) RefreshProactive(ctx context.Context) error {
	c.mu.Lock()
	if !c.authenticatedLocked() {
		c.mu.Unlock()
		return domain.ErrNotAuthenticated
	}
	token := c.cred.RefreshToken
	epoch := c.epoch
	c.mu.Unlock()

	return c.refresh(ctx, epoch, token, domain.ReasonRefreshFailed, true, "proactive")
}

// AccessToken returns a usable access token, renewing an expired one first.
func (c *SessionController) AccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if !c.authenticatedLocked() {
		c.mu.Unlock()
		return "", domain.ErrNotAuthenticated
	}
	cred := *c.cred
	epoch := c.epoch
	c.mu.Unlock()

	if !cred.ExpiredAt(c.clock.Now()) {
		return cred.AccessToken, nil
	}
	if err := c.refresh(ctx, epoch, cred.RefreshToken, domain.ReasonSessionExpired, true, "reactive"); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.authenticatedLocked() {
		return "", domain.ErrNotAuthenticated
	}
	return c.cred.AccessToken, nil
}

// refresh collapses concurrent renewals of the same refresh token within one
// session generation into a single gateway call. epoch must be read under
// the same lock as refreshToken; the result is discarded if it moved. The
// call is detached from ctx and bounded by the refresh timeout, so a caller
// giving up does not abandon the renewal.
func (c *SessionController) refresh(
	ctx context.Context,
	epoch uint64,
	refreshToken string,
	failReason domain.TransitionReason,
	revoke bool,
	trigger string,
) error {
	key := fmt.Sprintf("refresh:%d:%s", epoch, refreshToken)
	ch := c.flights.DoChan(key, func() (any, error) {
		return nil, c.runRefresh(context.WithoutCancel(ctx), epoch, refreshToken, failReason, revoke, trigger)
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

func (c *SessionController) runRefresh(
	ctx context.Context,
	epoch uint64,
	refreshToken string,
	failReason domain.TransitionReason,
	revoke bool,
	trigger string,
) (err error) {
	c.mu.Lock()
	c.refreshing++
	c.mu.Unlock()

	start := time.Now()
	defer func() {
		c.mu.Lock()
		c.refreshing--
		c.mu.Unlock()
		c.metrics.RefreshAttempt(trigger, refreshOutcome(err), time.Since(start))
	}()

	rctx, cancel := context.WithTimeout(ctx, c.refreshTimeout)
	res, err := c.exchange(rctx, refreshToken)
	cancel()

	if err != nil {
		return c.failRefresh(ctx, epoch, err, failReason, revoke, trigger)
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		c.log.Debug().Str("trigger", trigger).Msg("refresh result discarded, session superseded")
		return domain.ErrSessionSuperseded
	}
	if err := c.store.Write(ctx, res.Credential); err != nil {
		c.mu.Unlock()
		return c.failRefresh(ctx, epoch, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err), failReason, revoke, trigger)
	}
	wasAuthenticated := c.authenticatedLocked()
	c.identity = res.Identity.Clone()
	c.cred = res.Credential.Clone()
	c.version++
	if wasAuthenticated {
		c.queueLocked(domain.ReasonRefreshed)
	} else {
		c.queueLocked(domain.ReasonRestored)
	}
	c.mu.Unlock()
	c.flush()

	c.log.Info().
		Str("trigger", trigger).
		Time("expires_at", res.Credential.ExpiresAt).
		Msg("credential renewed")
	return nil
}

// exchange performs the gateway side of a refresh. It runs on the
// singleflight goroutine, where a panic would take the process down, so a
// panicking collaborator is reported as a failed refresh.
func (c *SessionController) exchange(ctx context.Context, refreshToken string) (res *domain.AuthResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Msg("refresh failed unexpectedly")
			res, err = nil, fmt.Errorf("%w: refresh panicked: %v", domain.ErrNetwork, r)
		}
	}()

	res, err = c.gateway.Refresh(ctx, refreshToken)
	if err == nil {
		err = validateResult(res)
	}
	if err == nil && res.Identity == nil {
		res.Identity, err = c.resolveIdentity(ctx, res.Credential.AccessToken)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// resolveIdentity fills in the identity when a refresh response omits it.
func (c *SessionController) resolveIdentity(ctx context.Context, accessToken string) (*domain.Identity, error) {
	c.mu.Lock()
	current := c.identity.Clone()
	c.mu.Unlock()
	if current != nil {
		return current, nil
	}
	id, err := c.gateway.CurrentUser(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if id == nil || !id.Role.Valid() {
		return nil, domain.ErrInvalidRole
	}
	return id, nil
}

func (c *SessionController) failRefresh(
	ctx context.Context,
	epoch uint64,
	cause error,
	reason domain.TransitionReason,
	revoke bool,
	trigger string,
) error {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return domain.ErrSessionSuperseded
	}
	token, _ := c.dropLocked(ctx, reason)
	c.mu.Unlock()
	c.flush()

	c.log.Warn().Err(cause).Str("trigger", trigger).Str("reason", string(reason)).Msg("refresh failed, session ended")

	if revoke && token != "" {
		c.revoke(ctx, token)
	}
	if errors.Is(cause, context.DeadlineExceeded) {
		cause = fmt.Errorf("%w: refresh timed out", domain.ErrNetwork)
	}
	return fmt.Errorf("refresh: %w", cause)
}

// ---------------------------------------------------------------------------
// Profile
// ---------------------------------------------------------------------------

// UpdateProfile sends a partial update and adopts the server-confirmed
// identity. On failure the current identity is left unchanged.
func (c *SessionController) UpdateProfile(ctx context.Context, update domain.ProfileUpdate) (*domain.Identity, error) {
	c.mu.Lock()
	if !c.authenticatedLocked() {
		c.mu.Unlock()
		return nil, fmt.Errorf("update profile: %w", domain.ErrNotAuthenticated)
	}
	epoch := c.epoch
	token := c.cred.AccessToken
	c.mu.Unlock()

	if update.Empty() {
		return nil, fmt.Errorf("update profile: %w: no fields to update", domain.ErrValidation)
	}

	updated, err := c.gateway.UpdateProfile(ctx, token, update)
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	if updated == nil || !updated.Role.Valid() {
		return nil, fmt.Errorf("update profile: %w", domain.ErrInvalidRole)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return nil, fmt.Errorf("update profile: %w", domain.ErrSessionSuperseded)
	}
	c.identity = updated.Clone()
	c.version++

	c.log.Info().Str("username", updated.Username).Msg("profile updated")
	return updated.Clone(), nil
}

// ---------------------------------------------------------------------------
// Transitions
// ---------------------------------------------------------------------------

// queueLocked records a transition for delivery after the mutex is released.
func (c *SessionController) queueLocked(reason domain.TransitionReason) {
	authenticated := c.authenticatedLocked()
	c.metrics.Authenticated(authenticated)
	c.pending = append(c.pending, domain.Transition{
		Authenticated: authenticated,
		Reason:        reason,
		Epoch:         c.epoch,
	})
}

// flush delivers queued transitions in order. emitMu keeps deliveries from
// concurrent operations from interleaving.
func (c *SessionController) flush() {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	for {
		c.mu.Lock()
		if len(c.pending) == 0 {
			c.mu.Unlock()
			return
		}
		t := c.pending[0]
		c.pending = c.pending[1:]
		fns := make([]func(domain.Transition), 0, len(c.listeners))
		for _, fn := range c.listeners {
			fns = append(fns, fn)
		}
		c.mu.Unlock()

		for _, fn := range fns {
			fn(t)
		}
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func validateResult(res *domain.AuthResult) error {
	if res == nil || !res.Credential.Complete() {
		return fmt.Errorf("%w: incomplete credential in response", domain.ErrNetwork)
	}
	if res.Identity != nil && !res.Identity.Role.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidRole, res.Identity.Role)
	}
	return nil
}

func refreshOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domain.ErrSessionSuperseded):
		return "superseded"
	default:
		return "failure"
	}
}

type nopMetrics struct{}

func (nopMetrics) LoginAttempt(string) {}
func (nopMetrics) SessionEnded(domain.TransitionReason) {}
func (nopMetrics) RefreshAttempt(string, string, time.Duration) {}
func (nopMetrics) Authenticated(bool) {}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, domain.ErrNetwork):
		return "network_error"
	default:
		return "error"
	}
}
