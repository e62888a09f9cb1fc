package demo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/bewithu/dashboard-session/internal/core/domain"
	"github.com/bewithu/dashboard-session/internal/core/ports"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// Token lifetimes, matching the dashboard API.
const (
	AccessTTL            = time.Hour
	AccessTTLRemembered  = 24 * time.Hour
	RefreshTTL           = 7 * 24 * time.Hour
	RefreshTTLRemembered = 30 * 24 * time.Hour
)

type account struct {
	identity     domain.Identity
	passwordHash []byte
}

type claims struct {
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

// Gateway is an in-process auth server for local development and tests. It
// issues HS256 tokens, keeps bcrypt password hashes in memory and seeds the
// default administrator admin/admin123.
type Gateway struct {
	secret []byte
	clock  ports.Clock

	mu       sync.Mutex
	accounts map[string]*account
	revoked  map[string]struct{}
	nextID   int
}

func New(secret string, clock ports.Clock) (*Gateway, error) {
	if secret == "" {
		return nil, errors.New("demo gateway: secret is required")
	}
	if clock == nil {
		clock = systemClock{}
	}
	g := &Gateway{
		secret:   []byte(secret),
		clock:    clock,
		accounts: make(map[string]*account),
		revoked:  make(map[string]struct{}),
	}
	if err := g.AddAccount("admin", "admin@bewithU.local", "admin123", "System Administrator", domain.RoleAdmin); err != nil {
		return nil, err
	}
	return g, nil
}

// AddAccount registers an additional account.
func (g *Gateway) AddAccount(username, email, password, displayName string, role domain.Role) error {
	if username == "" || password == "" {
		return fmt.Errorf("add account: %w: username and password are required", domain.ErrValidation)
	}
	if !role.Valid() {
		return fmt.Errorf("add account: %w: %q", domain.ErrInvalidRole, role)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("add account: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.accounts[username]; ok {
		return fmt.Errorf("add account: %w: username %q is taken", domain.ErrValidation, username)
	}
	g.nextID++
	now := g.clock.Now().UTC()
	g.accounts[username] = &account{
		identity: domain.Identity{
			ID:          strconv.Itoa(g.nextID),
			Username:    username,
			Email:       strings.ToLower(email),
			DisplayName: displayName,
			Role:        role,
			Language:    domain.LanguageJapanese,
			IsActive:    true,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		passwordHash: hash,
	}
	return nil
}

// Login accepts the username or the email address.
func (g *Gateway) Login(_ context.Context, username, password string, rememberMe bool) (*domain.AuthResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, domain.ErrInvalidCredentials
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	acc := g.findLocked(username)
	if acc == nil || bcrypt.CompareHashAndPassword(acc.passwordHash, []byte(password)) != nil {
		return nil, domain.ErrInvalidCredentials
	}
	if !acc.identity.IsActive {
		return nil, fmt.Errorf("%w: account is disabled", domain.ErrInvalidCredentials)
	}

	accessTTL, refreshTTL := AccessTTL, RefreshTTL
	if rememberMe {
		accessTTL, refreshTTL = AccessTTLRemembered, RefreshTTLRemembered
	}
	now := g.clock.Now()
	access, err := g.sign(acc.identity.ID, tokenTypeAccess, now, accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := g.sign(acc.identity.ID, tokenTypeRefresh, now, refreshTTL)
	if err != nil {
		return nil, err
	}

	last := now.UTC()
	acc.identity.LastLoginAt = &last
	return &domain.AuthResult{
		Identity: acc.identity.Clone(),
		Credential: domain.Credential{
			AccessToken:  access,
			RefreshToken: refresh,
			ExpiresAt:    now.Add(accessTTL),
		},
	}, nil
}

// Logout revokes the access token. Unknown or expired tokens are accepted.
func (g *Gateway) Logout(_ context.Context, token string) error {
	c, err := g.parse(token, tokenTypeAccess)
	if err != nil {
		return nil
	}
	g.mu.Lock()
	g.revoked[c.ID] = struct{}{}
	g.mu.Unlock()
	return nil
}

// Refresh issues a new one-hour access token. Like the dashboard API it
// returns neither the user nor a new refresh token.
func (g *Gateway) Refresh(_ context.Context, refreshToken string) (*domain.AuthResult, error) {
	c, err := g.parse(refreshToken, tokenTypeRefresh)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRefreshRejected, err)
	}

	g.mu.Lock()
	acc := g.byIDLocked(c.Subject)
	g.mu.Unlock()
	if acc == nil || !acc.identity.IsActive {
		return nil, fmt.Errorf("%w: user not found or inactive", domain.ErrRefreshRejected)
	}

	now := g.clock.Now()
	access, err := g.sign(c.Subject, tokenTypeAccess, now, AccessTTL)
	if err != nil {
		return nil, err
	}
	return &domain.AuthResult{
		Credential: domain.Credential{
			AccessToken:  access,
			RefreshToken: refreshToken,
			ExpiresAt:    now.Add(AccessTTL),
		},
	}, nil
}

func (g *Gateway) CurrentUser(_ context.Context, token string) (*domain.Identity, error) {
	acc, err := g.authenticate(token)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return acc.identity.Clone(), nil
}

func (g *Gateway) UpdateProfile(_ context.Context, token string, update domain.ProfileUpdate) (*domain.Identity, error) {
	acc, err := g.authenticate(token)
	if err != nil {
		return nil, err
	}
	if update.Language != nil && !update.Language.Valid() {
		return nil, fmt.Errorf("%w: unsupported language %q", domain.ErrValidation, *update.Language)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if update.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*update.Email))
		for _, other := range g.accounts {
			if other != acc && other.identity.Email == email {
				return nil, fmt.Errorf("%w: email already in use", domain.ErrValidation)
			}
		}
		acc.identity.Email = email
	}
	if update.DisplayName != nil {
		acc.identity.DisplayName = strings.TrimSpace(*update.DisplayName)
	}
	if update.Language != nil {
		acc.identity.Language = *update.Language
	}
	acc.identity.UpdatedAt = g.clock.Now().UTC()
	return acc.identity.Clone(), nil
}

func (g *Gateway) authenticate(token string) (*account, error) {
	c, err := g.parse(token, tokenTypeAccess)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTokenExpired, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.revoked[c.ID]; ok {
		return nil, fmt.Errorf("%w: token revoked", domain.ErrTokenExpired)
	}
	acc := g.byIDLocked(c.Subject)
	if acc == nil {
		return nil, fmt.Errorf("%w: user not found", domain.ErrTokenExpired)
	}
	return acc, nil
}

func (g *Gateway) sign(subject, typ string, now time.Time, ttl time.Duration) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	s, err := t.SignedString(g.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return s, nil
}

func (g *Gateway) parse(token, typ string) (*claims, error) {
	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		return g.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(g.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if c.Type != typ {
		return nil, fmt.Errorf("expected %s token, got %q", typ, c.Type)
	}
	return &c, nil
}

func (g *Gateway) findLocked(login string) *account {
	if acc, ok := g.accounts[login]; ok {
		return acc
	}
	email := strings.ToLower(login)
	for _, acc := range g.accounts {
		if acc.identity.Email == email {
			return acc
		}
	}
	return nil
}

func (g *Gateway) byIDLocked(id string) *account {
	for _, acc := range g.accounts {
		if acc.identity.ID == id {
			return acc
		}
	}
	return nil
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
