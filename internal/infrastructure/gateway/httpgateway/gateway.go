package httpgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/bewithu/dashboard-session/internal/core/domain"
)

const defaultTimeout = 30 * time.Second

// Config captures the settings of the REST auth gateway.
type Config struct {
	// BaseURL is the API root, e.g. http://localhost:5000/api.
	BaseURL string
	Timeout time.Duration
}

// Gateway talks to the dashboard auth API under <BaseURL>/auth.
// Transport failures map to domain.ErrNetwork; HTTP statuses map to the
// domain error of each operation.
type Gateway struct {
	client   *resty.Client
	validate *validator.Validate
	log      zerolog.Logger
}

func New(cfg Config, log zerolog.Logger) *Gateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Gateway{
		client:   client,
		validate: validator.New(),
		log:      log.With().Str("component", "http_gateway").Logger(),
	}
}

func (g *Gateway) Login(ctx context.Context, username, password string, rememberMe bool) (*domain.AuthResult, error) {
	var out authResponse
	var fail errorResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(loginRequest{Username: username, Password: password, RememberMe: rememberMe}).
		SetResult(&out).
		SetError(&fail).
		Post("/auth/login")
	if err != nil {
		return nil, transportErr(err)
	}

	switch code := resp.StatusCode(); {
	case code == http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidCredentials, fail.text())
	case code == http.StatusBadRequest:
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidCredentials, fail.text())
	case resp.IsError():
		return nil, statusErr(resp, &fail)
	}

	if out.User == nil {
		return nil, fmt.Errorf("%w: login response without user", domain.ErrNetwork)
	}
	identity, err := g.identityFrom(out.User)
	if err != nil {
		return nil, err
	}
	cred, err := credentialFrom(out, "")
	if err != nil {
		return nil, err
	}
	return &domain.AuthResult{Identity: identity, Credential: cred}, nil
}

// Logout revokes the session remotely.
func (g *Gateway) Logout(ctx context.Context, token string) error {
	var fail errorResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetError(&fail).
		Post("/auth/logout")
	if err != nil {
		return transportErr(err)
	}
	if resp.IsError() {
		return statusErr(resp, &fail)
	}
	return nil
}

// Refresh exchanges the refresh token for a new access token. The token is
// sent both as bearer and in the body. When the response omits the refresh
// token the old one is kept; when it omits the user, Identity is nil and the
// caller resolves it.
func (g *Gateway) Refresh(ctx context.Context, refreshToken string) (*domain.AuthResult, error) {
	var out authResponse
	var fail errorResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetAuthToken(refreshToken).
		SetBody(refreshRequest{RefreshToken: refreshToken}).
		SetResult(&out).
		SetError(&fail).
		Post("/auth/refresh")
	if err != nil {
		return nil, transportErr(err)
	}

	switch code := resp.StatusCode(); {
	case code == http.StatusUnauthorized, code == http.StatusUnprocessableEntity, code == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s", domain.ErrRefreshRejected, fail.text())
	case resp.IsError():
		return nil, statusErr(resp, &fail)
	}

	var identity *domain.Identity
	if out.User != nil {
		if identity, err = g.identityFrom(out.User); err != nil {
			return nil, err
		}
	}
	cred, err := credentialFrom(out, refreshToken)
	if err != nil {
		return nil, err
	}
	return &domain.AuthResult{Identity: identity, Credential: cred}, nil
}

func (g *Gateway) CurrentUser(ctx context.Context, token string) (*domain.Identity, error) {
	var fail errorResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetError(&fail).
		Get("/auth/me")
	if err != nil {
		return nil, transportErr(err)
	}

	switch code := resp.StatusCode(); {
	case code == http.StatusUnauthorized, code == http.StatusUnprocessableEntity:
		return nil, fmt.Errorf("%w: %s", domain.ErrTokenExpired, fail.text())
	case resp.IsError():
		return nil, statusErr(resp, &fail)
	}
	return g.decodeIdentity(resp.Body())
}

func (g *Gateway) UpdateProfile(ctx context.Context, token string, update domain.ProfileUpdate) (*domain.Identity, error) {
	if update.Language != nil && !update.Language.Valid() {
		return nil, fmt.Errorf("%w: unsupported language %q", domain.ErrValidation, *update.Language)
	}

	var fail errorResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(update).
		SetError(&fail).
		Put("/auth/profile")
	if err != nil {
		return nil, transportErr(err)
	}

	switch code := resp.StatusCode(); {
	case code == http.StatusBadRequest, code == http.StatusUnprocessableEntity, code == http.StatusConflict:
		return nil, fmt.Errorf("%w: %s", domain.ErrValidation, fail.text())
	case code == http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: %s", domain.ErrTokenExpired, fail.text())
	case resp.IsError():
		return nil, statusErr(resp, &fail)
	}
	return g.decodeIdentity(resp.Body())
}

// decodeIdentity accepts both {"user": {...}} and a bare user object.
func (g *Gateway) decodeIdentity(body []byte) (*domain.Identity, error) {
	var env userResponse
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: decode user: %v", domain.ErrNetwork, err)
	}
	u := env.User
	if u == nil {
		var bare wireUser
		if err := json.Unmarshal(body, &bare); err != nil {
			return nil, fmt.Errorf("%w: decode user: %v", domain.ErrNetwork, err)
		}
		u = &bare
	}
	return g.identityFrom(u)
}

// identityFrom maps a wire user and rejects unknown roles and malformed
// records.
func (g *Gateway) identityFrom(u *wireUser) (*domain.Identity, error) {
	id := u.toIdentity()
	if !id.Role.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidRole, u.Role)
	}
	if err := g.validate.Struct(id); err != nil {
		return nil, fmt.Errorf("%w: malformed user: %v", domain.ErrNetwork, err)
	}
	return id, nil
}

// credentialFrom builds the credential triple. A missing or unparsable
// expiresAt falls back to the exp claim of the access token.
func credentialFrom(out authResponse, fallbackRefresh string) (domain.Credential, error) {
	cred := domain.Credential{
		AccessToken:  out.Token,
		RefreshToken: out.RefreshToken,
	}
	if cred.RefreshToken == "" {
		cred.RefreshToken = fallbackRefresh
	}
	if cred.AccessToken == "" || cred.RefreshToken == "" {
		return cred, fmt.Errorf("%w: incomplete credential in response", domain.ErrNetwork)
	}

	exp, err := parseExpiry(out.ExpiresAt)
	if err != nil {
		exp, err = tokenExpiry(out.Token)
		if err != nil {
			return cred, fmt.Errorf("%w: no usable expiry: %v", domain.ErrNetwork, err)
		}
	}
	cred.ExpiresAt = exp
	return cred, nil
}

// parseExpiry accepts RFC 3339 and the zone-less ISO form some servers emit
// (interpreted as UTC).
func parseExpiry(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("empty expiresAt")
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02T15:04:05.999999999", s, time.UTC)
}

// tokenExpiry reads the exp claim without verifying the signature; the
// gateway holds no key and only needs the advertised lifetime.
func tokenExpiry(token string) (time.Time, error) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, errors.New("token has no exp claim")
	}
	return claims.ExpiresAt.Time, nil
}

func transportErr(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrNetwork, err)
}

func statusErr(resp *resty.Response, fail *errorResponse) error {
	msg := fail.text()
	if msg == "" {
		msg = resp.Status()
	}
	return fmt.Errorf("%w: %s %s: %d %s", domain.ErrNetwork, resp.Request.Method, resp.Request.URL, resp.StatusCode(), msg)
}
