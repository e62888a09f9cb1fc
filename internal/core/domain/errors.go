package domain

import "errors"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNetwork            = errors.New("network error")
	ErrTokenExpired       = errors.New("token expired")
	ErrRefreshRejected    = errors.New("refresh rejected")
	ErrValidation         = errors.New("validation error")
	ErrInvalidRole        = errors.New("invalid role")
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrSessionSuperseded  = errors.New("session superseded")
	ErrStoreUnavailable   = errors.New("credential store unavailable")
)

// SessionLost reports whether err means the session can no longer be used
// and must be resolved by dropping to the anonymous state.
func SessionLost(err error) bool {
	return errors.Is(err, ErrTokenExpired) || errors.Is(err, ErrRefreshRejected)
}
