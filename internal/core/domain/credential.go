package domain

import "time"

// Credential is the renewable proof of identity held by the client.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Complete reports whether all three parts are present. A partial credential
// is treated as no credential at all.
func (c *Credential) Complete() bool {
	return c != nil && c.AccessToken != "" && c.RefreshToken != "" && !c.ExpiresAt.IsZero()
}

// ExpiredAt reports whether the credential is expired at now.
// Expiry equal to now counts as expired.
func (c *Credential) ExpiredAt(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}

// Remaining returns the time left until expiry; negative once expired.
func (c *Credential) Remaining(now time.Time) time.Duration {
	return c.ExpiresAt.Sub(now)
}

// Equal compares two credentials field by field.
func (c *Credential) Equal(o *Credential) bool {
	if c == nil || o == nil {
		return c == o
	}
	return c.AccessToken == o.AccessToken &&
		c.RefreshToken == o.RefreshToken &&
		c.ExpiresAt.Equal(o.ExpiresAt)
}

// Clone returns a copy of c, or nil.
func (c *Credential) Clone() *Credential {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// AuthResult is what the auth server returns on login and refresh.
type AuthResult struct {
	Identity   *Identity
	Credential Credential
}
