package service

import (
	"net/url"

	"github.com/bewithu/dashboard-session/internal/core/domain"
)

// LoginPath is where unauthenticated visitors are sent.
const LoginPath = "/login"

// Verdict classifies access to a protected screen.
type Verdict string

const (
	VerdictPending  Verdict = "pending"
	VerdictRedirect Verdict = "redirect"
	VerdictDenied   Verdict = "denied"
	VerdictAllowed  Verdict = "allowed"
)

// ReasonInsufficientRole is the denial reason for a role below the requirement.
const ReasonInsufficientRole = "insufficient role"

// Decision is the outcome of Evaluate.
type Decision struct {
	Verdict Verdict
	// Reason is set for VerdictDenied.
	Reason string
	// RedirectTo and From are set for VerdictRedirect. From is the location
	// originally requested so the caller can return there after login.
	RedirectTo string
	From       string
}

// Location renders the redirect target with the original location attached.
func (d Decision) Location() string {
	if d.Verdict != VerdictRedirect {
		return ""
	}
	if d.From == "" {
		return d.RedirectTo
	}
	return d.RedirectTo + "?from=" + url.QueryEscape(d.From)
}

// Evaluate decides whether the session may see a screen requiring role
// (empty means any authenticated identity). It never mutates anything.
//
//	loading             → Pending (do not decide yet)
//	no identity         → Redirect(login, from=location)
//	role below required → Denied("insufficient role")
//	otherwise           → Allowed
func Evaluate(s domain.SessionSnapshot, required domain.Role, location string) Decision {
	if s.Loading {
		return Decision{Verdict: VerdictPending}
	}
	if !s.Authenticated() {
		return Decision{Verdict: VerdictRedirect, RedirectTo: LoginPath, From: location}
	}
	if required != "" && !s.Identity.Role.AtLeast(required) {
		return Decision{Verdict: VerdictDenied, Reason: ReasonInsufficientRole}
	}
	return Decision{Verdict: VerdictAllowed}
}
