package domain

// Phase is the coarse lifecycle state of the client session.
type Phase string

const (
	PhaseAnonymous      Phase = "anonymous"
	PhaseAuthenticating Phase = "authenticating"
	PhaseAuthenticated  Phase = "authenticated"
)

// TransitionReason explains why the authenticated flag changed.
type TransitionReason string

const (
	ReasonLogin          TransitionReason = "login"
	ReasonLogout         TransitionReason = "logout"
	ReasonRestored       TransitionReason = "restored"
	ReasonRefreshed      TransitionReason = "refreshed"
	ReasonRefreshFailed  TransitionReason = "refresh_failed"
	ReasonSessionExpired TransitionReason = "session_expired"
	ReasonExternalChange TransitionReason = "external_change"
)

// Forced reports whether the reason is an involuntary loss of the session.
func (r TransitionReason) Forced() bool {
	switch r {
	case ReasonRefreshFailed, ReasonSessionExpired, ReasonExternalChange:
		return true
	}
	return false
}

// SessionSnapshot is an immutable copy of the controller's state.
type SessionSnapshot struct {
	Identity   *Identity
	Credential *Credential
	Loading    bool
	Refreshing bool
	Epoch      uint64
}

// Authenticated is true iff both identity and a complete credential are present.
func (s SessionSnapshot) Authenticated() bool {
	return s.Identity != nil && s.Credential.Complete()
}

// Phase derives the lifecycle phase from the snapshot.
func (s SessionSnapshot) Phase() Phase {
	switch {
	case s.Loading || s.Refreshing:
		return PhaseAuthenticating
	case s.Authenticated():
		return PhaseAuthenticated
	default:
		return PhaseAnonymous
	}
}

// Transition is emitted whenever the authenticated flag flips, or when the
// credential is renewed while authenticated.
type Transition struct {
	Authenticated bool
	Reason        TransitionReason
	Epoch         uint64
}
