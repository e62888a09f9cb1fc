package ports

import (
	"time"

	"github.com/bewithu/dashboard-session/internal/core/domain"
)

// SessionMetrics receives session lifecycle outcomes.
type SessionMetrics interface {
	// LoginAttempt result: success, invalid_credentials, network_error, superseded, error.
	LoginAttempt(result string)
	SessionEnded(reason domain.TransitionReason)
	// RefreshAttempt trigger: proactive, reactive, check; result: success, failure, superseded.
	RefreshAttempt(trigger, result string, took time.Duration)
	Authenticated(authenticated bool)
}
