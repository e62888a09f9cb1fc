package relay

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/bewithu/dashboard-session/internal/core/ports"
	"github.com/bewithu/dashboard-session/internal/infrastructure/metrics"
)

// resyncer is the slice of the session controller the relay drives.
type resyncer interface {
	Resync(ctx context.Context)
}

// Relay forwards change signals from a shared credential store to the
// session controller, one at a time and in arrival order.
type Relay struct {
	watcher ports.CredentialWatcher
	session resyncer
	backend string
	log     zerolog.Logger
}

// New creates a Relay. backend labels the store in metrics and logs.
func New(watcher ports.CredentialWatcher, session resyncer, backend string, log zerolog.Logger) *Relay {
	return &Relay{
		watcher: watcher,
		session: session,
		backend: backend,
		log:     log.With().Str("component", "store_relay").Str("backend", backend).Logger(),
	}
}

// Start subscribes to the store and launches the worker goroutine. The
// worker stops when ctx is cancelled or the watch channel closes; done is
// closed when it has exited.
func (r *Relay) Start(ctx context.Context) (done <-chan struct{}, err error) {
	changes, err := r.watcher.Watch(ctx)
	if err != nil {
		return nil, fmt.Errorf("watch credential store: %w", err)
	}
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		r.run(ctx, changes)
	}()
	r.log.Debug().Msg("watching credential store for external changes")
	return finished, nil
}

func (r *Relay) run(ctx context.Context, changes <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				r.log.Debug().Msg("credential store watch closed")
				return
			}
			metrics.StoreChangesTotal.WithLabelValues(r.backend).Inc()
			r.session.Resync(ctx)
		}
	}
}
