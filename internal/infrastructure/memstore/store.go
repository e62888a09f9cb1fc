package memstore

import (
	"context"
	"sync"

	"github.com/bewithu/dashboard-session/internal/core/domain"
)

// Store keeps the credential in process memory. Nothing survives a restart.
type Store struct {
	mu   sync.RWMutex
	cred *domain.Credential
}

func New() *Store {
	return &Store{}
}

func (s *Store) Read(_ context.Context) (*domain.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.cred.Complete() {
		return nil, nil
	}
	return s.cred.Clone(), nil
}

func (s *Store) Write(_ context.Context, c domain.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = c.Clone()
	return nil
}

func (s *Store) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = nil
	return nil
}

func (s *Store) Ping(_ context.Context) error {
	return nil
}
