package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"github.com/bewithu/dashboard-session/internal/core/domain"
)

const (
	lockRetryDelay = 25 * time.Millisecond
	dirPerm        = 0o700
	filePerm       = 0o600
)

// Config captures the settings of a file-backed credential store.
type Config struct {
	// Path of the session file.
	Path string
	// Secret enables at-rest encryption when non-empty.
	Secret string
}

// Store persists the credential triple as a small JSON document. Writes go
// through a temp file and a rename so readers never observe a half-written
// triple; a sidecar lock file serialises processes sharing the path.
type Store struct {
	path   string
	lock   *flock.Flock
	sealer *sealer
	log    zerolog.Logger
}

// record is the on-disk layout.
type record struct {
	AccessToken  string `json:"access-token"`
	RefreshToken string `json:"refresh-token"`
	ExpiresAt    string `json:"expires-at"`
}

// envelope wraps the record when encryption is enabled.
type envelope struct {
	Sealed string `json:"sealed"`
}

func New(cfg Config, log zerolog.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("filestore: path is required")
	}
	path, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("filestore: resolve path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return nil, fmt.Errorf("filestore: create directory: %w", err)
	}

	s := &Store{
		path: path,
		lock: flock.New(path + ".lock"),
		log:  log.With().Str("component", "filestore").Logger(),
	}
	if cfg.Secret != "" {
		s.sealer, err = newSealer(cfg.Secret)
		if err != nil {
			return nil, fmt.Errorf("filestore: %w", err)
		}
	}
	return s, nil
}

// Path returns the absolute path of the session file.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) Read(ctx context.Context) (*domain.Credential, error) {
	locked, err := s.lock.TryRLockContext(ctx, lockRetryDelay)
	if err != nil || !locked {
		return nil, fmt.Errorf("read session file: lock: %w", lockErr(err))
	}
	defer s.unlock()

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}

	rec, err := s.decode(raw)
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}
	if rec.AccessToken == "" || rec.RefreshToken == "" || rec.ExpiresAt == "" {
		return nil, nil
	}
	exp, err := time.Parse(time.RFC3339Nano, rec.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("read session file: expires-at: %w", err)
	}

	return &domain.Credential{
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		ExpiresAt:    exp,
	}, nil
}

func (s *Store) Write(ctx context.Context, c domain.Credential) error {
	raw, err := s.encode(record{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		ExpiresAt:    c.ExpiresAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("write session file: %w", err)
	}

	locked, err := s.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !locked {
		return fmt.Errorf("write session file: lock: %w", lockErr(err))
	}
	defer s.unlock()

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(filePerm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write session file: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	locked, err := s.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !locked {
		return fmt.Errorf("clear session file: lock: %w", lockErr(err))
	}
	defer s.unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear session file: %w", err)
	}
	return nil
}

// Ping checks that the session directory is still writable.
func (s *Store) Ping(_ context.Context) error {
	info, err := os.Stat(filepath.Dir(s.path))
	if err != nil {
		return fmt.Errorf("session directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("session directory: %s is not a directory", filepath.Dir(s.path))
	}
	return nil
}

func (s *Store) unlock() {
	if err := s.lock.Unlock(); err != nil {
		s.log.Warn().Err(err).Msg("failed to release session file lock")
	}
}

func (s *Store) encode(rec record) ([]byte, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	if s.sealer == nil {
		return raw, nil
	}
	sealed, err := s.sealer.seal(raw)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Sealed: sealed})
}

func (s *Store) decode(raw []byte) (record, error) {
	var rec record
	if s.sealer != nil {
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return rec, fmt.Errorf("decode envelope: %w", err)
		}
		if env.Sealed == "" {
			return rec, errors.New("session file is not encrypted")
		}
		plain, err := s.sealer.open(env.Sealed)
		if err != nil {
			return rec, err
		}
		raw = plain
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return rec, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

func lockErr(err error) error {
	if err != nil {
		return err
	}
	return errors.New("not acquired")
}
