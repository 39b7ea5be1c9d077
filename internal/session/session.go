// Package session holds the single active user of an execution context.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fineu/fineu-core/internal/domain"
	"github.com/fineu/fineu-core/internal/kv"
)

// ErrNoSession indicates that no user is signed in on this context.
var ErrNoSession = errors.New("no active session")

// Session caches the active user's record and mirrors it to kv.CurrentUserKey.
type Session struct {
	mu      sync.RWMutex
	backend kv.Backend
	log     *slog.Logger
	record  *domain.UserRecord
}

// New creates an empty session over backend. Call Init to pick up a stored session.
func New(backend kv.Backend, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}

	return &Session{
		backend: backend,
		log:     log,
	}
}

// Init loads the persisted session, if any.
func (s *Session) Init(ctx context.Context) error {
	return s.Reload(ctx)
}

// Teardown forgets the cached record. The persisted session is kept.
func (s *Session) Teardown() {
	s.mu.Lock()
	s.record = nil
	s.mu.Unlock()
}

// Reload replaces the cache with whatever the backend currently holds.
// A malformed stored session is treated as signed out.
func (s *Session) Reload(ctx context.Context) error {
	rec, err := s.Stored(ctx)
	if err != nil && !errors.Is(err, ErrNoSession) {
		return err
	}

	s.mu.Lock()
	s.record = rec
	s.mu.Unlock()
	return nil
}

// Stored reads the session straight from the backend without touching the cache.
func (s *Session) Stored(ctx context.Context) (*domain.UserRecord, error) {
	raw, err := s.backend.Get(ctx, kv.CurrentUserKey)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("read session: %w", err)
	}

	var rec domain.UserRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		s.log.Warn("ignoring malformed stored session", slog.Any("error", err))
		return nil, ErrNoSession
	}
	if err := domain.ValidateUserID(rec.ID); err != nil {
		s.log.Warn("ignoring stored session with invalid user id", slog.Any("error", err))
		return nil, ErrNoSession
	}
	return &rec, nil
}

// Active reports whether a user is signed in.
func (s *Session) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.record != nil
}

// UserID returns the active user id, or "" when signed out.
func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.record == nil {
		return ""
	}
	return s.record.ID
}

// Snapshot returns a copy of the active record.
func (s *Session) Snapshot() (domain.UserRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.record == nil {
		return domain.UserRecord{}, false
	}
	return s.record.Clone(), true
}

// Replace persists rec as the active session and caches it.
func (s *Session) Replace(ctx context.Context, rec domain.UserRecord) error {
	if err := domain.ValidateUserID(rec.ID); err != nil {
		return fmt.Errorf("replace session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.persistLocked(ctx, rec)
}

// Update applies fn to a copy of the active record and persists the result.
// It returns the record before and after the change.
func (s *Session) Update(ctx context.Context, fn func(rec *domain.UserRecord)) (before, after domain.UserRecord, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.record == nil {
		return domain.UserRecord{}, domain.UserRecord{}, ErrNoSession
	}

	before = s.record.Clone()
	next := s.record.Clone()
	fn(&next)
	next.ID = before.ID

	if err := s.persistLocked(ctx, next); err != nil {
		return before, before, err
	}
	return before, next.Clone(), nil
}

// Clear signs the user out and removes the persisted session.
func (s *Session) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Delete(ctx, kv.CurrentUserKey); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	s.record = nil
	return nil
}

func (s *Session) persistLocked(ctx context.Context, rec domain.UserRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.backend.Set(ctx, kv.CurrentUserKey, string(payload)); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}

	cached := rec.Clone()
	s.record = &cached
	return nil
}
