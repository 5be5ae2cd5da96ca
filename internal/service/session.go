package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Strob0t/CodeHive/internal/domain"
	"github.com/Strob0t/CodeHive/internal/domain/session"
	"github.com/Strob0t/CodeHive/internal/port/sessionstore"
)

// SessionService implements sessionstore.Store on top of a raw record backend.
// It keeps the current session in memory and writes through on every change.
type SessionService struct {
	mu      sync.Mutex
	backend sessionstore.Backend
	current session.Session
	now     func() time.Time // for testing
}

var _ sessionstore.Store = (*SessionService)(nil)

// NewSessionService creates a session store and loads any persisted session.
func NewSessionService(ctx context.Context, backend sessionstore.Backend) (*SessionService, error) {
	s := &SessionService{backend: backend, now: time.Now}
	if _, err := s.Load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Load re-reads the backend. A missing or malformed record is a fresh session.
func (s *SessionService) Load(ctx context.Context) (session.Session, error) {
	data, found, err := s.backend.Read(ctx)
	if err != nil {
		return session.Session{}, fmt.Errorf("load session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !found {
		s.current = session.Session{}
		return s.snapshotLocked(), nil
	}
	loaded, ok := session.Decode(data)
	if !ok {
		slog.Warn("session record is malformed, starting fresh")
		s.current = session.Session{}
		return s.snapshotLocked(), nil
	}
	s.current = loaded
	return s.snapshotLocked(), nil
}

// Save records sessionID as the active session.
func (s *SessionService) Save(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: session id must not be empty", domain.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	next := s.current
	next.SessionID = &sessionID
	if next.CreatedAt == nil {
		next.CreatedAt = &now
	}
	next.UpdatedAt = &now

	if err := s.writeLocked(ctx, next); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	s.current = next
	return nil
}

// Clear forgets the session and resets the task counter.
func (s *SessionService) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Remove(ctx); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	s.current = session.Session{}
	return nil
}

// IncrementTaskCount bumps the task counter and persists it.
func (s *SessionService) IncrementTaskCount(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current
	next.TaskCount++
	if err := s.writeLocked(ctx, next); err != nil {
		return fmt.Errorf("increment task count: %w", err)
	}
	s.current = next
	return nil
}

// Snapshot returns a copy of the in-memory session.
func (s *SessionService) Snapshot() session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// writeLocked must be called with s.mu held.
func (s *SessionService) writeLocked(ctx context.Context, next session.Session) error {
	data, err := session.Encode(next)
	if err != nil {
		return err
	}
	return s.backend.Write(ctx, data)
}

// snapshotLocked must be called with s.mu held.
func (s *SessionService) snapshotLocked() session.Session {
	out := session.Session{TaskCount: s.current.TaskCount}
	if s.current.SessionID != nil {
		id := *s.current.SessionID
		out.SessionID = &id
	}
	if s.current.CreatedAt != nil {
		t := *s.current.CreatedAt
		out.CreatedAt = &t
	}
	if s.current.UpdatedAt != nil {
		t := *s.current.UpdatedAt
		out.UpdatedAt = &t
	}
	return out
}
