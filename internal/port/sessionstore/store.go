// Package sessionstore defines the port for persisting a worker's resumable
// reasoning-engine session.
package sessionstore

import (
	"context"

	"github.com/Strob0t/CodeHive/internal/domain/session"
)

// Store is the typed session store used by the executor and the HTTP surface.
// A store belongs to exactly one worker.
type Store interface {
	// Load refreshes the store from its backend and returns the current session.
	// Malformed persisted data yields an empty session, not an error.
	Load(ctx context.Context) (session.Session, error)

	// Save records sessionID as the active session. CreatedAt is set only the
	// first time a session is created in the current lifetime; UpdatedAt is
	// refreshed on every save.
	Save(ctx context.Context, sessionID string) error

	// Clear forgets the active session and resets the task counter.
	Clear(ctx context.Context) error

	// IncrementTaskCount bumps the number of tasks run in this session.
	IncrementTaskCount(ctx context.Context) error

	// Snapshot returns the in-memory session without touching the backend.
	Snapshot() session.Session
}

// Backend persists the raw session record. Implementations store a single
// record keyed by worker identity.
type Backend interface {
	// Read returns the stored record, or found=false when there is none.
	Read(ctx context.Context) (data []byte, found bool, err error)

	// Write replaces the stored record.
	Write(ctx context.Context, data []byte) error

	// Remove deletes the stored record. Removing a missing record is not an error.
	Remove(ctx context.Context) error
}
