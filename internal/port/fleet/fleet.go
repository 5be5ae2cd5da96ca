// Package fleet defines the port through which the controller talks to workers.
package fleet

import (
	"context"

	"github.com/Strob0t/CodeHive/internal/domain/session"
	"github.com/Strob0t/CodeHive/internal/domain/task"
	"github.com/Strob0t/CodeHive/internal/domain/worker"
)

// Client is a connection to one worker. Health and Execute never fail: every
// problem is reported inside the returned value.
type Client interface {
	Name() string
	Health(ctx context.Context) worker.Health
	Execute(ctx context.Context, req task.Request) task.Result
	NewSession(ctx context.Context) (session.Session, error)
	Session(ctx context.Context) (session.Session, error)
	History(ctx context.Context, limit int) ([]task.HistoryEntry, error)
	Close()
}

// Factory creates a client for a configured worker.
type Factory func(desc worker.Descriptor) Client
