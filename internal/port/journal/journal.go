// Package journal defines the port for the controller's record of dispatched
// task results.
package journal

import (
	"context"

	"github.com/Strob0t/CodeHive/internal/domain/task"
)

// Journal stores every result the controller receives.
type Journal interface {
	Record(ctx context.Context, text string, res task.Result) error
	Recent(ctx context.Context, worker string, limit int) ([]task.JournalEntry, error)
}
