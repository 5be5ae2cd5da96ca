// Package historylog defines the port for a worker's append-only task log.
package historylog

import (
	"context"

	"github.com/Strob0t/CodeHive/internal/domain/task"
)

// Log is an append-only record of completed tasks.
type Log interface {
	// Append adds one entry to the end of the log.
	Append(ctx context.Context, entry task.HistoryEntry) error

	// Recent returns up to limit of the newest entries, oldest first.
	// Entries that cannot be decoded are skipped.
	Recent(ctx context.Context, limit int) ([]task.HistoryEntry, error)
}
