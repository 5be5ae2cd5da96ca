// Package broadcast defines the ports for reporting task execution progress
// to live observers.
package broadcast

import (
	"context"

	"github.com/Strob0t/CodeHive/internal/domain/event"
)

// Reporter receives the execution milestones of a single task. Each call
// updates the worker's runtime state and notifies subscribers. Calls must
// never block the caller on slow observers.
type Reporter interface {
	TaskStart(ctx context.Context, taskID, task string)
	TaskOutput(ctx context.Context, taskID, line string)
	TaskComplete(ctx context.Context, taskID string, success bool, result string)
	TaskError(ctx context.Context, taskID, message string)
}

// Sink receives a copy of every published event for delivery outside the
// process (e.g. a message bus). Forward must not block.
type Sink interface {
	Forward(ev event.Event)
}
