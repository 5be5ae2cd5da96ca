// Package event defines the live broadcast events a worker emits while it
// executes tasks. Events are ephemeral: they exist only in transit to
// subscribers and are never persisted.
package event

import (
	"time"

	"github.com/Strob0t/CodeHive/internal/domain/worker"
)

// Type identifies the kind of broadcast event.
type Type string

const (
	TypeStatus       Type = "status"
	TypeTaskStart    Type = "task_start"
	TypeOutput       Type = "output"
	TypeTaskComplete Type = "task_complete"
	TypeTaskError    Type = "task_error"
)

// Event is the tagged union sent to stream subscribers. Type selects which
// of the optional fields are populated; use the constructors below.
type Event struct {
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	TaskID    string    `json:"task_id,omitempty"`

	// status, task_start, task_complete, task_error
	Status worker.Status `json:"status,omitempty"`

	// status
	WorkerName       string  `json:"worker_name,omitempty"`
	CurrentTask      *string `json:"current_task,omitempty"`
	LastOutput       string  `json:"last_output,omitempty"`
	ConnectedClients *int    `json:"connected_clients,omitempty"`

	// task_start
	Task string `json:"task,omitempty"`

	// output
	Line string `json:"line,omitempty"`

	// output, task_complete, status
	Elapsed *float64 `json:"elapsed,omitempty"`

	// task_complete
	Success       *bool  `json:"success,omitempty"`
	ResultPreview string `json:"result_preview,omitempty"`

	// task_error
	Error string `json:"error,omitempty"`
}

// StatusSnapshot builds the synthetic status event a new subscriber receives first.
func StatusSnapshot(workerName string, st worker.RuntimeState, at time.Time) Event {
	clients := st.ConnectedClients
	return Event{
		Type:             TypeStatus,
		Timestamp:        at,
		Status:           st.Status,
		WorkerName:       workerName,
		CurrentTask:      st.CurrentTask,
		LastOutput:       st.LastOutput,
		ConnectedClients: &clients,
		Elapsed:          st.Elapsed,
	}
}

// TaskStart announces that a task began executing.
func TaskStart(taskID, taskPreview string, at time.Time) Event {
	return Event{
		Type:      TypeTaskStart,
		Timestamp: at,
		TaskID:    taskID,
		Task:      taskPreview,
		Status:    worker.StatusExecuting,
	}
}

// Output carries one line of engine output.
func Output(taskID, line string, elapsed time.Duration, at time.Time) Event {
	secs := elapsed.Seconds()
	return Event{
		Type:      TypeOutput,
		Timestamp: at,
		TaskID:    taskID,
		Line:      line,
		Elapsed:   &secs,
	}
}

// TaskComplete announces that the engine process finished.
func TaskComplete(taskID string, success bool, resultPreview string, elapsed time.Duration, at time.Time) Event {
	secs := elapsed.Seconds()
	return Event{
		Type:          TypeTaskComplete,
		Timestamp:     at,
		TaskID:        taskID,
		Success:       &success,
		ResultPreview: resultPreview,
		Elapsed:       &secs,
		Status:        worker.StatusIdle,
	}
}

// TaskError announces that a task failed without a normal completion.
func TaskError(taskID, message string, at time.Time) Event {
	return Event{
		Type:      TypeTaskError,
		Timestamp: at,
		TaskID:    taskID,
		Error:     message,
		Status:    worker.StatusError,
	}
}
