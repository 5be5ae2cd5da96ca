// Package worker defines the worker lifecycle state machine and the
// controller-side worker descriptors.
package worker

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Status is the lifecycle state of a worker's execution slot.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusExecuting Status = "executing"
	StatusError     Status = "error"
)

// Trigger is an execution event that moves the state machine.
type Trigger string

const (
	TriggerStart    Trigger = "task_start"
	TriggerComplete Trigger = "task_complete"
	TriggerFail     Trigger = "task_error"
)

// ErrInvalidTransition is returned when a trigger is not allowed from the current status.
var ErrInvalidTransition = errors.New("invalid status transition")

// Next returns the status reached from s on trigger t.
//
//	idle, error --task_start--> executing
//	executing --task_complete--> idle
//	executing --task_error--> error
//
// A task may also fail before it starts executing (e.g. the engine binary is
// missing), so task_error is accepted from idle and error as well.
func (s Status) Next(t Trigger) (Status, error) {
	switch t {
	case TriggerStart:
		switch s {
		case StatusIdle, StatusError:
			return StatusExecuting, nil
		case StatusExecuting:
		}
	case TriggerComplete:
		switch s {
		case StatusExecuting:
			return StatusIdle, nil
		case StatusIdle, StatusError:
		}
	case TriggerFail:
		switch s {
		case StatusIdle, StatusExecuting, StatusError:
			return StatusError, nil
		}
	}
	return s, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, s, t)
}

// RuntimeState is a point-in-time view of a worker, served by /status and
// sent as the first frame of every live stream.
type RuntimeState struct {
	Status           Status     `json:"status"`
	CurrentTask      *string    `json:"current_task"`
	TaskStartTime    *time.Time `json:"task_start_time"`
	Elapsed          *float64   `json:"elapsed"`
	LastOutput       string     `json:"last_output"`
	ConnectedClients int        `json:"connected_clients"`
}

// Machine owns a worker's runtime state. CurrentTask and the task start time
// are set together on Start and cleared together on Complete and Fail.
type Machine struct {
	mu          sync.RWMutex
	status      Status
	currentTask *string
	startedAt   *time.Time
	lastOutput  string
	now         func() time.Time // for testing
}

// NewMachine returns a machine in the idle state.
func NewMachine() *Machine {
	return &Machine{status: StatusIdle, now: time.Now}
}

// Start moves the machine to executing for the given task text.
func (m *Machine) Start(task string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, err := m.status.Next(TriggerStart)
	if err != nil {
		return err
	}
	now := m.now()
	m.status = next
	m.currentTask = &task
	m.startedAt = &now
	m.lastOutput = ""
	return nil
}

// Output records the most recent output line and returns the elapsed time
// of the current task.
func (m *Machine) Output(line string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastOutput = line
	return m.elapsedLocked()
}

// Complete returns the machine to idle and reports how long the task ran.
func (m *Machine) Complete() (time.Duration, error) {
	return m.finish(TriggerComplete)
}

// Fail moves the machine to error and reports how long the task ran.
func (m *Machine) Fail() (time.Duration, error) {
	return m.finish(TriggerFail)
}

func (m *Machine) finish(t Trigger) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elapsed := m.elapsedLocked()
	next, err := m.status.Next(t)
	if err != nil {
		return elapsed, err
	}
	m.status = next
	m.currentTask = nil
	m.startedAt = nil
	return elapsed, nil
}

// Status returns the current status.
func (m *Machine) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Snapshot returns the current state. clients is the live subscriber count,
// which the machine does not track itself.
func (m *Machine) Snapshot(clients int) RuntimeState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := RuntimeState{
		Status:           m.status,
		LastOutput:       m.lastOutput,
		ConnectedClients: clients,
	}
	if m.currentTask != nil {
		task := *m.currentTask
		st.CurrentTask = &task
	}
	if m.startedAt != nil {
		started := *m.startedAt
		elapsed := m.now().Sub(started).Seconds()
		st.TaskStartTime = &started
		st.Elapsed = &elapsed
	}
	return st
}

// elapsedLocked must be called with m.mu held.
func (m *Machine) elapsedLocked() time.Duration {
	if m.startedAt == nil {
		return 0
	}
	return m.now().Sub(*m.startedAt)
}
