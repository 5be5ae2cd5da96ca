// Package task defines the task request, result, and history entities
// exchanged between the controller and workers.
package task

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Strob0t/CodeHive/internal/domain"
)

// DefaultTimeoutSeconds is used when a request omits its timeout.
const DefaultTimeoutSeconds = 300

// NoOutput replaces an empty result so callers never see blank result text.
const NoOutput = "(No output)"

// Request asks a worker to run one task on its reasoning engine.
type Request struct {
	Task           string   `json:"task"`
	NewSession     bool     `json:"new_session"`
	TimeoutSeconds int      `json:"timeout"`
	AllowedTools   []string `json:"allowed_tools,omitempty"`
	Autonomous     bool     `json:"autonomous"`
}

// NewRequest returns a Request carrying the wire defaults: default timeout
// and autonomous mode on. JSON bodies decoded over it keep these values for
// omitted fields.
func NewRequest(text string) Request {
	return Request{
		Task:           text,
		TimeoutSeconds: DefaultTimeoutSeconds,
		Autonomous:     true,
	}
}

// Validate checks the request before any process is spawned.
func (r *Request) Validate() error {
	if strings.TrimSpace(r.Task) == "" {
		return fmt.Errorf("%w: task cannot be empty", domain.ErrValidation)
	}
	if r.TimeoutSeconds <= 0 {
		return fmt.Errorf("%w: timeout must be a positive number of seconds", domain.ErrValidation)
	}
	return nil
}

// Timeout returns the request timeout as a duration.
func (r *Request) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// Result is the outcome of one task. It is always populated, including on
// failure, and Result is never empty.
type Result struct {
	Success       bool    `json:"success"`
	Result        string  `json:"result"`
	SessionID     *string `json:"session_id"`
	ExecutionTime float64 `json:"execution_time"`
	Timestamp     string  `json:"timestamp"`
	WorkerName    string  `json:"worker,omitempty"`
}

// Failed builds a failure result for worker with the given message.
func Failed(worker, message string, elapsed time.Duration) Result {
	if message == "" {
		message = NoOutput
	}
	return Result{
		Success:       false,
		Result:        message,
		ExecutionTime: elapsed.Seconds(),
		Timestamp:     Timestamp(time.Now()),
		WorkerName:    worker,
	}
}

// Timestamp formats t the way results and history entries carry it.
func Timestamp(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

// HistoryEntry is one line of a worker's append-only task log.
type HistoryEntry struct {
	ID            string  `json:"id,omitempty"`
	Timestamp     string  `json:"timestamp"`
	Task          string  `json:"task"`
	ResultPreview string  `json:"result_preview"`
	ExecutionTime float64 `json:"execution_time"`
	SessionID     *string `json:"session_id"`
	Success       *bool   `json:"success,omitempty"`
}

// Preview shortens s to at most n runes. It never splits a UTF-8 sequence.
func Preview(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
