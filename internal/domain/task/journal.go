package task

import "time"

// JournalEntry is one dispatched task as recorded by the controller.
type JournalEntry struct {
	ID            int64     `json:"id"`
	Worker        string    `json:"worker"`
	Task          string    `json:"task"`
	Success       bool      `json:"success"`
	Result        string    `json:"result"`
	SessionID     *string   `json:"session_id"`
	ExecutionTime float64   `json:"execution_time"`
	RecordedAt    time.Time `json:"recorded_at"`
}
