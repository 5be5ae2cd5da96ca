// Package session defines the resumable reasoning-engine session of a worker.
package session

import (
	"encoding/json"
	"time"
)

// Session is the resumable conversation context issued by the external
// reasoning engine. SessionID is never generated locally: it is either nil
// or a non-empty token reported by the engine.
type Session struct {
	SessionID *string    `json:"session_id"`
	CreatedAt *time.Time `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
	TaskCount int        `json:"task_count"`
}

// ID returns the session identifier or "" when no session is active.
func (s Session) ID() string {
	if s.SessionID == nil {
		return ""
	}
	return *s.SessionID
}

// Record is the persisted form of a Session. Unknown fields are ignored and
// missing ones default, so older and newer workers can share a data dir.
type Record struct {
	SessionID string `json:"session_id,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
	TaskCount int    `json:"task_count,omitempty"`
}

// Encode renders s as an indented JSON record.
func Encode(s Session) ([]byte, error) {
	rec := Record{SessionID: s.ID(), TaskCount: s.TaskCount}
	if s.CreatedAt != nil {
		rec.CreatedAt = s.CreatedAt.Format(time.RFC3339Nano)
	}
	if s.UpdatedAt != nil {
		rec.UpdatedAt = s.UpdatedAt.Format(time.RFC3339Nano)
	}
	return json.MarshalIndent(rec, "", "  ")
}

// Decode parses a persisted record. It reports false when the data is not a
// usable record; callers treat that as "no session".
func Decode(data []byte) (Session, bool) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Session{}, false
	}

	var s Session
	if rec.SessionID != "" {
		id := rec.SessionID
		s.SessionID = &id
	}
	if t, err := time.Parse(time.RFC3339Nano, rec.CreatedAt); err == nil {
		s.CreatedAt = &t
	}
	if t, err := time.Parse(time.RFC3339Nano, rec.UpdatedAt); err == nil {
		s.UpdatedAt = &t
	}
	if rec.TaskCount > 0 {
		s.TaskCount = rec.TaskCount
	}
	return s, true
}
