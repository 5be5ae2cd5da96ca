// Package filestore implements the session backend and the task history log
// on the local filesystem, under a per-worker data directory.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	// SessionFile holds the session record inside the data directory.
	SessionFile = "session_id"
	// HistoryFile holds the newline-delimited task log inside the data directory.
	HistoryFile = "history.jsonl"
)

// SessionRecord implements sessionstore.Backend with a single JSON file.
type SessionRecord struct {
	path string
}

// NewSessionRecord returns a backend storing its record in dir, creating dir
// if needed.
func NewSessionRecord(dir string) (*SessionRecord, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &SessionRecord{path: filepath.Join(dir, SessionFile)}, nil
}

// Path returns the record location.
func (s *SessionRecord) Path() string { return s.path }

// Read returns the record bytes, or found=false when the file does not exist.
func (s *SessionRecord) Read(_ context.Context) (data []byte, found bool, err error) {
	data, err = os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read session record: %w", err)
	}
	return data, true, nil
}

// Write replaces the record atomically by renaming a temp file over it.
func (s *SessionRecord) Write(_ context.Context, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".session-*")
	if err != nil {
		return fmt.Errorf("create temp session record: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write session record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close session record: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace session record: %w", err)
	}
	return nil
}

// Remove deletes the record file if it exists.
func (s *SessionRecord) Remove(_ context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session record: %w", err)
	}
	return nil
}
