// Package natskv stores a worker's session record in a NATS JetStream
// key-value bucket, keyed by worker name.
package natskv

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/CodeHive/internal/port/sessionstore"
)

// SessionRecord is a sessionstore.Backend over one KV key.
type SessionRecord struct {
	kv  jetstream.KeyValue
	key string
}

var _ sessionstore.Backend = (*SessionRecord)(nil)

// NewSessionRecord returns the session record of workerName in kv.
func NewSessionRecord(kv jetstream.KeyValue, workerName string) *SessionRecord {
	return &SessionRecord{kv: kv, key: "session." + Key(workerName)}
}

// Key returns the record key suffix for workerName.
func Key(workerName string) string {
	if workerName == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '=':
			return r
		}
		return '_'
	}, workerName)
}

// Read returns the stored record.
func (s *SessionRecord) Read(ctx context.Context) ([]byte, bool, error) {
	entry, err := s.kv.Get(ctx, s.key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("kv get %s: %w", s.key, err)
	}
	return entry.Value(), true, nil
}

// Write replaces the stored record.
func (s *SessionRecord) Write(ctx context.Context, data []byte) error {
	if _, err := s.kv.Put(ctx, s.key, data); err != nil {
		return fmt.Errorf("kv put %s: %w", s.key, err)
	}
	return nil
}

// Remove deletes the stored record.
func (s *SessionRecord) Remove(ctx context.Context) error {
	err := s.kv.Delete(ctx, s.key)
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("kv delete %s: %w", s.key, err)
	}
	return nil
}
