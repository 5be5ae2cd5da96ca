package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/CodeHive/internal/domain"
)

// memBackend implements sessionstore.Backend in memory.
type memBackend struct {
	mu       sync.Mutex
	data     []byte
	writeErr error
	writes   int
}

func (b *memBackend) Read(_ context.Context) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data == nil {
		return nil, false, nil
	}
	return append([]byte(nil), b.data...), true, nil
}

func (b *memBackend) Write(_ context.Context, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.writeErr != nil {
		return b.writeErr
	}
	b.data = append([]byte(nil), data...)
	b.writes++
	return nil
}

func (b *memBackend) Remove(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = nil
	return nil
}

func TestSessionServiceFresh(t *testing.T) {
	svc, err := NewSessionService(context.Background(), &memBackend{})
	if err != nil {
		t.Fatalf("NewSessionService: %v", err)
	}
	snap := svc.Snapshot()
	if snap.SessionID != nil || snap.CreatedAt != nil || snap.TaskCount != 0 {
		t.Fatalf("expected empty session, got %+v", snap)
	}
}

func TestSessionServiceMalformedRecord(t *testing.T) {
	backend := &memBackend{data: []byte("{not json")}
	svc, err := NewSessionService(context.Background(), backend)
	if err != nil {
		t.Fatalf("malformed record should not fail: %v", err)
	}
	if svc.Snapshot().SessionID != nil {
		t.Fatal("expected no session for malformed record")
	}
}

func TestSessionServiceSaveKeepsCreatedAt(t *testing.T) {
	ctx := context.Background()
	svc, _ := NewSessionService(ctx, &memBackend{})

	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc.now = func() time.Time { return t0 }
	if err := svc.Save(ctx, "abc"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	t1 := t0.Add(time.Minute)
	svc.now = func() time.Time { return t1 }
	if err := svc.Save(ctx, "def"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	snap := svc.Snapshot()
	if snap.ID() != "def" {
		t.Errorf("session id = %q, want def", snap.ID())
	}
	if !snap.CreatedAt.Equal(t0) {
		t.Errorf("created_at = %v, want %v", snap.CreatedAt, t0)
	}
	if !snap.UpdatedAt.Equal(t1) {
		t.Errorf("updated_at = %v, want %v", snap.UpdatedAt, t1)
	}
}

func TestSessionServiceSaveEmptyID(t *testing.T) {
	svc, _ := NewSessionService(context.Background(), &memBackend{})
	err := svc.Save(context.Background(), "")
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestSessionServicePersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	backend := &memBackend{}
	first, _ := NewSessionService(ctx, backend)
	if err := first.Save(ctx, "abc"); err != nil {
		t.Fatal(err)
	}
	if err := first.IncrementTaskCount(ctx); err != nil {
		t.Fatal(err)
	}
	if err := first.IncrementTaskCount(ctx); err != nil {
		t.Fatal(err)
	}

	second, err := NewSessionService(ctx, backend)
	if err != nil {
		t.Fatal(err)
	}
	snap := second.Snapshot()
	if snap.ID() != "abc" {
		t.Errorf("session id = %q, want abc", snap.ID())
	}
	if snap.TaskCount != 2 {
		t.Errorf("task_count = %d, want 2", snap.TaskCount)
	}
}

func TestSessionServiceClear(t *testing.T) {
	ctx := context.Background()
	backend := &memBackend{}
	svc, _ := NewSessionService(ctx, backend)
	_ = svc.Save(ctx, "abc")
	_ = svc.IncrementTaskCount(ctx)

	if err := svc.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	snap := svc.Snapshot()
	if snap.SessionID != nil || snap.TaskCount != 0 || snap.CreatedAt != nil {
		t.Fatalf("expected cleared session, got %+v", snap)
	}
	if backend.data != nil {
		t.Error("expected backend record removed")
	}

	loaded, err := svc.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.SessionID != nil {
		t.Error("expected no session after reload")
	}
}

func TestSessionServiceWriteFailureKeepsState(t *testing.T) {
	ctx := context.Background()
	backend := &memBackend{}
	svc, _ := NewSessionService(ctx, backend)
	_ = svc.Save(ctx, "abc")

	backend.writeErr = errors.New("disk full")
	if err := svc.Save(ctx, "def"); err == nil {
		t.Fatal("expected error")
	}
	if err := svc.IncrementTaskCount(ctx); err == nil {
		t.Fatal("expected error")
	}
	snap := svc.Snapshot()
	if snap.ID() != "abc" || snap.TaskCount != 0 {
		t.Fatalf("state changed on failed write: %+v", snap)
	}
}

func TestSessionServiceSnapshotIsCopy(t *testing.T) {
	ctx := context.Background()
	svc, _ := NewSessionService(ctx, &memBackend{})
	_ = svc.Save(ctx, "abc")

	snap := svc.Snapshot()
	*snap.SessionID = "mutated"
	if svc.Snapshot().ID() != "abc" {
		t.Fatal("snapshot shares memory with the store")
	}
}
