package middleware_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Strob0t/CodeHive/internal/middleware"
)

// memCache is an in-memory cache.Cache that ignores TTLs.
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

func (m *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memCache) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

func makeTaskHandler(counter *int, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		*counter++
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Request-ID", fmt.Sprintf("req-%d", *counter))
		w.WriteHeader(status)
		_, _ = fmt.Fprintf(w, `{"call":%d}`, *counter)
	})
}

func postTask(handler http.Handler, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/task", strings.NewReader(`{"task":"x"}`))
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestIdempotency_NoHeader(t *testing.T) {
	counter := 0
	c := newMemCache()
	handler := middleware.Idempotency(c, time.Minute)(makeTaskHandler(&counter, http.StatusOK))

	postTask(handler, "")
	postTask(handler, "")

	if counter != 2 {
		t.Fatalf("expected 2 calls, got %d", counter)
	}
	if c.len() != 0 {
		t.Fatalf("expected nothing stored, got %d entries", c.len())
	}
}

func TestIdempotency_SecondRequestReplays(t *testing.T) {
	counter := 0
	c := newMemCache()
	handler := middleware.Idempotency(c, time.Minute)(makeTaskHandler(&counter, http.StatusOK))

	rec1 := postTask(handler, "key-1")
	rec2 := postTask(handler, "key-1")

	if counter != 1 {
		t.Fatalf("expected handler called once, got %d", counter)
	}
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec2.Code)
	}
	if rec2.Body.String() != rec1.Body.String() {
		t.Errorf("replayed body = %q, want %q", rec2.Body.String(), rec1.Body.String())
	}
	if rec2.Header().Get("Idempotent-Replayed") != "true" {
		t.Error("expected Idempotent-Replayed header on replay")
	}
	if rec2.Header().Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q", rec2.Header().Get("Content-Type"))
	}
	if rec2.Header().Get("X-Request-ID") != "" {
		t.Error("per-request headers must not be replayed")
	}
}

func TestIdempotency_DifferentKeys(t *testing.T) {
	counter := 0
	handler := middleware.Idempotency(newMemCache(), time.Minute)(makeTaskHandler(&counter, http.StatusOK))

	postTask(handler, "key-a")
	postTask(handler, "key-b")

	if counter != 2 {
		t.Fatalf("expected 2 calls, got %d", counter)
	}
}

func TestIdempotency_GETIgnored(t *testing.T) {
	counter := 0
	handler := middleware.Idempotency(newMemCache(), time.Minute)(makeTaskHandler(&counter, http.StatusOK))

	for range 2 {
		req := httptest.NewRequest(http.MethodGet, "/session", http.NoBody)
		req.Header.Set("Idempotency-Key", "key-get")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	if counter != 2 {
		t.Fatalf("expected 2 calls, got %d", counter)
	}
}

func TestIdempotency_ServerErrorNotStored(t *testing.T) {
	counter := 0
	c := newMemCache()
	handler := middleware.Idempotency(c, time.Minute)(makeTaskHandler(&counter, http.StatusInternalServerError))

	postTask(handler, "key-err")
	postTask(handler, "key-err")

	if counter != 2 {
		t.Fatalf("expected retry after 500 to reach handler, got %d calls", counter)
	}
}

func TestIdempotency_ClientErrorStored(t *testing.T) {
	counter := 0
	handler := middleware.Idempotency(newMemCache(), time.Minute)(makeTaskHandler(&counter, http.StatusBadRequest))

	postTask(handler, "key-400")
	rec := postTask(handler, "key-400")

	if counter != 1 {
		t.Fatalf("expected 1 call, got %d", counter)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected replayed 400, got %d", rec.Code)
	}
}

func TestIdempotency_CorruptEntryFallsThrough(t *testing.T) {
	counter := 0
	c := newMemCache()
	_ = c.Set(context.Background(), "idem:/task:key-bad", []byte("not json"), time.Minute)
	handler := middleware.Idempotency(c, time.Minute)(makeTaskHandler(&counter, http.StatusOK))

	rec := postTask(handler, "key-bad")

	if counter != 1 {
		t.Fatalf("expected handler called, got %d", counter)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestIdempotency_ConcurrentDuplicateRunsOnce(t *testing.T) {
	var calls atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	slow := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := calls.Add(1)
		if n == 1 {
			close(entered)
			<-release
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"call":%d}`, n)
	})
	handler := middleware.Idempotency(newMemCache(), time.Minute)(slow)

	first := make(chan *httptest.ResponseRecorder, 1)
	go func() { first <- postTask(handler, "key-dup") }()
	<-entered

	second := make(chan *httptest.ResponseRecorder, 1)
	go func() { second <- postTask(handler, "key-dup") }()
	time.Sleep(50 * time.Millisecond)
	close(release)

	rec1, rec2 := <-first, <-second
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected handler called once, got %d", got)
	}
	if rec2.Code != http.StatusOK || rec2.Body.String() != rec1.Body.String() {
		t.Errorf("duplicate got %d %q, want %q", rec2.Code, rec2.Body.String(), rec1.Body.String())
	}
	if rec2.Header().Get("Idempotent-Replayed") != "true" {
		t.Error("expected duplicate to be marked as replayed")
	}
}
