package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Strob0t/CodeHive/internal/port/cache"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"
	maxIdempotencyBody   = 1 << 20 // 1 MB
	idempotencyKeyPrefix = "idem:"
)

// idempotencyEntry stores a completed HTTP response.
type idempotencyEntry struct {
	StatusCode int                 `json:"status_code"`
	Headers    map[string][]string `json:"headers"`
	Body       []byte              `json:"body"`
}

// Idempotency replays the stored response for a POST that repeats an
// Idempotency-Key seen within ttl, so a retried task submission does not run
// the engine twice. Requests that repeat a key while the first is still
// running wait for it and receive its response. Server errors are not stored.
// Other methods pass through.
func Idempotency(c cache.Cache, ttl time.Duration) func(http.Handler) http.Handler {
	var inflight singleflight.Group
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(headerIdempotencyKey)
			if r.Method != http.MethodPost || key == "" || len(key) > maxRequestIDLen {
				next.ServeHTTP(w, r)
				return
			}
			cacheKey := idempotencyKeyPrefix + r.URL.Path + ":" + key

			if cached, ok := lookupEntry(r, c, cacheKey); ok {
				replay(w, cached)
				return
			}

			leader := false
			v, _, _ := inflight.Do(cacheKey, func() (any, error) {
				leader = true
				rec := &responseRecorder{
					ResponseWriter: w,
					statusCode:     http.StatusOK,
					body:           &bytes.Buffer{},
				}
				next.ServeHTTP(rec, r)
				if rec.body.Len() > maxIdempotencyBody {
					return (*idempotencyEntry)(nil), nil
				}
				entry := &idempotencyEntry{
					StatusCode: rec.statusCode,
					Headers:    storedHeaders(w.Header()),
					Body:       append([]byte(nil), rec.body.Bytes()...),
				}
				if rec.statusCode < http.StatusInternalServerError {
					storeEntry(r, c, cacheKey, key, entry, ttl)
				}
				return entry, nil
			})
			if leader {
				return
			}
			if entry, _ := v.(*idempotencyEntry); entry != nil {
				replay(w, entry)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func lookupEntry(r *http.Request, c cache.Cache, cacheKey string) (*idempotencyEntry, bool) {
	data, ok, err := c.Get(r.Context(), cacheKey)
	if err != nil || !ok {
		return nil, false
	}
	var cached idempotencyEntry
	if err := json.Unmarshal(data, &cached); err != nil {
		slog.Warn("idempotency: corrupt cache entry", "key", cacheKey)
		return nil, false
	}
	return &cached, true
}

func storeEntry(r *http.Request, c cache.Cache, cacheKey, key string, entry *idempotencyEntry, ttl time.Duration) {
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := c.Set(r.Context(), cacheKey, data, ttl); err != nil {
		slog.Warn("idempotency: failed to store response", "key", key, "error", err)
	}
}

func replay(w http.ResponseWriter, e *idempotencyEntry) {
	for k, vals := range e.Headers {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set(headerReplayed, "true")
	w.WriteHeader(e.StatusCode)
	_, _ = w.Write(e.Body)
}

// storedHeaders keeps the content headers; per-request ones are regenerated.
func storedHeaders(h http.Header) map[string][]string {
	out := make(map[string][]string)
	for _, k := range []string{"Content-Type"} {
		if v := h.Values(k); len(v) > 0 {
			out[k] = append([]string(nil), v...)
		}
	}
	return out
}

// responseRecorder copies the response body while it is written.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
