package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/Strob0t/CodeHive/internal/domain/task"
	"github.com/Strob0t/CodeHive/internal/domain/worker"
	"github.com/Strob0t/CodeHive/internal/port/historylog"
	"github.com/Strob0t/CodeHive/internal/port/sessionstore"
	"github.com/Strob0t/CodeHive/internal/service"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 1000
)

// TaskRunner executes one task to completion. *service.Executor implements it.
type TaskRunner interface {
	Execute(ctx context.Context, req task.Request) task.Result
}

// VersionSource reports the reasoning engine version, nil when unknown.
type VersionSource interface {
	Version(ctx context.Context) *string
}

// Handlers holds the worker's services and serves its HTTP surface.
type Handlers struct {
	WorkerName     string
	Started        time.Time
	Tasks          TaskRunner
	Sessions       sessionstore.Store
	History        historylog.Log
	Events         *service.Broadcaster
	Version        VersionSource // optional
	DefaultTimeout time.Duration
	Keepalive      time.Duration
}

func (h *Handlers) uptime() float64 {
	return time.Since(h.Started).Seconds()
}

func (h *Handlers) version(ctx context.Context) *string {
	if h.Version == nil {
		return nil
	}
	return h.Version.Version(ctx)
}

// Health reports liveness, the active session and the engine version.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, worker.HealthReport{
		Status:        "ok",
		SessionID:     h.Sessions.Snapshot().SessionID,
		ClaudeVersion: h.version(r.Context()),
		Uptime:        h.uptime(),
		WorkerName:    h.WorkerName,
	})
}

// SubmitTask runs a task synchronously and returns its result. Execution
// failures are reported in the body with status 200; only malformed
// requests get a client error.
func (h *Handlers) SubmitTask(w http.ResponseWriter, r *http.Request) {
	defaults := task.NewRequest("")
	if h.DefaultTimeout > 0 {
		defaults.TimeoutSeconds = int(h.DefaultTimeout / time.Second)
	}

	req, ok := readJSON(w, r, defaults)
	if !ok {
		return
	}
	if err := req.Validate(); err != nil {
		writeDomainError(w, err, "invalid task")
		return
	}

	writeJSON(w, http.StatusOK, h.Tasks.Execute(r.Context(), req))
}

// GetSession returns the active session as currently persisted.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.Sessions.Load(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// NewSession forgets the active session.
func (h *Handlers) NewSession(w http.ResponseWriter, r *http.Request) {
	if err := h.Sessions.Clear(r.Context()); err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Sessions.Snapshot())
}

// ListHistory returns the newest ?limit= entries of the task log, oldest first.
func (h *Handlers) ListHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	entries, err := h.History.Recent(r.Context(), limit)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if entries == nil {
		entries = []task.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}

// Status reports the worker's runtime state.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, worker.StatusReport{
		WorkerName:    h.WorkerName,
		Uptime:        h.uptime(),
		ClaudeVersion: h.version(r.Context()),
		RuntimeState:  h.Events.State(),
	})
}
