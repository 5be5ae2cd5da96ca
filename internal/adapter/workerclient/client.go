// Package workerclient provides the controller's HTTP client for one worker.
package workerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	hiveotel "github.com/Strob0t/CodeHive/internal/adapter/otel"
	"github.com/Strob0t/CodeHive/internal/domain/session"
	"github.com/Strob0t/CodeHive/internal/domain/task"
	"github.com/Strob0t/CodeHive/internal/domain/worker"
	"github.com/Strob0t/CodeHive/internal/resilience"
)

// maxResponseBytes bounds how much of a worker response is read.
const maxResponseBytes = 16 << 20

// Config holds client timeouts.
type Config struct {
	ConnectTimeout time.Duration // dial timeout and budget for short calls
	ReadTimeout    time.Duration // minimum budget for a task call
	Grace          time.Duration // added to a task's own timeout
}

// StatusError is returned when a worker answers with a non-2xx status.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return "HTTP " + strconv.Itoa(e.Code)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Detail)
}

// Client talks to one worker's HTTP surface.
type Client struct {
	desc       worker.Descriptor
	baseURL    string
	cfg        Config
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// New creates a client for desc. breaker may be nil.
func New(desc worker.Descriptor, cfg Config, breaker *resilience.Breaker) *Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 300 * time.Second
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 30 * time.Second
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		desc:       desc,
		baseURL:    desc.URL(),
		cfg:        cfg,
		httpClient: &http.Client{Transport: hiveotel.Transport(transport)},
		breaker:    breaker,
	}
}

// Name returns the worker name.
func (c *Client) Name() string { return c.desc.Name }

// URL returns the worker's base URL.
func (c *Client) URL() string { return c.baseURL }

// Health probes the worker. Any failure yields an offline record.
func (c *Client) Health(ctx context.Context) worker.Health {
	h := worker.Health{Name: c.desc.Name, URL: c.baseURL}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	var report worker.HealthReport
	if err := c.call(ctx, http.MethodGet, "/health", nil, &report); err != nil {
		h.Error = err.Error()
		return h
	}
	h.Online = true
	h.SessionID = report.SessionID
	h.ClaudeVersion = report.ClaudeVersion
	uptime := report.Uptime
	h.Uptime = &uptime
	return h
}

// Execute runs req on the worker. Transport failures become failure results.
func (c *Client) Execute(ctx context.Context, req task.Request) task.Result {
	budget := req.Timeout() + c.cfg.Grace
	if budget < c.cfg.ReadTimeout {
		budget = c.cfg.ReadTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	var res task.Result
	err := c.guarded(func() error {
		return c.call(ctx, http.MethodPost, "/task", req, &res)
	})
	switch {
	case err == nil:
	case isTimeout(err):
		return task.Failed(c.desc.Name, fmt.Sprintf("Request to %s timed out", c.desc.Name), 0)
	default:
		return task.Failed(c.desc.Name, fmt.Sprintf("Error communicating with %s: %v", c.desc.Name, err), 0)
	}

	res.WorkerName = c.desc.Name
	if res.Result == "" {
		res.Result = task.NoOutput
	}
	return res
}

// NewSession clears the worker's session and returns the reset state.
func (c *Client) NewSession(ctx context.Context) (session.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	var s session.Session
	if err := c.guarded(func() error {
		return c.call(ctx, http.MethodPost, "/session/new", nil, &s)
	}); err != nil {
		return session.Session{}, fmt.Errorf("new session on %s: %w", c.desc.Name, err)
	}
	return s, nil
}

// Session returns the worker's current session.
func (c *Client) Session(ctx context.Context) (session.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	var s session.Session
	if err := c.call(ctx, http.MethodGet, "/session", nil, &s); err != nil {
		return session.Session{}, fmt.Errorf("get session on %s: %w", c.desc.Name, err)
	}
	return s, nil
}

// Status returns the worker's runtime status.
func (c *Client) Status(ctx context.Context) (worker.StatusReport, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	var st worker.StatusReport
	if err := c.call(ctx, http.MethodGet, "/status", nil, &st); err != nil {
		return worker.StatusReport{}, fmt.Errorf("get status on %s: %w", c.desc.Name, err)
	}
	return st, nil
}

// History returns up to limit of the worker's most recent history entries.
func (c *Client) History(ctx context.Context, limit int) ([]task.HistoryEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	var body struct {
		History []task.HistoryEntry `json:"history"`
	}
	path := "/history?limit=" + strconv.Itoa(limit)
	if err := c.call(ctx, http.MethodGet, path, nil, &body); err != nil {
		return nil, fmt.Errorf("get history on %s: %w", c.desc.Name, err)
	}
	return body.History, nil
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// guarded runs fn through the breaker. Client errors (4xx) do not count as
// worker failures.
func (c *Client) guarded(fn func() error) error {
	if c.breaker == nil {
		return fn()
	}
	var clientErr error
	err := c.breaker.Execute(func() error {
		err := fn()
		var se *StatusError
		if errors.As(err, &se) && se.Code < http.StatusInternalServerError {
			clientErr = err
			return nil
		}
		return err
	})
	if clientErr != nil {
		return clientErr
	}
	return err
}

func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Detail: errorDetail(data)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// errorDetail extracts the error message from a worker error body.
func errorDetail(data []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		return body.Error
	}
	return task.Preview(string(bytes.TrimSpace(data)), 200)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
