package mcp_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	hivemcp "github.com/Strob0t/CodeHive/internal/adapter/mcp"
	"github.com/Strob0t/CodeHive/internal/domain/task"
	"github.com/Strob0t/CodeHive/internal/domain/worker"
	"github.com/Strob0t/CodeHive/internal/service"
)

// --- Mocks ---

type mockFleet struct {
	mu       sync.Mutex
	executed []string // worker:task
	requests []task.Request
}

func (m *mockFleet) Workers() []worker.Descriptor {
	return []worker.Descriptor{{Name: "w1", Host: "h1", Port: 8765}, {Name: "w2", Host: "h2", Port: 8765}}
}

func (m *mockFleet) HealthAll(context.Context) []worker.Health {
	return []worker.Health{{Name: "w1", Online: true}, {Name: "w2", Online: false, Error: "connection refused"}}
}

func (m *mockFleet) Execute(_ context.Context, name string, req task.Request) task.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executed = append(m.executed, name+":"+req.Task)
	m.requests = append(m.requests, req)
	return task.Result{Success: true, Result: "ok from " + name, WorkerName: name}
}

func (m *mockFleet) Broadcast(ctx context.Context, req task.Request) []task.Result {
	return []task.Result{m.Execute(ctx, "w1", req), m.Execute(ctx, "w2", req)}
}

func (m *mockFleet) Parallel(ctx context.Context, as []service.Assignment) []task.Result {
	out := make([]task.Result, 0, len(as))
	for _, a := range as {
		out = append(out, m.Execute(ctx, a.Worker, a.Request))
	}
	return out
}

type mockRouter struct {
	worker string
}

func (m mockRouter) Route(string) (string, bool) {
	return m.worker, m.worker != ""
}

type mockJournal struct {
	entries []task.JournalEntry
	err     error
	gotArgs string
}

func (m *mockJournal) Record(context.Context, string, task.Result) error { return nil }

func (m *mockJournal) Recent(_ context.Context, w string, limit int) ([]task.JournalEntry, error) {
	m.gotArgs = w
	if limit < len(m.entries) {
		return m.entries[:limit], m.err
	}
	return m.entries, m.err
}

// --- Helpers ---

func newServer(deps hivemcp.ServerDeps) *hivemcp.Server {
	return hivemcp.NewServer(hivemcp.ServerConfig{Name: "hive", Version: "test"}, deps)
}

func call(t *testing.T, s *hivemcp.Server, name string, args map[string]any) *mcplib.CallToolResult {
	t.Helper()
	tool, ok := s.MCPServer().ListTools()[name]
	if !ok {
		t.Fatalf("%s tool not found", name)
	}
	result, err := tool.Handler(context.Background(), mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: name, Arguments: args},
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	return result
}

func textOf(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("empty content")
	}
	text, ok := result.Content[0].(mcplib.TextContent)
	if !ok {
		t.Fatal("expected TextContent")
	}
	return text.Text
}

func decodeResult[T any](t *testing.T, result *mcplib.CallToolResult) T {
	t.Helper()
	if result.IsError {
		t.Fatalf("tool returned error: %s", textOf(t, result))
	}
	var v T
	if err := json.Unmarshal([]byte(textOf(t, result)), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return v
}

// --- Tests ---

func TestToolRegistration(t *testing.T) {
	s := newServer(hivemcp.ServerDeps{})

	expected := map[string]bool{
		"hive_status":    false,
		"hive_send":      false,
		"hive_ask":       false,
		"hive_broadcast": false,
		"hive_parallel":  false,
		"hive_history":   false,
	}
	for name := range s.MCPServer().ListTools() {
		if _, ok := expected[name]; !ok {
			t.Errorf("unexpected tool: %s", name)
			continue
		}
		expected[name] = true
	}
	for name, found := range expected {
		if !found {
			t.Errorf("expected tool %q not registered", name)
		}
	}
}

func TestStatusTool(t *testing.T) {
	s := newServer(hivemcp.ServerDeps{Fleet: &mockFleet{}})

	health := decodeResult[[]worker.Health](t, call(t, s, "hive_status", nil))
	if len(health) != 2 || !health[0].Online || health[1].Online {
		t.Fatalf("unexpected health %+v", health)
	}
}

func TestSendTool(t *testing.T) {
	fleet := &mockFleet{}
	s := newServer(hivemcp.ServerDeps{Fleet: fleet})

	res := decodeResult[task.Result](t, call(t, s, "hive_send", map[string]any{
		"worker":      "w2",
		"task":        "run tests",
		"new_session": true,
		"timeout":     float64(60),
	}))
	if res.WorkerName != "w2" || !res.Success {
		t.Fatalf("unexpected result %+v", res)
	}
	req := fleet.requests[0]
	if req.TimeoutSeconds != 60 || !req.NewSession || !req.Autonomous {
		t.Errorf("arguments not applied: %+v", req)
	}
}

func TestSendToolValidation(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing worker", map[string]any{"task": "x"}},
		{"missing task", map[string]any{"worker": "w1"}},
		{"blank task", map[string]any{"worker": "w1", "task": "   "}},
		{"bad timeout", map[string]any{"worker": "w1", "task": "x", "timeout": float64(-1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fleet := &mockFleet{}
			s := newServer(hivemcp.ServerDeps{Fleet: fleet})
			if result := call(t, s, "hive_send", tt.args); !result.IsError {
				t.Fatal("expected error result")
			}
			if len(fleet.executed) != 0 {
				t.Errorf("nothing should be dispatched, got %v", fleet.executed)
			}
		})
	}
}

func TestAskToolRoutes(t *testing.T) {
	fleet := &mockFleet{}
	s := newServer(hivemcp.ServerDeps{Fleet: fleet, Router: mockRouter{worker: "w2"}})

	got := decodeResult[struct {
		RoutedTo string      `json:"routed_to"`
		Result   task.Result `json:"result"`
	}](t, call(t, s, "hive_ask", map[string]any{"task": "train on gpu"}))

	if got.RoutedTo != "w2" || got.Result.WorkerName != "w2" {
		t.Fatalf("unexpected routing %+v", got)
	}
}

func TestAskToolNoRoute(t *testing.T) {
	s := newServer(hivemcp.ServerDeps{Fleet: &mockFleet{}, Router: mockRouter{}})
	if result := call(t, s, "hive_ask", map[string]any{"task": "hello"}); !result.IsError {
		t.Fatal("expected error when nothing routes")
	}
}

func TestBroadcastTool(t *testing.T) {
	s := newServer(hivemcp.ServerDeps{Fleet: &mockFleet{}})

	results := decodeResult[[]task.Result](t, call(t, s, "hive_broadcast", map[string]any{"task": "git pull"}))
	if len(results) != 2 || results[0].WorkerName != "w1" || results[1].WorkerName != "w2" {
		t.Fatalf("unexpected results %+v", results)
	}
}

func TestParallelTool(t *testing.T) {
	fleet := &mockFleet{}
	s := newServer(hivemcp.ServerDeps{Fleet: fleet})

	results := decodeResult[[]task.Result](t, call(t, s, "hive_parallel", map[string]any{
		"assignments": []any{
			map[string]any{"worker": "w1", "task": "frontend"},
			map[string]any{"worker": "w2", "task": "backend"},
		},
	}))
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if fleet.executed[0] != "w1:frontend" || fleet.executed[1] != "w2:backend" {
		t.Errorf("unexpected dispatch order %v", fleet.executed)
	}
}

func TestParallelToolRejectsMalformed(t *testing.T) {
	s := newServer(hivemcp.ServerDeps{Fleet: &mockFleet{}})

	for _, args := range []map[string]any{
		{},
		{"assignments": []any{}},
		{"assignments": []any{"not an object"}},
		{"assignments": []any{map[string]any{"task": "no worker"}}},
		{"assignments": []any{map[string]any{"worker": "w1", "task": ""}}},
	} {
		if result := call(t, s, "hive_parallel", args); !result.IsError {
			t.Errorf("expected error for %v", args)
		}
	}
}

func TestHistoryTool(t *testing.T) {
	j := &mockJournal{entries: []task.JournalEntry{{ID: 2, Worker: "w1"}, {ID: 1, Worker: "w1"}}}
	s := newServer(hivemcp.ServerDeps{Journal: j})

	entries := decodeResult[[]task.JournalEntry](t, call(t, s, "hive_history", map[string]any{"worker": "w1", "limit": float64(1)}))
	if len(entries) != 1 || entries[0].ID != 2 {
		t.Fatalf("unexpected entries %+v", entries)
	}
	if j.gotArgs != "w1" {
		t.Errorf("worker filter not passed: %q", j.gotArgs)
	}

	j.err = errors.New("db down")
	if result := call(t, s, "hive_history", nil); !result.IsError {
		t.Error("expected error result on journal failure")
	}
}

func TestNilDeps(t *testing.T) {
	s := newServer(hivemcp.ServerDeps{})
	for _, name := range []string{"hive_status", "hive_send", "hive_ask", "hive_broadcast", "hive_parallel", "hive_history"} {
		if result := call(t, s, name, map[string]any{"worker": "w1", "task": "x"}); !result.IsError {
			t.Errorf("%s: expected error result when deps are nil", name)
		}
	}
}
