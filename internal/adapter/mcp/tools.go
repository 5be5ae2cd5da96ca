package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/CodeHive/internal/domain/task"
	"github.com/Strob0t/CodeHive/internal/service"
)

const defaultJournalLimit = 20

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.statusTool(),
		s.sendTool(),
		s.askTool(),
		s.broadcastTool(),
		s.parallelTool(),
		s.historyTool(),
	)
}

func taskOptions() []mcplib.ToolOption {
	return []mcplib.ToolOption{
		mcplib.WithBoolean("new_session",
			mcplib.Description("Start a fresh engine session instead of resuming"),
		),
		mcplib.WithNumber("timeout",
			mcplib.Description("Seconds before the task is killed (default 300)"),
		),
	}
}

func (s *Server) statusTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("hive_status",
		mcplib.WithDescription("Probe every configured worker and report health, session and engine version"),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleStatus}
}

func (s *Server) sendTool() mcpserver.ServerTool {
	opts := append([]mcplib.ToolOption{
		mcplib.WithDescription("Run a task on a named worker and wait for the result"),
		mcplib.WithString("worker", mcplib.Required(), mcplib.Description("Worker name")),
		mcplib.WithString("task", mcplib.Required(), mcplib.Description("Task text")),
	}, taskOptions()...)
	return mcpserver.ServerTool{Tool: mcplib.NewTool("hive_send", opts...), Handler: s.handleSend}
}

func (s *Server) askTool() mcpserver.ServerTool {
	opts := append([]mcplib.ToolOption{
		mcplib.WithDescription("Run a task on the worker chosen by the routing rules"),
		mcplib.WithString("task", mcplib.Required(), mcplib.Description("Task text")),
	}, taskOptions()...)
	return mcpserver.ServerTool{Tool: mcplib.NewTool("hive_ask", opts...), Handler: s.handleAsk}
}

func (s *Server) broadcastTool() mcpserver.ServerTool {
	opts := append([]mcplib.ToolOption{
		mcplib.WithDescription("Run the same task on every worker concurrently"),
		mcplib.WithString("task", mcplib.Required(), mcplib.Description("Task text")),
	}, taskOptions()...)
	return mcpserver.ServerTool{Tool: mcplib.NewTool("hive_broadcast", opts...), Handler: s.handleBroadcast}
}

func (s *Server) parallelTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("hive_parallel",
		mcplib.WithDescription("Run different tasks on different workers concurrently"),
		mcplib.WithArray("assignments",
			mcplib.Required(),
			mcplib.Description("List of {worker, task} pairs"),
			mcplib.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"worker": map[string]any{"type": "string"},
					"task":   map[string]any{"type": "string"},
				},
				"required": []string{"worker", "task"},
			}),
		),
		mcplib.WithNumber("timeout",
			mcplib.Description("Seconds before each task is killed (default 300)"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleParallel}
}

func (s *Server) historyTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("hive_history",
		mcplib.WithDescription("List recently dispatched task results from the controller journal"),
		mcplib.WithString("worker", mcplib.Description("Only this worker's results")),
		mcplib.WithNumber("limit", mcplib.Description("Maximum entries (default 20)")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleHistory}
}

// requestFrom builds a task request from the common tool arguments.
func requestFrom(req mcplib.CallToolRequest, text string) (task.Request, error) { //nolint:gocritic // hugeParam: mcp-go request type
	r := task.NewRequest(text)
	r.NewSession = req.GetBool("new_session", false)
	r.TimeoutSeconds = req.GetInt("timeout", task.DefaultTimeoutSeconds)
	if err := r.Validate(); err != nil {
		return r, err
	}
	return r, nil
}

func (s *Server) handleStatus(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Fleet == nil {
		return mcplib.NewToolResultError("fleet not configured"), nil
	}
	return toolResultJSON(s.deps.Fleet.HealthAll(ctx))
}

func (s *Server) handleSend(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Fleet == nil {
		return mcplib.NewToolResultError("fleet not configured"), nil
	}
	name, err := req.RequireString("worker")
	if err != nil || name == "" {
		return mcplib.NewToolResultError("worker is required"), nil
	}
	text, err := req.RequireString("task")
	if err != nil {
		return mcplib.NewToolResultError("task is required"), nil
	}
	treq, err := requestFrom(req, text)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("invalid task", err), nil
	}
	return toolResultJSON(s.deps.Fleet.Execute(ctx, name, treq))
}

func (s *Server) handleAsk(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Fleet == nil || s.deps.Router == nil {
		return mcplib.NewToolResultError("fleet or router not configured"), nil
	}
	text, err := req.RequireString("task")
	if err != nil {
		return mcplib.NewToolResultError("task is required"), nil
	}
	treq, err := requestFrom(req, text)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("invalid task", err), nil
	}
	name, ok := s.deps.Router.Route(text)
	if !ok {
		return mcplib.NewToolResultError("no routing rule matched and no default worker is configured"), nil
	}
	return toolResultJSON(struct {
		Worker string      `json:"routed_to"`
		Result task.Result `json:"result"`
	}{name, s.deps.Fleet.Execute(ctx, name, treq)})
}

func (s *Server) handleBroadcast(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Fleet == nil {
		return mcplib.NewToolResultError("fleet not configured"), nil
	}
	text, err := req.RequireString("task")
	if err != nil {
		return mcplib.NewToolResultError("task is required"), nil
	}
	treq, err := requestFrom(req, text)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("invalid task", err), nil
	}
	return toolResultJSON(s.deps.Fleet.Broadcast(ctx, treq))
}

func (s *Server) handleParallel(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Fleet == nil {
		return mcplib.NewToolResultError("fleet not configured"), nil
	}
	raw, ok := req.GetArguments()["assignments"].([]any)
	if !ok || len(raw) == 0 {
		return mcplib.NewToolResultError("assignments must be a non-empty list"), nil
	}

	assignments := make([]service.Assignment, 0, len(raw))
	for i, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return mcplib.NewToolResultError(fmt.Sprintf("assignments[%d] must be an object", i)), nil
		}
		name, _ := m["worker"].(string)
		text, _ := m["task"].(string)
		if name == "" {
			return mcplib.NewToolResultError(fmt.Sprintf("assignments[%d].worker is required", i)), nil
		}
		treq, err := requestFrom(req, text)
		if err != nil {
			return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("assignments[%d]", i), err), nil
		}
		assignments = append(assignments, service.Assignment{Worker: name, Request: treq})
	}
	return toolResultJSON(s.deps.Fleet.Parallel(ctx, assignments))
}

func (s *Server) handleHistory(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Journal == nil {
		return mcplib.NewToolResultError("journal not configured (set journal.dsn)"), nil
	}
	entries, err := s.deps.Journal.Recent(ctx, req.GetString("worker", ""), req.GetInt("limit", defaultJournalLimit))
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to read journal", err), nil
	}
	return toolResultJSON(entries)
}

// toolResultJSON renders v as a JSON text result.
func toolResultJSON(v any) (*mcplib.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal result", err), nil
	}
	return mcplib.NewToolResultText(string(data)), nil
}
