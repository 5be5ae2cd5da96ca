// Package mcp exposes the worker fleet to a controlling agent as Model
// Context Protocol tools over stdio.
package mcp

import (
	"context"
	"io"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/CodeHive/internal/domain/task"
	"github.com/Strob0t/CodeHive/internal/domain/worker"
	"github.com/Strob0t/CodeHive/internal/port/journal"
	"github.com/Strob0t/CodeHive/internal/service"
)

// Fleet is the part of the dispatcher the tools drive. *service.Dispatcher
// implements it.
type Fleet interface {
	Workers() []worker.Descriptor
	HealthAll(ctx context.Context) []worker.Health
	Execute(ctx context.Context, name string, req task.Request) task.Result
	Broadcast(ctx context.Context, req task.Request) []task.Result
	Parallel(ctx context.Context, assignments []service.Assignment) []task.Result
}

// Router picks a worker for free-text tasks. *service.Router implements it.
type Router interface {
	Route(text string) (string, bool)
}

// ServerConfig holds MCP server identity.
type ServerConfig struct {
	Name    string
	Version string
}

// ServerDeps are the services behind the tools. Journal is optional.
type ServerDeps struct {
	Fleet   Fleet
	Router  Router
	Journal journal.Journal
}

// Server wraps an mcp-go server with the hive tools registered.
type Server struct {
	mcpServer *mcpserver.MCPServer
	deps      ServerDeps
}

// NewServer creates the MCP server and registers its tools and resources.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithResourceCapabilities(false, false),
			mcpserver.WithRecovery(),
		),
		deps: deps,
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// ServeStdio speaks MCP on in/out until ctx is done or in is closed.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	return mcpserver.NewStdioServer(s.mcpServer).Listen(ctx, in, out)
}
