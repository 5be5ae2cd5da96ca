package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

const workersURI = "hive://workers"

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			workersURI,
			"Worker Fleet",
			mcplib.WithResourceDescription("Configured workers with address, capabilities and tags"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleWorkersResource,
	)
}

func (s *Server) handleWorkersResource(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	text := `{"error":"fleet not configured"}`
	if s.deps.Fleet != nil {
		data, err := json.Marshal(s.deps.Fleet.Workers())
		if err != nil {
			return nil, err
		}
		text = string(data)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     text,
		},
	}, nil
}
