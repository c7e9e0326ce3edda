package tools

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

type healthResult struct {
	Status        string `json:"status"`
	Service       string `json:"service"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// RegisterHealthTool adds a liveness tool. It never touches the database so
// clients can tell a dead engine from a slow discovery.
func RegisterHealthTool(s *server.MCPServer, version string) {
	started := time.Now()

	tool := mcp.NewTool(
		"health",
		mcp.WithDescription("Reports that the context engine is up, with its version and uptime"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(healthResult{
			Status:        "ok",
			Service:       "context-engine",
			Version:       version,
			UptimeSeconds: int64(time.Since(started).Seconds()),
		})
	})
}
