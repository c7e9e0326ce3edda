// Package mcp exposes context discovery to MCP clients over streamable HTTP.
package mcp

import (
	"net/http"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/context-engine/pkg/mcp/tools"
	"github.com/ekaya-inc/context-engine/pkg/middleware"
	"github.com/ekaya-inc/context-engine/pkg/services"
)

const serverInstructions = "Use discover_context before writing SQL for a clinical reporting question. " +
	"It returns the matching forms and fields, the canonical values for clinical terms, " +
	"resolved filters, and the join paths between the tables involved."

// maxRequestBytes bounds a single JSON-RPC request. Tool arguments are a
// customer id and one question.
const maxRequestBytes = 64 << 10

// Server is the engine's MCP endpoint with the discovery tools registered.
type Server struct {
	mcp    *server.MCPServer
	logger *zap.Logger
}

// NewServer builds the MCP server and registers the health and discovery
// tools. Tool handler panics are recovered and reported to the client.
func NewServer(name, version string, discovery services.ContextDiscoveryService, logger *zap.Logger) *Server {
	s := &Server{
		mcp: server.NewMCPServer(
			name,
			version,
			server.WithToolCapabilities(true),
			server.WithRecovery(),
			server.WithInstructions(serverInstructions),
		),
		logger: logger.Named("mcp"),
	}

	tools.RegisterHealthTool(s.mcp, version)
	if discovery != nil {
		tools.RegisterDiscoveryTools(s.mcp, &tools.DiscoveryToolDeps{Service: discovery, Logger: s.logger})
	}
	s.logger.Debug("MCP tools registered", zap.Bool("discovery", discovery != nil))
	return s
}

// MCP returns the underlying MCPServer.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// HTTPHandler returns a stateless streamable HTTP transport with size
// limiting and tool-call logging. Mount it at /mcp.
func (s *Server) HTTPHandler() http.Handler {
	transport := server.NewStreamableHTTPServer(s.mcp, server.WithStateLess(true))
	logged := middleware.MCPRequestLogger(s.logger)(transport)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
		logged.ServeHTTP(w, r)
	})
}
