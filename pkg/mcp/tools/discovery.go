// Package tools provides the MCP tools of the context engine.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/context-engine/pkg/models"
	"github.com/ekaya-inc/context-engine/pkg/services"
)

// DiscoveryToolDeps contains dependencies for the context discovery tools.
type DiscoveryToolDeps struct {
	Service services.ContextDiscoveryService
	Logger  *zap.Logger
}

// RegisterDiscoveryTools registers discover_context and get_discovery_run.
func RegisterDiscoveryTools(s *server.MCPServer, deps *DiscoveryToolDeps) {
	registerDiscoverContextTool(s, deps)
	registerGetDiscoveryRunTool(s, deps)
}

func registerDiscoverContextTool(s *server.MCPServer, deps *DiscoveryToolDeps) {
	tool := mcp.NewTool(
		"discover_context",
		mcp.WithDescription(
			"Turn a natural-language clinical question into the context needed to write SQL. "+
				"Returns the classified intent, matching forms and fields, canonical values for clinical terms "+
				"(abbreviations and misspellings are resolved), merged filters with any clarification warnings, "+
				"join paths between the required tables, and an overall confidence.",
		),
		mcp.WithString(
			"customer_id",
			mcp.Required(),
			mcp.Description("Customer whose semantic index and terminology are searched"),
		),
		mcp.WithString(
			"question",
			mcp.Required(),
			mcp.Description("The question as the user asked it, e.g. 'average healing time for DFU in the last 6 months'"),
		),
		mcp.WithString(
			"model_id",
			mcp.Description("Optional: LLM model used for intent classification (default: server configured model)"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		customerID, err := req.RequireString("customer_id")
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		question, err := req.RequireString("question")
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		var modelID string
		if args, ok := req.Params.Arguments.(map[string]any); ok {
			if v, ok := args["model_id"].(string); ok {
				modelID = strings.TrimSpace(v)
			}
		}

		bundle, err := deps.Service.DiscoverContext(ctx, models.DiscoveryRequest{
			CustomerID: customerID,
			Question:   question,
			ModelID:    modelID,
		})
		if err != nil {
			deps.Logger.Debug("discover_context failed",
				zap.String("customer_id", customerID),
				zap.Error(err))
			return discoveryErrorResult(err)
		}

		return jsonResult(bundle)
	})
}

func registerGetDiscoveryRunTool(s *server.MCPServer, deps *DiscoveryToolDeps) {
	tool := mcp.NewTool(
		"get_discovery_run",
		mcp.WithDescription("Fetch a previously returned context bundle by its discovery_run_id"),
		mcp.WithString(
			"customer_id",
			mcp.Required(),
			mcp.Description("Customer that owns the run"),
		),
		mcp.WithString(
			"discovery_run_id",
			mcp.Required(),
			mcp.Description("The discovery_run_id from a discover_context result"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		customerID, err := req.RequireString("customer_id")
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		rawID, err := req.RequireString("discovery_run_id")
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		runID, err := uuid.Parse(strings.TrimSpace(rawID))
		if err != nil {
			return NewErrorResult("invalid_parameters", fmt.Sprintf("discovery_run_id %q is not a valid UUID", rawID)), nil
		}

		run, err := deps.Service.GetRun(ctx, customerID, runID)
		if err != nil {
			return discoveryErrorResult(err)
		}
		return jsonResult(run)
	})
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	jsonResult, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(jsonResult)), nil
}
