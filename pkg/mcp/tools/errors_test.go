package tools

import (
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewErrorResultWithDetails(t *testing.T) {
	result := NewErrorResultWithDetails("timeout", "context discovery timed out", map[string]any{"step": "search_and_terminology"})
	require.True(t, result.IsError)
	require.Len(t, result.Content, 1)

	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal([]byte(text.Text), &resp))
	assert.True(t, resp.Error)
	assert.Equal(t, "timeout", resp.Code)
	assert.Equal(t, map[string]any{"step": "search_and_terminology"}, resp.Details)
}

func TestNewErrorResult_OmitsDetails(t *testing.T) {
	result := NewErrorResult("validation", "question is required")
	text := result.Content[0].(mcp.TextContent)
	assert.NotContains(t, text.Text, "details")
}
