package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ekaya-inc/context-engine/pkg/logging"
)

const discoverCall = `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"discover_context","arguments":{"customer_id":"c1","question":"healing rate for DFU","api_key":"sk-secret"}}}`

func serveMCP(t *testing.T, response string) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	handler := MCPRequestLogger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(response))
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(discoverCall)))
	return logs
}

func TestMCPRequestLogger_LogsToolCall(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)

	var gotBody string
	handler := MCPRequestLogger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"content":[]}}`))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(discoverCall)))

	assert.Equal(t, discoverCall, gotBody, "request body restored for the next handler")

	entries := logs.FilterMessage("MCP call").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "tools/call", fields["method"])
	assert.Equal(t, "discover_context", fields["tool"])
	assert.Equal(t, "c1", fields["customer_id"])
	assert.Equal(t, mcpOutcomeOK, fields["outcome"])

	args, ok := fields["arguments"].(map[string]any)
	require.True(t, ok, "arguments logged as a map, got %T", fields["arguments"])
	assert.Equal(t, logging.RedactedText, args["api_key"])
	assert.Equal(t, "healing rate for DFU", args["question"])
}

func TestMCPRequestLogger_RPCErrorLogsAtWarn(t *testing.T) {
	logs := serveMCP(t, `{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"missing question"}}`)

	entries := logs.FilterMessage("MCP call failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Equal(t, int64(-32602), fields["error_code"])
	assert.Equal(t, mcpOutcomeRPCError, fields["outcome"])
}

func TestMCPRequestLogger_ToolErrorResult(t *testing.T) {
	logs := serveMCP(t, `{"jsonrpc":"2.0","id":1,"result":{"isError":true,"content":[]}}`)

	entries := logs.FilterMessage("MCP call").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, mcpOutcomeToolError, entries[0].ContextMap()["outcome"])
}

func TestMCPRequestLogger_NonJSONResponseIsOK(t *testing.T) {
	logs := serveMCP(t, "event: message\ndata: {}\n\n")

	entries := logs.FilterMessage("MCP call").All()
	require.Len(t, entries, 1)
	assert.Equal(t, mcpOutcomeOK, entries[0].ContextMap()["outcome"])
}

func TestMCPRequestLogger_RejectsOversizedBody(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)

	called := false
	handler := MCPRequestLogger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(discoverCall))
	req.Body = http.MaxBytesReader(rec, req.Body, 16)
	handler.ServeHTTP(rec, req)

	assert.False(t, called, "next handler should not run for an oversized body")
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, 1, logs.FilterMessage("MCP request too large").Len())
}

func TestMCPRequestLogger_NilLoggerPassesThrough(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	handler := MCPRequestLogger(nil)(next)
	assert.NotNil(t, handler)
}

func TestSanitizeArguments(t *testing.T) {
	assert.Nil(t, sanitizeArguments(nil))

	long := strings.Repeat("x", logging.MaxQuestionLogLength+50)
	got := sanitizeArguments(map[string]any{
		"question":     long,
		"db_password":  "hunter2",
		"access_token": "abc",
		"limit":        float64(5),
	})

	assert.Equal(t, logging.RedactedText, got["db_password"])
	assert.Equal(t, logging.RedactedText, got["access_token"])
	assert.Len(t, got["question"].(string), logging.MaxQuestionLogLength+3)
	assert.Equal(t, float64(5), got["limit"])
}
