package tools

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ekaya-inc/context-engine/pkg/apperrors"
)

// ErrorResponse is a structured error returned as a tool result, so the
// calling agent sees actionable failures instead of a bare protocol error.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// NewErrorResult creates a tool result containing a structured error.
// Use this for errors the agent can act on (bad arguments, unknown run,
// a timeout worth retrying). System failures should still return Go errors.
func NewErrorResult(code, message string) *mcp.CallToolResult {
	return NewErrorResultWithDetails(code, message, nil)
}

// NewErrorResultWithDetails creates an error result with additional context.
func NewErrorResultWithDetails(code, message string, details any) *mcp.CallToolResult {
	resp := ErrorResponse{
		Error:   true,
		Code:    code,
		Message: message,
		Details: details,
	}
	jsonBytes, _ := json.Marshal(resp)
	result := mcp.NewToolResultText(string(jsonBytes))
	result.IsError = true
	return result
}

// discoveryErrorResult converts a pipeline error into a tool result.
// Actionable kinds become structured results; anything else is returned
// as a Go error and surfaces as a JSON-RPC error.
func discoveryErrorResult(err error) (*mcp.CallToolResult, error) {
	var appErr *apperrors.Error
	errors.As(err, &appErr)

	switch {
	case apperrors.IsKind(err, apperrors.KindValidation):
		message := appErr.Message
		if message == "" {
			message = err.Error()
		}
		return NewErrorResult(string(apperrors.KindValidation), message), nil
	case errors.Is(err, apperrors.ErrNotFound):
		return NewErrorResult("not_found", "discovery run not found"), nil
	case apperrors.IsKind(err, apperrors.KindTimeout):
		return NewErrorResultWithDetails(string(apperrors.KindTimeout),
			"context discovery timed out; retry with a narrower question",
			map[string]any{"step": appErr.Op}), nil
	case apperrors.IsKind(err, apperrors.KindCanceled):
		return NewErrorResult(string(apperrors.KindCanceled), "context discovery was canceled"), nil
	case appErr != nil && appErr.Kind == apperrors.KindStepFailure:
		return NewErrorResultWithDetails(string(apperrors.KindStepFailure),
			"context discovery failed",
			map[string]any{"step": appErr.Op}), nil
	default:
		return nil, fmt.Errorf("context discovery failed: %w", err)
	}
}
