package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"
	"github.com/sashabaranov/go-openai"
)

// ErrorType classifies an LLM failure.
type ErrorType string

const (
	ErrorTypeEndpoint    ErrorType = "endpoint"
	ErrorTypeAuth        ErrorType = "auth"
	ErrorTypeModel       ErrorType = "model"
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypeTimeout     ErrorType = "timeout"
	ErrorTypeCanceled    ErrorType = "canceled"
	ErrorTypeCircuitOpen ErrorType = "circuit_open"
	ErrorTypeResponse    ErrorType = "response" // Provider answered but the content was unusable
	ErrorTypeUnknown     ErrorType = "unknown"
)

// Error represents a structured LLM error with classification.
type Error struct {
	Type       ErrorType
	Message    string
	Retryable  bool
	Cause      error
	StatusCode int    // HTTP status code if applicable
	Model      string // Model name if known
	Endpoint   string // Endpoint URL if known
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string
	parts = append(parts, string(e.Type))

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("HTTP %d", e.StatusCode))
	}
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}

	parts = append(parts, e.Message)

	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", strings.Join(parts, " "), e.Cause)
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable implements the retry.RetryableError interface.
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// ErrorType reports the category for repeated-failure detection in the retry package.
func (e *Error) ErrorType() string {
	return string(e.Type)
}

// NewError creates a new structured LLM error.
func NewError(errType ErrorType, message string, retryable bool, cause error) *Error {
	return &Error{
		Type:      errType,
		Message:   message,
		Retryable: retryable,
		Cause:     cause,
	}
}

// NewErrorWithContext creates a new structured LLM error with additional context.
func NewErrorWithContext(errType ErrorType, message string, retryable bool, cause error, model, endpoint string, statusCode int) *Error {
	return &Error{
		Type:       errType,
		Message:    message,
		Retryable:  retryable,
		Cause:      cause,
		Model:      model,
		Endpoint:   endpoint,
		StatusCode: statusCode,
	}
}

// ClassifyError categorizes an error from either provider SDK.
// Classification inspects typed SDK and context errors; message text is never parsed.
func ClassifyError(err error) *Error {
	if err == nil {
		return nil
	}

	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr
	}

	switch {
	case errors.Is(err, context.Canceled):
		return NewError(ErrorTypeCanceled, "request canceled", false, err)
	case errors.Is(err, context.DeadlineExceeded):
		return NewError(ErrorTypeTimeout, "request timeout", false, err)
	}

	var oaAPIErr *openai.APIError
	if errors.As(err, &oaAPIErr) {
		return fromStatus(oaAPIErr.HTTPStatusCode, err)
	}

	var oaReqErr *openai.RequestError
	if errors.As(err, &oaReqErr) {
		return fromStatus(oaReqErr.HTTPStatusCode, err)
	}

	var anReqErr *anthropic.RequestError
	if errors.As(err, &anReqErr) {
		return fromStatus(anReqErr.StatusCode, err)
	}

	var anAPIErr *anthropic.APIError
	if errors.As(err, &anAPIErr) {
		return fromAnthropicType(string(anAPIErr.Type), err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NewError(ErrorTypeTimeout, "request timeout", true, err)
		}
		return NewError(ErrorTypeEndpoint, "connection failed", true, err)
	}

	return NewError(ErrorTypeUnknown, "llm error", false, err)
}

// ClassifyErrorWithContext classifies err and attaches the model and endpoint.
func ClassifyErrorWithContext(err error, model, endpoint string) *Error {
	classified := ClassifyError(err)
	if classified == nil {
		return nil
	}
	out := *classified
	if out.Model == "" {
		out.Model = model
	}
	if out.Endpoint == "" {
		out.Endpoint = endpoint
	}
	return &out
}

func fromStatus(status int, err error) *Error {
	var e *Error
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e = NewError(ErrorTypeAuth, "authentication failed", false, err)
	case status == http.StatusNotFound:
		e = NewError(ErrorTypeModel, "model or endpoint not found", false, err)
	case status == http.StatusTooManyRequests:
		e = NewError(ErrorTypeRateLimit, "rate limited", true, err)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		e = NewError(ErrorTypeTimeout, "upstream timeout", true, err)
	case status >= 500:
		e = NewError(ErrorTypeEndpoint, "server error", true, err)
	default:
		e = NewError(ErrorTypeUnknown, "llm error", false, err)
	}
	e.StatusCode = status
	return e
}

// fromAnthropicType maps the Messages API error "type" field.
func fromAnthropicType(errType string, err error) *Error {
	switch errType {
	case "authentication_error", "permission_error":
		return NewError(ErrorTypeAuth, "authentication failed", false, err)
	case "not_found_error":
		return NewError(ErrorTypeModel, "model not found", false, err)
	case "rate_limit_error":
		return NewError(ErrorTypeRateLimit, "rate limited", true, err)
	case "overloaded_error", "api_error":
		return NewError(ErrorTypeEndpoint, "server error", true, err)
	default:
		return NewError(ErrorTypeUnknown, "llm error", false, err)
	}
}

// IsRetryable returns true if the error is retryable.
func IsRetryable(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Retryable
	}
	return false
}

// GetErrorType extracts the ErrorType from an error.
func GetErrorType(err error) ErrorType {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type
	}
	return ErrorTypeUnknown
}
