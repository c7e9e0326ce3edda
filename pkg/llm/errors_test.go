package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/liushuangls/go-anthropic/v2"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantType   ErrorType
		retryable  bool
		statusCode int
	}{
		{"openai 401", &openai.APIError{HTTPStatusCode: 401, Message: "bad key"}, ErrorTypeAuth, false, 401},
		{"openai 404", &openai.APIError{HTTPStatusCode: 404, Message: "no model"}, ErrorTypeModel, false, 404},
		{"openai 429", &openai.APIError{HTTPStatusCode: 429}, ErrorTypeRateLimit, true, 429},
		{"openai 503", &openai.APIError{HTTPStatusCode: 503}, ErrorTypeEndpoint, true, 503},
		{"openai request 502", &openai.RequestError{HTTPStatusCode: 502, Err: errors.New("bad gateway")}, ErrorTypeEndpoint, true, 502},
		{"anthropic auth", &anthropic.APIError{Type: "authentication_error", Message: "invalid x-api-key"}, ErrorTypeAuth, false, 0},
		{"anthropic overloaded", &anthropic.APIError{Type: "overloaded_error"}, ErrorTypeEndpoint, true, 0},
		{"anthropic rate limit", &anthropic.APIError{Type: "rate_limit_error"}, ErrorTypeRateLimit, true, 0},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), ErrorTypeTimeout, false, 0},
		{"canceled", context.Canceled, ErrorTypeCanceled, false, 0},
		{"message text is not parsed", errors.New("HTTP 503 service unavailable"), ErrorTypeUnknown, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyError(tt.err)
			assert.Equal(t, tt.wantType, got.Type)
			assert.Equal(t, tt.retryable, got.Retryable)
			assert.Equal(t, tt.statusCode, got.StatusCode)
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestClassifyError_PassesThroughStructuredError(t *testing.T) {
	orig := NewError(ErrorTypeResponse, "bad output", false, nil)
	assert.Same(t, orig, ClassifyError(fmt.Errorf("wrapped: %w", orig)))
	assert.Nil(t, ClassifyError(nil))
}

func TestClassifyErrorWithContext(t *testing.T) {
	got := ClassifyErrorWithContext(&openai.APIError{HTTPStatusCode: 500}, "gpt-4o-mini", "https://api.openai.com/v1")
	assert.Equal(t, "gpt-4o-mini", got.Model)
	assert.Equal(t, "https://api.openai.com/v1", got.Endpoint)
	assert.Contains(t, got.Error(), "HTTP 500")
	assert.Contains(t, got.Error(), "model=gpt-4o-mini")
}

func TestError_RetryInterfaces(t *testing.T) {
	err := NewError(ErrorTypeRateLimit, "slow down", true, nil)
	assert.True(t, err.IsRetryable())
	assert.Equal(t, "rate_limit", err.ErrorType())
	assert.True(t, IsRetryable(fmt.Errorf("outer: %w", err)))
	assert.Equal(t, ErrorTypeUnknown, GetErrorType(errors.New("plain")))
}
