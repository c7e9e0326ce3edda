package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(&Config{Endpoint: srv.URL + "/v1/", Model: "gpt-4o-mini", APIKey: "test"}, zap.NewNop())
	require.NoError(t, err)
	return client
}

func TestClient_CompleteSendsJSONMode(t *testing.T) {
	var body map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "cmpl-1",
			"object": "chat.completion",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "{\"type\":\"trend_analysis\"}"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 21, "completion_tokens": 7, "total_tokens": 28}
		}`))
	})

	got, err := client.Complete(context.Background(), CompletionRequest{
		System:     "classify",
		Prompt:     "wound counts by month",
		JSONOutput: true,
	})
	require.NoError(t, err)

	assert.Equal(t, `{"type":"trend_analysis"}`, got.Content)
	assert.Equal(t, 28, got.TotalTokens())
	assert.Equal(t, "gpt-4o-mini", body["model"])
	format, ok := body["response_format"].(map[string]any)
	require.True(t, ok, "response_format sent")
	assert.Equal(t, "json_object", format["type"])
}

func TestClient_CompleteClassifiesAuthFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": {"message": "invalid api key", "type": "invalid_request_error"}}`))
	})

	_, err := client.Complete(context.Background(), CompletionRequest{Prompt: "q"})
	require.Error(t, err)
	assert.Equal(t, ErrorTypeAuth, GetErrorType(err))
	assert.False(t, IsRetryable(err))
}

func TestClient_EmptyChoicesIsResponseError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "cmpl-2", "object": "chat.completion", "choices": []}`))
	})

	_, err := client.Complete(context.Background(), CompletionRequest{Prompt: "q"})
	require.Error(t, err)
	assert.Equal(t, ErrorTypeResponse, GetErrorType(err))
}

func TestNewClient_RequiresEndpointAndModel(t *testing.T) {
	_, err := NewClient(&Config{Model: "m"}, zap.NewNop())
	assert.Error(t, err)
	_, err = NewClient(&Config{Endpoint: "http://localhost"}, zap.NewNop())
	assert.Error(t, err)
}
