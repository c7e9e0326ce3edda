package llm

import (
	"context"
	"sync"
)

// MockLLMClient is a hand-rolled LLMClient for tests. Set CompleteFunc to
// script responses; requests are recorded for assertions.
type MockLLMClient struct {
	CompleteFunc func(ctx context.Context, req CompletionRequest) (*Completion, error)
	ModelName    string
	EndpointURL  string

	mu       sync.Mutex
	requests []CompletionRequest
}

// NewMockLLMClient creates a mock answering as "mock-model".
func NewMockLLMClient() *MockLLMClient {
	return &MockLLMClient{ModelName: "mock-model", EndpointURL: "http://mock-endpoint"}
}

func (m *MockLLMClient) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	return &Completion{}, nil
}

// Calls returns the number of Complete invocations.
func (m *MockLLMClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of every request seen so far.
func (m *MockLLMClient) Requests() []CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CompletionRequest(nil), m.requests...)
}

func (m *MockLLMClient) Model() string    { return m.ModelName }
func (m *MockLLMClient) Endpoint() string { return m.EndpointURL }

var _ LLMClient = (*MockLLMClient)(nil)

// MockClientFactory returns MockClient for every model unless ClientForFunc
// is set.
type MockClientFactory struct {
	ClientForFunc func(modelID string) (LLMClient, error)
	MockClient    *MockLLMClient
}

// NewMockClientFactory creates a factory backed by a fresh MockLLMClient.
func NewMockClientFactory() *MockClientFactory {
	return &MockClientFactory{MockClient: NewMockLLMClient()}
}

func (f *MockClientFactory) ClientFor(modelID string) (LLMClient, error) {
	if f.ClientForFunc != nil {
		return f.ClientForFunc(modelID)
	}
	return f.MockClient, nil
}

var _ LLMClientFactory = (*MockClientFactory)(nil)
