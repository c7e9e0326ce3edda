package llm

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// LLMClientFactory resolves the client for a requested model.
// Use this interface for dependency injection and testing.
type LLMClientFactory interface {
	// ClientFor returns the client serving modelID. An empty modelID selects the default model.
	ClientFor(modelID string) (LLMClient, error)
}

// FactoryConfig holds provider settings for the factory.
type FactoryConfig struct {
	OpenAI    Config // Default provider; Model is the default model
	Anthropic Config // Used for claude-* model ids; Model is the default Claude model
}

// ClientFactory creates and memoizes provider clients by model id.
type ClientFactory struct {
	cfg    FactoryConfig
	logger *zap.Logger

	mu      sync.Mutex
	clients map[string]LLMClient
}

// NewClientFactory creates a new factory.
func NewClientFactory(cfg FactoryConfig, logger *zap.Logger) *ClientFactory {
	return &ClientFactory{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[string]LLMClient),
	}
}

// IsAnthropicModel reports whether modelID names a Claude model.
func IsAnthropicModel(modelID string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(modelID)), "claude")
}

// ClientFor returns the client for modelID, creating it on first use.
func (f *ClientFactory) ClientFor(modelID string) (LLMClient, error) {
	model := strings.TrimSpace(modelID)
	anthropicModel := IsAnthropicModel(model)
	if model == "" {
		model = f.cfg.OpenAI.Model
	}

	key := "openai:" + model
	if anthropicModel {
		key = "anthropic:" + model
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.clients[key]; ok {
		return c, nil
	}

	var (
		client LLMClient
		err    error
	)
	if anthropicModel {
		client, err = NewAnthropicClient(&Config{
			Endpoint: f.cfg.Anthropic.Endpoint,
			Model:    model,
			APIKey:   f.cfg.Anthropic.APIKey,
		}, f.logger)
	} else {
		client, err = NewClient(&Config{
			Endpoint: f.cfg.OpenAI.Endpoint,
			Model:    model,
			APIKey:   f.cfg.OpenAI.APIKey,
		}, f.logger)
	}
	if err != nil {
		return nil, fmt.Errorf("create client for model %q: %w", model, err)
	}

	f.clients[key] = client
	return client, nil
}

// Ensure ClientFactory implements LLMClientFactory at compile time.
var _ LLMClientFactory = (*ClientFactory)(nil)
