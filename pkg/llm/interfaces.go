// Package llm provides the language model clients used for intent classification.
package llm

import (
	"context"
)

// CompletionRequest is a single-turn completion: one system prompt, one user
// prompt.
type CompletionRequest struct {
	System      string
	Prompt      string
	Temperature float64
	// MaxTokens caps the completion. Zero uses the provider default.
	MaxTokens int
	// JSONOutput asks the provider for a JSON object response. Providers
	// without a JSON mode ignore it; callers still validate the content.
	JSONOutput bool
}

// Completion is the model's text plus token usage.
type Completion struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}

// TotalTokens is prompt plus completion tokens.
func (c *Completion) TotalTokens() int {
	return c.PromptTokens + c.CompletionTokens
}

// LLMClient is one configured model on one provider endpoint.
type LLMClient interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
	Model() string
	Endpoint() string
}

var (
	_ LLMClient = (*Client)(nil)
	_ LLMClient = (*AnthropicClient)(nil)
)
