// Package llm provides the stateless LLM call layer: provider clients,
// JSON extraction, and the schema-validated gateway.
package llm

import "context"

// Client defines the interface for a single LLM completion call.
// Use this interface for dependency injection to enable mocking in tests.
type Client interface {
	// Complete generates a completion for the given system and user prompts.
	Complete(ctx context.Context, systemPrompt string, userPrompt string) (string, error)

	// Model returns the configured model name.
	Model() string
}

// Ensure implementations satisfy Client at compile time.
var (
	_ Client = (*OpenAIClient)(nil)
	_ Client = (*AnthropicClient)(nil)
	_ Client = (*MockClient)(nil)
)
