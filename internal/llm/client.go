// Package llm provides the natural-language client used for merge
// summarization.
package llm

import "context"

// Request configures a completion call.
type Request struct {
	// SystemPrompt sets the assistant's instructions.
	SystemPrompt string

	// Prompt is the user prompt.
	Prompt string

	// Model overrides the client's default model when non-empty.
	Model string

	// MaxTokens caps the response length. 0 means the provider default.
	MaxTokens int
}

// Client produces text completions.
type Client interface {
	// Complete returns the completion text for a request.
	Complete(ctx context.Context, req Request) (string, error)
}
