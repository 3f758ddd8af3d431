// Package llm defines the Provider interface for text-generation backends.
//
// A provider wraps a remote or local model API (Groq, Gemini, DeepSeek, OpenAI,
// a local Ollama or llama.cpp server, ...) behind a single non-streaming
// completion call. The sentence generator only ever needs one short reply per
// request, so streaming and tool calling are not part of the contract.
//
// Implementations must be safe for concurrent use and must return promptly
// when the supplied context is cancelled.
package llm

import (
	"context"

	"github.com/androsja/Se-alyze/pkg/types"
)

// Usage holds token accounting returned by the backend. Counts are in the
// model's native token unit.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a reply.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation. The last message is typically from
	// the "user" role and drives the response.
	Messages []types.Message

	// SystemPrompt is an optional instruction placed before Messages. Providers
	// without a dedicated system field prepend it as a "system" message.
	SystemPrompt string

	// Temperature controls output randomness in [0.0, 2.0]. Zero means the
	// provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero means the provider default.
	MaxTokens int
}

// CompletionResponse is the model's full reply.
type CompletionResponse struct {
	// Content is the text of the reply.
	Content string

	// Usage is the token accounting for this request.
	Usage Usage
}

// Provider is the abstraction over any text-generation backend.
type Provider interface {
	// Complete sends req to the model and waits for the full reply.
	//
	// Returns an error if the request fails, the reply is malformed, or ctx is
	// cancelled before the reply arrives.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
