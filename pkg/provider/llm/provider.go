// Package llm defines the Provider interface for chat-completion backends.
//
// An LLM provider wraps a hosted or local model API (OpenAI, Azure OpenAI,
// Anthropic, Gemini, Ollama and others via any-llm-go) behind a single
// request/response call. The response generator is the only caller.
//
// Implementations must be safe for concurrent use.
package llm

import "context"

// Roles used in Message.Role.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of the conversation sent to the model.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role string

	// Content is the text of the message.
	Content string

	// Name optionally identifies the speaker in multi-party conversations.
	Name string
}

// Usage holds token accounting returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a reply.
type CompletionRequest struct {
	// SystemPrompt is sent first, as a system-role message.
	SystemPrompt string

	// Messages is the ordered conversation; the last entry drives the reply.
	Messages []Message

	// Temperature in [0, 2]. Zero leaves the provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero leaves the provider default.
	MaxTokens int
}

// CompletionResponse is the model reply.
type CompletionResponse struct {
	Content      string
	FinishReason string
	Usage        Usage
}

// ModelCapabilities describes static limits of a model.
type ModelCapabilities struct {
	ContextWindow   int
	MaxOutputTokens int
}

// Provider is the abstraction over any chat-completion backend.
type Provider interface {
	// Complete sends req and waits for the full reply.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities returns static metadata about the configured model.
	Capabilities() ModelCapabilities
}

// EstimateTokens approximates the prompt size of msgs at four characters per
// token plus a small per-message overhead.
func EstimateTokens(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		total += (len(m.Content)+3)/4 + 4
	}
	return total
}
