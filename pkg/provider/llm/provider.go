// Package llm is the chat-completion contract the analysis backend codes
// against. Subpackages adapt concrete SDKs to [Provider]; the mock subpackage
// is a recording test double.
package llm

import (
	"context"
	"errors"
)

// ErrEmptyRequest is returned by [CompletionRequest.Validate] for a request
// with neither a system prompt nor messages.
var ErrEmptyRequest = errors.New("llm: request has no prompt")

// Role names accepted in [Message.Role].
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    string
	Content string
}

// CompletionRequest is a single non-streaming chat completion.
type CompletionRequest struct {
	// SystemPrompt is sent ahead of Messages as a system-role message.
	SystemPrompt string

	Messages []Message

	// Temperature is passed through when non-zero.
	Temperature float64

	// MaxTokens caps the reply length. Zero leaves the backend default.
	MaxTokens int

	// JSONMode asks for a single JSON object reply. Backends without a
	// response-format switch ignore it; callers must still validate the reply.
	JSONMode bool
}

// Validate reports whether r carries anything for the model to answer.
func (r CompletionRequest) Validate() error {
	if r.SystemPrompt == "" && len(r.Messages) == 0 {
		return ErrEmptyRequest
	}
	return nil
}

// Usage is the token accounting a backend reports for one completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionResponse is the assistant reply to a [CompletionRequest].
type CompletionResponse struct {
	Content string
	Usage   Usage

	// Truncated is set when generation stopped at the token limit, which for
	// a JSON reply usually means the object is incomplete.
	Truncated bool
}

// ModelCapabilities are the static limits of the model behind a [Provider].
// Zero means unknown.
type ModelCapabilities struct {
	ContextWindow    int
	MaxOutputTokens  int
	SupportsJSONMode bool
}

// Provider is a chat-completion backend. Implementations are safe for
// concurrent use and return promptly once ctx is done.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities is constant for the lifetime of the provider.
	Capabilities() ModelCapabilities
}
