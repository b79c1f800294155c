// Package agent provides the generation capabilities used to execute tasks:
// the backend Completer contract, the retry policy shared by every
// capability, and the role execution steps.
package agent

import "context"

// CompletionRequest is one system + user exchange with the backend.
type CompletionRequest struct {
	// Capability names the caller for logs, metrics and spans (e.g. "split").
	Capability string
	// System is the system prompt.
	System string
	// User is the user message.
	User string
	// MaxTokens caps the response length. Zero uses the backend default.
	MaxTokens int64
}

// Completer turns a request into free text. Implementations must be safe for
// concurrent use.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// CompleterFunc adapts a function to the Completer interface.
type CompleterFunc func(ctx context.Context, req CompletionRequest) (string, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	return f(ctx, req)
}
