// Package llm defines the Provider interface for the judge models.
//
// A judge model is an auxiliary text model invoked purely to produce a
// structured evaluation of the conversation — an empathy score or a binary
// diagnosis verdict — distinct from the interactive speech model. Judges are
// called off the realtime path with low temperature and a bounded output
// budget, so the interface is deliberately small: a single blocking Complete.
//
// Implementations must be safe for concurrent use; multiple evaluations may
// be in flight for the same session.
package llm

import "context"

// Message is one entry of the conversation sent to the judge.
type Message struct {
	// Role is "system", "user" or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// CompletionRequest carries everything the judge needs to produce a response.
type CompletionRequest struct {
	// SystemPrompt is an optional high-priority instruction injected before
	// Messages.
	SystemPrompt string

	// Messages is the ordered conversation. At minimum one user message.
	Messages []Message

	// Temperature controls output randomness. Evaluations use low values
	// (0–0.2) for stable scoring.
	Temperature float64

	// MaxTokens caps the completion length. Zero means the provider default.
	MaxTokens int
}

// CompletionResponse is the judge's full reply.
type CompletionResponse struct {
	// Content is the text of the reply. Evaluation prompts ask for JSON or a
	// bare True/False embedded in freeform text; extraction is the caller's
	// concern.
	Content string

	// PromptTokens and CompletionTokens hold token accounting when the
	// backend reports it; zero otherwise.
	PromptTokens     int
	CompletionTokens int
}

// Provider is the abstraction over any judge-model backend.
//
// Complete must propagate context cancellation promptly and return an error
// for any failure that prevented a reply; callers handle retry and regional
// failover themselves.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
