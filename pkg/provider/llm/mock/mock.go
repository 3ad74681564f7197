// Package mock provides a test double for the llm package interfaces.
package mock

import (
	"context"
	"sync"

	"github.com/vireomed/bedside/pkg/provider/llm"
)

// Compile-time assertion that Provider satisfies llm.Provider.
var _ llm.Provider = (*Provider)(nil)

// CompleteCall records a single invocation of Provider.Complete.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider.
//
// Responses are consumed in order; when the queue is exhausted the last
// configured response (or error) repeats. With no configuration at all,
// Complete returns an empty response.
type Provider struct {
	mu sync.Mutex

	// Responses is the queue of replies handed out by Complete.
	Responses []*llm.CompletionResponse

	// Errs is the queue of errors; a non-nil entry is returned instead of
	// the corresponding response.
	Errs []error

	// CompleteCalls records every call to Complete in order.
	CompleteCalls []CompleteCall

	next int
}

// Complete records the call and returns the next scripted response or error.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})

	i := p.next
	if p.next < len(p.Responses)-1 || p.next < len(p.Errs)-1 {
		p.next++
	}

	if i < len(p.Errs) && p.Errs[i] != nil {
		return nil, p.Errs[i]
	}
	if i < len(p.Responses) {
		return p.Responses[i], nil
	}
	return &llm.CompletionResponse{}, nil
}

// Calls returns a copy of all recorded calls.
func (p *Provider) Calls() []CompleteCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]CompleteCall, len(p.CompleteCalls))
	copy(out, p.CompleteCalls)
	return out
}
