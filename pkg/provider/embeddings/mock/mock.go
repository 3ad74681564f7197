// Package mock provides a test double for the embeddings package interfaces.
package mock

import (
	"context"
	"sync"

	"github.com/vireomed/bedside/pkg/provider/embeddings"
)

// Compile-time assertion that Provider satisfies embeddings.Provider.
var _ embeddings.Provider = (*Provider)(nil)

// Provider is a mock implementation of embeddings.Provider. The zero value
// returns a fixed-size zero vector for every input.
type Provider struct {
	mu sync.Mutex

	// Vector, when non-nil, is returned by every Embed call.
	Vector []float32

	// EmbedErr, if non-nil, is returned as the error from Embed.
	EmbedErr error

	// Dim is the dimensionality reported by Dimensions. Zero means 1536.
	Dim int

	// EmbedCalls records the text of every Embed call in order.
	EmbedCalls []string
}

// Embed records the call and returns Vector (or a zero vector), EmbedErr.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = append(p.EmbedCalls, text)
	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	if p.Vector != nil {
		return p.Vector, nil
	}
	return make([]float32, p.Dimensions()), nil
}

// Dimensions returns Dim, defaulting to 1536.
func (p *Provider) Dimensions() int {
	if p.Dim > 0 {
		return p.Dim
	}
	return 1536
}

// ModelID returns a fixed identifier.
func (p *Provider) ModelID() string { return "mock-embedding" }
