// Package duplex defines the Provider interface for bidirectional
// speech-model backends.
//
// A duplex provider wraps a remote generative speech/text service that
// accepts a stream of protocol events (session setup, text, audio) and
// concurrently returns raw bytes containing response events. The two
// directions are independent: writes and reads may interleave freely.
//
// The read side deliberately surfaces raw bytes rather than decoded events —
// object boundaries do not align with network reads, so decoding is owned by
// the session's [stream.Decoder], which retains partial objects across reads.
package duplex

import (
	"context"

	"github.com/vireomed/bedside/pkg/stream"
)

// SessionConfig carries connection-time parameters for a new duplex stream.
type SessionConfig struct {
	// ModelID selects the remote model, e.g. "amazon.nova-sonic-v1:0".
	// Empty means the provider default.
	ModelID string
}

// Stream is an open duplex connection to the model.
//
// Send must not be called concurrently: the wire protocol forbids
// interleaving two events mid-write, so callers serialise access (the
// session orchestrator funnels every write through one mutex-guarded
// writer). Read is driven by a single inbound-processing goroutine.
// Close may be called from any goroutine and is idempotent.
type Stream interface {
	// Send encodes and writes one outbound event. Returns an error if the
	// stream is closed or the write fails.
	Send(ctx context.Context, ev stream.Event) error

	// Read blocks until the next inbound chunk arrives and returns its raw
	// bytes. A chunk holds zero or more complete JSON objects plus at most
	// one trailing partial object. Returns an error when the stream ends.
	Read(ctx context.Context) ([]byte, error)

	// CloseSend closes the outbound direction after the final sessionEnd
	// event, leaving the read side open to drain remaining responses.
	CloseSend(ctx context.Context) error

	// Close tears the connection down in both directions. Idempotent.
	Close() error
}

// Provider is the abstraction over any duplex speech-model backend.
// Implementations must be safe for concurrent use; each Connect call yields
// an independent stream.
type Provider interface {
	// Connect opens a new duplex stream. The returned Stream is ready for
	// Send immediately. The caller owns the Stream and must Close it.
	Connect(ctx context.Context, cfg SessionConfig) (Stream, error)
}
