// Package mock provides test doubles for the duplex package interfaces.
//
// Use Provider to verify Connect calls and hand out controlled streams.
// Use Stream to script inbound bytes and inspect every event the session
// orchestrator sent.
//
// Example:
//
//	st := mock.NewStream()
//	p := &mock.Provider{Stream: st}
//	st.QueueInbound([]byte(`{"event":{"textOutput":{"content":"hi"}}}`))
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/vireomed/bedside/pkg/provider/duplex"
	"github.com/vireomed/bedside/pkg/stream"
)

// Compile-time assertions against the duplex interfaces.
var _ duplex.Provider = (*Provider)(nil)
var _ duplex.Stream = (*Stream)(nil)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	Ctx context.Context
	Cfg duplex.SessionConfig
}

// Provider is a mock implementation of duplex.Provider.
type Provider struct {
	mu sync.Mutex

	// Stream is returned by Connect. If nil, Connect returns a new default
	// Stream.
	Stream duplex.Stream

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Stream, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg duplex.SessionConfig) (duplex.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Stream != nil {
		return p.Stream, nil
	}
	return NewStream(), nil
}

// Stream is a scriptable mock implementation of duplex.Stream.
//
// Sent events are recorded for inspection. Inbound chunks queued with
// QueueInbound are handed to Read in order; once the queue is drained Read
// blocks until more chunks arrive or the stream is closed, at which point it
// returns io.EOF.
type Stream struct {
	mu      sync.Mutex
	sent    []stream.Event
	inbound chan []byte
	done    chan struct{}

	closeOnce sync.Once

	// SendErr, if non-nil, is returned by every Send call.
	SendErr error

	// CloseSendCalls counts CloseSend invocations.
	CloseSendCalls int
}

// NewStream creates a Stream with room for 64 queued inbound chunks.
func NewStream() *Stream {
	return &Stream{
		inbound: make(chan []byte, 64),
		done:    make(chan struct{}),
	}
}

// QueueInbound appends a raw chunk for a future Read call.
func (s *Stream) QueueInbound(chunk []byte) {
	s.inbound <- chunk
}

// Send records ev and returns SendErr.
func (s *Stream) Send(_ context.Context, ev stream.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendErr != nil {
		return s.SendErr
	}
	s.sent = append(s.sent, ev)
	return nil
}

// Read returns the next queued chunk, blocking until one is available.
// Returns io.EOF once the stream is closed and the queue is drained.
func (s *Stream) Read(ctx context.Context) ([]byte, error) {
	select {
	case chunk := <-s.inbound:
		return chunk, nil
	default:
	}
	select {
	case chunk := <-s.inbound:
		return chunk, nil
	case <-s.done:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CloseSend records the call.
func (s *Stream) CloseSend(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseSendCalls++
	return nil
}

// Close unblocks pending Read calls. Idempotent.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// Sent returns a copy of every event recorded by Send, in order.
func (s *Stream) Sent() []stream.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]stream.Event, len(s.sent))
	copy(out, s.sent)
	return out
}

// SentKinds returns the kind names of every sent event, in order. Convenient
// for asserting protocol sequences in tests.
func (s *Stream) SentKinds() []string {
	events := s.Sent()
	kinds := make([]string, len(events))
	for i, ev := range events {
		kinds[i] = ev.Kind()
	}
	return kinds
}
