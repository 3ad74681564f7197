// Package novasonic implements the duplex.Provider interface for the Amazon
// Nova Sonic bidirectional speech model.
//
// It opens a WebSocket connection to the Bedrock runtime endpoint of a single
// region and exchanges the {"event":{...}} envelopes defined in
// [github.com/vireomed/bedside/pkg/stream]. Regional failover is not handled
// here: construct one Provider per region and compose them with
// resilience.Group so a failed Connect is retried against the fallback region.
package novasonic

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/vireomed/bedside/pkg/provider/duplex"
	"github.com/vireomed/bedside/pkg/stream"
)

// Compile-time assertions against the duplex interfaces.
var _ duplex.Provider = (*Provider)(nil)
var _ duplex.Stream = (*wsStream)(nil)

const (
	// DefaultModelID is the bidirectional speech model used when
	// SessionConfig.ModelID is empty.
	DefaultModelID = "amazon.nova-sonic-v1:0"

	// DefaultRegion is the primary region for new providers.
	DefaultRegion = "us-east-1"
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithRegion sets the Bedrock runtime region, e.g. "us-west-2".
func WithRegion(region string) Option {
	return func(p *Provider) { p.region = region }
}

// WithBaseURL overrides the full WebSocket base URL. Primarily used in tests
// to point at a local mock server; when set, the region is ignored.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// Provider implements duplex.Provider for Nova Sonic over WebSocket.
type Provider struct {
	token   string
	region  string
	baseURL string
}

// New creates a Provider authenticating with the given bearer token.
func New(token string, opts ...Option) *Provider {
	p := &Provider{
		token:  token,
		region: DefaultRegion,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Region returns the region this provider connects to. Used for logging the
// region that ultimately served a session after failover.
func (p *Provider) Region() string { return p.region }

// Connect opens the bidirectional stream for the configured model. The
// returned stream accepts Send immediately; the caller is expected to open
// the protocol with a sessionStart event.
func (p *Provider) Connect(ctx context.Context, cfg duplex.SessionConfig) (duplex.Stream, error) {
	modelID := cfg.ModelID
	if modelID == "" {
		modelID = DefaultModelID
	}

	base := p.baseURL
	if base == "" {
		base = fmt.Sprintf("wss://bedrock-runtime.%s.amazonaws.com", p.region)
	}
	wsURL := fmt.Sprintf("%s/model/%s/invoke-bidirectional", base, modelID)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + p.token},
			"Content-Type":  []string{"application/json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("novasonic: dial %s: %w", p.region, err)
	}

	// Message frames from the runtime can be large during audio turns.
	conn.SetReadLimit(1 << 22)

	return &wsStream{conn: conn}, nil
}

// wsStream adapts a WebSocket connection to the duplex.Stream interface.
type wsStream struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

// Send encodes ev and writes it as a single text frame.
func (s *wsStream) Send(ctx context.Context, ev stream.Event) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("novasonic: stream closed")
	}
	s.mu.Unlock()

	data, err := stream.Encode(ev)
	if err != nil {
		return err
	}
	if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("novasonic: write %s: %w", ev.Kind(), err)
	}
	return nil
}

// Read returns the payload of the next frame. Frames carry raw envelope
// bytes with no boundary guarantee; callers feed them to a stream.Decoder.
func (s *wsStream) Read(ctx context.Context) ([]byte, error) {
	_, data, err := s.conn.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("novasonic: read: %w", err)
	}
	return data, nil
}

// CloseSend signals end of input to the runtime. The WebSocket transport has
// no half-close, so this is a protocol-level no-op after the sessionEnd
// event has been sent; the read side stays open to drain responses.
func (s *wsStream) CloseSend(context.Context) error {
	return nil
}

// Close tears down the connection. Idempotent.
func (s *wsStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.conn.Close(websocket.StatusNormalClosure, "session ended")
}
