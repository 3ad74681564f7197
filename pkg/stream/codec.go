package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrCorrupt is returned by [Decoder.Feed] when the head of the inbound
// buffer can never resolve into a valid JSON object, no matter how many
// further bytes arrive. The decoder is unusable afterwards; the stream
// should be torn down.
var ErrCorrupt = errors.New("stream: corrupt inbound data")

// Encode serialises an outbound event to compact JSON. One encoded event
// corresponds to exactly one stream write; the caller owns the write and
// must not interleave events from concurrent writers.
func Encode(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("stream: encode %s: %w", ev.Kind(), err)
	}
	return data, nil
}

// Decoder incrementally decodes inbound events out of an arbitrarily-chunked
// byte stream. Reads from the remote model do not align with object
// boundaries: a single read may end mid-object or contain several objects.
// The decoder retains any trailing partial object between Feed calls.
//
// Decoder is not safe for concurrent use; the inbound-processing task is the
// sole reader of a stream and therefore the sole caller.
type Decoder struct {
	buf []byte
}

// Feed appends p to the residual buffer and decodes every complete JSON
// object now available, in order. A truncated trailing object is not an
// error — it is kept for the next call. A malformed object that cannot be
// completed by more bytes yields [ErrCorrupt] (wrapped), together with any
// events decoded before the corruption.
func (d *Decoder) Feed(p []byte) ([]Inbound, error) {
	d.buf = append(d.buf, p...)

	var out []Inbound
	for {
		d.buf = bytes.TrimLeft(d.buf, " \t\r\n")
		if len(d.buf) == 0 {
			return out, nil
		}

		dec := json.NewDecoder(bytes.NewReader(d.buf))
		var raw map[string]json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				// Incomplete trailing object: wait for more bytes.
				return out, nil
			}
			return out, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}

		out = append(out, parseInbound(raw))
		d.buf = d.buf[dec.InputOffset():]
	}
}

// Pending reports the number of buffered bytes awaiting completion of the
// next object. Intended for diagnostics and tests.
func (d *Decoder) Pending() int { return len(d.buf) }

// wire payload shapes for the inbound kinds this package understands.
type wireContentStart struct {
	Role Role   `json:"role"`
	Type string `json:"type"`
}

type wireContent struct {
	Content string `json:"content"`
}

// parseInbound maps one decoded envelope object onto the [Inbound] union.
// Envelopes without an "event" wrapper, and kinds this package does not
// understand, become [Unknown].
func parseInbound(raw map[string]json.RawMessage) Inbound {
	envelope, ok := raw["event"]
	if !ok {
		return Unknown{}
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal(envelope, &body); err != nil {
		return Unknown{}
	}

	if payload, ok := body["contentStart"]; ok {
		var cs wireContentStart
		if err := json.Unmarshal(payload, &cs); err != nil {
			return Unknown{Kind: "contentStart"}
		}
		return ContentStart{Role: cs.Role, Type: cs.Type}
	}
	if payload, ok := body["textOutput"]; ok {
		var tc wireContent
		if err := json.Unmarshal(payload, &tc); err != nil {
			return Unknown{Kind: "textOutput"}
		}
		return TextOutput{Content: tc.Content}
	}
	if payload, ok := body["audioOutput"]; ok {
		var ac wireContent
		if err := json.Unmarshal(payload, &ac); err != nil {
			return Unknown{Kind: "audioOutput"}
		}
		return AudioOutput{Content: ac.Content}
	}

	for kind := range body {
		return Unknown{Kind: kind}
	}
	return Unknown{}
}
