package stream

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func mustEncode(t *testing.T, ev Event) []byte {
	t.Helper()
	data, err := Encode(ev)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return data
}

func TestEncodeCompact(t *testing.T) {
	t.Parallel()

	data := mustEncode(t, NewTextInput("p1", "c1", "hello"))
	if strings.ContainsAny(string(data), "\n\t") {
		t.Fatalf("encoded event contains whitespace: %q", data)
	}

	var raw map[string]map[string]map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	ti, ok := raw["event"]["textInput"]
	if !ok {
		t.Fatalf("missing event.textInput in %q", data)
	}
	if ti["content"] != "hello" || ti["promptName"] != "p1" || ti["contentName"] != "c1" {
		t.Fatalf("unexpected payload: %v", ti)
	}
}

func TestEncodeSingleKind(t *testing.T) {
	t.Parallel()

	events := []Event{
		NewSessionStart(),
		NewPromptStart("p", "amy"),
		NewContentStartText("p", "c", RoleSystem),
		NewContentStartAudio("p", "c"),
		NewTextInput("p", "c", "x"),
		NewAudioInput("p", "c", []byte{1, 2, 3}),
		NewContentEnd("p", "c"),
		NewPromptEnd("p"),
		NewSessionEnd(),
	}

	for _, ev := range events {
		data := mustEncode(t, ev)
		var raw map[string]map[string]json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			t.Fatalf("%s: unmarshal: %v", ev.Kind(), err)
		}
		if got := len(raw["event"]); got != 1 {
			t.Fatalf("%s: want exactly one kind key, got %d", ev.Kind(), got)
		}
		if _, ok := raw["event"][ev.Kind()]; !ok {
			t.Fatalf("%s: kind key missing from envelope %q", ev.Kind(), data)
		}
	}
}

func TestAudioInputBase64(t *testing.T) {
	t.Parallel()

	chunk := []byte{0x00, 0x01, 0xfe, 0xff}
	data := mustEncode(t, NewAudioInput("p", "c", chunk))

	var raw struct {
		Event struct {
			AudioInput struct {
				Content string `json:"content"`
			} `json:"audioInput"`
		} `json:"event"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	decoded, err := base64.StdEncoding.DecodeString(raw.Event.AudioInput.Content)
	if err != nil {
		t.Fatalf("decode content: %v", err)
	}
	if string(decoded) != string(chunk) {
		t.Fatalf("round trip mismatch: got %v want %v", decoded, chunk)
	}
}

func TestDecoderFeed(t *testing.T) {
	t.Parallel()

	objects := [][]byte{
		[]byte(`{"event":{"contentStart":{"role":"USER","type":"TEXT"}}}`),
		[]byte(`{"event":{"textOutput":{"content":"hello there"}}}`),
		[]byte(`{"event":{"audioOutput":{"content":"` + base64.StdEncoding.EncodeToString([]byte("pcm")) + `"}}}`),
		[]byte(`{"event":{"contentStart":{"role":"ASSISTANT","type":"TEXT"}}}`),
		[]byte(`{"event":{"textOutput":{"content":"hi"}}}`),
	}
	full := joinBytes(objects)

	// Feed the same concatenation at every possible chunking granularity and
	// require the identical event sequence each time.
	for _, chunkSize := range []int{1, 2, 3, 7, 16, 64, len(full)} {
		var (
			dec    Decoder
			events []Inbound
		)
		for start := 0; start < len(full); start += chunkSize {
			end := min(start+chunkSize, len(full))
			got, err := dec.Feed(full[start:end])
			if err != nil {
				t.Fatalf("chunk size %d: feed: %v", chunkSize, err)
			}
			events = append(events, got...)
		}

		if len(events) != len(objects) {
			t.Fatalf("chunk size %d: got %d events, want %d", chunkSize, len(events), len(objects))
		}
		assertSequence(t, events)
		if dec.Pending() != 0 {
			t.Fatalf("chunk size %d: %d bytes left pending", chunkSize, dec.Pending())
		}
	}
}

func assertSequence(t *testing.T, events []Inbound) {
	t.Helper()

	if cs, ok := events[0].(ContentStart); !ok || cs.Role != RoleUser {
		t.Fatalf("event 0: want user contentStart, got %#v", events[0])
	}
	if to, ok := events[1].(TextOutput); !ok || to.Content != "hello there" {
		t.Fatalf("event 1: want textOutput, got %#v", events[1])
	}
	ao, ok := events[2].(AudioOutput)
	if !ok {
		t.Fatalf("event 2: want audioOutput, got %#v", events[2])
	}
	audio, err := ao.Audio()
	if err != nil || string(audio) != "pcm" {
		t.Fatalf("event 2: audio decode got %q err %v", audio, err)
	}
	if cs, ok := events[3].(ContentStart); !ok || cs.Role != RoleAssistant {
		t.Fatalf("event 3: want assistant contentStart, got %#v", events[3])
	}
	if to, ok := events[4].(TextOutput); !ok || to.Content != "hi" {
		t.Fatalf("event 4: want textOutput, got %#v", events[4])
	}
}

func TestDecoderRetainsPartial(t *testing.T) {
	t.Parallel()

	var dec Decoder

	events, err := dec.Feed([]byte(`{"event":{"textOutput":{"con`))
	if err != nil {
		t.Fatalf("partial feed must not fail: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("partial feed yielded %d events", len(events))
	}
	if dec.Pending() == 0 {
		t.Fatal("partial object was not retained")
	}

	events, err = dec.Feed([]byte(`tent":"done"}}}`))
	if err != nil {
		t.Fatalf("completion feed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if to, ok := events[0].(TextOutput); !ok || to.Content != "done" {
		t.Fatalf("got %#v", events[0])
	}
}

func TestDecoderCorruption(t *testing.T) {
	t.Parallel()

	var dec Decoder
	_, err := dec.Feed([]byte(`{"event": not-json}`))
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("want ErrCorrupt, got %v", err)
	}
}

func TestDecoderUnknownKinds(t *testing.T) {
	t.Parallel()

	var dec Decoder
	events, err := dec.Feed([]byte(`{"event":{"usageEvent":{"tokens":12}}}{"noEnvelope":true}`))
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if u, ok := events[0].(Unknown); !ok || u.Kind != "usageEvent" {
		t.Fatalf("event 0: got %#v", events[0])
	}
	if u, ok := events[1].(Unknown); !ok || u.Kind != "" {
		t.Fatalf("event 1: got %#v", events[1])
	}
}

func TestDecoderWhitespaceBetweenObjects(t *testing.T) {
	t.Parallel()

	var dec Decoder
	events, err := dec.Feed([]byte("\n{\"event\":{\"textOutput\":{\"content\":\"a\"}}}\r\n  {\"event\":{\"textOutput\":{\"content\":\"b\"}}}\n"))
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if dec.Pending() != 0 {
		t.Fatalf("%d bytes pending after trailing newline", dec.Pending())
	}
}

func joinBytes(parts [][]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
