// Package bridge implements the control surface: line-delimited JSON
// commands read from the external bridge process and line-delimited JSON
// events written back. One bridge drives at most one live session at a time.
package bridge

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/vireomed/bedside/internal/observe"
	"github.com/vireomed/bedside/internal/session"
)

// maxCommandBytes bounds a single command line. Audio chunks arrive
// base64-encoded inline, so lines can be large.
const maxCommandBytes = 4 << 20

// Command is one inbound control message.
type Command struct {
	Type         string `json:"type"`
	SessionID    string `json:"session_id,omitempty"`
	VoiceID      string `json:"voice_id,omitempty"`
	PatientID    string `json:"patient_id,omitempty"`
	PatientName  string `json:"patient_name,omitempty"`
	AutoComplete *bool  `json:"auto_complete,omitempty"`
	Data         string `json:"data,omitempty"`
	Text         string `json:"text,omitempty"`
}

// Event is one outbound message toward the bridge.
type Event struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Role    string `json:"role,omitempty"`
	Data    string `json:"data,omitempty"`
	Size    int    `json:"size,omitempty"`
	Content string `json:"content,omitempty"`
	Correct *bool  `json:"correct,omitempty"`
	Message string `json:"message,omitempty"`
}

// Conversation is the slice of the session orchestrator the bridge drives.
type Conversation interface {
	StartSession(ctx context.Context) error
	StartAudioInput(ctx context.Context) error
	SendAudioChunk(ctx context.Context, pcm []byte) error
	EndAudioInput(ctx context.Context) error
	SendText(ctx context.Context, text string) error
	EvaluateEmpathy(text string)
	EndSession(ctx context.Context) error
}

// SessionFactory builds a conversation for a start_session command. The sink
// is the bridge itself.
type SessionFactory func(cfg session.Config, sink session.EventSink) Conversation

// Defaults fill command fields the bridge client omitted.
type Defaults struct {
	PatientID    string
	PatientName  string
	AutoComplete bool
}

// Bridge reads commands and writes events. It implements
// [session.EventSink]; all writes go through one mutex so events from the
// dispatch goroutine and background evaluations never interleave mid-line.
type Bridge struct {
	in         io.Reader
	out        io.Writer
	newSession SessionFactory
	defaults   Defaults

	writeMu sync.Mutex

	sessMu sync.Mutex
	sess   Conversation
}

// Compile-time interface check.
var _ session.EventSink = (*Bridge)(nil)

// New creates a bridge over the given transport.
func New(in io.Reader, out io.Writer, factory SessionFactory, defaults Defaults) *Bridge {
	return &Bridge{in: in, out: out, newSession: factory, defaults: defaults}
}

// Run consumes commands until EOF, a scanner error, or context cancellation.
// A malformed or failing command emits an error event and the loop continues;
// only transport failure ends it. The live session, if any, is torn down on
// the way out.
func (b *Bridge) Run(ctx context.Context) error {
	log := observe.Logger(ctx)

	scanner := bufio.NewScanner(b.in)
	scanner.Buffer(make([]byte, 64*1024), maxCommandBytes)

	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var cmd Command
		if err := json.Unmarshal(line, &cmd); err != nil {
			log.Warn("malformed command dropped", "error", err)
			b.EmitError("malformed command: " + err.Error())
			continue
		}
		b.dispatch(ctx, cmd, log)
	}

	b.teardown(context.WithoutCancel(ctx))

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("bridge: read commands: %w", err)
	}
	return ctx.Err()
}

// dispatch routes one command. Command failures are reported as error
// events, never returned.
func (b *Bridge) dispatch(ctx context.Context, cmd Command, log *slog.Logger) {
	switch cmd.Type {
	case "start_session":
		b.startSession(ctx, cmd, log)

	case "start_audio":
		if sess := b.current(); sess != nil {
			if err := sess.StartAudioInput(ctx); err != nil {
				b.commandError(log, cmd.Type, err)
			}
		} else {
			b.EmitError("no active session")
		}

	case "audio":
		sess := b.current()
		if sess == nil {
			// Chunks racing session teardown are expected; drop quietly.
			return
		}
		pcm, err := base64.StdEncoding.DecodeString(cmd.Data)
		if err != nil {
			b.commandError(log, cmd.Type, fmt.Errorf("decode audio: %w", err))
			return
		}
		if err := sess.SendAudioChunk(ctx, pcm); err != nil {
			b.commandError(log, cmd.Type, err)
		}

	case "end_audio":
		if sess := b.current(); sess != nil {
			if err := sess.EndAudioInput(ctx); err != nil {
				b.commandError(log, cmd.Type, err)
			}
		}

	case "text":
		if sess := b.current(); sess != nil {
			if err := sess.SendText(ctx, cmd.Text); err != nil {
				b.commandError(log, cmd.Type, err)
			}
		} else {
			b.EmitError("no active session")
		}

	case "evaluate_empathy":
		if sess := b.current(); sess != nil {
			sess.EvaluateEmpathy(cmd.Text)
		} else {
			b.EmitError("no active session")
		}

	case "end_session":
		b.teardown(ctx)

	default:
		log.Warn("unknown command dropped", "type", cmd.Type)
		b.EmitError("unknown command type: " + cmd.Type)
	}
}

// startSession builds and starts a new conversation from the command,
// filling omitted fields from the configured defaults.
func (b *Bridge) startSession(ctx context.Context, cmd Command, log *slog.Logger) {
	b.sessMu.Lock()
	if b.sess != nil {
		b.sessMu.Unlock()
		b.EmitError("session already active")
		return
	}
	b.sessMu.Unlock()

	cfg := session.Config{
		SessionID:    cmd.SessionID,
		VoiceID:      cmd.VoiceID,
		PatientID:    cmd.PatientID,
		PatientName:  cmd.PatientName,
		AutoComplete: b.defaults.AutoComplete,
	}
	if cfg.PatientID == "" {
		cfg.PatientID = b.defaults.PatientID
	}
	if cfg.PatientName == "" {
		cfg.PatientName = b.defaults.PatientName
	}
	if cmd.AutoComplete != nil {
		cfg.AutoComplete = *cmd.AutoComplete
	}

	sess := b.newSession(cfg, b)
	if err := sess.StartSession(ctx); err != nil {
		b.commandError(log, cmd.Type, err)
		return
	}

	b.sessMu.Lock()
	b.sess = sess
	b.sessMu.Unlock()
}

// current returns the live conversation, or nil.
func (b *Bridge) current() Conversation {
	b.sessMu.Lock()
	defer b.sessMu.Unlock()
	return b.sess
}

// teardown ends the live session, if any.
func (b *Bridge) teardown(ctx context.Context) {
	b.sessMu.Lock()
	sess := b.sess
	b.sess = nil
	b.sessMu.Unlock()
	if sess == nil {
		return
	}
	if err := sess.EndSession(ctx); err != nil {
		observe.Logger(ctx).Error("session teardown failed", "error", err)
	}
}

func (b *Bridge) commandError(log *slog.Logger, cmdType string, err error) {
	log.Error("command failed", "type", cmdType, "error", err)
	b.EmitError(err.Error())
}

// writeEvent marshals and writes one event line under the writer mutex.
func (b *Bridge) writeEvent(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("event marshal failed", "type", ev.Type, "error", err)
		return
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if _, err := b.out.Write(append(data, '\n')); err != nil {
		slog.Error("event write failed", "type", ev.Type, "error", err)
	}
}

// ── session.EventSink ──────────────────────────────────────────────────────────

func (b *Bridge) EmitReady() {
	b.writeEvent(Event{Type: "ready"})
}

func (b *Bridge) EmitText(text, role string) {
	b.writeEvent(Event{Type: "text", Text: text, Role: role})
}

func (b *Bridge) EmitAudio(data string, size int) {
	b.writeEvent(Event{Type: "audio", Data: data, Size: size})
}

func (b *Bridge) EmitEmpathy(content string) {
	b.writeEvent(Event{Type: "empathy", Content: content})
}

func (b *Bridge) EmitEmpathyData(content string) {
	b.writeEvent(Event{Type: "empathy_data", Content: content})
}

func (b *Bridge) EmitDiagnosisVerdict(correct bool) {
	b.writeEvent(Event{Type: "diagnosis_verdict", Correct: &correct})
}

func (b *Bridge) EmitDiagnosisComplete() {
	b.writeEvent(Event{Type: "diagnosis_complete"})
}

func (b *Bridge) EmitCompletion() {
	b.writeEvent(Event{Type: "completion"})
}

func (b *Bridge) EmitError(message string) {
	b.writeEvent(Event{Type: "error", Message: message})
}
