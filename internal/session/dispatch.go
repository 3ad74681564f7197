package session

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/vireomed/bedside/internal/observe"
	"github.com/vireomed/bedside/internal/store"
	"github.com/vireomed/bedside/internal/store/chatlog"
	"github.com/vireomed/bedside/pkg/stream"
)

// completionMarker is the token the system prompt instructs the model to
// embed in its final reply once the simulation objective is reached. It is
// stripped before the text reaches the student.
const completionMarker = "SIMULATION_COMPLETE"

// closingRemark replaces an assistant reply that was nothing but the
// completion marker.
const closingRemark = "Thank you for taking care of me today. Goodbye."

// closingInstruction is the synthetic user turn injected after a correct
// diagnosis so the model itself announces closure.
const closingInstruction = "The simulation is now complete. As the patient, thank the student for their care and say goodbye."

// runDispatch is the single inbound-processing task. It reads raw chunks,
// feeds the incremental decoder, and dispatches every decoded event in order.
// It exits on stream end, decode corruption, or context cancellation.
func (s *Session) runDispatch(ctx context.Context) {
	log := observe.Logger(ctx).With("session_id", s.cfg.SessionID)
	dec := &stream.Decoder{}

	for {
		chunk, err := s.stream.Read(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
				log.Debug("inbound stream closed")
				return
			}
			log.Error("inbound read failed", "error", err)
			s.deps.Metrics.RecordStreamError(ctx, "read")
			if s.alive() {
				s.deps.Sink.EmitError("stream read failed: " + err.Error())
			}
			return
		}

		events, err := dec.Feed(chunk)
		if err != nil {
			log.Error("inbound stream corrupt", "error", err, "pending", dec.Pending())
			s.deps.Metrics.RecordStreamError(ctx, "decode")
			if s.alive() {
				s.deps.Sink.EmitError("stream decode failed: " + err.Error())
			}
			return
		}

		for _, ev := range events {
			s.handleInbound(ctx, ev)
		}
	}
}

// handleInbound routes one decoded event. currentRole is owned by the
// dispatch goroutine; no other goroutine touches it.
func (s *Session) handleInbound(ctx context.Context, ev stream.Inbound) {
	log := observe.Logger(ctx).With("session_id", s.cfg.SessionID)

	switch e := ev.(type) {
	case stream.ContentStart:
		s.currentRole = e.Role

	case stream.TextOutput:
		s.handleTextOutput(ctx, e.Content)

	case stream.AudioOutput:
		pcm, err := e.Audio()
		if err != nil {
			log.Warn("audio chunk with invalid base64 dropped", "error", err)
			return
		}
		if s.alive() {
			s.deps.Sink.EmitAudio(e.Content, len(pcm))
		}

	case stream.Unknown:
		log.Debug("unhandled inbound event", "kind", e.Kind)
	}
}

// handleTextOutput applies the role-dependent text rules: user fragments are
// forwarded, accumulated and mirrored; assistant fragments are forwarded and
// mirrored; structural markers never reach the student.
func (s *Session) handleTextOutput(ctx context.Context, content string) {
	if isInterruptedMarker(content) {
		return
	}

	switch s.currentRole {
	case stream.RoleUser:
		s.handleUserFragment(ctx, content)
	case stream.RoleAssistant:
		s.handleAssistantFragment(ctx, content)
	default:
		observe.Logger(ctx).Debug("text output outside USER/ASSISTANT block dropped",
			"role", string(s.currentRole))
	}
}

// handleUserFragment processes one transcription fragment of the student's
// speech. An empty fragment is the model's end-of-thought edge and, with
// auto-completion on, triggers the diagnosis side path instead of a turn.
func (s *Session) handleUserFragment(ctx context.Context, content string) {
	if strings.TrimSpace(content) == "" {
		if s.cfg.AutoComplete && s.deps.Diagnosis != nil {
			s.mu.Lock()
			latest := s.lastUserText
			s.mu.Unlock()
			if latest != "" {
				s.bg.Add(1)
				go func() {
					defer s.bg.Done()
					s.runDiagnosis(latest)
				}()
			}
		}
		return
	}

	s.mu.Lock()
	s.accum.WriteString(content)
	s.lastUserText = content
	s.mu.Unlock()

	s.bg.Add(2)
	go func() {
		defer s.bg.Done()
		s.persistUserTurn(content)
	}()
	go func() {
		defer s.bg.Done()
		s.evaluateUserText(content)
	}()

	if s.alive() {
		s.deps.Sink.EmitText(content, "user")
	}
	s.deps.Metrics.RecordTurn(ctx, "user")
}

// handleAssistantFragment forwards the simulated patient's reply and mirrors
// it to both stores. With auto-completion enabled, the completion marker is
// stripped and signalled separately.
func (s *Session) handleAssistantFragment(ctx context.Context, content string) {
	completed := false
	if s.cfg.AutoComplete && strings.Contains(content, completionMarker) {
		completed = true
		content = strings.TrimSpace(strings.ReplaceAll(content, completionMarker, ""))
		if content == "" {
			content = closingRemark
		}
	}

	text := content
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		s.persistAssistantTurn(text)
	}()

	if s.alive() {
		s.deps.Sink.EmitText(content, "assistant")
		if completed {
			s.deps.Sink.EmitCompletion()
		}
	}
	s.deps.Metrics.RecordTurn(ctx, "assistant")
}

// runDiagnosis asks the judge for a verdict on the latest user statement and,
// when correct, injects the closing instruction so the model wraps up.
func (s *Session) runDiagnosis(latestUserText string) {
	s.mu.Lock()
	ctx := s.bgCtx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	log := observe.Logger(ctx).With("session_id", s.cfg.SessionID)

	correct, err := s.deps.Diagnosis.Verify(ctx, s.cfg.PatientID, latestUserText)
	if err != nil {
		log.Error("diagnosis verification failed", "error", err)
		return
	}
	if !s.alive() {
		return
	}

	s.deps.Sink.EmitDiagnosisVerdict(correct)
	if !correct {
		return
	}

	s.mu.Lock()
	promptID := s.promptID
	s.mu.Unlock()
	contentID := uuid.NewString()
	for _, ev := range []stream.Event{
		stream.NewContentStartText(promptID, contentID, stream.RoleUser),
		stream.NewTextInput(promptID, contentID, closingInstruction),
		stream.NewContentEnd(promptID, contentID),
	} {
		if err := s.send(ctx, ev); err != nil {
			log.Error("closing instruction send failed", "error", err)
			return
		}
	}
	s.deps.Sink.EmitDiagnosisComplete()
}

// persistUserTurn mirrors a user fragment into both stores. This relational
// insert is the durability backup for the evaluated insert the empathy
// pipeline makes; duplicates are expected and tolerated.
func (s *Session) persistUserTurn(text string) {
	s.mu.Lock()
	ctx := s.bgCtx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	log := observe.Logger(ctx).With("session_id", s.cfg.SessionID)

	if err := s.deps.Turns.InsertTurn(ctx, store.Turn{
		SessionID:   s.cfg.SessionID,
		StudentSent: true,
		Content:     text,
	}); err != nil {
		s.deps.Metrics.RecordStoreError(ctx, "insert_user_turn")
		log.Error("user turn insert failed", "error", err)
	}
	if err := s.deps.Chat.Append(ctx, s.cfg.SessionID, chatlog.RoleUser, text); err != nil {
		s.deps.Metrics.RecordStoreError(ctx, "chatlog_user")
		log.Error("user chat append failed", "error", err)
	}
}

// persistAssistantTurn mirrors an assistant reply into both stores.
func (s *Session) persistAssistantTurn(text string) {
	s.mu.Lock()
	ctx := s.bgCtx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	log := observe.Logger(ctx).With("session_id", s.cfg.SessionID)

	if err := s.deps.Turns.InsertTurn(ctx, store.Turn{
		SessionID:   s.cfg.SessionID,
		StudentSent: false,
		Content:     text,
	}); err != nil {
		s.deps.Metrics.RecordStoreError(ctx, "insert_assistant_turn")
		log.Error("assistant turn insert failed", "error", err)
	}
	if err := s.deps.Chat.Append(ctx, s.cfg.SessionID, chatlog.RoleAssistant, text); err != nil {
		s.deps.Metrics.RecordStoreError(ctx, "chatlog_assistant")
		log.Error("assistant chat append failed", "error", err)
	}
}

// isInterruptedMarker detects the structural barge-in marker the model sends
// as a bare JSON object inside a textOutput fragment.
func isInterruptedMarker(content string) bool {
	trimmed := strings.TrimSpace(content)
	return strings.HasPrefix(trimmed, "{") && strings.Contains(trimmed, `"interrupted"`)
}
