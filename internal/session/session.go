// Package session implements the per-session orchestrator: it owns the duplex
// stream to the speech model, drives the outbound protocol sequence, runs the
// single inbound-dispatch goroutine, and fans results out to the persistence
// mirror, the evaluation pipelines and the control-surface event sink.
package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/vireomed/bedside/internal/eval"
	"github.com/vireomed/bedside/internal/observe"
	"github.com/vireomed/bedside/internal/resilience"
	"github.com/vireomed/bedside/internal/store"
	"github.com/vireomed/bedside/internal/store/chatlog"
	"github.com/vireomed/bedside/pkg/provider/duplex"
	"github.com/vireomed/bedside/pkg/stream"
)

// DefaultHistoryDepth is how many chat-log turns are replayed into the system
// prompt at session start.
const DefaultHistoryDepth = 10

// ErrSessionActive is returned by StartSession when the session has already
// been started.
var ErrSessionActive = errors.New("session: already started")

// ErrNotStarted is returned by operations that need a live stream.
var ErrNotStarted = errors.New("session: not started")

// EventSink receives the events a session emits toward the external bridge.
// Implementations must serialise their own output; emissions may arrive from
// the dispatch goroutine and from background evaluation tasks concurrently.
type EventSink interface {
	EmitReady()
	EmitText(text, role string)
	EmitAudio(data string, size int)
	EmitEmpathy(content string)
	EmitEmpathyData(content string)
	EmitDiagnosisVerdict(correct bool)
	EmitDiagnosisComplete()
	EmitCompletion()
	EmitError(message string)
}

// Config carries the per-session parameters from the start_session command.
type Config struct {
	SessionID    string
	VoiceID      string
	PatientID    string
	PatientName  string
	AutoComplete bool

	// ModelID overrides the duplex provider's default model.
	ModelID string

	// HistoryDepth caps the replayed chat history. Zero means
	// [DefaultHistoryDepth].
	HistoryDepth int
}

// Deps holds the collaborators a session needs. All fields are required
// except Diagnosis, which may be nil when auto-completion is disabled.
type Deps struct {
	Duplex    *resilience.Group[duplex.Provider]
	Empathy   *eval.Empathy
	Diagnosis *eval.Diagnosis
	Turns     store.TurnStore
	Prompts   store.PromptStore
	Chat      chatlog.Log
	Sink      EventSink
	Metrics   *observe.Metrics
}

// state is the session lifecycle position. Transitions are guarded by
// Session.mu; every operation validates its starting state.
type state int

const (
	stateIdle state = iota
	stateStarted
	stateAudioActive
	stateEnding
	stateEnded
)

// Session orchestrates one simulated-patient conversation.
type Session struct {
	cfg  Config
	deps Deps

	mu             sync.Mutex
	st             state
	stream         duplex.Stream
	promptID       string
	audioContentID string
	accum          strings.Builder
	lastUserText   string

	// currentRole tracks the speaker governing inbound text/audio events.
	// Written and read only by the dispatch goroutine.
	currentRole stream.Role

	// sendMu serialises every write to the duplex stream.
	sendMu sync.Mutex

	// bgCtx outlives the session context so in-flight evaluations finish
	// independently of teardown.
	bgCtx  context.Context
	cancel context.CancelFunc

	dispatchDone chan struct{}

	// bg tracks fire-and-forget persistence and evaluation tasks. Teardown
	// does not wait on it; tests do.
	bg sync.WaitGroup
}

// New creates an idle session. Call StartSession to open the stream.
func New(cfg Config, deps Deps) *Session {
	if cfg.HistoryDepth <= 0 {
		cfg.HistoryDepth = DefaultHistoryDepth
	}
	return &Session{cfg: cfg, deps: deps, dispatchDone: make(chan struct{})}
}

// StartSession opens the duplex stream (trying the fallback region once),
// sends the protocol preamble (sessionStart, promptStart, the SYSTEM text
// block carrying the resolved prompt), and starts the inbound dispatch
// goroutine. Emits ready on success. Stream-open failure is fatal for the
// session.
func (s *Session) StartSession(ctx context.Context) error {
	s.mu.Lock()
	if s.st != stateIdle {
		s.mu.Unlock()
		return ErrSessionActive
	}
	s.mu.Unlock()

	st, err := resilience.ExecuteWithResult(s.deps.Duplex, func(p duplex.Provider) (duplex.Stream, error) {
		return p.Connect(ctx, duplex.SessionConfig{ModelID: s.cfg.ModelID})
	})
	if err != nil {
		return fmt.Errorf("session: open stream: %w", err)
	}

	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	s.mu.Lock()
	s.stream = st
	s.promptID = uuid.NewString()
	s.bgCtx = context.WithoutCancel(sessionCtx)
	s.cancel = cancel
	s.st = stateStarted
	promptID := s.promptID
	s.mu.Unlock()

	systemPrompt := s.resolveSystemPrompt(ctx)
	voice := s.pickVoice()

	contentID := uuid.NewString()
	preamble := []stream.Event{
		stream.NewSessionStart(),
		stream.NewPromptStart(promptID, voice),
		stream.NewContentStartText(promptID, contentID, stream.RoleSystem),
		stream.NewTextInput(promptID, contentID, systemPrompt),
		stream.NewContentEnd(promptID, contentID),
	}
	for _, ev := range preamble {
		if err := s.send(ctx, ev); err != nil {
			cancel()
			_ = st.Close()
			s.mu.Lock()
			s.st = stateEnded
			s.mu.Unlock()
			return fmt.Errorf("session: preamble %s: %w", ev.Kind(), err)
		}
	}

	go func() {
		defer close(s.dispatchDone)
		s.runDispatch(sessionCtx)
	}()

	s.deps.Metrics.ActiveSessions.Add(ctx, 1)
	observe.Logger(ctx).Info("session started",
		"session_id", s.cfg.SessionID,
		"voice", voice,
		"auto_complete", s.cfg.AutoComplete)
	s.deps.Sink.EmitReady()
	return nil
}

// StartAudioInput opens a fresh AUDIO content block and resets the utterance
// accumulator for the new segment.
func (s *Session) StartAudioInput(ctx context.Context) error {
	s.mu.Lock()
	if s.st != stateStarted {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.audioContentID = uuid.NewString()
	s.accum.Reset()
	s.st = stateAudioActive
	promptID, contentID := s.promptID, s.audioContentID
	s.mu.Unlock()

	return s.send(ctx, stream.NewContentStartAudio(promptID, contentID))
}

// SendAudioChunk forwards one raw PCM chunk. Outside an active audio segment
// it is a silent no-op so late-arriving chunks never error.
func (s *Session) SendAudioChunk(ctx context.Context, pcm []byte) error {
	s.mu.Lock()
	if s.st != stateAudioActive {
		s.mu.Unlock()
		return nil
	}
	promptID, contentID := s.promptID, s.audioContentID
	s.mu.Unlock()

	if err := s.send(ctx, stream.NewAudioInput(promptID, contentID, pcm)); err != nil {
		return err
	}
	s.deps.Metrics.AudioChunks.Add(ctx, 1)
	return nil
}

// EndAudioInput closes the AUDIO block. The accumulated utterance is
// snapshotted before the accumulator resets so the next segment cannot bleed
// into this one's evaluation; the snapshot is persisted and empathy-scored in
// the background.
func (s *Session) EndAudioInput(ctx context.Context) error {
	s.mu.Lock()
	if s.st != stateAudioActive {
		s.mu.Unlock()
		return ErrNotStarted
	}
	promptID, contentID := s.promptID, s.audioContentID
	snapshot := s.accum.String()
	s.accum.Reset()
	s.st = stateStarted
	s.mu.Unlock()

	if err := s.send(ctx, stream.NewContentEnd(promptID, contentID)); err != nil {
		return err
	}

	if strings.TrimSpace(snapshot) != "" {
		s.bg.Add(1)
		go func() {
			defer s.bg.Done()
			s.evaluateUserText(snapshot)
		}()
	}
	return nil
}

// SendText injects literal text into the live prompt as a user turn.
func (s *Session) SendText(ctx context.Context, text string) error {
	s.mu.Lock()
	if s.st != stateStarted && s.st != stateAudioActive {
		s.mu.Unlock()
		return ErrNotStarted
	}
	promptID := s.promptID
	s.mu.Unlock()

	contentID := uuid.NewString()
	for _, ev := range []stream.Event{
		stream.NewContentStartText(promptID, contentID, stream.RoleUser),
		stream.NewTextInput(promptID, contentID, text),
		stream.NewContentEnd(promptID, contentID),
	} {
		if err := s.send(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// EvaluateEmpathy runs the empathy pipeline on demand for text that did not
// come through the audio path. Results are emitted like any other evaluation.
func (s *Session) EvaluateEmpathy(text string) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		s.evaluateUserText(text)
	}()
}

// EndSession tears the session down: promptEnd and sessionEnd go out, the
// outbound side closes, the inbound dispatch task is cancelled. Idempotent.
// In-flight evaluations are left to finish on their own.
func (s *Session) EndSession(ctx context.Context) error {
	s.mu.Lock()
	if s.st == stateEnding || s.st == stateEnded || s.st == stateIdle {
		s.mu.Unlock()
		return nil
	}
	s.st = stateEnding
	promptID := s.promptID
	st := s.stream
	s.mu.Unlock()

	var errs []error
	for _, ev := range []stream.Event{stream.NewPromptEnd(promptID), stream.NewSessionEnd()} {
		if err := s.send(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("send %s: %w", ev.Kind(), err))
		}
	}
	if err := st.CloseSend(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close send: %w", err))
	}

	s.cancel()
	if err := st.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close stream: %w", err))
	}

	s.mu.Lock()
	s.st = stateEnded
	s.mu.Unlock()

	s.deps.Metrics.ActiveSessions.Add(ctx, -1)
	observe.Logger(ctx).Info("session ended", "session_id", s.cfg.SessionID)
	if len(errs) > 0 {
		return fmt.Errorf("session: teardown: %w", errors.Join(errs...))
	}
	return nil
}

// alive reports whether events may still be emitted toward the sink.
// Background tasks check it before any late emission.
func (s *Session) alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st == stateStarted || s.st == stateAudioActive
}

// send serialises writes to the duplex stream.
func (s *Session) send(ctx context.Context, ev stream.Event) error {
	s.mu.Lock()
	st := s.stream
	s.mu.Unlock()
	if st == nil {
		return ErrNotStarted
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return st.Send(ctx, ev)
}

// pickVoice returns the explicit voice or a random feminine-pool voice.
func (s *Session) pickVoice() string {
	if s.cfg.VoiceID != "" {
		return s.cfg.VoiceID
	}
	return stream.FeminineVoices[rand.IntN(len(stream.FeminineVoices))]
}

// resolveSystemPrompt loads the latest admin prompt (falling back to the
// built-in patient persona) and appends the recent conversation history.
func (s *Session) resolveSystemPrompt(ctx context.Context) string {
	log := observe.Logger(ctx)

	prompt, err := s.deps.Prompts.LatestSystemPrompt(ctx)
	switch {
	case errors.Is(err, store.ErrNoPrompt):
		prompt = defaultSystemPrompt(s.cfg.PatientName)
	case err != nil:
		log.Warn("system prompt lookup failed, using default", "error", err)
		prompt = defaultSystemPrompt(s.cfg.PatientName)
	}

	history, err := s.deps.Chat.Recent(ctx, s.cfg.SessionID, s.cfg.HistoryDepth)
	if err != nil {
		log.Warn("chat history lookup failed, starting without history", "error", err)
		return prompt
	}
	if len(history) == 0 {
		return prompt
	}
	return prompt + "\n\nPrevious conversation:\n" + chatlog.FormatHistory(history)
}

// patientContext is the context string handed to the empathy judge.
func (s *Session) patientContext() string {
	name := s.cfg.PatientName
	if name == "" {
		name = "the patient"
	}
	return fmt.Sprintf("Simulated patient %s presenting for a nursing communication exercise.", name)
}

// evaluateUserText runs the empathy pipeline for one utterance and emits the
// results if the session is still live.
func (s *Session) evaluateUserText(text string) {
	s.mu.Lock()
	ctx := s.bgCtx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	res, err := s.deps.Empathy.Evaluate(ctx, s.cfg.SessionID, text, s.patientContext())
	if err != nil {
		observe.Logger(ctx).Error("empathy evaluation failed",
			"session_id", s.cfg.SessionID, "error", err)
		return
	}
	if res == nil || !s.alive() {
		return
	}
	s.deps.Sink.EmitEmpathy(eval.FormatFeedback(res))
	s.deps.Sink.EmitEmpathyData(string(res.Raw))
}
