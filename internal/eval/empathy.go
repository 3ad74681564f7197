// Package eval implements the two judge pipelines: empathy scoring of user
// turns and the diagnosis-correctness verdict. Both run off the inbound
// dispatch path as fire-and-forget tasks and must never block conversation
// flow; any failure is logged and swallowed at the trigger site.
package eval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vireomed/bedside/internal/observe"
	"github.com/vireomed/bedside/internal/resilience"
	"github.com/vireomed/bedside/internal/store"
	"github.com/vireomed/bedside/pkg/provider/llm"
)

// Empathy pipeline limits. The judge is asked for a bounded JSON reply at low
// temperature so repeated evaluations of the same turn score consistently.
const (
	maxEvalInputChars  = 1000
	empathyTemperature = 0.2
	empathyMaxTokens   = 1000
	neutralScore       = 3
)

// ErrNoJSON is returned when the judge reply contains no {...} span.
var ErrNoJSON = errors.New("eval: no JSON object in judge reply")

// Result is one empathy evaluation of a single user turn. Produced once,
// attached to the persisted turn, never mutated afterward.
type Result struct {
	EmpathyScore          int    `json:"empathy_score"`
	PerspectiveTaking     int    `json:"perspective_taking"`
	EmotionalResonance    int    `json:"emotional_resonance"`
	Acknowledgment        int    `json:"acknowledgment"`
	LanguageCommunication int    `json:"language_communication"`
	CognitiveEmpathy      int    `json:"cognitive_empathy"`
	AffectiveEmpathy      int    `json:"affective_empathy"`
	RealismFlag           string `json:"realism_flag"`

	OverallAssessment string   `json:"overall_assessment"`
	Strengths         []string `json:"strengths"`
	Improvements      []string `json:"areas_for_improvement"`
	Suggestions       []string `json:"improvement_suggestions"`

	// Raw is the JSON span exactly as extracted from the judge reply.
	Raw json.RawMessage `json:"-"`
}

// Empathy scores user utterances with the judge model.
type Empathy struct {
	judges  *resilience.Group[llm.Provider]
	prompts store.PromptStore
	turns   store.TurnStore
	metrics *observe.Metrics
}

// NewEmpathy wires the empathy pipeline.
func NewEmpathy(judges *resilience.Group[llm.Provider], prompts store.PromptStore, turns store.TurnStore, metrics *observe.Metrics) *Empathy {
	return &Empathy{judges: judges, prompts: prompts, turns: turns, metrics: metrics}
}

// Evaluate scores userText against patientContext. A blank input is a
// deliberate skip and returns (nil, nil). On success the triggering turn is
// persisted with the evaluation attached; on failure the turn is persisted
// without evaluation data so a judge outage never loses it, and the error is
// returned for logging. The dispatch path makes its own backup insert for
// fragments; the resulting duplicates are expected in the append-only table.
func (e *Empathy) Evaluate(ctx context.Context, sessionID, userText, patientContext string) (*Result, error) {
	log := observe.Logger(ctx)

	if strings.TrimSpace(userText) == "" {
		return nil, nil
	}
	if runes := []rune(userText); len(runes) > maxEvalInputChars {
		log.Warn("empathy input truncated",
			"session_id", sessionID,
			"length", len(runes),
			"limit", maxEvalInputChars)
		userText = string(runes[:maxEvalInputChars])
	}

	start := time.Now()
	prompt, err := e.buildPrompt(ctx, userText, patientContext)
	if err != nil {
		e.metrics.RecordEvaluation(ctx, "empathy", "prompt_error")
		e.persistUnevaluated(ctx, sessionID, userText)
		return nil, err
	}

	reply, err := resilience.ExecuteWithResult(e.judges, func(p llm.Provider) (*llm.CompletionResponse, error) {
		judgeStart := time.Now()
		resp, err := p.Complete(ctx, llm.CompletionRequest{
			Messages:    []llm.Message{{Role: "user", Content: prompt}},
			Temperature: empathyTemperature,
			MaxTokens:   empathyMaxTokens,
		})
		e.metrics.JudgeDuration.Record(ctx, time.Since(judgeStart).Seconds(),
			judgeAttrs("empathy"))
		return resp, err
	})
	if err != nil {
		e.metrics.RecordEvaluation(ctx, "empathy", "judge_error")
		e.persistUnevaluated(ctx, sessionID, userText)
		return nil, fmt.Errorf("eval: empathy judge: %w", err)
	}

	result, err := parseResult(reply.Content)
	if err != nil {
		e.metrics.RecordEvaluation(ctx, "empathy", "parse_error")
		e.persistUnevaluated(ctx, sessionID, userText)
		return nil, err
	}

	if err := e.turns.InsertTurn(ctx, store.Turn{
		SessionID:   sessionID,
		StudentSent: true,
		Content:     userText,
		Empathy:     result.Raw,
	}); err != nil {
		// The evaluation itself succeeded; report it even when the
		// evaluated copy of the turn could not be stored.
		e.metrics.RecordStoreError(ctx, "insert_evaluated_turn")
		log.Error("persist evaluated turn", "session_id", sessionID, "error", err)
	}

	e.metrics.EmpathyEvalDuration.Record(ctx, time.Since(start).Seconds())
	e.metrics.RecordEvaluation(ctx, "empathy", "ok")
	return result, nil
}

// persistUnevaluated inserts the triggering turn without evaluation data. The
// turn must survive a judge outage; evaluation is best-effort, durability is
// not.
func (e *Empathy) persistUnevaluated(ctx context.Context, sessionID, userText string) {
	if err := e.turns.InsertTurn(ctx, store.Turn{
		SessionID:   sessionID,
		StudentSent: true,
		Content:     userText,
	}); err != nil {
		e.metrics.RecordStoreError(ctx, "insert_unevaluated_turn")
		observe.Logger(ctx).Error("persist unevaluated turn",
			"session_id", sessionID, "error", err)
	}
}

// buildPrompt resolves the admin template, falls back to the built-in one,
// and renders it. The rendered prompt must contain the user text verbatim;
// a template that swallows it is stale and gets replaced by the default.
func (e *Empathy) buildPrompt(ctx context.Context, userText, patientContext string) (string, error) {
	tpl := defaultEmpathyTemplate

	admin, err := e.prompts.LatestEmpathyPrompt(ctx)
	switch {
	case errors.Is(err, store.ErrNoPrompt):
		// Built-in default.
	case err != nil:
		observe.Logger(ctx).Warn("empathy template lookup failed, using default", "error", err)
	case !hasPlaceholders(admin):
		observe.Logger(ctx).Warn("empathy template missing placeholders, using default")
	default:
		tpl = escapeJSONExample(admin)
	}

	rendered, err := renderTemplate(tpl, patientContext, userText)
	if err == nil && strings.Contains(rendered, userText) {
		return rendered, nil
	}
	if tpl == defaultEmpathyTemplate {
		return "", fmt.Errorf("eval: render default template: %w", err)
	}

	observe.Logger(ctx).Warn("admin empathy template unusable, falling back to default", "error", err)
	rendered, err = renderTemplate(defaultEmpathyTemplate, patientContext, userText)
	if err != nil {
		return "", fmt.Errorf("eval: render default template: %w", err)
	}
	if !strings.Contains(rendered, userText) {
		return "", errors.New("eval: rendered template lost the user text")
	}
	return rendered, nil
}

// extractJSON returns the first-{ to last-} span of s.
func extractJSON(s string) (string, error) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", ErrNoJSON
	}
	return s[start : end+1], nil
}

// parseResult extracts and coerces the judge's JSON reply.
func parseResult(reply string) (*Result, error) {
	span, err := extractJSON(reply)
	if err != nil {
		return nil, err
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(span), &doc); err != nil {
		return nil, fmt.Errorf("eval: parse judge JSON: %w", err)
	}

	res := &Result{
		EmpathyScore:          coerceScore(doc["empathy_score"]),
		PerspectiveTaking:     coerceScore(doc["perspective_taking"]),
		EmotionalResonance:    coerceScore(doc["emotional_resonance"]),
		Acknowledgment:        coerceScore(doc["acknowledgment"]),
		LanguageCommunication: coerceScore(doc["language_communication"]),
		CognitiveEmpathy:      coerceScore(doc["cognitive_empathy"]),
		AffectiveEmpathy:      coerceScore(doc["affective_empathy"]),
		Raw:                   json.RawMessage(span),
	}
	if flag, ok := doc["realism_flag"].(string); ok {
		res.RealismFlag = flag
	}
	if reasoning, ok := doc["judge_reasoning"].(map[string]any); ok {
		if s, ok := reasoning["overall_assessment"].(string); ok {
			res.OverallAssessment = s
		}
	}
	if feedback, ok := doc["feedback"].(map[string]any); ok {
		res.Strengths = stringList(feedback["strengths"])
		res.Improvements = stringList(feedback["areas_for_improvement"])
		res.Suggestions = stringList(feedback["improvement_suggestions"])
	}
	return res, nil
}

// coerceScore normalises a judge-supplied score. Numbers pass through,
// numeric strings are parsed, and anything empty (absent, null, zero or
// non-numeric) becomes the neutral default. Out-of-range values pass through
// unclamped; downstream consumers display them as-is.
func coerceScore(v any) int {
	switch n := v.(type) {
	case float64:
		if n == 0 {
			return neutralScore
		}
		return int(n)
	case string:
		if parsed, err := strconv.Atoi(strings.TrimSpace(n)); err == nil && parsed != 0 {
			return parsed
		}
	}
	return neutralScore
}

// stringList extracts a []string from a decoded JSON value, skipping
// non-string entries.
func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// FormatFeedback renders the human-readable summary emitted alongside the
// raw result: overall score, the six sub-scores, the assessment, and at most
// three strengths, three improvements and two suggestions.
func FormatFeedback(r *Result) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Empathy Score: %d/5\n\n", r.EmpathyScore)
	fmt.Fprintf(&b, "Perspective-Taking: %d/5\n", r.PerspectiveTaking)
	fmt.Fprintf(&b, "Emotional Resonance: %d/5\n", r.EmotionalResonance)
	fmt.Fprintf(&b, "Acknowledgment: %d/5\n", r.Acknowledgment)
	fmt.Fprintf(&b, "Language & Communication: %d/5\n", r.LanguageCommunication)
	fmt.Fprintf(&b, "Cognitive Empathy: %d/5\n", r.CognitiveEmpathy)
	fmt.Fprintf(&b, "Affective Empathy: %d/5\n", r.AffectiveEmpathy)

	if r.RealismFlag != "" {
		fmt.Fprintf(&b, "\nRealism: %s\n", r.RealismFlag)
	}
	if r.OverallAssessment != "" {
		fmt.Fprintf(&b, "\n%s\n", r.OverallAssessment)
	}
	writeFeedbackList(&b, "Strengths", r.Strengths, 3)
	writeFeedbackList(&b, "Areas for Improvement", r.Improvements, 3)
	writeFeedbackList(&b, "Suggestions", r.Suggestions, 2)

	return strings.TrimRight(b.String(), "\n")
}

func writeFeedbackList(b *strings.Builder, title string, items []string, max int) {
	if len(items) == 0 {
		return
	}
	if len(items) > max {
		items = items[:max]
	}
	fmt.Fprintf(b, "\n%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}
