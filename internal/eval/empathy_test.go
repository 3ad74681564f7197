package eval

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/vireomed/bedside/internal/observe"
	"github.com/vireomed/bedside/internal/resilience"
	storemock "github.com/vireomed/bedside/internal/store/mock"
	"github.com/vireomed/bedside/pkg/provider/llm"
	llmmock "github.com/vireomed/bedside/pkg/provider/llm/mock"
)

const judgeReply = `Here is my evaluation:
{
    "empathy_score": 4,
    "perspective_taking": 5,
    "emotional_resonance": "4",
    "acknowledgment": 0,
    "language_communication": 4,
    "cognitive_empathy": 7,
    "realism_flag": "realistic",
    "judge_reasoning": {
        "overall_assessment": "You showed genuine warmth."
    },
    "feedback": {
        "strengths": ["warm greeting", "open question", "eye level", "extra"],
        "areas_for_improvement": ["pacing"],
        "improvement_suggestions": ["pause more", "reflect feelings", "extra"]
    }
}
Done.`

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newEmpathy(judge llm.Provider, prompts *storemock.PromptStore, turns *storemock.TurnStore, t *testing.T) *Empathy {
	judges := resilience.NewGroup(judge, "us-east-1")
	return NewEmpathy(judges, prompts, turns, testMetrics(t))
}

func TestEvaluateSkipsBlankInput(t *testing.T) {
	t.Parallel()

	judge := &llmmock.Provider{}
	e := newEmpathy(judge, &storemock.PromptStore{}, &storemock.TurnStore{}, t)

	for _, input := range []string{"", "   ", "\n\t"} {
		res, err := e.Evaluate(context.Background(), "s1", input, "ctx")
		if err != nil {
			t.Fatalf("input %q: %v", input, err)
		}
		if res != nil {
			t.Fatalf("input %q: expected skip, got result", input)
		}
	}
	if len(judge.Calls()) != 0 {
		t.Fatalf("judge called %d times for blank input", len(judge.Calls()))
	}
}

func TestEvaluateTruncatesLongInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		char string
	}{
		{name: "ascii", char: "a"},
		{name: "multibyte", char: "あ"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			judge := &llmmock.Provider{Responses: []*llm.CompletionResponse{{Content: judgeReply}}}
			turns := &storemock.TurnStore{}
			e := newEmpathy(judge, &storemock.PromptStore{}, turns, t)

			long := strings.Repeat(tc.char, 1500)
			if _, err := e.Evaluate(context.Background(), "s1", long, "ctx"); err != nil {
				t.Fatalf("evaluate: %v", err)
			}

			calls := judge.Calls()
			if len(calls) != 1 {
				t.Fatalf("got %d judge calls, want 1", len(calls))
			}
			want := strings.Repeat(tc.char, 1000)
			prompt := calls[0].Req.Messages[0].Content
			if strings.Contains(prompt, long) {
				t.Fatal("untruncated input reached the judge")
			}
			if !strings.Contains(prompt, want) {
				t.Fatal("truncated input missing from prompt")
			}
			got := turns.Turns()
			if len(got) != 1 {
				t.Fatalf("got %d persisted turns, want 1", len(got))
			}
			content := got[0].Content
			if n := utf8.RuneCountInString(content); n != 1000 {
				t.Fatalf("persisted turn length %d characters, want 1000", n)
			}
			if !utf8.ValidString(content) {
				t.Fatal("truncation split a rune")
			}
		})
	}
}

func TestEvaluateParsesAndCoerces(t *testing.T) {
	t.Parallel()

	judge := &llmmock.Provider{Responses: []*llm.CompletionResponse{{Content: judgeReply}}}
	turns := &storemock.TurnStore{}
	e := newEmpathy(judge, &storemock.PromptStore{}, turns, t)

	res, err := e.Evaluate(context.Background(), "s1", "how are you feeling today", "chest pain")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	if res.EmpathyScore != 4 {
		t.Errorf("EmpathyScore = %d, want 4", res.EmpathyScore)
	}
	if res.EmotionalResonance != 4 {
		t.Errorf("string score not parsed: EmotionalResonance = %d, want 4", res.EmotionalResonance)
	}
	// affective_empathy is absent from the reply.
	if res.AffectiveEmpathy != 3 {
		t.Errorf("missing score not defaulted: AffectiveEmpathy = %d, want 3", res.AffectiveEmpathy)
	}
	// A literal 0 is as empty as a missing field.
	if res.Acknowledgment != 3 {
		t.Errorf("zero score not defaulted: Acknowledgment = %d, want 3", res.Acknowledgment)
	}
	// Out-of-range values pass through without clamping.
	if res.CognitiveEmpathy != 7 {
		t.Errorf("CognitiveEmpathy = %d, want 7 (unclamped)", res.CognitiveEmpathy)
	}
	if res.RealismFlag != "realistic" {
		t.Errorf("RealismFlag = %q", res.RealismFlag)
	}
	if res.OverallAssessment != "You showed genuine warmth." {
		t.Errorf("OverallAssessment = %q", res.OverallAssessment)
	}
	if len(res.Strengths) != 4 {
		t.Errorf("Strengths = %v", res.Strengths)
	}

	got := turns.Turns()
	if len(got) != 1 {
		t.Fatalf("got %d persisted turns, want 1", len(got))
	}
	if !got[0].StudentSent || got[0].Empathy == nil {
		t.Fatalf("persisted turn missing evaluation: %+v", got[0])
	}
}

func TestEvaluateRegionalFallback(t *testing.T) {
	t.Parallel()

	east := &llmmock.Provider{Errs: []error{errors.New("throttled")}}
	west := &llmmock.Provider{Responses: []*llm.CompletionResponse{{Content: judgeReply}}}
	judges := resilience.NewGroup[llm.Provider](east, "us-east-1")
	judges.AddRegion("us-west-2", west)
	e := NewEmpathy(judges, &storemock.PromptStore{}, &storemock.TurnStore{}, testMetrics(t))

	res, err := e.Evaluate(context.Background(), "s1", "hello", "ctx")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res == nil {
		t.Fatal("no result after fallback")
	}
	if len(east.Calls()) != 1 || len(west.Calls()) != 1 {
		t.Fatalf("calls east=%d west=%d, want 1 each", len(east.Calls()), len(west.Calls()))
	}
}

func TestEvaluateAllRegionsFail(t *testing.T) {
	t.Parallel()

	judge := &llmmock.Provider{Errs: []error{errors.New("down")}}
	turns := &storemock.TurnStore{}
	e := newEmpathy(judge, &storemock.PromptStore{}, turns, t)

	if _, err := e.Evaluate(context.Background(), "s1", "hello", "ctx"); !errors.Is(err, resilience.ErrAllRegionsFailed) {
		t.Fatalf("want ErrAllRegionsFailed, got %v", err)
	}

	// The turn survives the outage, just without evaluation data.
	got := turns.Turns()
	if len(got) != 1 {
		t.Fatalf("got %d persisted turns, want 1", len(got))
	}
	if got[0].Content != "hello" || !got[0].StudentSent {
		t.Fatalf("persisted turn = %+v", got[0])
	}
	if got[0].Empathy != nil {
		t.Fatalf("failed evaluation persisted evaluation data: %s", got[0].Empathy)
	}
}

func TestEvaluateUsesAdminTemplate(t *testing.T) {
	t.Parallel()

	judge := &llmmock.Provider{Responses: []*llm.CompletionResponse{{Content: judgeReply}}}
	prompts := &storemock.PromptStore{
		EmpathyPrompt: "Rate this.\nContext: {patient_context}\nResponse: {user_text}",
	}
	e := newEmpathy(judge, prompts, &storemock.TurnStore{}, t)

	if _, err := e.Evaluate(context.Background(), "s1", "hi there", "sore throat"); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	prompt := judge.Calls()[0].Req.Messages[0].Content
	if !strings.HasPrefix(prompt, "Rate this.") {
		t.Fatalf("admin template not used: %q", prompt)
	}
	if !strings.Contains(prompt, "sore throat") || !strings.Contains(prompt, "hi there") {
		t.Fatalf("substitution missing: %q", prompt)
	}
}

func TestEvaluateFallsBackWhenTemplateLacksPlaceholders(t *testing.T) {
	t.Parallel()

	judge := &llmmock.Provider{Responses: []*llm.CompletionResponse{{Content: judgeReply}}}
	prompts := &storemock.PromptStore{EmpathyPrompt: "Rate this response, no slots here."}
	e := newEmpathy(judge, prompts, &storemock.TurnStore{}, t)

	if _, err := e.Evaluate(context.Background(), "s1", "hi there", "ctx"); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	prompt := judge.Calls()[0].Req.Messages[0].Content
	if !strings.Contains(prompt, "hi there") {
		t.Fatal("default template substitution missing user text")
	}
	if strings.HasPrefix(prompt, "Rate this response") {
		t.Fatal("unusable admin template was not replaced")
	}
}

func TestEvaluateNoJSONInReply(t *testing.T) {
	t.Parallel()

	judge := &llmmock.Provider{Responses: []*llm.CompletionResponse{{Content: "I cannot comply."}}}
	turns := &storemock.TurnStore{}
	e := newEmpathy(judge, &storemock.PromptStore{}, turns, t)

	if _, err := e.Evaluate(context.Background(), "s1", "hello", "ctx"); !errors.Is(err, ErrNoJSON) {
		t.Fatalf("want ErrNoJSON, got %v", err)
	}
	got := turns.Turns()
	if len(got) != 1 || got[0].Empathy != nil {
		t.Fatalf("unparsable reply must still persist the bare turn, got %+v", got)
	}
}

func TestFormatFeedbackCaps(t *testing.T) {
	t.Parallel()

	res := &Result{
		EmpathyScore:      4,
		RealismFlag:       "realistic",
		OverallAssessment: "Good work.",
		Strengths:         []string{"a", "b", "c", "d"},
		Improvements:      []string{"e", "f", "g", "h"},
		Suggestions:       []string{"i", "j", "k"},
	}
	out := FormatFeedback(res)

	if !strings.Contains(out, "Empathy Score: 4/5") {
		t.Fatalf("missing overall score: %q", out)
	}
	if strings.Contains(out, "- d") {
		t.Fatal("strengths not capped at 3")
	}
	if strings.Contains(out, "- h") {
		t.Fatal("improvements not capped at 3")
	}
	if strings.Contains(out, "- k") {
		t.Fatal("suggestions not capped at 2")
	}
}
