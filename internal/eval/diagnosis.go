package eval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/vireomed/bedside/internal/observe"
	"github.com/vireomed/bedside/internal/resilience"
	"github.com/vireomed/bedside/internal/store"
	"github.com/vireomed/bedside/pkg/provider/embeddings"
	"github.com/vireomed/bedside/pkg/provider/llm"
)

// Diagnosis verdicts want a single deterministic token back.
const (
	diagnosisTemperature = 0
	diagnosisMaxTokens   = 10
	diagnosisTopK        = 3
)

// judgeAttrs tags a judge-latency measurement with its pipeline.
func judgeAttrs(pipeline string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("pipeline", pipeline))
}

// Diagnosis decides whether the student has reached the correct diagnosis,
// using patient reference chunks retrieved by embedding similarity as
// grounding for the verdict.
type Diagnosis struct {
	judges   *resilience.Group[llm.Provider]
	embedder *resilience.Group[embeddings.Provider]
	search   store.ReferenceSearcher
	metrics  *observe.Metrics
}

// NewDiagnosis wires the diagnosis pipeline. A nil embedder group disables
// reference retrieval; verdicts then run on the student's statement alone.
func NewDiagnosis(judges *resilience.Group[llm.Provider], embedder *resilience.Group[embeddings.Provider], search store.ReferenceSearcher, metrics *observe.Metrics) *Diagnosis {
	return &Diagnosis{judges: judges, embedder: embedder, search: search, metrics: metrics}
}

// Verify returns true when the judge rules the student's latest statement a
// correct diagnosis for patientID. Retrieval failures of any kind degrade to
// a verdict without reference documents; only judge failure is an error.
func (d *Diagnosis) Verify(ctx context.Context, patientID, latestUserText string) (bool, error) {
	start := time.Now()

	refs := d.retrieveReferences(ctx, patientID, latestUserText)

	prompt := buildVerdictPrompt(refs, latestUserText)
	reply, err := resilience.ExecuteWithResult(d.judges, func(p llm.Provider) (*llm.CompletionResponse, error) {
		judgeStart := time.Now()
		resp, err := p.Complete(ctx, llm.CompletionRequest{
			Messages:    []llm.Message{{Role: "user", Content: prompt}},
			Temperature: diagnosisTemperature,
			MaxTokens:   diagnosisMaxTokens,
		})
		d.metrics.JudgeDuration.Record(ctx, time.Since(judgeStart).Seconds(),
			judgeAttrs("diagnosis"))
		return resp, err
	})
	if err != nil {
		d.metrics.RecordEvaluation(ctx, "diagnosis", "judge_error")
		return false, fmt.Errorf("eval: diagnosis judge: %w", err)
	}

	verdict := parseVerdict(reply.Content)
	d.metrics.DiagnosisEvalDuration.Record(ctx, time.Since(start).Seconds())
	d.metrics.RecordEvaluation(ctx, "diagnosis", "ok")
	return verdict, nil
}

// retrieveReferences embeds the latest user text and pulls the closest
// patient chunks. Every failure path returns nil; the verdict proceeds
// without grounding.
func (d *Diagnosis) retrieveReferences(ctx context.Context, patientID, text string) []store.ReferenceDoc {
	log := observe.Logger(ctx)

	if d.embedder == nil {
		return nil
	}

	vector, err := resilience.ExecuteWithResult(d.embedder, func(p embeddings.Provider) ([]float32, error) {
		return p.Embed(ctx, text)
	})
	if err != nil {
		log.Warn("reference embedding failed, verdict proceeds without references",
			"patient_id", patientID, "error", err)
		return nil
	}

	refs, err := d.search.SearchPatientContext(ctx, patientID, vector, diagnosisTopK)
	if err != nil {
		log.Warn("reference retrieval failed, verdict proceeds without references",
			"patient_id", patientID, "error", err)
		return nil
	}
	return refs
}

// buildVerdictPrompt assembles the strict binary prompt. The judge must
// answer with exactly one word.
func buildVerdictPrompt(refs []store.ReferenceDoc, latestUserText string) string {
	var b strings.Builder
	b.WriteString("You are verifying whether a nursing student has correctly identified the simulated patient's condition.\n\n")
	if len(refs) > 0 {
		b.WriteString("Patient reference material:\n")
		for _, ref := range refs {
			b.WriteString(ref.Content)
			b.WriteString("\n---\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("Student's latest statement:\n")
	b.WriteString(latestUserText)
	b.WriteString("\n\nDid the student correctly identify the patient's condition? Answer exactly True or False.")
	return b.String()
}

// parseVerdict reads the judge reply. Anything that does not lead with True
// counts as False.
func parseVerdict(reply string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(reply)), "true")
}
