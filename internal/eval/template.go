package eval

import (
	"fmt"
	"strings"
)

// Substitution placeholders required in every empathy template. Literal
// braces in template text are written doubled ({{ and }}), matching the
// dialect the admin console stores templates in.
const (
	placeholderPatientContext = "{patient_context}"
	placeholderUserText       = "{user_text}"
)

// scoreFieldMarker is the field name used to detect an unescaped JSON example
// block inside an admin-authored template.
const scoreFieldMarker = `"empathy_score"`

// defaultEmpathyTemplate is the built-in judge prompt used when no
// admin-authored template exists or the stored one is unusable.
const defaultEmpathyTemplate = `You are an LLM-as-a-Judge for healthcare empathy evaluation. Your task is to assess, score, and provide detailed justifications for a student's empathetic communication with a simulated patient.

**EVALUATION CONTEXT:**
Patient Context: {patient_context}
Student Response: {user_text}

**JUDGE INSTRUCTIONS:**
Evaluate the response across the empathy dimensions below. For each criterion provide a 1-5 score with clear justification grounded in the student's actual words. In overall_assessment, address the student directly using 'you' language with an encouraging, supportive tone.

**SCORING CRITERIA:**
- Perspective-Taking (1-5): effort to understand the patient's viewpoint.
- Emotional Resonance (1-5): warmth and attunement to emotional needs.
- Acknowledgment (1-5): validation of the patient's experience.
- Language & Communication (1-5): patient-friendly, non-judgmental language.
- Cognitive Empathy (1-5): understanding the patient's thoughts and explaining clearly.
- Affective Empathy (1-5): recognizing and responding to the patient's emotions.

**Realism Assessment:**
- Realistic: medically appropriate, honest, evidence-based responses.
- Unrealistic: false reassurances, impossible promises, medical inaccuracies.

**JUDGE OUTPUT FORMAT:**
Respond with a single JSON object in exactly this shape:

{{
    "empathy_score": <integer 1-5>,
    "perspective_taking": <integer 1-5>,
    "emotional_resonance": <integer 1-5>,
    "acknowledgment": <integer 1-5>,
    "language_communication": <integer 1-5>,
    "cognitive_empathy": <integer 1-5>,
    "affective_empathy": <integer 1-5>,
    "realism_flag": "realistic|unrealistic",
    "judge_reasoning": {{
        "overall_assessment": "Supportive summary addressing the student directly"
    }},
    "feedback": {{
        "strengths": ["Specific strengths with evidence from the response"],
        "areas_for_improvement": ["Specific areas needing improvement"],
        "improvement_suggestions": ["Actionable improvement recommendations"]
    }}
}}`

// hasPlaceholders reports whether tpl contains both required substitution
// slots.
func hasPlaceholders(tpl string) bool {
	return strings.Contains(tpl, placeholderPatientContext) &&
		strings.Contains(tpl, placeholderUserText)
}

// escapeJSONExample doubles single braces inside an admin template's JSON
// example block so they survive substitution as literals.
//
// Admin-authored templates are supposed to double every literal brace, but
// templates pasted from model output often carry the JSON example with single
// braces. Detection is heuristic: the block is the first-{ to last-} span
// containing the empathy_score field name. Spans that already contain doubled
// braces are left untouched, as are the two substitution placeholders. This
// is preserved legacy behaviour; a stricter template dialect would remove the
// need for it.
func escapeJSONExample(tpl string) string {
	marker := strings.Index(tpl, scoreFieldMarker)
	if marker < 0 {
		return tpl
	}

	start := strings.LastIndex(tpl[:marker], "{")
	end := strings.LastIndex(tpl, "}")
	if start < 0 || end <= start {
		return tpl
	}
	block := tpl[start : end+1]
	if strings.Contains(block, "{{") {
		return tpl
	}

	var b strings.Builder
	b.Grow(len(block) * 2)
	for i := 0; i < len(block); {
		if rest := block[i:]; strings.HasPrefix(rest, placeholderPatientContext) {
			b.WriteString(placeholderPatientContext)
			i += len(placeholderPatientContext)
			continue
		} else if strings.HasPrefix(rest, placeholderUserText) {
			b.WriteString(placeholderUserText)
			i += len(placeholderUserText)
			continue
		}
		c := block[i]
		if c == '{' || c == '}' {
			b.WriteByte(c)
		}
		b.WriteByte(c)
		i++
	}
	return tpl[:start] + b.String() + tpl[end+1:]
}

// renderTemplate substitutes the two placeholder slots and collapses doubled
// braces to literals. Any other single-brace field reference is a render
// error; so is an unmatched closing brace.
func renderTemplate(tpl, patientContext, userText string) (string, error) {
	values := map[string]string{
		"patient_context": patientContext,
		"user_text":       userText,
	}

	var b strings.Builder
	b.Grow(len(tpl) + len(patientContext) + len(userText))
	for i := 0; i < len(tpl); {
		c := tpl[i]
		switch c {
		case '{':
			if i+1 < len(tpl) && tpl[i+1] == '{' {
				b.WriteByte('{')
				i += 2
				continue
			}
			close := strings.IndexByte(tpl[i:], '}')
			if close < 0 {
				return "", fmt.Errorf("eval: template: unclosed brace at offset %d", i)
			}
			name := tpl[i+1 : i+close]
			val, ok := values[name]
			if !ok {
				return "", fmt.Errorf("eval: template: unknown field %q", name)
			}
			b.WriteString(val)
			i += close + 1
		case '}':
			if i+1 < len(tpl) && tpl[i+1] == '}' {
				b.WriteByte('}')
				i += 2
				continue
			}
			return "", fmt.Errorf("eval: template: unmatched closing brace at offset %d", i)
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String(), nil
}
