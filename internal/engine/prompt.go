package engine

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/haasonsaas/qaforge/internal/exemplar"
	"github.com/haasonsaas/qaforge/pkg/models"
)

// difficultyIntro is the per-difficulty framing prepended to the shared
// generation requirements.
var difficultyIntro = map[models.Difficulty]string{
	models.DifficultyEasy: `Please generate a *simple, direct* aggregative query question with practical business/workplace relevance based on the provided sessions.
This question should require a single, straightforward aggregation (e.g., counting direct occurrences, summing a clear metric).`,
	models.DifficultyMedium: `Please generate an aggregative query question of *medium difficulty* with practical business/workplace relevance based on the provided sessions.
This question should involve either multiple filtering conditions, aggregation across specific time periods, or a simple comparison between two aggregated values.`,
	models.DifficultyHard: `Please generate a *complex, multi-step* aggregative query question with high practical business/workplace relevance based on the provided sessions.
This question should require multiple aggregations, complex temporal reasoning, or strong implicit filtering that needs deeper contextual understanding.`,
}

var promptTemplate = template.Must(template.New("qa").Parse(`{{.Intro}}

{{.SessionContext}}
Generation Requirements:
1. **Core Operations**: MUST use counting, summing, or deduplication.
2. **Scope**: MUST span at least {{.SessionThreshold}} sessions.
3. **Output Format**: Strict JSON only:
{
    "question": "Question text",
    "answer": "The answer is: [numeric value or concise response]",
    "evidence": ["Evidence 1", "Evidence 2", ...]
}
4. **Evidence Requirements**:
    - Evidence MUST be direct and highly relevant to the question's claim.
    - References MUST use "D{session_id}:{turn_id}" format.
    - Quotes MUST be verbatim and directly support the answer.
    - Must contain at least {{.MinEvidences}} but no more than {{.MaxEvidences}} distinct evidences.
    - If there aren't enough direct evidences to meet the minimum, do not generate the question.
5. **Answer Formatting**:
    - MUST begin with "The answer is: "
    - Avoid explanations or justifications in the answer field.
{{- if .Preferred}}

Here are examples of the kind of question-answer pairs we want:
{{range .Preferred}}{{.}}
{{end}}{{- end}}
{{- if .Disliked}}

The following examples were REJECTED. Do NOT generate questions with the same failure modes:
{{range .Disliked}}{{.}}
{{end}}{{- end}}`))

type promptData struct {
	Intro            string
	SessionContext   string
	SessionThreshold int
	MinEvidences     int
	MaxEvidences     int
	Preferred        []string
	Disliked         []string
}

// BuildPrompt renders the generation prompt for a request.
func BuildPrompt(req *Request) (string, error) {
	intro, ok := difficultyIntro[req.Difficulty]
	if !ok {
		// Unknown labels fall back to the medium template.
		intro = difficultyIntro[models.DifficultyMedium]
	}
	data := promptData{
		Intro:            intro,
		SessionContext:   req.SessionContext,
		SessionThreshold: req.SessionThreshold,
		MinEvidences:     req.MinEvidences,
		MaxEvidences:     req.MaxEvidences,
	}
	for _, e := range req.Preferred {
		data.Preferred = append(data.Preferred, renderExample(e, false))
	}
	for _, e := range req.Disliked {
		data.Disliked = append(data.Disliked, renderExample(e, true))
	}

	var b strings.Builder
	if err := promptTemplate.Execute(&b, data); err != nil {
		return "", renderError(req.Difficulty, err)
	}
	return b.String(), nil
}

func renderExample(e exemplar.Example, rejected bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- question: %s\n  answer: %s", e.Question, e.Answer)
	if len(e.Evidence) > 0 {
		fmt.Fprintf(&b, "\n  evidence: %s", strings.Join(e.Evidence, "; "))
	}
	if rejected && e.Reason != "" {
		fmt.Fprintf(&b, "\n  rejected because: %s", e.Reason)
	}
	return b.String()
}

// RenderSessionContext formats the window's sessions in the layout the
// templates reference: one block per session with turn offsets the engine
// can cite as evidence.
func RenderSessionContext(sessions []*models.Session) string {
	var b strings.Builder
	for _, sess := range sessions {
		fmt.Fprintf(&b, "### Session ID: %s\n", sess.ID)
		fmt.Fprintf(&b, "Time: %s\n", sess.Time)
		fmt.Fprintf(&b, "Participants: %s\n", strings.Join(sess.Participants, ", "))
		b.WriteString("Dialogs:\n")
		for _, turn := range sess.Turns {
			fmt.Fprintf(&b, "Turn %d: %s: %s\n", turn.ID, turn.Speaker, turn.Text)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
