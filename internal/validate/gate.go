// Package validate implements the second-pass gate over generated
// candidates: evidence must resolve against the corpus, answers must be
// grounded in the evidence, difficulty labels must match the evidence
// spread, and near-duplicate questions are rejected. Each candidate reaches
// exactly one terminal state, accepted or rejected.
package validate

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/haasonsaas/qaforge/internal/corpus"
	"github.com/haasonsaas/qaforge/internal/exemplar"
	"github.com/haasonsaas/qaforge/pkg/models"
)

// InconsistencyError reports a candidate whose evidence no longer resolves
// against the corpus. It is treated as a rejection, never a fatal error.
type InconsistencyError struct {
	CandidateID string
	Span        models.EvidenceSpan
	Err         error
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("candidate %s: evidence %s does not resolve: %v", e.CandidateID, e.Span.Ref(), e.Err)
}

func (e *InconsistencyError) Unwrap() error { return e.Err }

// Options configures the gate.
type Options struct {
	// Enabled gates validation; when false every candidate is accepted
	// without inspection.
	Enabled bool

	// SimilarityThreshold is the token-overlap ratio at or above which a
	// question counts as a near-duplicate of an accepted one.
	SimilarityThreshold float64

	// MinSupport is the fraction of informative answer tokens that must
	// appear in the evidence text.
	MinSupport float64
}

// Gate validates candidates and feeds the exemplar pools.
type Gate struct {
	opts   Options
	store  *corpus.Store
	pool   *exemplar.Pool
	logger *slog.Logger

	mu       sync.Mutex
	accepted []string // normalized accepted questions, for dedupe
}

// New creates a gate over the given corpus. The pool receives accepted
// candidates as preferred examples and rejected ones as disliked examples.
func New(opts Options, store *corpus.Store, pool *exemplar.Pool, logger *slog.Logger) *Gate {
	return &Gate{opts: opts, store: store, pool: pool, logger: logger}
}

// Validate runs the gate on one candidate. The verdict is terminal: the
// candidate is either accepted or rejected, never revisited.
func (g *Gate) Validate(cand models.QACandidate, window models.SamplingWindow) models.Verdict {
	if !g.opts.Enabled {
		return models.Verdict{CandidateID: cand.ID, Outcome: models.VerdictAccepted, Reason: "validation disabled"}
	}

	if reason := g.check(cand, window); reason != "" {
		g.pool.AddDisliked(exemplar.Example{
			Question:   cand.Question,
			Answer:     cand.Answer,
			Difficulty: cand.Difficulty,
			Reason:     reason,
		})
		return models.Verdict{CandidateID: cand.ID, Outcome: models.VerdictRejected, Reason: reason}
	}

	g.recordAccepted(cand.Question)
	g.pool.AddPreferred(exemplar.Example{
		Question:   cand.Question,
		Answer:     cand.Answer,
		Evidence:   evidenceRefs(cand.Evidence),
		Difficulty: cand.Difficulty,
	})
	return models.Verdict{CandidateID: cand.ID, Outcome: models.VerdictAccepted}
}

// check returns a non-empty rejection reason on the first failed check.
func (g *Gate) check(cand models.QACandidate, window models.SamplingWindow) string {
	if strings.TrimSpace(cand.Question) == "" {
		return "empty question"
	}
	if strings.TrimSpace(cand.Answer) == "" {
		return "empty answer"
	}
	if len(cand.Evidence) == 0 {
		return "no evidence references"
	}

	// Referential integrity: every span must resolve against the corpus.
	var evidenceText strings.Builder
	for _, span := range cand.Evidence {
		text, err := g.store.Resolve(span)
		if err != nil {
			inconsistency := &InconsistencyError{CandidateID: cand.ID, Span: span, Err: err}
			g.logger.Warn("evidence inconsistency", "candidate", cand.ID, "span", span.Ref(), "error", err)
			return inconsistency.Error()
		}
		if !window.ContainsSession(span.SessionID) {
			return fmt.Sprintf("evidence %s references a session outside the sampling window", span.Ref())
		}
		evidenceText.WriteString(text)
		evidenceText.WriteByte('\n')
	}

	if reason := g.checkSupport(cand.Answer, evidenceText.String()); reason != "" {
		return reason
	}
	if reason := checkDifficulty(cand, window); reason != "" {
		return reason
	}
	if g.isNearDuplicate(cand.Question) {
		return "near-duplicate of an accepted question"
	}
	return ""
}

// checkSupport verifies the answer is derivable from the evidence.
// Aggregation answers are numeric and will not appear verbatim in the text,
// so numeric answers pass once their evidence resolves; textual answers
// need MinSupport of their informative tokens grounded in the evidence.
func (g *Gate) checkSupport(answer, evidence string) string {
	if _, err := strconv.ParseFloat(strings.TrimSpace(answer), 64); err == nil {
		return ""
	}
	answerTokens := informativeTokens(answer)
	if len(answerTokens) == 0 {
		return ""
	}
	evidenceTokens := tokenSet(evidence)
	supported := 0
	for tok := range answerTokens {
		if _, ok := evidenceTokens[tok]; ok {
			supported++
		}
	}
	score := float64(supported) / float64(len(answerTokens))
	if score < g.opts.MinSupport {
		return fmt.Sprintf("answer not supported by evidence (support %.2f < %.2f)", score, g.opts.MinSupport)
	}
	return ""
}

// checkDifficulty verifies the label is consistent with the evidence
// spread: every candidate must span the window's session threshold, and
// hard candidates must combine at least two evidence spans.
func checkDifficulty(cand models.QACandidate, window models.SamplingWindow) string {
	distinct := map[string]struct{}{}
	for _, span := range cand.Evidence {
		distinct[span.SessionID] = struct{}{}
	}
	required := window.SessionThreshold
	if n := len(window.SessionIDs); required > n {
		required = n
	}
	if len(distinct) < required {
		return fmt.Sprintf("evidence spans %d sessions, threshold is %d", len(distinct), required)
	}
	if cand.Difficulty == models.DifficultyHard && len(cand.Evidence) < 2 {
		return "hard candidate with a single evidence span"
	}
	return ""
}

func (g *Gate) isNearDuplicate(question string) bool {
	normalized := normalizeQuestion(question)
	tokens := tokenSet(normalized)
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, existing := range g.accepted {
		if existing == normalized {
			return true
		}
		if jaccard(tokens, tokenSet(existing)) >= g.opts.SimilarityThreshold {
			return true
		}
	}
	return false
}

func (g *Gate) recordAccepted(question string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.accepted = append(g.accepted, normalizeQuestion(question))
}

func normalizeQuestion(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

func tokenSet(text string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,!?;:'\"()")
		if tok != "" {
			set[tok] = struct{}{}
		}
	}
	return set
}

// stopwords excluded from answer support scoring.
var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"and": {}, "or": {}, "of": {}, "in": {}, "on": {}, "to": {}, "for": {},
}

func informativeTokens(text string) map[string]struct{} {
	set := tokenSet(text)
	for tok := range stopwords {
		delete(set, tok)
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}

func evidenceRefs(spans []models.EvidenceSpan) []string {
	refs := make([]string, 0, len(spans))
	for _, span := range spans {
		refs = append(refs, span.Ref())
	}
	return refs
}
