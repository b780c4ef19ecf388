package validate

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haasonsaas/qaforge/internal/corpus"
	"github.com/haasonsaas/qaforge/internal/exemplar"
	"github.com/haasonsaas/qaforge/pkg/models"
)

func buildStore(t *testing.T) *corpus.Store {
	t.Helper()
	type turn struct {
		Speaker string `json:"speaker"`
		Content string `json:"content"`
	}
	type session struct {
		SessionID string `json:"session_id"`
		Turns     []turn `json:"turns"`
	}
	type conv struct {
		ConversationID string    `json:"conversation_id"`
		Sessions       []session `json:"sessions"`
	}

	corpusData := []conv{{
		ConversationID: "conv_1",
		Sessions: []session{
			{SessionID: "s1", Turns: []turn{
				{Speaker: "Ana", Content: "the payment gateway failed during checkout"},
				{Speaker: "Ben", Content: "restarting the gateway now"},
			}},
			{SessionID: "s2", Turns: []turn{
				{Speaker: "Ana", Content: "payment gateway failed again overnight"},
				{Speaker: "Ben", Content: "escalating to the vendor"},
			}},
			{SessionID: "s3", Turns: []turn{
				{Speaker: "Ana", Content: "vendor confirmed a certificate expiry"},
			}},
		},
	}}
	data, err := json.Marshal(corpusData)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "corpus.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	store, err := corpus.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func testGate(t *testing.T, enabled bool) (*Gate, *exemplar.Pool) {
	t.Helper()
	pool := exemplar.NewPool(5, 5)
	opts := Options{Enabled: enabled, SimilarityThreshold: 0.8, MinSupport: 0.3}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(opts, buildStore(t), pool, logger), pool
}

func testWindow() models.SamplingWindow {
	return models.SamplingWindow{
		ConversationID:   "conv_1",
		SessionIDs:       []string{"s1", "s2"},
		SessionThreshold: 2,
	}
}

func span(sessionID string, turn int) models.EvidenceSpan {
	return models.EvidenceSpan{SessionID: sessionID, StartTurn: turn, EndTurn: turn}
}

func TestValidateAcceptsGroundedCandidate(t *testing.T) {
	gate, pool := testGate(t, true)
	cand := models.QACandidate{
		ID:         "c1",
		Question:   "What failed during checkout in both sessions?",
		Answer:     "the payment gateway failed",
		Difficulty: models.DifficultyMedium,
		Evidence:   []models.EvidenceSpan{span("s1", 0), span("s2", 0)},
	}
	verdict := gate.Validate(cand, testWindow())
	if verdict.Outcome != models.VerdictAccepted {
		t.Fatalf("expected accepted, got %s (%s)", verdict.Outcome, verdict.Reason)
	}
	if got := pool.Preferred(); len(got) != 1 || got[0].Question != cand.Question {
		t.Errorf("preferred pool = %+v", got)
	}
}

func TestValidateNumericAnswersPassSupport(t *testing.T) {
	gate, _ := testGate(t, true)
	cand := models.QACandidate{
		ID:         "c2",
		Question:   "How many times did the payment gateway fail?",
		Answer:     "2",
		Difficulty: models.DifficultyHard,
		Evidence:   []models.EvidenceSpan{span("s1", 0), span("s2", 0)},
	}
	if v := gate.Validate(cand, testWindow()); v.Outcome != models.VerdictAccepted {
		t.Fatalf("numeric answer rejected: %s", v.Reason)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		cand   models.QACandidate
		reason string
	}{
		{
			name: "unresolvable evidence",
			cand: models.QACandidate{
				ID: "r1", Question: "q?", Answer: "2",
				Difficulty: models.DifficultyEasy,
				Evidence:   []models.EvidenceSpan{span("s1", 0), span("missing", 0)},
			},
			reason: "does not resolve",
		},
		{
			name: "turn out of range",
			cand: models.QACandidate{
				ID: "r2", Question: "q?", Answer: "2",
				Difficulty: models.DifficultyEasy,
				Evidence:   []models.EvidenceSpan{span("s1", 0), span("s2", 9)},
			},
			reason: "does not resolve",
		},
		{
			name: "evidence outside the window",
			cand: models.QACandidate{
				ID: "r3", Question: "q?", Answer: "2",
				Difficulty: models.DifficultyEasy,
				Evidence:   []models.EvidenceSpan{span("s1", 0), span("s3", 0)},
			},
			reason: "outside the sampling window",
		},
		{
			name: "unsupported textual answer",
			cand: models.QACandidate{
				ID: "r4", Question: "q?", Answer: "a meteor destroyed the datacenter",
				Difficulty: models.DifficultyEasy,
				Evidence:   []models.EvidenceSpan{span("s1", 0), span("s2", 0)},
			},
			reason: "not supported",
		},
		{
			name: "below session threshold",
			cand: models.QACandidate{
				ID: "r5", Question: "q?", Answer: "2",
				Difficulty: models.DifficultyEasy,
				Evidence:   []models.EvidenceSpan{span("s1", 0), span("s1", 1)},
			},
			reason: "threshold",
		},
		{
			name: "no evidence",
			cand: models.QACandidate{
				ID: "r7", Question: "q?", Answer: "2",
				Difficulty: models.DifficultyEasy,
			},
			reason: "no evidence",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate, pool := testGate(t, true)
			v := gate.Validate(tt.cand, testWindow())
			if v.Outcome != models.VerdictRejected {
				t.Fatalf("expected rejection, got %s", v.Outcome)
			}
			if !strings.Contains(v.Reason, tt.reason) {
				t.Errorf("reason %q does not mention %q", v.Reason, tt.reason)
			}
			disliked := pool.Disliked()
			if len(disliked) != 1 || disliked[0].Reason != v.Reason {
				t.Errorf("disliked pool = %+v", disliked)
			}
		})
	}
}

func TestValidateHardNeedsMultipleSpans(t *testing.T) {
	// With a threshold of one session, a hard candidate can satisfy the
	// spread check with a single span but is still rejected for it.
	gate, _ := testGate(t, true)
	window := models.SamplingWindow{
		ConversationID:   "conv_1",
		SessionIDs:       []string{"s1", "s2"},
		SessionThreshold: 1,
	}
	cand := models.QACandidate{
		ID: "h1", Question: "q?", Answer: "2",
		Difficulty: models.DifficultyHard,
		Evidence:   []models.EvidenceSpan{{SessionID: "s1", StartTurn: 0, EndTurn: 1}},
	}
	v := gate.Validate(cand, window)
	if v.Outcome != models.VerdictRejected || !strings.Contains(v.Reason, "single evidence span") {
		t.Fatalf("verdict = %+v", v)
	}
}

func TestValidateNearDuplicate(t *testing.T) {
	gate, _ := testGate(t, true)
	first := models.QACandidate{
		ID:         "d1",
		Question:   "What failed during checkout in the first session?",
		Answer:     "the payment gateway failed",
		Difficulty: models.DifficultyMedium,
		Evidence:   []models.EvidenceSpan{span("s1", 0), span("s2", 0)},
	}
	if v := gate.Validate(first, testWindow()); v.Outcome != models.VerdictAccepted {
		t.Fatalf("first candidate rejected: %s", v.Reason)
	}

	// Same question modulo case and spacing.
	dup := first
	dup.ID = "d2"
	dup.Question = "  what FAILED during checkout in the first session?"
	v := gate.Validate(dup, testWindow())
	if v.Outcome != models.VerdictRejected || !strings.Contains(v.Reason, "near-duplicate") {
		t.Fatalf("duplicate verdict = %+v", v)
	}

	// A different question over the same evidence is fine.
	other := first
	other.ID = "d3"
	other.Question = "Who escalated the incident to the vendor?"
	other.Answer = "Ben escalating vendor"
	other.Evidence = []models.EvidenceSpan{span("s1", 1), span("s2", 1)}
	if v := gate.Validate(other, testWindow()); v.Outcome != models.VerdictAccepted {
		t.Fatalf("distinct question rejected: %s", v.Reason)
	}
}

func TestValidateDisabledAcceptsEverything(t *testing.T) {
	gate, pool := testGate(t, false)
	cand := models.QACandidate{ID: "x1", Difficulty: models.DifficultyHard}
	v := gate.Validate(cand, models.SamplingWindow{})
	if v.Outcome != models.VerdictAccepted {
		t.Fatalf("disabled gate rejected: %+v", v)
	}
	if len(pool.Preferred()) != 0 || len(pool.Disliked()) != 0 {
		t.Error("disabled gate must not touch the exemplar pools")
	}
}

func TestValidateThresholdCappedBySessionCount(t *testing.T) {
	// A window narrower than the configured threshold only requires what it
	// actually contains.
	gate, _ := testGate(t, true)
	window := models.SamplingWindow{
		ConversationID:   "conv_1",
		SessionIDs:       []string{"s1"},
		SessionThreshold: 2,
	}
	cand := models.QACandidate{
		ID: "t1", Question: "q?", Answer: "2",
		Difficulty: models.DifficultyEasy,
		Evidence:   []models.EvidenceSpan{span("s1", 0)},
	}
	if v := gate.Validate(cand, window); v.Outcome != models.VerdictAccepted {
		t.Fatalf("capped threshold rejected: %s", v.Reason)
	}
}
