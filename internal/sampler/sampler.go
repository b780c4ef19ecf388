// Package sampler selects sampling windows: a bounded set of sessions from
// one conversation plus non-overlapping evidence spans inside them. Sampling
// reads the session store and nothing else, so it is safe to run from
// multiple goroutines.
package sampler

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"

	"github.com/haasonsaas/qaforge/internal/corpus"
	"github.com/haasonsaas/qaforge/pkg/models"
)

// nearDupSimilarity is the token-overlap ratio at or above which two
// sessions are considered near-duplicates of each other and collapse into
// one for the session_threshold distinctness check.
const nearDupSimilarity = 0.9

// maxSpanTurns is the largest evidence span the sampler produces.
const maxSpanTurns = 2

// Constraints bound one sampling request.
type Constraints struct {
	MinSessions      int
	MaxSessions      int
	SessionThreshold int
	MinEvidences     int
	MaxEvidences     int
	MaxAttempts      int
}

// InsufficientCorpusError reports that the corpus cannot satisfy the
// sampling constraints within the attempt budget. The orchestrator treats it
// as a per-round warning, not a fatal error.
type InsufficientCorpusError struct {
	ConversationID string
	Attempts       int
	Reason         string
}

func (e *InsufficientCorpusError) Error() string {
	return fmt.Sprintf("conversation %s: sampling constraints unsatisfiable after %d attempts: %s",
		e.ConversationID, e.Attempts, e.Reason)
}

// Sampler draws sampling windows from the session store.
type Sampler struct {
	store *corpus.Store

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a sampler over the store. The rng seam makes sampling
// reproducible in tests; pass rand.New(rand.NewSource(time.Now().UnixNano()))
// for production use.
func New(store *corpus.Store, rng *rand.Rand) *Sampler {
	return &Sampler{store: store, rng: rng}
}

// Sample selects a window from the given conversation satisfying the
// constraints. It resamples up to c.MaxAttempts times before failing with
// an InsufficientCorpusError.
func (s *Sampler) Sample(conversationID string, c Constraints) (models.SamplingWindow, error) {
	sessions := s.store.SessionsIn(conversationID)
	if len(sessions) < c.MinSessions {
		return models.SamplingWindow{}, &InsufficientCorpusError{
			ConversationID: conversationID,
			Reason:         fmt.Sprintf("conversation has %d sessions, need at least %d", len(sessions), c.MinSessions),
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	lastReason := "no attempt made"
	for attempt := 1; attempt <= c.MaxAttempts; attempt++ {
		window, reason := s.trySample(conversationID, sessions, c)
		if reason == "" {
			return window, nil
		}
		lastReason = reason
	}
	return models.SamplingWindow{}, &InsufficientCorpusError{
		ConversationID: conversationID,
		Attempts:       c.MaxAttempts,
		Reason:         lastReason,
	}
}

// trySample makes one sampling attempt. It returns a non-empty reason when
// the attempt fails and should be retried.
func (s *Sampler) trySample(conversationID string, sessions []*models.Session, c Constraints) (models.SamplingWindow, string) {
	maxCount := c.MaxSessions
	if maxCount > len(sessions) {
		maxCount = len(sessions)
	}
	count := c.MinSessions + s.rng.Intn(maxCount-c.MinSessions+1)

	perm := s.rng.Perm(len(sessions))
	indices := append([]int(nil), perm[:count]...)
	sort.Ints(indices)

	selected := make([]*models.Session, count)
	for i, idx := range indices {
		selected[i] = sessions[idx]
	}

	if distinct := distinctSessions(selected); distinct < c.SessionThreshold {
		return models.SamplingWindow{}, fmt.Sprintf(
			"only %d distinct sessions selected, threshold is %d", distinct, c.SessionThreshold)
	}

	evidences, ok := s.pickEvidences(selected, c)
	if !ok {
		return models.SamplingWindow{}, "could not place non-overlapping evidence spans"
	}

	window := models.SamplingWindow{
		ConversationID:   conversationID,
		SessionThreshold: c.SessionThreshold,
		Evidences:        evidences,
	}
	for _, sess := range selected {
		window.SessionIDs = append(window.SessionIDs, sess.ID)
	}
	return window, ""
}

// pickEvidences places a random number of non-overlapping spans across the
// selected sessions.
func (s *Sampler) pickEvidences(selected []*models.Session, c Constraints) ([]models.EvidenceSpan, bool) {
	target := c.MinEvidences + s.rng.Intn(c.MaxEvidences-c.MinEvidences+1)

	// An n-turn session fits at most ceil(n/maxSpanTurns)... conservatively n
	// single-turn spans; bail early when the window is simply too small.
	capacity := 0
	for _, sess := range selected {
		capacity += len(sess.Turns)
	}
	if capacity < target {
		return nil, false
	}

	taken := map[string][]models.EvidenceSpan{}
	var spans []models.EvidenceSpan
	// Each placement gets a bounded number of tries; collisions with already
	// taken turns trigger a re-roll rather than a full resample.
	tries := target * 8
	for len(spans) < target && tries > 0 {
		tries--
		sess := selected[s.rng.Intn(len(selected))]
		if len(sess.Turns) == 0 {
			continue
		}
		length := 1 + s.rng.Intn(maxSpanTurns)
		if length > len(sess.Turns) {
			length = len(sess.Turns)
		}
		start := s.rng.Intn(len(sess.Turns) - length + 1)
		span := models.EvidenceSpan{
			SessionID: sess.ID,
			StartTurn: start,
			EndTurn:   start + length - 1,
		}
		overlap := false
		for _, existing := range taken[sess.ID] {
			if span.Overlaps(existing) {
				overlap = true
				break
			}
		}
		if overlap {
			continue
		}
		span.Text = spanText(sess, span)
		taken[sess.ID] = append(taken[sess.ID], span)
		spans = append(spans, span)
	}
	if len(spans) < target {
		return nil, false
	}
	return spans, true
}

func spanText(sess *models.Session, span models.EvidenceSpan) string {
	var b strings.Builder
	for i := span.StartTurn; i <= span.EndTurn; i++ {
		if i > span.StartTurn {
			b.WriteByte('\n')
		}
		b.WriteString(sess.Turns[i].Speaker)
		b.WriteString(": ")
		b.WriteString(sess.Turns[i].Text)
	}
	return b.String()
}

// distinctSessions counts sessions after collapsing near-duplicates, so a
// window of mutually similar sessions cannot satisfy the threshold.
func distinctSessions(sessions []*models.Session) int {
	distinct := 0
	for i, sess := range sessions {
		dup := false
		for j := 0; j < i; j++ {
			if tokenSimilarity(sessionTokens(sess), sessionTokens(sessions[j])) >= nearDupSimilarity {
				dup = true
				break
			}
		}
		if !dup {
			distinct++
		}
	}
	return distinct
}

func sessionTokens(sess *models.Session) map[string]struct{} {
	tokens := map[string]struct{}{}
	for _, turn := range sess.Turns {
		for _, tok := range strings.Fields(strings.ToLower(turn.Text)) {
			tokens[strings.Trim(tok, ".,!?;:'\"")] = struct{}{}
		}
	}
	return tokens
}

// tokenSimilarity is the Jaccard overlap of two token sets.
func tokenSimilarity(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
