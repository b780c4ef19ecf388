package models

import "fmt"

// SamplingWindow is the set of sessions and evidence spans selected as the
// input to one generation request.
type SamplingWindow struct {
	// ConversationID identifies the conversation the sessions were drawn
	// from, empty for ungrouped corpora.
	ConversationID string `json:"conversation_id,omitempty"`

	// SessionIDs lists the selected sessions in corpus order.
	SessionIDs []string `json:"session_ids"`

	// SessionThreshold is the minimum number of distinct sessions a
	// generated answer must draw on.
	SessionThreshold int `json:"session_threshold"`

	// Evidences are the selected spans. Every span's owning session must be
	// a member of SessionIDs, and spans within one session must not overlap.
	Evidences []EvidenceSpan `json:"evidences"`
}

// ContainsSession reports whether id is one of the selected sessions.
func (w SamplingWindow) ContainsSession(id string) bool {
	for _, sid := range w.SessionIDs {
		if sid == id {
			return true
		}
	}
	return false
}

// CheckInvariants verifies the structural invariants of the window against
// the configured bounds. It returns the first violation found.
func (w SamplingWindow) CheckInvariants(minSessions, maxSessions, minEvidences, maxEvidences int) error {
	if n := len(w.SessionIDs); n < minSessions || n > maxSessions {
		return fmt.Errorf("session count %d outside [%d, %d]", n, minSessions, maxSessions)
	}
	if n := len(w.Evidences); n < minEvidences || n > maxEvidences {
		return fmt.Errorf("evidence count %d outside [%d, %d]", n, minEvidences, maxEvidences)
	}
	for i, ev := range w.Evidences {
		if !ev.Valid() {
			return fmt.Errorf("evidence %d has invalid offsets", i)
		}
		if !w.ContainsSession(ev.SessionID) {
			return fmt.Errorf("evidence %d references session %q outside the window", i, ev.SessionID)
		}
		for j := i + 1; j < len(w.Evidences); j++ {
			if ev.Overlaps(w.Evidences[j]) {
				return fmt.Errorf("evidences %d and %d overlap in session %q", i, j, ev.SessionID)
			}
		}
	}
	return nil
}
