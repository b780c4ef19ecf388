package models

import "fmt"

// EvidenceSpan references a contiguous run of turns inside one session.
// It is a view into the owning session, not an independent copy: StartTurn
// and EndTurn are turn offsets that must resolve against the loaded corpus.
// Text is denormalized at sampling time for prompt construction but the
// offsets remain the source of truth for traceability.
type EvidenceSpan struct {
	// SessionID identifies the owning session.
	SessionID string `json:"session_id"`

	// StartTurn is the zero-based offset of the first turn in the span.
	StartTurn int `json:"start_turn"`

	// EndTurn is the zero-based offset of the last turn in the span
	// (inclusive).
	EndTurn int `json:"end_turn"`

	// Text is the denormalized span text, in "speaker: text" line form.
	Text string `json:"text,omitempty"`
}

// Ref returns the compact "D<session>:<start>-<end>" reference form used in
// prompts and provenance records.
func (e EvidenceSpan) Ref() string {
	if e.StartTurn == e.EndTurn {
		return fmt.Sprintf("D%s:%d", e.SessionID, e.StartTurn)
	}
	return fmt.Sprintf("D%s:%d-%d", e.SessionID, e.StartTurn, e.EndTurn)
}

// Overlaps reports whether two spans share at least one turn. Spans in
// different sessions never overlap.
func (e EvidenceSpan) Overlaps(other EvidenceSpan) bool {
	if e.SessionID != other.SessionID {
		return false
	}
	return e.StartTurn <= other.EndTurn && other.StartTurn <= e.EndTurn
}

// Valid reports whether the span offsets are internally consistent.
func (e EvidenceSpan) Valid() bool {
	return e.SessionID != "" && e.StartTurn >= 0 && e.EndTurn >= e.StartTurn
}
