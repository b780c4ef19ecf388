package models

import "time"

// Difficulty is the coarse label describing expected answer complexity and
// evidence spread.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Difficulties lists all labels in ascending order of complexity.
func Difficulties() []Difficulty {
	return []Difficulty{DifficultyEasy, DifficultyMedium, DifficultyHard}
}

// Valid reports whether d is a recognized difficulty label.
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// QACandidate is one generated question-answer pair with full provenance.
type QACandidate struct {
	// ID is a unique identifier assigned at generation time.
	ID string `json:"id"`

	// Question is the generated question text.
	Question string `json:"question"`

	// Answer is the generated answer text, normalized to drop the
	// "The answer is:" prefix the generation templates require.
	Answer string `json:"answer"`

	// Difficulty is the label the candidate was generated under.
	Difficulty Difficulty `json:"difficulty"`

	// Evidence references the spans the answer must be derivable from.
	Evidence []EvidenceSpan `json:"evidence"`

	// SamplingKey is the fingerprint of the sampling request that produced
	// the candidate.
	SamplingKey string `json:"sampling_key"`

	// GeneratedAt records when the generation call completed.
	GeneratedAt time.Time `json:"generated_at"`
}

// VerdictOutcome is the terminal state assigned to a candidate by the
// validation gate.
type VerdictOutcome string

const (
	VerdictAccepted VerdictOutcome = "accepted"
	VerdictRejected VerdictOutcome = "rejected"
)

// Verdict records the validation decision for one candidate.
type Verdict struct {
	CandidateID string         `json:"candidate_id"`
	Outcome     VerdictOutcome `json:"outcome"`
	Reason      string         `json:"reason,omitempty"`
}
