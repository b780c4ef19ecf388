// Package models provides domain types for the qaforge QA dataset pipeline.
package models

// Turn is a single utterance inside a session. ID is the zero-based offset
// of the turn within its session; loaders normalize external turn ids
// ("turn_3", numeric ids) into offsets.
type Turn struct {
	// ID is the zero-based offset of the turn within its session.
	ID int `json:"turn_id"`

	// Speaker is the display name of the participant who spoke.
	Speaker string `json:"speaker"`

	// Text is the utterance content.
	Text string `json:"content"`

	// Timestamp is the original event time, if the corpus carries one.
	// Stored as the raw corpus string so re-serialization is byte-stable.
	Timestamp string `json:"timestamp,omitempty"`
}

// Session is one coherent multi-turn conversation block in the corpus.
// Sessions are immutable once loaded.
type Session struct {
	// ID uniquely identifies the session within the corpus.
	ID string `json:"session_id"`

	// ConversationID is the id of the conversation this session belongs to,
	// empty for corpora without conversation grouping.
	ConversationID string `json:"conversation_id,omitempty"`

	// Time is the session-level timestamp as recorded in the corpus.
	Time string `json:"time,omitempty"`

	// Participants lists the speakers taking part in the session.
	Participants []string `json:"participants,omitempty"`

	// Turns is the ordered sequence of utterances.
	Turns []Turn `json:"turns"`
}

// TurnCount returns the number of turns in the session.
func (s *Session) TurnCount() int {
	return len(s.Turns)
}
