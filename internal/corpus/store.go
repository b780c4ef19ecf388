// Package corpus provides a read-only, indexed view over a processed
// multi-session corpus. Sessions are immutable once loaded; every other
// component reads through this store so evidence references stay resolvable
// for the lifetime of the run.
package corpus

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/qaforge/pkg/models"
)

// Conversation groups the sessions of one multi-session dialogue.
type Conversation struct {
	// ID identifies the conversation.
	ID string

	// Speakers are the participants across the conversation's sessions.
	Speakers []string

	// SessionIDs lists the member sessions in corpus order.
	SessionIDs []string
}

// Store is the in-memory session store. It is safe for concurrent reads
// after Load returns.
type Store struct {
	conversations []Conversation
	sessions      map[string]*models.Session
	order         []string
	sourceName    string
}

// Session returns the session with the given id.
func (s *Store) Session(id string) (*models.Session, bool) {
	sess, ok := s.sessions[id]
	return sess, ok
}

// Sessions returns all sessions in corpus order.
func (s *Store) Sessions() []*models.Session {
	out := make([]*models.Session, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.sessions[id])
	}
	return out
}

// Conversations returns the conversation groupings in corpus order.
func (s *Store) Conversations() []Conversation {
	return s.conversations
}

// SessionsIn returns the sessions of one conversation in corpus order.
func (s *Store) SessionsIn(conversationID string) []*models.Session {
	for _, conv := range s.conversations {
		if conv.ID != conversationID {
			continue
		}
		out := make([]*models.Session, 0, len(conv.SessionIDs))
		for _, id := range conv.SessionIDs {
			out = append(out, s.sessions[id])
		}
		return out
	}
	return nil
}

// SourceName returns the base name of the corpus file without extension,
// used to name output artifacts.
func (s *Store) SourceName() string {
	return s.sourceName
}

// Resolve returns the exact turn text an evidence span references. It fails
// when the span does not resolve against the loaded corpus, which callers
// treat as a validation inconsistency rather than a fatal error.
func (s *Store) Resolve(span models.EvidenceSpan) (string, error) {
	sess, ok := s.sessions[span.SessionID]
	if !ok {
		return "", fmt.Errorf("session %q not found in corpus", span.SessionID)
	}
	if !span.Valid() || span.EndTurn >= len(sess.Turns) {
		return "", fmt.Errorf("span %s out of range for session with %d turns", span.Ref(), len(sess.Turns))
	}
	var b strings.Builder
	for i := span.StartTurn; i <= span.EndTurn; i++ {
		if i > span.StartTurn {
			b.WriteByte('\n')
		}
		turn := sess.Turns[i]
		b.WriteString(turn.Speaker)
		b.WriteString(": ")
		b.WriteString(turn.Text)
	}
	return b.String(), nil
}

// Stats summarizes the loaded corpus for the `corpus stats` command.
type Stats struct {
	Conversations int `json:"conversations"`
	Sessions      int `json:"sessions"`
	Turns         int `json:"turns"`
	MinTurns      int `json:"min_turns_per_session"`
	MaxTurns      int `json:"max_turns_per_session"`
}

// Stats computes corpus-level counts.
func (s *Store) Stats() Stats {
	st := Stats{
		Conversations: len(s.conversations),
		Sessions:      len(s.order),
	}
	for i, id := range s.order {
		n := len(s.sessions[id].Turns)
		st.Turns += n
		if i == 0 || n < st.MinTurns {
			st.MinTurns = n
		}
		if n > st.MaxTurns {
			st.MaxTurns = n
		}
	}
	return st
}
