package corpus

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/haasonsaas/qaforge/pkg/models"
)

// rawTurn tolerates the id variants seen in processed corpora: numeric ids,
// "turn_3" strings, or no id at all. Loaded turns are renumbered to their
// offset within the session, which is what evidence spans reference.
type rawTurn struct {
	TurnID    any    `json:"turn_id"`
	Speaker   string `json:"speaker"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

type rawSession struct {
	SessionID    string    `json:"session_id"`
	Time         string    `json:"time"`
	Participants []string  `json:"participants"`
	Turns        []rawTurn `json:"turns"`
}

type rawConversation struct {
	ConversationID string       `json:"conversation_id"`
	Speakers       []string     `json:"speakers"`
	Sessions       []rawSession `json:"sessions"`

	// Flat-corpus fields: the file may be a plain array of sessions instead
	// of conversations. Detected by the presence of top-level turns.
	SessionID    string    `json:"session_id"`
	Time         string    `json:"time"`
	Participants []string  `json:"participants"`
	Turns        []rawTurn `json:"turns"`
}

// Load reads a processed corpus file. Two shapes are accepted: an array of
// conversations each holding sessions, or a flat array of sessions (wrapped
// into a single conversation). Missing fields get loader defaults.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read corpus: %w", err)
	}

	var raw []rawConversation
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse corpus %s: %w", path, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("corpus %s contains no conversations", path)
	}

	if len(raw[0].Turns) > 0 {
		wrapped := rawConversation{ConversationID: "conv_1"}
		for _, rc := range raw {
			wrapped.Sessions = append(wrapped.Sessions, rawSession{
				SessionID:    rc.SessionID,
				Time:         rc.Time,
				Participants: rc.Participants,
				Turns:        rc.Turns,
			})
		}
		raw = []rawConversation{wrapped}
	}

	base := filepath.Base(path)
	store := &Store{
		sessions:   map[string]*models.Session{},
		sourceName: strings.TrimSuffix(base, filepath.Ext(base)),
	}
	for ci, rc := range raw {
		if err := store.addConversation(ci, rc); err != nil {
			return nil, fmt.Errorf("corpus %s: %w", path, err)
		}
	}
	return store, nil
}

func (s *Store) addConversation(index int, rc rawConversation) error {
	conv := Conversation{
		ID:       rc.ConversationID,
		Speakers: rc.Speakers,
	}
	if conv.ID == "" {
		conv.ID = fmt.Sprintf("conv_%d", index+1)
	}
	if len(conv.Speakers) == 0 {
		conv.Speakers = []string{"Participant A", "Participant B"}
	}
	if len(rc.Sessions) == 0 {
		return fmt.Errorf("conversation %q has no sessions", conv.ID)
	}

	for si, rs := range rc.Sessions {
		sess := &models.Session{
			ID:             rs.SessionID,
			ConversationID: conv.ID,
			Time:           rs.Time,
			Participants:   rs.Participants,
		}
		if sess.ID == "" {
			sess.ID = fmt.Sprintf("%s_session_%d", conv.ID, si+1)
		}
		if sess.Time == "" {
			sess.Time = "Unknown"
		}
		if len(sess.Participants) == 0 {
			sess.Participants = conv.Speakers
		}
		if len(rs.Turns) == 0 {
			return fmt.Errorf("session %q has no turns", sess.ID)
		}
		for ti, rt := range rs.Turns {
			speaker := rt.Speaker
			if speaker == "" {
				speaker = "Unknown"
			}
			sess.Turns = append(sess.Turns, models.Turn{
				ID:        ti,
				Speaker:   speaker,
				Text:      rt.Content,
				Timestamp: rt.Timestamp,
			})
		}
		if _, exists := s.sessions[sess.ID]; exists {
			return fmt.Errorf("duplicate session id %q", sess.ID)
		}
		s.sessions[sess.ID] = sess
		s.order = append(s.order, sess.ID)
		conv.SessionIDs = append(conv.SessionIDs, sess.ID)
	}
	s.conversations = append(s.conversations, conv)
	return nil
}
