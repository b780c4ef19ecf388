// Package dataset assembles accepted candidates into the final artifact:
// an ordered, difficulty-balanced collection written as one JSON file per
// corpus.
package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/qaforge/pkg/models"
)

// Record is one dataset entry with full provenance back to the corpus.
type Record struct {
	// QAIndex is the position of the record in the dataset, starting at 1.
	QAIndex int `json:"qa_index"`

	Question   string            `json:"question"`
	Answer     string            `json:"answer"`
	Difficulty models.Difficulty `json:"difficulty"`

	// Evidence lists the spans the answer is grounded in, as compact
	// references alongside the quoted text.
	Evidence []EvidenceRecord `json:"evidence"`

	ConversationID string   `json:"conversation_id"`
	SessionIDs     []string `json:"session_ids"`

	// SamplingKey fingerprints the sampling request for reproducibility.
	SamplingKey string `json:"sampling_key"`

	Model       string    `json:"model"`
	GeneratedAt time.Time `json:"generated_at"`
}

// EvidenceRecord is one evidence span in artifact form.
type EvidenceRecord struct {
	Ref       string `json:"ref"`
	SessionID string `json:"session_id"`
	StartTurn int    `json:"start_turn"`
	EndTurn   int    `json:"end_turn"`
	Text      string `json:"text,omitempty"`
}

// Builder accumulates records under per-difficulty quotas. It is safe for
// concurrent use: Add checks and claims quota under one lock so workers
// can never overshoot a target.
type Builder struct {
	mu      sync.Mutex
	targets map[models.Difficulty]int
	counts  map[models.Difficulty]int
	entries []entry
	model   string
}

// entry pairs a record with its round sequence number. Records are emitted
// in sequence order, not completion order, so concurrent workers finishing
// out of order cannot change the artifact.
type entry struct {
	seq int
	ord int
	rec Record
}

// NewBuilder creates a builder for the given per-difficulty targets.
func NewBuilder(targets map[models.Difficulty]int, model string) *Builder {
	t := make(map[models.Difficulty]int, len(targets))
	for d, n := range targets {
		if n > 0 {
			t[d] = n
		}
	}
	return &Builder{
		targets: t,
		counts:  map[models.Difficulty]int{},
		model:   model,
	}
}

// Need reports how many more records of the given difficulty are wanted.
func (b *Builder) Need(d models.Difficulty) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.needLocked(d)
}

func (b *Builder) needLocked(d models.Difficulty) int {
	remaining := b.targets[d] - b.counts[d]
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Add appends an accepted candidate if its difficulty still has quota. The
// seq argument is the candidate's round sequence number, which fixes its
// position in the emitted dataset. It returns false when the quota is
// already met and the candidate was discarded.
func (b *Builder) Add(cand models.QACandidate, window models.SamplingWindow, seq int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.needLocked(cand.Difficulty) == 0 {
		return false
	}

	evidence := make([]EvidenceRecord, 0, len(cand.Evidence))
	for _, span := range cand.Evidence {
		evidence = append(evidence, EvidenceRecord{
			Ref:       span.Ref(),
			SessionID: span.SessionID,
			StartTurn: span.StartTurn,
			EndTurn:   span.EndTurn,
			Text:      span.Text,
		})
	}
	b.entries = append(b.entries, entry{
		seq: seq,
		ord: len(b.entries),
		rec: Record{
			Question:       cand.Question,
			Answer:         cand.Answer,
			Difficulty:     cand.Difficulty,
			Evidence:       evidence,
			ConversationID: window.ConversationID,
			SessionIDs:     append([]string(nil), window.SessionIDs...),
			SamplingKey:    cand.SamplingKey,
			Model:          b.model,
			GeneratedAt:    cand.GeneratedAt,
		},
	})
	b.counts[cand.Difficulty]++
	return true
}

// Complete reports whether every difficulty target has been met.
func (b *Builder) Complete() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for d := range b.targets {
		if b.needLocked(d) > 0 {
			return false
		}
	}
	return true
}

// Counts returns a copy of the per-difficulty record counts.
func (b *Builder) Counts() map[models.Difficulty]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[models.Difficulty]int, len(b.counts))
	for d, n := range b.counts {
		out[d] = n
	}
	return out
}

// Targets returns a copy of the per-difficulty targets.
func (b *Builder) Targets() map[models.Difficulty]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[models.Difficulty]int, len(b.targets))
	for d, n := range b.targets {
		out[d] = n
	}
	return out
}

// Records returns the accumulated records ordered by round sequence, with
// QAIndex assigned from that order.
func (b *Builder) Records() []Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := append([]entry(nil), b.entries...)
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].seq != entries[j].seq {
			return entries[i].seq < entries[j].seq
		}
		return entries[i].ord < entries[j].ord
	})

	records := make([]Record, len(entries))
	for i, e := range entries {
		rec := e.rec
		rec.QAIndex = i + 1
		records[i] = rec
	}
	return records
}

// Write serializes the dataset to <dir>/<corpusName>_qa.json. The directory
// is created if needed and the file is written atomically through a rename.
func (b *Builder) Write(dir, corpusName string) (string, error) {
	records := b.Records()
	if records == nil {
		records = []Record{}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, corpusName+"_qa.json")

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode dataset: %w", err)
	}
	data = append(data, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write dataset: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("finalize dataset: %w", err)
	}
	return path, nil
}
