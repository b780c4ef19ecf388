// Package exemplar maintains the bounded few-shot example pools fed back
// into generation: preferred examples reinforce accepted style, disliked
// examples steer the engine away from rejected failure modes.
package exemplar

import (
	"sync"

	"github.com/haasonsaas/qaforge/pkg/models"
)

// Example is one few-shot exemplar shown to the generation engine.
type Example struct {
	Question   string            `json:"question"`
	Answer     string            `json:"answer"`
	Evidence   []string          `json:"evidence,omitempty"`
	Difficulty models.Difficulty `json:"difficulty,omitempty"`

	// Reason carries the rejection reason for disliked examples so the
	// prompt can say what to avoid.
	Reason string `json:"reason,omitempty"`
}

// Pool holds the two bounded FIFO collections. It is an explicit object
// passed into the orchestrator so parallel pipelines over different corpora
// do not share exemplar state.
type Pool struct {
	mu           sync.Mutex
	preferred    []Example
	disliked     []Example
	maxPreferred int
	maxDisliked  int
}

// NewPool creates a pool with the given capacity bounds. A bound of zero
// disables that collection.
func NewPool(maxPreferred, maxDisliked int) *Pool {
	return &Pool{maxPreferred: maxPreferred, maxDisliked: maxDisliked}
}

// AddPreferred appends an accepted example, evicting the oldest when full.
// Duplicate questions are skipped.
func (p *Pool) AddPreferred(e Example) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.preferred = appendBounded(p.preferred, e, p.maxPreferred)
}

// AddDisliked appends a rejected example, evicting the oldest when full.
// Duplicate questions are skipped.
func (p *Pool) AddDisliked(e Example) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disliked = appendBounded(p.disliked, e, p.maxDisliked)
}

// Preferred returns a copy of the preferred examples, oldest first.
func (p *Pool) Preferred() []Example {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Example(nil), p.preferred...)
}

// Disliked returns a copy of the disliked examples, oldest first.
func (p *Pool) Disliked() []Example {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Example(nil), p.disliked...)
}

func appendBounded(list []Example, e Example, max int) []Example {
	if max <= 0 {
		return list
	}
	for _, existing := range list {
		if existing.Question == e.Question {
			return list
		}
	}
	list = append(list, e)
	if len(list) > max {
		list = list[len(list)-max:]
	}
	return list
}
