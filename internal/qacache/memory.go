package qacache

import (
	"context"
	"sync"

	"github.com/haasonsaas/qaforge/pkg/models"
)

// MemoryStore is an in-process cache used when no cache directory is
// configured and in tests. It still deduplicates identical sampling keys
// within a run, it just does not survive restarts.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]models.QACandidate
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{entries: map[string][]models.QACandidate{}}
}

// Get returns the candidates stored under key.
func (m *MemoryStore) Get(_ context.Context, key string) ([]models.QACandidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	candidates, ok := m.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]models.QACandidate, len(candidates))
	copy(out, candidates)
	return out, nil
}

// Put stores candidates under key, replacing any existing entry.
func (m *MemoryStore) Put(_ context.Context, key string, candidates []models.QACandidate) error {
	stored := make([]models.QACandidate, len(candidates))
	copy(stored, candidates)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = stored
	return nil
}

// Stats reports entry and candidate counts.
func (m *MemoryStore) Stats(_ context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := Stats{Entries: len(m.entries)}
	for _, candidates := range m.entries {
		st.Candidates += len(candidates)
	}
	return st, nil
}

// Clear removes all entries.
func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = map[string][]models.QACandidate{}
	return nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error { return nil }
