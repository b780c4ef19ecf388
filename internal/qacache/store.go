// Package qacache provides the durable, content-addressed cache for
// generation results. Entries are keyed by sampling key and survive process
// restarts; a hit is semantically indistinguishable from a fresh generation
// call. The cache is never invalidated automatically; varying the model
// identifier in the key forces regeneration.
package qacache

import (
	"context"
	"errors"
	"fmt"

	"github.com/haasonsaas/qaforge/pkg/models"
)

// ErrNotFound is returned by Get for keys with no stored entry.
var ErrNotFound = errors.New("cache entry not found")

// CorruptEntryError reports a stored entry that cannot be deserialized.
// Callers treat it as a miss and regenerate, logging the anomaly.
type CorruptEntryError struct {
	Key string
	Err error
}

func (e *CorruptEntryError) Error() string {
	return fmt.Sprintf("corrupt cache entry %s: %v", e.Key, e.Err)
}

func (e *CorruptEntryError) Unwrap() error { return e.Err }

// Stats summarizes cache contents for the `cache stats` command.
type Stats struct {
	Entries    int `json:"entries"`
	Candidates int `json:"candidates"`
}

// Store is the generation cache. Implementations must be safe for
// concurrent use; concurrent writers to the same key may race but must not
// produce torn entries (last-writer-wins).
type Store interface {
	// Get returns the candidates stored under key, ErrNotFound on a miss,
	// or a *CorruptEntryError when the entry cannot be decoded.
	Get(ctx context.Context, key string) ([]models.QACandidate, error)

	// Put stores candidates under key, replacing any existing entry.
	Put(ctx context.Context, key string, candidates []models.QACandidate) error

	// Stats reports entry and candidate counts.
	Stats(ctx context.Context) (Stats, error)

	// Clear removes all entries.
	Clear(ctx context.Context) error

	// Close releases underlying resources.
	Close() error
}
