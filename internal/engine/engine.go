// Package engine abstracts the external generation engine. Implementations
// turn a sampling window plus few-shot exemplars into candidate QA pairs;
// the orchestrator treats them as fallible, rate-limited black boxes.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/haasonsaas/qaforge/internal/exemplar"
	"github.com/haasonsaas/qaforge/pkg/models"
)

// Request is one generation call.
type Request struct {
	// SessionContext is the rendered text of the window's sessions.
	SessionContext string

	// Difficulty selects the prompt template.
	Difficulty models.Difficulty

	// SessionThreshold, MinEvidences and MaxEvidences parameterize the
	// template's generation requirements.
	SessionThreshold int
	MinEvidences     int
	MaxEvidences     int

	// Preferred and Disliked are the few-shot exemplars, oldest first.
	Preferred []exemplar.Example
	Disliked  []exemplar.Example
}

// RawCandidate is one parsed QA pair as returned by the engine, before
// evidence references are resolved and provenance is attached.
type RawCandidate struct {
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Evidence []string `json:"evidence"`
}

// Engine is the external generation capability.
type Engine interface {
	// Name returns the stable lowercase provider identifier.
	Name() string

	// Generate performs one generation call. Transient failures (rate
	// limits, server errors, timeouts) are reported via errors satisfying
	// IsTransient so the orchestrator can retry them.
	Generate(ctx context.Context, req *Request) ([]RawCandidate, error)
}

// transientError marks a failure worth retrying.
type transientError struct {
	err error
}

func (t *transientError) Error() string { return t.err.Error() }
func (t *transientError) Unwrap() error { return t.err }

// Transient wraps an error as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether the error was marked retryable by a provider.
func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}

// classifyHTTPStatus wraps err as transient when the status code indicates a
// temporary condition (429, 5xx).
func classifyHTTPStatus(status int, err error) error {
	if status == 429 || status >= 500 {
		return Transient(err)
	}
	return err
}

// classifyMessage falls back to message inspection when no status code is
// available, matching the transient categories the providers surface:
// throttling, server errors, timeouts and connection resets.
func classifyMessage(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"rate limit", "rate_limit", "429", "too many requests",
		"500", "502", "503", "504",
		"internal server error", "bad gateway", "service unavailable", "gateway timeout",
		"timeout", "deadline exceeded",
		"connection reset", "connection refused", "no such host",
	} {
		if strings.Contains(msg, marker) {
			return Transient(err)
		}
	}
	return err
}

// systemRole is the system prompt shared by all providers.
const systemRole = "You are a conversation analyst specializing in generating aggregation queries on conversational data."

// renderError wraps prompt construction failures.
func renderError(difficulty models.Difficulty, err error) error {
	return fmt.Errorf("render %s prompt: %w", difficulty, err)
}
