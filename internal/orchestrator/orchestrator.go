// Package orchestrator drives the generation pipeline: it samples windows,
// consults the generation cache, calls the engine with retry and rate
// limiting, validates candidates, and fills the per-difficulty quotas.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/haasonsaas/qaforge/internal/backoff"
	"github.com/haasonsaas/qaforge/internal/config"
	"github.com/haasonsaas/qaforge/internal/corpus"
	"github.com/haasonsaas/qaforge/internal/dataset"
	"github.com/haasonsaas/qaforge/internal/engine"
	"github.com/haasonsaas/qaforge/internal/exemplar"
	"github.com/haasonsaas/qaforge/internal/observability"
	"github.com/haasonsaas/qaforge/internal/qacache"
	"github.com/haasonsaas/qaforge/internal/ratelimit"
	"github.com/haasonsaas/qaforge/internal/sampler"
	"github.com/haasonsaas/qaforge/internal/validate"
	"github.com/haasonsaas/qaforge/pkg/models"
)

// UnavailableError reports that the engine stayed unavailable through the
// whole retry budget. The round is skipped; the run continues.
type UnavailableError struct {
	Provider string
	Attempts int
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("engine %s unavailable after %d attempts: %v", e.Provider, e.Attempts, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Deps wires the orchestrator's collaborators. All fields are required
// except Metrics, which New defaults to an unexported registry.
type Deps struct {
	Config  *config.Config
	Store   *corpus.Store
	Sampler *sampler.Sampler
	Cache   qacache.Store
	Engine  engine.Engine
	Gate    *validate.Gate
	Pool    *exemplar.Pool
	Builder *dataset.Builder
	Limiter *ratelimit.Bucket
	Metrics *observability.Metrics
	Logger  *slog.Logger

	// Retry overrides the backoff policy. Zero value means the default
	// engine retry policy.
	Retry backoff.Policy
}

// Summary reports the outcome of one run.
type Summary struct {
	Requested map[models.Difficulty]int `json:"requested"`
	Produced  map[models.Difficulty]int `json:"produced"`

	// Partial is set when at least one difficulty gave up before meeting its
	// target, after exhausting the consecutive-failure budget.
	Partial bool `json:"partial"`

	// GaveUp records why each unfinished difficulty stopped.
	GaveUp map[models.Difficulty]string `json:"gave_up,omitempty"`

	Rounds int `json:"rounds"`
}

// Orchestrator runs the generation pipeline to completion.
type Orchestrator struct {
	deps   Deps
	policy backoff.Policy

	mu       sync.Mutex
	rounds   int
	seq      int
	convAt   int
	gaveUp   map[models.Difficulty]string
	usedKeys map[string]struct{}
}

// New creates an orchestrator. The retry budget comes from the engine
// configuration; the backoff policy defaults when not overridden.
func New(deps Deps) *Orchestrator {
	policy := deps.Retry
	if policy == (backoff.Policy{}) {
		policy = backoff.DefaultPolicy()
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.New(prometheus.NewRegistry())
	}
	return &Orchestrator{
		deps:     deps,
		policy:   policy,
		gaveUp:   map[models.Difficulty]string{},
		usedKeys: map[string]struct{}{},
	}
}

// roundResult labels the outcome of one sampling round for metrics.
type roundResult string

const (
	roundFilled      roundResult = "filled"
	roundRejected    roundResult = "rejected"
	roundDuplicate   roundResult = "duplicate"
	roundExhausted   roundResult = "exhausted"
	roundUnavailable roundResult = "unavailable"
)

// Run fills every difficulty quota, in ascending difficulty order. It
// returns a summary even when the run ends partial; the only hard errors are
// context cancellation and an unusable corpus.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	eligible := o.eligibleConversations()
	if len(eligible) == 0 {
		return nil, fmt.Errorf("no conversation has at least %d sessions", o.deps.Config.Sampling.MinSessions)
	}

	for _, d := range models.Difficulties() {
		if o.deps.Builder.Need(d) == 0 {
			continue
		}
		if err := o.fillDifficulty(ctx, d, eligible); err != nil {
			return nil, err
		}
	}

	summary := &Summary{
		Requested: o.deps.Builder.Targets(),
		Produced:  o.deps.Builder.Counts(),
		GaveUp:    o.gaveUp,
		Rounds:    o.rounds,
		Partial:   len(o.gaveUp) > 0,
	}
	if summary.Partial {
		o.deps.Logger.Warn("run finished partial",
			"requested", summary.Requested, "produced", summary.Produced)
	}
	return summary, nil
}

// fillDifficulty runs concurrent rounds until the difficulty's quota is met,
// the consecutive-failure budget is spent, or the context ends.
func (o *Orchestrator) fillDifficulty(ctx context.Context, d models.Difficulty, eligible []string) error {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failures int
		runErr   error
	)

	workers := o.deps.Config.Engine.Workers
	maxFailures := o.deps.Config.Engine.MaxFailures

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if ctx.Err() != nil {
					mu.Lock()
					runErr = ctx.Err()
					mu.Unlock()
					return
				}
				mu.Lock()
				done := o.deps.Builder.Need(d) == 0 || failures >= maxFailures || runErr != nil
				mu.Unlock()
				if done {
					return
				}

				convID := o.nextConversation(eligible)
				result, err := o.runRound(ctx, convID, d)
				o.deps.Metrics.RecordRound(string(d), string(result))

				mu.Lock()
				o.mu.Lock()
				o.rounds++
				o.mu.Unlock()
				if result == roundFilled {
					failures = 0
				} else {
					failures++
					if err != nil {
						o.deps.Logger.Warn("round failed",
							"difficulty", d, "conversation", convID,
							"result", string(result), "error", err)
					}
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if runErr != nil {
		return runErr
	}
	if need := o.deps.Builder.Need(d); need > 0 {
		reason := fmt.Sprintf("gave up after %d consecutive failed rounds with %d items missing", maxFailures, need)
		o.mu.Lock()
		o.gaveUp[d] = reason
		o.mu.Unlock()
		o.deps.Logger.Warn("difficulty quota not met", "difficulty", d, "reason", reason)
	}
	return nil
}

// runRound executes one sample-generate-validate round.
func (o *Orchestrator) runRound(ctx context.Context, convID string, d models.Difficulty) (roundResult, error) {
	window, seq, err := o.sampleWindow(convID)
	if err != nil {
		return roundExhausted, err
	}

	key := qacache.Key(window, o.deps.Config.Engine.Model, d)
	candidates, cached, err := o.lookupOrGenerate(ctx, key, window, d)
	if err != nil {
		var unavailable *UnavailableError
		if errors.As(err, &unavailable) {
			return roundUnavailable, err
		}
		return roundRejected, err
	}

	if !cached {
		// Completed generations are cached even when the run is being
		// cancelled, so the spent engine call is never wasted.
		if err := o.deps.Cache.Put(context.WithoutCancel(ctx), key, candidates); err != nil {
			o.deps.Logger.Warn("cache write failed", "key", key, "error", err)
		}
	}

	// A key is processed at most once per run. Resampling an identical
	// window returns the identical cached candidates, so counting them again
	// would duplicate dataset records instead of adding coverage.
	if !o.claimKey(key) {
		o.deps.Logger.Debug("sampling key already processed", "key", key, "difficulty", d)
		return roundDuplicate, nil
	}

	added := 0
	for _, cand := range candidates {
		verdict := o.deps.Gate.Validate(cand, window)
		o.deps.Metrics.RecordCandidate(string(cand.Difficulty), string(verdict.Outcome))
		if verdict.Outcome != models.VerdictAccepted {
			o.deps.Logger.Debug("candidate rejected",
				"candidate", cand.ID, "difficulty", d, "reason", verdict.Reason)
			continue
		}
		if o.deps.Builder.Add(cand, window, seq) {
			added++
		}
	}
	if added == 0 {
		return roundRejected, nil
	}
	return roundFilled, nil
}

// lookupOrGenerate returns candidates for the key, serving from the cache
// when possible. The cached flag is true on a hit.
func (o *Orchestrator) lookupOrGenerate(ctx context.Context, key string, window models.SamplingWindow, d models.Difficulty) ([]models.QACandidate, bool, error) {
	candidates, err := o.deps.Cache.Get(ctx, key)
	switch {
	case err == nil:
		o.deps.Metrics.RecordCacheLookup("hit")
		o.deps.Logger.Debug("cache hit", "key", key, "candidates", len(candidates))
		return candidates, true, nil
	case errors.Is(err, qacache.ErrNotFound):
		o.deps.Metrics.RecordCacheLookup("miss")
	default:
		var corrupt *qacache.CorruptEntryError
		if errors.As(err, &corrupt) {
			o.deps.Metrics.RecordCacheLookup("corrupt")
			o.deps.Logger.Warn("corrupt cache entry, regenerating", "key", key, "error", err)
		} else {
			return nil, false, fmt.Errorf("cache lookup: %w", err)
		}
	}

	raw, err := o.generate(ctx, window, d)
	if err != nil {
		return nil, false, err
	}
	return o.materialize(raw, key, d), false, nil
}

// generate calls the engine under the rate limiter, retrying transient
// failures with exponential backoff.
func (o *Orchestrator) generate(ctx context.Context, window models.SamplingWindow, d models.Difficulty) ([]engine.RawCandidate, error) {
	req := &engine.Request{
		SessionContext:   engine.RenderSessionContext(o.windowSessions(window)),
		Difficulty:       d,
		SessionThreshold: window.SessionThreshold,
		MinEvidences:     o.deps.Config.Sampling.MinEvidences,
		MaxEvidences:     o.deps.Config.Sampling.MaxEvidences,
		Preferred:        o.deps.Pool.Preferred(),
		Disliked:         o.deps.Pool.Disliked(),
	}

	provider := o.deps.Engine.Name()
	model := o.deps.Config.Engine.Model

	result, err := backoff.Retry(ctx, o.policy, o.deps.Config.Engine.MaxRetries,
		func(attempt int) ([]engine.RawCandidate, error) {
			if attempt > 1 {
				o.deps.Metrics.RecordRetry(provider)
			}
			if err := o.deps.Limiter.Wait(ctx); err != nil {
				return nil, backoff.Permanent(err)
			}

			callCtx := ctx
			if timeout := o.deps.Config.Engine.RequestTimeout; timeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			start := time.Now()
			raw, err := o.deps.Engine.Generate(callCtx, req)
			elapsed := time.Since(start).Seconds()
			if err != nil {
				o.deps.Metrics.RecordEngineRequest(provider, model, "error", elapsed)
				if engine.IsTransient(err) {
					return nil, err
				}
				return nil, backoff.Permanent(err)
			}
			o.deps.Metrics.RecordEngineRequest(provider, model, "success", elapsed)
			return raw, nil
		})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &UnavailableError{Provider: provider, Attempts: result.Attempts, Err: result.LastError}
	}
	return result.Value, nil
}

// evidenceRefRe matches the compact reference form the prompt requires:
// "D<session>:<start>" with an optional "-<end>" range suffix.
var evidenceRefRe = regexp.MustCompile(`D([A-Za-z0-9_.\-]+):(\d+)(?:-(\d+))?`)

// materialize turns raw engine output into candidates with provenance.
// Unparsable evidence references are dropped; a candidate left without
// evidence is later rejected by the validation gate.
func (o *Orchestrator) materialize(raw []engine.RawCandidate, key string, d models.Difficulty) []models.QACandidate {
	now := time.Now().UTC()
	out := make([]models.QACandidate, 0, len(raw))
	for _, rc := range raw {
		cand := models.QACandidate{
			ID:          uuid.NewString(),
			Question:    rc.Question,
			Answer:      rc.Answer,
			Difficulty:  d,
			SamplingKey: key,
			GeneratedAt: now,
		}
		for _, ref := range rc.Evidence {
			span, ok := parseEvidenceRef(ref)
			if !ok {
				o.deps.Logger.Debug("dropping unparsable evidence reference", "ref", ref)
				continue
			}
			if text, err := o.deps.Store.Resolve(span); err == nil {
				span.Text = text
			}
			cand.Evidence = append(cand.Evidence, span)
		}
		out = append(out, cand)
	}
	return out
}

func parseEvidenceRef(ref string) (models.EvidenceSpan, bool) {
	m := evidenceRefRe.FindStringSubmatch(ref)
	if m == nil {
		return models.EvidenceSpan{}, false
	}
	start, err := strconv.Atoi(m[2])
	if err != nil {
		return models.EvidenceSpan{}, false
	}
	end := start
	if m[3] != "" {
		end, err = strconv.Atoi(m[3])
		if err != nil || end < start {
			return models.EvidenceSpan{}, false
		}
	}
	return models.EvidenceSpan{SessionID: m[1], StartTurn: start, EndTurn: end}, true
}

func (o *Orchestrator) constraints() sampler.Constraints {
	s := o.deps.Config.Sampling
	return sampler.Constraints{
		MinSessions:      s.MinSessions,
		MaxSessions:      s.MaxSessions,
		SessionThreshold: s.SessionThreshold,
		MinEvidences:     s.MinEvidences,
		MaxEvidences:     s.MaxEvidences,
		MaxAttempts:      s.MaxAttempts,
	}
}

// eligibleConversations lists conversations large enough to sample from.
func (o *Orchestrator) eligibleConversations() []string {
	var out []string
	for _, conv := range o.deps.Store.Conversations() {
		if len(conv.SessionIDs) >= o.deps.Config.Sampling.MinSessions {
			out = append(out, conv.ID)
		} else {
			o.deps.Logger.Warn("skipping conversation with too few sessions",
				"conversation", conv.ID, "sessions", len(conv.SessionIDs))
		}
	}
	return out
}

// sampleWindow draws the next window and assigns it a sequence number.
// Sampling and numbering happen under one lock, so with a seeded rng the
// n-th sequence number always belongs to the n-th sampled window no matter
// which worker drew it. Dataset records are ordered by this sequence.
func (o *Orchestrator) sampleWindow(convID string) (models.SamplingWindow, int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	window, err := o.deps.Sampler.Sample(convID, o.constraints())
	if err != nil {
		return models.SamplingWindow{}, 0, err
	}
	o.seq++
	return window, o.seq, nil
}

// claimKey marks a sampling key as processed. It returns false when the key
// was already claimed by an earlier round.
func (o *Orchestrator) claimKey(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, dup := o.usedKeys[key]; dup {
		return false
	}
	o.usedKeys[key] = struct{}{}
	return true
}

// nextConversation rotates through the eligible conversations.
func (o *Orchestrator) nextConversation(eligible []string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := eligible[o.convAt%len(eligible)]
	o.convAt++
	return id
}

func (o *Orchestrator) windowSessions(window models.SamplingWindow) []*models.Session {
	sessions := make([]*models.Session, 0, len(window.SessionIDs))
	for _, id := range window.SessionIDs {
		if sess, ok := o.deps.Store.Session(id); ok {
			sessions = append(sessions, sess)
		}
	}
	return sessions
}
