package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

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

var sessionIDRe = regexp.MustCompile(`### Session ID: (\S+)`)

// fakeEngine produces one grounded candidate per call, referencing the first
// two sessions of the request context so the validation gate accepts it.
// Question text varies per call to stay clear of the near-duplicate check.
type fakeEngine struct {
	mu            sync.Mutex
	calls         int
	transientLeft int   // fail this many calls with a transient error first
	permanentErr  error // when set, every call fails with it
	candidatesPer int   // candidates per successful call, default 1
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Generate(_ context.Context, req *engine.Request) ([]engine.RawCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	if f.permanentErr != nil {
		return nil, f.permanentErr
	}
	if f.transientLeft > 0 {
		f.transientLeft--
		return nil, engine.Transient(fmt.Errorf("simulated throttling"))
	}

	ids := sessionIDRe.FindAllStringSubmatch(req.SessionContext, -1)
	if len(ids) < 2 {
		return nil, fmt.Errorf("context names %d sessions", len(ids))
	}
	n := f.candidatesPer
	if n == 0 {
		n = 1
	}
	out := make([]engine.RawCandidate, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, engine.RawCandidate{
			Question: fmt.Sprintf("Distinct totals counted during call %d batch %d?", f.calls, i),
			Answer:   "2",
			Evidence: []string{
				fmt.Sprintf("D%s:0", ids[0][1]),
				fmt.Sprintf("D%s:0", ids[1][1]),
			},
		})
	}
	return out, nil
}

func (f *fakeEngine) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func buildStore(t *testing.T, sessions, turnsPer int) *corpus.Store {
	t.Helper()
	type turn struct {
		Speaker string `json:"speaker"`
		Content string `json:"content"`
	}
	type session struct {
		SessionID string `json:"session_id"`
		Turns     []turn `json:"turns"`
	}
	type conv struct {
		ConversationID string    `json:"conversation_id"`
		Sessions       []session `json:"sessions"`
	}

	c := conv{ConversationID: "conv_1"}
	for i := 0; i < sessions; i++ {
		s := session{SessionID: fmt.Sprintf("s%d", i+1)}
		for j := 0; j < turnsPer; j++ {
			s.Turns = append(s.Turns, turn{
				Speaker: "Ana",
				Content: fmt.Sprintf("incident report %d in session %d", j, i),
			})
		}
		c.Sessions = append(c.Sessions, s)
	}
	data, err := json.Marshal([]conv{c})
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "corpus.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	store, err := corpus.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Corpus.Path = "corpus.json"
	cfg.Sampling.MaxSessions = 3
	cfg.Engine.Workers = 1
	cfg.Engine.MaxRetries = 3
	cfg.Engine.MaxFailures = 3
	cfg.Engine.RequestTimeout = 5 * time.Second
	// Generated questions differ only in their counters, so the duplicate
	// check needs headroom.
	cfg.Validation.SimilarityThreshold = 0.95
	return cfg
}

type fixture struct {
	orch    *Orchestrator
	builder *dataset.Builder
	cache   qacache.Store
	eng     *fakeEngine
}

func newFixture(t *testing.T, cfg *config.Config, eng *fakeEngine, cache qacache.Store) *fixture {
	t.Helper()
	return newFixtureWithStore(t, cfg, eng, cache, buildStore(t, 4, 3))
}

func newFixtureWithStore(t *testing.T, cfg *config.Config, eng *fakeEngine, cache qacache.Store, store *corpus.Store) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pool := exemplar.NewPool(cfg.Validation.MaxPreferredExamples, cfg.Validation.MaxDislikedExamples)
	gate := validate.New(validate.Options{
		Enabled:             cfg.Validation.Enabled,
		SimilarityThreshold: cfg.Validation.SimilarityThreshold,
		MinSupport:          cfg.Validation.MinSupport,
	}, store, pool, logger)
	builder := dataset.NewBuilder(cfg.Quota.Targets(), cfg.Engine.Model)
	if cache == nil {
		cache = qacache.NewMemory()
	}

	orch := New(Deps{
		Config:  cfg,
		Store:   store,
		Sampler: sampler.New(store, rand.New(rand.NewSource(7))),
		Cache:   cache,
		Engine:  eng,
		Gate:    gate,
		Pool:    pool,
		Builder: builder,
		Limiter: ratelimit.NewBucket(ratelimit.Config{Enabled: false}),
		Metrics: observability.New(prometheus.NewRegistry()),
		Logger:  logger,
		Retry:   backoff.Policy{Initial: time.Millisecond, Max: 2 * time.Millisecond, Factor: 1, Jitter: 0},
	})
	return &fixture{orch: orch, builder: builder, cache: cache, eng: eng}
}

func TestRunFillsQuota(t *testing.T) {
	cfg := testConfig()
	cfg.Quota = config.QuotaConfig{Medium: 3}
	f := newFixture(t, cfg, &fakeEngine{}, nil)

	summary, err := f.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if summary.Partial {
		t.Errorf("unexpected partial run: %+v", summary)
	}
	if got := summary.Produced[models.DifficultyMedium]; got != 3 {
		t.Errorf("produced = %d, want 3", got)
	}
	if len(f.builder.Records()) != 3 {
		t.Errorf("records = %d", len(f.builder.Records()))
	}
}

func TestRunSecondRunServedFromCache(t *testing.T) {
	cfg := testConfig()
	cfg.Quota = config.QuotaConfig{Medium: 1}
	cache := qacache.NewMemory()

	first := newFixture(t, cfg, &fakeEngine{}, cache)
	if _, err := first.orch.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.eng.callCount() == 0 {
		t.Fatal("first run should hit the engine")
	}

	// Identical sampler seed reproduces the same window, so the second run
	// resolves entirely from the shared cache.
	second := newFixture(t, cfg, &fakeEngine{}, cache)
	summary, err := second.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.eng.callCount() != 0 {
		t.Errorf("second run made %d engine calls, want 0", second.eng.callCount())
	}
	if summary.Produced[models.DifficultyMedium] != 1 {
		t.Errorf("second run produced = %v", summary.Produced)
	}
}

func TestRunDuplicateKeyCountedOnce(t *testing.T) {
	cfg := testConfig()
	cfg.Quota = config.QuotaConfig{Medium: 2}
	cfg.Sampling.MinSessions = 2
	cfg.Sampling.MaxSessions = 2
	cfg.Sampling.MinEvidences = 2
	cfg.Sampling.MaxEvidences = 2
	cfg.Engine.MaxFailures = 2
	cfg.Validation.Enabled = false

	// Two single-turn sessions admit exactly one window, so every round
	// reproduces the same sampling key and the same cached candidates.
	eng := &fakeEngine{}
	f := newFixtureWithStore(t, cfg, eng, nil, buildStore(t, 2, 1))

	summary, err := f.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if got := eng.callCount(); got != 1 {
		t.Errorf("engine calls = %d, want 1", got)
	}
	if got := summary.Produced[models.DifficultyMedium]; got != 1 {
		t.Errorf("produced = %d, want 1: an already-counted key must not fill quota again", got)
	}
	if got := len(f.builder.Records()); got != 1 {
		t.Fatalf("records = %d, want 1", got)
	}
	if !summary.Partial {
		t.Error("run should end partial once only duplicate windows remain")
	}
}

func TestRunRerunWritesIdenticalArtifact(t *testing.T) {
	cfg := testConfig()
	cfg.Quota = config.QuotaConfig{Medium: 2}
	cache := qacache.NewMemory()

	first := newFixture(t, cfg, &fakeEngine{}, cache)
	if _, err := first.orch.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	firstPath, err := first.builder.Write(t.TempDir(), "corpus")
	if err != nil {
		t.Fatal(err)
	}

	second := newFixture(t, cfg, &fakeEngine{}, cache)
	if _, err := second.orch.Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.eng.callCount() != 0 {
		t.Errorf("second run made %d engine calls, want 0", second.eng.callCount())
	}
	secondPath, err := second.builder.Write(t.TempDir(), "corpus")
	if err != nil {
		t.Fatal(err)
	}

	firstData, err := os.ReadFile(firstPath)
	if err != nil {
		t.Fatal(err)
	}
	secondData, err := os.ReadFile(secondPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(firstData, secondData) {
		t.Errorf("re-run artifact differs:\nfirst:\n%s\nsecond:\n%s", firstData, secondData)
	}
}

func TestNewDefaultsMetrics(t *testing.T) {
	o := New(Deps{})
	if o.deps.Metrics == nil {
		t.Fatal("nil Metrics should default to a private registry")
	}
	// Recording must not panic on the defaulted instance.
	o.deps.Metrics.RecordRound("easy", "filled")
}

func TestRunRetriesTransientFailures(t *testing.T) {
	cfg := testConfig()
	cfg.Quota = config.QuotaConfig{Medium: 1}
	eng := &fakeEngine{transientLeft: 2}
	f := newFixture(t, cfg, eng, nil)

	summary, err := f.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if summary.Produced[models.DifficultyMedium] != 1 {
		t.Fatalf("produced = %v", summary.Produced)
	}
	if got := eng.callCount(); got != 3 {
		t.Errorf("engine calls = %d, want 3 (two transient failures then success)", got)
	}
}

func TestRunGivesUpAfterConsecutiveFailures(t *testing.T) {
	cfg := testConfig()
	cfg.Quota = config.QuotaConfig{Hard: 2}
	cfg.Engine.MaxFailures = 2
	eng := &fakeEngine{permanentErr: errors.New("invalid api key")}
	f := newFixture(t, cfg, eng, nil)

	summary, err := f.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("a failed difficulty must not fail the run: %v", err)
	}
	if !summary.Partial {
		t.Fatal("summary should be partial")
	}
	if _, ok := summary.GaveUp[models.DifficultyHard]; !ok {
		t.Errorf("GaveUp = %v", summary.GaveUp)
	}
	if summary.Produced[models.DifficultyHard] != 0 {
		t.Errorf("produced = %v", summary.Produced)
	}
	// Permanent errors stop the retry loop on the first attempt.
	if got := eng.callCount(); got != 2 {
		t.Errorf("engine calls = %d, want 2 (one per failed round)", got)
	}
}

func TestRunQuotaNeverExceeded(t *testing.T) {
	cfg := testConfig()
	cfg.Quota = config.QuotaConfig{Medium: 2}
	f := newFixture(t, cfg, &fakeEngine{candidatesPer: 4}, nil)

	summary, err := f.orch.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Produced[models.DifficultyMedium] != 2 {
		t.Errorf("produced = %v, quota must cap the dataset", summary.Produced)
	}
	if len(f.builder.Records()) != 2 {
		t.Errorf("records = %d", len(f.builder.Records()))
	}
}

func TestRunValidationDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Quota = config.QuotaConfig{Easy: 1}
	cfg.Validation.Enabled = false
	f := newFixture(t, cfg, &fakeEngine{}, nil)

	summary, err := f.orch.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Produced[models.DifficultyEasy] != 1 {
		t.Errorf("produced = %v", summary.Produced)
	}
}

func TestRunFailsWithoutEligibleConversations(t *testing.T) {
	cfg := testConfig()
	cfg.Quota = config.QuotaConfig{Medium: 1}
	cfg.Sampling.MinSessions = 10

	f := newFixture(t, cfg, &fakeEngine{}, nil)
	if _, err := f.orch.Run(context.Background()); err == nil {
		t.Fatal("expected error when no conversation is large enough")
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	cfg := testConfig()
	cfg.Quota = config.QuotaConfig{Medium: 5}
	f := newFixture(t, cfg, &fakeEngine{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.orch.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestParseEvidenceRef(t *testing.T) {
	tests := []struct {
		in    string
		want  models.EvidenceSpan
		valid bool
	}{
		{"Ds1:4", models.EvidenceSpan{SessionID: "s1", StartTurn: 4, EndTurn: 4}, true},
		{"Ds1:4-6", models.EvidenceSpan{SessionID: "s1", StartTurn: 4, EndTurn: 6}, true},
		{"Dconv_2_session_3:0: 'quoted text'", models.EvidenceSpan{SessionID: "conv_2_session_3", StartTurn: 0, EndTurn: 0}, true},
		{"no reference here", models.EvidenceSpan{}, false},
		{"Ds1:9-2", models.EvidenceSpan{}, false},
	}
	for _, tt := range tests {
		got, ok := parseEvidenceRef(tt.in)
		if ok != tt.valid {
			t.Errorf("parseEvidenceRef(%q) ok = %v, want %v", tt.in, ok, tt.valid)
			continue
		}
		if tt.valid && got != tt.want {
			t.Errorf("parseEvidenceRef(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}
