package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/qaforge/internal/config"
	"github.com/haasonsaas/qaforge/internal/corpus"
	"github.com/haasonsaas/qaforge/internal/dataset"
	"github.com/haasonsaas/qaforge/internal/engine"
	"github.com/haasonsaas/qaforge/internal/exemplar"
	"github.com/haasonsaas/qaforge/internal/observability"
	"github.com/haasonsaas/qaforge/internal/orchestrator"
	"github.com/haasonsaas/qaforge/internal/qacache"
	"github.com/haasonsaas/qaforge/internal/ratelimit"
	"github.com/haasonsaas/qaforge/internal/sampler"
	"github.com/haasonsaas/qaforge/internal/validate"
	"github.com/haasonsaas/qaforge/pkg/models"
)

// This file contains handler implementations for the CLI commands defined in
// commands.go.

// generateFlags carries the generate command's flag values into the handler.
// Zero values mean "not set"; the config file value wins for those.
type generateFlags struct {
	configPath string
	corpusPath string
	outputDir  string
	cacheDir   string
	logLevel   string

	provider string
	model    string
	workers  int

	numQA  int
	easy   int
	medium int
	hard   int

	minSessions      int
	maxSessions      int
	sessionThreshold int
	minEvidences     int
	maxEvidences     int

	enableValidation bool
	maxPreferred     int
	maxDisliked      int

	seed int64
}

// runGenerate wires the full pipeline and runs it to completion: corpus
// store, sampler, cache, engine, validation gate, and dataset builder.
func runGenerate(cmd *cobra.Command, flags generateFlags) error {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	applyGenerateOverrides(cfg, cmd, flags)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	slog.SetDefault(logger)

	// SIGINT/SIGTERM cancel the run. Completed engine calls are already in
	// the cache, so a re-run resumes where the interrupted one stopped.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := corpus.Load(cfg.Corpus.Path)
	if err != nil {
		return err
	}
	stats := store.Stats()
	logger.Info("corpus loaded",
		"path", cfg.Corpus.Path,
		"conversations", stats.Conversations,
		"sessions", stats.Sessions,
		"turns", stats.Turns)

	eng, err := buildEngine(cfg)
	if err != nil {
		return err
	}

	cache, err := openCache(cfg.Cache.Dir, logger)
	if err != nil {
		return err
	}
	defer cache.Close()

	seed := flags.seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	// Logged so an unseeded run can still be reproduced afterwards.
	logger.Info("sampler seeded", "seed", seed)
	rng := rand.New(rand.NewSource(seed))

	pool := exemplar.NewPool(cfg.Validation.MaxPreferredExamples, cfg.Validation.MaxDislikedExamples)
	gate := validate.New(validate.Options{
		Enabled:             cfg.Validation.Enabled,
		SimilarityThreshold: cfg.Validation.SimilarityThreshold,
		MinSupport:          cfg.Validation.MinSupport,
	}, store, pool, logger)
	builder := dataset.NewBuilder(cfg.Quota.Targets(), cfg.Engine.Model)
	limiter := ratelimit.NewBucket(ratelimit.Config{
		RequestsPerSecond: cfg.Engine.RequestsPerSecond,
		Enabled:           cfg.Engine.RequestsPerSecond > 0,
	})

	orch := orchestrator.New(orchestrator.Deps{
		Config:  cfg,
		Store:   store,
		Sampler: sampler.New(store, rng),
		Cache:   cache,
		Engine:  eng,
		Gate:    gate,
		Pool:    pool,
		Builder: builder,
		Limiter: limiter,
		Metrics: observability.New(prometheus.DefaultRegisterer),
		Logger:  logger,
	})

	summary, err := orch.Run(ctx)
	if err != nil {
		return err
	}

	path, err := builder.Write(cfg.Output.Dir, store.SourceName())
	if err != nil {
		return err
	}

	printSummary(cmd, summary, path)
	return nil
}

// applyGenerateOverrides layers flag values over the loaded config. Only
// flags the user actually set take effect.
func applyGenerateOverrides(cfg *config.Config, cmd *cobra.Command, flags generateFlags) {
	if flags.corpusPath != "" {
		cfg.Corpus.Path = flags.corpusPath
	}
	if flags.outputDir != "" {
		cfg.Output.Dir = flags.outputDir
	}
	if cmd.Flags().Changed("cache-dir") {
		cfg.Cache.Dir = flags.cacheDir
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if flags.provider != "" {
		cfg.Engine.Provider = flags.provider
	}
	if flags.model != "" {
		cfg.Engine.Model = flags.model
	}
	if flags.workers > 0 {
		cfg.Engine.Workers = flags.workers
	}
	if flags.numQA > 0 {
		cfg.Quota.NumQA = flags.numQA
	}
	if flags.easy > 0 || flags.medium > 0 || flags.hard > 0 {
		cfg.Quota.Easy = flags.easy
		cfg.Quota.Medium = flags.medium
		cfg.Quota.Hard = flags.hard
	}
	if flags.minSessions > 0 {
		cfg.Sampling.MinSessions = flags.minSessions
	}
	if flags.maxSessions > 0 {
		cfg.Sampling.MaxSessions = flags.maxSessions
	}
	if flags.sessionThreshold > 0 {
		cfg.Sampling.SessionThreshold = flags.sessionThreshold
	}
	if flags.minEvidences > 0 {
		cfg.Sampling.MinEvidences = flags.minEvidences
	}
	if flags.maxEvidences > 0 {
		cfg.Sampling.MaxEvidences = flags.maxEvidences
	}
	if cmd.Flags().Changed("enable-validation") {
		cfg.Validation.Enabled = flags.enableValidation
	}
	if flags.maxPreferred > 0 {
		cfg.Validation.MaxPreferredExamples = flags.maxPreferred
	}
	if flags.maxDisliked > 0 {
		cfg.Validation.MaxDislikedExamples = flags.maxDisliked
	}
}

// buildEngine selects and constructs the generation engine. API keys fall
// back to the provider's conventional environment variable.
func buildEngine(cfg *config.Config) (engine.Engine, error) {
	switch cfg.Engine.Provider {
	case "openai":
		apiKey := cfg.Engine.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		return engine.NewOpenAI(engine.OpenAIConfig{
			APIKey:  apiKey,
			Model:   cfg.Engine.Model,
			BaseURL: cfg.Engine.BaseURL,
		})
	case "anthropic":
		apiKey := cfg.Engine.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		return engine.NewAnthropic(engine.AnthropicConfig{
			APIKey:  apiKey,
			Model:   cfg.Engine.Model,
			BaseURL: cfg.Engine.BaseURL,
		})
	default:
		return nil, fmt.Errorf("unsupported engine provider %q", cfg.Engine.Provider)
	}
}

// openCache returns the durable cache when a directory is configured, and an
// in-memory cache otherwise. The in-memory cache still deduplicates repeated
// sampling keys within the run.
func openCache(dir string, logger *slog.Logger) (qacache.Store, error) {
	if dir == "" {
		logger.Warn("no cache directory configured, generation results will not survive this run")
		return qacache.NewMemory(), nil
	}
	return qacache.NewSQLite(dir)
}

func printSummary(cmd *cobra.Command, summary *orchestrator.Summary, path string) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Dataset written to %s\n", path)
	fmt.Fprintf(out, "Rounds: %d\n", summary.Rounds)
	for _, d := range models.Difficulties() {
		requested := summary.Requested[d]
		if requested == 0 {
			continue
		}
		fmt.Fprintf(out, "  %-6s %d/%d\n", d, summary.Produced[d], requested)
	}
	if summary.Partial {
		fmt.Fprintln(out, "Run ended partial:")
		for d, reason := range summary.GaveUp {
			fmt.Fprintf(out, "  %s: %s\n", d, reason)
		}
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// runCorpusStats loads the corpus and prints its shape.
func runCorpusStats(cmd *cobra.Command, configPath, corpusPath string, asJSON bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if corpusPath == "" {
		corpusPath = cfg.Corpus.Path
	}
	if corpusPath == "" {
		return fmt.Errorf("no corpus specified: use --corpus or set corpus.path in the config file")
	}

	store, err := corpus.Load(corpusPath)
	if err != nil {
		return err
	}
	stats := store.Stats()

	out := cmd.OutOrStdout()
	if asJSON {
		return writeJSON(out, stats)
	}
	fmt.Fprintf(out, "Corpus: %s\n", store.SourceName())
	fmt.Fprintf(out, "  Conversations: %d\n", stats.Conversations)
	fmt.Fprintf(out, "  Sessions:      %d\n", stats.Sessions)
	fmt.Fprintf(out, "  Turns:         %d\n", stats.Turns)
	fmt.Fprintf(out, "  Turns/session: %d-%d\n", stats.MinTurns, stats.MaxTurns)
	return nil
}

// runCacheStats opens the configured cache and prints its counts.
func runCacheStats(cmd *cobra.Command, configPath, cacheDir string) error {
	cache, err := resolveCache(configPath, cacheDir)
	if err != nil {
		return err
	}
	defer cache.Close()

	stats, err := cache.Stats(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Entries:    %d\n", stats.Entries)
	fmt.Fprintf(out, "Candidates: %d\n", stats.Candidates)
	return nil
}

// runCacheClear removes all cached generation results after confirmation.
func runCacheClear(cmd *cobra.Command, configPath, cacheDir string, force bool) error {
	if !force {
		fmt.Fprint(cmd.OutOrStdout(), "Clear all cached generation results? The next run will repeat every engine call. [y/N]: ")
		reader := bufio.NewReader(cmd.InOrStdin())
		answer, _ := reader.ReadString('\n')
		answer = strings.ToLower(strings.TrimSpace(answer))
		if answer != "y" && answer != "yes" {
			fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
			return nil
		}
	}

	cache, err := resolveCache(configPath, cacheDir)
	if err != nil {
		return err
	}
	defer cache.Close()

	if err := cache.Clear(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Cache cleared.")
	return nil
}

// resolveCache opens the durable cache named by the flag, falling back to
// the config file's cache directory.
func resolveCache(configPath, cacheDir string) (qacache.Store, error) {
	if cacheDir == "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cacheDir = cfg.Cache.Dir
	}
	if cacheDir == "" {
		return nil, fmt.Errorf("no cache directory configured: use --cache-dir or set cache.dir in the config file")
	}
	return qacache.NewSQLite(cacheDir)
}
