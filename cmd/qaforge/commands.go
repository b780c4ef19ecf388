package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// This file contains command definitions for the qaforge CLI.
// Handler implementations are in handlers.go.

// ============================================================================
// Generate Command
// ============================================================================

func buildGenerateCmd() *cobra.Command {
	var (
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
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a QA dataset from a conversation corpus",
		Long: `Generate samples evidence windows from the corpus, asks the configured
engine for question-answer candidates, validates them, and writes the
accepted items to <output-dir>/<corpus>_qa.json.

Flags override the corresponding config file values. Generation results
are cached by sampling key, so re-running after an interruption resumes
without repeating completed engine calls.`,
		Example: `  # Generate 50 medium questions from a LoCoMo-style corpus
  qaforge generate --corpus locomo10.json --num-qa 50

  # Difficulty-stratified generation with a config file
  qaforge generate --config qaforge.yaml --easy 20 --medium 20 --hard 10

  # Deterministic sampling for reproducible runs
  qaforge generate --config qaforge.yaml --seed 42`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd, generateFlags{
				configPath:       configPath,
				corpusPath:       corpusPath,
				outputDir:        outputDir,
				cacheDir:         cacheDir,
				logLevel:         logLevel,
				provider:         provider,
				model:            model,
				workers:          workers,
				numQA:            numQA,
				easy:             easy,
				medium:           medium,
				hard:             hard,
				minSessions:      minSessions,
				maxSessions:      maxSessions,
				sessionThreshold: sessionThreshold,
				minEvidences:     minEvidences,
				maxEvidences:     maxEvidences,
				enableValidation: enableValidation,
				maxPreferred:     maxPreferred,
				maxDisliked:      maxDisliked,
				seed:             seed,
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file (YAML)")
	cmd.Flags().StringVar(&corpusPath, "corpus", "", "Path to the processed corpus JSON file")
	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "Directory for the dataset artifact")
	cmd.Flags().StringVar(&cacheDir, "cache-dir", "", "Generation cache directory (empty disables durable caching)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")

	cmd.Flags().StringVar(&provider, "provider", "", "Engine provider: openai or anthropic")
	cmd.Flags().StringVar(&model, "model", "", "Engine model identifier")
	cmd.Flags().IntVar(&workers, "workers", 0, "Concurrent generation workers")

	cmd.Flags().IntVar(&numQA, "num-qa", 0, "Unstratified QA target (generated under the medium template)")
	cmd.Flags().IntVar(&easy, "easy", 0, "Easy question quota")
	cmd.Flags().IntVar(&medium, "medium", 0, "Medium question quota")
	cmd.Flags().IntVar(&hard, "hard", 0, "Hard question quota")

	cmd.Flags().IntVar(&minSessions, "min-sessions", 0, "Minimum sessions per sampling window")
	cmd.Flags().IntVar(&maxSessions, "max-sessions", 0, "Maximum sessions per sampling window")
	cmd.Flags().IntVar(&sessionThreshold, "session-threshold", 0, "Minimum distinct sessions an answer must span")
	cmd.Flags().IntVar(&minEvidences, "min-evidences", 0, "Minimum evidence spans per window")
	cmd.Flags().IntVar(&maxEvidences, "max-evidences", 0, "Maximum evidence spans per window")

	cmd.Flags().BoolVar(&enableValidation, "enable-validation", true, "Run the validation gate over generated candidates")
	cmd.Flags().IntVar(&maxPreferred, "max-preferred-examples", 0, "Preferred exemplar pool bound")
	cmd.Flags().IntVar(&maxDisliked, "max-disliked-examples", 0, "Disliked exemplar pool bound")

	cmd.Flags().Int64Var(&seed, "seed", 0, "Sampler seed (0 uses a time-based seed)")

	return cmd
}

// ============================================================================
// Version Command
// ============================================================================

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "qaforge %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

// ============================================================================
// Corpus Commands
// ============================================================================

func buildCorpusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "corpus",
		Short: "Inspect conversation corpora",
	}

	cmd.AddCommand(buildCorpusStatsCmd())

	return cmd
}

func buildCorpusStatsCmd() *cobra.Command {
	var (
		configPath string
		corpusPath string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show conversation, session, and turn counts for a corpus",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCorpusStats(cmd, configPath, corpusPath, asJSON)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file (YAML)")
	cmd.Flags().StringVar(&corpusPath, "corpus", "", "Path to the processed corpus JSON file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	return cmd
}

// ============================================================================
// Cache Commands
// ============================================================================

func buildCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the generation cache",
	}

	cmd.AddCommand(
		buildCacheStatsCmd(),
		buildCacheClearCmd(),
	)

	return cmd
}

func buildCacheStatsCmd() *cobra.Command {
	var (
		configPath string
		cacheDir   string
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show entry and candidate counts for the generation cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCacheStats(cmd, configPath, cacheDir)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file (YAML)")
	cmd.Flags().StringVar(&cacheDir, "cache-dir", "", "Generation cache directory")

	return cmd
}

func buildCacheClearCmd() *cobra.Command {
	var (
		configPath string
		cacheDir   string
		force      bool
	)

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove all cached generation results",
		Long: `Clear deletes every cached engine response. The next run will repeat
all generation calls, so this is only useful after corpus or prompt
changes that the sampling key does not capture.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCacheClear(cmd, configPath, cacheDir, force)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file (YAML)")
	cmd.Flags().StringVar(&cacheDir, "cache-dir", "", "Generation cache directory")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Skip the confirmation prompt")

	return cmd
}
