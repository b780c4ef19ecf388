// Package main provides the CLI entry point for qaforge, the QA dataset
// generation pipeline.
//
// qaforge samples evidence windows from a multi-session conversation corpus,
// generates difficulty-balanced question-answer candidates through an
// external LLM engine, validates them against the corpus, and writes the
// accepted items as a JSON dataset.
//
// # Basic Usage
//
// Generate a dataset:
//
//	qaforge generate --config qaforge.yaml
//
// Inspect the corpus:
//
//	qaforge corpus stats --corpus locomo10.json
//
// Manage the generation cache:
//
//	qaforge cache stats
//	qaforge cache clear
//
// # Environment Variables
//
//   - OPENAI_API_KEY: OpenAI API key (engine.provider: openai)
//   - ANTHROPIC_API_KEY: Anthropic API key (engine.provider: anthropic)
//
// Config values support ${ENV} expansion, so keys can also be referenced
// from the YAML file directly.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"     // Semantic version (e.g., "v1.0.0")
	commit  = "none"    // Git commit SHA
	date    = "unknown" // Build timestamp
)

// main sets up the root command and all subcommands, then executes based on
// CLI args.
func main() {
	// Default logger until the generate handler replaces it with the
	// configured one. JSON on stderr keeps stdout free for artifacts.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()

	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// This is separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "qaforge",
		Short: "qaforge - QA dataset generation from conversation corpora",
		Long: `qaforge turns multi-session conversation corpora into difficulty-balanced
QA datasets for long-context memory evaluation.

Pipeline stages: evidence sampling, cached LLM generation, validation,
dataset assembly. Generation results are cached by sampling key, so
re-running an interrupted job never repeats a completed engine call.

Supported engines: OpenAI (chat completions), Anthropic (messages)`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		// SilenceUsage prevents printing usage on every error.
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildGenerateCmd(),
		buildCorpusCmd(),
		buildCacheCmd(),
		buildVersionCmd(),
	)

	return rootCmd
}
