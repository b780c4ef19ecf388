package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"generate", "corpus", "cache", "version"}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestCorpusStatsCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tiny.json")
	corpusJSON := `[{
		"conversation_id": "conv_1",
		"speakers": ["Ana", "Ben"],
		"sessions": [
			{"session_id": "s1", "turns": [
				{"speaker": "Ana", "content": "hello"},
				{"speaker": "Ben", "content": "hi"}
			]},
			{"session_id": "s2", "turns": [
				{"speaker": "Ana", "content": "back again"}
			]}
		]
	}]`
	if err := os.WriteFile(path, []byte(corpusJSON), 0o644); err != nil {
		t.Fatal(err)
	}

	cmd := buildRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"corpus", "stats", "--corpus", path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("corpus stats failed: %v", err)
	}

	got := out.String()
	for _, want := range []string{"Corpus: tiny", "Conversations: 1", "Sessions:      2", "Turns:         3"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestCacheClearRequiresConfirmation(t *testing.T) {
	cmd := buildRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader("n\n"))
	cmd.SetArgs([]string{"cache", "clear", "--cache-dir", t.TempDir()})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("cache clear failed: %v", err)
	}
	if !strings.Contains(out.String(), "Aborted.") {
		t.Errorf("expected abort message, got:\n%s", out.String())
	}
}

func TestGenerateRejectsInvalidConfig(t *testing.T) {
	cmd := buildRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	// No corpus path anywhere fails validation before any engine wiring.
	cmd.SetArgs([]string{"generate"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected validation error for missing corpus path")
	}
}
