package cmd

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/spigell/allocator/internal/config"
	"github.com/spigell/allocator/internal/embedding"
	"github.com/spigell/allocator/internal/engine"
	"github.com/spigell/allocator/internal/profile"
	"github.com/spigell/allocator/internal/report"
)

func TestWriteCSVFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	out := outcome{result: &engine.Result{Report: &report.Report{
		Matches:   []report.MatchLine{{CandidateID: "C1", OpportunityID: "O1", Composite: 0.9}},
		Unmatched: []report.UnmatchedLine{{CandidateID: "C2", Reason: "no acceptable opportunity"}},
	}}}

	if err := writeCSVFiles(dir, out); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	matches, err := os.ReadFile(filepath.Join(dir, matchesCSV))
	if err != nil {
		t.Fatalf("read matches: %v", err)
	}
	if !strings.Contains(string(matches), "C1,") || !strings.HasPrefix(string(matches), "candidate_id") {
		t.Fatalf("unexpected matches csv %q", matches)
	}

	unmatched, err := os.ReadFile(filepath.Join(dir, unmatchedCSV))
	if err != nil {
		t.Fatalf("read unmatched: %v", err)
	}
	if !strings.Contains(string(unmatched), "C2,no acceptable opportunity") {
		t.Fatalf("unexpected unmatched csv %q", unmatched)
	}
}

func TestNewLookupWithVectorsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.yaml")
	if err := os.WriteFile(path, []byte("candidates:\n  C1: [1, 0]\n"), 0o600); err != nil {
		t.Fatalf("write vectors: %v", err)
	}

	cfg := &config.Config{Embedding: config.EmbeddingConfig{File: path}}
	lookup, cleanup, err := newLookup(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	defer cleanup()

	v, err := lookup.Vector(context.Background(), profile.EntityCandidate, "C1", "")
	if err != nil {
		t.Fatalf("vector: %v", err)
	}
	if len(v) != 2 || v[0] != 1 {
		t.Fatalf("unexpected vector %v", v)
	}
	if _, err := lookup.Vector(context.Background(), profile.EntityCandidate, "C9", ""); err != embedding.ErrNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestNewLookupWithoutSources(t *testing.T) {
	lookup, cleanup, err := newLookup(context.Background(), &config.Config{}, zap.NewNop())
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	defer cleanup()
	if lookup != nil {
		t.Fatalf("expected no lookup, got %s", lookup.Name())
	}
}

func TestDisabledSteps(t *testing.T) {
	got := disabledSteps([]string{"exclude_file", "age_range"})
	if len(got) != 2 || got["exclude_file"] == "" || got["age_range"] == "" {
		t.Fatalf("unexpected disabled steps %v", got)
	}
}

func TestResolveVersionPrefersLinkedValue(t *testing.T) {
	original := version
	t.Cleanup(func() { version = original })

	version = "v1.2.3"
	if got := resolveVersion(); got != "v1.2.3" {
		t.Fatalf("expected linked version, got %q", got)
	}
}

func TestExcludeFileFlagDescribesCandidates(t *testing.T) {
	usage := runCmd.Flags().Lookup("exclude-file").Usage
	if !strings.Contains(usage, "candidate ids") || strings.Contains(usage, "opportunit") {
		t.Fatalf("unexpected exclude-file usage %q", usage)
	}
}
