package eligibility

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/allocator/internal/profile"
)

func newPool() *Pool {
	return &Pool{
		Candidates: &profile.Candidates{Items: []*profile.Candidate{
			{ID: "C1", Age: 22, Skills: []string{"go"}, Embedding: []float64{1, 0}},
			{ID: "C2", Age: 30, Skills: []string{"sql"}, Embedding: []float64{0, 1}},
			{ID: "C3", Skills: []string{}, Embedding: []float64{1, 1}},
			{ID: "C4", Age: 21, Embedding: []float64{1, 1}},
		}},
		Opportunities: &profile.Opportunities{Items: []*profile.Opportunity{
			{ID: "O1", RequiredSkills: []string{"go"}, Embedding: []float64{1, 0}, Capacity: 1},
			{ID: "O2", RequiredSkills: []string{"sql"}, Capacity: 1},
		}},
	}
}

func TestRunExcludesAndLogs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "exclude.json")
	if err := os.WriteFile(path, []byte(`{"items":[{"id":"C2","reason":"placed last cycle"}]}`), 0o600); err != nil {
		t.Fatalf("write exclude file: %v", err)
	}

	core, observed := observer.New(zapcore.InfoLevel)
	cfg := &Config{OnMissing: PolicyExclude, MinAge: 21, MaxAge: 24, ExcludeFile: path}
	pool := newPool()

	if err := Run(context.Background(), cfg, Deps{Logger: zap.New(core)}, DefaultSteps(), pool); err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := pool.Candidates.IDs(); len(got) != 2 || got[0] != "C1" || got[1] != "C3" {
		t.Fatalf("unexpected candidates left: %v", got)
	}
	if got := pool.Opportunities.IDs(); len(got) != 1 || got[0] != "O1" {
		t.Fatalf("unexpected opportunities left: %v", got)
	}

	want := []Exclusion{
		{Entity: profile.EntityCandidate, ID: "C2", Reason: "placed last cycle"},
		{Entity: profile.EntityCandidate, ID: "C4", Reason: "missing skills"},
		{Entity: profile.EntityOpportunity, ID: "O2", Reason: "missing embedding"},
	}
	if len(pool.Excluded) != len(want) {
		t.Fatalf("expected %d exclusions, got %+v", len(want), pool.Excluded)
	}
	for i := range want {
		if pool.Excluded[i] != want[i] {
			t.Fatalf("exclusion %d: expected %+v, got %+v", i, want[i], pool.Excluded[i])
		}
	}

	steps := observed.FilterMessage("filter step").All()
	if len(steps) != 4 {
		t.Fatalf("expected 4 step entries, got %d", len(steps))
	}
	signals := steps[3].ContextMap()
	if signals["name"] != "signals" || signals["dropped"] != int64(2) || signals["left"] != int64(3) {
		t.Fatalf("unexpected signals step: %v", signals)
	}
}

func TestSignalsAbort(t *testing.T) {
	t.Parallel()

	pool := newPool()
	err := Run(context.Background(), &Config{}, Deps{}, []Filter{NewSignals()}, pool)
	if !errors.Is(err, profile.ErrSignalUnavailable) {
		t.Fatalf("expected signal error, got %v", err)
	}

	var signalErr *profile.SignalError
	if !errors.As(err, &signalErr) || signalErr.ID != "C4" {
		t.Fatalf("expected first signal error for C4, got %v", err)
	}
	if pool.Candidates.Len() != 4 {
		t.Fatalf("abort must not change the pool")
	}
}

func TestAgeRangeKeepsUnknownAge(t *testing.T) {
	t.Parallel()

	pool := newPool()
	if err := Run(context.Background(), &Config{MinAge: 21, MaxAge: 24}, Deps{}, []Filter{NewAgeRange()}, pool); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := pool.Candidates.IDs(); len(got) != 3 || got[1] != "C3" {
		t.Fatalf("unexpected candidates: %v", got)
	}
	if pool.Excluded[0].Reason != "age out of range" {
		t.Fatalf("unexpected reason %q", pool.Excluded[0].Reason)
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  *Config
	}{
		{name: "unknown policy", cfg: &Config{OnMissing: "impute"}},
		{name: "inverted ages", cfg: &Config{MinAge: 30, MaxAge: 20}},
		{name: "negative age", cfg: &Config{MinAge: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := Run(context.Background(), tt.cfg, Deps{}, DefaultSteps(), newPool()); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestDisabledStepIsSkipped(t *testing.T) {
	t.Parallel()

	steps := DefaultSteps()
	DisableByName(steps, "signals", "vectors resolved upstream")

	pool := newPool()
	if err := Run(context.Background(), &Config{}, Deps{}, steps, pool); err != nil {
		t.Fatalf("run: %v", err)
	}
	if pool.Candidates.Len() != 4 {
		t.Fatalf("expected pool untouched, got %d", pool.Candidates.Len())
	}

	statuses := Describe(steps)
	last := statuses[len(statuses)-1]
	if last.Name != "signals" || last.Enabled || last.Reason != "vectors resolved upstream" {
		t.Fatalf("unexpected status: %+v", last)
	}
}

func TestMissingExcludeFile(t *testing.T) {
	t.Parallel()

	cfg := &Config{ExcludeFile: filepath.Join(t.TempDir(), "absent.json")}
	err := Run(context.Background(), cfg, Deps{}, []Filter{NewExcludeFile()}, newPool())
	if err == nil {
		t.Fatalf("expected error for missing exclude file")
	}
}
