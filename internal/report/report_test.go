package report

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spigell/allocator/internal/matching"
	"github.com/spigell/allocator/internal/preference"
	"github.com/spigell/allocator/internal/profile"
	"github.com/spigell/allocator/internal/quota"
	"github.com/spigell/allocator/internal/scoring"
)

func pair(c, o string, composite float64) scoring.PairScore {
	return scoring.PairScore{CandidateID: c, OpportunityID: o, Composite: composite, Semantic: composite, Overlap: 0.5}
}

func scenarioInput(t *testing.T, targets []quota.Target) Input {
	t.Helper()

	cands := &profile.Candidates{Items: []*profile.Candidate{
		{ID: "C1", Name: "Asha"},
		{ID: "C2", Name: "Ravi"},
		{ID: "C3", Name: "Meera", QuotaTags: []string{"rural"}},
	}}
	opps := &profile.Opportunities{Items: []*profile.Opportunity{
		{ID: "O1", Title: "Data intern", Capacity: 1},
		{ID: "O2", Title: "Ops intern", Capacity: 2},
	}}
	matrix := scoring.NewMatrix(cands.IDs(), opps.IDs(), []scoring.PairScore{
		pair("C1", "O1", 0.9), pair("C1", "O2", 0.4),
		pair("C2", "O1", 0.8), pair("C2", "O2", 0.7),
		pair("C3", "O1", 0.3), pair("C3", "O2", 0.6),
	})
	lists := preference.Build(matrix, 0)

	stable, err := matching.New(matching.Config{}, nil).Match(context.Background(), cands.IDs(),
		[]matching.Opening{{ID: "O1", Capacity: 1}, {ID: "O2", Capacity: 2}}, lists)
	require.NoError(t, err)

	in := Input{
		Candidates:    cands,
		Opportunities: opps,
		Scores:        matrix,
		Lists:         lists,
		Stable:        stable,
	}
	if targets != nil {
		res, err := quota.NewReconciler(0, nil).Reconcile(stable, targets, quota.Market{Candidates: cands, Scores: matrix, Lists: lists})
		require.NoError(t, err)
		in.Reconciled = res
	}
	return in
}

func TestAssembleScenario(t *testing.T) {
	r := Assemble(scenarioInput(t, nil))

	assert.Equal(t, matching.StageStable, r.Stage)
	require.Len(t, r.Matches, 3)
	assert.Equal(t, MatchLine{
		CandidateID:      "C1",
		CandidateName:    "Asha",
		OpportunityID:    "O1",
		OpportunityTitle: "Data intern",
		Composite:        0.9,
		SubScores:        SubScores{Semantic: 0.9, Overlap: 0.5},
	}, r.Matches[0])
	assert.Equal(t, "O2", r.Matches[2].OpportunityID)
	assert.Empty(t, r.Unmatched)
	assert.Empty(t, r.Blocking)

	assert.Equal(t, []Fill{
		{OpportunityID: "O1", Capacity: 1, Filled: 1, Unfilled: 0, Candidates: []string{"C1"}},
		{OpportunityID: "O2", Capacity: 2, Filled: 2, Unfilled: 0, Candidates: []string{"C2", "C3"}},
	}, r.Opportunities)

	assert.Equal(t, 3, r.Stats.Candidates)
	assert.Equal(t, 6, r.Stats.ScoredPairs)
	assert.Equal(t, 2, r.Stats.Rounds)
	assert.Equal(t, 4, r.Stats.Proposals)
	assert.InDelta(t, 1.0, r.Stats.Efficiency, 1e-12)
	assert.InDelta(t, 0.3, r.Stats.Scores.Min, 1e-12)
	assert.InDelta(t, 0.9, r.Stats.Scores.Max, 1e-12)
	assert.Equal(t, 3, r.Stable.Matched)
	assert.Zero(t, r.Stable.BlockingPairs)
}

func TestAssembleInfeasibleQuota(t *testing.T) {
	r := Assemble(scenarioInput(t, []quota.Target{{Label: "rural", Count: 2, Scope: quota.ScopeOpportunity, OpportunityID: "O2"}}))

	assert.Equal(t, matching.StageReconciled, r.Stage)
	q, ok := r.Quota("rural", "O2")
	require.True(t, ok)
	assert.False(t, q.Compliant)
	assert.Equal(t, 1, q.Achieved)
	assert.Len(t, r.Matches, 3)

	data, err := r.Canonical()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"compliant":false`)
	assert.Contains(t, string(data), `"achieved":1`)
}

func TestCanonicalIsStable(t *testing.T) {
	targets := []quota.Target{{Label: "rural", Fraction: 0.5}}
	in := scenarioInput(t, targets)
	in.Excluded = []Excluded{
		{Entity: "candidate", ID: "C9", Reason: "age out of range"},
		{Entity: "candidate", ID: "C7", Reason: "listed in exclude file"},
	}

	first, err := Assemble(in).Canonical()
	require.NoError(t, err)
	for range 5 {
		again, err := Assemble(in).Canonical()
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}

	reversed := scenarioInput(t, targets)
	reversed.Excluded = []Excluded{in.Excluded[1], in.Excluded[0]}
	second, err := Assemble(reversed).Canonical()
	require.NoError(t, err)
	assert.Equal(t, first, second)

	var decoded Report
	require.NoError(t, json.Unmarshal(first, &decoded))
	assert.Equal(t, "C7", decoded.Excluded[0].ID)
	assert.NotContains(t, string(first), "null")
}

func TestWriteMatchesCSV(t *testing.T) {
	r := Assemble(scenarioInput(t, nil))

	var buf bytes.Buffer
	require.NoError(t, r.WriteMatchesCSV(&buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "candidate_id,candidate_name,opportunity_id,opportunity_title,composite_score,semantic,overlap,strength,bonus", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "C1,Asha,O1,Data intern,0.9,"))
}

func TestWriteUnmatchedCSVHeaderOnly(t *testing.T) {
	r := Assemble(scenarioInput(t, nil))

	var buf bytes.Buffer
	require.NoError(t, r.WriteUnmatchedCSV(&buf))
	assert.Equal(t, "candidate_id,reason\n", buf.String())
}
