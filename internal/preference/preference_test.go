package preference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spigell/allocator/internal/scoring"
)

func pair(c, o string, composite float64) scoring.PairScore {
	return scoring.PairScore{CandidateID: c, OpportunityID: o, Composite: composite}
}

func scenarioMatrix() *scoring.Matrix {
	return scoring.NewMatrix(
		[]string{"C1", "C2", "C3"},
		[]string{"O1", "O2"},
		[]scoring.PairScore{
			pair("C1", "O1", 0.9), pair("C1", "O2", 0.4),
			pair("C2", "O1", 0.8), pair("C2", "O2", 0.7),
			pair("C3", "O1", 0.3), pair("C3", "O2", 0.6),
		},
	)
}

func TestBuildScenario(t *testing.T) {
	lists := Build(scenarioMatrix(), 0)

	assert.Equal(t, []string{"O1", "O2"}, lists.Candidates["C1"])
	assert.Equal(t, []string{"O1", "O2"}, lists.Candidates["C2"])
	assert.Equal(t, []string{"O2", "O1"}, lists.Candidates["C3"])
	assert.Equal(t, []string{"C1", "C2", "C3"}, lists.Opportunities["O1"])
	assert.Equal(t, []string{"C2", "C3", "C1"}, lists.Opportunities["O2"])

	r, ok := lists.OpportunityRank("O2", "C1")
	require.True(t, ok)
	assert.Equal(t, 2, r)
	assert.True(t, lists.CandidatePrefers("C3", "O2", "O1"))
	assert.True(t, lists.CandidatePrefers("C3", "O1", ""))
	assert.False(t, lists.CandidatePrefers("C3", "O9", ""))
	assert.True(t, lists.OpportunityPrefers("O1", "C1", "C2"))
	assert.False(t, lists.OpportunityPrefers("O1", "C3", "C2"))
}

func TestBuildTieBreaksByID(t *testing.T) {
	m := scoring.NewMatrix(
		[]string{"B", "A"},
		[]string{"O2", "O1"},
		[]scoring.PairScore{
			pair("B", "O2", 0.5), pair("B", "O1", 0.5),
			pair("A", "O2", 0.5), pair("A", "O1", 0.5),
		},
	)
	lists := Build(m, 0)

	assert.Equal(t, []string{"O1", "O2"}, lists.Candidates["B"])
	assert.Equal(t, []string{"A", "B"}, lists.Opportunities["O2"])
}

func TestBuildTieBreaksByInsertionOrder(t *testing.T) {
	// Same counterpart id twice can only happen for hand-built matrices; the
	// insertion index still yields a strict order.
	m := scoring.NewMatrix(
		[]string{"A"},
		[]string{"O1"},
		[]scoring.PairScore{pair("A", "O1", 0.5), pair("A", "O1", 0.5)},
	)
	lists := Build(m, 0)
	assert.Len(t, lists.Candidates["A"], 2)
}

func TestBuildKeepsZeroScores(t *testing.T) {
	m := scoring.NewMatrix([]string{"C1"}, []string{"O1"}, []scoring.PairScore{pair("C1", "O1", 0)})
	lists := Build(m, 0)
	assert.Equal(t, []string{"O1"}, lists.Candidates["C1"])
	assert.Equal(t, []string{"C1"}, lists.Opportunities["O1"])
}

func TestBuildThresholdIsSymmetric(t *testing.T) {
	lists := Build(scenarioMatrix(), 0.5)

	assert.Equal(t, []string{"O1"}, lists.Candidates["C1"])
	assert.Equal(t, []string{"O1", "O2"}, lists.Candidates["C2"])
	assert.Equal(t, []string{"O2"}, lists.Candidates["C3"])
	assert.Equal(t, []string{"C1", "C2"}, lists.Opportunities["O1"])
	assert.Equal(t, []string{"C2", "C3"}, lists.Opportunities["O2"])

	for c, list := range lists.Candidates {
		for _, o := range list {
			_, ok := lists.OpportunityRank(o, c)
			assert.True(t, ok, "%s lists %s but not the reverse", c, o)
		}
	}

	cands, opps := lists.Sizes()
	assert.Equal(t, cands, opps)
	assert.Equal(t, 4, cands)
}

func TestBuildEveryEntityHasAList(t *testing.T) {
	lists := Build(scenarioMatrix(), 0.95)
	for _, id := range []string{"C1", "C2", "C3"} {
		list, ok := lists.Candidates[id]
		assert.True(t, ok)
		assert.Empty(t, list)
	}
	_, ok := lists.Opportunities["O2"]
	assert.True(t, ok)
}
