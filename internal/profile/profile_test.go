package profile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
candidates:
  - id: C1
    name: Asha
    age: 22
    skills: [" Python", "sql", "python"]
    embedding: [1, 0.5]
    quota_tags: [Rural]
    skill_strength: 0.7
  - id: C2
    skills: []
    embedding: [0, 1]
    skill_strength: "0.4"
opportunities:
  - id: O1
    title: Data intern
    required_skills: [python]
    embedding: [1, 0]
    capacity: 2
`

func TestParseNormalizes(t *testing.T) {
	ds, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	require.Equal(t, 2, ds.Candidates.Len())
	require.Equal(t, 1, ds.Opportunities.Len())

	c1 := ds.Candidates.FindByID("C1")
	require.NotNil(t, c1)
	assert.Equal(t, []string{"python", "sql"}, c1.Skills)
	assert.Equal(t, []float64{1, 0.5}, c1.Embedding)
	assert.True(t, c1.HasTag("rural"))
	assert.True(t, c1.HasTag(" RURAL "))
	assert.False(t, c1.HasTag("sc"))

	c2 := ds.Candidates.FindByID("C2")
	require.NotNil(t, c2)
	assert.NotNil(t, c2.Skills, "explicitly empty skills must stay non-nil")
	assert.Empty(t, c2.Skills)
	assert.InDelta(t, 0.4, c2.SkillStrength, 1e-12)

	assert.NoError(t, ds.Validate())
}

func TestHasTagOnUnnormalizedRecord(t *testing.T) {
	c := &Candidate{ID: "C1", QuotaTags: []string{"Zeta", " Rural ", "obc"}}

	assert.True(t, c.HasTag("rural"))
	assert.True(t, c.HasTag("zeta"))
	assert.True(t, c.HasTag("OBC"))
	assert.False(t, c.HasTag("sc"))
	assert.False(t, c.HasTag(" "))
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("candidates:\n  - id: C1\n    skils: [go]\n"))
	require.Error(t, err)
}

func TestParseAcceptsJSON(t *testing.T) {
	ds, err := Parse([]byte(`{"candidates":[{"id":"C1","skills":["go"],"embedding":[1,0],"skill_strength":0.5}],
"opportunities":[{"id":"O1","required_skills":["go"],"embedding":[0,1],"capacity":1}]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"C1"}, ds.Candidates.IDs())
	assert.Equal(t, 1, ds.Opportunities.TotalCapacity())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dataset.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	ds, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"O1"}, ds.Opportunities.IDs())

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		cands  []*Candidate
		opps   []*Opportunity
		field  string
		passes bool
	}{
		{
			name:   "valid",
			cands:  []*Candidate{{ID: "C1", Embedding: []float64{1, 0}, SkillStrength: 1}},
			opps:   []*Opportunity{{ID: "O1", Embedding: []float64{0, 1}, Capacity: 1}},
			passes: true,
		},
		{
			name:  "zero capacity",
			opps:  []*Opportunity{{ID: "O1", Capacity: 0}},
			field: "capacity",
		},
		{
			name:  "dimension mismatch",
			cands: []*Candidate{{ID: "C1", Embedding: []float64{1, 0}}},
			opps:  []*Opportunity{{ID: "O1", Embedding: []float64{1, 0, 0}, Capacity: 1}},
			field: "embedding",
		},
		{
			name:  "duplicate candidate",
			cands: []*Candidate{{ID: "C1"}, {ID: "C1"}},
			field: "id",
		},
		{
			name:  "missing id",
			cands: []*Candidate{{ID: " "}},
			field: "id",
		},
		{
			name:  "strength out of range",
			cands: []*Candidate{{ID: "C1", SkillStrength: 1.5}},
			field: "skill_strength",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ds := New(tt.cands, tt.opps)
			err := ds.Validate()
			if tt.passes {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidInput))

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestMissingSignals(t *testing.T) {
	c := &Candidate{ID: "C1"}
	assert.Equal(t, []string{SignalEmbedding, SignalSkills}, c.MissingSignals())

	c = c.WithEmbedding([]float64{1})
	c.Skills = []string{}
	assert.Empty(t, c.MissingSignals())

	o := &Opportunity{ID: "O1", RequiredSkills: []string{"go"}}
	assert.Equal(t, []string{SignalEmbedding}, o.MissingSignals())

	err := &SignalError{Entity: EntityOpportunity, ID: "O1", Signal: SignalEmbedding}
	assert.ErrorIs(t, err, ErrSignalUnavailable)
}

func TestCollectionsExclude(t *testing.T) {
	cands := &Candidates{Items: []*Candidate{{ID: "C1"}, {ID: "C2"}, {ID: "C3"}}}
	original := cands.Clone()

	removed := cands.Exclude([]string{"C2", "C9"})
	assert.Equal(t, []string{"C2"}, removed)
	assert.Equal(t, []string{"C1", "C3"}, cands.IDs())
	assert.Equal(t, []string{"C1", "C2", "C3"}, original.IDs(), "clone must not see the exclusion")

	opps := &Opportunities{Items: []*Opportunity{{ID: "O1", Capacity: 2}, {ID: "O2", Capacity: 3}}}
	assert.Equal(t, 5, opps.TotalCapacity())
	assert.Equal(t, []string{"O1"}, opps.Exclude([]string{"O1"}))
	assert.Nil(t, opps.FindByID("O1"))
	assert.NotNil(t, opps.Index()["O2"])
}

func TestReadExcludeFile(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	list, err := ReadExcludeFile(empty)
	require.NoError(t, err)
	assert.Empty(t, list.IDs())

	full := filepath.Join(dir, "exclude.json")
	require.NoError(t, os.WriteFile(full, []byte(`{"items":[{"id":"C7","reason":"withdrawn"}]}`), 0o644))
	list, err = ReadExcludeFile(full)
	require.NoError(t, err)
	assert.Equal(t, []string{"C7"}, list.IDs())
}

func TestEmbeddingText(t *testing.T) {
	c := &Candidate{Skills: []string{"go", "sql"}}
	assert.Equal(t, "go, sql", c.EmbeddingText())
	c.Text = "  backend engineer "
	assert.Equal(t, "backend engineer", c.EmbeddingText())

	o := &Opportunity{Title: "Intern", RequiredSkills: []string{"go"}}
	assert.Equal(t, "Intern: go", o.EmbeddingText())
}
