package quota

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTargetValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		target  Target
		wantErr bool
	}{
		{name: "fraction", target: Target{Label: "rural", Fraction: 0.3}},
		{name: "count per opportunity", target: Target{Label: "sc", Count: 2, Scope: ScopeOpportunity, OpportunityID: "O1"}},
		{name: "whole fraction", target: Target{Label: "st", Fraction: 1}},
		{name: "empty label", target: Target{Label: "  ", Fraction: 0.3}, wantErr: true},
		{name: "neither", target: Target{Label: "rural"}, wantErr: true},
		{name: "both", target: Target{Label: "rural", Fraction: 0.3, Count: 1}, wantErr: true},
		{name: "fraction above one", target: Target{Label: "rural", Fraction: 1.5}, wantErr: true},
		{name: "negative count", target: Target{Label: "rural", Count: -1}, wantErr: true},
		{name: "unknown scope", target: Target{Label: "rural", Count: 1, Scope: "region"}, wantErr: true},
		{name: "global with opportunity", target: Target{Label: "rural", Count: 1, OpportunityID: "O1"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.target.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTarget)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestTargetRequired(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 3, Target{Label: "rural", Fraction: 0.3}.Required(10))
	assert.Equal(t, 1, Target{Label: "rural", Fraction: 0.3}.Required(1))
	assert.Equal(t, 0, Target{Label: "rural", Fraction: 0.3}.Required(0))
	assert.Equal(t, 4, Target{Label: "rural", Fraction: 0.3}.Required(11))
	assert.Equal(t, 2, Target{Label: "rural", Count: 2}.Required(0))
}

func TestExpand(t *testing.T) {
	t.Parallel()

	got, err := Expand([]Target{
		{Label: "SC", Count: 1, Scope: ScopeOpportunity},
		{Label: "rural", Fraction: 0.3},
		{Label: "rural", Count: 1, Scope: ScopeOpportunity, OpportunityID: "O1"},
	}, []string{"O2", "O1"})
	require.NoError(t, err)

	assert.Equal(t, []Target{
		{Label: "rural", Fraction: 0.3, Scope: ScopeGlobal},
		{Label: "rural", Count: 1, Scope: ScopeOpportunity, OpportunityID: "O1"},
		{Label: "sc", Count: 1, Scope: ScopeOpportunity, OpportunityID: "O1"},
		{Label: "sc", Count: 1, Scope: ScopeOpportunity, OpportunityID: "O2"},
	}, got)

	_, err = Expand([]Target{{Label: "rural"}}, nil)
	assert.ErrorIs(t, err, ErrInvalidTarget)
}
