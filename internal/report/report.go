// Package report packages an allocation for the boundary layer.
package report

import (
	"cmp"
	"encoding/json"
	"slices"

	"github.com/spigell/allocator/internal/matching"
	"github.com/spigell/allocator/internal/preference"
	"github.com/spigell/allocator/internal/profile"
	"github.com/spigell/allocator/internal/quota"
	"github.com/spigell/allocator/internal/scoring"
)

type MatchLine struct {
	CandidateID      string    `json:"candidate_id"`
	CandidateName    string    `json:"candidate_name,omitempty"`
	OpportunityID    string    `json:"opportunity_id"`
	OpportunityTitle string    `json:"opportunity_title,omitempty"`
	Composite        float64   `json:"composite_score"`
	SubScores        SubScores `json:"sub_scores"`
}

type SubScores struct {
	Semantic float64 `json:"semantic"`
	Overlap  float64 `json:"overlap"`
	Strength float64 `json:"strength"`
	Bonus    float64 `json:"bonus"`
}

type UnmatchedLine struct {
	CandidateID string `json:"candidate_id"`
	Reason      string `json:"reason"`
}

// Fill is the occupancy of one opportunity.
type Fill struct {
	OpportunityID string   `json:"opportunity_id"`
	Capacity      int      `json:"capacity"`
	Filled        int      `json:"filled"`
	Unfilled      int      `json:"unfilled"`
	Candidates    []string `json:"candidates"`
}

// Excluded is an entity removed before scoring.
type Excluded struct {
	Entity string `json:"entity"`
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// StableSummary describes the deferred acceptance result before reconciliation.
type StableSummary struct {
	Matched       int                `json:"matched"`
	Unmatched     int                `json:"unmatched"`
	Quotas        []quota.Compliance `json:"quotas"`
	BlockingPairs int                `json:"blocking_pairs"`
}

// Stats summarizes a run. BlockingPairs counts blocking pairs in the final
// allocation and is zero unless reconciliation swapped someone.
type Stats struct {
	Candidates          int             `json:"candidates"`
	Opportunities       int             `json:"opportunities"`
	ScoredPairs         int             `json:"scored_pairs"`
	Matched             int             `json:"matched"`
	Efficiency          float64         `json:"matching_efficiency"`
	Scores              scoring.Summary `json:"scores"`
	Rounds              int             `json:"rounds"`
	Proposals           int             `json:"proposals"`
	Swaps               int             `json:"swaps"`
	BlockingPairs       int             `json:"blocking_pairs"`
	SwapBudgetExhausted bool            `json:"swap_budget_exhausted"`
}

// Report is the read-only outcome of one run. Every slice is sorted, so the
// JSON form is stable for identical input.
type Report struct {
	Stage         matching.Stage          `json:"stage"`
	Matches       []MatchLine             `json:"matches"`
	Unmatched     []UnmatchedLine         `json:"unmatched"`
	Opportunities []Fill                  `json:"opportunities"`
	Quotas        []quota.Compliance      `json:"quotas"`
	Excluded      []Excluded              `json:"excluded"`
	Swaps         []quota.Swap            `json:"swaps"`
	Blocking      []matching.BlockingPair `json:"blocking_pairs"`
	Stable        StableSummary           `json:"stable"`
	Stats         Stats                   `json:"stats"`
}

// Input is everything Assemble reads. Reconciled is nil when reconciliation
// was skipped; Quotas then holds the compliance of the stable allocation.
type Input struct {
	Candidates    *profile.Candidates
	Opportunities *profile.Opportunities
	Scores        *scoring.Matrix
	Lists         *preference.Lists
	Stable        *matching.Allocation
	Reconciled    *quota.Result
	Quotas        []quota.Compliance
	Excluded      []Excluded
}

// Assemble walks the final allocation and builds the report.
func Assemble(in Input) *Report {
	final := in.Stable
	stableQuotas := in.Quotas
	finalQuotas := in.Quotas
	var swaps []quota.Swap
	budgetExhausted := false
	if in.Reconciled != nil {
		final = in.Reconciled.Allocation
		stableQuotas = in.Reconciled.Before
		finalQuotas = in.Reconciled.After
		swaps = in.Reconciled.Swaps
		budgetExhausted = in.Reconciled.BudgetExhausted
	}

	candidates := in.Candidates.Index()
	opportunities := in.Opportunities.Index()

	r := &Report{
		Stage:         final.Stage,
		Matches:       []MatchLine{},
		Unmatched:     []UnmatchedLine{},
		Opportunities: []Fill{},
		Quotas:        nonNil(finalQuotas),
		Excluded:      sortedExcluded(in.Excluded),
		Swaps:         nonNil(swaps),
		Blocking:      nonNil(matching.BlockingPairs(final, in.Lists)),
	}

	for _, m := range final.Matches() {
		ps, _ := in.Scores.Get(m.CandidateID, m.OpportunityID)
		line := MatchLine{
			CandidateID:   m.CandidateID,
			OpportunityID: m.OpportunityID,
			Composite:     ps.Composite,
			SubScores: SubScores{
				Semantic: ps.Semantic,
				Overlap:  ps.Overlap,
				Strength: ps.Strength,
				Bonus:    ps.Bonus,
			},
		}
		if c, ok := candidates[m.CandidateID]; ok {
			line.CandidateName = c.Name
		}
		if o, ok := opportunities[m.OpportunityID]; ok {
			line.OpportunityTitle = o.Title
		}
		r.Matches = append(r.Matches, line)
	}

	for _, u := range final.Unmatched() {
		r.Unmatched = append(r.Unmatched, UnmatchedLine{CandidateID: u.CandidateID, Reason: u.Reason})
	}

	for _, o := range slices.Sorted(slices.Values(final.OpportunityIDs)) {
		held := slices.Clone(final.Held[o])
		if held == nil {
			held = []string{}
		}
		r.Opportunities = append(r.Opportunities, Fill{
			OpportunityID: o,
			Capacity:      final.Capacity[o],
			Filled:        len(held),
			Unfilled:      final.Capacity[o] - len(held),
			Candidates:    held,
		})
	}

	r.Stable = StableSummary{
		Matched:       len(in.Stable.Holder),
		Unmatched:     len(in.Stable.Reasons),
		Quotas:        nonNil(stableQuotas),
		BlockingPairs: len(matching.BlockingPairs(in.Stable, in.Lists)),
	}

	r.Stats = Stats{
		Candidates:          len(final.CandidateIDs),
		Opportunities:       len(final.OpportunityIDs),
		ScoredPairs:         in.Scores.Len(),
		Matched:             len(final.Holder),
		Scores:              in.Scores.Summary(),
		Rounds:              final.Rounds,
		Proposals:           final.Proposals,
		Swaps:               len(swaps),
		BlockingPairs:       len(r.Blocking),
		SwapBudgetExhausted: budgetExhausted,
	}
	if n := len(final.CandidateIDs); n > 0 {
		r.Stats.Efficiency = float64(len(final.Holder)) / float64(n)
	}

	return r
}

func sortedExcluded(in []Excluded) []Excluded {
	out := slices.Clone(in)
	if out == nil {
		return []Excluded{}
	}
	slices.SortFunc(out, func(a, b Excluded) int {
		return cmp.Or(cmp.Compare(a.Entity, b.Entity), cmp.Compare(a.ID, b.ID))
	})
	return out
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// Canonical is the deterministic JSON form handed to hashing collaborators.
// It carries no timestamps or run identifiers.
func (r *Report) Canonical() ([]byte, error) {
	return json.Marshal(r)
}

// Indented is Canonical with indentation, for humans.
func (r *Report) Indented() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// Quota returns the compliance row for a label and opportunity ("" for global).
func (r *Report) Quota(label, opportunityID string) (quota.Compliance, bool) {
	for _, q := range r.Quotas {
		if q.Label == label && q.OpportunityID == opportunityID {
			return q, true
		}
	}
	return quota.Compliance{}, false
}
