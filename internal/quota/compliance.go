package quota

import (
	"github.com/spigell/allocator/internal/matching"
	"github.com/spigell/allocator/internal/preference"
	"github.com/spigell/allocator/internal/profile"
	"github.com/spigell/allocator/internal/scoring"
)

// Market is the read-only context a reconciliation runs against.
type Market struct {
	Candidates *profile.Candidates
	Scores     *scoring.Matrix
	Lists      *preference.Lists
}

// Compliance is the state of one target against one allocation.
type Compliance struct {
	Label         string `json:"label"`
	Scope         Scope  `json:"scope"`
	OpportunityID string `json:"opportunity,omitempty"`
	// Target is the configured fraction or count.
	Target           float64 `json:"target"`
	Required         int     `json:"required"`
	Matched          int     `json:"matched"`
	Achieved         int     `json:"achieved"`
	AchievedFraction float64 `json:"achieved_fraction"`
	// Eligible is the number of tagged candidates that could be matched in scope.
	Eligible  int  `json:"eligible"`
	Compliant bool `json:"compliant"`
	Feasible  bool `json:"feasible"`
}

type view struct {
	market Market
	index  map[string]*profile.Candidate
}

func newView(m Market) *view {
	return &view{market: m, index: m.Candidates.Index()}
}

func (v *view) tagged(candidateID, label string) bool {
	c, ok := v.index[candidateID]
	return ok && c.HasTag(label)
}

func (v *view) score(candidateID, opportunityID string) float64 {
	return v.market.Scores.Composite(candidateID, opportunityID)
}

// mutual reports whether the candidate and the opportunity list each other.
func (v *view) mutual(candidateID, opportunityID string) bool {
	if _, ok := v.market.Lists.CandidateRank(candidateID, opportunityID); !ok {
		return false
	}
	_, ok := v.market.Lists.OpportunityRank(opportunityID, candidateID)
	return ok
}

// inScope returns the matched candidates covered by the target.
func inScope(alloc *matching.Allocation, t Target) []string {
	if t.Scope == ScopeOpportunity {
		return alloc.Held[t.OpportunityID]
	}
	out := make([]string, 0, len(alloc.Holder))
	for _, o := range alloc.OpportunityIDs {
		out = append(out, alloc.Held[o]...)
	}
	return out
}

func (v *view) achieved(alloc *matching.Allocation, t Target) (matched, achieved int) {
	held := inScope(alloc, t)
	for _, c := range held {
		if v.tagged(c, t.Label) {
			achieved++
		}
	}
	return len(held), achieved
}

func (v *view) eligible(alloc *matching.Allocation, t Target) (eligible, capacity int) {
	if t.Scope == ScopeOpportunity {
		for _, c := range alloc.CandidateIDs {
			if v.tagged(c, t.Label) && v.mutual(c, t.OpportunityID) {
				eligible++
			}
		}
		return eligible, alloc.Capacity[t.OpportunityID]
	}
	for _, c := range alloc.CandidateIDs {
		if v.tagged(c, t.Label) && len(v.market.Lists.Candidates[c]) > 0 {
			eligible++
		}
	}
	for _, o := range alloc.OpportunityIDs {
		capacity += alloc.Capacity[o]
	}
	return eligible, capacity
}

func (v *view) evaluate(alloc *matching.Allocation, t Target) Compliance {
	matched, achieved := v.achieved(alloc, t)
	eligible, capacity := v.eligible(alloc, t)
	required := t.Required(matched)

	c := Compliance{
		Label:         t.Label,
		Scope:         t.Scope,
		OpportunityID: t.OpportunityID,
		Target:        t.Fraction,
		Required:      required,
		Matched:       matched,
		Achieved:      achieved,
		Eligible:      eligible,
		Compliant:     achieved >= required,
		Feasible:      required <= min(eligible, capacity),
	}
	if t.Count > 0 {
		c.Target = float64(t.Count)
	}
	if matched > 0 {
		c.AchievedFraction = float64(achieved) / float64(matched)
	}
	return c
}

// Evaluate reports compliance of every target without changing the allocation.
// Targets must come from Expand.
func Evaluate(alloc *matching.Allocation, targets []Target, market Market) []Compliance {
	v := newView(market)
	out := make([]Compliance, 0, len(targets))
	for _, t := range targets {
		out = append(out, v.evaluate(alloc, t))
	}
	return out
}
