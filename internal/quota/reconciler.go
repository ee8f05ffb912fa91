package quota

import (
	"cmp"
	"maps"
	"slices"

	"go.uber.org/zap"

	"github.com/spigell/allocator/internal/matching"
)

const DefaultMaxSwaps = 1000

// Swap records one replacement made by the reconciler.
type Swap struct {
	Label         string `json:"label"`
	OpportunityID string `json:"opportunity_id"`
	Displaced     string `json:"displaced"`
	Replacement   string `json:"replacement"`
	// DisplacedTo is the opportunity that took the displaced candidate, empty
	// when it ended unmatched.
	DisplacedTo      string  `json:"displaced_to,omitempty"`
	DisplacedScore   float64 `json:"displaced_score"`
	ReplacementScore float64 `json:"replacement_score"`
}

// Result is the reconciled allocation with compliance before and after.
type Result struct {
	Allocation *matching.Allocation
	Before     []Compliance
	After      []Compliance
	Swaps      []Swap
	// BudgetExhausted is set when the swap cap stopped the pass.
	BudgetExhausted bool
}

type Reconciler struct {
	maxSwaps int
	logger   *zap.Logger
}

func NewReconciler(maxSwaps int, logger *zap.Logger) *Reconciler {
	if maxSwaps <= 0 {
		maxSwaps = DefaultMaxSwaps
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{maxSwaps: maxSwaps, logger: logger}
}

// Reconcile works on a clone of stable, which is left untouched. Targets are
// expanded and ordered first. The result is not stable in the deferred
// acceptance sense once any swap happens.
func (r *Reconciler) Reconcile(stable *matching.Allocation, targets []Target, market Market) (*Result, error) {
	expanded, err := Expand(targets, stable.OpportunityIDs)
	if err != nil {
		return nil, err
	}

	v := newView(market)
	res := &Result{
		Allocation: stable.Clone(),
		Before:     Evaluate(stable, expanded, market),
	}
	res.Allocation.Stage = matching.StageReconciled

	labels := make(map[string]struct{}, len(expanded))
	for _, t := range expanded {
		labels[t.Label] = struct{}{}
	}
	protected := slices.Sorted(maps.Keys(labels))

	for _, t := range expanded {
		for {
			matched, achieved := v.achieved(res.Allocation, t)
			if achieved >= t.Required(matched) {
				break
			}
			if len(res.Swaps) >= r.maxSwaps {
				res.BudgetExhausted = true
				break
			}
			swap, ok := v.findSwap(res.Allocation, t, protected)
			if !ok {
				break
			}
			v.apply(res.Allocation, &swap, expanded)
			res.Swaps = append(res.Swaps, swap)

			r.logger.Debug("quota swap",
				zap.String("label", swap.Label),
				zap.String("opportunity", swap.OpportunityID),
				zap.String("displaced", swap.Displaced),
				zap.String("replacement", swap.Replacement),
				zap.String("displaced_to", swap.DisplacedTo),
			)
		}
	}

	if err := res.Allocation.CheckCapacity(); err != nil {
		return nil, err
	}

	res.After = Evaluate(res.Allocation, expanded, market)
	for _, c := range res.After {
		fields := []zap.Field{
			zap.String("label", c.Label),
			zap.String("scope", string(c.Scope)),
			zap.String("opportunity", c.OpportunityID),
			zap.Int("required", c.Required),
			zap.Int("achieved", c.Achieved),
			zap.Int("eligible", c.Eligible),
		}
		switch {
		case !c.Feasible:
			r.logger.Warn("quota target infeasible", fields...)
		case !c.Compliant:
			r.logger.Warn("quota target not met", fields...)
		default:
			r.logger.Info("quota target met", fields...)
		}
	}
	r.logger.Info("quota reconciliation finished",
		zap.Int("targets", len(expanded)),
		zap.Int("swaps", len(res.Swaps)),
		zap.Bool("budget_exhausted", res.BudgetExhausted),
	)

	return res, nil
}

type victim struct {
	candidate   string
	opportunity string
	score       float64
}

// findSwap picks the lowest-scoring matched candidate in scope that carries
// none of the protected labels and has a tagged replacement waiting.
func (v *view) findSwap(alloc *matching.Allocation, t Target, protected []string) (Swap, bool) {
	var victims []victim
	opportunities := alloc.OpportunityIDs
	if t.Scope == ScopeOpportunity {
		opportunities = []string{t.OpportunityID}
	}
	for _, o := range opportunities {
		for _, c := range alloc.Held[o] {
			if v.carriesAny(c, protected) {
				continue
			}
			victims = append(victims, victim{candidate: c, opportunity: o, score: v.score(c, o)})
		}
	}
	slices.SortFunc(victims, func(a, b victim) int {
		return cmp.Or(
			cmp.Compare(a.score, b.score),
			cmp.Compare(a.candidate, b.candidate),
			cmp.Compare(a.opportunity, b.opportunity),
		)
	})

	for _, vic := range victims {
		if replacement, ok := v.replacement(alloc, t.Label, vic.opportunity); ok {
			return Swap{
				Label:            t.Label,
				OpportunityID:    vic.opportunity,
				Displaced:        vic.candidate,
				Replacement:      replacement,
				DisplacedScore:   vic.score,
				ReplacementScore: v.score(replacement, vic.opportunity),
			}, true
		}
	}
	return Swap{}, false
}

func (v *view) carriesAny(candidateID string, labels []string) bool {
	for _, l := range labels {
		if v.tagged(candidateID, l) {
			return true
		}
	}
	return false
}

// replacement is the best unmatched tagged candidate mutually listed with the
// opportunity: highest score first, then the opportunity's own order.
func (v *view) replacement(alloc *matching.Allocation, label, opportunityID string) (string, bool) {
	best, bestScore, bestRank := "", -1.0, 0
	for _, c := range slices.Sorted(maps.Keys(alloc.Reasons)) {
		if !v.tagged(c, label) || !v.mutual(c, opportunityID) {
			continue
		}
		score := v.score(c, opportunityID)
		rank, _ := v.market.Lists.OpportunityRank(opportunityID, c)
		if best == "" || score > bestScore || (score == bestScore && rank < bestRank) {
			best, bestScore, bestRank = c, score, rank
		}
	}
	return best, best != ""
}

// apply performs the swap and re-homes the displaced candidate on a later
// preference with spare capacity when one exists. A move that would widen the
// shortfall of any target is not made; the candidate then stays unmatched.
func (v *view) apply(alloc *matching.Allocation, s *Swap, targets []Target) {
	alloc.Unassign(s.Displaced, matching.ReasonDisplaced)
	alloc.Assign(s.Replacement, s.OpportunityID)

	list := v.market.Lists.Candidates[s.Displaced]
	from, ok := v.market.Lists.CandidateRank(s.Displaced, s.OpportunityID)
	if !ok {
		return
	}
	before := v.shortfalls(alloc, targets)
	for _, o := range list[from+1:] {
		if alloc.Spare(o) <= 0 {
			continue
		}
		if _, listed := v.market.Lists.OpportunityRank(o, s.Displaced); !listed {
			continue
		}
		alloc.Assign(s.Displaced, o)
		if v.widens(alloc, targets, before) {
			alloc.Unassign(s.Displaced, matching.ReasonDisplaced)
			continue
		}
		s.DisplacedTo = o
		return
	}
}

// shortfall is how many tagged matches the target still misses.
func (v *view) shortfall(alloc *matching.Allocation, t Target) int {
	matched, achieved := v.achieved(alloc, t)
	return max(t.Required(matched)-achieved, 0)
}

func (v *view) shortfalls(alloc *matching.Allocation, targets []Target) []int {
	out := make([]int, len(targets))
	for i, t := range targets {
		out[i] = v.shortfall(alloc, t)
	}
	return out
}

func (v *view) widens(alloc *matching.Allocation, targets []Target, before []int) bool {
	for i, t := range targets {
		if v.shortfall(alloc, t) > before[i] {
			return true
		}
	}
	return false
}
