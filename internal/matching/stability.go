package matching

import (
	"slices"

	"github.com/spigell/allocator/internal/preference"
)

// BlockingPair is a candidate and an opportunity that would both rather be
// matched to each other than keep their current outcome.
type BlockingPair struct {
	CandidateID   string `json:"candidate_id"`
	OpportunityID string `json:"opportunity_id"`
}

// BlockingPairs lists every blocking pair of the allocation, in candidate id
// order and then in the candidate's preference order. A stable allocation has none.
func BlockingPairs(alloc *Allocation, lists *preference.Lists) []BlockingPair {
	var out []BlockingPair
	for _, c := range slices.Sorted(slices.Values(alloc.CandidateIDs)) {
		current, _ := alloc.HolderOf(c)
		for _, o := range lists.Candidates[c] {
			if o == current {
				break
			}
			if !lists.CandidatePrefers(c, o, current) {
				continue
			}
			if _, listed := lists.OpportunityRank(o, c); !listed {
				continue
			}
			capacity, known := alloc.Capacity[o]
			if !known {
				continue
			}
			if len(alloc.Held[o]) < capacity || prefersToWorst(alloc, lists, o, c) {
				out = append(out, BlockingPair{CandidateID: c, OpportunityID: o})
			}
		}
	}
	return out
}

// prefersToWorst reports whether o ranks c above its least preferred holder.
func prefersToWorst(alloc *Allocation, lists *preference.Lists, o, c string) bool {
	held := alloc.Held[o]
	if len(held) == 0 {
		return false
	}
	worst, worstRank := "", -1
	for _, h := range held {
		r, ok := lists.OpportunityRank(o, h)
		if !ok {
			// An unlisted holder is worse than any listed candidate.
			return true
		}
		if r > worstRank {
			worst, worstRank = h, r
		}
	}
	return lists.OpportunityPrefers(o, c, worst)
}
