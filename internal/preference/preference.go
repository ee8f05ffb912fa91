// Package preference turns a score matrix into strictly ordered preference
// lists for both sides of the market.
//
// Ties on the composite score are broken by ascending counterpart id and then by
// ascending pair-insertion index, so every list is a strict total order and the
// matching built on top of it is reproducible.
package preference

import (
	"cmp"
	"slices"

	"github.com/spigell/allocator/internal/scoring"
)

// Lists holds the preference list of every candidate and every opportunity.
// Lists are rebuilt from scores, never edited in place.
type Lists struct {
	Candidates    map[string][]string
	Opportunities map[string][]string

	candidateRank   map[string]map[string]int
	opportunityRank map[string]map[string]int
}

// Build derives both sides' lists. When minScore is positive, pairs scoring
// below it are dropped from both lists.
func Build(m *scoring.Matrix, minScore float64) *Lists {
	byCandidate := make(map[string][]scoring.PairScore, len(m.CandidateIDs))
	byOpportunity := make(map[string][]scoring.PairScore, len(m.OpportunityIDs))

	for _, p := range m.Pairs {
		if minScore > 0 && p.Composite < minScore {
			continue
		}
		byCandidate[p.CandidateID] = append(byCandidate[p.CandidateID], p)
		byOpportunity[p.OpportunityID] = append(byOpportunity[p.OpportunityID], p)
	}

	candidates := make(map[string][]string, len(m.CandidateIDs))
	for _, id := range m.CandidateIDs {
		pairs := byCandidate[id]
		slices.SortFunc(pairs, func(a, b scoring.PairScore) int {
			return compare(a, b, a.OpportunityID, b.OpportunityID)
		})
		list := make([]string, len(pairs))
		for i, p := range pairs {
			list[i] = p.OpportunityID
		}
		candidates[id] = list
	}

	opportunities := make(map[string][]string, len(m.OpportunityIDs))
	for _, id := range m.OpportunityIDs {
		pairs := byOpportunity[id]
		slices.SortFunc(pairs, func(a, b scoring.PairScore) int {
			return compare(a, b, a.CandidateID, b.CandidateID)
		})
		list := make([]string, len(pairs))
		for i, p := range pairs {
			list[i] = p.CandidateID
		}
		opportunities[id] = list
	}

	return New(candidates, opportunities)
}

// compare orders by descending composite, ascending counterpart id, ascending index.
func compare(a, b scoring.PairScore, idA, idB string) int {
	if c := cmp.Compare(b.Composite, a.Composite); c != 0 {
		return c
	}
	if c := cmp.Compare(idA, idB); c != 0 {
		return c
	}
	return cmp.Compare(a.Index, b.Index)
}

// New wraps explicit preference orders. The maps are owned by the returned Lists.
func New(candidates, opportunities map[string][]string) *Lists {
	return &Lists{
		Candidates:      candidates,
		Opportunities:   opportunities,
		candidateRank:   ranks(candidates),
		opportunityRank: ranks(opportunities),
	}
}

func ranks(lists map[string][]string) map[string]map[string]int {
	out := make(map[string]map[string]int, len(lists))
	for owner, list := range lists {
		r := make(map[string]int, len(list))
		for i, id := range list {
			r[id] = i
		}
		out[owner] = r
	}
	return out
}

// CandidateRank is the position of the opportunity in the candidate's list.
func (l *Lists) CandidateRank(candidateID, opportunityID string) (int, bool) {
	r, ok := l.candidateRank[candidateID][opportunityID]
	return r, ok
}

// OpportunityRank is the position of the candidate in the opportunity's list.
func (l *Lists) OpportunityRank(opportunityID, candidateID string) (int, bool) {
	r, ok := l.opportunityRank[opportunityID][candidateID]
	return r, ok
}

// CandidatePrefers reports whether the candidate strictly prefers a to b.
// A listed opportunity is preferred to an unlisted one; b == "" means unmatched.
func (l *Lists) CandidatePrefers(candidateID, a, b string) bool {
	ra, okA := l.CandidateRank(candidateID, a)
	if !okA {
		return false
	}
	if b == "" {
		return true
	}
	rb, okB := l.CandidateRank(candidateID, b)
	return !okB || ra < rb
}

// OpportunityPrefers reports whether the opportunity strictly prefers candidate a to b.
func (l *Lists) OpportunityPrefers(opportunityID, a, b string) bool {
	ra, okA := l.OpportunityRank(opportunityID, a)
	if !okA {
		return false
	}
	rb, okB := l.OpportunityRank(opportunityID, b)
	return !okB || ra < rb
}

// Sizes returns the total number of entries on each side.
func (l *Lists) Sizes() (candidateEntries, opportunityEntries int) {
	for _, list := range l.Candidates {
		candidateEntries += len(list)
	}
	for _, list := range l.Opportunities {
		opportunityEntries += len(list)
	}
	return candidateEntries, opportunityEntries
}
