package matching

import (
	"fmt"
	"maps"
	"slices"
)

// Unmatched reasons.
const (
	ReasonExhausted = "preference list exhausted"
	ReasonDisplaced = "displaced by quota reconciliation"
)

type Stage string

const (
	StageStable     Stage = "stable"
	StageReconciled Stage = "reconciled"
)

// Opening is an opportunity as seen by the matcher.
type Opening struct {
	ID       string
	Capacity int
}

type Match struct {
	CandidateID   string
	OpportunityID string
}

type Unmatched struct {
	CandidateID string
	Reason      string
}

// Allocation is the outcome of a matching stage. Values returned by Match or by
// a reconciler are treated as read-only; derive a new one with Clone.
type Allocation struct {
	Stage Stage

	CandidateIDs   []string
	OpportunityIDs []string
	Capacity       map[string]int

	// Held lists each opportunity's candidates in ascending id order.
	Held map[string][]string
	// Holder maps a matched candidate to its opportunity.
	Holder map[string]string
	// Reasons maps an unmatched candidate to why it is unmatched.
	Reasons map[string]string

	Rounds    int
	Proposals int
}

func newAllocation(candidateIDs []string, openings []Opening) *Allocation {
	a := &Allocation{
		Stage:          StageStable,
		CandidateIDs:   slices.Clone(candidateIDs),
		OpportunityIDs: make([]string, 0, len(openings)),
		Capacity:       make(map[string]int, len(openings)),
		Held:           make(map[string][]string, len(openings)),
		Holder:         make(map[string]string, len(candidateIDs)),
		Reasons:        make(map[string]string),
	}
	for _, o := range openings {
		a.OpportunityIDs = append(a.OpportunityIDs, o.ID)
		a.Capacity[o.ID] = o.Capacity
		a.Held[o.ID] = []string{}
	}
	return a
}

// Clone returns a deep copy.
func (a *Allocation) Clone() *Allocation {
	out := &Allocation{
		Stage:          a.Stage,
		CandidateIDs:   slices.Clone(a.CandidateIDs),
		OpportunityIDs: slices.Clone(a.OpportunityIDs),
		Capacity:       maps.Clone(a.Capacity),
		Held:           make(map[string][]string, len(a.Held)),
		Holder:         maps.Clone(a.Holder),
		Reasons:        maps.Clone(a.Reasons),
		Rounds:         a.Rounds,
		Proposals:      a.Proposals,
	}
	for o, held := range a.Held {
		out.Held[o] = slices.Clone(held)
	}
	return out
}

func (a *Allocation) HolderOf(candidateID string) (string, bool) {
	o, ok := a.Holder[candidateID]
	return o, ok
}

func (a *Allocation) Spare(opportunityID string) int {
	return a.Capacity[opportunityID] - len(a.Held[opportunityID])
}

// Assign moves the candidate to the opportunity, releasing any previous holder.
// It must only be called on a value obtained from Clone.
func (a *Allocation) Assign(candidateID, opportunityID string) {
	a.release(candidateID)
	held := a.Held[opportunityID]
	i, _ := slices.BinarySearch(held, candidateID)
	a.Held[opportunityID] = slices.Insert(held, i, candidateID)
	a.Holder[candidateID] = opportunityID
	delete(a.Reasons, candidateID)
}

// Unassign releases the candidate and records why it is unmatched.
// It must only be called on a value obtained from Clone.
func (a *Allocation) Unassign(candidateID, reason string) {
	a.release(candidateID)
	a.Reasons[candidateID] = reason
}

func (a *Allocation) release(candidateID string) {
	o, ok := a.Holder[candidateID]
	if !ok {
		return
	}
	held := a.Held[o]
	if i, found := slices.BinarySearch(held, candidateID); found {
		a.Held[o] = slices.Delete(held, i, i+1)
	}
	delete(a.Holder, candidateID)
}

// Matches returns every matched pair ordered by candidate id.
func (a *Allocation) Matches() []Match {
	out := make([]Match, 0, len(a.Holder))
	for _, c := range slices.Sorted(maps.Keys(a.Holder)) {
		out = append(out, Match{CandidateID: c, OpportunityID: a.Holder[c]})
	}
	return out
}

// Unmatched returns every unmatched candidate ordered by id.
func (a *Allocation) Unmatched() []Unmatched {
	out := make([]Unmatched, 0, len(a.Reasons))
	for _, c := range slices.Sorted(maps.Keys(a.Reasons)) {
		out = append(out, Unmatched{CandidateID: c, Reason: a.Reasons[c]})
	}
	return out
}

// CheckCapacity returns a CapacityError for the first opportunity, in id order,
// holding more than its capacity.
func (a *Allocation) CheckCapacity() error {
	for _, o := range slices.Sorted(maps.Keys(a.Held)) {
		if n := len(a.Held[o]); n > a.Capacity[o] {
			return &CapacityError{OpportunityID: o, Held: n, Capacity: a.Capacity[o]}
		}
	}
	return nil
}

func (a *Allocation) String() string {
	return fmt.Sprintf("%s allocation: %d matched, %d unmatched", a.Stage, len(a.Holder), len(a.Reasons))
}
