package scoring

import "math"

type pairKey struct {
	candidate   string
	opportunity string
}

// Matrix holds every scored pair in candidate-major input order. It is read-only
// once built.
type Matrix struct {
	CandidateIDs   []string
	OpportunityIDs []string
	Pairs          []PairScore

	index map[pairKey]int
}

// NewMatrix indexes pairs and stamps each with its insertion position.
func NewMatrix(candidateIDs, opportunityIDs []string, pairs []PairScore) *Matrix {
	m := &Matrix{
		CandidateIDs:   candidateIDs,
		OpportunityIDs: opportunityIDs,
		Pairs:          pairs,
		index:          make(map[pairKey]int, len(pairs)),
	}
	for i := range m.Pairs {
		m.Pairs[i].Index = i
		m.index[pairKey{m.Pairs[i].CandidateID, m.Pairs[i].OpportunityID}] = i
	}
	return m
}

func (m *Matrix) Len() int {
	return len(m.Pairs)
}

// Get returns the score of a pair.
func (m *Matrix) Get(candidateID, opportunityID string) (PairScore, bool) {
	i, ok := m.index[pairKey{candidateID, opportunityID}]
	if !ok {
		return PairScore{}, false
	}
	return m.Pairs[i], true
}

// Composite returns the composite score of a pair, or 0 when the pair is unknown.
func (m *Matrix) Composite(candidateID, opportunityID string) float64 {
	ps, _ := m.Get(candidateID, opportunityID)
	return ps.Composite
}

// Summary describes the distribution of composite scores.
type Summary struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
}

func (m *Matrix) Summary() Summary {
	if len(m.Pairs) == 0 {
		return Summary{}
	}
	s := Summary{Min: math.Inf(1), Max: math.Inf(-1)}
	total := 0.0
	for _, p := range m.Pairs {
		s.Min = math.Min(s.Min, p.Composite)
		s.Max = math.Max(s.Max, p.Composite)
		total += p.Composite
	}
	s.Mean = total / float64(len(m.Pairs))
	return s
}
