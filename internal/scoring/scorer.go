package scoring

import (
	"context"
	"errors"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/spigell/allocator/internal/profile"
)

var (
	ErrMissingEmbedding  = errors.New("embedding is missing")
	ErrDimensionMismatch = errors.New("embedding dimensions differ")
)

// PairScore is the composite compatibility of one candidate with one opportunity.
type PairScore struct {
	CandidateID   string  `json:"candidate_id"`
	OpportunityID string  `json:"opportunity_id"`
	Composite     float64 `json:"composite"`
	Semantic      float64 `json:"semantic"`
	Overlap       float64 `json:"overlap"`
	Strength      float64 `json:"strength"`
	Bonus         float64 `json:"bonus"`
	// Index is the pair-insertion position in the matrix, the last tie-break.
	Index int `json:"-"`
}

// Scorer computes PairScores. It is safe for concurrent use.
type Scorer struct {
	weights  Weights
	bonuses  map[string]float64
	bonusCap float64
	workers  int
}

func New(cfg Config) (*Scorer, error) {
	if err := cfg.Weights.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Bonuses.Validate(); err != nil {
		return nil, err
	}

	bonuses := make(map[string]float64, len(cfg.Bonuses.PerLabel))
	for label, v := range cfg.Bonuses.PerLabel {
		bonuses[profile.NormalizeToken(label)] = v
	}

	return &Scorer{
		weights:  cfg.Weights,
		bonuses:  bonuses,
		bonusCap: cfg.Bonuses.Cap,
		workers:  cfg.workers(),
	}, nil
}

// Score is a pure function of its inputs and the scorer configuration.
func (s *Scorer) Score(c *profile.Candidate, o *profile.Opportunity) (PairScore, error) {
	semantic, err := Cosine(c.Embedding, o.Embedding)
	if err != nil {
		return PairScore{}, fmt.Errorf("candidate %q, opportunity %q: %w", c.ID, o.ID, err)
	}

	ps := PairScore{
		CandidateID:   c.ID,
		OpportunityID: o.ID,
		Semantic:      clamp01(semantic),
		Overlap:       Jaccard(c.Skills, o.RequiredSkills),
		Strength:      clamp01(c.SkillStrength),
		Bonus:         s.Bonus(c.QuotaTags),
	}
	ps.Composite = clamp01(s.weights.Semantic*ps.Semantic +
		s.weights.Overlap*ps.Overlap +
		s.weights.Strength*ps.Strength +
		s.weights.Bonus*ps.Bonus)

	return ps, nil
}

// Bonus sums the per-label bonuses of the tags, capped. Tags are summed in
// sorted order so the floating-point result never depends on input order.
func (s *Scorer) Bonus(tags []string) float64 {
	normalized := profile.NormalizeTokens(tags)
	total := 0.0
	for _, tag := range normalized {
		total += s.bonuses[tag]
	}
	return math.Min(total, s.bonusCap)
}

// ScoreAll scores the full cross product in parallel. Rows are written into
// fixed slots, so the result does not depend on scheduling.
func (s *Scorer) ScoreAll(ctx context.Context, candidates *profile.Candidates, opportunities *profile.Opportunities) (*Matrix, error) {
	nOpp := opportunities.Len()
	pairs := make([]PairScore, candidates.Len()*nOpp)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for i, c := range candidates.Items {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			for j, o := range opportunities.Items {
				ps, err := s.Score(c, o)
				if err != nil {
					return err
				}
				pairs[i*nOpp+j] = ps
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return NewMatrix(candidates.IDs(), opportunities.IDs(), pairs), nil
}

// Cosine returns the cosine similarity of a and b. A zero-norm vector has no
// direction and yields 0.
func Cosine(a, b []float64) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, ErrMissingEmbedding
	}
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}

	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}

// Jaccard returns |a∩b| / |a∪b| over the de-duplicated token sets, 0 when both are empty.
func Jaccard(a, b []string) float64 {
	setA := make(map[string]struct{}, len(a))
	for _, t := range a {
		setA[t] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, t := range b {
		setB[t] = struct{}{}
	}

	if len(setA) == 0 && len(setB) == 0 {
		return 0
	}

	inter := 0
	for t := range setB {
		if _, ok := setA[t]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(setA)+len(setB)-inter)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
