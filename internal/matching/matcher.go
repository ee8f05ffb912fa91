// Package matching implements capacitated, candidate-proposing deferred
// acceptance over strict preference lists.
package matching

import (
	"context"
	"maps"
	"runtime"
	"slices"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spigell/allocator/internal/preference"
)

// Config bounds a matching run.
type Config struct {
	Workers int `mapstructure:"workers"`
	// MaxRounds overrides the |candidates|×|opportunities| round bound when positive.
	MaxRounds int `mapstructure:"max-rounds"`
	// Budget is the wall-clock limit for the run; zero disables it.
	Budget time.Duration `mapstructure:"budget"`
}

type Matcher struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

func New(cfg Config, logger *zap.Logger) *Matcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	return &Matcher{cfg: cfg, logger: logger, now: time.Now}
}

type verdict struct {
	opportunity string
	kept        []string
	rejected    []string
}

// Match runs deferred acceptance to its terminal state. The matcher owns all
// intermediate state; only the finished Allocation is returned.
func (m *Matcher) Match(ctx context.Context, candidateIDs []string, openings []Opening, lists *preference.Lists) (*Allocation, error) {
	alloc := newAllocation(candidateIDs, openings)

	bound := m.cfg.MaxRounds
	if bound <= 0 {
		bound = max(len(candidateIDs)*len(openings), 1)
	}

	cursor := make(map[string]int, len(candidateIDs))
	// ranked keeps every opportunity's held set in its own preference order.
	ranked := make(map[string][]string, len(openings))

	free := make([]string, 0, len(candidateIDs))
	for _, c := range candidateIDs {
		if len(lists.Candidates[c]) == 0 {
			alloc.Reasons[c] = ReasonExhausted
			continue
		}
		free = append(free, c)
	}

	start := m.now()
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if m.cfg.Budget > 0 {
			if elapsed := m.now().Sub(start); elapsed > m.cfg.Budget {
				return nil, &ConvergenceError{Rounds: alloc.Rounds, Bound: bound, Elapsed: elapsed, Budget: m.cfg.Budget}
			}
		}

		proposals := make(map[string][]string)
		count := 0
		for _, c := range free {
			list := lists.Candidates[c]
			o := list[cursor[c]]
			cursor[c]++
			proposals[o] = append(proposals[o], c)
			count++
		}
		if count == 0 {
			break
		}

		alloc.Rounds++
		if alloc.Rounds > bound {
			return nil, &ConvergenceError{Rounds: alloc.Rounds, Bound: bound}
		}
		alloc.Proposals += count

		targets := slices.Sorted(maps.Keys(proposals))
		verdicts := make([]verdict, len(targets))

		g, _ := errgroup.WithContext(ctx)
		g.SetLimit(m.cfg.Workers)
		for i, o := range targets {
			g.Go(func() error {
				verdicts[i] = adjudicate(o, alloc.Capacity[o], ranked[o], proposals[o], lists)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		if err := checkHeld(alloc.Capacity, verdicts); err != nil {
			return nil, err
		}

		free = free[:0]
		rejectedTotal := 0
		for _, v := range verdicts {
			ranked[v.opportunity] = v.kept
			for _, c := range v.kept {
				alloc.Holder[c] = v.opportunity
			}
			for _, c := range v.rejected {
				delete(alloc.Holder, c)
				rejectedTotal++
				if cursor[c] >= len(lists.Candidates[c]) {
					alloc.Reasons[c] = ReasonExhausted
					continue
				}
				free = append(free, c)
			}
		}

		m.logger.Debug("matching round",
			zap.Int("round", alloc.Rounds),
			zap.Int("proposals", count),
			zap.Int("rejected", rejectedTotal),
			zap.Int("free", len(free)),
		)
	}

	for o, held := range ranked {
		alloc.Held[o] = slices.Sorted(slices.Values(held))
	}
	if err := alloc.CheckCapacity(); err != nil {
		return nil, err
	}

	m.logger.Info("matching finished",
		zap.Int("rounds", alloc.Rounds),
		zap.Int("proposals", alloc.Proposals),
		zap.Int("matched", len(alloc.Holder)),
		zap.Int("unmatched", len(alloc.Reasons)),
	)

	return alloc, nil
}

// adjudicate merges the held set with new proposals and keeps the best
// capacity candidates by the opportunity's list. Proposers the opportunity
// does not list are rejected outright.
func adjudicate(o string, capacity int, held, proposed []string, lists *preference.Lists) verdict {
	v := verdict{opportunity: o}

	pool := slices.Clone(held)
	for _, c := range proposed {
		if _, ok := lists.OpportunityRank(o, c); !ok {
			v.rejected = append(v.rejected, c)
			continue
		}
		pool = append(pool, c)
	}
	slices.SortFunc(pool, func(a, b string) int {
		ra, _ := lists.OpportunityRank(o, a)
		rb, _ := lists.OpportunityRank(o, b)
		return ra - rb
	})

	keep := min(max(capacity, 0), len(pool))
	v.kept = pool[:keep:keep]
	v.rejected = append(v.rejected, pool[keep:]...)
	return v
}

// checkHeld verifies the held sets of one round against capacity before they
// are merged into the allocation.
func checkHeld(capacity map[string]int, verdicts []verdict) error {
	for _, v := range verdicts {
		if n := len(v.kept); n > capacity[v.opportunity] {
			return &CapacityError{OpportunityID: v.opportunity, Held: n, Capacity: capacity[v.opportunity]}
		}
	}
	return nil
}
