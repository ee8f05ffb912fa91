// Package eligibility narrows the candidate and opportunity pools before scoring.
package eligibility

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spigell/allocator/internal/profile"
)

// Filter represents a single eligibility step applied to the pool.
type Filter interface {
	Name() string
	Disable(reason string)
	IsEnabled() bool

	Validate(cfg *Config) error
	Apply(ctx context.Context, deps Deps, p *Pool) (Step, error)
}

// Deps aggregates dependencies shared across all steps.
type Deps struct {
	Logger *zap.Logger
}

type Policy string

const (
	PolicyAbort   Policy = "abort"
	PolicyExclude Policy = "exclude"
)

// Config contains settings consumed by the filters.
type Config struct {
	OnMissing          Policy   `mapstructure:"on-missing"`
	MinAge             int      `mapstructure:"min-age"`
	MaxAge             int      `mapstructure:"max-age"`
	ExcludedCandidates []string `mapstructure:"excluded-candidates"`
	ExcludeFile        string   `mapstructure:"exclude-file"`
}

// Step describes the result of executing a step.
type Step struct {
	Initial int
	Dropped int
	Left    int
}

// Exclusion is an entity dropped by a step.
type Exclusion struct {
	Entity string
	ID     string
	Reason string
}

// Pool is the working set the filters narrow. Filters remove entities in
// place; callers hand in a clone of the loaded snapshot.
type Pool struct {
	Candidates    *profile.Candidates
	Opportunities *profile.Opportunities
	Excluded      []Exclusion
}

func (p *Pool) size() int {
	return p.Candidates.Len() + p.Opportunities.Len()
}

func (p *Pool) excludeCandidates(ids []string, reason string) []string {
	removed := p.Candidates.Exclude(ids)
	for _, id := range removed {
		p.Excluded = append(p.Excluded, Exclusion{Entity: profile.EntityCandidate, ID: id, Reason: reason})
	}
	return removed
}

func (p *Pool) excludeOpportunities(ids []string, reason string) []string {
	removed := p.Opportunities.Exclude(ids)
	for _, id := range removed {
		p.Excluded = append(p.Excluded, Exclusion{Entity: profile.EntityOpportunity, ID: id, Reason: reason})
	}
	return removed
}

// Status represents runtime information about a filter.
type Status struct {
	Name    string
	Enabled bool
	Reason  string
	Details map[string]string
}

type statusProvider interface {
	Status() Status
}

// DefaultSteps returns the chain in the order it runs.
func DefaultSteps() []Filter {
	return []Filter{
		NewExcludedCandidates(),
		NewExcludeFile(),
		NewAgeRange(),
		NewSignals(),
	}
}

// DisableByName marks a filter with the provided name as disabled while keeping it in the list.
func DisableByName(steps []Filter, name, reason string) {
	for _, step := range steps {
		if step.Name() == name {
			step.Disable(reason)
		}
	}
}

// Run validates every enabled step and then applies them in order.
func Run(ctx context.Context, cfg *Config, deps Deps, steps []Filter, p *Pool) error {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	for _, step := range steps {
		if !step.IsEnabled() {
			continue
		}
		if err := step.Validate(cfg); err != nil {
			return fmt.Errorf("%s: %w", step.Name(), err)
		}
	}

	for _, step := range steps {
		if !step.IsEnabled() {
			deps.Logger.Info("filter disabled", zap.String("name", step.Name()))
			continue
		}

		info, err := step.Apply(ctx, deps, p)
		if err != nil {
			return fmt.Errorf("%s: %w", step.Name(), err)
		}

		deps.Logger.Info("filter step",
			zap.String("name", step.Name()),
			zap.Int("initial", info.Initial),
			zap.Int("dropped", info.Dropped),
			zap.Int("left", info.Left),
		)
	}

	return nil
}

// Describe returns status entries for the provided filters.
func Describe(steps []Filter) []Status {
	statuses := make([]Status, 0, len(steps))
	for _, step := range steps {
		if reporter, ok := step.(statusProvider); ok {
			statuses = append(statuses, reporter.Status())
			continue
		}

		statuses = append(statuses, Status{
			Name:    step.Name(),
			Enabled: step.IsEnabled(),
		})
	}
	return statuses
}

// toggle carries the enabled state shared by every filter.
type toggle struct {
	disabled bool
	reason   string
}

func (t *toggle) Disable(reason string) {
	t.disabled = true
	t.reason = reason
}

func (t *toggle) IsEnabled() bool { return !t.disabled }
