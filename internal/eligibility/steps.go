package eligibility

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/allocator/internal/profile"
)

type excludedCandidatesFilter struct {
	toggle
	ids []string
}

// NewExcludedCandidates creates a filter that removes candidates listed in the config.
func NewExcludedCandidates() Filter {
	return &excludedCandidatesFilter{}
}

func (f *excludedCandidatesFilter) Name() string { return "excluded_candidates" }

func (f *excludedCandidatesFilter) Validate(cfg *Config) error {
	f.ids = nil
	if cfg != nil {
		for _, id := range cfg.ExcludedCandidates {
			if id = strings.TrimSpace(id); id != "" {
				f.ids = append(f.ids, id)
			}
		}
	}
	return nil
}

func (f *excludedCandidatesFilter) Apply(_ context.Context, deps Deps, p *Pool) (Step, error) {
	initial := p.Candidates.Len()
	if len(f.ids) == 0 {
		return Step{Initial: initial, Dropped: 0, Left: initial}, nil
	}

	removed := p.excludeCandidates(f.ids, "excluded by configuration")
	if len(removed) > 0 {
		deps.Logger.Info("excluding candidates listed in configuration",
			zap.Strings("excluded_candidates", removed),
			zap.Int("candidates_left", p.Candidates.Len()),
		)
	}

	return Step{Initial: initial, Dropped: len(removed), Left: p.Candidates.Len()}, nil
}

func (f *excludedCandidatesFilter) Status() Status {
	details := map[string]string{}
	if len(f.ids) > 0 {
		details["candidates"] = strings.Join(f.ids, ",")
	}
	return Status{Name: f.Name(), Enabled: f.IsEnabled(), Reason: f.reason, Details: details}
}

type excludeFileFilter struct {
	toggle
	path string
}

// NewExcludeFile creates a filter that removes candidates contained in an exclude file.
func NewExcludeFile() Filter {
	return &excludeFileFilter{}
}

func (f *excludeFileFilter) Name() string { return "exclude_file" }

func (f *excludeFileFilter) Validate(cfg *Config) error {
	f.path = ""
	if cfg != nil {
		f.path = strings.TrimSpace(cfg.ExcludeFile)
	}
	return nil
}

func (f *excludeFileFilter) Apply(_ context.Context, deps Deps, p *Pool) (Step, error) {
	initial := p.Candidates.Len()
	if f.path == "" {
		return Step{Initial: initial, Dropped: 0, Left: initial}, nil
	}

	list, err := profile.ReadExcludeFile(f.path)
	if err != nil {
		return Step{}, fmt.Errorf("getting excluded candidates from file: %w", err)
	}

	var removed []string
	for _, item := range list.Items {
		reason := "listed in exclude file"
		if r := strings.TrimSpace(item.Reason); r != "" {
			reason = r
		}
		removed = append(removed, p.excludeCandidates([]string{item.ID}, reason)...)
	}
	if len(removed) > 0 {
		deps.Logger.Info("excluding candidates based on exclude file",
			zap.String("path", f.path),
			zap.Strings("excluded_candidates", removed),
			zap.Int("candidates_left", p.Candidates.Len()),
		)
	}

	return Step{Initial: initial, Dropped: len(removed), Left: p.Candidates.Len()}, nil
}

func (f *excludeFileFilter) Status() Status {
	details := map[string]string{}
	if f.path != "" {
		details["path"] = f.path
	}
	return Status{Name: f.Name(), Enabled: f.IsEnabled(), Reason: f.reason, Details: details}
}

type ageRangeFilter struct {
	toggle
	min, max int
}

// NewAgeRange creates a filter that removes candidates outside the configured
// age range. Candidates with unknown age pass.
func NewAgeRange() Filter {
	return &ageRangeFilter{}
}

func (f *ageRangeFilter) Name() string { return "age_range" }

func (f *ageRangeFilter) Validate(cfg *Config) error {
	f.min, f.max = 0, 0
	if cfg == nil {
		return nil
	}
	if cfg.MinAge < 0 || cfg.MaxAge < 0 {
		return errors.New("age bounds must not be negative")
	}
	if cfg.MaxAge > 0 && cfg.MinAge > cfg.MaxAge {
		return fmt.Errorf("min age %d is above max age %d", cfg.MinAge, cfg.MaxAge)
	}
	f.min, f.max = cfg.MinAge, cfg.MaxAge
	return nil
}

func (f *ageRangeFilter) Apply(_ context.Context, deps Deps, p *Pool) (Step, error) {
	initial := p.Candidates.Len()
	if f.min == 0 && f.max == 0 {
		return Step{Initial: initial, Dropped: 0, Left: initial}, nil
	}

	var out []string
	for _, c := range p.Candidates.Items {
		if c.Age == 0 {
			continue
		}
		if c.Age < f.min || (f.max > 0 && c.Age > f.max) {
			out = append(out, c.ID)
		}
	}

	removed := p.excludeCandidates(out, "age out of range")
	if len(removed) > 0 {
		deps.Logger.Info("excluding candidates outside the age range",
			zap.Int("min_age", f.min),
			zap.Int("max_age", f.max),
			zap.Strings("excluded_candidates", removed),
			zap.Int("candidates_left", p.Candidates.Len()),
		)
	}

	return Step{Initial: initial, Dropped: len(removed), Left: p.Candidates.Len()}, nil
}

func (f *ageRangeFilter) Status() Status {
	details := map[string]string{}
	if f.min > 0 {
		details["min_age"] = strconv.Itoa(f.min)
	}
	if f.max > 0 {
		details["max_age"] = strconv.Itoa(f.max)
	}
	return Status{Name: f.Name(), Enabled: f.IsEnabled(), Reason: f.reason, Details: details}
}

type signalsFilter struct {
	toggle
	policy Policy
}

// NewSignals creates the step enforcing the missing-signal policy on both sides.
// It must run after embeddings are resolved.
func NewSignals() Filter {
	return &signalsFilter{}
}

func (f *signalsFilter) Name() string { return "signals" }

func (f *signalsFilter) Validate(cfg *Config) error {
	f.policy = PolicyAbort
	if cfg == nil || cfg.OnMissing == "" {
		return nil
	}
	switch cfg.OnMissing {
	case PolicyAbort, PolicyExclude:
		f.policy = cfg.OnMissing
		return nil
	default:
		return fmt.Errorf("unknown missing-signal policy %q", cfg.OnMissing)
	}
}

func (f *signalsFilter) Apply(_ context.Context, deps Deps, p *Pool) (Step, error) {
	initial := p.size()

	var errs []error
	var candidates, opportunities []string
	reasons := map[string]string{}

	for _, c := range p.Candidates.Items {
		missing := c.MissingSignals()
		for _, s := range missing {
			errs = append(errs, &profile.SignalError{Entity: profile.EntityCandidate, ID: c.ID, Signal: s})
		}
		if len(missing) > 0 {
			candidates = append(candidates, c.ID)
			reasons[profile.EntityCandidate+"/"+c.ID] = "missing " + strings.Join(missing, ", ")
		}
	}
	for _, o := range p.Opportunities.Items {
		missing := o.MissingSignals()
		for _, s := range missing {
			errs = append(errs, &profile.SignalError{Entity: profile.EntityOpportunity, ID: o.ID, Signal: s})
		}
		if len(missing) > 0 {
			opportunities = append(opportunities, o.ID)
			reasons[profile.EntityOpportunity+"/"+o.ID] = "missing " + strings.Join(missing, ", ")
		}
	}

	if len(errs) > 0 && f.policy == PolicyAbort {
		return Step{}, errors.Join(errs...)
	}

	dropped := 0
	for _, id := range candidates {
		dropped += len(p.excludeCandidates([]string{id}, reasons[profile.EntityCandidate+"/"+id]))
	}
	for _, id := range opportunities {
		dropped += len(p.excludeOpportunities([]string{id}, reasons[profile.EntityOpportunity+"/"+id]))
	}
	if dropped > 0 {
		deps.Logger.Warn("excluding entities with missing signals",
			zap.Strings("excluded_candidates", candidates),
			zap.Strings("excluded_opportunities", opportunities),
		)
	}

	return Step{Initial: initial, Dropped: dropped, Left: p.size()}, nil
}

func (f *signalsFilter) Status() Status {
	return Status{
		Name:    f.Name(),
		Enabled: f.IsEnabled(),
		Reason:  f.reason,
		Details: map[string]string{"on_missing": string(f.policy)},
	}
}
