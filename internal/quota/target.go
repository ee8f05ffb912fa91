// Package quota measures and nudges representation targets on a matched set.
package quota

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/spigell/allocator/internal/profile"
)

var ErrInvalidTarget = errors.New("invalid quota target")

type Scope string

const (
	ScopeGlobal      Scope = "global"
	ScopeOpportunity Scope = "opportunity"
)

// Target is a minimum representation requirement for one label. Exactly one
// of Fraction and Count is set. A per-opportunity target without an
// opportunity id applies to every opportunity.
type Target struct {
	Label         string  `mapstructure:"label" json:"label"`
	Fraction      float64 `mapstructure:"fraction" json:"fraction,omitempty"`
	Count         int     `mapstructure:"count" json:"count,omitempty"`
	Scope         Scope   `mapstructure:"scope" json:"scope"`
	OpportunityID string  `mapstructure:"opportunity" json:"opportunity,omitempty"`
}

func (t Target) Validate() error {
	if profile.NormalizeToken(t.Label) == "" {
		return fmt.Errorf("%w: empty label", ErrInvalidTarget)
	}
	switch t.Scope {
	case "", ScopeGlobal:
		if t.OpportunityID != "" {
			return fmt.Errorf("%w: %s: global target names opportunity %q", ErrInvalidTarget, t.Label, t.OpportunityID)
		}
	case ScopeOpportunity:
	default:
		return fmt.Errorf("%w: %s: unknown scope %q", ErrInvalidTarget, t.Label, t.Scope)
	}
	switch {
	case t.Fraction != 0 && t.Count != 0:
		return fmt.Errorf("%w: %s: both fraction and count set", ErrInvalidTarget, t.Label)
	case t.Count < 0:
		return fmt.Errorf("%w: %s: negative count", ErrInvalidTarget, t.Label)
	case t.Count == 0 && (math.IsNaN(t.Fraction) || t.Fraction <= 0 || t.Fraction > 1):
		return fmt.Errorf("%w: %s: fraction must be in (0,1], got %v", ErrInvalidTarget, t.Label, t.Fraction)
	}
	return nil
}

// Required is the number of tagged matches the target asks for when matched
// candidates are in scope. Fractions round up.
func (t Target) Required(matched int) int {
	if t.Count > 0 {
		return t.Count
	}
	return int(math.Ceil(t.Fraction*float64(matched) - 1e-9))
}

func (t Target) normalized() Target {
	t.Label = profile.NormalizeToken(t.Label)
	if t.Scope == "" {
		t.Scope = ScopeGlobal
	}
	return t
}

// Expand normalizes targets, fans per-opportunity targets without an id out to
// every opportunity, and sorts by label, scope, then opportunity.
func Expand(targets []Target, opportunityIDs []string) ([]Target, error) {
	known := make(map[string]struct{}, len(opportunityIDs))
	for _, id := range opportunityIDs {
		known[id] = struct{}{}
	}

	var out []Target
	for _, t := range targets {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		t = t.normalized()
		switch {
		case t.Scope == ScopeOpportunity && t.OpportunityID == "":
			for _, id := range opportunityIDs {
				each := t
				each.OpportunityID = id
				out = append(out, each)
			}
		case t.Scope == ScopeOpportunity:
			if _, ok := known[t.OpportunityID]; !ok {
				return nil, fmt.Errorf("%w: %s: unknown opportunity %q", ErrInvalidTarget, t.Label, t.OpportunityID)
			}
			out = append(out, t)
		default:
			out = append(out, t)
		}
	}

	slices.SortStableFunc(out, func(a, b Target) int {
		return cmp.Or(
			cmp.Compare(a.Label, b.Label),
			cmp.Compare(a.Scope, b.Scope),
			cmp.Compare(a.OpportunityID, b.OpportunityID),
		)
	})
	return out, nil
}
