package profile

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrSignalUnavailable = errors.New("upstream signal unavailable")
)

// Entity kinds used in error and diagnostic messages.
const (
	EntityCandidate   = "candidate"
	EntityOpportunity = "opportunity"
)

// Signal names reported when an upstream signal is missing.
const (
	SignalEmbedding = "embedding"
	SignalSkills    = "skills"
)

// ValidationError describes one malformed record.
type ValidationError struct {
	Entity string
	ID     string
	Field  string
	Msg    string
}

func (e *ValidationError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s: %s %s: %s", ErrInvalidInput, e.Entity, e.Field, e.Msg)
	}
	return fmt.Sprintf("%s: %s %q %s: %s", ErrInvalidInput, e.Entity, e.ID, e.Field, e.Msg)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// SignalError reports a missing embedding or skill set for one entity.
type SignalError struct {
	Entity string
	ID     string
	Signal string
}

func (e *SignalError) Error() string {
	return fmt.Sprintf("%s: %s %q has no %s", ErrSignalUnavailable, e.Entity, e.ID, e.Signal)
}

func (e *SignalError) Unwrap() error { return ErrSignalUnavailable }

// MissingSignals lists the signals the candidate lacks.
func (c *Candidate) MissingSignals() []string {
	var missing []string
	if len(c.Embedding) == 0 {
		missing = append(missing, SignalEmbedding)
	}
	if c.Skills == nil {
		missing = append(missing, SignalSkills)
	}
	return missing
}

// MissingSignals lists the signals the opportunity lacks.
func (o *Opportunity) MissingSignals() []string {
	var missing []string
	if len(o.Embedding) == 0 {
		missing = append(missing, SignalEmbedding)
	}
	if o.RequiredSkills == nil {
		missing = append(missing, SignalSkills)
	}
	return missing
}

// Validate checks structural invariants of the whole snapshot and returns every
// problem found joined into one error. Missing signals are not validation errors;
// they are handled by the signal policy.
func Validate(candidates *Candidates, opportunities *Opportunities) error {
	var errs []error
	dim := 0
	checkDim := func(entity, id string, v []float64) {
		if len(v) == 0 {
			return
		}
		if dim == 0 {
			dim = len(v)
		}
		if len(v) != dim {
			errs = append(errs, &ValidationError{Entity: entity, ID: id, Field: "embedding",
				Msg: fmt.Sprintf("dimension %d, expected %d", len(v), dim)})
		}
		for _, x := range v {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				errs = append(errs, &ValidationError{Entity: entity, ID: id, Field: "embedding", Msg: "non-finite component"})
				return
			}
		}
	}

	seen := make(map[string]struct{}, candidates.Len())
	for i, c := range candidates.Items {
		if c == nil {
			errs = append(errs, &ValidationError{Entity: EntityCandidate, Field: "record", Msg: fmt.Sprintf("entry %d is empty", i)})
			continue
		}
		if c.ID == "" {
			errs = append(errs, &ValidationError{Entity: EntityCandidate, Field: "id", Msg: fmt.Sprintf("entry %d has no id", i)})
			continue
		}
		if _, dup := seen[c.ID]; dup {
			errs = append(errs, &ValidationError{Entity: EntityCandidate, ID: c.ID, Field: "id", Msg: "duplicate"})
		}
		seen[c.ID] = struct{}{}
		if math.IsNaN(c.SkillStrength) || c.SkillStrength < 0 || c.SkillStrength > 1 {
			errs = append(errs, &ValidationError{Entity: EntityCandidate, ID: c.ID, Field: "skill_strength",
				Msg: fmt.Sprintf("%v outside [0,1]", c.SkillStrength)})
		}
		if c.Age < 0 {
			errs = append(errs, &ValidationError{Entity: EntityCandidate, ID: c.ID, Field: "age", Msg: "negative"})
		}
		checkDim(EntityCandidate, c.ID, c.Embedding)
	}

	seen = make(map[string]struct{}, opportunities.Len())
	for i, o := range opportunities.Items {
		if o == nil {
			errs = append(errs, &ValidationError{Entity: EntityOpportunity, Field: "record", Msg: fmt.Sprintf("entry %d is empty", i)})
			continue
		}
		if o.ID == "" {
			errs = append(errs, &ValidationError{Entity: EntityOpportunity, Field: "id", Msg: fmt.Sprintf("entry %d has no id", i)})
			continue
		}
		if _, dup := seen[o.ID]; dup {
			errs = append(errs, &ValidationError{Entity: EntityOpportunity, ID: o.ID, Field: "id", Msg: "duplicate"})
		}
		seen[o.ID] = struct{}{}
		if o.Capacity < 1 {
			errs = append(errs, &ValidationError{Entity: EntityOpportunity, ID: o.ID, Field: "capacity",
				Msg: fmt.Sprintf("%d is not positive", o.Capacity)})
		}
		checkDim(EntityOpportunity, o.ID, o.Embedding)
	}

	return errors.Join(errs...)
}
