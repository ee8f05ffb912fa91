package matching

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrCapacityInvariant = errors.New("capacity invariant violated")
	ErrNonConvergence    = errors.New("matching did not converge")
)

// CapacityError reports an opportunity holding more candidates than its capacity.
type CapacityError struct {
	OpportunityID string
	Held          int
	Capacity      int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%s: opportunity %q holds %d of %d", ErrCapacityInvariant, e.OpportunityID, e.Held, e.Capacity)
}

func (e *CapacityError) Unwrap() error {
	return ErrCapacityInvariant
}

// ConvergenceError reports a run aborted on its round bound or time budget.
type ConvergenceError struct {
	Rounds  int
	Bound   int
	Elapsed time.Duration
	Budget  time.Duration
}

func (e *ConvergenceError) Error() string {
	if e.Budget > 0 && e.Elapsed > e.Budget {
		return fmt.Sprintf("%s: budget %s exceeded after %d rounds", ErrNonConvergence, e.Budget, e.Rounds)
	}
	return fmt.Sprintf("%s: round %d exceeds bound %d", ErrNonConvergence, e.Rounds, e.Bound)
}

func (e *ConvergenceError) Unwrap() error {
	return ErrNonConvergence
}
