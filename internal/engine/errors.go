package engine

import (
	"context"
	"errors"

	"github.com/spigell/allocator/internal/matching"
	"github.com/spigell/allocator/internal/profile"
	"github.com/spigell/allocator/internal/quota"
)

// Errors a run can fail with. Infeasible quota targets are not errors; they
// are reported in the compliance rows of a successful report.
var (
	ErrInvalidInput      = profile.ErrInvalidInput
	ErrInvalidTarget     = quota.ErrInvalidTarget
	ErrSignalUnavailable = profile.ErrSignalUnavailable
	ErrCapacityInvariant = matching.ErrCapacityInvariant
	ErrNonConvergence    = matching.ErrNonConvergence
)

// Kind names the class of a run error for API responses and exit codes.
type Kind string

const (
	KindInvalidInput      Kind = "invalid_input"
	KindSignalUnavailable Kind = "signal_unavailable"
	KindNonConvergence    Kind = "non_convergence"
	KindCapacityInvariant Kind = "capacity_invariant"
	KindCanceled          Kind = "canceled"
	KindInternal          Kind = "internal"
)

func Classify(err error) Kind {
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidTarget):
		return KindInvalidInput
	case errors.Is(err, ErrSignalUnavailable):
		return KindSignalUnavailable
	case errors.Is(err, ErrNonConvergence):
		return KindNonConvergence
	case errors.Is(err, ErrCapacityInvariant):
		return KindCapacityInvariant
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindInternal
	}
}
