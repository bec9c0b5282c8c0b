package dispatch

import (
	"errors"
	"fmt"

	"github.com/tnqbao/gau-music-dispatch/entity"
)

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrOverloaded = errors.New("queue at capacity")
	ErrWorkerLost = errors.New("worker lost")
	ErrCancelled  = errors.New("job cancelled")
	ErrTimedOut   = errors.New("job timed out")

	// ErrNoCapacity means the worker has no free slot; claim returns no job.
	ErrNoCapacity = errors.New("worker has no free slot")
)

// ValidationError describes a rejected submission. It matches ErrValidation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation error: %s", e.Reason)
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// FailureError maps a failed job's reason onto the sentinel errors.
func FailureError(reason entity.FailureReason, detail string) error {
	var base error
	switch reason {
	case entity.ReasonCancelled:
		base = ErrCancelled
	case entity.ReasonWorkerLost:
		base = ErrWorkerLost
	case entity.ReasonQueueOverflow:
		base = ErrOverloaded
	case entity.ReasonTimeout:
		base = ErrTimedOut
	default:
		if detail == "" {
			return errors.New("job failed")
		}
		return errors.New(detail)
	}
	if detail == "" {
		return base
	}
	return fmt.Errorf("%w: %s", base, detail)
}
