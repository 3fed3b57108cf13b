package scheduling

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed input (bad dates, empty working days, unknown statuses).
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is returned when a session, client or branch does not exist.
	ErrNotFound = errors.New("not found")
	// ErrCapacity is returned when a plan cannot be satisfied.
	ErrCapacity = errors.New("insufficient capacity")
	// ErrInvalidTransition is returned for a status change the lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// CapacityError describes why a plan could not be satisfied. It unwraps to ErrCapacity.
type CapacityError struct {
	Requested int
	Touched   int
	Generated int
	Reason    string
}

func (e *CapacityError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s", ErrCapacity, e.Reason)
	}
	return fmt.Sprintf("%s: requested %d sessions, %d already touched", ErrCapacity, e.Requested, e.Touched)
}

func (e *CapacityError) Unwrap() error { return ErrCapacity }
