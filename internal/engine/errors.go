package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrTooManyFailures indicates the loop stopped after repeated I/O failures.
	ErrTooManyFailures = errors.New("engine: too many consecutive tick failures")

	// ErrStopped indicates a tick was requested after shutdown.
	ErrStopped = errors.New("engine: stopped")

	// ErrEmptyBoundary indicates a zone boundary with no cells after clamping.
	ErrEmptyBoundary = errors.New("engine: zone boundary has zero area")

	// ErrScheduleWidth indicates a schedule whose width differs from the zone count.
	ErrScheduleWidth = errors.New("engine: schedule width does not match zones")
)

// Phase names the I/O step of a tick that failed.
type Phase string

const (
	PhaseSensor   Phase = "sensor read"
	PhaseFeedback Phase = "actuator feedback"
	PhaseCommand  Phase = "actuator command"
)

// TickError wraps an I/O failure with the tick it interrupted. The command
// phase of that tick is skipped.
type TickError struct {
	Seq   int
	Phase Phase
	Zone  int
	Err   error
}

func (e *TickError) Error() string {
	if e.Phase == PhaseCommand {
		return fmt.Sprintf("tick %d: %s (zone %d): %v", e.Seq, e.Phase, e.Zone, e.Err)
	}
	return fmt.Sprintf("tick %d: %s: %v", e.Seq, e.Phase, e.Err)
}

func (e *TickError) Unwrap() error {
	return e.Err
}
