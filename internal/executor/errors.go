package executor

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyTrajectory is returned when a pushed trajectory commands no
	// joints or contains no waypoints.
	ErrEmptyTrajectory = errors.New("trajectory has no joints or waypoints")

	// ErrMalformedTrajectory is returned when a waypoint's positions or
	// velocities do not line up with the trajectory's joint names.
	ErrMalformedTrajectory = errors.New("malformed trajectory")

	// ErrExecutionActive is returned when the batch queue is mutated while a
	// run is in progress.
	ErrExecutionActive = errors.New("execution is active")

	// ErrShutdown is returned when trajectories are submitted after Close.
	ErrShutdown = errors.New("executor is shut down")
)

// JointMismatch describes one joint whose start-state deviation exceeded the
// allowed tolerance.
type JointMismatch struct {
	Joint     string  `json:"joint"`
	Expected  float64 `json:"expected"`
	Actual    float64 `json:"actual"`
	Tolerance float64 `json:"tolerance"`
}

// ValidationError reports trajectory start waypoints that deviate from the
// sensed robot state beyond tolerance. Advisory for the caller; nothing is
// auto-corrected.
type ValidationError struct {
	Mismatches []JointMismatch
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Mismatches))
	for i, m := range e.Mismatches {
		parts[i] = fmt.Sprintf("%s: |%g - %g| > %g", m.Joint, m.Expected, m.Actual, m.Tolerance)
	}
	return "start state deviates from sensed state: " + strings.Join(parts, "; ")
}

// DistributionError reports a trajectory joint not covered by exactly one
// selected controller.
type DistributionError struct {
	Joint       string
	Controllers []string // empty: uncovered; more than one: ambiguous
}

func (e *DistributionError) Error() string {
	if len(e.Controllers) == 0 {
		return fmt.Sprintf("joint %q is not actuated by any selected controller", e.Joint)
	}
	return fmt.Sprintf("joint %q is actuated by multiple selected controllers: %s",
		e.Joint, strings.Join(e.Controllers, ", "))
}
