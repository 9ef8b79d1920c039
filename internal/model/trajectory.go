package model

import (
	"sort"
	"time"
)

// Waypoint is a single point along a trajectory: one position (and optionally
// one velocity) per joint, plus the time offset from the start of the
// trajectory at which the point should be reached.
type Waypoint struct {
	Positions     []float64     `json:"positions"`
	Velocities    []float64     `json:"velocities,omitempty"`
	TimeFromStart time.Duration `json:"time_from_start"`
}

// JointTrajectory is a time-parameterized path over a fixed set of joints.
// Joints names the columns; every waypoint carries one value per joint, in
// the same order.
type JointTrajectory struct {
	Joints []string   `json:"joints"`
	Points []Waypoint `json:"points"`
}

// Duration returns the nominal time span of the trajectory, taken from the
// last waypoint's time offset. Zero for an empty trajectory.
func (t JointTrajectory) Duration() time.Duration {
	if len(t.Points) == 0 {
		return 0
	}
	return t.Points[len(t.Points)-1].TimeFromStart
}

// Empty reports whether the trajectory commands no joints or no waypoints.
func (t JointTrajectory) Empty() bool {
	return len(t.Joints) == 0 || len(t.Points) == 0
}

// SingleWaypoint builds a one-point trajectory that moves the named joints to
// the given positions immediately. Joint order is sorted for determinism.
func SingleWaypoint(positions map[string]float64) JointTrajectory {
	joints := make([]string, 0, len(positions))
	for j := range positions {
		joints = append(joints, j)
	}
	sort.Strings(joints)

	values := make([]float64, len(joints))
	for i, j := range joints {
		values[i] = positions[j]
	}

	return JointTrajectory{
		Joints: joints,
		Points: []Waypoint{{Positions: values}},
	}
}
