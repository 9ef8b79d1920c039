package executor

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/seantiz/traject/internal/controller"
	"github.com/seantiz/traject/internal/model"
)

// ExecutionContext is one queued trajectory after distribution: the selected
// controllers and, aligned index-for-index, the per-controller part each one
// will receive. A part may be empty when its controller actuates none of the
// trajectory's joints.
type ExecutionContext struct {
	Controllers []string
	Parts       []model.JointTrajectory
}

// Duration returns the longest part duration, which is the expected duration
// of the context as a whole since parts run in parallel.
func (c *ExecutionContext) Duration() time.Duration {
	var d time.Duration
	for i := range c.Parts {
		if pd := c.Parts[i].Duration(); pd > d {
			d = pd
		}
	}
	return d
}

// configure resolves a trajectory into an ExecutionContext: controller
// selection, distribution into per-controller parts, and start-state
// validation. requested may name the controllers explicitly; when empty the
// covering set is computed from the registry.
func (e *Executor) configure(traj model.JointTrajectory, requested []string) (*ExecutionContext, error) {
	if traj.Empty() {
		return nil, ErrEmptyTrajectory
	}
	for p := range traj.Points {
		wp := &traj.Points[p]
		if len(wp.Positions) != len(traj.Joints) {
			return nil, fmt.Errorf("waypoint %d has %d positions for %d joints: %w",
				p, len(wp.Positions), len(traj.Joints), ErrMalformedTrajectory)
		}
		if len(wp.Velocities) != 0 && len(wp.Velocities) != len(traj.Joints) {
			return nil, fmt.Errorf("waypoint %d has %d velocities for %d joints: %w",
				p, len(wp.Velocities), len(traj.Joints), ErrMalformedTrajectory)
		}
	}

	var candidates []controller.Info
	if len(requested) > 0 {
		for _, name := range requested {
			ci, err := e.registry.Get(name, e.infoMaxAge)
			if err != nil {
				return nil, err
			}
			candidates = append(candidates, ci)
		}
	} else {
		all, err := e.registry.All(e.infoMaxAge)
		if err != nil {
			return nil, err
		}
		candidates = all
	}

	selected, err := controller.SelectControllers(traj.Joints, candidates)
	if err != nil {
		return nil, fmt.Errorf("selecting controllers: %w", err)
	}

	ctx, err := e.distributeTrajectory(traj, selected)
	if err != nil {
		return nil, err
	}
	if err := e.validate(traj); err != nil {
		return nil, err
	}
	return ctx, nil
}

// distributeTrajectory splits traj into one part per selected controller,
// keeping waypoint count, ordering, and time_from_start intact. Every
// trajectory joint must map to exactly one controller.
func (e *Executor) distributeTrajectory(traj model.JointTrajectory, selected []string) (*ExecutionContext, error) {
	infos := make([]controller.Info, len(selected))
	for i, name := range selected {
		ci, err := e.registry.Get(name, e.infoMaxAge)
		if err != nil {
			return nil, err
		}
		infos[i] = ci
	}

	// Map each joint to the controllers claiming it so double coverage and
	// gaps surface as errors rather than silent truncation.
	owners := make(map[string][]string, len(traj.Joints))
	for _, j := range traj.Joints {
		for _, ci := range infos {
			if _, ok := ci.Joints[j]; ok {
				owners[j] = append(owners[j], ci.Name)
			}
		}
	}
	for _, j := range traj.Joints {
		if n := len(owners[j]); n != 1 {
			return nil, &DistributionError{Joint: j, Controllers: owners[j]}
		}
	}

	ctx := &ExecutionContext{
		Controllers: selected,
		Parts:       make([]model.JointTrajectory, len(selected)),
	}
	for i, ci := range infos {
		var joints []string
		var idx []int
		for k, j := range traj.Joints {
			if _, ok := ci.Joints[j]; ok {
				joints = append(joints, j)
				idx = append(idx, k)
			}
		}
		if len(joints) == 0 {
			continue
		}
		part := model.JointTrajectory{
			Joints: joints,
			Points: make([]model.Waypoint, len(traj.Points)),
		}
		for p, wp := range traj.Points {
			out := model.Waypoint{
				Positions:     make([]float64, len(idx)),
				TimeFromStart: wp.TimeFromStart,
			}
			if len(wp.Velocities) == len(traj.Joints) {
				out.Velocities = make([]float64, len(idx))
			}
			for n, k := range idx {
				out.Positions[n] = wp.Positions[k]
				if out.Velocities != nil {
					out.Velocities[n] = wp.Velocities[k]
				}
			}
			part.Points[p] = out
		}
		ctx.Parts[i] = part
	}
	return ctx, nil
}

// validate compares the trajectory's first waypoint against the sensed joint
// state. Skipped when no sensor is wired. A zero tolerance demands an exact
// match.
func (e *Executor) validate(traj model.JointTrajectory) error {
	if e.sensor == nil || len(traj.Points) == 0 {
		return nil
	}
	tol := e.opts.StartTolerance()
	current, err := e.sensor.CurrentJointPositions()
	if err != nil {
		return fmt.Errorf("reading joint state: %w", err)
	}

	first := traj.Points[0]
	var mismatches []JointMismatch
	for i, j := range traj.Joints {
		actual, ok := current[j]
		if !ok {
			return fmt.Errorf("joint %q not present in sensed state", j)
		}
		if math.Abs(first.Positions[i]-actual) > tol {
			mismatches = append(mismatches, JointMismatch{
				Joint:     j,
				Expected:  first.Positions[i],
				Actual:    actual,
				Tolerance: tol,
			})
		}
	}
	if len(mismatches) > 0 {
		sort.Slice(mismatches, func(a, b int) bool { return mismatches[a].Joint < mismatches[b].Joint })
		return &ValidationError{Mismatches: mismatches}
	}
	return nil
}
