// Package controller defines the abstraction the execution engine uses to
// talk to hardware or simulated actuator controllers: the Provider that is
// the sole authority on which controllers exist and their state, the Handle
// through which one trajectory is commanded, and the Registry that caches
// controller information and resolves which controllers to use.
package controller

import (
	"time"

	"github.com/seantiz/traject/internal/model"
)

// LifecycleState describes where a controller is in its lifecycle.
type LifecycleState string

// Lifecycle states. Only an active controller accepts trajectories.
const (
	StateUnloaded LifecycleState = "unloaded"
	StateInactive LifecycleState = "inactive"
	StateActive   LifecycleState = "active"
)

// Description is a Provider's report of one controller: its name, the joints
// it actuates, and its current lifecycle state.
type Description struct {
	Name   string         `json:"name"`
	Joints []string       `json:"joints"`
	State  LifecycleState `json:"state"`
}

// Provider is implemented by the surrounding application (hardware driver,
// simulator) and supplies concrete controllers to the engine. The engine
// treats it as the sole authority on what controllers exist and their state.
type Provider interface {
	// ListControllers reports every known controller with its actuated
	// joints and current state.
	ListControllers() ([]Description, error)

	// ControllerState reports the current lifecycle state of one controller.
	ControllerState(name string) (LifecycleState, error)

	// SwitchControllers activates and deactivates controllers in one
	// transaction. The provider may refuse the switch.
	SwitchControllers(activate, deactivate []string) error

	// Handle returns a live command/status interface for one controller.
	// Handles are borrowed for the duration of one sub-trajectory; the
	// controller itself persists after the handle is released.
	Handle(name string) (Handle, error)
}

// Handle commands a single controller and reports the progress of the last
// trajectory sent through it.
type Handle interface {
	// Name returns the controller this handle commands.
	Name() string

	// SendTrajectory dispatches a trajectory for execution. It returns once
	// the controller has accepted the command, not once it completes.
	SendTrajectory(t model.JointTrajectory) error

	// Cancel aborts the in-flight trajectory, if any. The handle's status
	// becomes preempted once the controller confirms.
	Cancel() error

	// Wait blocks until the last sent trajectory reaches a terminal status
	// or the timeout elapses, whichever is first. A timeout <= 0 waits
	// indefinitely. It reports whether a terminal status was reached.
	Wait(timeout time.Duration) bool

	// Status returns the execution status of the last sent trajectory.
	Status() model.ExecutionStatus
}

// Info is the Registry's cached view of one controller. Instances handed out
// by the Registry are copies; the cache itself is mutated only under the
// registry lock.
type Info struct {
	Name        string
	Joints      map[string]struct{}
	Overlapping map[string]struct{}
	State       LifecycleState
	LastUpdated time.Time
}
