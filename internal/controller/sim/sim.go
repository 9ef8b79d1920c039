// Package sim provides an in-process simulated controller provider. It stands
// in for a hardware driver: controllers accept trajectories, "execute" them
// for their nominal duration (scaled by a configurable factor), and honor
// activation switching and cancellation. Used by the demo server and by tests
// that need a full provider rather than a hand-rolled fake.
package sim

import (
	"fmt"
	"sync"
	"time"

	"github.com/seantiz/traject/internal/controller"
	"github.com/seantiz/traject/internal/model"
)

// Provider is a simulated controller provider. Safe for concurrent use.
type Provider struct {
	mu          sync.Mutex
	timeScale   float64
	controllers map[string]*simController
	positions   map[string]float64
}

// NewProvider creates an empty simulated provider. timeScale multiplies every
// trajectory's nominal duration; use a small value (e.g. 0.01) to make tests
// fast. A timeScale <= 0 defaults to 1.
func NewProvider(timeScale float64) *Provider {
	if timeScale <= 0 {
		timeScale = 1
	}
	return &Provider{
		timeScale:   timeScale,
		controllers: make(map[string]*simController),
		positions:   make(map[string]float64),
	}
}

// Add registers a simulated controller actuating the given joints.
func (p *Provider) Add(name string, joints []string, active bool) {
	state := controller.StateInactive
	if active {
		state = controller.StateActive
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.controllers[name] = &simController{
		provider: p,
		name:     name,
		joints:   append([]string(nil), joints...),
		state:    state,
	}
	for _, j := range joints {
		if _, ok := p.positions[j]; !ok {
			p.positions[j] = 0
		}
	}
}

// CurrentJointPositions reports the simulated joint state; the provider
// doubles as the state sensor for demos and tests.
func (p *Provider) CurrentJointPositions() (map[string]float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]float64, len(p.positions))
	for j, v := range p.positions {
		out[j] = v
	}
	return out, nil
}

// SetJointPosition overrides one simulated joint value.
func (p *Provider) SetJointPosition(joint string, value float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.positions[joint] = value
}

// ListControllers implements controller.Provider.
func (p *Provider) ListControllers() ([]controller.Description, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	descs := make([]controller.Description, 0, len(p.controllers))
	for _, c := range p.controllers {
		descs = append(descs, controller.Description{
			Name:   c.name,
			Joints: append([]string(nil), c.joints...),
			State:  c.state,
		})
	}
	return descs, nil
}

// ControllerState implements controller.Provider.
func (p *Provider) ControllerState(name string) (controller.LifecycleState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.controllers[name]
	if !ok {
		return controller.StateUnloaded, fmt.Errorf("no controller %q", name)
	}
	return c.state, nil
}

// SwitchControllers implements controller.Provider. Activations are rejected
// when an overlapping controller is active and not part of the deactivate
// set, mirroring how a real controller manager refuses conflicting switches.
func (p *Provider) SwitchControllers(activate, deactivate []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, n := range append(append([]string(nil), activate...), deactivate...) {
		if _, ok := p.controllers[n]; !ok {
			return fmt.Errorf("no controller %q", n)
		}
	}

	stopping := make(map[string]bool, len(deactivate))
	for _, n := range deactivate {
		stopping[n] = true
	}
	for _, n := range activate {
		c := p.controllers[n]
		for _, other := range p.controllers {
			if other.name == n || other.state != controller.StateActive || stopping[other.name] {
				continue
			}
			if jointsIntersect(c.joints, other.joints) {
				return fmt.Errorf("controller %q conflicts with active controller %q", n, other.name)
			}
		}
	}

	for _, n := range deactivate {
		p.controllers[n].state = controller.StateInactive
	}
	for _, n := range activate {
		p.controllers[n].state = controller.StateActive
	}
	return nil
}

// Handle implements controller.Provider.
func (p *Provider) Handle(name string) (controller.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.controllers[name]
	if !ok {
		return nil, fmt.Errorf("no controller %q", name)
	}
	return c, nil
}

func jointsIntersect(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

// simController executes one trajectory at a time on a timer. It implements
// controller.Handle directly; handles are borrowed, the controller persists.
type simController struct {
	provider *Provider
	name     string
	joints   []string

	mu     sync.Mutex
	state  controller.LifecycleState
	status model.ExecutionStatus
	done   chan struct{}
	timer  *time.Timer
	last   model.JointTrajectory
}

var _ controller.Handle = (*simController)(nil)

// Name implements controller.Handle.
func (c *simController) Name() string { return c.name }

// SendTrajectory implements controller.Handle. The trajectory completes after
// its nominal duration scaled by the provider's time scale.
func (c *simController) SendTrajectory(t model.JointTrajectory) error {
	c.provider.mu.Lock()
	scale := c.provider.timeScale
	c.provider.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != controller.StateActive {
		return fmt.Errorf("controller %q is not active", c.name)
	}
	if c.done != nil && c.status == model.StatusRunning {
		return fmt.Errorf("controller %q is already executing", c.name)
	}

	c.last = t
	c.status = model.StatusRunning
	done := make(chan struct{})
	c.done = done

	d := time.Duration(float64(t.Duration()) * scale)
	c.timer = time.AfterFunc(d, func() {
		c.complete(done, model.StatusSucceeded)
	})
	return nil
}

// complete transitions to a terminal status once; late timers and repeated
// cancels are ignored.
func (c *simController) complete(done chan struct{}, status model.ExecutionStatus) {
	c.mu.Lock()
	if c.done != done || c.status != model.StatusRunning {
		c.mu.Unlock()
		return
	}
	c.status = status
	last := c.last
	c.mu.Unlock()

	if status == model.StatusSucceeded && !last.Empty() {
		final := last.Points[len(last.Points)-1]
		c.provider.mu.Lock()
		for i, j := range last.Joints {
			if i < len(final.Positions) {
				c.provider.positions[j] = final.Positions[i]
			}
		}
		c.provider.mu.Unlock()
	}
	close(done)
}

// Cancel implements controller.Handle.
func (c *simController) Cancel() error {
	c.mu.Lock()
	done := c.done
	timer := c.timer
	c.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
	if done != nil {
		c.complete(done, model.StatusPreempted)
	}
	return nil
}

// Wait implements controller.Handle.
func (c *simController) Wait(timeout time.Duration) bool {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return true // nothing was ever sent
	}
	if timeout <= 0 {
		<-done
		return true
	}
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Status implements controller.Handle.
func (c *simController) Status() model.ExecutionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		return model.StatusUnknown
	}
	return c.status
}
