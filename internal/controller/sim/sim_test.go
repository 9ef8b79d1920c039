package sim

import (
	"testing"
	"time"

	"github.com/seantiz/traject/internal/controller"
	"github.com/seantiz/traject/internal/model"
)

func traj(joints []string, span time.Duration) model.JointTrajectory {
	return model.JointTrajectory{
		Joints: joints,
		Points: []model.Waypoint{
			{Positions: make([]float64, len(joints))},
			{Positions: []float64{0.5}, TimeFromStart: span},
		},
	}
}

func TestSimExecutesTrajectory(t *testing.T) {
	p := NewProvider(0.01)
	p.Add("arm", []string{"j1"}, true)

	h, err := p.Handle("arm")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if err := h.SendTrajectory(traj([]string{"j1"}, time.Second)); err != nil {
		t.Fatalf("SendTrajectory: %v", err)
	}
	if !h.Wait(time.Second) {
		t.Fatal("Wait timed out")
	}
	if got := h.Status(); got != model.StatusSucceeded {
		t.Errorf("Status = %q, want succeeded", got)
	}

	pos, err := p.CurrentJointPositions()
	if err != nil {
		t.Fatalf("CurrentJointPositions: %v", err)
	}
	if pos["j1"] != 0.5 {
		t.Errorf("j1 = %v, want 0.5 (final waypoint applied)", pos["j1"])
	}
}

func TestSimRejectsInactiveController(t *testing.T) {
	p := NewProvider(0.01)
	p.Add("arm", []string{"j1"}, false)

	h, _ := p.Handle("arm")
	if err := h.SendTrajectory(traj([]string{"j1"}, time.Second)); err == nil {
		t.Fatal("SendTrajectory on inactive controller should fail")
	}
}

func TestSimCancelPreempts(t *testing.T) {
	p := NewProvider(1)
	p.Add("arm", []string{"j1"}, true)

	h, _ := p.Handle("arm")
	if err := h.SendTrajectory(traj([]string{"j1"}, time.Hour)); err != nil {
		t.Fatalf("SendTrajectory: %v", err)
	}
	if err := h.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !h.Wait(time.Second) {
		t.Fatal("Wait after Cancel timed out")
	}
	if got := h.Status(); got != model.StatusPreempted {
		t.Errorf("Status = %q, want preempted", got)
	}
}

func TestSimSwitchRefusesOverlapConflict(t *testing.T) {
	p := NewProvider(1)
	p.Add("arm", []string{"j1", "j2"}, true)
	p.Add("arm_alt", []string{"j2"}, false)

	if err := p.SwitchControllers([]string{"arm_alt"}, nil); err == nil {
		t.Fatal("activating arm_alt while arm is active should fail")
	}
	if err := p.SwitchControllers([]string{"arm_alt"}, []string{"arm"}); err != nil {
		t.Fatalf("switch with deactivation should succeed: %v", err)
	}

	st, err := p.ControllerState("arm_alt")
	if err != nil || st != controller.StateActive {
		t.Errorf("arm_alt state = %q (%v), want active", st, err)
	}
	st, _ = p.ControllerState("arm")
	if st != controller.StateInactive {
		t.Errorf("arm state = %q, want inactive", st)
	}
}
