package executor

import (
	"testing"
	"time"

	"github.com/seantiz/traject/internal/config"
	"github.com/seantiz/traject/internal/model"
)

func budgetExecutor(ec config.ExecutionConfig) *Executor {
	return &Executor{opts: OptionsFrom(ec)}
}

func spanContext(controller string, span time.Duration) *ExecutionContext {
	return &ExecutionContext{
		Controllers: []string{controller},
		Parts: []model.JointTrajectory{{
			Joints: []string{"j1"},
			Points: []model.Waypoint{
				{Positions: []float64{0}, TimeFromStart: 0},
				{Positions: []float64{1}, TimeFromStart: span},
			},
		}},
	}
}

func TestContextBudgetScalingAndMargin(t *testing.T) {
	ec := config.DefaultExecution()
	ec.DurationScaling = 1.5
	ec.GoalMarginS = 0.5
	e := budgetExecutor(ec)

	got := e.contextBudget(spanContext("arm", 2*time.Second))
	want := 3500 * time.Millisecond
	if got != want {
		t.Errorf("budget = %s, want %s", got, want)
	}
}

func TestContextBudgetPerControllerOverride(t *testing.T) {
	scaling := 2.0
	margin := 1.0
	ec := config.DefaultExecution()
	ec.DurationScaling = 1.5
	ec.GoalMarginS = 0.5
	ec.Controllers = map[string]config.ControllerOverride{
		"arm": {DurationScaling: &scaling, GoalMarginS: &margin},
	}
	e := budgetExecutor(ec)

	if got, want := e.contextBudget(spanContext("arm", time.Second)), 3*time.Second; got != want {
		t.Errorf("overridden budget = %s, want %s", got, want)
	}
	if got, want := e.contextBudget(spanContext("gripper", time.Second)), 2*time.Second; got != want {
		t.Errorf("default budget = %s, want %s", got, want)
	}
}

func TestContextBudgetDisabled(t *testing.T) {
	ec := config.DefaultExecution()
	ec.DurationMonitoring = false
	e := budgetExecutor(ec)

	if got := e.contextBudget(spanContext("arm", time.Second)); got != 0 {
		t.Errorf("budget with monitoring disabled = %s, want 0", got)
	}
}

func TestContextBudgetTakesLongestController(t *testing.T) {
	ec := config.DefaultExecution()
	ec.DurationScaling = 1.0
	ec.GoalMarginS = 0
	e := budgetExecutor(ec)

	ctx := &ExecutionContext{
		Controllers: []string{"arm", "gripper"},
		Parts: []model.JointTrajectory{
			{
				Joints: []string{"j1"},
				Points: []model.Waypoint{{Positions: []float64{0}, TimeFromStart: 2 * time.Second}},
			},
			{
				Joints: []string{"j2"},
				Points: []model.Waypoint{{Positions: []float64{0}, TimeFromStart: time.Second}},
			},
		},
	}
	if got, want := e.contextBudget(ctx), 2*time.Second; got != want {
		t.Errorf("budget = %s, want %s", got, want)
	}
}
