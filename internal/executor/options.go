package executor

import (
	"sync"
	"time"

	"github.com/seantiz/traject/internal/config"
)

// Options holds the runtime-tunable execution knobs. All accessors are safe
// for concurrent use; the HTTP layer and a running execution may touch them
// at the same time.
type Options struct {
	mu sync.RWMutex

	durationMonitoring bool
	durationScaling    float64
	goalMargin         time.Duration
	startTolerance     float64
	waitForCompletion  bool

	scalingOverrides map[string]float64
	marginOverrides  map[string]time.Duration
}

// OptionsFrom builds Options from the loaded execution configuration,
// including per-controller monitoring overrides.
func OptionsFrom(ec config.ExecutionConfig) *Options {
	o := &Options{
		durationMonitoring: ec.DurationMonitoring,
		durationScaling:    ec.DurationScaling,
		goalMargin:         secondsToDuration(ec.GoalMarginS),
		startTolerance:     ec.StartTolerance,
		waitForCompletion:  ec.WaitForCompletion,
		scalingOverrides:   make(map[string]float64),
		marginOverrides:    make(map[string]time.Duration),
	}
	for name, ov := range ec.Controllers {
		if ov.DurationScaling != nil {
			o.scalingOverrides[name] = *ov.DurationScaling
		}
		if ov.GoalMarginS != nil {
			o.marginOverrides[name] = secondsToDuration(*ov.GoalMarginS)
		}
	}
	return o
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// DurationMonitoring reports whether execution time budgets are enforced.
func (o *Options) DurationMonitoring() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.durationMonitoring
}

// SetDurationMonitoring toggles budget enforcement at runtime.
func (o *Options) SetDurationMonitoring(enable bool) {
	o.mu.Lock()
	o.durationMonitoring = enable
	o.mu.Unlock()
}

// DurationScaling returns the budget multiplier for the named controller,
// falling back to the global value when no override exists.
func (o *Options) DurationScaling(controller string) float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if v, ok := o.scalingOverrides[controller]; ok {
		return v
	}
	return o.durationScaling
}

// SetDurationScaling replaces the global budget multiplier.
func (o *Options) SetDurationScaling(scaling float64) {
	o.mu.Lock()
	o.durationScaling = scaling
	o.mu.Unlock()
}

// GoalMargin returns the fixed budget margin for the named controller,
// falling back to the global value when no override exists.
func (o *Options) GoalMargin(controller string) time.Duration {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if v, ok := o.marginOverrides[controller]; ok {
		return v
	}
	return o.goalMargin
}

// SetGoalMargin replaces the global budget margin.
func (o *Options) SetGoalMargin(margin time.Duration) {
	o.mu.Lock()
	o.goalMargin = margin
	o.mu.Unlock()
}

// StartTolerance returns the maximum allowed per-joint deviation between a
// trajectory's first waypoint and the sensed state. Zero demands an exact
// match.
func (o *Options) StartTolerance() float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.startTolerance
}

// SetStartTolerance replaces the start-state tolerance.
func (o *Options) SetStartTolerance(tol float64) {
	o.mu.Lock()
	o.startTolerance = tol
	o.mu.Unlock()
}

// WaitForCompletion reports whether batch runs wait for the robot to settle
// after the final context.
func (o *Options) WaitForCompletion() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.waitForCompletion
}

// SetWaitForCompletion toggles the post-run settle wait.
func (o *Options) SetWaitForCompletion(wait bool) {
	o.mu.Lock()
	o.waitForCompletion = wait
	o.mu.Unlock()
}
