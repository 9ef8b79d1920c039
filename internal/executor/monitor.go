package executor

import "time"

// contextBudget computes the wall-clock budget for one context: the largest
// per-controller budget of nominal part span times the controller's scaling
// factor plus its margin. Zero means unmonitored (wait indefinitely).
func (e *Executor) contextBudget(ctx *ExecutionContext) time.Duration {
	if !e.opts.DurationMonitoring() {
		return 0
	}
	var budget time.Duration
	for k, name := range ctx.Controllers {
		if ctx.Parts[k].Empty() {
			continue
		}
		span := ctx.Parts[k].Duration()
		b := time.Duration(float64(span)*e.opts.DurationScaling(name)) + e.opts.GoalMargin(name)
		if b > budget {
			budget = b
		}
	}
	return budget
}
