package executor

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/seantiz/traject/internal/controller"
	"github.com/seantiz/traject/internal/model"
)

// settlePollInterval is how often the state sensor is polled while waiting
// for the robot to stop moving after a run.
const settlePollInterval = 50 * time.Millisecond

// settleTimeout bounds the post-run settle wait.
const settleTimeout = time.Second

// runBatch drives one batch run context-by-context in its own goroutine and
// delivers the terminal status exactly once.
func (e *Executor) runBatch(rec *model.ExecutionRecord, cb CompletionCallback, segCb SegmentCallback, autoClear bool) {
	defer e.broker.Close(rec.ID)

	start := time.Now()
	e.broker.Publish(rec.ID, model.StatusRunning, "run started")

	e.mu.Lock()
	n := len(e.trajectories)
	e.mu.Unlock()

	status := model.StatusSucceeded
	detail := ""
	for i := 0; i < n; i++ {
		st, why := e.executePart(rec.ID, i)
		if st != model.StatusSucceeded {
			status, detail = st, why
			break
		}
		if segCb != nil {
			segCb(i)
		}
		e.broker.Publish(rec.ID, model.StatusRunning, fmt.Sprintf("context %d complete", i))
	}

	if status == model.StatusSucceeded && e.opts.WaitForCompletion() {
		e.waitForRobotToStop(settleTimeout)
	}

	e.timeMu.Lock()
	e.timeIndex = nil
	e.timeContext = -1
	e.timeMu.Unlock()

	e.mu.Lock()
	if e.stopRequested {
		status, detail = model.StatusPreempted, "stopped"
	}
	if autoClear || e.stopAutoClear {
		e.trajectories = nil
		queuedTrajectories.Set(0)
	}
	e.activeHandles = nil
	e.currentContext = -1
	e.stopRequested = false
	e.stopAutoClear = false
	e.lastStatus = status
	e.runActive = false
	e.cond.Broadcast()
	e.mu.Unlock()

	now := time.Now().UTC()
	elapsed := now.Sub(start)
	ms := int(elapsed.Milliseconds())
	rec.Status = string(status)
	rec.Error = detail
	if status == model.StatusSucceeded {
		rec.Error = ""
	}
	rec.DurationMS = &ms
	rec.FinishedAt = &now
	if err := e.store.UpdateExecution(context.Background(), rec); err != nil {
		e.logger.Error("failed to update execution record", "execution_id", rec.ID, "error", err)
	}

	executionsTotal.WithLabelValues(model.ModeBatch, string(status)).Inc()
	executionDuration.WithLabelValues(model.ModeBatch).Observe(elapsed.Seconds())
	e.broker.Publish(rec.ID, status, detail)
	e.logger.Info("batch execution finished",
		"execution_id", rec.ID, "status", status, "duration_ms", ms)

	if cb != nil {
		cb(status)
	}
}

// executePart sends one queued context to its controllers and waits for the
// outcome. The returned status is succeeded, or the reason the whole run must
// abort.
func (e *Executor) executePart(recID string, i int) (model.ExecutionStatus, string) {
	e.timeMu.Lock()
	e.timeIndex = nil
	e.timeContext = -1
	e.timeMu.Unlock()

	e.mu.Lock()
	if e.stopRequested {
		e.mu.Unlock()
		return model.StatusPreempted, "stopped"
	}
	ctx := e.trajectories[i]
	e.mu.Unlock()

	if err := e.registry.EnsureActive(ctx.Controllers, e.infoMaxAge); err != nil {
		e.logger.Error("controller activation failed",
			"execution_id", recID, "context", i, "error", err)
		return model.StatusAborted, fmt.Sprintf("activating controllers: %v", err)
	}

	type dispatch struct {
		handle controller.Handle
		part   model.JointTrajectory
	}
	var dispatches []dispatch
	var handles []controller.Handle
	for k, name := range ctx.Controllers {
		if ctx.Parts[k].Empty() {
			continue
		}
		h, err := e.registry.Handle(name)
		if err != nil {
			e.logger.Error("no handle for controller",
				"execution_id", recID, "controller", name, "error", err)
			return model.StatusAborted, fmt.Sprintf("controller %s: %v", name, err)
		}
		dispatches = append(dispatches, dispatch{handle: h, part: ctx.Parts[k]})
		handles = append(handles, h)
	}

	e.mu.Lock()
	if e.stopRequested {
		e.mu.Unlock()
		return model.StatusPreempted, "stopped"
	}
	e.currentContext = i
	e.activeHandles = handles
	e.mu.Unlock()

	for sent, d := range dispatches {
		if err := d.handle.SendTrajectory(d.part); err != nil {
			e.logger.Error("trajectory dispatch failed",
				"execution_id", recID, "controller", d.handle.Name(), "error", err)
			for _, prev := range dispatches[:sent] {
				prev.handle.Cancel()
			}
			return model.StatusAborted, fmt.Sprintf("sending to %s: %v", d.handle.Name(), err)
		}
	}

	// A stop landing during the sends cancels handles that had nothing in
	// flight yet. Cancel again now that the trajectories are out, so the
	// unwind does not wait for them to run to completion.
	e.mu.Lock()
	stopped := e.stopRequested
	e.mu.Unlock()
	if stopped {
		for _, d := range dispatches {
			d.handle.Cancel()
		}
	}

	e.rebuildTimeIndex(i, ctx)

	// Wait on each handle in turn. A stop cancels the handles, which drives
	// them to a terminal status and unblocks the waits.
	budget := e.contextBudget(ctx)
	deadline := time.Now().Add(budget)
	timedOut := false
	for _, d := range dispatches {
		if budget <= 0 {
			d.handle.Wait(0)
			continue
		}
		remaining := time.Until(deadline)
		if remaining <= 0 || !d.handle.Wait(remaining) {
			timedOut = true
			break
		}
	}

	if timedOut {
		e.logger.Warn("context exceeded duration budget",
			"execution_id", recID, "context", i, "budget", budget)
		for _, d := range dispatches {
			d.handle.Cancel()
		}
		for _, d := range dispatches {
			d.handle.Wait(0)
		}
		return model.StatusTimedOut, fmt.Sprintf("context %d exceeded budget %s", i, budget)
	}

	status := model.StatusSucceeded
	detail := ""
	for _, d := range dispatches {
		switch s := d.handle.Status(); s {
		case model.StatusAborted, model.StatusFailed:
			status = model.StatusAborted
			detail = fmt.Sprintf("controller %s reported %s", d.handle.Name(), s)
		case model.StatusPreempted:
			if status == model.StatusSucceeded {
				status, detail = model.StatusPreempted, "canceled"
			}
		}
	}

	e.mu.Lock()
	e.activeHandles = nil
	if e.stopRequested {
		status, detail = model.StatusPreempted, "stopped"
	}
	e.mu.Unlock()
	return status, detail
}

// ExpectedIndex locates the waypoint the robot should currently be near: the
// queue index of the executing context and the waypoint within it.
type ExpectedIndex struct {
	Context  int `json:"context"`
	Waypoint int `json:"waypoint"`
}

// CurrentExpectedTrajectoryIndex reports where along the queued trajectories
// the robot should be right now. The second return is false when nothing is
// executing or the active execution went through the streaming path.
func (e *Executor) CurrentExpectedTrajectoryIndex() (ExpectedIndex, bool) {
	e.timeMu.Lock()
	defer e.timeMu.Unlock()
	if e.timeContext < 0 || len(e.timeIndex) == 0 {
		return ExpectedIndex{}, false
	}
	now := time.Now()
	wp := sort.Search(len(e.timeIndex), func(k int) bool {
		return !e.timeIndex[k].Before(now)
	})
	if wp == len(e.timeIndex) {
		wp = len(e.timeIndex) - 1
	}
	return ExpectedIndex{Context: e.timeContext, Waypoint: wp}, true
}

// rebuildTimeIndex replaces the time index with the expected wall-clock time
// of every waypoint in the context's longest part.
func (e *Executor) rebuildTimeIndex(contextIndex int, ctx *ExecutionContext) {
	longest := -1
	var longestDur time.Duration
	for k := range ctx.Parts {
		if ctx.Parts[k].Empty() {
			continue
		}
		if d := ctx.Parts[k].Duration(); longest < 0 || d > longestDur {
			longest, longestDur = k, d
		}
	}
	if longest < 0 {
		return
	}

	now := time.Now()
	index := make([]time.Time, len(ctx.Parts[longest].Points))
	for k, wp := range ctx.Parts[longest].Points {
		index[k] = now.Add(wp.TimeFromStart)
	}

	e.timeMu.Lock()
	e.timeIndex = index
	e.timeContext = contextIndex
	e.timeMu.Unlock()
}

// waitForRobotToStop polls the state sensor until two consecutive samples
// agree within the start tolerance on every joint, or the timeout elapses.
func (e *Executor) waitForRobotToStop(timeout time.Duration) {
	if e.sensor == nil {
		return
	}
	tol := e.opts.StartTolerance()
	prev, err := e.sensor.CurrentJointPositions()
	if err != nil {
		return
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		time.Sleep(settlePollInterval)
		cur, err := e.sensor.CurrentJointPositions()
		if err != nil {
			return
		}
		settled := true
		for j, v := range cur {
			p, ok := prev[j]
			if !ok || math.Abs(v-p) > tol {
				settled = false
				break
			}
		}
		if settled {
			return
		}
		prev = cur
	}
	e.logger.Debug("robot did not settle before timeout", "timeout", timeout)
}
