package executor

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/seantiz/traject/internal/controller"
	"github.com/seantiz/traject/internal/model"
)

// streamItem is one trajectory moving through the streaming path, from
// enqueue to terminal status.
type streamItem struct {
	rec *model.ExecutionRecord
	ctx *ExecutionContext
	cb  CompletionCallback

	// set once under streamMu when the item is dispatched
	handles []controller.Handle
	start   time.Time
}

// PushAndExecute resolves a trajectory and hands it to the streaming worker
// for execution as soon as its controllers are free. The completion callback
// is invoked exactly once. Returns the execution record ID.
func (e *Executor) PushAndExecute(traj model.JointTrajectory, controllers []string, cb CompletionCallback) (string, error) {
	e.streamMu.Lock()
	if e.shutdown {
		e.streamMu.Unlock()
		return "", ErrShutdown
	}
	e.streamMu.Unlock()

	ctx, err := e.configure(traj, controllers)
	if err != nil {
		return "", err
	}

	rec := &model.ExecutionRecord{
		ID:          model.NewID(),
		Mode:        model.ModeStream,
		Status:      string(model.StatusPending),
		Controllers: ctx.Controllers,
		Contexts:    1,
		CreatedAt:   time.Now().UTC(),
	}
	if err := e.store.CreateExecution(context.Background(), rec); err != nil {
		return "", fmt.Errorf("create execution record: %w", err)
	}

	item := &streamItem{rec: rec, ctx: ctx, cb: cb}
	e.streamMu.Lock()
	if e.shutdown {
		e.streamMu.Unlock()
		e.finishStream(item, model.StatusPreempted, "executor shut down")
		return "", ErrShutdown
	}
	e.streamQueue = append(e.streamQueue, item)
	streamBacklog.Set(float64(len(e.streamQueue) + len(e.inFlight)))
	e.streamCond.Signal()
	e.streamMu.Unlock()

	e.logger.Debug("trajectory enqueued for streaming",
		"execution_id", rec.ID, "controllers", ctx.Controllers)
	return rec.ID, nil
}

// streamWorker drains the streaming queue for the executor's lifetime,
// exiting only on shutdown.
func (e *Executor) streamWorker() {
	defer close(e.workerDone)
	for {
		e.streamMu.Lock()
		for len(e.streamQueue) == 0 && !e.shutdown {
			e.streamCond.Wait()
		}
		if e.shutdown {
			remaining := e.streamQueue
			e.streamQueue = nil
			e.streamCond.Broadcast()
			e.streamMu.Unlock()
			for _, item := range remaining {
				e.finishStream(item, model.StatusPreempted, "executor shut down")
			}
			return
		}
		item := e.streamQueue[0]
		e.streamQueue = e.streamQueue[1:]
		epoch := e.streamEpoch
		e.streamMu.Unlock()

		e.dispatchStream(item, epoch)
	}
}

// dispatchStream sends one streamed item to its controllers. It overlaps with
// the items already in flight unless they share a controller, in which case
// it waits for that controller to free up. epoch is the stop epoch observed
// when the item was popped; a stop in between preempts the item instead of
// dispatching it.
func (e *Executor) dispatchStream(item *streamItem, epoch int) {
	e.streamMu.Lock()
	for e.streamEpoch == epoch && !e.shutdown && e.conflictsLocked(item.ctx.Controllers) {
		e.streamCond.Wait()
	}
	if e.streamEpoch != epoch || e.shutdown {
		e.streamMu.Unlock()
		e.finishStream(item, model.StatusPreempted, "stopped before dispatch")
		return
	}
	e.streamMu.Unlock()

	// Activation may block on the provider; done outside all locks.
	if err := e.registry.EnsureActive(item.ctx.Controllers, e.infoMaxAge); err != nil {
		e.logger.Error("controller activation failed",
			"execution_id", item.rec.ID, "error", err)
		e.finishStream(item, model.StatusAborted, fmt.Sprintf("activating controllers: %v", err))
		return
	}

	type dispatch struct {
		handle controller.Handle
		part   model.JointTrajectory
	}
	var dispatches []dispatch
	var handles []controller.Handle
	for k, name := range item.ctx.Controllers {
		if item.ctx.Parts[k].Empty() {
			continue
		}
		h, err := e.registry.Handle(name)
		if err != nil {
			e.finishStream(item, model.StatusAborted, fmt.Sprintf("controller %s: %v", name, err))
			return
		}
		dispatches = append(dispatches, dispatch{handle: h, part: item.ctx.Parts[k]})
		handles = append(handles, h)
	}

	e.streamMu.Lock()
	if e.streamEpoch != epoch || e.shutdown {
		e.streamMu.Unlock()
		e.finishStream(item, model.StatusPreempted, "stopped before dispatch")
		return
	}
	item.handles = handles
	item.start = time.Now()
	e.inFlight[item.rec.ID] = item
	streamBacklog.Set(float64(len(e.streamQueue) + len(e.inFlight)))
	e.streamMu.Unlock()

	startedAt := item.start.UTC()
	item.rec.Status = string(model.StatusRunning)
	item.rec.StartedAt = &startedAt
	if err := e.store.UpdateExecutionStatus(context.Background(), item.rec.ID, item.rec.Status); err != nil {
		e.logger.Error("failed to update execution status",
			"execution_id", item.rec.ID, "error", err)
	}
	e.broker.Publish(item.rec.ID, model.StatusRunning, "dispatched")

	for sent, d := range dispatches {
		if err := d.handle.SendTrajectory(d.part); err != nil {
			e.logger.Error("trajectory dispatch failed",
				"execution_id", item.rec.ID, "controller", d.handle.Name(), "error", err)
			for _, prev := range dispatches[:sent] {
				prev.handle.Cancel()
			}
			e.finishStream(item, model.StatusAborted,
				fmt.Sprintf("sending to %s: %v", d.handle.Name(), err))
			return
		}
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.superviseStream(item)
	}()
}

// superviseStream waits for one in-flight streamed item to reach a terminal
// status, enforcing the duration budget, and finishes it.
func (e *Executor) superviseStream(item *streamItem) {
	budget := e.contextBudget(item.ctx)
	timedOut := false
	for _, h := range item.handles {
		if budget <= 0 {
			h.Wait(0)
			continue
		}
		remaining := budget - time.Since(item.start)
		if remaining <= 0 || !h.Wait(remaining) {
			timedOut = true
			break
		}
	}

	status := model.StatusSucceeded
	detail := ""
	if timedOut {
		e.logger.Warn("streamed trajectory exceeded duration budget",
			"execution_id", item.rec.ID, "budget", budget)
		for _, h := range item.handles {
			h.Cancel()
		}
		for _, h := range item.handles {
			h.Wait(0)
		}
		status = model.StatusTimedOut
		detail = fmt.Sprintf("exceeded budget %s", budget)
	} else {
		for _, h := range item.handles {
			switch s := h.Status(); s {
			case model.StatusAborted, model.StatusFailed:
				status = model.StatusAborted
				detail = fmt.Sprintf("controller %s reported %s", h.Name(), s)
			case model.StatusPreempted:
				if status == model.StatusSucceeded {
					status, detail = model.StatusPreempted, "canceled"
				}
			}
		}
	}

	e.finishStream(item, status, detail)
}

// finishStream records the terminal status of a streamed item and delivers
// its callback exactly once. The in-flight slot is released before any
// persistence or callback so the next item can overlap immediately, and the
// callback runs with no locks held.
func (e *Executor) finishStream(item *streamItem, status model.ExecutionStatus, detail string) {
	e.mu.Lock()
	e.lastStatus = status
	e.mu.Unlock()

	e.streamMu.Lock()
	delete(e.inFlight, item.rec.ID)
	streamBacklog.Set(float64(len(e.streamQueue) + len(e.inFlight)))
	e.streamCond.Broadcast()
	e.streamMu.Unlock()

	now := time.Now().UTC()
	rec := item.rec
	rec.Status = string(status)
	rec.Error = detail
	if status == model.StatusSucceeded {
		rec.Error = ""
	}
	rec.FinishedAt = &now
	if rec.StartedAt != nil {
		elapsed := now.Sub(*rec.StartedAt)
		ms := int(elapsed.Milliseconds())
		rec.DurationMS = &ms
		executionDuration.WithLabelValues(model.ModeStream).Observe(elapsed.Seconds())
	}
	if err := e.store.UpdateExecution(context.Background(), rec); err != nil {
		e.logger.Error("failed to update execution record", "execution_id", rec.ID, "error", err)
	}

	executionsTotal.WithLabelValues(model.ModeStream, string(status)).Inc()
	e.broker.Publish(rec.ID, status, detail)
	e.broker.Close(rec.ID)
	e.logger.Info("stream execution finished", "execution_id", rec.ID, "status", status)

	if item.cb != nil {
		item.cb(status)
	}
}

// conflictsLocked reports whether any in-flight item shares a controller with
// controllers. Caller holds streamMu.
func (e *Executor) conflictsLocked(controllers []string) bool {
	for _, item := range e.inFlight {
		for _, n := range item.ctx.Controllers {
			if slices.Contains(controllers, n) {
				return true
			}
		}
	}
	return false
}
