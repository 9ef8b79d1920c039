package executor

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/seantiz/traject/internal/config"
	"github.com/seantiz/traject/internal/controller"
	"github.com/seantiz/traject/internal/model"
	"github.com/seantiz/traject/internal/store"
)

// CompletionCallback receives the terminal status of one execution attempt.
// It is invoked exactly once per attempt, with no executor locks held, so it
// may call back into the executor (StopExecution included) safely.
type CompletionCallback func(status model.ExecutionStatus)

// SegmentCallback is invoked after each batch context completes successfully,
// with the context's queue index, before the cursor advances.
type SegmentCallback func(index int)

// StateSensor reports the externally-sensed joint positions. It is the
// Validator's only input and is also polled when waiting for the robot to
// settle after a run.
type StateSensor interface {
	CurrentJointPositions() (map[string]float64, error)
}

// Executor owns the batch queue, the streaming queue, and the workers that
// drain them. See the package documentation for the concurrency contract.
type Executor struct {
	registry   *controller.Registry
	store      store.Store
	broker     *Broker
	logger     *slog.Logger
	sensor     StateSensor
	opts       *Options
	infoMaxAge time.Duration

	wg sync.WaitGroup

	// mu guards the batch run state below; cond wakes waiters on run
	// completion or preemption.
	mu             sync.Mutex
	cond           *sync.Cond
	trajectories   []*ExecutionContext
	currentContext int
	activeHandles  []controller.Handle
	runActive      bool
	stopRequested  bool
	stopAutoClear  bool
	lastStatus     model.ExecutionStatus
	closed         bool

	// timeMu guards the expected-position time index, kept separate because
	// it is read far more often than the run state is touched.
	timeMu      sync.Mutex
	timeIndex   []time.Time
	timeContext int

	// streamMu guards the streaming queue and in-flight set; streamCond
	// wakes the worker and conflict waiters.
	streamMu    sync.Mutex
	streamCond  *sync.Cond
	streamQueue []*streamItem
	inFlight    map[string]*streamItem
	streamEpoch int
	shutdown    bool
	workerDone  chan struct{}
}

// New creates an executor and starts its streaming worker. The sensor may be
// nil, in which case start-state validation and settle waits are skipped.
func New(reg *controller.Registry, s store.Store, sensor StateSensor, ec config.ExecutionConfig, logger *slog.Logger) *Executor {
	e := &Executor{
		registry:       reg,
		store:          s,
		broker:         NewBroker(),
		logger:         logger,
		sensor:         sensor,
		opts:           OptionsFrom(ec),
		infoMaxAge:     secondsToDuration(ec.ControllerInfoMaxAgeS),
		currentContext: -1,
		lastStatus:     model.StatusUnknown,
		timeContext:    -1,
		inFlight:       make(map[string]*streamItem),
		workerDone:     make(chan struct{}),
	}
	e.cond = sync.NewCond(&e.mu)
	e.streamCond = sync.NewCond(&e.streamMu)
	go e.streamWorker()
	return e
}

// Registry returns the controller registry the executor resolves against.
func (e *Executor) Registry() *controller.Registry { return e.registry }

// Broker returns the executor's event broker for SSE subscription.
func (e *Executor) Broker() *Broker { return e.broker }

// Options returns the runtime-tunable execution knobs.
func (e *Executor) Options() *Options { return e.opts }

// IsManagingControllers reports whether this executor may activate and
// deactivate controllers.
func (e *Executor) IsManagingControllers() bool { return e.registry.Managing() }

// LastExecutionStatus returns the terminal status of the most recently
// finished execution attempt, or unknown if nothing has been executed.
func (e *Executor) LastExecutionStatus() model.ExecutionStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastStatus
}

// Trajectories returns a snapshot of the queued batch contexts.
func (e *Executor) Trajectories() []*ExecutionContext {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.trajectories)
}

// Push resolves a trajectory and appends the resulting context to the batch
// queue. controllers may name the controllers explicitly; when empty the
// covering set is selected automatically. Rejected while a run is active.
func (e *Executor) Push(traj model.JointTrajectory, controllers ...string) error {
	ctx, err := e.configure(traj, controllers)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrShutdown
	}
	if e.runActive {
		return ErrExecutionActive
	}
	e.trajectories = append(e.trajectories, ctx)
	queuedTrajectories.Set(float64(len(e.trajectories)))
	e.logger.Debug("trajectory queued",
		"controllers", ctx.Controllers, "queued", len(e.trajectories))
	return nil
}

// Execute launches asynchronous execution of the queued contexts, stopping
// any previous run first. The completion callback is invoked exactly once
// with the run's terminal status; the segment callback after each context.
// When autoClear is set the queue is emptied once the run finishes. Returns
// the execution record ID.
func (e *Executor) Execute(cb CompletionCallback, segCb SegmentCallback, autoClear bool) (string, error) {
	e.StopExecution(false)

	e.mu.Lock()
	for e.runActive {
		e.cond.Wait()
	}
	if e.closed {
		e.mu.Unlock()
		return "", ErrShutdown
	}
	if len(e.trajectories) == 0 {
		e.lastStatus = model.StatusSucceeded
		e.mu.Unlock()
		if cb != nil {
			cb(model.StatusSucceeded)
		}
		return "", nil
	}

	now := time.Now().UTC()
	rec := &model.ExecutionRecord{
		ID:          model.NewID(),
		Mode:        model.ModeBatch,
		Status:      string(model.StatusRunning),
		Controllers: queuedControllers(e.trajectories),
		Contexts:    len(e.trajectories),
		CreatedAt:   now,
		StartedAt:   &now,
	}
	// Reserve the run before the store call so a concurrent Execute cannot
	// interleave; the store call itself happens outside the lock.
	e.runActive = true
	e.stopRequested = false
	e.stopAutoClear = false
	e.currentContext = -1
	e.mu.Unlock()

	if err := e.store.CreateExecution(context.Background(), rec); err != nil {
		e.mu.Lock()
		e.runActive = false
		e.cond.Broadcast()
		e.mu.Unlock()
		return "", fmt.Errorf("create execution record: %w", err)
	}

	e.logger.Info("batch execution started",
		"execution_id", rec.ID, "contexts", rec.Contexts, "controllers", rec.Controllers)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runBatch(rec, cb, segCb, autoClear)
	}()
	return rec.ID, nil
}

// ExecuteAndWait runs the queued contexts and blocks until the run reaches a
// terminal status, which it returns.
func (e *Executor) ExecuteAndWait(autoClear bool) (model.ExecutionStatus, error) {
	if _, err := e.Execute(nil, nil, autoClear); err != nil {
		return model.StatusUnknown, err
	}
	return e.WaitForExecution(), nil
}

// WaitForExecution blocks until the active batch run (if any) reaches a
// terminal status and the streaming queue drains, then returns the last
// terminal status. Returns preempted immediately when nothing has ever
// executed.
func (e *Executor) WaitForExecution() model.ExecutionStatus {
	e.mu.Lock()
	for e.runActive {
		e.cond.Wait()
	}
	e.mu.Unlock()

	e.streamMu.Lock()
	for len(e.streamQueue) > 0 || len(e.inFlight) > 0 {
		e.streamCond.Wait()
	}
	e.streamMu.Unlock()

	e.mu.Lock()
	status := e.lastStatus
	e.mu.Unlock()
	if status == model.StatusUnknown {
		return model.StatusPreempted
	}
	return status
}

// StopExecution cancels whatever is executing: the in-flight streamed item
// and the rest of the streaming queue are preempted, and an active batch run
// is flagged to unwind at its next wait point. It never blocks on the run
// goroutine, so it is safe to call from a completion callback. When autoClear
// is set the batch queue is left empty.
func (e *Executor) StopExecution(autoClear bool) {
	// Streaming side: bump the epoch so dispatches racing with this stop
	// preempt themselves, drain the queue, and cancel whatever is in flight.
	e.streamMu.Lock()
	e.streamEpoch++
	dropped := e.streamQueue
	e.streamQueue = nil
	var cancel []controller.Handle
	for _, item := range e.inFlight {
		cancel = append(cancel, item.handles...)
	}
	streamBacklog.Set(float64(len(e.inFlight)))
	e.streamCond.Broadcast()
	e.streamMu.Unlock()

	for _, h := range cancel {
		if err := h.Cancel(); err != nil {
			e.logger.Warn("cancel failed", "controller", h.Name(), "error", err)
		}
	}
	for _, item := range dropped {
		e.finishStream(item, model.StatusPreempted, "stopped before dispatch")
	}

	// Batch side: flag the run and cancel the live handles; the run
	// goroutine observes the flag at its next wait point and unwinds.
	e.mu.Lock()
	if e.runActive {
		if !e.stopRequested {
			e.stopRequested = true
			e.logger.Info("stopping batch execution")
		}
		if autoClear {
			e.stopAutoClear = true
		}
		handles := slices.Clone(e.activeHandles)
		e.cond.Broadcast()
		e.mu.Unlock()
		for _, h := range handles {
			if err := h.Cancel(); err != nil {
				e.logger.Warn("cancel failed", "controller", h.Name(), "error", err)
			}
		}
		return
	}
	if autoClear {
		e.trajectories = nil
		queuedTrajectories.Set(0)
	}
	e.mu.Unlock()
}

// Clear empties the batch queue. Rejected while a run is active.
func (e *Executor) Clear() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runActive {
		return ErrExecutionActive
	}
	e.trajectories = nil
	queuedTrajectories.Set(0)
	return nil
}

// ProcessEvent maps a named event to an action. The only recognized event is
// "stop"; anything else is logged and ignored. Safe to call from within a
// completion callback.
func (e *Executor) ProcessEvent(event string) {
	switch event {
	case "stop":
		e.StopExecution(true)
	default:
		e.logger.Warn("ignoring unknown event", "event", event)
	}
}

// Close stops all execution, shuts the streaming worker down, and waits for
// every in-flight goroutine to finish. The executor accepts no work after.
func (e *Executor) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.StopExecution(false)

	e.streamMu.Lock()
	e.shutdown = true
	e.streamCond.Broadcast()
	e.streamMu.Unlock()

	<-e.workerDone
	e.wg.Wait()
}

// EnsureActiveController makes sure one controller is active, switching it in
// if this executor manages controllers.
func (e *Executor) EnsureActiveController(name string) error {
	return e.registry.EnsureActive([]string{name}, e.infoMaxAge)
}

// EnsureActiveControllers makes sure every named controller is active.
func (e *Executor) EnsureActiveControllers(names []string) error {
	return e.registry.EnsureActive(names, e.infoMaxAge)
}

// EnsureActiveControllersForJoints selects a covering controller set for the
// given joints and makes sure it is active.
func (e *Executor) EnsureActiveControllersForJoints(joints []string) error {
	all, err := e.registry.All(e.infoMaxAge)
	if err != nil {
		return err
	}
	selected, err := controller.SelectControllers(joints, all)
	if err != nil {
		return err
	}
	return e.registry.EnsureActive(selected, e.infoMaxAge)
}

// IsControllerActive reports whether one controller is currently active.
func (e *Executor) IsControllerActive(name string) bool {
	return e.registry.IsActive(name, e.infoMaxAge)
}

// AreControllersActive reports whether every named controller is active.
func (e *Executor) AreControllersActive(names []string) bool {
	return e.registry.AreActive(names, e.infoMaxAge)
}

// Controllers returns the registry's current view of every known controller.
func (e *Executor) Controllers() ([]controller.Info, error) {
	return e.registry.All(e.infoMaxAge)
}

// EnableExecutionDurationMonitoring toggles duration-budget enforcement.
func (e *Executor) EnableExecutionDurationMonitoring(flag bool) {
	e.opts.SetDurationMonitoring(flag)
}

// SetAllowedExecutionDurationScaling replaces the global budget multiplier.
func (e *Executor) SetAllowedExecutionDurationScaling(scaling float64) {
	e.opts.SetDurationScaling(scaling)
}

// SetAllowedGoalDurationMargin replaces the global budget margin.
func (e *Executor) SetAllowedGoalDurationMargin(margin time.Duration) {
	e.opts.SetGoalMargin(margin)
}

// SetAllowedStartTolerance replaces the start-state validation tolerance.
func (e *Executor) SetAllowedStartTolerance(tolerance float64) {
	e.opts.SetStartTolerance(tolerance)
}

// SetWaitForTrajectoryCompletion toggles the post-run settle wait.
func (e *Executor) SetWaitForTrajectoryCompletion(flag bool) {
	e.opts.SetWaitForCompletion(flag)
}

// queuedControllers returns the deduplicated controllers across the queued
// contexts, in queue order.
func queuedControllers(contexts []*ExecutionContext) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, ctx := range contexts {
		for _, n := range ctx.Controllers {
			if _, ok := seen[n]; ok {
				continue
			}
			seen[n] = struct{}{}
			names = append(names, n)
		}
	}
	return names
}
