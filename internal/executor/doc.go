// Package executor provides the trajectory execution orchestration engine.
// It resolves controllers through the registry, splits combined trajectories
// into per-controller parts, validates start states against the sensed robot
// state, and runs two execution paths: a queued batch mode (Push then
// Execute) and a pipelined streaming mode (PushAndExecute) served by a
// dedicated worker. Duration budgets are enforced in the same wait loops
// that poll controller handles, and a stop request preempts whichever path
// is active, delivering exactly one terminal status per execution attempt.
package executor
