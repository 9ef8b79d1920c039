package model

import "time"

// ExecutionStatus is the terminal (or in-flight) outcome of one execution
// attempt — a batch run, a streamed trajectory, or an ExecuteAndWait call.
type ExecutionStatus string

// Execution status values. Exactly one terminal status is produced per
// execution attempt.
const (
	StatusUnknown   ExecutionStatus = "unknown"
	StatusPending   ExecutionStatus = "pending"
	StatusRunning   ExecutionStatus = "running"
	StatusSucceeded ExecutionStatus = "succeeded"
	StatusPreempted ExecutionStatus = "preempted"
	StatusTimedOut  ExecutionStatus = "timed_out"
	StatusAborted   ExecutionStatus = "aborted"
	StatusFailed    ExecutionStatus = "failed"
)

// Terminal reports whether the status marks a finished execution attempt.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusPreempted, StatusTimedOut, StatusAborted, StatusFailed:
		return true
	}
	return false
}

// Execution mode constants.
const (
	ModeBatch  = "batch"
	ModeStream = "stream"
)

// ExecutionRecord is the persisted view of one execution attempt.
type ExecutionRecord struct {
	ID          string     `json:"id"`
	Mode        string     `json:"mode"`
	Status      string     `json:"status"`
	Controllers []string   `json:"controllers,omitempty"`
	Contexts    int        `json:"contexts"`
	Error       string     `json:"error,omitempty"`
	DurationMS  *int       `json:"duration_ms,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}
