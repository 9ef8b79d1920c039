package store

import (
	"context"
	"errors"

	"github.com/seantiz/traject/internal/model"
)

// ErrNotFound is returned when an execution record is not found.
var ErrNotFound = errors.New("execution not found")

// ExecutionStats holds aggregate statistics over recorded executions.
type ExecutionStats struct {
	Total         int            `json:"total"`
	CountByStatus map[string]int `json:"count_by_status"`
	CountByMode   map[string]int `json:"count_by_mode"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
}

// Store defines the persistence operations for execution history.
type Store interface {
	CreateExecution(ctx context.Context, rec *model.ExecutionRecord) error
	GetExecution(ctx context.Context, id string) (*model.ExecutionRecord, error)
	ListExecutions(ctx context.Context, limit, offset int) ([]*model.ExecutionRecord, int, error)
	UpdateExecution(ctx context.Context, rec *model.ExecutionRecord) error
	UpdateExecutionStatus(ctx context.Context, id, status string) error
	ExecutionStats(ctx context.Context) (*ExecutionStats, error)
	Close() error
}
