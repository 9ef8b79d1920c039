package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/seantiz/traject/internal/model"

	_ "modernc.org/sqlite"
)

const createExecutionsTable = `
CREATE TABLE IF NOT EXISTS executions (
    id          TEXT PRIMARY KEY,
    mode        TEXT NOT NULL,
    status      TEXT NOT NULL,
    controllers TEXT,
    contexts    INTEGER NOT NULL DEFAULT 0,
    error       TEXT,
    duration_ms INTEGER,
    created_at  DATETIME NOT NULL,
    started_at  DATETIME,
    finished_at DATETIME
)`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createExecutionsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create executions table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateExecution inserts a new execution record.
func (s *SQLiteStore) CreateExecution(ctx context.Context, rec *model.ExecutionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions (
			id, mode, status, controllers, contexts, error,
			duration_ms, created_at, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Mode, rec.Status, joinControllers(rec.Controllers), rec.Contexts,
		rec.Error, rec.DurationMS, rec.CreatedAt, rec.StartedAt, rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// GetExecution retrieves an execution record by ID.
func (s *SQLiteStore) GetExecution(ctx context.Context, id string) (*model.ExecutionRecord, error) {
	rec := &model.ExecutionRecord{}
	var controllers string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, mode, status, controllers, contexts, error,
			duration_ms, created_at, started_at, finished_at
		FROM executions WHERE id = ?`, id,
	).Scan(
		&rec.ID, &rec.Mode, &rec.Status, &controllers, &rec.Contexts, &rec.Error,
		&rec.DurationMS, &rec.CreatedAt, &rec.StartedAt, &rec.FinishedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}
	rec.Controllers = splitControllers(controllers)
	return rec, nil
}

// ListExecutions returns a paginated list of execution records ordered by
// created_at DESC, along with the total count.
func (s *SQLiteStore) ListExecutions(ctx context.Context, limit, offset int) ([]*model.ExecutionRecord, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM executions").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count executions: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, mode, status, controllers, contexts, error,
			duration_ms, created_at, started_at, finished_at
		FROM executions ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var recs []*model.ExecutionRecord
	for rows.Next() {
		rec := &model.ExecutionRecord{}
		var controllers string
		if err := rows.Scan(
			&rec.ID, &rec.Mode, &rec.Status, &controllers, &rec.Contexts, &rec.Error,
			&rec.DurationMS, &rec.CreatedAt, &rec.StartedAt, &rec.FinishedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan execution: %w", err)
		}
		rec.Controllers = splitControllers(controllers)
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate executions: %w", err)
	}

	return recs, total, nil
}

// UpdateExecution updates the mutable fields of an execution record.
func (s *SQLiteStore) UpdateExecution(ctx context.Context, rec *model.ExecutionRecord) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE executions SET status = ?, controllers = ?, contexts = ?, error = ?,
			duration_ms = ?, started_at = ?, finished_at = ?
		WHERE id = ?`,
		rec.Status, joinControllers(rec.Controllers), rec.Contexts, rec.Error,
		rec.DurationMS, rec.StartedAt, rec.FinishedAt, rec.ID,
	)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	return checkAffected(result)
}

// UpdateExecutionStatus updates only the status of an execution record. The
// transition to running also sets started_at; terminal statuses also set
// finished_at.
func (s *SQLiteStore) UpdateExecutionStatus(ctx context.Context, id, status string) error {
	var result sql.Result
	var err error

	switch {
	case model.ExecutionStatus(status).Terminal():
		result, err = s.db.ExecContext(ctx,
			"UPDATE executions SET status = ?, finished_at = ? WHERE id = ?",
			status, time.Now().UTC(), id,
		)
	case status == string(model.StatusRunning):
		result, err = s.db.ExecContext(ctx,
			"UPDATE executions SET status = ?, started_at = ? WHERE id = ?",
			status, time.Now().UTC(), id,
		)
	default:
		result, err = s.db.ExecContext(ctx,
			"UPDATE executions SET status = ? WHERE id = ?",
			status, id,
		)
	}
	if err != nil {
		return fmt.Errorf("update execution status: %w", err)
	}
	return checkAffected(result)
}

// ExecutionStats aggregates counts and average duration across all records.
func (s *SQLiteStore) ExecutionStats(ctx context.Context) (*ExecutionStats, error) {
	stats := &ExecutionStats{
		CountByStatus: make(map[string]int),
		CountByMode:   make(map[string]int),
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM executions GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		stats.CountByStatus[status] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}

	modeRows, err := s.db.QueryContext(ctx,
		"SELECT mode, COUNT(*) FROM executions GROUP BY mode")
	if err != nil {
		return nil, fmt.Errorf("count by mode: %w", err)
	}
	defer modeRows.Close()
	for modeRows.Next() {
		var mode string
		var n int
		if err := modeRows.Scan(&mode, &n); err != nil {
			return nil, fmt.Errorf("scan mode count: %w", err)
		}
		stats.CountByMode[mode] = n
	}
	if err := modeRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mode counts: %w", err)
	}

	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx,
		"SELECT AVG(duration_ms) FROM executions WHERE duration_ms IS NOT NULL").Scan(&avg); err != nil {
		return nil, fmt.Errorf("average duration: %w", err)
	}
	if avg.Valid {
		stats.AvgDurationMS = avg.Float64
	}

	return stats, nil
}

func checkAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func joinControllers(names []string) string {
	return strings.Join(names, ",")
}

func splitControllers(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
