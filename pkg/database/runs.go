package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run is one stored research run. State holds the last progress snapshot
// and Report the final (or partial) report, both as JSON.
type Run struct {
	ID        uuid.UUID       `json:"id"`
	UserID    string          `json:"user_id"`
	Question  string          `json:"question"`
	Status    RunStatus       `json:"status"`
	State     json.RawMessage `json:"state,omitempty"`
	Report    json.RawMessage `json:"report,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type LogEntry struct {
	ID        int             `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata"`
}

const runColumns = `id, user_id, question, status, state, report, COALESCE(error, ''), created_at, updated_at`

func scanRun(row pgx.Row) (*Run, error) {
	var (
		run           Run
		state, report []byte
	)
	if err := row.Scan(&run.ID, &run.UserID, &run.Question, &run.Status, &state, &report, &run.Error, &run.CreatedAt, &run.UpdatedAt); err != nil {
		return nil, err
	}
	if len(state) > 0 {
		run.State = state
	}
	if len(report) > 0 {
		run.Report = report
	}
	return &run, nil
}

func (db *PostgresDB) CreateRun(ctx context.Context, userID, question string) (*Run, error) {
	query := `
		INSERT INTO research_runs (id, user_id, question, status)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + runColumns

	run, err := scanRun(db.Pool.QueryRow(ctx, query, uuid.New(), userID, question, RunPending))
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

func (db *PostgresDB) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM research_runs WHERE id = $1`

	run, err := scanRun(db.Pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the newest runs first. An empty userID lists every run.
func (db *PostgresDB) ListRuns(ctx context.Context, userID string, limit int) ([]Run, error) {
	query := `
		SELECT ` + runColumns + `
		FROM research_runs
		WHERE $1 = '' OR user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := db.Pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

func (db *PostgresDB) SetRunStatus(ctx context.Context, id uuid.UUID, status RunStatus) error {
	_, err := db.Pool.Exec(ctx, "UPDATE research_runs SET status = $2, updated_at = NOW() WHERE id = $1", id, status)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}
	return nil
}

func (db *PostgresDB) SaveRunState(ctx context.Context, id uuid.UUID, state []byte) error {
	_, err := db.Pool.Exec(ctx, "UPDATE research_runs SET state = $2, updated_at = NOW() WHERE id = $1", id, state)
	if err != nil {
		return fmt.Errorf("failed to save run state: %w", err)
	}
	return nil
}

// FinishRun stores the report and the terminal status. reason is kept only
// for failed runs.
func (db *PostgresDB) FinishRun(ctx context.Context, id uuid.UUID, status RunStatus, report []byte, reason string) error {
	var errText *string
	if reason != "" {
		errText = &reason
	}
	_, err := db.Pool.Exec(ctx,
		"UPDATE research_runs SET status = $2, report = $3, error = $4, updated_at = NOW() WHERE id = $1",
		id, status, report, errText)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

func (db *PostgresDB) InsertLog(ctx context.Context, runID uuid.UUID, ts time.Time, level, message string, metadata []byte) error {
	query := `
		INSERT INTO research_logs (run_id, timestamp, level, message, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := db.Pool.Exec(ctx, query, runID, ts, level, message, metadata); err != nil {
		return fmt.Errorf("failed to insert log: %w", err)
	}
	return nil
}

func (db *PostgresDB) RunLogs(ctx context.Context, runID uuid.UUID) ([]LogEntry, error) {
	query := `
		SELECT id, timestamp, level, message, COALESCE(metadata, '{}'::jsonb)
		FROM research_logs
		WHERE run_id = $1
		ORDER BY id ASC
	`
	rows, err := db.Pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}
	defer rows.Close()

	logs := []LogEntry{}
	for rows.Next() {
		var (
			l    LogEntry
			meta []byte
		)
		if err := rows.Scan(&l.ID, &l.Timestamp, &l.Level, &l.Message, &meta); err != nil {
			return nil, fmt.Errorf("failed to scan log: %w", err)
		}
		l.Metadata = meta
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating logs: %w", err)
	}
	return logs, nil
}
