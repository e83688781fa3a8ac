package database

import (
	"context"
	"fmt"
)

func (db *PostgresDB) InitSchema(ctx context.Context) error {
	runsQuery := `
		CREATE TABLE IF NOT EXISTS research_runs (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			user_id TEXT NOT NULL DEFAULT '',
			question TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			state JSONB,
			report JSONB,
			error TEXT,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);
	`
	if _, err := db.Pool.Exec(ctx, runsQuery); err != nil {
		return fmt.Errorf("failed to create research_runs table: %w", err)
	}

	logsQuery := `
		CREATE TABLE IF NOT EXISTS research_logs (
			id SERIAL PRIMARY KEY,
			run_id UUID NOT NULL REFERENCES research_runs(id) ON DELETE CASCADE,
			timestamp TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			metadata JSONB
		);
	`
	if _, err := db.Pool.Exec(ctx, logsQuery); err != nil {
		return fmt.Errorf("failed to create research_logs table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_research_logs_run_id ON research_logs(run_id)",
		"CREATE INDEX IF NOT EXISTS idx_research_runs_created_at ON research_runs(created_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_research_runs_user_id ON research_runs(user_id)",
	}
	for _, q := range indexes {
		if _, err := db.Pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}
