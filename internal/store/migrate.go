package store

import (
	"context"
	"errors"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS opportunities (
		id TEXT PRIMARY KEY,
		protocol TEXT NOT NULL,
		target TEXT NOT NULL,
		estimated_profit REAL NOT NULL,
		estimated_cost REAL NOT NULL,
		risk_score REAL NOT NULL,
		health_factor REAL NOT NULL,
		status TEXT NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		queued_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_opportunities_status ON opportunities(status);`,
	`CREATE INDEX IF NOT EXISTS idx_opportunities_target ON opportunities(target);`,
	`CREATE TABLE IF NOT EXISTS executions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		opportunity_id TEXT NOT NULL,
		operation_ref TEXT,
		realized_profit REAL NOT NULL,
		realized_cost REAL NOT NULL,
		latency_ms INTEGER NOT NULL,
		executed_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_executions_opportunity ON executions(opportunity_id);`,
	`CREATE INDEX IF NOT EXISTS idx_executions_executed_at ON executions(executed_at);`,
}

// Migrate ensures the required database tables exist.
func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	for _, stmt := range schemaStatements {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store migration failed: %w", err)
		}
	}

	return nil
}
