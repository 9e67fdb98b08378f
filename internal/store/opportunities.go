package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/chainhound/chainhound/internal/core"
)

// RecordStatus upserts the opportunity row at its current status. When a
// settlement result accompanies the transition, an execution history row is
// written as well.
func (s *Store) RecordStatus(ctx context.Context, opp *core.Opportunity, result *core.ExecutionResult) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if opp == nil {
		return errors.New("opportunity is required")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	now := time.Now().UTC().Unix()

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO opportunities
			(id, protocol, target, estimated_profit, estimated_cost, risk_score, health_factor, status, retry_count, queued_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			retry_count = excluded.retry_count,
			queued_at = excluded.queued_at,
			updated_at = excluded.updated_at
	`, opp.ID, string(opp.Protocol), opp.Target, opp.EstimatedProfit, opp.EstimatedCost,
		opp.RiskScore, opp.HealthFactor, string(opp.Status), opp.RetryCount,
		opp.QueuedAt.UTC().Unix(), now)
	if err != nil {
		return fmt.Errorf("store opportunity status: %w", err)
	}

	if result == nil {
		return nil
	}

	var ref sql.NullString
	if result.OperationRef != "" {
		ref = sql.NullString{String: result.OperationRef, Valid: true}
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO executions (opportunity_id, operation_ref, realized_profit, realized_cost, latency_ms, executed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, opp.ID, ref, result.RealizedProfit, result.RealizedCost, result.Latency.Milliseconds(), now)
	if err != nil {
		return fmt.Errorf("store execution result: %w", err)
	}

	return nil
}

// GetOpportunity fetches a persisted opportunity by id. Returns nil when
// the id is unknown.
func (s *Store) GetOpportunity(ctx context.Context, id string) (*core.Opportunity, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	var (
		opp      core.Opportunity
		protocol string
		status   string
		queuedAt int64
	)

	row := s.DB.QueryRowContext(ctx, `
		SELECT id, protocol, target, estimated_profit, estimated_cost, risk_score, health_factor, status, retry_count, queued_at
		FROM opportunities
		WHERE id = ?
	`, id)

	err := row.Scan(&opp.ID, &protocol, &opp.Target, &opp.EstimatedProfit, &opp.EstimatedCost,
		&opp.RiskScore, &opp.HealthFactor, &status, &opp.RetryCount, &queuedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch opportunity: %w", err)
	}

	opp.Protocol = core.Protocol(protocol)
	opp.Status = core.Status(status)
	opp.QueuedAt = time.Unix(queuedAt, 0).UTC()
	return &opp, nil
}

// ExecutionRecord is one settled execution from the history table.
type ExecutionRecord struct {
	OpportunityID  string    `json:"opportunity_id"`
	OperationRef   string    `json:"operation_ref,omitempty"`
	RealizedProfit float64   `json:"realized_profit"`
	RealizedCost   float64   `json:"realized_cost"`
	LatencyMS      int64     `json:"latency_ms"`
	ExecutedAt     time.Time `json:"executed_at"`
}

// RecentExecutions returns up to limit settled executions, newest first.
func (s *Store) RecentExecutions(ctx context.Context, limit int) ([]ExecutionRecord, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if limit <= 0 {
		limit = 50
	}

	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT opportunity_id, operation_ref, realized_profit, realized_cost, latency_ms, executed_at
		FROM executions
		ORDER BY executed_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []ExecutionRecord
	for rows.Next() {
		var (
			rec        ExecutionRecord
			ref        sql.NullString
			executedAt int64
		)
		if err := rows.Scan(&rec.OpportunityID, &ref, &rec.RealizedProfit, &rec.RealizedCost, &rec.LatencyMS, &executedAt); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		if ref.Valid {
			rec.OperationRef = ref.String
		}
		rec.ExecutedAt = time.Unix(executedAt, 0).UTC()
		records = append(records, rec)
	}

	return records, rows.Err()
}
