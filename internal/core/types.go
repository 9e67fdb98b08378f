package core

import "time"

// Protocol identifies the on-chain protocol an opportunity targets.
type Protocol string

const (
	ProtocolArbitrage   Protocol = "arbitrage"
	ProtocolLiquidation Protocol = "liquidation"
)

// Status represents the lifecycle state of an opportunity.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusExecuting Status = "executing"
	StatusExecuted  Status = "executed"
	StatusFailed    Status = "failed"
	StatusDiscarded Status = "discarded-stale"
)

// Opportunity is a detected candidate profitable action awaiting execution.
// The detector creates it; the execution queue owns it afterwards and
// mutates only RetryCount and Status.
type Opportunity struct {
	ID              string    `json:"id"`
	Protocol        Protocol  `json:"protocol"`
	Target          string    `json:"target"`
	EstimatedProfit float64   `json:"estimated_profit"`
	EstimatedCost   float64   `json:"estimated_cost"`
	RiskScore       float64   `json:"risk_score"`
	HealthFactor    float64   `json:"health_factor"`
	QueuedAt        time.Time `json:"queued_at"`
	RetryCount      int       `json:"retry_count"`
	Status          Status    `json:"status"`
}

// Eligible reports whether the opportunity is still actionable.
// A liquidation whose health factor has recovered to 1.0 or above is no
// longer liquidatable; arbitrage opportunities carry a zero health factor.
func (o *Opportunity) Eligible() bool {
	if o == nil {
		return false
	}
	if o.Protocol == ProtocolLiquidation {
		return o.HealthFactor > 0 && o.HealthFactor < 1.0
	}
	return true
}

// ExecutionResult reports the settled outcome of a single execution attempt.
type ExecutionResult struct {
	OpportunityID  string        `json:"opportunity_id"`
	RealizedProfit float64       `json:"realized_profit"`
	RealizedCost   float64       `json:"realized_cost"`
	Latency        time.Duration `json:"latency"`
	OperationRef   string        `json:"operation_ref,omitempty"`
}

// ExecutionStats is a point-in-time snapshot of execution queue counters.
type ExecutionStats struct {
	TotalExecutions      int64         `json:"total_executions"`
	SuccessfulExecutions int64         `json:"successful_executions"`
	FailedExecutions     int64         `json:"failed_executions"`
	DiscardedStale       int64         `json:"discarded_stale"`
	TotalProfit          float64       `json:"total_profit"`
	TotalCost            float64       `json:"total_cost"`
	AverageLatency       time.Duration `json:"average_latency"`
	QueueLength          int           `json:"queue_length"`
	InFlight             int           `json:"in_flight"`
}

// ThrottleStats is a point-in-time snapshot of request throttle counters.
type ThrottleStats struct {
	TotalCalls       int64         `json:"total_calls"`
	SuccessfulCalls  int64         `json:"successful_calls"`
	RateLimitedCalls int64         `json:"rate_limited_calls"`
	FailedCalls      int64         `json:"failed_calls"`
	AverageLatency   time.Duration `json:"average_latency"`
	CurrentBackoff   time.Duration `json:"current_backoff"`
	QueueLength      int           `json:"queue_length"`
	InFlight         int           `json:"in_flight"`
}
