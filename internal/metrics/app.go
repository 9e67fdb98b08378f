package metrics

import (
	"time"

	"github.com/chainhound/chainhound/internal/observability"
)

// Pipeline metrics following Prometheus conventions.
var (
	ExecutionsTotal    = "bot_executions_total"
	ExecutionLatency   = "bot_execution_duration_ms"
	RealizedProfit     = "bot_realized_profit"
	RealizedCost       = "bot_realized_cost"
	QueueDepth         = "bot_queue_depth"
	ExecutionsActive   = "bot_executions_in_flight"
	ThrottleCallsTotal = "bot_throttle_calls_total"
	ThrottleBackoff    = "bot_throttle_backoff_ms"
	PanicsTotal        = "bot_panics_total"
)

// RecordExecution records a settled execution attempt.
func RecordExecution(protocol string, success bool, latency time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			ExecutionsTotal,
			1,
			map[string]string{
				"protocol": protocol,
				"status":   status,
			},
		)

		_ = observability.TelemetrySystem.Histogram(
			ExecutionLatency,
			latency,
			map[string]string{
				"protocol": protocol,
			},
		)
	}
}

// RecordSettlement publishes the realized profit and cost of the most
// recent settlement.
func RecordSettlement(protocol string, profit, cost float64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			RealizedProfit,
			profit,
			map[string]string{"protocol": protocol},
		)
		_ = observability.TelemetrySystem.Gauge(
			RealizedCost,
			cost,
			map[string]string{"protocol": protocol},
		)
	}
}

// RecordThrottleCall records a resolved upstream call.
func RecordThrottleCall(outcome string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			ThrottleCallsTotal,
			1,
			map[string]string{"outcome": outcome},
		)
	}
}

// SetThrottleBackoff publishes the current backoff delay.
func SetThrottleBackoff(delay time.Duration) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			ThrottleBackoff,
			float64(delay.Milliseconds()),
			nil,
		)
	}
}

// SetQueueDepth publishes queue depth and in-flight gauges per component.
func SetQueueDepth(component string, depth, inFlight int) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			QueueDepth,
			float64(depth),
			map[string]string{"component": component},
		)
		_ = observability.TelemetrySystem.Gauge(
			ExecutionsActive,
			float64(inFlight),
			map[string]string{"component": component},
		)
	}
}

// RecordPanic records a recovered panic.
func RecordPanic() {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(PanicsTotal, 1, nil)
	}
}
