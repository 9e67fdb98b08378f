// Package output renders pipeline snapshots for CLI consumption.
package output

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/chainhound/chainhound/internal/core"
)

// TableFormatter renders stats snapshots as ASCII tables.
type TableFormatter struct{}

// FormatStats renders the throttle and executor counters side by side.
func (f *TableFormatter) FormatStats(throttle core.ThrottleStats, executor core.ExecutionStats) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Component", "Metric", "Value"})

	t.AppendRows([]table.Row{
		{"throttle", "total_calls", throttle.TotalCalls},
		{"throttle", "successful_calls", throttle.SuccessfulCalls},
		{"throttle", "rate_limited_calls", throttle.RateLimitedCalls},
		{"throttle", "failed_calls", throttle.FailedCalls},
		{"throttle", "average_latency", formatLatency(throttle.AverageLatency)},
		{"throttle", "current_backoff", throttle.CurrentBackoff.String()},
		{"throttle", "queue_length", throttle.QueueLength},
		{"throttle", "in_flight", throttle.InFlight},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"executor", "total_executions", executor.TotalExecutions},
		{"executor", "successful", executor.SuccessfulExecutions},
		{"executor", "failed", executor.FailedExecutions},
		{"executor", "discarded_stale", executor.DiscardedStale},
		{"executor", "total_profit", formatAmount(executor.TotalProfit)},
		{"executor", "total_cost", formatAmount(executor.TotalCost)},
		{"executor", "average_latency", formatLatency(executor.AverageLatency)},
		{"executor", "queue_length", executor.QueueLength},
		{"executor", "in_flight", executor.InFlight},
	})

	t.AppendFooter(table.Row{
		"", "net_profit", formatAmount(executor.TotalProfit - executor.TotalCost),
	})

	return t.Render()
}

func formatLatency(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Millisecond).String()
}

func formatAmount(v float64) string {
	return fmt.Sprintf("%.6f", v)
}
