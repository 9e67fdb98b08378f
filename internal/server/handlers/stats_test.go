package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chainhound/chainhound/internal/core"
)

type stubThrottle struct {
	stats core.ThrottleStats
}

func (s stubThrottle) Stats() core.ThrottleStats {
	return s.stats
}

type stubQueue struct {
	stats   core.ExecutionStats
	pending []*core.Opportunity
}

func (s stubQueue) Stats() core.ExecutionStats {
	return s.stats
}

func (s stubQueue) Pending() []*core.Opportunity {
	return s.pending
}

func TestStatsHandlerAggregatesCounters(t *testing.T) {
	handler := NewStatsHandler(
		stubThrottle{stats: core.ThrottleStats{TotalCalls: 12, RateLimitedCalls: 2}},
		stubQueue{stats: core.ExecutionStats{
			TotalExecutions:      8,
			SuccessfulExecutions: 6,
			TotalProfit:          10.0,
			TotalCost:            3.5,
		}},
	)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()

	handler.StatsHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var resp StatsResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.Throttle.TotalCalls != 12 {
		t.Fatalf("expected 12 throttle calls, got %d", resp.Throttle.TotalCalls)
	}

	if resp.Executor.SuccessfulExecutions != 6 {
		t.Fatalf("expected 6 successful executions, got %d", resp.Executor.SuccessfulExecutions)
	}

	if resp.NetProfit != 6.5 {
		t.Fatalf("expected net profit 6.5, got %v", resp.NetProfit)
	}

	if resp.Timestamp.IsZero() {
		t.Fatalf("expected a timestamp")
	}
}

func TestStatsHandlerWithoutPipelineReturnsUnavailable(t *testing.T) {
	handler := NewStatsHandler(nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()

	handler.StatsHandler(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}
}

func TestQueueHandlerListsPendingWork(t *testing.T) {
	pending := []*core.Opportunity{
		{ID: "a", Protocol: core.ProtocolArbitrage, Target: "pool-1", Status: core.StatusQueued, QueuedAt: time.Now().UTC()},
		{ID: "b", Protocol: core.ProtocolLiquidation, Target: "account-1", Status: core.StatusQueued, QueuedAt: time.Now().UTC()},
	}
	handler := NewStatsHandler(
		stubThrottle{},
		stubQueue{stats: core.ExecutionStats{InFlight: 1}, pending: pending},
	)

	req := httptest.NewRequest(http.MethodGet, "/queue", nil)
	rec := httptest.NewRecorder()

	handler.QueueHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var resp QueueResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.Depth != 2 {
		t.Fatalf("expected depth 2, got %d", resp.Depth)
	}

	if resp.InFlight != 1 {
		t.Fatalf("expected 1 in flight, got %d", resp.InFlight)
	}

	if len(resp.Opportunities) != 2 || resp.Opportunities[0].ID != "a" {
		t.Fatalf("expected pending opportunities in order, got %+v", resp.Opportunities)
	}
}
