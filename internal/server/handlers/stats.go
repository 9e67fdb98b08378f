package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/chainhound/chainhound/internal/core"
	apperrors "github.com/chainhound/chainhound/internal/errors"
)

// ThrottleStatser exposes request throttle counters.
type ThrottleStatser interface {
	Stats() core.ThrottleStats
}

// QueueStatser exposes execution queue counters and pending work.
type QueueStatser interface {
	Stats() core.ExecutionStats
	Pending() []*core.Opportunity
}

// StatsResponse aggregates pipeline counters for the /stats endpoint.
type StatsResponse struct {
	Throttle  core.ThrottleStats  `json:"throttle"`
	Executor  core.ExecutionStats `json:"executor"`
	NetProfit float64             `json:"net_profit"`
	Timestamp time.Time           `json:"timestamp"`
}

// QueueResponse lists the opportunities waiting for an execution slot.
type QueueResponse struct {
	Depth         int                 `json:"depth"`
	InFlight      int                 `json:"in_flight"`
	Opportunities []*core.Opportunity `json:"opportunities"`
}

// StatsHandlers serves pipeline counter snapshots.
type StatsHandlers struct {
	throttle ThrottleStatser
	queue    QueueStatser
}

// NewStatsHandler creates handlers over the throttle and executor snapshots.
func NewStatsHandler(throttle ThrottleStatser, queue QueueStatser) *StatsHandlers {
	return &StatsHandlers{throttle: throttle, queue: queue}
}

// StatsHandler handles GET /stats
func (h *StatsHandlers) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if h.throttle == nil || h.queue == nil {
		apperrors.RespondWithError(w, r, apperrors.NewServiceUnavailableError("Pipeline is not running"))
		return
	}

	execStats := h.queue.Stats()
	response := StatsResponse{
		Throttle:  h.throttle.Stats(),
		Executor:  execStats,
		NetProfit: execStats.TotalProfit - execStats.TotalCost,
		Timestamp: time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

// QueueHandler handles GET /queue
func (h *StatsHandlers) QueueHandler(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		apperrors.RespondWithError(w, r, apperrors.NewServiceUnavailableError("Pipeline is not running"))
		return
	}

	pending := h.queue.Pending()
	stats := h.queue.Stats()
	response := QueueResponse{
		Depth:         len(pending),
		InFlight:      stats.InFlight,
		Opportunities: pending,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}
