package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	apperrors "github.com/chainhound/chainhound/internal/errors"
	"github.com/chainhound/chainhound/internal/store"
)

const defaultExecutionsLimit = 50

// ExecutionLister reads settled executions back out of the store.
type ExecutionLister interface {
	RecentExecutions(ctx context.Context, limit int) ([]store.ExecutionRecord, error)
}

// ExecutionsHandler serves the settled execution history.
type ExecutionsHandler struct {
	lister ExecutionLister
}

// NewExecutionsHandler creates a handler over the execution history store.
func NewExecutionsHandler(lister ExecutionLister) *ExecutionsHandler {
	return &ExecutionsHandler{lister: lister}
}

// RecentHandler handles GET /executions?limit=N
func (h *ExecutionsHandler) RecentHandler(w http.ResponseWriter, r *http.Request) {
	if h.lister == nil {
		apperrors.RespondWithError(w, r, apperrors.NewServiceUnavailableError("Execution history is not available"))
		return
	}

	limit := defaultExecutionsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			apperrors.RespondWithError(w, r, apperrors.NewInvalidInputError("limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	records, err := h.lister.RecentExecutions(r.Context(), limit)
	if err != nil {
		apperrors.RespondWithError(w, r, apperrors.NewDatabaseError("Failed to read execution history"))
		return
	}
	if records == nil {
		records = []store.ExecutionRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"executions": records,
		"count":      len(records),
	})
}
