package handlers

import (
	"encoding/json"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/chainhound/chainhound/internal/core"
	apperrors "github.com/chainhound/chainhound/internal/errors"
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	// Report field names as they appear on the wire.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// Enqueuer admits validated opportunities into the execution queue.
type Enqueuer interface {
	Enqueue(opp *core.Opportunity) bool
}

// OpportunityRequest is the POST /opportunities payload.
type OpportunityRequest struct {
	Protocol        string  `json:"protocol" validate:"required,oneof=arbitrage liquidation"`
	Target          string  `json:"target" validate:"required"`
	EstimatedProfit float64 `json:"estimated_profit" validate:"gt=0"`
	EstimatedCost   float64 `json:"estimated_cost" validate:"gte=0"`
	RiskScore       float64 `json:"risk_score" validate:"gte=0,lte=1"`
	HealthFactor    float64 `json:"health_factor" validate:"gte=0"`
}

// OpportunityResponse acknowledges an admitted opportunity.
type OpportunityResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// IngestHandler admits externally detected opportunities.
type IngestHandler struct {
	queue Enqueuer
}

// NewIngestHandler creates the opportunity ingestion handler.
func NewIngestHandler(queue Enqueuer) *IngestHandler {
	return &IngestHandler{queue: queue}
}

// SubmitHandler handles POST /opportunities
func (h *IngestHandler) SubmitHandler(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		apperrors.RespondWithError(w, r, apperrors.NewServiceUnavailableError("Execution queue is not running"))
		return
	}

	var req OpportunityRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		apperrors.RespondWithError(w, r, apperrors.NewInvalidInputError("Request body is not valid JSON: "+err.Error()))
		return
	}

	if err := validate.Struct(req); err != nil {
		apperrors.RespondWithError(w, r, apperrors.NewValidationError(validationMessage(err)))
		return
	}

	opp := &core.Opportunity{
		Protocol:        core.Protocol(req.Protocol),
		Target:          req.Target,
		EstimatedProfit: req.EstimatedProfit,
		EstimatedCost:   req.EstimatedCost,
		RiskScore:       req.RiskScore,
		HealthFactor:    req.HealthFactor,
	}

	if !h.queue.Enqueue(opp) {
		apperrors.RespondWithError(w, r, apperrors.NewRejectedError("Opportunity was rejected by queue validation"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(OpportunityResponse{
		ID:     opp.ID,
		Status: string(opp.Status),
	})
}

func validationMessage(err error) string {
	verrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}

	parts := make([]string, 0, len(verrors))
	for _, verror := range verrors {
		switch verror.Tag() {
		case "required":
			parts = append(parts, verror.Field()+" is required")
		case "oneof":
			parts = append(parts, verror.Field()+" must be one of: "+verror.Param())
		default:
			parts = append(parts, verror.Field()+" failed "+verror.Tag()+" validation")
		}
	}
	return strings.Join(parts, "; ")
}
