package ledger

import (
	"context"
	"fmt"

	"github.com/chainhound/chainhound/internal/core"
)

// OpExecutor executes opportunities of a single protocol by building the
// protocol's operation payload, submitting it through the throttled ledger
// client, and settling against confirmation data. Realized profit is
// derived from the confirmation's settled amount and the resolved cost,
// never from the detector's estimate.
type OpExecutor struct {
	protocol core.Protocol
	client   *Client
}

// NewOpExecutor creates an executor for one protocol tag.
func NewOpExecutor(protocol core.Protocol, client *Client) *OpExecutor {
	return &OpExecutor{protocol: protocol, client: client}
}

// Protocol reports the protocol tag this executor serves.
func (e *OpExecutor) Protocol() core.Protocol {
	return e.protocol
}

// Execute submits the operation, awaits finalization, and fetches the
// resolved cost.
func (e *OpExecutor) Execute(ctx context.Context, opp *core.Opportunity) (*core.ExecutionResult, error) {
	op, err := buildOperation(opp)
	if err != nil {
		return nil, err
	}

	ref, err := e.client.SubmitOperation(ctx, op)
	if err != nil {
		return nil, err
	}

	conf, err := e.client.AwaitConfirmation(ctx, e.protocol, ref)
	if err != nil {
		return nil, err
	}
	if !conf.Succeeded {
		return nil, &core.UpstreamError{
			Op:  "confirmation",
			Err: fmt.Errorf("operation %s failed on-chain: %s", ref, conf.Reason),
		}
	}

	cost, err := e.client.OperationCost(ctx, e.protocol, ref)
	if err != nil {
		return nil, err
	}

	return &core.ExecutionResult{
		OpportunityID:  opp.ID,
		RealizedProfit: conf.SettledAmount - cost,
		RealizedCost:   cost,
		OperationRef:   ref,
	}, nil
}

// buildOperation assembles the protocol-specific payload.
func buildOperation(opp *core.Opportunity) (Operation, error) {
	if opp == nil {
		return Operation{}, fmt.Errorf("opportunity is required")
	}

	op := Operation{
		Protocol: opp.Protocol,
		Target:   opp.Target,
	}

	switch opp.Protocol {
	case core.ProtocolArbitrage:
		op.Params = map[string]any{
			"pool":         opp.Target,
			"max_cost":     opp.EstimatedCost,
			"min_proceeds": opp.EstimatedProfit,
		}
	case core.ProtocolLiquidation:
		op.Params = map[string]any{
			"account":       opp.Target,
			"health_factor": opp.HealthFactor,
			"max_cost":      opp.EstimatedCost,
		}
	default:
		return Operation{}, fmt.Errorf("protocol %q: %w", opp.Protocol, core.ErrUnsupportedProtocol)
	}

	return op, nil
}
