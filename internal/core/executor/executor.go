package executor

import (
	"context"
	"time"

	"github.com/chainhound/chainhound/internal/core"
)

// ProtocolExecutor drives one opportunity of a given protocol through
// submission and confirmation. Implementations issue their upstream calls
// through the request throttle and return a settlement-based result.
type ProtocolExecutor interface {
	Protocol() core.Protocol
	Execute(ctx context.Context, opp *core.Opportunity) (*core.ExecutionResult, error)
}

// Persister receives opportunity status transitions. Failures are
// best-effort: the queue logs them and moves on.
type Persister interface {
	RecordStatus(ctx context.Context, opp *core.Opportunity, result *core.ExecutionResult) error
}

// CooldownStore blocks re-execution of a target for a configured interval
// after an execution settles.
type CooldownStore interface {
	Active(ctx context.Context, target string) (bool, error)
	Set(ctx context.Context, target string, ttl time.Duration) error
}
