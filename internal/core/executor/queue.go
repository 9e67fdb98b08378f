// Package executor drives qualified opportunities to execution with bounded
// concurrency, validation, staleness control, and capped retries.
package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chainhound/chainhound/internal/config"
	"github.com/chainhound/chainhound/internal/core"
	"github.com/chainhound/chainhound/internal/events"
	"github.com/chainhound/chainhound/internal/metrics"
)

// Queue accepts validated opportunities and executes them through the
// registered protocol executors. A single cooperative dispatch loop pops
// work whenever capacity allows; executions run as independent goroutines.
type Queue struct {
	runtime   *config.Runtime
	executors map[core.Protocol]ProtocolExecutor
	bus       *events.Bus
	persister Persister
	cooldowns CooldownStore
	logger    *logging.Logger

	// Clock is injectable for tests.
	now func() time.Time

	mu    sync.Mutex
	queue []*core.Opportunity

	active   atomic.Bool
	inFlight atomic.Int64

	totalExecutions atomic.Int64
	successful      atomic.Int64
	failed          atomic.Int64
	discardedStale  atomic.Int64

	moneyMu     sync.Mutex
	totalProfit float64
	totalCost   float64

	latencyMu    sync.Mutex
	avgLatency   time.Duration
	latencyCount int64

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	loopWG   sync.WaitGroup
	execWG   sync.WaitGroup
}

// Option configures optional queue collaborators.
type Option func(*Queue)

// WithPersister attaches the status persistence collaborator.
func WithPersister(p Persister) Option {
	return func(q *Queue) { q.persister = p }
}

// WithCooldowns attaches the target cooldown store.
func WithCooldowns(c CooldownStore) Option {
	return func(q *Queue) { q.cooldowns = c }
}

// WithClock overrides the queue clock. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New creates an execution queue and starts its dispatch loop.
func New(runtime *config.Runtime, bus *events.Bus, logger *logging.Logger, execs []ProtocolExecutor, opts ...Option) *Queue {
	q := &Queue{
		runtime:   runtime,
		executors: make(map[core.Protocol]ProtocolExecutor, len(execs)),
		bus:       bus,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
	}
	for _, e := range execs {
		q.executors[e.Protocol()] = e
	}
	for _, opt := range opts {
		opt(q)
	}
	q.active.Store(true)

	q.loopWG.Add(1)
	go q.run()
	return q
}

// Enqueue validates an opportunity and appends it to the queue. It returns
// false when the opportunity fails validation or the queue is stopped; a
// rejected opportunity is discarded and never counts as an execution
// failure.
func (q *Queue) Enqueue(opp *core.Opportunity) bool {
	if opp == nil || !q.active.Load() {
		return false
	}

	cfg := q.runtime.Active().Executor

	switch {
	case opp.EstimatedProfit < cfg.MinProfitThreshold:
		q.logRejection(opp, "estimated profit below threshold")
		return false
	case opp.EstimatedCost > cfg.MaxCostThreshold:
		q.logRejection(opp, "estimated cost above threshold")
		return false
	case !opp.Eligible():
		q.logRejection(opp, "no longer actionable")
		return false
	case opp.RiskScore > cfg.MaxRiskScore:
		q.logRejection(opp, "risk score above ceiling")
		return false
	}

	if q.cooldowns != nil && cfg.TargetCooldown > 0 {
		cooling, err := q.cooldowns.Active(context.Background(), opp.Target)
		if err != nil && q.logger != nil {
			q.logger.Warn("Cooldown lookup failed, admitting opportunity",
				zap.String("target", opp.Target), zap.Error(err))
		}
		if cooling {
			q.logRejection(opp, "target cooling down")
			return false
		}
	}

	if opp.ID == "" {
		opp.ID = uuid.New().String()
	}
	opp.RetryCount = 0
	opp.QueuedAt = q.now()
	opp.Status = core.StatusQueued

	q.mu.Lock()
	q.queue = append(q.queue, opp)
	depth := len(q.queue)
	q.mu.Unlock()
	q.signal()

	metrics.SetQueueDepth("executor", depth, int(q.inFlight.Load()))
	q.publish(events.TopicQueued, opp, nil, nil)
	return true
}

// Stats returns a point-in-time snapshot of execution counters.
func (q *Queue) Stats() core.ExecutionStats {
	q.mu.Lock()
	queueLen := len(q.queue)
	q.mu.Unlock()

	q.moneyMu.Lock()
	profit, cost := q.totalProfit, q.totalCost
	q.moneyMu.Unlock()

	q.latencyMu.Lock()
	avg := q.avgLatency
	q.latencyMu.Unlock()

	return core.ExecutionStats{
		TotalExecutions:      q.totalExecutions.Load(),
		SuccessfulExecutions: q.successful.Load(),
		FailedExecutions:     q.failed.Load(),
		DiscardedStale:       q.discardedStale.Load(),
		TotalProfit:          profit,
		TotalCost:            cost,
		AverageLatency:       avg,
		QueueLength:          queueLen,
		InFlight:             int(q.inFlight.Load()),
	}
}

// Pending returns a copy of the opportunities currently waiting for a slot,
// in dispatch order.
func (q *Queue) Pending() []*core.Opportunity {
	q.mu.Lock()
	defer q.mu.Unlock()

	pending := make([]*core.Opportunity, len(q.queue))
	copy(pending, q.queue)
	return pending
}

// Stop transitions the queue to inactive and blocks until every in-flight
// execution settles. Items left in the queue are not dispatched. Calling
// Stop again has no further effect.
func (q *Queue) Stop() {
	q.active.Store(false)
	q.stopOnce.Do(func() {
		close(q.stop)
		q.loopWG.Wait()
		q.execWG.Wait()

		if q.logger != nil {
			q.logger.Info("Execution queue stopped",
				zap.Int64("total_executions", q.totalExecutions.Load()),
				zap.Int64("successful", q.successful.Load()),
				zap.Int64("failed", q.failed.Load()))
		}
	})
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// run is the cooperative dispatch loop: woken by enqueue, by a settled
// execution freeing capacity, and by retry re-insertion.
func (q *Queue) run() {
	defer q.loopWG.Done()

	for {
		if !q.active.Load() {
			return
		}

		cfg := q.runtime.Active().Executor

		q.mu.Lock()
		var next *core.Opportunity
		if len(q.queue) > 0 && int(q.inFlight.Load()) < cfg.MaxConcurrentExecutions {
			next = q.queue[0]
			q.queue = q.queue[1:]
		}
		q.mu.Unlock()

		if next != nil {
			if q.now().Sub(next.QueuedAt) > cfg.StalenessTimeout {
				q.discardStale(next)
				continue
			}

			// The in-flight slot is claimed before execution begins and
			// released on every settle path.
			q.inFlight.Add(1)
			q.execWG.Add(1)
			go q.execute(next, cfg)
			continue
		}

		select {
		case <-q.wake:
		case <-q.stop:
			return
		}
	}
}

// discardStale terminally drops an opportunity whose estimates have aged
// out. Not an execution failure, never retried.
func (q *Queue) discardStale(opp *core.Opportunity) {
	q.discardedStale.Add(1)
	opp.Status = core.StatusDiscarded

	if q.logger != nil {
		q.logger.Info("Discarding stale opportunity",
			zap.String("id", opp.ID),
			zap.String("protocol", string(opp.Protocol)),
			zap.String("target", opp.Target),
			zap.Time("queued_at", opp.QueuedAt))
	}

	q.persistStatus(opp, nil)
	q.publish(events.TopicDiscarded, opp, nil, core.ErrStale)
}

// execute runs one attempt and settles its outcome. Panics from an
// individual execution are contained here; the dispatch loop never halts.
func (q *Queue) execute(opp *core.Opportunity, cfg config.ExecutorConfig) {
	defer func() {
		q.inFlight.Add(-1)
		q.execWG.Done()
		q.signal()
	}()

	opp.Status = core.StatusExecuting
	q.persistStatus(opp, nil)
	q.publish(events.TopicExecuting, opp, nil, nil)

	started := q.now()
	result, err := q.attempt(opp, cfg)
	latency := q.now().Sub(started)

	q.totalExecutions.Add(1)

	if err == nil {
		q.settleSuccess(opp, result, latency, cfg)
		return
	}
	q.settleFailure(opp, err, cfg)
}

// attempt resolves the protocol executor and runs it, converting panics
// into errors.
func (q *Queue) attempt(opp *core.Opportunity, cfg config.ExecutorConfig) (result *core.ExecutionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordPanic()
			err = fmt.Errorf("execution panic: %v", r)
			if q.logger != nil {
				q.logger.Error("Recovered panic during execution",
					zap.String("id", opp.ID),
					zap.Any("panic", r))
			}
		}
	}()

	exec, ok := q.executors[opp.Protocol]
	if !ok {
		// Coverage gap: surfaced loudly so an operator notices.
		if q.logger != nil {
			q.logger.Error("No executor registered for protocol",
				zap.String("id", opp.ID),
				zap.String("protocol", string(opp.Protocol)))
		}
		return nil, fmt.Errorf("protocol %q: %w", opp.Protocol, core.ErrUnsupportedProtocol)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConfirmationTimeout)
	defer cancel()

	return exec.Execute(ctx, opp)
}

func (q *Queue) settleSuccess(opp *core.Opportunity, result *core.ExecutionResult, latency time.Duration, cfg config.ExecutorConfig) {
	q.successful.Add(1)
	q.recordLatency(latency)

	if result == nil {
		result = &core.ExecutionResult{OpportunityID: opp.ID}
	}
	result.Latency = latency

	q.moneyMu.Lock()
	q.totalProfit += result.RealizedProfit
	q.totalCost += result.RealizedCost
	q.moneyMu.Unlock()

	opp.Status = core.StatusExecuted
	metrics.RecordExecution(string(opp.Protocol), true, latency)
	metrics.RecordSettlement(string(opp.Protocol), result.RealizedProfit, result.RealizedCost)

	if q.logger != nil {
		q.logger.Info("Opportunity executed",
			zap.String("id", opp.ID),
			zap.String("protocol", string(opp.Protocol)),
			zap.String("target", opp.Target),
			zap.Float64("realized_profit", result.RealizedProfit),
			zap.Float64("realized_cost", result.RealizedCost),
			zap.Duration("latency", latency))
	}

	q.startCooldown(opp, cfg)
	q.persistStatus(opp, result)
	q.publish(events.TopicExecuted, opp, result, nil)
}

func (q *Queue) settleFailure(opp *core.Opportunity, err error, cfg config.ExecutorConfig) {
	q.failed.Add(1)
	metrics.RecordExecution(string(opp.Protocol), false, 0)

	if core.Retryable(err) && opp.RetryCount < cfg.MaxRetries {
		opp.RetryCount++
		opp.QueuedAt = q.now()
		opp.Status = core.StatusQueued

		if q.logger != nil {
			q.logger.Warn("Execution failed, retrying",
				zap.String("id", opp.ID),
				zap.Int("retry", opp.RetryCount),
				zap.Int("max_retries", cfg.MaxRetries),
				zap.Error(err))
		}

		// Retries jump the queue, mirroring the throttle's rate-limit
		// policy: forward progress for work already attempted.
		q.mu.Lock()
		q.queue = append([]*core.Opportunity{opp}, q.queue...)
		q.mu.Unlock()
		q.signal()
		return
	}

	opp.Status = core.StatusFailed
	if q.logger != nil {
		q.logger.Error("Opportunity failed terminally",
			zap.String("id", opp.ID),
			zap.String("protocol", string(opp.Protocol)),
			zap.Int("retries", opp.RetryCount),
			zap.Error(err))
	}

	q.startCooldown(opp, cfg)
	q.persistStatus(opp, nil)
	q.publish(events.TopicFailed, opp, nil, err)
}

func (q *Queue) startCooldown(opp *core.Opportunity, cfg config.ExecutorConfig) {
	if q.cooldowns == nil || cfg.TargetCooldown <= 0 {
		return
	}
	if err := q.cooldowns.Set(context.Background(), opp.Target, cfg.TargetCooldown); err != nil && q.logger != nil {
		q.logger.Warn("Failed to start target cooldown",
			zap.String("target", opp.Target), zap.Error(err))
	}
}

// persistStatus is best-effort: persistence failures are logged, never
// retried by the queue.
func (q *Queue) persistStatus(opp *core.Opportunity, result *core.ExecutionResult) {
	if q.persister == nil {
		return
	}
	if err := q.persister.RecordStatus(context.Background(), opp, result); err != nil && q.logger != nil {
		q.logger.Warn("Failed to persist status transition",
			zap.String("id", opp.ID),
			zap.String("status", string(opp.Status)),
			zap.Error(err))
	}
}

func (q *Queue) publish(topic events.Topic, opp *core.Opportunity, result *core.ExecutionResult, err error) {
	if q.bus == nil {
		return
	}
	snapshot := *opp
	event := events.Event{
		Topic:       topic,
		Opportunity: &snapshot,
		Result:      result,
		At:          q.now(),
	}
	if err != nil {
		event.Error = err.Error()
	}
	q.bus.Publish(event)
}

func (q *Queue) logRejection(opp *core.Opportunity, reason string) {
	if q.logger == nil {
		return
	}
	q.logger.Debug("Opportunity rejected at enqueue",
		zap.String("protocol", string(opp.Protocol)),
		zap.String("target", opp.Target),
		zap.Float64("estimated_profit", opp.EstimatedProfit),
		zap.Float64("risk_score", opp.RiskScore),
		zap.String("reason", reason))
}

// recordLatency folds a sample into the incremental mean, the same formula
// the throttle uses.
func (q *Queue) recordLatency(latency time.Duration) {
	q.latencyMu.Lock()
	q.latencyCount++
	q.avgLatency += (latency - q.avgLatency) / time.Duration(q.latencyCount)
	q.latencyMu.Unlock()
}
