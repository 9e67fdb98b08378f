package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chainhound/chainhound/internal/config"
	"github.com/chainhound/chainhound/internal/core"
	"github.com/chainhound/chainhound/internal/events"
)

func testRuntime(mutate func(*config.ExecutorConfig)) *config.Runtime {
	cfg := &config.Config{
		Executor: config.ExecutorConfig{
			MaxConcurrentExecutions: 3,
			MinProfitThreshold:      0.5,
			MaxCostThreshold:        100,
			MaxRiskScore:            0.8,
			StalenessTimeout:        time.Minute,
			MaxRetries:              3,
			ConfirmationTimeout:     5 * time.Second,
		},
	}
	if mutate != nil {
		mutate(&cfg.Executor)
	}
	return config.NewRuntime(cfg)
}

func arbitrage(profit float64) *core.Opportunity {
	return &core.Opportunity{
		Protocol:        core.ProtocolArbitrage,
		Target:          "pool-1",
		EstimatedProfit: profit,
		EstimatedCost:   1,
		RiskScore:       0.2,
	}
}

// fakeExecutor runs a configurable function for one protocol.
type fakeExecutor struct {
	protocol core.Protocol
	fn       func(ctx context.Context, opp *core.Opportunity) (*core.ExecutionResult, error)
}

func (f *fakeExecutor) Protocol() core.Protocol { return f.protocol }

func (f *fakeExecutor) Execute(ctx context.Context, opp *core.Opportunity) (*core.ExecutionResult, error) {
	return f.fn(ctx, opp)
}

type recordingPersister struct {
	mu       sync.Mutex
	statuses map[string][]core.Status
}

func newRecordingPersister() *recordingPersister {
	return &recordingPersister{statuses: make(map[string][]core.Status)}
}

func (p *recordingPersister) RecordStatus(_ context.Context, opp *core.Opportunity, _ *core.ExecutionResult) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses[opp.ID] = append(p.statuses[opp.ID], opp.Status)
	return nil
}

func (p *recordingPersister) last(id string) core.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	history := p.statuses[id]
	if len(history) == 0 {
		return ""
	}
	return history[len(history)-1]
}

type fakeCooldowns struct {
	mu     sync.Mutex
	active map[string]bool
	sets   []string
}

func (f *fakeCooldowns) Active(_ context.Context, target string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[target], nil
}

func (f *fakeCooldowns) Set(_ context.Context, target string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets = append(f.sets, target)
	return nil
}

func succeedingExecutor(profit, cost float64) *fakeExecutor {
	return &fakeExecutor{
		protocol: core.ProtocolArbitrage,
		fn: func(ctx context.Context, opp *core.Opportunity) (*core.ExecutionResult, error) {
			return &core.ExecutionResult{
				OpportunityID:  opp.ID,
				RealizedProfit: profit,
				RealizedCost:   cost,
			}, nil
		},
	}
}

func waitForSettled(t *testing.T, q *Queue, executions int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		s := q.Stats()
		return s.TotalExecutions >= executions && s.InFlight == 0 && s.QueueLength == 0
	}, 2*time.Second, time.Millisecond)
}

func TestEnqueueRejectsInvalidOpportunities(t *testing.T) {
	q := New(testRuntime(nil), nil, nil, []ProtocolExecutor{succeedingExecutor(1, 0)})
	defer q.Stop()

	t.Run("ProfitBelowThreshold", func(t *testing.T) {
		opp := arbitrage(0.1)
		require.False(t, q.Enqueue(opp))
	})

	t.Run("CostAboveThreshold", func(t *testing.T) {
		opp := arbitrage(2)
		opp.EstimatedCost = 101
		require.False(t, q.Enqueue(opp))
	})

	t.Run("RiskAboveCeiling", func(t *testing.T) {
		opp := arbitrage(2)
		opp.RiskScore = 0.9
		require.False(t, q.Enqueue(opp))
	})

	t.Run("RecoveredLiquidation", func(t *testing.T) {
		opp := arbitrage(2)
		opp.Protocol = core.ProtocolLiquidation
		opp.HealthFactor = 1.05
		require.False(t, q.Enqueue(opp))
	})

	t.Run("NilOpportunity", func(t *testing.T) {
		require.False(t, q.Enqueue(nil))
	})

	// None of the rejections count as executions.
	require.Zero(t, q.Stats().TotalExecutions)
	require.Zero(t, q.Stats().FailedExecutions)
}

func TestEnqueueRejectsCoolingTarget(t *testing.T) {
	cooldowns := &fakeCooldowns{active: map[string]bool{"pool-1": true}}
	runtime := testRuntime(func(cfg *config.ExecutorConfig) {
		cfg.TargetCooldown = time.Minute
	})
	q := New(runtime, nil, nil, []ProtocolExecutor{succeedingExecutor(1, 0)},
		WithCooldowns(cooldowns))
	defer q.Stop()

	require.False(t, q.Enqueue(arbitrage(2)))

	other := arbitrage(2)
	other.Target = "pool-2"
	require.True(t, q.Enqueue(other))
	waitForSettled(t, q, 1)
}

func TestSuccessfulExecutionAccounting(t *testing.T) {
	persister := newRecordingPersister()
	cooldowns := &fakeCooldowns{active: map[string]bool{}}
	runtime := testRuntime(func(cfg *config.ExecutorConfig) {
		cfg.TargetCooldown = time.Minute
	})
	q := New(runtime, nil, nil, []ProtocolExecutor{succeedingExecutor(3.5, 0.5)},
		WithPersister(persister), WithCooldowns(cooldowns))
	defer q.Stop()

	opp := arbitrage(2)
	require.True(t, q.Enqueue(opp))
	require.NotEmpty(t, opp.ID)

	waitForSettled(t, q, 1)

	stats := q.Stats()
	require.Equal(t, int64(1), stats.TotalExecutions)
	require.Equal(t, int64(1), stats.SuccessfulExecutions)
	require.Zero(t, stats.FailedExecutions)
	require.InDelta(t, 3.5, stats.TotalProfit, 1e-9)
	require.InDelta(t, 0.5, stats.TotalCost, 1e-9)

	require.Equal(t, core.StatusExecuted, persister.last(opp.ID))

	cooldowns.mu.Lock()
	defer cooldowns.mu.Unlock()
	require.Contains(t, cooldowns.sets, "pool-1")
}

func TestBoundedConcurrency(t *testing.T) {
	var current, peak atomic.Int64
	release := make(chan struct{})

	exec := &fakeExecutor{
		protocol: core.ProtocolArbitrage,
		fn: func(ctx context.Context, opp *core.Opportunity) (*core.ExecutionResult, error) {
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			current.Add(-1)
			return &core.ExecutionResult{OpportunityID: opp.ID}, nil
		},
	}

	q := New(testRuntime(nil), nil, nil, []ProtocolExecutor{exec})
	defer q.Stop()

	for i := 0; i < 5; i++ {
		require.True(t, q.Enqueue(arbitrage(2)))
	}

	require.Eventually(t, func() bool {
		return current.Load() == 3
	}, time.Second, time.Millisecond)

	close(release)
	waitForSettled(t, q, 5)

	require.LessOrEqual(t, peak.Load(), int64(3))
	require.Equal(t, int64(5), q.Stats().SuccessfulExecutions)
}

func TestStaleOpportunityIsDiscardedNotFailed(t *testing.T) {
	var clock struct {
		sync.Mutex
		now time.Time
	}
	clock.now = time.Unix(1000, 0).UTC()
	now := func() time.Time {
		clock.Lock()
		defer clock.Unlock()
		return clock.now
	}

	release := make(chan struct{})
	exec := &fakeExecutor{
		protocol: core.ProtocolArbitrage,
		fn: func(ctx context.Context, opp *core.Opportunity) (*core.ExecutionResult, error) {
			<-release
			return &core.ExecutionResult{OpportunityID: opp.ID}, nil
		},
	}

	persister := newRecordingPersister()
	runtime := testRuntime(func(cfg *config.ExecutorConfig) {
		cfg.MaxConcurrentExecutions = 1
		cfg.StalenessTimeout = 30 * time.Second
	})
	q := New(runtime, nil, nil, []ProtocolExecutor{exec},
		WithPersister(persister), WithClock(now))
	defer q.Stop()

	blocker := arbitrage(2)
	require.True(t, q.Enqueue(blocker))
	require.Eventually(t, func() bool {
		return q.Stats().InFlight == 1
	}, time.Second, time.Millisecond)

	victim := arbitrage(2)
	require.True(t, q.Enqueue(victim))

	// Let the queued opportunity age out before a slot frees up.
	clock.Lock()
	clock.now = clock.now.Add(time.Minute)
	clock.Unlock()

	close(release)
	require.Eventually(t, func() bool {
		s := q.Stats()
		return s.DiscardedStale == 1 && s.InFlight == 0
	}, 2*time.Second, time.Millisecond)

	stats := q.Stats()
	require.Equal(t, int64(1), stats.TotalExecutions) // only the blocker ran
	require.Equal(t, int64(1), stats.SuccessfulExecutions)
	require.Zero(t, stats.FailedExecutions) // staleness is not a failure
	require.Equal(t, core.StatusDiscarded, persister.last(victim.ID))
}

func TestRetriesAreCappedAndTerminal(t *testing.T) {
	var attempts atomic.Int64
	exec := &fakeExecutor{
		protocol: core.ProtocolArbitrage,
		fn: func(ctx context.Context, opp *core.Opportunity) (*core.ExecutionResult, error) {
			attempts.Add(1)
			return nil, &core.UpstreamError{Op: "sendOperation", Err: context.DeadlineExceeded}
		},
	}

	persister := newRecordingPersister()
	runtime := testRuntime(func(cfg *config.ExecutorConfig) {
		cfg.MaxRetries = 2
	})
	q := New(runtime, nil, nil, []ProtocolExecutor{exec}, WithPersister(persister))
	defer q.Stop()

	opp := arbitrage(2)
	require.True(t, q.Enqueue(opp))

	waitForSettled(t, q, 3)

	require.Equal(t, int64(3), attempts.Load()) // initial attempt + 2 retries
	stats := q.Stats()
	require.Equal(t, int64(3), stats.TotalExecutions)
	require.Equal(t, int64(3), stats.FailedExecutions)
	require.Zero(t, stats.SuccessfulExecutions)
	require.Equal(t, 2, opp.RetryCount)
	require.Equal(t, core.StatusFailed, persister.last(opp.ID))
}

func TestRetryJumpsAheadOfQueuedWork(t *testing.T) {
	var mu sync.Mutex
	var order []string
	var failedOnce atomic.Bool
	secondQueued := make(chan struct{})

	exec := &fakeExecutor{
		protocol: core.ProtocolArbitrage,
		fn: func(ctx context.Context, opp *core.Opportunity) (*core.ExecutionResult, error) {
			mu.Lock()
			order = append(order, opp.Target)
			mu.Unlock()

			if opp.Target == "hot" && failedOnce.CompareAndSwap(false, true) {
				<-secondQueued
				return nil, &core.UpstreamError{Op: "sendOperation", Err: context.DeadlineExceeded}
			}
			return &core.ExecutionResult{OpportunityID: opp.ID}, nil
		},
	}

	runtime := testRuntime(func(cfg *config.ExecutorConfig) {
		cfg.MaxConcurrentExecutions = 1
	})
	q := New(runtime, nil, nil, []ProtocolExecutor{exec})
	defer q.Stop()

	hot := arbitrage(2)
	hot.Target = "hot"
	require.True(t, q.Enqueue(hot))

	require.Eventually(t, func() bool {
		return failedOnce.Load()
	}, time.Second, time.Millisecond)

	fresh := arbitrage(2)
	fresh.Target = "fresh"
	require.True(t, q.Enqueue(fresh))
	close(secondQueued)

	waitForSettled(t, q, 3)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"hot", "hot", "fresh"}, order)
}

func TestUnsupportedProtocolFailsWithoutRetry(t *testing.T) {
	persister := newRecordingPersister()
	q := New(testRuntime(nil), nil, nil, nil, WithPersister(persister))
	defer q.Stop()

	opp := arbitrage(2)
	require.True(t, q.Enqueue(opp))

	waitForSettled(t, q, 1)

	stats := q.Stats()
	require.Equal(t, int64(1), stats.TotalExecutions)
	require.Equal(t, int64(1), stats.FailedExecutions)
	require.Zero(t, opp.RetryCount)
	require.Equal(t, core.StatusFailed, persister.last(opp.ID))
}

func TestPanicInExecutionIsContained(t *testing.T) {
	exec := &fakeExecutor{
		protocol: core.ProtocolArbitrage,
		fn: func(ctx context.Context, opp *core.Opportunity) (*core.ExecutionResult, error) {
			if opp.Target == "bomb" {
				panic("simulated execution panic")
			}
			return &core.ExecutionResult{OpportunityID: opp.ID}, nil
		},
	}

	runtime := testRuntime(func(cfg *config.ExecutorConfig) {
		cfg.MaxRetries = 0
	})
	q := New(runtime, nil, nil, []ProtocolExecutor{exec})
	defer q.Stop()

	bomb := arbitrage(2)
	bomb.Target = "bomb"
	require.True(t, q.Enqueue(bomb))
	waitForSettled(t, q, 1)
	require.Equal(t, int64(1), q.Stats().FailedExecutions)

	// The dispatch loop survives the panic.
	require.True(t, q.Enqueue(arbitrage(2)))
	waitForSettled(t, q, 2)
	require.Equal(t, int64(1), q.Stats().SuccessfulExecutions)
}

func TestEventsArePublishedInLifecycleOrder(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	ch, cancel := bus.Subscribe(
		events.TopicQueued, events.TopicExecuting, events.TopicExecuted)
	defer cancel()

	q := New(testRuntime(nil), bus, nil, []ProtocolExecutor{succeedingExecutor(1, 0)})
	defer q.Stop()

	require.True(t, q.Enqueue(arbitrage(2)))

	var topics []events.Topic
	deadline := time.After(2 * time.Second)
	for len(topics) < 3 {
		select {
		case ev := <-ch:
			topics = append(topics, ev.Topic)
		case <-deadline:
			t.Fatalf("timed out waiting for events, got %v", topics)
		}
	}

	require.Equal(t, []events.Topic{
		events.TopicQueued, events.TopicExecuting, events.TopicExecuted,
	}, topics)
}

func TestStopIsIdempotentAndRefusesNewWork(t *testing.T) {
	q := New(testRuntime(nil), nil, nil, []ProtocolExecutor{succeedingExecutor(1, 0)})

	require.True(t, q.Enqueue(arbitrage(2)))
	waitForSettled(t, q, 1)

	q.Stop()
	q.Stop() // must not block or panic

	require.False(t, q.Enqueue(arbitrage(2)))
}

func TestPendingSnapshotsDispatchOrder(t *testing.T) {
	release := make(chan struct{})
	exec := &fakeExecutor{
		protocol: core.ProtocolArbitrage,
		fn: func(ctx context.Context, opp *core.Opportunity) (*core.ExecutionResult, error) {
			<-release
			return &core.ExecutionResult{OpportunityID: opp.ID}, nil
		},
	}

	runtime := testRuntime(func(cfg *config.ExecutorConfig) {
		cfg.MaxConcurrentExecutions = 1
	})
	q := New(runtime, nil, nil, []ProtocolExecutor{exec})
	defer func() {
		close(release)
		q.Stop()
	}()

	require.True(t, q.Enqueue(arbitrage(2)))
	require.Eventually(t, func() bool {
		return q.Stats().InFlight == 1
	}, time.Second, time.Millisecond)

	second := arbitrage(2)
	second.Target = "pool-2"
	third := arbitrage(2)
	third.Target = "pool-3"
	require.True(t, q.Enqueue(second))
	require.True(t, q.Enqueue(third))

	pending := q.Pending()
	require.Len(t, pending, 2)
	require.Equal(t, "pool-2", pending[0].Target)
	require.Equal(t, "pool-3", pending[1].Target)
}
