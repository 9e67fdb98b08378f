// Package throttle mediates every outbound call to the shared, rate-limited
// ledger endpoint. It enforces a global in-flight cap and a minimum
// inter-request interval, and absorbs upstream rate-limit signals with
// exponential backoff and front-of-queue re-insertion.
package throttle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/chainhound/chainhound/internal/config"
	"github.com/chainhound/chainhound/internal/core"
	"github.com/chainhound/chainhound/internal/metrics"
)

// Request is an opaque unit of work bound for the upstream endpoint.
type Request struct {
	Endpoint string
	Method   string
	Payload  any
}

// Response carries the upstream result back to the submitter.
type Response struct {
	Payload any
}

// Transport performs the actual upstream call. Implementations signal a
// rate-limit rejection by returning an error wrapping core.ErrRateLimited;
// any other error is treated as an upstream failure.
type Transport interface {
	RoundTrip(ctx context.Context, req Request) (Response, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, req Request) (Response, error)

// RoundTrip implements Transport.
func (f TransportFunc) RoundTrip(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

type callResult struct {
	resp Response
	err  error
}

// queuedCall is owned by the throttle from enqueue to resolution.
type queuedCall struct {
	req        Request
	enqueuedAt time.Time
	done       chan callResult
	abandoned  atomic.Bool
	claimed    atomic.Bool
	resolved   sync.Once
}

func (c *queuedCall) resolve(resp Response, err error) {
	c.resolved.Do(func() {
		c.done <- callResult{resp: resp, err: err}
	})
}

// claim grants the winner the exclusive right to record this call's outcome.
// Exactly one of the waiting submitter and the settling transport path may
// touch the counters and backoff state for a given call.
func (c *queuedCall) claim() bool {
	return c.claimed.CompareAndSwap(false, true)
}

// Throttle serializes and paces calls to a single upstream endpoint.
type Throttle struct {
	cfg       atomic.Pointer[config.ThrottleConfig]
	transport Transport
	logger    *logging.Logger

	// Clock is injectable for tests.
	now func() time.Time

	mu           sync.Mutex
	queue        []*queuedCall
	limiter      *rate.Limiter
	backoff      time.Duration
	backoffUntil time.Time

	inFlight         atomic.Int64
	totalCalls       atomic.Int64
	successfulCalls  atomic.Int64
	rateLimitedCalls atomic.Int64
	failedCalls      atomic.Int64

	latencyMu    sync.Mutex
	avgLatency   time.Duration
	latencyCount int64

	wake    chan struct{}
	stop    chan struct{}
	stopped sync.Once
	loopWG  sync.WaitGroup
	callWG  sync.WaitGroup
}

// New creates a throttle and starts its dispatch loop.
func New(cfg config.ThrottleConfig, transport Transport, logger *logging.Logger) *Throttle {
	t := &Throttle{
		transport: transport,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		backoff:   cfg.BackoffFloor,
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
	}
	t.cfg.Store(&cfg)

	t.loopWG.Add(1)
	go t.run()
	return t
}

// SetConfig atomically replaces the throttle configuration. The pacing
// limiter is rebuilt; the current backoff is clamped into the new bounds.
func (t *Throttle) SetConfig(cfg config.ThrottleConfig) {
	t.cfg.Store(&cfg)

	t.mu.Lock()
	t.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	if t.backoff < cfg.BackoffFloor {
		t.backoff = cfg.BackoffFloor
	}
	if t.backoff > cfg.MaxBackoffDelay {
		t.backoff = cfg.MaxBackoffDelay
	}
	t.mu.Unlock()
	t.signal()
}

// Submit enqueues a request and suspends the caller until it is dispatched
// and resolved, permanently failed, or timed out. Other callers are never
// blocked by this wait.
func (t *Throttle) Submit(ctx context.Context, req Request) (Response, error) {
	select {
	case <-t.stop:
		return Response{}, core.ErrQueueStopped
	default:
	}

	call := &queuedCall{
		req:        req,
		enqueuedAt: t.now(),
		done:       make(chan callResult, 1),
	}

	t.mu.Lock()
	t.queue = append(t.queue, call)
	t.mu.Unlock()
	t.signal()

	timeout := t.config().RequestTimeout
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-call.done:
		return res.resp, res.err
	case <-timer.C:
		if !call.claim() {
			// Settled in the same instant the timer fired; the transport
			// path owns the outcome, so hand back its result.
			res := <-call.done
			return res.resp, res.err
		}
		call.abandoned.Store(true)
		t.totalCalls.Add(1)
		t.failedCalls.Add(1)
		metrics.RecordThrottleCall("timeout")
		return Response{}, core.ErrTimeout
	case <-ctx.Done():
		if !call.claim() {
			res := <-call.done
			return res.resp, res.err
		}
		call.abandoned.Store(true)
		t.totalCalls.Add(1)
		t.failedCalls.Add(1)
		metrics.RecordThrottleCall("canceled")
		return Response{}, ctx.Err()
	}
}

// Stats returns a point-in-time snapshot of throttle counters.
func (t *Throttle) Stats() core.ThrottleStats {
	t.mu.Lock()
	queueLen := len(t.queue)
	backoff := t.backoff
	t.mu.Unlock()

	t.latencyMu.Lock()
	avg := t.avgLatency
	t.latencyMu.Unlock()

	return core.ThrottleStats{
		TotalCalls:       t.totalCalls.Load(),
		SuccessfulCalls:  t.successfulCalls.Load(),
		RateLimitedCalls: t.rateLimitedCalls.Load(),
		FailedCalls:      t.failedCalls.Load(),
		AverageLatency:   avg,
		CurrentBackoff:   backoff,
		QueueLength:      queueLen,
		InFlight:         int(t.inFlight.Load()),
	}
}

// Stop halts the dispatch loop, fails queued calls, and waits for in-flight
// calls to settle. Safe to call more than once.
func (t *Throttle) Stop() {
	t.stopped.Do(func() {
		close(t.stop)
		t.loopWG.Wait()

		t.mu.Lock()
		pending := t.queue
		t.queue = nil
		t.mu.Unlock()

		for _, call := range pending {
			call.resolve(Response{}, core.ErrQueueStopped)
		}
		t.callWG.Wait()
	})
}

func (t *Throttle) config() config.ThrottleConfig {
	return *t.cfg.Load()
}

func (t *Throttle) signal() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// run is the cooperative dispatch loop. It wakes on enqueue, on capacity
// freed by a settled call, and on backoff expiry.
func (t *Throttle) run() {
	defer t.loopWG.Done()

	for {
		cfg := t.config()

		t.mu.Lock()
		now := t.now()
		var backoffWait time.Duration
		if t.backoffUntil.After(now) {
			backoffWait = t.backoffUntil.Sub(now)
		}

		var next *queuedCall
		if backoffWait == 0 && len(t.queue) > 0 && int(t.inFlight.Load()) < cfg.MaxConcurrentRequests {
			next = t.queue[0]
			t.queue = t.queue[1:]
		}
		limiter := t.limiter
		t.mu.Unlock()

		if next != nil {
			t.dispatch(limiter, next)
			continue
		}

		if backoffWait > 0 {
			timer := time.NewTimer(backoffWait)
			select {
			case <-timer.C:
			case <-t.stop:
				timer.Stop()
				return
			}
			timer.Stop()
			continue
		}

		select {
		case <-t.wake:
		case <-t.stop:
			return
		}
	}
}

// dispatch paces the call and hands it to the transport. Pacing blocks the
// dispatch loop on purpose: inter-request spacing is a serialized concern.
func (t *Throttle) dispatch(limiter *rate.Limiter, call *queuedCall) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-t.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := limiter.Wait(ctx); err != nil {
		cancel()
		select {
		case <-t.stop:
			// Shutdown interrupted the pacing wait. Fail the call now
			// instead of re-queueing it, which would spin the loop until
			// the pacing token arrives.
			call.resolve(Response{}, core.ErrQueueStopped)
		default:
			t.requeueFront(call)
		}
		return
	}

	if call.abandoned.Load() {
		cancel()
		return
	}

	t.inFlight.Add(1)
	t.callWG.Add(1)
	go func() {
		defer t.callWG.Done()
		defer cancel()

		started := t.now()
		resp, err := t.transport.RoundTrip(ctx, call.req)
		latency := t.now().Sub(started)

		t.inFlight.Add(-1)
		t.settle(call, resp, err, latency)
		t.signal()
	}()
}

// settle applies the resolution policy: rate limits back off and re-queue
// at the front, successes reset the backoff, everything else counts as a
// failed call.
func (t *Throttle) settle(call *queuedCall, resp Response, err error, latency time.Duration) {
	cfg := t.config()

	if errors.Is(err, core.ErrRateLimited) {
		t.totalCalls.Add(1)
		t.rateLimitedCalls.Add(1)
		metrics.RecordThrottleCall("rate_limited")

		t.mu.Lock()
		applied := t.backoff
		t.backoffUntil = t.now().Add(applied)
		t.backoff = nextBackoff(t.backoff, cfg.MaxBackoffDelay)
		t.mu.Unlock()
		metrics.SetThrottleBackoff(applied)

		if t.logger != nil {
			t.logger.Warn("Upstream rate limited, backing off",
				zap.String("endpoint", call.req.Endpoint),
				zap.String("method", call.req.Method),
				zap.Duration("backoff", applied))
		}

		if !call.abandoned.Load() {
			t.requeueFront(call)
		}
		return
	}

	if !call.claim() {
		// The submitter already recorded a timeout or cancellation for
		// this call. A late result must not add a second outcome or
		// reset the backoff the caller never benefited from.
		return
	}

	t.totalCalls.Add(1)
	t.recordLatency(latency)

	if err != nil {
		t.failedCalls.Add(1)
		metrics.RecordThrottleCall("failure")
		call.resolve(Response{}, err)
		return
	}

	t.successfulCalls.Add(1)
	metrics.RecordThrottleCall("success")

	t.mu.Lock()
	t.backoff = cfg.BackoffFloor
	t.backoffUntil = time.Time{}
	t.mu.Unlock()
	metrics.SetThrottleBackoff(cfg.BackoffFloor)

	call.resolve(resp, nil)
}

// requeueFront re-inserts a call at the head of the queue so its retry is
// dispatched before fresh arrivals. Deliberate priority for the
// rate-limited consumer's forward progress; do not flatten into FIFO.
func (t *Throttle) requeueFront(call *queuedCall) {
	t.mu.Lock()
	t.queue = append([]*queuedCall{call}, t.queue...)
	t.mu.Unlock()
	t.signal()
}

// recordLatency folds a sample into the incremental mean.
func (t *Throttle) recordLatency(latency time.Duration) {
	t.latencyMu.Lock()
	t.latencyCount++
	t.avgLatency += (latency - t.avgLatency) / time.Duration(t.latencyCount)
	t.latencyMu.Unlock()
}

// nextBackoff doubles the delay, capped at the configured ceiling.
func nextBackoff(current, ceiling time.Duration) time.Duration {
	next := current * 2
	if next > ceiling {
		return ceiling
	}
	return next
}
