package core

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the throttle and the execution queue.
var (
	// ErrRateLimited signals the upstream rejected a call for pacing
	// reasons. The throttle absorbs it with backoff; it is never
	// surfaced to the opportunity owner.
	ErrRateLimited = errors.New("upstream rate limited")

	// ErrTimeout signals a call exceeded its hard dispatch timeout.
	// Retried like an upstream error.
	ErrTimeout = errors.New("request timed out")

	// ErrStale signals an opportunity aged past the staleness ceiling.
	// Terminal: its estimates are no longer trustworthy, retrying would
	// not help.
	ErrStale = errors.New("opportunity is stale")

	// ErrUnsupportedProtocol signals a coverage gap: no executor is
	// registered for the opportunity's protocol tag. Terminal.
	ErrUnsupportedProtocol = errors.New("unsupported protocol")

	// ErrQueueStopped signals the component is no longer accepting work.
	ErrQueueStopped = errors.New("queue is stopped")
)

// UpstreamError wraps a non-rate-limit failure from the ledger endpoint.
// Counted as an execution failure and subject to the retry cap.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("upstream %s failed", e.Op)
	}
	return fmt.Sprintf("upstream %s failed: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Retryable reports whether an execution failure should re-enter the
// queue (subject to the retry cap) or terminate immediately.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrStale) || errors.Is(err, ErrUnsupportedProtocol) || errors.Is(err, ErrQueueStopped) {
		return false
	}
	return true
}
