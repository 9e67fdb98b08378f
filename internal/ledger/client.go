// Package ledger is the outbound collaborator boundary: an abstract RPC
// endpoint capable of submitting a signed operation, fetching its
// confirmation status, and fetching its resolved cost. Every call rides the
// request throttle.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chainhound/chainhound/internal/core"
	"github.com/chainhound/chainhound/internal/core/throttle"
)

// Submitter is the throttle's public submission contract. The ledger client
// never inspects throttle internals.
type Submitter interface {
	Submit(ctx context.Context, req throttle.Request) (throttle.Response, error)
}

// Operation is a protocol-specific payload ready for submission.
type Operation struct {
	Protocol core.Protocol  `json:"protocol"`
	Target   string         `json:"target"`
	Params   map[string]any `json:"params,omitempty"`
}

// Confirmation reports the settled outcome of a submitted operation.
type Confirmation struct {
	Ref           string  `json:"ref"`
	Finalized     bool    `json:"finalized"`
	Succeeded     bool    `json:"succeeded"`
	SettledAmount float64 `json:"settled_amount"`
	Slot          uint64  `json:"slot,omitempty"`
	Reason        string  `json:"reason,omitempty"`
}

// Client issues ledger RPC calls through the throttle.
type Client struct {
	submitter Submitter
	routes    *Routes

	// pollInterval spaces confirmation polls; the throttle additionally
	// paces the underlying calls.
	pollInterval time.Duration
}

// NewClient creates a ledger client. A nil routes table falls back to the
// default method names.
func NewClient(submitter Submitter, routes *Routes) *Client {
	if routes == nil {
		routes = DefaultRoutes()
	}
	return &Client{
		submitter:    submitter,
		routes:       routes,
		pollInterval: 500 * time.Millisecond,
	}
}

// SubmitOperation submits a signed operation and returns its reference.
func (c *Client) SubmitOperation(ctx context.Context, op Operation) (string, error) {
	route := c.routes.For(op.Protocol)

	resp, err := c.submitter.Submit(ctx, throttle.Request{
		Endpoint: route.Endpoint,
		Method:   route.SubmitMethod,
		Payload:  op,
	})
	if err != nil {
		return "", err
	}

	var out struct {
		Ref string `json:"ref"`
	}
	if err := decodePayload(resp.Payload, &out); err != nil {
		return "", &core.UpstreamError{Op: route.SubmitMethod, Err: err}
	}
	if out.Ref == "" {
		return "", &core.UpstreamError{Op: route.SubmitMethod, Err: errors.New("empty operation ref")}
	}
	return out.Ref, nil
}

// ConfirmationStatus fetches the current confirmation state of ref.
func (c *Client) ConfirmationStatus(ctx context.Context, protocol core.Protocol, ref string) (Confirmation, error) {
	route := c.routes.For(protocol)

	resp, err := c.submitter.Submit(ctx, throttle.Request{
		Endpoint: route.Endpoint,
		Method:   route.ConfirmMethod,
		Payload:  map[string]any{"ref": ref},
	})
	if err != nil {
		return Confirmation{}, err
	}

	var conf Confirmation
	if err := decodePayload(resp.Payload, &conf); err != nil {
		return Confirmation{}, &core.UpstreamError{Op: route.ConfirmMethod, Err: err}
	}
	return conf, nil
}

// AwaitConfirmation polls until the operation finalizes or ctx expires.
func (c *Client) AwaitConfirmation(ctx context.Context, protocol core.Protocol, ref string) (Confirmation, error) {
	for {
		conf, err := c.ConfirmationStatus(ctx, protocol, ref)
		if err != nil {
			return Confirmation{}, err
		}
		if conf.Finalized {
			return conf, nil
		}

		timer := time.NewTimer(c.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Confirmation{}, fmt.Errorf("awaiting confirmation of %s: %w", ref, core.ErrTimeout)
		case <-timer.C:
		}
	}
}

// OperationCost fetches the resolved cost (fees) of a finalized operation.
func (c *Client) OperationCost(ctx context.Context, protocol core.Protocol, ref string) (float64, error) {
	route := c.routes.For(protocol)

	resp, err := c.submitter.Submit(ctx, throttle.Request{
		Endpoint: route.Endpoint,
		Method:   route.CostMethod,
		Payload:  map[string]any{"ref": ref},
	})
	if err != nil {
		return 0, err
	}

	var out struct {
		Cost float64 `json:"cost"`
	}
	if err := decodePayload(resp.Payload, &out); err != nil {
		return 0, &core.UpstreamError{Op: route.CostMethod, Err: err}
	}
	return out.Cost, nil
}

// decodePayload unmarshals a raw throttle payload into out. Payloads arrive
// as json.RawMessage from the HTTP transport; fakes may hand over typed
// values directly via a marshal round-trip.
func decodePayload(payload any, out any) error {
	switch v := payload.(type) {
	case nil:
		return errors.New("empty payload")
	case json.RawMessage:
		return json.Unmarshal(v, out)
	case []byte:
		return json.Unmarshal(v, out)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, out)
	}
}
