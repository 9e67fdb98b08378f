package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/chainhound/chainhound/internal/core"
	"github.com/chainhound/chainhound/internal/core/throttle"
)

// rpcEnvelope is the JSON-RPC 2.0 request frame.
type rpcEnvelope struct {
	Version string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// HTTPTransport performs JSON-RPC calls against a ledger endpoint. It maps
// HTTP 429 and the JSON-RPC rate-limit code onto core.ErrRateLimited so the
// throttle can apply backoff instead of counting a failure.
type HTTPTransport struct {
	BaseURL string
	Client  *http.Client

	nextID atomic.Uint64
}

// rpcRateLimitCode is the JSON-RPC application code some ledger nodes use
// for pacing rejections.
const rpcRateLimitCode = -32005

// NewHTTPTransport creates a transport against baseURL.
func NewHTTPTransport(baseURL string) *HTTPTransport {
	return &HTTPTransport{
		BaseURL: baseURL,
		Client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// RoundTrip implements throttle.Transport.
func (t *HTTPTransport) RoundTrip(ctx context.Context, req throttle.Request) (throttle.Response, error) {
	envelope := rpcEnvelope{
		Version: "2.0",
		ID:      t.nextID.Add(1),
		Method:  req.Method,
		Params:  req.Payload,
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return throttle.Response{}, &core.UpstreamError{Op: req.Method, Err: fmt.Errorf("encode request: %w", err)}
	}

	url := t.BaseURL
	if req.Endpoint != "" {
		url = req.Endpoint
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return throttle.Response{}, &core.UpstreamError{Op: req.Method, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.Client.Do(httpReq)
	if err != nil {
		return throttle.Response{}, &core.UpstreamError{Op: req.Method, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		return throttle.Response{}, fmt.Errorf("%s: %w", req.Method, core.ErrRateLimited)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return throttle.Response{}, &core.UpstreamError{
			Op:  req.Method,
			Err: fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return throttle.Response{}, &core.UpstreamError{Op: req.Method, Err: fmt.Errorf("read response: %w", err)}
	}

	var decoded rpcResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return throttle.Response{}, &core.UpstreamError{Op: req.Method, Err: fmt.Errorf("decode response: %w", err)}
	}
	if decoded.Error != nil {
		if decoded.Error.Code == rpcRateLimitCode {
			return throttle.Response{}, fmt.Errorf("%s: %w", req.Method, core.ErrRateLimited)
		}
		return throttle.Response{}, &core.UpstreamError{Op: req.Method, Err: decoded.Error}
	}

	return throttle.Response{Payload: decoded.Result}, nil
}
