package ethrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Kind classifies an upstream failure.
type Kind string

const (
	KindTimeout   Kind = "timeout"
	KindTransport Kind = "transport"
	KindProvider  Kind = "provider_error"
	KindMalformed Kind = "malformed_response"
)

// Error is the typed failure of a JSON-RPC call, after retries.
type Error struct {
	Kind   Kind
	Method string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc %s (%s): %v", e.Method, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether another attempt could plausibly succeed.
// Provider rejections and malformed bodies are permanent.
func (e *Error) Retryable() bool {
	return e.Kind == KindTimeout || e.Kind == KindTransport
}

type Config struct {
	URL string
	// Timeout bounds each individual HTTP round trip.
	Timeout time.Duration
	// MaxRetries is the number of additional attempts after the first.
	MaxRetries uint64
	// InitialBackoff seeds the exponential backoff between attempts.
	InitialBackoff time.Duration
}

const (
	defaultTimeout        = 3 * time.Second
	defaultInitialBackoff = 200 * time.Millisecond
)

type Client struct {
	url            string
	httpClient     *http.Client
	idCounter      uint64
	timeout        time.Duration
	maxRetries     uint64
	initialBackoff time.Duration
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("rpc url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}
	return &Client{
		url:            cfg.URL,
		httpClient:     &http.Client{},
		timeout:        cfg.Timeout,
		maxRetries:     cfg.MaxRetries,
		initialBackoff: cfg.InitialBackoff,
	}, nil
}

// BalanceAt fetches the wei balance of an address at the given block tag.
// The returned latency covers only the round trip of the attempt whose value
// is returned.
func (c *Client) BalanceAt(ctx context.Context, address, blockTag string) (*big.Int, time.Duration, error) {
	var result string
	latency, err := c.callWithRetry(ctx, "eth_getBalance", []any{address, blockTag}, &result)
	if err != nil {
		return nil, 0, err
	}
	wei, err := parseHexBig(result)
	if err != nil {
		return nil, 0, &Error{Kind: KindMalformed, Method: "eth_getBalance", Err: err}
	}
	return wei, latency, nil
}

// BlockNumber fetches the current head block number as a hex string.
func (c *Client) BlockNumber(ctx context.Context) (string, error) {
	var result string
	if _, err := c.callWithRetry(ctx, "eth_blockNumber", []any{}, &result); err != nil {
		return "", err
	}
	if _, err := parseHexBig(result); err != nil {
		return "", &Error{Kind: KindMalformed, Method: "eth_blockNumber", Err: err}
	}
	return result, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcErrorBody   `json:"error"`
}

type rpcErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *Client) callWithRetry(ctx context.Context, method string, params []any, result any) (time.Duration, error) {
	var latency time.Duration
	operation := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		start := time.Now()
		err := c.call(attemptCtx, method, params, result)
		latency = time.Since(start)
		if err == nil {
			return nil
		}
		var rpcErr *Error
		if errors.As(err, &rpcErr) && !rpcErr.Retryable() {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.initialBackoff
	policy.MaxElapsedTime = 0

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, c.maxRetries), ctx))
	if err != nil {
		var rpcErr *Error
		if !errors.As(err, &rpcErr) {
			err = &Error{Kind: KindTransport, Method: method, Err: err}
		}
		return 0, err
	}
	return latency, nil
}

// call performs a single JSON-RPC round trip and classifies any failure.
func (c *Client) call(ctx context.Context, method string, params []any, result any) error {
	id := atomic.AddUint64(&c.idCounter, 1)
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return &Error{Kind: KindMalformed, Method: method, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return &Error{Kind: KindTransport, Method: method, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Kind: classifyTransport(err), Method: method, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return &Error{Kind: KindTransport, Method: method, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{Kind: KindProvider, Method: method, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return &Error{Kind: KindMalformed, Method: method, Err: err}
	}
	if decoded.Error != nil {
		return &Error{
			Kind:   KindProvider,
			Method: method,
			Err:    fmt.Errorf("code %d: %s", decoded.Error.Code, decoded.Error.Message),
		}
	}
	if result == nil {
		return nil
	}
	if len(decoded.Result) == 0 {
		return &Error{Kind: KindMalformed, Method: method, Err: errors.New("empty result")}
	}
	if err := json.Unmarshal(decoded.Result, result); err != nil {
		return &Error{Kind: KindMalformed, Method: method, Err: err}
	}
	return nil
}

func classifyTransport(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindTransport
}

func parseHexBig(value string) (*big.Int, error) {
	if !strings.HasPrefix(value, "0x") && !strings.HasPrefix(value, "0X") {
		return nil, fmt.Errorf("not a hex quantity: %q", value)
	}
	digits := value[2:]
	if digits == "" {
		return nil, fmt.Errorf("empty hex quantity: %q", value)
	}
	parsed, ok := new(big.Int).SetString(digits, 16)
	if !ok || parsed.Sign() < 0 {
		return nil, fmt.Errorf("not a hex quantity: %q", value)
	}
	return parsed, nil
}
