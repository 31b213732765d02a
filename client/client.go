// Package client implements the JSON-RPC client on top of a transport:
// single calls, explicit batches, transparent batch aggregation, and polling.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"

	"github.com/alloy-rs/alloy-sub000/jsonrpc"
	"github.com/alloy-rs/alloy-sub000/metrics"
	"github.com/alloy-rs/alloy-sub000/transport"
)

// ErrNullResult is returned when the server answered with a null result but
// the caller required a value.
var ErrNullResult = errors.New("result is null")

// BatchElem is one call of an explicit batch request.
type BatchElem struct {
	Method string
	Args   []any
	// Result is a pointer the response result is unmarshaled into.
	// A null result leaves Result untouched and sets Error to ErrNullResult.
	Result any
	// Error is set when the call errored: either the server's JSON-RPC error,
	// or the unmarshalling failure.
	Error error
}

// Config tunes a Client. The zero value is usable.
type Config struct {
	// Metrics records per-method call metrics. Defaults to a no-op.
	Metrics metrics.RPCMetricer
}

// Client issues JSON-RPC calls over a Transport, assigning request IDs and
// matching results back to callers.
type Client struct {
	t       transport.Transport
	log     log.Logger
	metrics metrics.RPCMetricer
	idN     atomic.Int64
}

func New(t transport.Transport, logger log.Logger, cfg *Config) *Client {
	m := metrics.RPCMetricer(metrics.NoopMetrics{})
	if cfg != nil && cfg.Metrics != nil {
		m = cfg.Metrics
	}
	return &Client{t: t, log: logger, metrics: m}
}

// Transport exposes the underlying transport, e.g. to check for pubsub support.
func (c *Client) Transport() transport.Transport {
	return c.t
}

func (c *Client) nextID() jsonrpc.ID {
	return jsonrpc.NumberID(c.idN.Add(1))
}

// CallContext performs a single call. The result is unmarshaled into result
// unless it is nil. A null result with a non-nil result pointer returns
// ErrNullResult, so "not found" can be told apart from RPC failure.
func (c *Client) CallContext(ctx context.Context, result any, method string, args ...any) error {
	req, err := jsonrpc.NewRequest(c.nextID(), method, args...)
	if err != nil {
		return err
	}
	done := c.metrics.RecordRPCClientRequest(method)
	resp, err := transport.Call(ctx, c.t, req)
	if err != nil {
		done(err)
		return fmt.Errorf("call %s failed: %w", method, err)
	}
	err = decodeResult(resp, result)
	done(err)
	return err
}

// BatchCallContext performs all calls in one wire-level batch.
// Per-element failures are reported in each element's Error field; the
// returned error covers failures of the batch as a whole.
func (c *Client) BatchCallContext(ctx context.Context, b []BatchElem) error {
	if len(b) == 0 {
		return nil
	}
	reqs := make([]*jsonrpc.Request, len(b))
	for i := range b {
		req, err := jsonrpc.NewRequest(c.nextID(), b[i].Method, b[i].Args...)
		if err != nil {
			return err
		}
		reqs[i] = req
	}
	c.metrics.RecordBatchSize(len(b))
	resps, err := c.t.RoundTrip(ctx, reqs)
	if err != nil {
		return fmt.Errorf("batch of %d calls failed: %w", len(b), err)
	}
	for i := range b {
		if resps[i] == nil {
			b[i].Error = fmt.Errorf("no response for %s", b[i].Method)
			continue
		}
		b[i].Error = decodeResult(resps[i], b[i].Result)
		c.metrics.RecordRPCClientResponse(b[i].Method, b[i].Error)
	}
	return nil
}

func (c *Client) Close() {
	c.t.Close()
}

func decodeResult(resp *jsonrpc.Response, result any) error {
	if err := resp.Err(); err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	if len(resp.Result) == 0 || string(resp.Result) == "null" {
		return ErrNullResult
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return nil
}
