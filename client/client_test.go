package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alloy-rs/alloy-sub000/client"
	"github.com/alloy-rs/alloy-sub000/jsonrpc"
	"github.com/alloy-rs/alloy-sub000/testlog"
)

// scriptedTransport answers every round-trip with the installed handler.
type scriptedTransport struct {
	roundTrips atomic.Int64
	handler    func(reqs []*jsonrpc.Request) ([]*jsonrpc.Response, error)
}

func (s *scriptedTransport) RoundTrip(ctx context.Context, reqs []*jsonrpc.Request) ([]*jsonrpc.Response, error) {
	s.roundTrips.Add(1)
	return s.handler(reqs)
}

func (s *scriptedTransport) Close() {}

// resultResponses answers each request with the given result literal.
func resultResponses(reqs []*jsonrpc.Request, result string) []*jsonrpc.Response {
	out := make([]*jsonrpc.Response, len(reqs))
	for i, req := range reqs {
		out[i] = &jsonrpc.Response{JSONRPC: jsonrpc.Vsn, ID: req.ID, Result: json.RawMessage(result)}
	}
	return out
}

func TestCallContext(t *testing.T) {
	tr := &scriptedTransport{handler: func(reqs []*jsonrpc.Request) ([]*jsonrpc.Response, error) {
		require.Len(t, reqs, 1)
		require.Equal(t, "eth_chainId", reqs[0].Method)
		return resultResponses(reqs, `"0x1"`), nil
	}}
	cl := client.New(tr, testlog.Logger(t, slog.LevelDebug), nil)

	var result string
	require.NoError(t, cl.CallContext(context.Background(), &result, "eth_chainId"))
	require.Equal(t, "0x1", result)
}

func TestCallContextNullResult(t *testing.T) {
	tr := &scriptedTransport{handler: func(reqs []*jsonrpc.Request) ([]*jsonrpc.Response, error) {
		return resultResponses(reqs, `null`), nil
	}}
	cl := client.New(tr, testlog.Logger(t, slog.LevelDebug), nil)

	var result json.RawMessage
	err := cl.CallContext(context.Background(), &result, "eth_getBlockByHash", "0xabc", false)
	require.ErrorIs(t, err, client.ErrNullResult)

	// a nil result pointer does not care about null
	require.NoError(t, cl.CallContext(context.Background(), nil, "eth_getBlockByHash", "0xabc", false))
}

func TestCallContextRPCError(t *testing.T) {
	tr := &scriptedTransport{handler: func(reqs []*jsonrpc.Request) ([]*jsonrpc.Response, error) {
		return []*jsonrpc.Response{jsonrpc.NewErrorResponse(reqs[0].ID, -32601, "the method does not exist")}, nil
	}}
	cl := client.New(tr, testlog.Logger(t, slog.LevelDebug), nil)

	err := cl.CallContext(context.Background(), nil, "eth_bogus")
	require.Error(t, err)
	require.True(t, jsonrpc.IsMethodNotFound(err))
}

func TestCallContextTransportError(t *testing.T) {
	boom := errors.New("connection refused")
	tr := &scriptedTransport{handler: func(reqs []*jsonrpc.Request) ([]*jsonrpc.Response, error) {
		return nil, boom
	}}
	cl := client.New(tr, testlog.Logger(t, slog.LevelDebug), nil)

	err := cl.CallContext(context.Background(), nil, "eth_chainId")
	require.ErrorIs(t, err, boom)
}

func TestBatchCallContext(t *testing.T) {
	tr := &scriptedTransport{handler: func(reqs []*jsonrpc.Request) ([]*jsonrpc.Response, error) {
		require.Len(t, reqs, 3)
		return []*jsonrpc.Response{
			{JSONRPC: jsonrpc.Vsn, ID: reqs[0].ID, Result: json.RawMessage(`"0x10"`)},
			jsonrpc.NewErrorResponse(reqs[1].ID, -32000, "header not found"),
			{JSONRPC: jsonrpc.Vsn, ID: reqs[2].ID, Result: json.RawMessage(`null`)},
		}, nil
	}}
	cl := client.New(tr, testlog.Logger(t, slog.LevelDebug), nil)

	var blockNum, gasPrice, block string
	batch := []client.BatchElem{
		{Method: "eth_blockNumber", Result: &blockNum},
		{Method: "eth_gasPrice", Result: &gasPrice},
		{Method: "eth_getBlockByNumber", Args: []any{"0x999", false}, Result: &block},
	}
	require.NoError(t, cl.BatchCallContext(context.Background(), batch))
	require.NoError(t, batch[0].Error)
	require.Equal(t, "0x10", blockNum)
	require.ErrorContains(t, batch[1].Error, "header not found")
	require.ErrorIs(t, batch[2].Error, client.ErrNullResult)
}

func TestBatchCallContextMissingResponse(t *testing.T) {
	tr := &scriptedTransport{handler: func(reqs []*jsonrpc.Request) ([]*jsonrpc.Response, error) {
		out := resultResponses(reqs, `"0x1"`)
		out[1] = nil
		return out, nil
	}}
	cl := client.New(tr, testlog.Logger(t, slog.LevelDebug), nil)

	batch := []client.BatchElem{
		{Method: "eth_chainId"},
		{Method: "eth_blockNumber"},
	}
	require.NoError(t, cl.BatchCallContext(context.Background(), batch))
	require.NoError(t, batch[0].Error)
	require.ErrorContains(t, batch[1].Error, "no response for eth_blockNumber")
}
