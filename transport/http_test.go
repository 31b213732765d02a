package transport_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alloy-rs/alloy-sub000/jsonrpc"
	"github.com/alloy-rs/alloy-sub000/testlog"
	"github.com/alloy-rs/alloy-sub000/transport"
)

// echoRPCServer answers every request with its own ID and the method name as result.
func echoRPCServer(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		body, err := jsonrpc.ParseRequests(raw)
		require.NoError(t, err)
		resps := make([]*jsonrpc.Response, 0, len(body))
		for _, req := range body {
			result, _ := json.Marshal(req.Method)
			resps = append(resps, &jsonrpc.Response{JSONRPC: jsonrpc.Vsn, ID: req.ID, Result: result})
		}
		w.Header().Set("Content-Type", "application/json")
		if len(resps) == 1 {
			_ = json.NewEncoder(w).Encode(resps[0])
		} else {
			_ = json.NewEncoder(w).Encode(resps)
		}
	}))
}

func TestHTTPRoundTrip(t *testing.T) {
	server := echoRPCServer(t)
	defer server.Close()
	logger := testlog.Logger(t, slog.LevelDebug)

	h, err := transport.NewHTTP(server.URL, logger, nil)
	require.NoError(t, err)
	defer h.Close()

	req, err := jsonrpc.NewRequest(jsonrpc.NumberID(1), "eth_chainId")
	require.NoError(t, err)
	resp, err := transport.Call(context.Background(), h, req)
	require.NoError(t, err)
	require.NoError(t, resp.Err())
	require.Equal(t, `"eth_chainId"`, string(resp.Result))
}

func TestHTTPBatchRoundTrip(t *testing.T) {
	server := echoRPCServer(t)
	defer server.Close()
	logger := testlog.Logger(t, slog.LevelDebug)

	h, err := transport.NewHTTP(server.URL, logger, nil)
	require.NoError(t, err)
	defer h.Close()

	req1, _ := jsonrpc.NewRequest(jsonrpc.NumberID(1), "eth_chainId")
	req2, _ := jsonrpc.NewRequest(jsonrpc.NumberID(2), "eth_blockNumber")
	resps, err := h.RoundTrip(context.Background(), []*jsonrpc.Request{req1, req2})
	require.NoError(t, err)
	require.Len(t, resps, 2)
	require.Equal(t, `"eth_chainId"`, string(resps[0].Result))
	require.Equal(t, `"eth_blockNumber"`, string(resps[1].Result))
}

func TestHTTPErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "try again later", http.StatusTooManyRequests)
	}))
	defer server.Close()
	logger := testlog.Logger(t, slog.LevelDebug)

	h, err := transport.NewHTTP(server.URL, logger, nil)
	require.NoError(t, err)
	defer h.Close()

	req, _ := jsonrpc.NewRequest(jsonrpc.NumberID(1), "eth_chainId")
	_, err = transport.Call(context.Background(), h, req)
	require.Error(t, err)
	var httpErr *transport.HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.True(t, httpErr.IsRateLimited())
}

func TestHTTPCustomHeaders(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x1"}`))
	}))
	defer server.Close()
	logger := testlog.Logger(t, slog.LevelDebug)

	h, err := transport.NewHTTP(server.URL, logger, &transport.HTTPConfig{
		Headers: http.Header{"Authorization": []string{"Bearer secret"}},
	})
	require.NoError(t, err)
	defer h.Close()

	req, _ := jsonrpc.NewRequest(jsonrpc.NumberID(1), "eth_chainId")
	_, err = transport.Call(context.Background(), h, req)
	require.NoError(t, err)
	require.Equal(t, "Bearer secret", gotAuth)
}
