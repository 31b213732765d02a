package transport_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/alloy-rs/alloy-sub000/jsonrpc"
	"github.com/alloy-rs/alloy-sub000/testlog"
	"github.com/alloy-rs/alloy-sub000/transport"
)

var testUpgrader = websocket.Upgrader{}

// wsEchoServer answers every request with its method name as the result, and
// answers eth_subscribe with a fixed subscription ID followed by one pushed
// notification for that subscription.
func wsEchoServer(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			reqs, err := jsonrpc.ParseRequests(msg)
			require.NoError(t, err)
			resps := make([]*jsonrpc.Response, 0, len(reqs))
			var notify []json.RawMessage
			for _, req := range reqs {
				result := req.Method
				if req.Method == "eth_subscribe" {
					result = "0xsub1"
					notify = append(notify, json.RawMessage(
						`{"jsonrpc":"2.0","method":"eth_subscription","params":{"subscription":"0xsub1","result":{"number":"0x7"}}}`))
				}
				raw, err := json.Marshal(result)
				require.NoError(t, err)
				resps = append(resps, &jsonrpc.Response{JSONRPC: jsonrpc.Vsn, ID: req.ID, Result: raw})
			}
			var out []byte
			if len(reqs) == 1 {
				out, err = json.Marshal(resps[0])
			} else {
				out, err = json.Marshal(resps)
			}
			require.NoError(t, err)
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, out))
			for _, n := range notify {
				require.NoError(t, conn.WriteMessage(websocket.TextMessage, n))
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSRoundTrip(t *testing.T) {
	srv := wsEchoServer(t)
	defer srv.Close()
	logger := testlog.Logger(t, slog.LevelDebug)

	ws, err := transport.DialWS(context.Background(), wsURL(srv), logger, nil)
	require.NoError(t, err)
	defer ws.Close()

	req, err := jsonrpc.NewRequest(jsonrpc.NumberID(1), "eth_chainId")
	require.NoError(t, err)
	resps, err := ws.RoundTrip(context.Background(), []*jsonrpc.Request{req})
	require.NoError(t, err)
	require.Len(t, resps, 1)
	require.JSONEq(t, `"eth_chainId"`, string(resps[0].Result))
}

func TestWSBatchRoundTrip(t *testing.T) {
	srv := wsEchoServer(t)
	defer srv.Close()
	logger := testlog.Logger(t, slog.LevelDebug)

	ws, err := transport.DialWS(context.Background(), wsURL(srv), logger, nil)
	require.NoError(t, err)
	defer ws.Close()

	req1, err := jsonrpc.NewRequest(jsonrpc.NumberID(1), "eth_blockNumber")
	require.NoError(t, err)
	req2, err := jsonrpc.NewRequest(jsonrpc.NumberID(2), "eth_gasPrice")
	require.NoError(t, err)
	resps, err := ws.RoundTrip(context.Background(), []*jsonrpc.Request{req1, req2})
	require.NoError(t, err)
	require.Len(t, resps, 2)
	require.JSONEq(t, `"eth_blockNumber"`, string(resps[0].Result))
	require.JSONEq(t, `"eth_gasPrice"`, string(resps[1].Result))
}

func TestWSNotifications(t *testing.T) {
	srv := wsEchoServer(t)
	defer srv.Close()
	logger := testlog.Logger(t, slog.LevelDebug)

	ws, err := transport.DialWS(context.Background(), wsURL(srv), logger, nil)
	require.NoError(t, err)
	defer ws.Close()

	notifCh := make(chan *jsonrpc.SubscriptionParams, 1)
	ws.SetNotificationHandler(func(params *jsonrpc.SubscriptionParams) {
		notifCh <- params
	})

	req, err := jsonrpc.NewRequest(jsonrpc.NumberID(1), "eth_subscribe", "newHeads")
	require.NoError(t, err)
	resps, err := ws.RoundTrip(context.Background(), []*jsonrpc.Request{req})
	require.NoError(t, err)
	require.JSONEq(t, `"0xsub1"`, string(resps[0].Result))

	select {
	case params := <-notifCh:
		require.Equal(t, "0xsub1", params.Subscription)
		require.JSONEq(t, `{"number":"0x7"}`, string(params.Result))
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

func TestWSClosed(t *testing.T) {
	srv := wsEchoServer(t)
	defer srv.Close()
	logger := testlog.Logger(t, slog.LevelDebug)

	ws, err := transport.DialWS(context.Background(), wsURL(srv), logger, nil)
	require.NoError(t, err)
	ws.Close()

	req, err := jsonrpc.NewRequest(jsonrpc.NumberID(1), "eth_chainId")
	require.NoError(t, err)
	_, err = ws.RoundTrip(context.Background(), []*jsonrpc.Request{req})
	require.ErrorIs(t, err, transport.ErrClosed)
}
