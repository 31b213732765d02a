package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/websocket"

	"github.com/alloy-rs/alloy-sub000/jsonrpc"
	"github.com/alloy-rs/alloy-sub000/locks"
	"github.com/alloy-rs/alloy-sub000/retry"
)

const (
	wsHandshakeTimeout = 10 * time.Second
	wsReadTimeout      = 60 * time.Second
	wsPingInterval     = 20 * time.Second
	wsWriteTimeout     = 10 * time.Second
	wsMaxMessageSize   = 32 * 1024 * 1024

	wsReconnectAttempts = 30
)

// ErrClosed is returned for calls made after the transport was closed.
var ErrClosed = errors.New("transport closed")

// WSConfig configures a WebSocket transport.
type WSConfig struct {
	// Headers are sent with the handshake, e.g. for API-key auth.
	Headers http.Header
	// ReconnectStrategy paces redials after a dropped connection.
	// Defaults to exponential backoff.
	ReconnectStrategy retry.Strategy
}

// WS is a Transport over a WebSocket connection. It multiplexes concurrent
// calls over one connection, delivers server-push notifications, and redials
// with backoff when the connection drops.
type WS struct {
	url     string
	headers http.Header
	log     log.Logger

	reconnectStrategy retry.Strategy

	// inflight holds the response channels of calls awaiting an answer, keyed
	// by the request ID's JSON text.
	inflight *locks.RWMap[string, chan *jsonrpc.Response]

	notifHandler NotificationHandler
	reconnectFns []func()

	mu      sync.Mutex // guards conn, closed and writes
	conn    *websocket.Conn
	closed  bool
	closeCh chan struct{}
	wg      sync.WaitGroup
}

var _ PubSubTransport = (*WS)(nil)

// DialWS connects the WebSocket transport. The returned transport maintains
// the connection until Close is called.
func DialWS(ctx context.Context, url string, logger log.Logger, cfg *WSConfig) (*WS, error) {
	if cfg == nil {
		cfg = &WSConfig{}
	}
	strategy := cfg.ReconnectStrategy
	if strategy == nil {
		strategy = retry.Exponential()
	}
	ws := &WS{
		url:               url,
		headers:           cfg.Headers,
		log:               logger,
		reconnectStrategy: strategy,
		inflight:          &locks.RWMap[string, chan *jsonrpc.Response]{},
		closeCh:           make(chan struct{}),
	}
	conn, err := ws.dial(ctx)
	if err != nil {
		return nil, err
	}
	ws.conn = conn
	ws.wg.Add(1)
	go ws.readLoop(conn)
	ws.wg.Add(1)
	go ws.pingLoop()
	return ws, nil
}

func (ws *WS) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: wsHandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, ws.url, ws.headers)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", ws.url, err)
	}
	conn.SetReadLimit(wsMaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})
	return conn, nil
}

func (ws *WS) SetNotificationHandler(handler NotificationHandler) {
	ws.notifHandler = handler
}

func (ws *WS) OnReconnect(fn func()) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.reconnectFns = append(ws.reconnectFns, fn)
}

func (ws *WS) RoundTrip(ctx context.Context, reqs []*jsonrpc.Request) ([]*jsonrpc.Response, error) {
	waiters := make(map[int]chan *jsonrpc.Response, len(reqs))
	for i, req := range reqs {
		if req.IsNotification() {
			continue
		}
		ch := make(chan *jsonrpc.Response, 1)
		ws.inflight.Set(req.ID.String(), ch)
		waiters[i] = ch
	}
	defer func() {
		for _, req := range reqs {
			if !req.IsNotification() {
				ws.inflight.Delete(req.ID.String())
			}
		}
	}()

	if err := ws.write(reqs); err != nil {
		return nil, err
	}

	out := make([]*jsonrpc.Response, len(reqs))
	for i, ch := range waiters {
		select {
		case resp, ok := <-ch:
			if !ok {
				return nil, ErrClosed
			}
			out[i] = resp
		case <-ws.closeCh:
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return out, nil
}

func (ws *WS) write(reqs []*jsonrpc.Request) error {
	body, err := jsonrpc.MarshalRequests(reqs)
	if err != nil {
		return err
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.closed {
		return ErrClosed
	}
	if ws.conn == nil {
		return errors.New("not connected")
	}
	_ = ws.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return ws.conn.WriteMessage(websocket.TextMessage, body)
}

// readLoop reads messages until the connection fails, then hands off to the
// reconnect routine. A close initiated by us, or a normal close handshake by
// the server, ends the loop without error noise.
func (ws *WS) readLoop(conn *websocket.Conn) {
	defer ws.wg.Done()
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ws.isClosed() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				// normal EOF, not an error
				ws.failInflight(ErrClosed)
				return
			}
			ws.log.Warn("WebSocket read failed, reconnecting", "err", err)
			ws.failInflight(fmt.Errorf("connection lost: %w", err))
			ws.reconnect()
			return
		}
		ws.dispatch(msg)
	}
}

func (ws *WS) dispatch(msg []byte) {
	// Server-push notifications are requests from the server's point of view.
	// Cheap sniff: responses carry no "method".
	if reqs, err := jsonrpc.ParseRequests(msg); err == nil && len(reqs) > 0 && reqs[0].Method != "" {
		for _, req := range reqs {
			ws.dispatchNotification(req)
		}
		return
	}
	resps, err := jsonrpc.ParseResponses(msg)
	if err != nil {
		ws.log.Warn("Dropping unparseable WebSocket message", "err", err)
		return
	}
	for _, resp := range resps {
		if ch, ok := ws.inflight.Get(resp.ID.String()); ok {
			ch <- resp
		} else {
			ws.log.Debug("Dropping response with unknown ID", "id", resp.ID)
		}
	}
}

func (ws *WS) dispatchNotification(req *jsonrpc.Request) {
	if ws.notifHandler == nil {
		return
	}
	params, err := jsonrpc.ParseSubscriptionParams(req.Params)
	if err != nil {
		ws.log.Warn("Dropping malformed subscription notification", "method", req.Method, "err", err)
		return
	}
	ws.notifHandler(params)
}

// failInflight closes out all calls waiting on the now-dead connection.
func (ws *WS) failInflight(err error) {
	for _, key := range ws.inflight.Keys() {
		if ch, ok := ws.inflight.Get(key); ok {
			ws.inflight.Delete(key)
			select {
			case ch <- &jsonrpc.Response{
				JSONRPC: jsonrpc.Vsn,
				Error:   &jsonrpc.Error{Code: jsonrpc.InternalErrorCode, Message: err.Error()},
			}:
			default:
			}
			close(ch)
		}
	}
}

func (ws *WS) reconnect() {
	conn, err := retry.Do(context.Background(), wsReconnectAttempts, ws.reconnectStrategy, func() (*websocket.Conn, error) {
		if ws.isClosed() {
			return nil, ErrClosed
		}
		return ws.dial(context.Background())
	})
	if err != nil {
		ws.log.Error("WebSocket reconnect failed permanently", "err", err)
		ws.Close()
		return
	}

	ws.mu.Lock()
	if ws.closed {
		ws.mu.Unlock()
		_ = conn.Close()
		return
	}
	ws.conn = conn
	fns := append([]func(){}, ws.reconnectFns...)
	ws.mu.Unlock()

	ws.log.Info("WebSocket reconnected", "url", ws.url)
	ws.wg.Add(1)
	go ws.readLoop(conn)

	// Let subscribers re-establish their subscriptions on the fresh connection.
	for _, fn := range fns {
		fn()
	}
}

func (ws *WS) pingLoop() {
	defer ws.wg.Done()
	t := time.NewTicker(wsPingInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			ws.mu.Lock()
			if ws.conn != nil && !ws.closed {
				_ = ws.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(wsWriteTimeout))
			}
			ws.mu.Unlock()
		case <-ws.closeCh:
			return
		}
	}
}

func (ws *WS) isClosed() bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.closed
}

func (ws *WS) Close() {
	ws.mu.Lock()
	if ws.closed {
		ws.mu.Unlock()
		return
	}
	ws.closed = true
	close(ws.closeCh)
	conn := ws.conn
	ws.conn = nil
	ws.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}
}
