package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/alloy-rs/alloy-sub000/client"
	"github.com/alloy-rs/alloy-sub000/jsonrpc"
	"github.com/alloy-rs/alloy-sub000/transport"
)

// pendingNotifCap bounds notifications buffered for a server ID that has not
// been claimed by a subscription yet. The server may start pushing before the
// subscribe call's own response reaches the caller.
const pendingNotifCap = 16

// Manager tracks active subscriptions on a single pubsub transport.
// It installs itself as the transport's notification handler and, after a
// reconnect, re-subscribes every active subscription and remaps the fresh
// server ID onto the existing client-facing Subscription.
type Manager struct {
	cl  *client.Client
	t   transport.PubSubTransport
	log log.Logger

	mu      sync.Mutex
	subs    map[string]*Subscription // keyed by current server ID
	pending map[string][]json.RawMessage
	closed  bool
}

func NewManager(cl *client.Client, t transport.PubSubTransport, logger log.Logger) *Manager {
	m := &Manager{
		cl:      cl,
		t:       t,
		log:     logger,
		subs:    make(map[string]*Subscription),
		pending: make(map[string][]json.RawMessage),
	}
	t.SetNotificationHandler(m.handleNotification)
	t.OnReconnect(m.resubscribeAll)
	return m
}

// resubscribeTimeout caps how long re-establishing subscriptions after a
// reconnect may take before the affected subs are failed.
const resubscribeTimeout = 30 * time.Second

// Subscribe creates a subscription in the given namespace, e.g.
// Subscribe(ctx, "eth", "newHeads") issues eth_subscribe("newHeads").
func (m *Manager) Subscribe(ctx context.Context, namespace string, args ...any) (*Subscription, error) {
	sub := &Subscription{
		namespace: namespace,
		args:      args,
		ch:        make(chan json.RawMessage, subBufferSize),
		errCh:     make(chan error, 1),
	}
	id, err := m.subscribeCall(ctx, namespace, args)
	if err != nil {
		return nil, err
	}
	m.register(id, sub)
	return sub, nil
}

// Unsubscribe tells the server to stop the subscription and terminates it.
// The server-side unsubscribe is best-effort: the local subscription ends
// either way.
func (m *Manager) Unsubscribe(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	id := sub.serverID
	delete(m.subs, id)
	m.mu.Unlock()
	sub.terminate(nil)

	var ok bool
	if err := m.cl.CallContext(ctx, &ok, sub.namespace+"_unsubscribe", id); err != nil {
		return fmt.Errorf("unsubscribe %s failed: %w", id, err)
	}
	return nil
}

// Close terminates all subscriptions. It does not close the transport.
func (m *Manager) Close() {
	m.mu.Lock()
	subs := m.subs
	m.subs = make(map[string]*Subscription)
	m.closed = true
	m.mu.Unlock()
	for _, sub := range subs {
		sub.terminate(transport.ErrClosed)
	}
}

func (m *Manager) subscribeCall(ctx context.Context, namespace string, args []any) (string, error) {
	var id string
	if err := m.cl.CallContext(ctx, &id, namespace+"_subscribe", args...); err != nil {
		return "", fmt.Errorf("%s_subscribe failed: %w", namespace, err)
	}
	if id == "" {
		return "", fmt.Errorf("%s_subscribe returned empty subscription ID", namespace)
	}
	return id, nil
}

// register claims the server ID for sub and replays any notifications that
// arrived before the subscribe response was processed.
func (m *Manager) register(id string, sub *Subscription) {
	m.mu.Lock()
	sub.mu.Lock()
	sub.serverID = id
	sub.mu.Unlock()
	m.subs[id] = sub
	early := m.pending[id]
	delete(m.pending, id)
	m.mu.Unlock()
	for _, payload := range early {
		m.dispatch(sub, payload)
	}
}

func (m *Manager) handleNotification(params *jsonrpc.SubscriptionParams) {
	m.mu.Lock()
	sub, ok := m.subs[params.Subscription]
	if !ok && !m.closed {
		buf := m.pending[params.Subscription]
		if len(buf) < pendingNotifCap {
			m.pending[params.Subscription] = append(buf, params.Result)
		}
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	if ok {
		m.dispatch(sub, params.Result)
	}
}

func (m *Manager) dispatch(sub *Subscription, payload json.RawMessage) {
	if sub.deliver(payload) {
		return
	}
	m.log.Warn("Subscription consumer too slow, dropping subscription", "id", sub.ServerID(), "namespace", sub.namespace)
	m.mu.Lock()
	delete(m.subs, sub.ServerID())
	m.mu.Unlock()
	sub.terminate(ErrSubscriptionOverflow)
}

// resubscribeAll runs on transport reconnect. Each active subscription is
// re-established with a fresh subscribe call and keyed under its new server
// ID; subs that cannot be re-established are terminated with the error.
func (m *Manager) resubscribeAll() {
	m.mu.Lock()
	subs := m.subs
	m.subs = make(map[string]*Subscription)
	m.pending = make(map[string][]json.RawMessage)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), resubscribeTimeout)
	defer cancel()
	for oldID, sub := range subs {
		newID, err := m.subscribeCall(ctx, sub.namespace, sub.args)
		if err != nil {
			m.log.Error("Failed to re-establish subscription", "old_id", oldID, "namespace", sub.namespace, "err", err)
			sub.terminate(fmt.Errorf("resubscribe failed: %w", err))
			continue
		}
		m.register(newID, sub)
		m.log.Debug("Re-established subscription", "old_id", oldID, "new_id", newID, "namespace", sub.namespace)
	}
}
