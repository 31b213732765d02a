// Package transport provides the wire layer under the RPC client: HTTP and
// WebSocket round-trippers for JSON-RPC packets, and composable middleware
// layers for retries, rate-limits, concurrency limits and endpoint fallback.
package transport

import (
	"context"

	"github.com/alloy-rs/alloy-sub000/jsonrpc"
)

// Transport sends a packet of JSON-RPC requests and returns the matched responses.
//
// The returned slice has the same length and order as reqs. An entry may be nil
// when the request was a notification, or when the server left it unanswered.
// A non-nil error means the packet as a whole failed (connectivity, framing);
// per-request failures are reported in each Response's Error field instead.
type Transport interface {
	RoundTrip(ctx context.Context, reqs []*jsonrpc.Request) ([]*jsonrpc.Response, error)
	Close()
}

// NotificationHandler receives server-pushed subscription notifications.
type NotificationHandler func(params *jsonrpc.SubscriptionParams)

// PubSubTransport is implemented by transports that support server push,
// i.e. the *_subscribe method family.
type PubSubTransport interface {
	Transport
	// SetNotificationHandler installs the handler for subscription notifications.
	// It must be called before the first subscription is made.
	SetNotificationHandler(handler NotificationHandler)
	// OnReconnect registers a callback invoked after the transport re-established
	// a broken connection. Used to resubscribe active subscriptions.
	OnReconnect(fn func())
}

// Call performs a single request over the transport and returns its response.
func Call(ctx context.Context, t Transport, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	resps, err := t.RoundTrip(ctx, []*jsonrpc.Request{req})
	if err != nil {
		return nil, err
	}
	return resps[0], nil
}
