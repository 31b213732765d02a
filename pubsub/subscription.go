// Package pubsub manages server-push subscriptions over a pubsub-capable
// transport: subscribe/unsubscribe calls, notification dispatch, and
// re-establishing active subscriptions when the connection is rebuilt.
package pubsub

import (
	"encoding/json"
	"errors"
	"sync"
)

// subBufferSize bounds how many undelivered notifications a subscription may
// hold. A consumer that falls further behind loses the subscription, rather
// than growing the buffer without bound.
const subBufferSize = 64

// ErrSubscriptionOverflow terminates subscriptions with too-slow consumers.
var ErrSubscriptionOverflow = errors.New("subscription buffer overflow")

// ErrUnsubscribed is reported on Err() after a clean Unsubscribe.
var ErrUnsubscribed = errors.New("unsubscribed")

// Subscription is an active server-push subscription.
// The server-side ID may change over the subscription's lifetime when the
// transport reconnects; the client-facing channels never do.
type Subscription struct {
	namespace string
	args      []any

	ch    chan json.RawMessage
	errCh chan error

	mu       sync.Mutex
	serverID string
	closed   bool
}

// Data delivers the raw notification payloads, in arrival order.
// The channel is closed when the subscription ends; consult Err for the reason.
func (s *Subscription) Data() <-chan json.RawMessage {
	return s.ch
}

// Err delivers the terminal error of the subscription, if any.
func (s *Subscription) Err() <-chan error {
	return s.errCh
}

// ServerID returns the current server-side subscription ID.
func (s *Subscription) ServerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverID
}

// deliver enqueues a notification; reports false on buffer overflow.
func (s *Subscription) deliver(payload json.RawMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true // drop silently, the sub is already gone
	}
	select {
	case s.ch <- payload:
		return true
	default:
		return false
	}
}

// terminate closes the subscription with the given reason. nil means clean unsubscribe.
func (s *Subscription) terminate(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if err == nil {
		err = ErrUnsubscribed
	}
	s.errCh <- err
	close(s.ch)
}
