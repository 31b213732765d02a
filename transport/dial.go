package transport

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/alloy-rs/alloy-sub000/retry"
)

// DefaultDialTimeout is a default timeout for dialing an endpoint.
const DefaultDialTimeout = 1 * time.Minute
const defaultDialAttempts = 30
const defaultDialRetryTime = 2 * time.Second

// Dial connects a transport fitting the URL scheme:
// http(s) URLs get an HTTP transport, ws(s) URLs a WebSocket transport.
// WebSocket dialing is retried with a fixed backoff until the context expires.
func Dial(ctx context.Context, addr string, logger log.Logger) (Transport, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint URL %q: %w", addr, err)
	}
	switch u.Scheme {
	case "http", "https":
		return NewHTTP(addr, logger, nil)
	case "ws", "wss":
		return DialWSWithRetry(ctx, addr, logger)
	default:
		return nil, fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
}

// DialWSWithRetry dials a WebSocket endpoint repeatedly, with a backoff,
// until a connection is established or the context expires.
func DialWSWithRetry(ctx context.Context, addr string, logger log.Logger) (*WS, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultDialTimeout)
	defer cancel()
	bOff := retry.Fixed(defaultDialRetryTime)
	return retry.Do(ctx, defaultDialAttempts, bOff, func() (*WS, error) {
		return DialWS(ctx, addr, logger, nil)
	})
}
