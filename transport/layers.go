package transport

import (
	"context"
	"errors"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/alloy-rs/alloy-sub000/jsonrpc"
	"github.com/alloy-rs/alloy-sub000/retry"
)

// RetryTransport retries failed round-trips with a backoff strategy.
// Only transport-level failures are retried: a JSON-RPC error response is a
// valid answer from the server and is returned as-is.
type RetryTransport struct {
	inner    Transport
	attempts int
	strategy retry.Strategy
}

var _ Transport = (*RetryTransport)(nil)

func NewRetryTransport(inner Transport, attempts int, strategy retry.Strategy) *RetryTransport {
	return &RetryTransport{inner: inner, attempts: attempts, strategy: strategy}
}

func (t *RetryTransport) RoundTrip(ctx context.Context, reqs []*jsonrpc.Request) ([]*jsonrpc.Response, error) {
	return retry.Do(ctx, t.attempts, t.strategy, func() ([]*jsonrpc.Response, error) {
		resps, err := t.inner.RoundTrip(ctx, reqs)
		if errors.Is(err, ErrClosed) {
			// do not hammer a transport that was closed on purpose
			return nil, ctx.Err()
		}
		return resps, err
	})
}

func (t *RetryTransport) Close() {
	t.inner.Close()
}

// LimitTransport caps the number of concurrent round-trips on the inner transport.
type LimitTransport struct {
	inner Transport
	sema  *semaphore.Weighted
}

var _ Transport = (*LimitTransport)(nil)

// NewLimitTransport wraps the transport with a concurrency limit.
func NewLimitTransport(inner Transport, maxConcurrent int) *LimitTransport {
	return &LimitTransport{inner: inner, sema: semaphore.NewWeighted(int64(maxConcurrent))}
}

func (t *LimitTransport) RoundTrip(ctx context.Context, reqs []*jsonrpc.Request) ([]*jsonrpc.Response, error) {
	if err := t.sema.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer t.sema.Release(1)
	return t.inner.RoundTrip(ctx, reqs)
}

func (t *LimitTransport) Close() {
	t.inner.Close()
}

// RateLimitTransport paces round-trips with a token bucket,
// to stay inside provider request quotas.
type RateLimitTransport struct {
	inner   Transport
	limiter *rate.Limiter
}

var _ Transport = (*RateLimitTransport)(nil)

// NewRateLimitTransport wraps the transport with a requests-per-second budget.
// A batch consumes one token per contained request.
func NewRateLimitTransport(inner Transport, rps float64, burst int) *RateLimitTransport {
	return &RateLimitTransport{inner: inner, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (t *RateLimitTransport) RoundTrip(ctx context.Context, reqs []*jsonrpc.Request) ([]*jsonrpc.Response, error) {
	n := len(reqs)
	if n > t.limiter.Burst() {
		// Oversized batches would never get enough tokens at once; let them
		// through at the cost of a full bucket.
		n = t.limiter.Burst()
	}
	if err := t.limiter.WaitN(ctx, n); err != nil {
		return nil, err
	}
	return t.inner.RoundTrip(ctx, reqs)
}

func (t *RateLimitTransport) Close() {
	t.inner.Close()
}
