package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/alloy-rs/alloy-sub000/jsonrpc"
)

const (
	// endpointCooldown is how long a failed endpoint is demoted before we try it again.
	endpointCooldown = 30 * time.Second
	// rateLimitCooldown is how long an endpoint that served a 429 is demoted.
	rateLimitCooldown = 10 * time.Second
)

// endpoint tracks the health of a single upstream transport.
type endpoint struct {
	name      string
	transport Transport

	mu               sync.RWMutex
	unreachableUntil time.Time
	rateLimitedUntil time.Time
	latency          time.Duration
}

func (e *endpoint) available(now time.Time) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return now.After(e.unreachableUntil) && now.After(e.rateLimitedUntil)
}

func (e *endpoint) recordSuccess(latency time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.latency = latency
	e.unreachableUntil = time.Time{}
	e.rateLimitedUntil = time.Time{}
}

func (e *endpoint) recordFailure(now time.Time, rateLimited bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if rateLimited {
		e.rateLimitedUntil = now.Add(rateLimitCooldown)
	} else {
		e.unreachableUntil = now.Add(endpointCooldown)
	}
}

// Fallback is a Transport over an ordered set of upstream transports.
// Requests route to the first available endpoint; on transport failure the
// next endpoint is tried. Failed endpoints are demoted for a cooldown period
// so that a dead primary does not add latency to every request.
type Fallback struct {
	endpoints []*endpoint
	log       log.Logger
}

var _ Transport = (*Fallback)(nil)

// NamedTransport pairs a transport with a name for logging and metrics.
type NamedTransport struct {
	Name      string
	Transport Transport
}

func NewFallback(logger log.Logger, upstreams ...NamedTransport) (*Fallback, error) {
	if len(upstreams) == 0 {
		return nil, errors.New("need at least one upstream transport")
	}
	eps := make([]*endpoint, len(upstreams))
	for i, up := range upstreams {
		eps[i] = &endpoint{name: up.Name, transport: up.Transport}
	}
	return &Fallback{endpoints: eps, log: logger}, nil
}

// order returns the endpoints to try, preferred first: available endpoints in
// configured order, then cooling-down endpoints as a last resort.
func (f *Fallback) order(now time.Time) []*endpoint {
	out := make([]*endpoint, 0, len(f.endpoints))
	var demoted []*endpoint
	for _, ep := range f.endpoints {
		if ep.available(now) {
			out = append(out, ep)
		} else {
			demoted = append(demoted, ep)
		}
	}
	return append(out, demoted...)
}

func (f *Fallback) RoundTrip(ctx context.Context, reqs []*jsonrpc.Request) ([]*jsonrpc.Response, error) {
	var lastErr error
	for _, ep := range f.order(time.Now()) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		start := time.Now()
		resps, err := ep.transport.RoundTrip(ctx, reqs)
		if err == nil {
			ep.recordSuccess(time.Since(start))
			return resps, nil
		}
		var httpErr *HTTPError
		rateLimited := errors.As(err, &httpErr) && httpErr.IsRateLimited()
		ep.recordFailure(time.Now(), rateLimited)
		f.log.Warn("Upstream failed, falling back", "endpoint", ep.name, "rate_limited", rateLimited, "err", err)
		lastErr = err
	}
	return nil, fmt.Errorf("all %d upstreams failed: %w", len(f.endpoints), lastErr)
}

func (f *Fallback) Close() {
	for _, ep := range f.endpoints {
		ep.transport.Close()
	}
}
