package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/alloy-rs/alloy-sub000/jsonrpc"
)

const (
	defaultHTTPTimeout = 30 * time.Second

	// maxResponseSize bounds how much of a response body we are willing to read.
	// Blocks with full transactions can be large, but not this large.
	maxResponseSize = 128 * 1024 * 1024
)

// HTTPConfig configures an HTTP transport.
type HTTPConfig struct {
	// Timeout bounds a single round-trip, including the body read.
	Timeout time.Duration
	// Headers are added to every request, e.g. for API-key auth.
	Headers http.Header
	// Client overrides the underlying http.Client. Defaults to a fresh client.
	Client *http.Client
}

func (c *HTTPConfig) Check() error {
	if c.Timeout < 0 {
		return fmt.Errorf("invalid timeout: %d", c.Timeout)
	}
	return nil
}

// HTTP is a Transport that posts JSON-RPC packets to a single URL.
type HTTP struct {
	url     string
	client  *http.Client
	headers http.Header
	timeout time.Duration
	log     log.Logger
}

var _ Transport = (*HTTP)(nil)

func NewHTTP(url string, logger log.Logger, cfg *HTTPConfig) (*HTTP, error) {
	if cfg == nil {
		cfg = &HTTPConfig{}
	}
	if err := cfg.Check(); err != nil {
		return nil, fmt.Errorf("bad HTTP transport config: %w", err)
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultHTTPTimeout
	}
	return &HTTP{
		url:     url,
		client:  client,
		headers: cfg.Headers,
		timeout: timeout,
		log:     logger,
	}, nil
}

func (h *HTTP) RoundTrip(ctx context.Context, reqs []*jsonrpc.Request) ([]*jsonrpc.Response, error) {
	body, err := jsonrpc.MarshalRequests(reqs)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	for k, vs := range h.headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	httpRes, err := h.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", h.url, err)
	}
	defer httpRes.Body.Close()

	resBody, err := io.ReadAll(io.LimitReader(httpRes.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if httpRes.StatusCode != http.StatusOK {
		return nil, &HTTPError{Status: httpRes.StatusCode, Body: resBody}
	}

	resps, err := jsonrpc.ParseResponses(resBody)
	if err != nil {
		return nil, err
	}
	return jsonrpc.MatchResponses(reqs, resps)
}

func (h *HTTP) Close() {
	h.client.CloseIdleConnections()
}

// HTTPError is a non-200 reply from the HTTP endpoint, before JSON-RPC framing.
type HTTPError struct {
	Status int
	Body   []byte
}

func (e *HTTPError) Error() string {
	body := e.Body
	if len(body) > 256 {
		body = body[:256]
	}
	return fmt.Sprintf("http status %d: %s", e.Status, body)
}

// IsRateLimited returns whether the endpoint asked us to back off.
func (e *HTTPError) IsRateLimited() bool {
	return e.Status == http.StatusTooManyRequests
}
