package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// A packet is either a single message or a batch of messages. The JSON-RPC
// wire format gives no framing hint beyond the leading byte: '[' means batch.

var errEmptyBatch = errors.New("empty batch")

// isBatch returns whether the raw message starts a JSON array,
// skipping insignificant whitespace as the JSON spec allows.
func isBatch(raw []byte) bool {
	for _, c := range raw {
		switch c {
		case 0x20, 0x09, 0x0a, 0x0d: // JSON whitespace
			continue
		case '[':
			return true
		}
		break
	}
	return false
}

/// MarshalRequests frames requests for the wire: a lone request is encoded as a
// single object, multiple requests as an array.
func MarshalRequests(reqs []*Request) ([]byte, error) {
	switch len(reqs) {
	case 0:
		return nil, errEmptyBatch
	case 1:
		return json.Marshal(reqs[0])
	default:
		return json.Marshal(reqs)
	}
}

// ParseResponses decodes a response packet, accepting both single and batch framing.
// A single response is returned as a one-element slice.
func ParseResponses(raw []byte) ([]*Response, error) {
	if isBatch(raw) {
		var batch []*Response
		if err := json.Unmarshal(raw, &batch); err != nil {
			return nil, fmt.Errorf("failed to parse response batch: %w", err)
		}
		if len(batch) == 0 {
			return nil, errEmptyBatch
		}
		return batch, nil
	}
	var single Response
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return []*Response{&single}, nil
}

// ParseRequests decodes a request packet, accepting both single and batch framing.
func ParseRequests(raw []byte) ([]*Request, error) {
	if isBatch(raw) {
		var batch []*Request
		if err := json.Unmarshal(raw, &batch); err != nil {
			return nil, fmt.Errorf("failed to parse request batch: %w", err)
		}
		if len(batch) == 0 {
			return nil, errEmptyBatch
		}
		return batch, nil
	}
	var single Request
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, fmt.Errorf("failed to parse request: %w", err)
	}
	return []*Request{&single}, nil
}

// MatchResponses pairs responses with the requests that initiated them, by ID.
// Servers may answer a batch in any order. Notifications expect no response.
// The result has the same length and order as reqs; entries are nil where the
// server did not answer.
func MatchResponses(reqs []*Request, resps []*Response) ([]*Response, error) {
	out := make([]*Response, len(reqs))
	for _, resp := range resps {
		if resp == nil {
			continue
		}
		matched := false
		for i, req := range reqs {
			if req.IsNotification() || out[i] != nil {
				continue
			}
			if req.ID.Equal(resp.ID) {
				out[i] = resp
				matched = true
				break
			}
		}
		if !matched {
			return nil, fmt.Errorf("unexpected response with ID %s", resp.ID)
		}
	}
	return out, nil
}

// A subscription notification is a JSON-RPC request from server to client,
// carrying the subscription ID and payload in its params.
type SubscriptionParams struct {
	Subscription string          `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

// ParseSubscriptionParams decodes the params of a *_subscription notification.
func ParseSubscriptionParams(params json.RawMessage) (*SubscriptionParams, error) {
	var sp SubscriptionParams
	if err := json.Unmarshal(bytes.TrimSpace(params), &sp); err != nil {
		return nil, fmt.Errorf("failed to parse subscription params: %w", err)
	}
	if sp.Subscription == "" {
		return nil, errors.New("notification without subscription ID")
	}
	return &sp, nil
}
