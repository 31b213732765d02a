package jsonrpc

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Vsn is the protocol version echoed in every message.
const Vsn = "2.0"

// Well-known JSON-RPC 2.0 error codes.
const (
	ParseErrorCode     = -32700
	InvalidRequestCode = -32600
	MethodNotFoundCode = -32601
	InvalidParamsCode  = -32602
	InternalErrorCode  = -32603
)

// Request is a single JSON-RPC call. A request without an ID is a
// notification: the server must not reply to it.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      ID              `json:"id,omitempty"`
}

// NewRequest creates a request with marshaled params.
func NewRequest(id ID, method string, params ...any) (*Request, error) {
	req := &Request{JSONRPC: Vsn, Method: method, ID: id}
	if len(params) > 0 {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params of %s: %w", method, err)
		}
		req.Params = raw
	}
	return req, nil
}

// IsNotification returns true if the request carries no ID and thus expects no response.
func (r *Request) IsNotification() bool {
	return r.ID.IsNull()
}

func (r *Request) Check() error {
	if r.JSONRPC != Vsn {
		return fmt.Errorf("invalid JSON-RPC version: %q", r.JSONRPC)
	}
	if r.Method == "" {
		return errors.New("no method specified")
	}
	return nil
}

// Response is a single JSON-RPC reply. Exactly one of Result and Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      ID              `json:"id"`
}

func (r *Response) Check() error {
	if r.JSONRPC != Vsn {
		return fmt.Errorf("invalid JSON-RPC version: %q", r.JSONRPC)
	}
	if r.Error != nil && len(r.Result) != 0 {
		return errors.New("response carries both result and error")
	}
	return nil
}

// Err returns the response error, nil if the call succeeded.
func (r *Response) Err() error {
	if r.Error == nil {
		return nil
	}
	return r.Error
}

// UnmarshalResult decodes the result into dest. A null result leaves dest untouched
// and reports ok=false, matching the "not found" convention of the execution-layer API.
func (r *Response) UnmarshalResult(dest any) (ok bool, err error) {
	if err := r.Err(); err != nil {
		return false, err
	}
	if len(r.Result) == 0 || string(r.Result) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(r.Result, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return true, nil
}

// Error is a JSON-RPC error object. Data is optional server-specific detail.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error renders the message, with the data field appended when the server provided one.
func (e *Error) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Data)
	}
	return e.Message
}

// ErrorCode implements the rpc.Error interface of geth, so callers can
// switch on the code without type-asserting our concrete type.
func (e *Error) ErrorCode() int { return e.Code }

// ErrorData implements the rpc.DataError interface of geth.
func (e *Error) ErrorData() any { return e.Data }

func IsMethodNotFound(err error) bool {
	var rpcErr *Error
	return errors.As(err, &rpcErr) && rpcErr.Code == MethodNotFoundCode
}

func IsInvalidParams(err error) bool {
	var rpcErr *Error
	return errors.As(err, &rpcErr) && rpcErr.Code == InvalidParamsCode
}

// NewErrorResponse builds an error reply for the given request ID.
func NewErrorResponse(id ID, code int, message string) *Response {
	return &Response{
		JSONRPC: Vsn,
		Error:   &Error{Code: code, Message: message},
		ID:      id,
	}
}
