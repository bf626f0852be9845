package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the supported JSON-RPC protocol version.
const ProtocolVersion = "2.0"

// Request represents a JSON-RPC request (with an ID) or notification (without ID).
type Request struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method"`
	Params         json.RawMessage `json:"params,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// IsNotification reports whether the request carries no ID.
func (r *Request) IsNotification() bool {
	return r.ID == nil
}

// NewNotification builds a notification (a request without an ID). params
// may be nil.
func NewNotification(method string, params any) (*Request, error) {
	req := &Request{JSONRPCVersion: ProtocolVersion, Method: method}
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		req.Params = b
	}
	return req, nil
}

// Response represents a JSON-RPC response. The id member is always written;
// it is null when the request id could not be determined.
type Response struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	ID             *RequestID      `json:"id"`
}

// NewResultResponse builds a successful JSON-RPC response object.
func NewResultResponse(id *RequestID, result any) (*Response, error) {
	resultBytes, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	return &Response{
		JSONRPCVersion: ProtocolVersion,
		Result:         resultBytes,
		ID:             id,
	}, nil
}

// NewErrorResponse builds an error JSON-RPC response with the given code.
func NewErrorResponse(id *RequestID, code ErrorCode, message string, data any) *Response {
	return &Response{
		JSONRPCVersion: ProtocolVersion,
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
		ID: id,
	}
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

// ParseRequest decodes a single request or notification. The returned error
// wraps ErrParse when the payload is not JSON at all and ErrInvalidRequest
// when it is JSON but does not have the shape of a request. The "version"
// member is accepted as an alias of "jsonrpc".
func ParseRequest(data []byte) (*Request, error) {
	trimmed := bytes.TrimSpace(data)
	if !json.Valid(trimmed) {
		return nil, ErrParse
	}
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: message must be a JSON object", ErrInvalidRequest)
	}

	var raw struct {
		JSONRPCVersion *string         `json:"jsonrpc"`
		Version        *string         `json:"version"`
		Method         *string         `json:"method"`
		Params         json.RawMessage `json:"params"`
		Result         json.RawMessage `json:"result"`
		Error          json.RawMessage `json:"error"`
		ID             json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	version := raw.JSONRPCVersion
	if version == nil {
		version = raw.Version
	}
	if version == nil || *version != ProtocolVersion {
		return nil, fmt.Errorf("%w: unsupported JSON-RPC version", ErrInvalidRequest)
	}
	if raw.Method == nil || *raw.Method == "" {
		return nil, fmt.Errorf("%w: missing method", ErrInvalidRequest)
	}
	if len(raw.Result) > 0 || len(raw.Error) > 0 {
		return nil, fmt.Errorf("%w: request cannot carry result or error", ErrInvalidRequest)
	}

	req := &Request{
		JSONRPCVersion: ProtocolVersion,
		Method:         *raw.Method,
	}
	if len(raw.Params) > 0 && !bytes.Equal(raw.Params, []byte("null")) {
		req.Params = raw.Params
	}
	if len(raw.ID) > 0 {
		var id RequestID
		if err := id.UnmarshalJSON(raw.ID); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		req.ID = &id
	}

	return req, nil
}
