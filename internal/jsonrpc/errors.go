package jsonrpc

import "errors"

// ErrorCode is a JSON-RPC 2.0 error code.
type ErrorCode int

const (
	// ErrorCodeParseError indicates invalid JSON was received by the server.
	ErrorCodeParseError ErrorCode = -32700
	// ErrorCodeInvalidRequest indicates the JSON sent is not a valid Request object.
	ErrorCodeInvalidRequest ErrorCode = -32600
	// ErrorCodeMethodNotFound indicates the method does not exist / is not available.
	ErrorCodeMethodNotFound ErrorCode = -32601
	// ErrorCodeInvalidParams indicates invalid method parameters.
	ErrorCodeInvalidParams ErrorCode = -32602
	// ErrorCodeInternalError indicates an internal JSON-RPC error.
	ErrorCodeInternalError ErrorCode = -32603
	// ErrorCodeNotFound is the implementation-defined code used when a
	// resource, tool or prompt identifier is not recognised by any provider.
	ErrorCodeNotFound ErrorCode = -32002
)

var (
	// ErrParse is returned by ParseRequest when the payload is not valid JSON.
	ErrParse = errors.New("jsonrpc: parse error")
	// ErrInvalidRequest is returned by ParseRequest when the payload is valid
	// JSON but not a well-formed request or notification.
	ErrInvalidRequest = errors.New("jsonrpc: invalid request")
)
