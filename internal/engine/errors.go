package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/tasklane/mcp-server-go/internal/jsonrpc"
	"github.com/tasklane/mcp-server-go/mcpservice"
)

// InternalErrorMessage is the only message ever sent for unexpected errors.
const InternalErrorMessage = "Internal server error"

// ProtocolError is an intentionally raised, caller-facing error. Its Message
// may only contain values that the caller supplied.
type ProtocolError struct {
	Code    jsonrpc.ErrorCode
	Message string
	Data    any
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

var (
	errParse              = &ProtocolError{Code: jsonrpc.ErrorCodeParseError, Message: "Parse error"}
	errInvalidRequest     = &ProtocolError{Code: jsonrpc.ErrorCodeInvalidRequest, Message: "Invalid request"}
	errSessionNotFound    = &ProtocolError{Code: jsonrpc.ErrorCodeInvalidRequest, Message: "Session not found"}
	errNotInitialized     = &ProtocolError{Code: jsonrpc.ErrorCodeInvalidRequest, Message: "Session not initialized"}
	errAlreadyInitialized = &ProtocolError{Code: jsonrpc.ErrorCodeInvalidRequest, Message: "Session already initialized"}
	errInvalidParams      = &ProtocolError{Code: jsonrpc.ErrorCodeInvalidParams, Message: "Invalid params"}
)

func methodNotFound(method string) *ProtocolError {
	return &ProtocolError{
		Code:    jsonrpc.ErrorCodeMethodNotFound,
		Message: "Method not found",
		Data:    map[string]string{"method": method},
	}
}

func notFound(kind, id string) *ProtocolError {
	return &ProtocolError{Code: jsonrpc.ErrorCodeNotFound, Message: kind + " not found: " + id}
}

// PanicError carries a value recovered from a panicking provider.
type PanicError struct {
	Value any
	Stack []byte
}

func newPanicError(v any) *PanicError {
	return &PanicError{Value: v, Stack: debug.Stack()}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// recovered runs fn and converts a panic into a *PanicError.
func recovered[T any](fn func() (T, error)) (res T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newPanicError(r)
		}
	}()
	return fn()
}

// HandleError converts any error into a JSON-RPC error response. Protocol
// errors keep their code and message. Provider argument errors become
// invalid params without detail. Everything else is logged in full and
// answered with InternalErrorMessage and the error's type name.
func (e *Engine) HandleError(ctx context.Context, err error, id *jsonrpc.RequestID) *jsonrpc.Response {
	var perr *ProtocolError
	if errors.As(err, &perr) {
		return jsonrpc.NewErrorResponse(id, perr.Code, perr.Message, perr.Data)
	}

	if errors.Is(err, mcpservice.ErrInvalidParams) {
		e.log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(id, errInvalidParams.Code, errInvalidParams.Message, nil)
	}

	typeName := errorTypeName(err)
	attrs := []any{slog.String("err", err.Error()), slog.String("type", typeName)}
	var pe *PanicError
	if errors.As(err, &pe) {
		attrs = append(attrs, slog.String("stack", string(pe.Stack)))
	}
	e.log.ErrorContext(ctx, "engine.handle_request.internal_error", attrs...)

	return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInternalError, InternalErrorMessage, map[string]string{"type": typeName})
}

// errorTypeName reports the Go type of the innermost error in a single
// wrapping chain, or of the recovered value for panics.
func errorTypeName(err error) string {
	var pe *PanicError
	if errors.As(err, &pe) {
		return fmt.Sprintf("%T", pe.Value)
	}
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return fmt.Sprintf("%T", err)
		}
		err = next
	}
}
