// Package engine implements the protocol state machine: it parses JSON-RPC
// envelopes, resolves the session, gates uninitialized sessions, dispatches
// through a closed method table to the registered capability providers and
// converts every failure into a sanitized JSON-RPC error.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/tasklane/mcp-server-go/internal/jsonrpc"
	"github.com/tasklane/mcp-server-go/internal/logctx"
	"github.com/tasklane/mcp-server-go/internal/telemetry"
	"github.com/tasklane/mcp-server-go/mcp"
	"github.com/tasklane/mcp-server-go/mcpservice"
	"github.com/tasklane/mcp-server-go/sessions"
)

type handlerFunc func(ctx context.Context, sess *sessions.Handle, req *jsonrpc.Request) (any, error)

// Engine is the protocol core. It is safe for concurrent use across
// sessions; the registry must be frozen before the first message arrives.
type Engine struct {
	mgr *sessions.Manager
	reg *mcpservice.Registry
	log *slog.Logger
	tel *telemetry.Instruments

	info         mcp.ImplementationInfo
	instructions string
	versions     []string
	pageSize     int
	listChanged  bool

	handlers map[mcp.Method]handlerFunc
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets a custom logger for the Engine.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithInstruments sets the telemetry instruments. Defaults to no-op.
func WithInstruments(inst *telemetry.Instruments) EngineOption {
	return func(e *Engine) {
		if inst != nil {
			e.tel = inst
		}
	}
}

// WithServerInfo sets the implementation info returned from initialize.
func WithServerInfo(info mcp.ImplementationInfo) EngineOption {
	return func(e *Engine) { e.info = info }
}

// WithInstructions sets the optional instructions returned from initialize.
func WithInstructions(s string) EngineOption {
	return func(e *Engine) { e.instructions = s }
}

// WithProtocolVersions restricts the protocol versions the engine accepts.
// The last entry is treated as the preferred version.
func WithProtocolVersions(versions ...string) EngineOption {
	return func(e *Engine) {
		if len(versions) > 0 {
			e.versions = slices.Clone(versions)
		}
	}
}

// WithPageSize enables cursor pagination of list results. Zero disables it.
func WithPageSize(n int) EngineOption {
	return func(e *Engine) {
		if n >= 0 {
			e.pageSize = n
		}
	}
}

// WithListChanged advertises listChanged support for every capability whose
// providers can publish changes.
func WithListChanged(enabled bool) EngineOption {
	return func(e *Engine) { e.listChanged = enabled }
}

// NewEngine builds an Engine over a session manager and a provider registry.
func NewEngine(mgr *sessions.Manager, reg *mcpservice.Registry, opts ...EngineOption) *Engine {
	e := &Engine{
		mgr:      mgr,
		reg:      reg,
		log:      slog.Default(),
		tel:      telemetry.Noop(),
		info:     mcp.ImplementationInfo{Name: "mcp-server-go", Version: "dev"},
		versions: mcp.SupportedProtocolVersions(),
	}

	// Apply options (order matters; later options override earlier ones).
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}

	e.handlers = map[mcp.Method]handlerFunc{
		mcp.InitializeMethod:    e.handleInitialize,
		mcp.ResourcesListMethod: e.handleResourcesList,
		mcp.ResourcesReadMethod: e.handleResourcesRead,
		mcp.ToolsListMethod:     e.handleToolsList,
		mcp.ToolsCallMethod:     e.handleToolsCall,
		mcp.PromptsListMethod:   e.handlePromptsList,
		mcp.PromptsGetMethod:    e.handlePromptsGet,
	}
	return e
}

// Methods returns the request methods the engine dispatches, sorted.
func (e *Engine) Methods() []string {
	out := make([]string, 0, len(e.handlers))
	for m := range e.handlers {
		out = append(out, string(m))
	}
	slices.Sort(out)
	return out
}

// HandleMessage processes one raw inbound frame for a session and returns
// the serialized response, or nil when the frame was a notification.
func (e *Engine) HandleMessage(ctx context.Context, sessionID string, raw []byte) []byte {
	resp := e.handleMessage(ctx, sessionID, raw)
	if resp == nil {
		return nil
	}

	b, err := json.Marshal(resp)
	if err != nil {
		e.log.ErrorContext(ctx, "engine.marshal_response.fail", slog.String("err", err.Error()))
		b, _ = json.Marshal(e.HandleError(ctx, err, resp.ID))
	}
	return b
}

func (e *Engine) handleMessage(ctx context.Context, sessionID string, raw []byte) *jsonrpc.Response {
	req, err := jsonrpc.ParseRequest(raw)
	if err != nil {
		id := recoverID(raw)
		if errors.Is(err, jsonrpc.ErrParse) {
			e.log.InfoContext(ctx, "engine.handle_message.parse_error")
			return e.HandleError(ctx, errParse, id)
		}
		e.log.InfoContext(ctx, "engine.handle_message.invalid", slog.String("err", err.Error()))
		return e.HandleError(ctx, errInvalidRequest, id)
	}

	msgType := "request"
	if req.IsNotification() {
		msgType = "notification"
	}
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: req.Method, ID: req.ID.String(), Type: msgType})

	sess, err := e.mgr.GetSession(ctx, sessionID)
	if err != nil {
		e.log.InfoContext(ctx, "engine.handle_message.unknown_session")
		if req.IsNotification() {
			return nil
		}
		return e.HandleError(ctx, errSessionNotFound, req.ID)
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID:       sess.SessionID(),
		ProtocolVersion: sess.ProtocolVersion(),
		State:           sess.State(),
	})

	if req.IsNotification() {
		e.handleNotification(ctx, sess, req)
		return nil
	}

	return e.handleRequest(ctx, sess, req)
}

// handleRequest gates, dispatches and records one request.
func (e *Engine) handleRequest(ctx context.Context, sess *sessions.Handle, req *jsonrpc.Request) (resp *jsonrpc.Response) {
	start := time.Now()
	method := mcp.Method(req.Method)
	h, known := e.handlers[method]

	metricMethod := req.Method
	if !known {
		metricMethod = "unknown"
	}
	ctx, span := e.tel.Tracer.Start(ctx, "mcp "+metricMethod,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("rpc.system", "jsonrpc"),
			attribute.String("rpc.method", metricMethod),
			attribute.String("mcp.session.id", sess.SessionID()),
		),
	)
	log := e.log.With(slog.String("method", req.Method))

	defer func() {
		if r := recover(); r != nil {
			resp = e.HandleError(ctx, newPanicError(r), req.ID)
		}

		dur := time.Since(start)
		attrs := metric.WithAttributes(attribute.String("method", metricMethod))
		e.tel.Requests.Add(ctx, 1, attrs)
		e.tel.RequestDuration.Record(ctx, float64(dur.Microseconds())/1000, attrs)
		if resp != nil && resp.Error != nil {
			e.tel.RequestErrors.Add(ctx, 1, metric.WithAttributes(
				attribute.String("method", metricMethod),
				attribute.Int("code", int(resp.Error.Code)),
			))
			span.SetStatus(codes.Error, resp.Error.Message)
			log.InfoContext(ctx, "engine.handle_request.fail", slog.Int("code", int(resp.Error.Code)), slog.Int64("dur_ms", dur.Milliseconds()))
		} else {
			log.InfoContext(ctx, "engine.handle_request.ok", slog.Int64("dur_ms", dur.Milliseconds()))
		}
		span.End()
	}()

	if method != mcp.InitializeMethod && !sess.Initialized() {
		return e.HandleError(ctx, errNotInitialized, req.ID)
	}
	if !known {
		return e.HandleError(ctx, methodNotFound(req.Method), req.ID)
	}

	result, err := h(ctx, sess, req)
	if err != nil {
		return e.HandleError(ctx, err, req.ID)
	}

	out, err := jsonrpc.NewResultResponse(req.ID, result)
	if err != nil {
		return e.HandleError(ctx, err, req.ID)
	}
	return out
}

func (e *Engine) handleNotification(ctx context.Context, sess *sessions.Handle, note *jsonrpc.Request) {
	switch mcp.Method(note.Method) {
	case mcp.InitializedNotificationMethod:
		e.log.DebugContext(ctx, "engine.session.initialized", slog.Bool("initialized", sess.Initialized()))
	case mcp.CancelledNotificationMethod:
		e.log.DebugContext(ctx, "engine.handle_notification.cancelled")
	default:
		e.log.InfoContext(ctx, "engine.handle_notification.ignored", slog.String("method", note.Method))
	}
}

// recoverID extracts a string or numeric "id" member from a frame that could
// not be parsed as a request. Anything else yields nil.
func recoverID(raw []byte) *jsonrpc.RequestID {
	if !gjson.ValidBytes(raw) {
		// Malformed JSON: scan leniently for a top-level id.
		res := gjson.GetBytes(raw, "id")
		return idFromResult(res)
	}
	if !gjson.ParseBytes(raw).IsObject() {
		return nil
	}
	return idFromResult(gjson.GetBytes(raw, "id"))
}

func idFromResult(res gjson.Result) *jsonrpc.RequestID {
	switch res.Type {
	case gjson.String:
		return jsonrpc.NewRequestID(res.Str)
	case gjson.Number:
		return jsonrpc.NewRequestID(json.Number(res.Raw))
	default:
		return nil
	}
}
