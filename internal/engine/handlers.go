package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/tasklane/mcp-server-go/internal/jsonrpc"
	"github.com/tasklane/mcp-server-go/internal/logctx"
	"github.com/tasklane/mcp-server-go/mcp"
	"github.com/tasklane/mcp-server-go/mcpservice"
	"github.com/tasklane/mcp-server-go/sessions"
)

func (e *Engine) handleInitialize(ctx context.Context, sess *sessions.Handle, req *jsonrpc.Request) (any, error) {
	if sess.Initialized() {
		return nil, errAlreadyInitialized
	}

	var params mcp.InitializeRequest
	if err := decodeParams(req.Params, &params, true); err != nil {
		e.log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()))
		return nil, errInvalidParams
	}
	if params.ProtocolVersion == "" {
		e.log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", "missing protocolVersion"))
		return nil, errInvalidParams
	}

	caps, err := decodeObject(params.Capabilities)
	if err == nil && caps != nil {
		// Shape check against the known capability members.
		var typed mcp.ClientCapabilities
		err = json.Unmarshal(params.Capabilities, &typed)
	}
	if err != nil {
		e.log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", "capabilities: "+err.Error()))
		return nil, errInvalidParams
	}
	clientInfo, err := decodeObject(params.ClientInfo)
	if err != nil {
		e.log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", "clientInfo: "+err.Error()))
		return nil, errInvalidParams
	}

	version := e.negotiateVersion(params.ProtocolVersion)
	if err := sess.MarkInitialized(version, clientInfo, caps); err != nil {
		if errors.Is(err, sessions.ErrAlreadyInitialized) {
			return nil, errAlreadyInitialized
		}
		if errors.Is(err, sessions.ErrSessionClosed) {
			return nil, errSessionNotFound
		}
		return nil, err
	}

	e.log.InfoContext(ctx, "engine.session.initialize.ok",
		slog.String("requested_version", params.ProtocolVersion),
		slog.String("negotiated_version", version),
	)

	return &mcp.InitializeResult{
		ProtocolVersion: version,
		Capabilities:    e.serverCapabilities(),
		ServerInfo:      e.info,
		Instructions:    e.instructions,
	}, nil
}

// negotiateVersion echoes a supported requested version and otherwise
// answers with the preferred (last) supported version.
func (e *Engine) negotiateVersion(requested string) string {
	if slices.Contains(e.versions, requested) {
		return requested
	}
	return e.versions[len(e.versions)-1]
}

func (e *Engine) serverCapabilities() mcp.ServerCapabilities {
	var caps mcp.ServerCapabilities
	if ps := e.reg.ResourceProviders(); len(ps) > 0 {
		caps.Resources = &struct {
			ListChanged bool `json:"listChanged"`
			Subscribe   bool `json:"subscribe"`
		}{ListChanged: e.listChanged && anySubscriber(ps)}
	}
	if ps := e.reg.ToolProviders(); len(ps) > 0 {
		caps.Tools = &struct {
			ListChanged bool `json:"listChanged"`
		}{ListChanged: e.listChanged && anySubscriber(ps)}
	}
	if ps := e.reg.PromptProviders(); len(ps) > 0 {
		caps.Prompts = &struct {
			ListChanged bool `json:"listChanged"`
		}{ListChanged: e.listChanged && anySubscriber(ps)}
	}
	return caps
}

func anySubscriber[P any](providers []P) bool {
	for _, p := range providers {
		if _, ok := any(p).(mcpservice.ChangeSubscriber); ok {
			return true
		}
	}
	return false
}

func (e *Engine) handleResourcesList(ctx context.Context, sess *sessions.Handle, req *jsonrpc.Request) (any, error) {
	var params mcp.ListResourcesRequest
	if err := decodeParams(req.Params, &params, false); err != nil {
		return nil, errInvalidParams
	}
	all, err := listAll(ctx, e.reg.ResourceProviders(), func(ctx context.Context, p mcpservice.ResourceProvider) ([]mcp.Resource, error) {
		return p.ListResources(ctx, sess)
	})
	if err != nil {
		return nil, err
	}
	page, next, err := paginate(all, params.Cursor, e.pageSize)
	if err != nil {
		return nil, err
	}
	return &mcp.ListResourcesResult{Resources: page, PaginatedResult: mcp.PaginatedResult{NextCursor: next}}, nil
}

func (e *Engine) handleResourcesRead(ctx context.Context, sess *sessions.Handle, req *jsonrpc.Request) (any, error) {
	var params mcp.ReadResourceRequest
	if err := decodeParams(req.Params, &params, true); err != nil || params.URI == "" {
		return nil, errInvalidParams
	}
	return firstOwner(ctx, e.reg.ResourceProviders(), notFound("Resource", params.URI), func(p mcpservice.ResourceProvider) (*mcp.ReadResourceResult, error) {
		return p.ReadResource(ctx, sess, params.URI)
	})
}

func (e *Engine) handleToolsList(ctx context.Context, sess *sessions.Handle, req *jsonrpc.Request) (any, error) {
	var params mcp.ListToolsRequest
	if err := decodeParams(req.Params, &params, false); err != nil {
		return nil, errInvalidParams
	}
	all, err := listAll(ctx, e.reg.ToolProviders(), func(ctx context.Context, p mcpservice.ToolProvider) ([]mcp.Tool, error) {
		return p.ListTools(ctx, sess)
	})
	if err != nil {
		return nil, err
	}
	page, next, err := paginate(all, params.Cursor, e.pageSize)
	if err != nil {
		return nil, err
	}
	return &mcp.ListToolsResult{Tools: page, PaginatedResult: mcp.PaginatedResult{NextCursor: next}}, nil
}

func (e *Engine) handleToolsCall(ctx context.Context, sess *sessions.Handle, req *jsonrpc.Request) (any, error) {
	var params mcp.CallToolRequestReceived
	if err := decodeParams(req.Params, &params, true); err != nil || params.Name == "" {
		return nil, errInvalidParams
	}
	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: params.Name})

	return firstOwner(ctx, e.reg.ToolProviders(), notFound("Tool", params.Name), func(p mcpservice.ToolProvider) (*mcp.CallToolResult, error) {
		return p.CallTool(ctx, sess, params.Name, params.Arguments)
	})
}

func (e *Engine) handlePromptsList(ctx context.Context, sess *sessions.Handle, req *jsonrpc.Request) (any, error) {
	var params mcp.ListPromptsRequest
	if err := decodeParams(req.Params, &params, false); err != nil {
		return nil, errInvalidParams
	}
	all, err := listAll(ctx, e.reg.PromptProviders(), func(ctx context.Context, p mcpservice.PromptProvider) ([]mcp.Prompt, error) {
		return p.ListPrompts(ctx, sess)
	})
	if err != nil {
		return nil, err
	}
	page, next, err := paginate(all, params.Cursor, e.pageSize)
	if err != nil {
		return nil, err
	}
	return &mcp.ListPromptsResult{Prompts: page, PaginatedResult: mcp.PaginatedResult{NextCursor: next}}, nil
}

func (e *Engine) handlePromptsGet(ctx context.Context, sess *sessions.Handle, req *jsonrpc.Request) (any, error) {
	var params mcp.GetPromptRequest
	if err := decodeParams(req.Params, &params, true); err != nil || params.Name == "" {
		return nil, errInvalidParams
	}
	return firstOwner(ctx, e.reg.PromptProviders(), notFound("Prompt", params.Name), func(p mcpservice.PromptProvider) (*mcp.GetPromptResult, error) {
		return p.GetPrompt(ctx, sess, params.Name, params.Arguments)
	})
}

// listAll queries every provider concurrently and concatenates the results
// in registration order. The first provider failure fails the whole list.
func listAll[P, T any](ctx context.Context, providers []P, fn func(context.Context, P) ([]T, error)) ([]T, error) {
	results := make([][]T, len(providers))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range providers {
		g.Go(func() error {
			items, err := recovered(func() ([]T, error) { return fn(gctx, p) })
			if err != nil {
				return fmt.Errorf("provider %d: %w", i, err)
			}
			results[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := slices.Concat(results...)
	if out == nil {
		out = []T{}
	}
	return out, nil
}

// firstOwner asks providers in registration order and returns the first
// result that is not a not-found. When nobody owns the identifier, missing
// is returned.
func firstOwner[P any, R any](ctx context.Context, providers []P, missing error, fn func(P) (*R, error)) (*R, error) {
	for i, p := range providers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := recovered(func() (*R, error) { return fn(p) })
		if errors.Is(err, mcpservice.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("provider %d: %w", i, err)
		}
		if res == nil {
			return nil, fmt.Errorf("provider %d: %w", i, errNilResult)
		}
		return res, nil
	}
	return nil, missing
}

var errNilResult = errors.New("provider returned a nil result")

// paginate slices all according to an opaque offset cursor. A size of zero
// returns everything from the cursor on.
func paginate[T any](all []T, cursor string, size int) ([]T, string, error) {
	start := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 || n > len(all) {
			return nil, "", errInvalidParams
		}
		start = n
	}
	end := len(all)
	if size > 0 && start+size < end {
		end = start + size
	}

	next := ""
	if end < len(all) {
		next = strconv.Itoa(end)
	}
	return all[start:end], next, nil
}

// decodeParams unmarshals request params into dst. Absent params are only
// acceptable when required is false. Params must be a JSON object.
func decodeParams(raw json.RawMessage, dst any, required bool) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		if required {
			return errors.New("missing params")
		}
		return nil
	}
	if raw[0] != '{' {
		return errors.New("params must be an object")
	}
	return json.Unmarshal(raw, dst)
}

// decodeObject decodes an optional JSON object member into a map. Absent or
// null members yield a nil map.
func decodeObject(raw json.RawMessage) (map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] != '{' {
		return nil, errors.New("must be an object")
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
