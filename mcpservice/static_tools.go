package mcpservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/tasklane/mcp-server-go/mcp"
	"github.com/tasklane/mcp-server-go/sessions"
)

// ToolHandler is the function signature used to handle a tool invocation.
type ToolHandler func(ctx context.Context, session sessions.Session, name string, args json.RawMessage) (*mcp.CallToolResult, error)

// StaticTool pairs a tool descriptor with its handler.
type StaticTool struct {
	Descriptor mcp.Tool
	Handler    ToolHandler
}

// ToolRequest is the container for tool call input. It is generic over the
// typed argument struct A.
type ToolRequest[A any] struct {
	name string
	raw  json.RawMessage
	args A
}

func (r *ToolRequest[A]) Name() string                  { return r.name }
func (r *ToolRequest[A]) RawArguments() json.RawMessage { return r.raw }
func (r *ToolRequest[A]) Args() A                       { return r.args }

// ToolResponseWriterTyped extends ToolResponseWriter for typed output tools.
type ToolResponseWriterTyped[O any] interface {
	ToolResponseWriter
	SetStructured(v O)
}

type toolResponseWriterTyped[O any] struct {
	*toolResponseWriter
	structured *O
}

func (tw *toolResponseWriterTyped[O]) SetStructured(v O) { tw.structured = &v }

// ToolOption configures NewTool behavior.
type ToolOption func(*toolConfig)

type toolConfig struct {
	description               string
	returns                   string
	allowAdditionalProperties bool // default false (strict)
}

// WithToolDescription sets the tool description used in listings.
func WithToolDescription(desc string) ToolOption {
	return func(c *toolConfig) { c.description = desc }
}

// WithToolReturns describes what the tool returns.
func WithToolReturns(returns string) ToolOption {
	return func(c *toolConfig) { c.returns = returns }
}

// WithToolAllowAdditionalProperties controls whether unknown fields are allowed.
// When false (default), the generated schema sets additionalProperties=false and
// runtime decoding rejects unknown fields.
func WithToolAllowAdditionalProperties(allow bool) ToolOption {
	return func(c *toolConfig) { c.allowAdditionalProperties = allow }
}

// NewTool constructs a StaticTool from a typed args struct A. It reflects a
// JSON schema from A, derives the flat parameter list from it and wraps fn
// with argument decoding. Undecodable arguments produce an IsError result.
func NewTool[A any](name string, fn func(ctx context.Context, session sessions.Session, w ToolResponseWriter, r *ToolRequest[A]) error, opts ...ToolOption) StaticTool {
	cfg := toolConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	input, params := reflectInput[A](cfg.allowAdditionalProperties)
	desc := mcp.Tool{
		Name:        name,
		Description: cfg.description,
		Parameters:  params,
		Returns:     cfg.returns,
		InputSchema: input,
	}

	handler := func(ctx context.Context, session sessions.Session, toolName string, raw json.RawMessage) (*mcp.CallToolResult, error) {
		a, err := decodeArgs[A](raw, cfg.allowAdditionalProperties)
		if err != nil {
			return Errorf("invalid arguments: %v", err), nil
		}
		w := newToolResponseWriter(ctx)
		if err := fn(ctx, session, w, &ToolRequest[A]{name: toolName, raw: raw, args: a}); err != nil {
			return nil, err
		}
		return w.Result(), nil
	}

	return StaticTool{Descriptor: desc, Handler: handler}
}

// NewToolWithOutput constructs a typed-input, typed-output tool. The value
// passed to SetStructured is returned as structuredContent.
func NewToolWithOutput[A, O any](name string, fn func(ctx context.Context, session sessions.Session, w ToolResponseWriterTyped[O], r *ToolRequest[A]) error, opts ...ToolOption) StaticTool {
	cfg := toolConfig{returns: "object"}
	for _, opt := range opts {
		opt(&cfg)
	}
	input, params := reflectInput[A](cfg.allowAdditionalProperties)
	desc := mcp.Tool{
		Name:        name,
		Description: cfg.description,
		Parameters:  params,
		Returns:     cfg.returns,
		InputSchema: input,
	}

	handler := func(ctx context.Context, session sessions.Session, toolName string, raw json.RawMessage) (*mcp.CallToolResult, error) {
		a, err := decodeArgs[A](raw, cfg.allowAdditionalProperties)
		if err != nil {
			return Errorf("invalid arguments: %v", err), nil
		}
		tw := &toolResponseWriterTyped[O]{toolResponseWriter: newToolResponseWriter(ctx)}
		if err := fn(ctx, session, tw, &ToolRequest[A]{name: toolName, raw: raw, args: a}); err != nil {
			return nil, err
		}
		res := tw.Result()
		if tw.structured != nil {
			b, err := json.Marshal(tw.structured)
			if err != nil {
				return nil, fmt.Errorf("marshal structured content: %w", err)
			}
			var m map[string]any
			if err := json.Unmarshal(b, &m); err != nil {
				return nil, fmt.Errorf("structured content must be an object: %w", err)
			}
			res.StructuredContent = m
		}
		return res, nil
	}

	return StaticTool{Descriptor: desc, Handler: handler}
}

func decodeArgs[A any](raw json.RawMessage, allowAdditional bool) (A, error) {
	var a A
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return a, nil
	}
	if allowAdditional {
		err := json.Unmarshal(raw, &a)
		return a, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	err := dec.Decode(&a)
	return a, err
}

// reflectInput reflects A into the simplified input schema and the flat
// parameter list, both in struct field order.
func reflectInput[A any](allowAdditional bool) (mcp.ToolInputSchema, []mcp.ToolParameter) {
	r := &jsonschema.Reflector{
		DoNotReference:            true, // inline defs
		ExpandedStruct:            true, // put struct at root
		AllowAdditionalProperties: allowAdditional,
	}
	s := r.Reflect(new(A))

	// Only object schemas map cleanly; anything else is an empty object.
	if s == nil || s.Type != "object" {
		return mcp.ToolInputSchema{
			Type:                 "object",
			Properties:           map[string]mcp.SchemaProperty{},
			AdditionalProperties: allowAdditional,
		}, nil
	}

	props := make(map[string]mcp.SchemaProperty)
	var params []mcp.ToolParameter
	if s.Properties != nil {
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			prop := toMCPProperty(el.Value)
			props[el.Key] = prop
			params = append(params, mcp.ToolParameter{
				Name:        el.Key,
				Type:        prop.Type,
				Description: prop.Description,
				Required:    slices.Contains(s.Required, el.Key),
			})
		}
	}

	return mcp.ToolInputSchema{
		Type:                 "object",
		Properties:           props,
		Required:             slices.Clone(s.Required),
		AdditionalProperties: allowAdditional,
	}, params
}

// toMCPProperty recursively maps a jsonschema.Schema to the simplified SchemaProperty.
func toMCPProperty(s *jsonschema.Schema) mcp.SchemaProperty {
	if s == nil {
		return mcp.SchemaProperty{}
	}
	p := mcp.SchemaProperty{
		Type:        s.Type,
		Description: s.Description,
	}
	if len(s.Enum) > 0 {
		p.Enum = s.Enum
	}
	if s.Type == "array" && s.Items != nil {
		item := toMCPProperty(s.Items)
		p.Items = &item
	}
	if s.Type == "object" && s.Properties != nil {
		m := make(map[string]mcp.SchemaProperty, s.Properties.Len())
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			m[el.Key] = toMCPProperty(el.Value)
		}
		p.Properties = m
	}
	return p
}

// ToolsContainer owns a mutable, threadsafe set of tool descriptors and
// handlers and serves them as a ToolProvider.
type ToolsContainer struct {
	mu       sync.RWMutex
	tools    []mcp.Tool             // descriptors for listing
	handlers map[string]ToolHandler // name -> handler

	notifier ChangeNotifier
}

var _ ToolProvider = (*ToolsContainer)(nil)

// NewToolsContainer constructs a new ToolsContainer with the given tool definitions.
func NewToolsContainer(defs ...StaticTool) *ToolsContainer {
	st := &ToolsContainer{}
	st.Replace(context.Background(), defs...)
	return st
}

// Snapshot returns a copy of the current tool descriptors.
func (st *ToolsContainer) Snapshot() []mcp.Tool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return slices.Clone(st.tools)
}

// Replace atomically replaces the entire tool set. On duplicate names the
// last definition wins.
func (st *ToolsContainer) Replace(ctx context.Context, defs ...StaticTool) {
	st.mu.Lock()
	st.tools = make([]mcp.Tool, 0, len(defs))
	st.handlers = make(map[string]ToolHandler, len(defs))
	for _, d := range defs {
		name := d.Descriptor.Name
		if _, dup := st.handlers[name]; dup {
			st.tools = slices.DeleteFunc(st.tools, func(t mcp.Tool) bool { return t.Name == name })
		}
		st.tools = append(st.tools, d.Descriptor)
		st.handlers[name] = d.Handler
	}
	st.mu.Unlock()

	_ = st.notifier.Notify(ctx)
}

// Add registers a new tool if it doesn't duplicate an existing name.
// Returns true if added.
func (st *ToolsContainer) Add(ctx context.Context, def StaticTool) bool {
	st.mu.Lock()
	name := def.Descriptor.Name
	if _, exists := st.handlers[name]; exists {
		st.mu.Unlock()
		return false
	}
	st.tools = append(st.tools, def.Descriptor)
	st.handlers[name] = def.Handler
	st.mu.Unlock()

	_ = st.notifier.Notify(ctx)
	return true
}

// Remove removes a tool by name. Returns true if removed.
func (st *ToolsContainer) Remove(ctx context.Context, name string) bool {
	st.mu.Lock()
	if _, exists := st.handlers[name]; !exists {
		st.mu.Unlock()
		return false
	}
	delete(st.handlers, name)
	st.tools = slices.DeleteFunc(st.tools, func(t mcp.Tool) bool { return t.Name == name })
	st.mu.Unlock()

	_ = st.notifier.Notify(ctx)
	return true
}

// Subscriber implements ChangeSubscriber.
func (st *ToolsContainer) Subscriber() <-chan struct{} {
	return st.notifier.Subscriber()
}

// ListTools implements ToolProvider.
func (st *ToolsContainer) ListTools(ctx context.Context, _ sessions.Session) ([]mcp.Tool, error) {
	return st.Snapshot(), nil
}

// CallTool implements ToolProvider.
func (st *ToolsContainer) CallTool(ctx context.Context, session sessions.Session, name string, args json.RawMessage) (*mcp.CallToolResult, error) {
	st.mu.RLock()
	h, ok := st.handlers[name]
	st.mu.RUnlock()
	if !ok {
		return nil, NotFound("tool", name)
	}
	if h == nil {
		return nil, fmt.Errorf("tool %q has no handler", name)
	}
	return h(ctx, session, name, args)
}

// TextResult is a small helper to build a text CallToolResult.
func TextResult(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: s}}}
}

// Errorf returns an error CallToolResult with a single text block and IsError=true.
func Errorf(format string, a ...any) *mcp.CallToolResult {
	msg := fmt.Sprintf(format, a...)
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: msg}}, IsError: true}
}
