package mcpservice

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/tasklane/mcp-server-go/mcp"
	"github.com/tasklane/mcp-server-go/sessions"
)

func newSession(t *testing.T) sessions.Session {
	t.Helper()
	m := sessions.NewManager(sessions.ManagerConfig{Logger: slog.New(slog.DiscardHandler)})
	h, err := m.CreateSession(context.Background(), nil)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return h
}

func TestStaticResources_ListReadNotFound(t *testing.T) {
	ctx := context.Background()
	sess := newSession(t)
	sr := NewStaticResources(
		TextResource("demo://x", "X", "text/plain", "hello"),
		TextResource("demo://y", "Y", "text/plain", "world"),
	)

	list, err := sr.ListResources(ctx, sess)
	if err != nil {
		t.Fatalf("ListResources: %v", err)
	}
	if len(list) != 2 || list[0].URI != "demo://x" || list[1].URI != "demo://y" {
		t.Fatalf("unexpected list: %+v", list)
	}

	res, err := sr.ReadResource(ctx, sess, "demo://x")
	if err != nil {
		t.Fatalf("ReadResource: %v", err)
	}
	if len(res.Contents) != 1 || res.Contents[0].Text != "hello" {
		t.Fatalf("unexpected contents: %+v", res.Contents)
	}

	_, err = sr.ReadResource(ctx, sess, "demo://missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStaticResources_MutationsNotify(t *testing.T) {
	ctx := context.Background()
	sr := NewStaticResources()
	sub := sr.Subscriber()

	if !sr.Add(ctx, TextResource("demo://a", "A", "", "a")) {
		t.Fatalf("expected Add to succeed")
	}
	if sr.Add(ctx, TextResource("demo://a", "A", "", "a")) {
		t.Fatalf("expected duplicate Add to fail")
	}
	select {
	case <-sub:
	case <-time.After(time.Second):
		t.Fatalf("expected change notification")
	}

	if !sr.Remove(ctx, "demo://a") {
		t.Fatalf("expected Remove to succeed")
	}
	if sr.Remove(ctx, "demo://a") {
		t.Fatalf("expected second Remove to fail")
	}
	list, _ := sr.ListResources(ctx, newSession(t))
	if len(list) != 0 {
		t.Fatalf("expected empty list, got %+v", list)
	}
}

type createArgs struct {
	Name     string `json:"name" jsonschema:"description=Project name"`
	Priority int    `json:"priority,omitempty"`
}

func TestNewTool_SchemaParametersAndCall(t *testing.T) {
	ctx := context.Background()
	sess := newSession(t)

	tool := NewTool("create", func(ctx context.Context, s sessions.Session, w ToolResponseWriter, r *ToolRequest[createArgs]) error {
		if r.Name() != "create" {
			t.Errorf("unexpected tool name %q", r.Name())
		}
		return w.AppendText("created " + r.Args().Name)
	}, WithToolDescription("Create a thing"), WithToolReturns("confirmation text"))

	d := tool.Descriptor
	if d.Description != "Create a thing" || d.Returns != "confirmation text" {
		t.Fatalf("unexpected descriptor: %+v", d)
	}
	if d.InputSchema.Type != "object" || d.InputSchema.AdditionalProperties {
		t.Fatalf("unexpected schema: %+v", d.InputSchema)
	}
	if p, ok := d.InputSchema.Properties["name"]; !ok || p.Type != "string" || p.Description != "Project name" {
		t.Fatalf("unexpected name property: %+v", d.InputSchema.Properties)
	}
	if len(d.Parameters) != 2 {
		t.Fatalf("expected 2 parameters, got %+v", d.Parameters)
	}
	if d.Parameters[0].Name != "name" || !d.Parameters[0].Required || d.Parameters[0].Type != "string" {
		t.Fatalf("unexpected first parameter: %+v", d.Parameters[0])
	}
	if d.Parameters[1].Name != "priority" || d.Parameters[1].Required || d.Parameters[1].Type != "integer" {
		t.Fatalf("unexpected second parameter: %+v", d.Parameters[1])
	}

	tc := NewToolsContainer(tool)
	res, err := tc.CallTool(ctx, sess, "create", json.RawMessage(`{"name":"apollo"}`))
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.IsError || len(res.Content) != 1 || res.Content[0].Text != "created apollo" {
		t.Fatalf("unexpected result: %+v", res)
	}

	res, err = tc.CallTool(ctx, sess, "create", json.RawMessage(`{"name":"x","bogus":true}`))
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !res.IsError {
		t.Fatalf("expected unknown field to produce an error result")
	}

	_, err = tc.CallTool(ctx, sess, "missing", nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

type sumOut struct {
	Total int `json:"total"`
}

type sumArgs struct {
	A int `json:"a"`
	B int `json:"b"`
}

func TestNewToolWithOutput_Structured(t *testing.T) {
	ctx := context.Background()
	tool := NewToolWithOutput("sum", func(ctx context.Context, s sessions.Session, w ToolResponseWriterTyped[sumOut], r *ToolRequest[sumArgs]) error {
		total := r.Args().A + r.Args().B
		w.SetStructured(sumOut{Total: total})
		return w.AppendText("ok")
	})
	if tool.Descriptor.Returns != "object" {
		t.Fatalf("expected default returns, got %q", tool.Descriptor.Returns)
	}

	res, err := tool.Handler(ctx, newSession(t), "sum", json.RawMessage(`{"a":2,"b":3}`))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if got, _ := res.StructuredContent["total"].(float64); got != 5 {
		t.Fatalf("unexpected structured content: %+v", res.StructuredContent)
	}
}

func TestToolHandlerErrorPropagates(t *testing.T) {
	boom := errors.New("db exploded")
	tc := NewToolsContainer(NewTool("fail", func(ctx context.Context, s sessions.Session, w ToolResponseWriter, r *ToolRequest[struct{}]) error {
		return boom
	}))
	_, err := tc.CallTool(context.Background(), newSession(t), "fail", nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected handler error, got %v", err)
	}
}

func TestToolResponseWriter_Finalize(t *testing.T) {
	w := newToolResponseWriter(context.Background())
	if err := w.AppendText("a"); err != nil {
		t.Fatalf("AppendText: %v", err)
	}
	w.SetMeta("k", 1)
	w.SetError(true)
	res := w.Result()
	if !res.IsError || len(res.Content) != 1 || res.Meta["k"] != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if err := w.AppendText("b"); !errors.Is(err, ErrFinalized) {
		t.Fatalf("expected ErrFinalized, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w2 := newToolResponseWriter(ctx)
	if err := w2.AppendText("x"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestStaticPrompts_Render(t *testing.T) {
	ctx := context.Background()
	sess := newSession(t)
	sp := NewStaticPrompts(NewPrompt("greet", "Greets someone",
		[]mcp.PromptArgument{{Name: "name", Required: true}, {Name: "tone"}},
		PromptTemplate{Text: "Say hello to {{.name}}{{if .tone}} in a {{.tone}} tone{{end}}."},
		PromptTemplate{Role: mcp.RoleAssistant, Text: "Hello, {{.name}}!"},
	))

	list, _ := sp.ListPrompts(ctx, sess)
	if len(list) != 1 || list[0].Name != "greet" || len(list[0].Arguments) != 2 {
		t.Fatalf("unexpected list: %+v", list)
	}

	res, err := sp.GetPrompt(ctx, sess, "greet", map[string]string{"name": "Ada", "tone": "warm"})
	if err != nil {
		t.Fatalf("GetPrompt: %v", err)
	}
	if len(res.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %+v", res.Messages)
	}
	if res.Messages[0].Role != mcp.RoleUser || res.Messages[0].Content.Text != "Say hello to Ada in a warm tone." {
		t.Fatalf("unexpected first message: %+v", res.Messages[0])
	}
	if res.Messages[1].Role != mcp.RoleAssistant || res.Messages[1].Content.Text != "Hello, Ada!" {
		t.Fatalf("unexpected second message: %+v", res.Messages[1])
	}

	_, err = sp.GetPrompt(ctx, sess, "greet", map[string]string{})
	if !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams, got %v", err)
	}

	_, err = sp.GetPrompt(ctx, sess, "nope", nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRegistry_OrderAndFreeze(t *testing.T) {
	r := NewRegistry()
	a, b := NewStaticResources(), NewStaticResources()
	if err := r.AddResourceProvider(a); err != nil {
		t.Fatalf("add a: %v", err)
	}
	if err := r.AddResourceProvider(b); err != nil {
		t.Fatalf("add b: %v", err)
	}
	r.Freeze()
	if err := r.AddResourceProvider(a); !errors.Is(err, ErrRegistryFrozen) {
		t.Fatalf("expected ErrRegistryFrozen, got %v", err)
	}
	if err := r.AddToolProvider(NewToolsContainer()); !errors.Is(err, ErrRegistryFrozen) {
		t.Fatalf("expected ErrRegistryFrozen, got %v", err)
	}
	got := r.ResourceProviders()
	if len(got) != 2 || got[0] != ResourceProvider(a) || got[1] != ResourceProvider(b) {
		t.Fatalf("unexpected providers order")
	}
}

func TestChangeNotifier_Close(t *testing.T) {
	var cn ChangeNotifier
	ch := cn.Subscriber()
	cn.Close()
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	late := cn.Subscriber()
	if _, ok := <-late; ok {
		t.Fatalf("expected closed channel after Close")
	}
	cn.Close()
}
