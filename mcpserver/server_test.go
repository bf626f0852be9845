package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tasklane/mcp-server-go/mcp"
	"github.com/tasklane/mcp-server-go/mcpservice"
	"github.com/tasklane/mcp-server-go/sessions"
)

// chanTransport is an in-memory Transport driven by the test.
type chanTransport struct {
	in  chan []byte
	out chan []byte

	closeOnce sync.Once
}

func newChanTransport() *chanTransport {
	return &chanTransport{in: make(chan []byte), out: make(chan []byte, 16)}
}

func (c *chanTransport) ReadMessage(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-c.in:
		if !ok {
			return nil, io.EOF
		}
		return msg, nil
	}
}

func (c *chanTransport) WriteMessage(ctx context.Context, msg []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case c.out <- append([]byte(nil), msg...):
		return nil
	}
}

func (c *chanTransport) hangUp() { c.closeOnce.Do(func() { close(c.in) }) }

func (c *chanTransport) send(t *testing.T, frame string) {
	t.Helper()
	select {
	case c.in <- []byte(frame):
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out sending %s", frame)
	}
}

func (c *chanTransport) recv(t *testing.T) map[string]any {
	t.Helper()
	select {
	case msg := <-c.out:
		var m map[string]any
		if err := json.Unmarshal(msg, &m); err != nil {
			t.Fatalf("invalid JSON from server: %v: %s", err, msg)
		}
		return m
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for server frame")
		return nil
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func startedServer(t *testing.T, setup func(*Server), opts ...Option) *Server {
	t.Helper()
	srv := New(append([]Option{WithLogger(testLogger())}, opts...)...)
	if setup != nil {
		setup(srv)
	}
	ctx := context.Background()
	if err := srv.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func TestLifecycleOrdering(t *testing.T) {
	ctx := context.Background()
	srv := New(WithLogger(testLogger()))

	if err := srv.Start(ctx); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Start before Initialize: want ErrNotInitialized, got %v", err)
	}
	if _, err := srv.OpenSession(ctx, nil); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("OpenSession before Start: want ErrNotRunning, got %v", err)
	}

	resp := srv.HandleMessage(ctx, "whatever", []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	if !strings.Contains(string(resp), NotRunningMessage) || !strings.Contains(string(resp), `"id":1`) {
		t.Fatalf("unexpected response before start: %s", resp)
	}
	if resp := srv.HandleMessage(ctx, "whatever", []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)); resp != nil {
		t.Fatalf("notification before start should get no answer, got %s", resp)
	}

	if err := srv.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := srv.RegisterToolProvider(mcpservice.NewToolsContainer()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("register after Start: want ErrAlreadyStarted, got %v", err)
	}
	if err := srv.Initialize(ctx); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("Initialize after Start: want ErrAlreadyStarted, got %v", err)
	}

	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if srv.Running() {
		t.Fatalf("server still running after Shutdown")
	}
}

func TestShutdownClosesSessions(t *testing.T) {
	ctx := context.Background()
	srv := startedServer(t, nil)

	id, err := srv.OpenSession(ctx, map[string]any{"name": "c"})
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	resp := srv.HandleMessage(ctx, id, []byte(`{"jsonrpc":"2.0","id":"x","method":"initialize","params":{"protocolVersion":"2025-06-18"}}`))
	if !strings.Contains(string(resp), NotRunningMessage) {
		t.Fatalf("want not running after shutdown, got %s", resp)
	}
	if _, err := srv.session(ctx, id); err == nil {
		t.Fatalf("session %s survived shutdown", id)
	}
}

func TestDemoScenario(t *testing.T) {
	ctx := context.Background()
	srv := startedServer(t, func(s *Server) {
		if err := s.RegisterResourceProvider(mcpservice.NewStaticResources(
			mcpservice.TextResource("demo://x", "x", "text/plain", "hello"),
		)); err != nil {
			t.Fatalf("register: %v", err)
		}
	})

	id, err := srv.OpenSession(ctx, nil)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	frames := []struct {
		in   string
		want string
	}{
		{`{"jsonrpc":"2.0","id":1,"method":"resources/read","params":{"uri":"demo://x"}}`, `"Session not initialized"`},
		{`{"jsonrpc":"2.0","id":2,"method":"initialize","params":{"protocolVersion":"2025-06-18","capabilities":{},"clientInfo":{"name":"c"}}}`, `"protocolVersion":"2025-06-18"`},
		{`{"jsonrpc":"2.0","id":3,"method":"resources/list"}`, `"uri":"demo://x"`},
		{`{"jsonrpc":"2.0","id":4,"method":"resources/read","params":{"uri":"demo://x"}}`, `"text":"hello"`},
		{`{"jsonrpc":"2.0","id":5,"method":"resources/read","params":{"uri":"demo://y"}}`, `"code":-32002`},
	}
	for _, f := range frames {
		resp := srv.HandleMessage(ctx, id, []byte(f.in))
		if !strings.Contains(string(resp), f.want) {
			t.Fatalf("frame %s: want %s in %s", f.in, f.want, resp)
		}
	}
}

func TestServeTransport(t *testing.T) {
	srv := startedServer(t, func(s *Server) {
		if err := s.RegisterToolProvider(mcpservice.NewToolsContainer(
			mcpservice.NewTool("ping", func(ctx context.Context, _ sessions.Session, w mcpservice.ToolResponseWriter, _ *mcpservice.ToolRequest[struct{}]) error {
				return w.AppendText("pong")
			}),
		)); err != nil {
			t.Fatalf("register: %v", err)
		}
	})

	tr := newChanTransport()
	done := make(chan error, 1)
	go func() { done <- srv.ServeTransport(context.Background(), tr) }()

	tr.send(t, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05"}}`)
	if got := tr.recv(t)["result"].(map[string]any)["protocolVersion"]; got != "2024-11-05" {
		t.Fatalf("negotiated %v", got)
	}
	tr.send(t, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	tr.send(t, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"ping"}}`)
	resp := tr.recv(t)
	if resp["id"].(float64) != 2 {
		t.Fatalf("responses out of order: %v", resp)
	}
	content := resp["result"].(map[string]any)["content"].([]any)
	if content[0].(map[string]any)["text"] != "pong" {
		t.Fatalf("unexpected tool result: %v", resp)
	}

	tr.hangUp()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ServeTransport: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("ServeTransport did not return after EOF")
	}
	if n := srv.mgr.Len(); n != 0 {
		t.Fatalf("session leaked after disconnect: %d open", n)
	}
}

// framingTransport turns the frame "<garbled>" into a bad frame error and
// records Close.
type framingTransport struct {
	*chanTransport
	closed chan struct{}
}

func (f *framingTransport) ReadMessage(ctx context.Context) ([]byte, error) {
	msg, err := f.chanTransport.ReadMessage(ctx)
	if err == nil && string(msg) == "<garbled>" {
		return nil, fmt.Errorf("decode frame: %w", ErrBadFrame)
	}
	return msg, err
}

func (f *framingTransport) Close() error {
	close(f.closed)
	return nil
}

func TestServeTransportSurvivesBadFrame(t *testing.T) {
	srv := startedServer(t, nil)
	tr := &framingTransport{chanTransport: newChanTransport(), closed: make(chan struct{})}
	done := make(chan error, 1)
	go func() { done <- srv.ServeTransport(context.Background(), tr) }()

	tr.send(t, "<garbled>")
	resp := tr.recv(t)
	if code := resp["error"].(map[string]any)["code"].(float64); code != -32600 {
		t.Fatalf("want -32600, got %v", resp)
	}
	if id, ok := resp["id"]; !ok || id != nil {
		t.Fatalf("want null id, got %v", resp)
	}

	tr.send(t, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05"}}`)
	if resp := tr.recv(t); resp["result"] == nil {
		t.Fatalf("initialize after bad frame failed: %v", resp)
	}

	tr.hangUp()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ServeTransport: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("ServeTransport did not return after EOF")
	}
	select {
	case <-tr.closed:
	default:
		t.Fatalf("transport not closed after ServeTransport returned")
	}
}

func TestServeTransportForwardsListChanged(t *testing.T) {
	res := mcpservice.NewStaticResources()
	srv := startedServer(t, func(s *Server) {
		if err := s.RegisterResourceProvider(res); err != nil {
			t.Fatalf("register: %v", err)
		}
	}, WithListChanged(true))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr := newChanTransport()
	done := make(chan error, 1)
	go func() { done <- srv.ServeTransport(ctx, tr) }()

	tr.send(t, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18"}}`)
	initResp := tr.recv(t)
	caps := initResp["result"].(map[string]any)["capabilities"].(map[string]any)
	if caps["resources"].(map[string]any)["listChanged"] != true {
		t.Fatalf("listChanged not advertised: %v", caps)
	}

	res.Add(ctx, mcpservice.TextResource("demo://new", "new", "text/plain", "x"))
	note := tr.recv(t)
	if note["method"] != string(mcp.ResourcesListChangedNotificationMethod) {
		t.Fatalf("want list_changed notification, got %v", note)
	}
	if _, hasID := note["id"]; hasID {
		t.Fatalf("notification must not carry an id: %v", note)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ServeTransport: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("ServeTransport did not return after cancel")
	}
}
