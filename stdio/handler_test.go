package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tasklane/mcp-server-go/mcp"
	"github.com/tasklane/mcp-server-go/mcpserver"
	"github.com/tasklane/mcp-server-go/mcpservice"
	"github.com/tasklane/mcp-server-go/sessions"
)

type fixedUser string

func (u fixedUser) CurrentUserID() (string, error) { return string(u), nil }

type failingUser struct{}

func (failingUser) CurrentUserID() (string, error) { return "", errors.New("no passwd entry") }

// testHarness wires a Handler to in-memory pipes and collects stdout lines.
type testHarness struct {
	t      *testing.T
	stdinW *io.PipeWriter
	outMu  sync.Mutex
	lines  []string
	done   chan error
	cancel context.CancelFunc
}

func newTestServer(t *testing.T, opts ...mcpserver.Option) *mcpserver.Server {
	t.Helper()
	type greetArgs struct {
		Name string `json:"name" jsonschema:"required"`
	}
	srv := mcpserver.New(append([]mcpserver.Option{mcpserver.WithLogger(slog.New(slog.DiscardHandler))}, opts...)...)
	err := srv.RegisterToolProvider(mcpservice.NewToolsContainer(
		mcpservice.NewTool("greet", func(ctx context.Context, s sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[greetArgs]) error {
			return w.AppendText(fmt.Sprintf("hello %s (%v)", r.Args().Name, s.ClientInfo()["user"]))
		}, mcpservice.WithToolDescription("Greets someone")),
	))
	if err != nil {
		t.Fatalf("register: %v", err)
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

func newHarness(t *testing.T, srv *mcpserver.Server, opts ...Option) *testHarness {
	t.Helper()

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	opts = append([]Option{WithIO(inR, outW), WithLogger(slog.New(slog.DiscardHandler)), WithUserProvider(fixedUser("alice"))}, opts...)
	h := NewHandler(srv, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	th := &testHarness{t: t, stdinW: inW, done: make(chan error, 1), cancel: cancel}

	go func() {
		th.done <- h.Serve(ctx)
		_ = outW.Close()
	}()

	go func() {
		sc := bufio.NewScanner(outR)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			th.t.Logf("OUT: %s", line)
			th.outMu.Lock()
			th.lines = append(th.lines, line)
			th.outMu.Unlock()
		}
	}()

	t.Cleanup(func() {
		cancel()
		_ = inW.Close()
	})
	return th
}

func (th *testHarness) send(frame string) {
	th.t.Helper()
	if _, err := th.stdinW.Write([]byte(frame + "\n")); err != nil {
		th.t.Fatalf("write stdin: %v", err)
	}
}

func (th *testHarness) nextLine(timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		th.outMu.Lock()
		if len(th.lines) > 0 {
			s := th.lines[0]
			th.lines = th.lines[1:]
			th.outMu.Unlock()
			return s, nil
		}
		th.outMu.Unlock()
		time.Sleep(2 * time.Millisecond)
	}
	return "", fmt.Errorf("timeout waiting for output line")
}

func (th *testHarness) expectResponse() map[string]any {
	th.t.Helper()
	line, err := th.nextLine(2 * time.Second)
	if err != nil {
		th.t.Fatalf("%v", err)
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(line), &m); err != nil {
		th.t.Fatalf("invalid JSON on stdout: %v: %s", err, line)
	}
	return m
}

func (th *testHarness) initialize() {
	th.t.Helper()
	th.send(fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":%q,"capabilities":{},"clientInfo":{"name":"client","version":"0.0.1"}}}`, mcp.LatestProtocolVersion))
	resp := th.expectResponse()
	if resp["error"] != nil {
		th.t.Fatalf("initialize failed: %v", resp)
	}
	th.send(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)
}

func TestInitializeAndCallTool(t *testing.T) {
	th := newHarness(t, newTestServer(t))
	th.initialize()

	th.send(`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	resp := th.expectResponse()
	tools := resp["result"].(map[string]any)["tools"].([]any)
	if len(tools) != 1 || tools[0].(map[string]any)["name"] != "greet" {
		t.Fatalf("unexpected tools: %v", tools)
	}

	th.send(`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"greet","arguments":{"name":"bob"}}}`)
	resp = th.expectResponse()
	content := resp["result"].(map[string]any)["content"].([]any)
	if got := content[0].(map[string]any)["text"]; got != "hello bob (alice)" {
		t.Fatalf("unexpected tool text: %v", got)
	}
}

func TestParseErrorKeepsServing(t *testing.T) {
	th := newHarness(t, newTestServer(t))

	th.send(`{"jsonrpc":`)
	resp := th.expectResponse()
	errObj := resp["error"].(map[string]any)
	if errObj["code"].(float64) != -32700 {
		t.Fatalf("want parse error, got %v", resp)
	}
	if resp["id"] != nil {
		t.Fatalf("want null id, got %v", resp["id"])
	}

	th.initialize()
}

func TestBlankLinesIgnored(t *testing.T) {
	th := newHarness(t, newTestServer(t))

	th.send("")
	th.send("   ")
	th.initialize()
}

func TestRequestBeforeInitialize(t *testing.T) {
	th := newHarness(t, newTestServer(t))

	th.send(`{"jsonrpc":"2.0","id":"early","method":"tools/list"}`)
	resp := th.expectResponse()
	errObj := resp["error"].(map[string]any)
	if errObj["message"] != "Session not initialized" || resp["id"] != "early" {
		t.Fatalf("unexpected response: %v", resp)
	}
}

func TestServeReturnsOnEOF(t *testing.T) {
	srv := newTestServer(t)
	th := newHarness(t, srv, WithUserProvider(failingUser{}))
	th.initialize()

	_ = th.stdinW.Close()
	select {
	case err := <-th.done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Serve did not return on EOF")
	}
}

func TestServeReturnsOnCancel(t *testing.T) {
	th := newHarness(t, newTestServer(t))
	th.initialize()

	th.cancel()
	select {
	case err := <-th.done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Serve did not return on cancel")
	}
}

func TestTransportFraming(t *testing.T) {
	in := strings.NewReader("{\"a\":1}\r\n\n{\"b\":2}")
	var out strings.Builder
	tr := NewTransport(in, &out, nil)
	ctx := context.Background()

	for _, want := range []string{`{"a":1}`, `{"b":2}`} {
		got, err := tr.ReadMessage(ctx)
		if err != nil {
			t.Fatalf("ReadMessage: %v", err)
		}
		if string(got) != want {
			t.Fatalf("want %s, got %s", want, got)
		}
	}
	if _, err := tr.ReadMessage(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("want io.EOF, got %v", err)
	}

	if err := tr.WriteMessage(ctx, []byte(`{"ok":true}`)); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	if out.String() != "{\"ok\":true}\n" {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestTransportSkipsOversizedLine(t *testing.T) {
	big := strings.Repeat("x", MaxMessageSize+1)
	tr := NewTransport(strings.NewReader(big+"\n{\"a\":1}\n"+big), io.Discard, nil)
	ctx := context.Background()

	_, err := tr.ReadMessage(ctx)
	if !errors.Is(err, ErrMessageTooLarge) || !errors.Is(err, mcpserver.ErrBadFrame) {
		t.Fatalf("want ErrMessageTooLarge wrapping ErrBadFrame, got %v", err)
	}
	got, err := tr.ReadMessage(ctx)
	if err != nil || string(got) != `{"a":1}` {
		t.Fatalf("want next line, got %q, %v", got, err)
	}
	// Unterminated oversized tail.
	if _, err := tr.ReadMessage(ctx); !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("want ErrMessageTooLarge, got %v", err)
	}
	if _, err := tr.ReadMessage(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("want io.EOF, got %v", err)
	}
}

func TestOversizedLineKeepsServing(t *testing.T) {
	th := newHarness(t, newTestServer(t))
	th.initialize()

	th.send(`{"jsonrpc":"2.0","id":9,"method":"tools/list","params":{"pad":"` + strings.Repeat("x", MaxMessageSize) + `"}}`)
	resp := th.expectResponse()
	errObj, ok := resp["error"].(map[string]any)
	if !ok || errObj["code"].(float64) != -32600 {
		t.Fatalf("want invalid request error, got %v", resp)
	}
	if resp["id"] != nil {
		t.Fatalf("want null id, got %v", resp["id"])
	}

	th.send(`{"jsonrpc":"2.0","id":10,"method":"tools/list"}`)
	resp = th.expectResponse()
	if resp["error"] != nil || resp["id"].(float64) != 10 {
		t.Fatalf("unexpected response after oversized line: %v", resp)
	}
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, errors.New("stdout closed") }

func TestPumpStopsAfterServeTransportFails(t *testing.T) {
	srv := newTestServer(t)
	inR, inW := io.Pipe()
	t.Cleanup(func() { _ = inW.Close() })
	tr := NewTransport(inR, brokenWriter{}, nil)

	done := make(chan error, 1)
	go func() { done <- srv.ServeTransport(context.Background(), tr) }()

	if _, err := io.WriteString(inW, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`+"\n"); err != nil {
		t.Fatalf("write stdin: %v", err)
	}
	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("want write error from ServeTransport")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("ServeTransport did not return on write failure")
	}

	// Nobody reads any more; the pump must still exit once its blocked read
	// completes.
	if _, err := io.WriteString(inW, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`+"\n"); err != nil {
		t.Fatalf("write stdin: %v", err)
	}
	select {
	case <-tr.stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("pump still running after ServeTransport returned")
	}
}

func TestTransportCloseEndsReads(t *testing.T) {
	tr := NewTransport(strings.NewReader("{\"a\":1}\n{\"b\":2}\n"), io.Discard, nil)
	ctx := context.Background()

	if _, err := tr.ReadMessage(ctx); err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := tr.ReadMessage(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("want io.EOF after Close, got %v", err)
	}
	select {
	case <-tr.stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("pump still running after Close")
	}
}

func TestNilOptionsKeepDefaults(t *testing.T) {
	var out strings.Builder
	h := NewHandler(nil, WithIO(nil, &out), WithLogger(nil), WithUserProvider(nil))
	if h.r != os.Stdin {
		t.Fatalf("nil reader replaced stdin")
	}
	if h.w != &out {
		t.Fatalf("writer not applied")
	}
	if h.l != slog.Default() {
		t.Fatalf("nil logger replaced the default")
	}
	if _, ok := h.userProvider.(OSUserProvider); !ok {
		t.Fatalf("nil user provider replaced the default: %T", h.userProvider)
	}
}
