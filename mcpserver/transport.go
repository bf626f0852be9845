package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/tasklane/mcp-server-go/internal/jsonrpc"
	"github.com/tasklane/mcp-server-go/mcp"
	"github.com/tasklane/mcp-server-go/mcpservice"
)

// Transport is a reliable, ordered message channel to one client. ReadMessage
// returns io.EOF once the peer has gone away.
type Transport interface {
	ReadMessage(ctx context.Context) ([]byte, error)
	WriteMessage(ctx context.Context, msg []byte) error
}

// ErrBadFrame is wrapped by read errors that spoil only the current frame.
// ServeTransport answers such a frame with an invalid request error and keeps
// reading.
var ErrBadFrame = errors.New("mcpserver: unusable frame")

// PeerInfoProvider is implemented by transports that know something about
// their peer. The map seeds the session's clientInfo.
type PeerInfoProvider interface {
	PeerInfo() map[string]any
}

// ServeTransport runs one session over t until the peer disconnects or ctx
// is done. Frames are handled one at a time in delivery order. When
// list_changed notifications are enabled they are written to the transport
// as soon as the session is initialized. If t implements io.Closer it is
// closed on return.
func (s *Server) ServeTransport(ctx context.Context, t Transport) error {
	var info map[string]any
	if p, ok := t.(PeerInfoProvider); ok {
		info = p.PeerInfo()
	}
	sessionID, err := s.OpenSession(ctx, info)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		if c, ok := t.(io.Closer); ok {
			_ = c.Close()
		}
		// The serving ctx may already be done; closing must still happen.
		if err := s.CloseSession(context.WithoutCancel(ctx), sessionID); err != nil {
			s.cfg.log.WarnContext(ctx, "server.serve_transport.close_session.fail", slog.String("err", err.Error()))
		}
	}()

	log := s.cfg.log.With(slog.String("session_id", sessionID))
	log.InfoContext(ctx, "server.serve_transport.start")

	var writeMu sync.Mutex
	write := func(msg []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return t.WriteMessage(ctx, msg)
	}

	if s.cfg.listChanged {
		for _, sub := range s.changeSources() {
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.forwardChanges(ctx, sessionID, sub, write)
			}()
		}
	}

	for {
		msg, err := t.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				log.InfoContext(ctx, "server.serve_transport.done")
				return nil
			}
			if !errors.Is(err, ErrBadFrame) {
				return fmt.Errorf("read message: %w", err)
			}
			log.WarnContext(ctx, "server.serve_transport.bad_frame", slog.String("err", err.Error()))
			b, err := json.Marshal(jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeInvalidRequest, "Invalid request", nil))
			if err != nil {
				return fmt.Errorf("marshal error response: %w", err)
			}
			if err := write(b); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("write message: %w", err)
			}
			continue
		}

		resp := s.HandleMessage(ctx, sessionID, msg)
		if resp == nil {
			continue
		}
		if err := write(resp); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("write message: %w", err)
		}
	}
}

type changeSource struct {
	method mcp.Method
	ch     <-chan struct{}
}

// changeSources subscribes to every registered provider that publishes
// changes.
func (s *Server) changeSources() []changeSource {
	var out []changeSource
	add := func(method mcp.Method, p any) {
		if sub, ok := p.(mcpservice.ChangeSubscriber); ok {
			out = append(out, changeSource{method: method, ch: sub.Subscriber()})
		}
	}
	for _, p := range s.reg.ResourceProviders() {
		add(mcp.ResourcesListChangedNotificationMethod, p)
	}
	for _, p := range s.reg.ToolProviders() {
		add(mcp.ToolsListChangedNotificationMethod, p)
	}
	for _, p := range s.reg.PromptProviders() {
		add(mcp.PromptsListChangedNotificationMethod, p)
	}
	return out
}

func (s *Server) forwardChanges(ctx context.Context, sessionID string, src changeSource, write func([]byte) error) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-src.ch:
			if !ok {
				return
			}
		}

		sess, err := s.session(ctx, sessionID)
		if err != nil {
			return
		}
		if !sess.Initialized() {
			continue
		}

		note, err := jsonrpc.NewNotification(string(src.method), nil)
		if err != nil {
			s.cfg.log.ErrorContext(ctx, "server.forward_changes.fail", slog.String("err", err.Error()))
			continue
		}
		b, err := json.Marshal(note)
		if err != nil {
			s.cfg.log.ErrorContext(ctx, "server.forward_changes.fail", slog.String("err", err.Error()))
			continue
		}
		if err := write(b); err != nil {
			s.cfg.log.WarnContext(ctx, "server.forward_changes.write.fail", slog.String("err", err.Error()))
			return
		}
	}
}
