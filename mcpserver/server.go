package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/tasklane/mcp-server-go/internal/engine"
	"github.com/tasklane/mcp-server-go/internal/jsonrpc"
	"github.com/tasklane/mcp-server-go/internal/telemetry"
	"github.com/tasklane/mcp-server-go/mcpservice"
	"github.com/tasklane/mcp-server-go/sessions"
)

var (
	// ErrAlreadyStarted is returned when registering providers or
	// initializing after Start.
	ErrAlreadyStarted = errors.New("mcpserver: server already started")
	// ErrNotInitialized is returned by Start when Initialize was not called.
	ErrNotInitialized = errors.New("mcpserver: server not initialized")
	// ErrNotRunning is returned by session operations outside Start..Shutdown.
	ErrNotRunning = errors.New("mcpserver: server not running")
)

// NotRunningMessage is the error message sent for frames received while the
// server is not running.
const NotRunningMessage = "Server not running"

type state int

const (
	stateNew state = iota
	stateInitialized
	stateRunning
	stateStopped
)

// Server wires providers, sessions and the protocol engine together.
type Server struct {
	cfg config
	reg *mcpservice.Registry

	mu    sync.RWMutex
	state state
	mgr   *sessions.Manager
	eng   *engine.Engine
}

// New constructs a Server. It does not accept traffic until Initialize and
// Start have been called.
func New(opts ...Option) *Server {
	cfg := config{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.log == nil {
		cfg.log = slog.Default()
	}
	if cfg.tel == nil {
		cfg.tel = telemetry.Noop()
	}
	return &Server{cfg: cfg, reg: mcpservice.NewRegistry()}
}

// RegisterResourceProvider adds a resource provider. Providers answer in
// registration order.
func (s *Server) RegisterResourceProvider(p mcpservice.ResourceProvider) error {
	return s.register(func() error { return s.reg.AddResourceProvider(p) })
}

// RegisterToolProvider adds a tool provider.
func (s *Server) RegisterToolProvider(p mcpservice.ToolProvider) error {
	return s.register(func() error { return s.reg.AddToolProvider(p) })
}

// RegisterPromptProvider adds a prompt provider.
func (s *Server) RegisterPromptProvider(p mcpservice.PromptProvider) error {
	return s.register(func() error { return s.reg.AddPromptProvider(p) })
}

func (s *Server) register(add func() error) error {
	if err := add(); err != nil {
		if errors.Is(err, mcpservice.ErrRegistryFrozen) {
			return ErrAlreadyStarted
		}
		return err
	}
	return nil
}

// Initialize builds the session manager and the protocol engine from the
// configured options. Calling it again before Start is a no-op.
func (s *Server) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateInitialized:
		return nil
	case stateRunning, stateStopped:
		return ErrAlreadyStarted
	}

	s.mgr = sessions.NewManager(sessions.ManagerConfig{
		MaxSessions: s.cfg.maxSessions,
		Metrics:     s.cfg.tel.SessionSink(),
		Logger:      s.cfg.log,
	})

	engOpts := []engine.EngineOption{
		engine.WithLogger(s.cfg.log),
		engine.WithInstruments(s.cfg.tel),
		engine.WithInstructions(s.cfg.instructions),
		engine.WithPageSize(s.cfg.pageSize),
		engine.WithListChanged(s.cfg.listChanged),
	}
	if s.cfg.info.Name != "" {
		engOpts = append(engOpts, engine.WithServerInfo(s.cfg.info))
	}
	if len(s.cfg.versions) > 0 {
		engOpts = append(engOpts, engine.WithProtocolVersions(s.cfg.versions...))
	}
	s.eng = engine.NewEngine(s.mgr, s.reg, engOpts...)
	s.state = stateInitialized

	s.cfg.log.InfoContext(ctx, "server.initialize.ok",
		slog.Int("max_sessions", s.mgr.MaxSessions()),
		slog.Int("resource_providers", len(s.reg.ResourceProviders())),
		slog.Int("tool_providers", len(s.reg.ToolProviders())),
		slog.Int("prompt_providers", len(s.reg.PromptProviders())),
	)
	return nil
}

// Start freezes the provider registry and begins accepting traffic.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateNew:
		return ErrNotInitialized
	case stateRunning, stateStopped:
		return ErrAlreadyStarted
	}

	s.reg.Freeze()
	s.state = stateRunning
	s.cfg.log.InfoContext(ctx, "server.start.ok", slog.Any("methods", s.eng.Methods()))
	return nil
}

// Running reports whether the server accepts traffic.
func (s *Server) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == stateRunning
}

// OpenSession creates a new session for a transport connection and returns
// its server-generated identifier.
func (s *Server) OpenSession(ctx context.Context, clientInfo map[string]any) (string, error) {
	mgr, err := s.runningManager()
	if err != nil {
		return "", err
	}
	sess, err := mgr.CreateSession(ctx, clientInfo)
	if err != nil {
		return "", err
	}
	return sess.SessionID(), nil
}

// CloseSession closes a session. Closing an unknown session is not an error.
func (s *Server) CloseSession(ctx context.Context, sessionID string) error {
	s.mu.RLock()
	mgr := s.mgr
	s.mu.RUnlock()
	if mgr == nil {
		return ErrNotInitialized
	}
	return mgr.CloseSession(ctx, sessionID)
}

// HandleMessage processes one raw frame for a session and returns the
// serialized response, or nil for notifications.
func (s *Server) HandleMessage(ctx context.Context, sessionID string, raw []byte) []byte {
	s.mu.RLock()
	eng, running := s.eng, s.state == stateRunning
	s.mu.RUnlock()

	if !running {
		return notRunningResponse(raw)
	}
	return eng.HandleMessage(ctx, sessionID, raw)
}

// Shutdown stops accepting traffic and closes every session. It is
// idempotent.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.state == stateStopped {
		s.mu.Unlock()
		return nil
	}
	s.state = stateStopped
	s.reg.Freeze()
	mgr := s.mgr
	s.mu.Unlock()

	if mgr == nil {
		return nil
	}
	open := mgr.Len()
	if err := mgr.CloseAll(ctx); err != nil {
		return err
	}
	s.cfg.log.InfoContext(ctx, "server.shutdown.ok", slog.Int("closed_sessions", open))
	return nil
}

func (s *Server) runningManager() (*sessions.Manager, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != stateRunning {
		return nil, ErrNotRunning
	}
	return s.mgr, nil
}

func (s *Server) session(ctx context.Context, id string) (*sessions.Handle, error) {
	s.mu.RLock()
	mgr := s.mgr
	s.mu.RUnlock()
	if mgr == nil {
		return nil, ErrNotInitialized
	}
	return mgr.GetSession(ctx, id)
}

// notRunningResponse answers requests arriving outside the running window.
// Notifications get no answer.
func notRunningResponse(raw []byte) []byte {
	var id *jsonrpc.RequestID
	if req, err := jsonrpc.ParseRequest(raw); err == nil {
		if req.IsNotification() {
			return nil
		}
		id = req.ID
	}
	b, _ := json.Marshal(jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInvalidRequest, NotRunningMessage, nil))
	return b
}
