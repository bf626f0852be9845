package sessions

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxSessions is the session ceiling used when ManagerConfig leaves
// MaxSessions unset.
const DefaultMaxSessions = 1024

// maxIDAttempts bounds the collision-retry loop in CreateSession.
const maxIDAttempts = 8

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// MaxSessions is the number of concurrently live sessions. Values <= 0
	// select DefaultMaxSessions.
	MaxSessions int
	Metrics     MetricsSink
	Logger      *slog.Logger
}

// applyDefaults populates zero values with conservative defaults.
func (c *ManagerConfig) applyDefaults() {
	if c.MaxSessions <= 0 {
		c.MaxSessions = DefaultMaxSessions
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager is the bounded table of live sessions. It is safe for concurrent
// use; every mutation happens under a single mutex.
type Manager struct {
	cfg   ManagerConfig
	newID func() string
	now   func() time.Time

	mu       sync.Mutex
	sessions map[string]*Handle
	closed   bool
}

// NewManager constructs a Manager.
func NewManager(cfg ManagerConfig) *Manager {
	cfg.applyDefaults()
	return &Manager{
		cfg:      cfg,
		newID:    uuid.NewString,
		now:      time.Now,
		sessions: make(map[string]*Handle),
	}
}

// MaxSessions reports the configured ceiling.
func (m *Manager) MaxSessions() int {
	return m.cfg.MaxSessions
}

// CreateSession allocates a new uninitialized session with a fresh,
// server-generated identifier. clientInfo may be nil.
func (m *Manager) CreateSession(ctx context.Context, clientInfo map[string]any) (*Handle, error) {
	log := m.cfg.Logger

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	if len(m.sessions) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		m.recordMetric(MetricSessionsRejected, nil)
		log.WarnContext(ctx, "sessions.create.rejected", slog.Int("max_sessions", m.cfg.MaxSessions))
		return nil, ErrCapacityExceeded
	}

	var id string
	for range maxIDAttempts {
		candidate := m.newID()
		if _, taken := m.sessions[candidate]; !taken && candidate != "" {
			id = candidate
			break
		}
	}
	if id == "" {
		m.mu.Unlock()
		log.ErrorContext(ctx, "sessions.create.fail", slog.String("err", "could not allocate a unique session id"))
		return nil, errIDExhausted
	}

	h := newHandle(id, clientInfo, m.now().UTC())
	m.sessions[id] = h
	active := len(m.sessions)
	m.mu.Unlock()

	m.recordMetric(MetricSessionsCreated, nil)
	m.recordGauge(MetricSessionsActive, 1)
	log.InfoContext(ctx, "sessions.create.ok", slog.String("session_id", id), slog.Int("active", active))

	return h, nil
}

// GetSession resolves a live session.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return h, nil
}

// CloseSession removes a session. Closing an unknown or already closed
// session is a no-op.
func (m *Manager) CloseSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	h, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
		h.closed.Store(true)
	}
	active := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return nil
	}

	m.recordMetric(MetricSessionsClosed, nil)
	m.recordGauge(MetricSessionsActive, -1)
	m.cfg.Logger.InfoContext(ctx, "sessions.close.ok", slog.String("session_id", sessionID), slog.Int("active", active))
	return nil
}

// CloseAll closes every live session and refuses further creation.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	closing := m.sessions
	m.sessions = make(map[string]*Handle)
	m.mu.Unlock()

	for _, h := range closing {
		h.closed.Store(true)
		m.recordMetric(MetricSessionsClosed, nil)
	}
	if n := len(closing); n > 0 {
		m.recordGauge(MetricSessionsActive, -int64(n))
	}
	m.cfg.Logger.InfoContext(ctx, "sessions.close_all.ok", slog.Int("closed", len(closing)))
	return nil
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) recordMetric(name string, tags map[string]string) {
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.IncCounter(name, tags)
	}
}

func (m *Manager) recordGauge(name string, delta int64) {
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.AddGauge(name, delta, nil)
	}
}
