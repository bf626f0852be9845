package sessions

import (
	"errors"
	"time"
)

// SessionState is the position of a session in the protocol state machine.
type SessionState string

const (
	StateUninitialized SessionState = "uninitialized"
	StateInitialized   SessionState = "initialized"
)

// Session is the read-only view of a live session handed to capability
// providers. Implementations MUST be safe for concurrent use.
type Session interface {
	SessionID() string
	// ClientInfo returns a copy of the free-form client description captured
	// at creation and initialize time.
	ClientInfo() map[string]any
	// ProtocolVersion is the negotiated protocol version; empty until the
	// session is initialized.
	ProtocolVersion() string
	Initialized() bool
	State() SessionState
	CreatedAt() time.Time
}

// Errors returned by the manager and session handles.
var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrCapacityExceeded   = errors.New("session capacity exceeded")
	ErrManagerClosed      = errors.New("session manager closed")
	ErrAlreadyInitialized = errors.New("session already initialized")
	ErrSessionClosed      = errors.New("session closed")

	errIDExhausted = errors.New("session id generator produced only collisions")
)

// MetricsSink allows optional instrumentation without hard dependency.
type MetricsSink interface {
	IncCounter(name string, tags map[string]string)
	AddGauge(name string, delta int64, tags map[string]string)
}

// Metric names emitted by the manager.
const (
	MetricSessionsCreated  = "sessions_created"
	MetricSessionsClosed   = "sessions_closed"
	MetricSessionsRejected = "sessions_rejected"
	MetricSessionsActive   = "sessions_active"
)
