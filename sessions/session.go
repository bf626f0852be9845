package sessions

import (
	"maps"
	"sync"
	"sync/atomic"
	"time"
)

var _ Session = (*Handle)(nil)

// Handle is the concrete session owned by a Manager. Only the protocol
// engine calls MarkInitialized; everything else reads through Session.
type Handle struct {
	id        string
	createdAt time.Time

	initialized atomic.Bool
	closed      atomic.Bool

	mu              sync.RWMutex
	clientInfo      map[string]any
	capabilities    map[string]any
	protocolVersion string
}

func newHandle(id string, clientInfo map[string]any, now time.Time) *Handle {
	return &Handle{
		id:         id,
		createdAt:  now,
		clientInfo: maps.Clone(clientInfo),
	}
}

// SessionID returns the identifier the manager assigned at creation.
func (h *Handle) SessionID() string {
	return h.id
}

// CreatedAt returns when the session was opened.
func (h *Handle) CreatedAt() time.Time {
	return h.createdAt
}

// Initialized reports whether the initialize handshake has completed.
func (h *Handle) Initialized() bool {
	return h.initialized.Load()
}

// State returns StateInitialized once the handshake has completed and
// StateUninitialized before that.
func (h *Handle) State() SessionState {
	if h.initialized.Load() {
		return StateInitialized
	}
	return StateUninitialized
}

// ProtocolVersion returns the negotiated protocol version, or "" before
// initialize.
func (h *Handle) ProtocolVersion() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.protocolVersion
}

// ClientInfo returns a copy of the client info: transport-supplied entries
// merged with what the client sent in initialize.
func (h *Handle) ClientInfo() map[string]any {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return maps.Clone(h.clientInfo)
}

// ClientCapabilities returns a copy of the capabilities the client declared
// during initialize.
func (h *Handle) ClientCapabilities() map[string]any {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return maps.Clone(h.capabilities)
}

// Closed reports whether the session has been removed from its manager.
func (h *Handle) Closed() bool {
	return h.closed.Load()
}

// MarkInitialized records the outcome of a successful initialize handshake
// and moves the session to StateInitialized. clientInfo entries are merged
// over whatever the transport supplied at creation. A session can be
// initialized once; later calls return ErrAlreadyInitialized and change
// nothing.
func (h *Handle) MarkInitialized(protocolVersion string, clientInfo, capabilities map[string]any) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed.Load() {
		return ErrSessionClosed
	}
	if h.initialized.Load() {
		return ErrAlreadyInitialized
	}

	if h.clientInfo == nil {
		h.clientInfo = make(map[string]any, len(clientInfo))
	}
	maps.Copy(h.clientInfo, clientInfo)
	h.capabilities = maps.Clone(capabilities)
	h.protocolVersion = protocolVersion
	h.initialized.Store(true)

	return nil
}
