// Package sessions owns the per-connection session state of the server and
// the Manager that creates, resolves and destroys sessions.
//
// A session is created when a transport connection is opened and lives
// until the connection drops or the server shuts down. Its identifier is
// generated here from a cryptographically strong random source; no function
// in this package accepts a caller-chosen identifier.
//
// Layers & Roles
//
//	Transport -> asks the server to open / close a session per connection
//	Manager   -> bounded table of live sessions, safe for concurrent use
//	Handle    -> the concrete session; capability code sees it through the
//	             read-only Session interface
//
// # State
//
// Every session starts in StateUninitialized. A successful initialize
// handshake moves it to StateInitialized; there is no transition back.
//
// # Capacity
//
// The Manager refuses new sessions once MaxSessions are live
// (ErrCapacityExceeded). Existing sessions are never evicted to make room.
package sessions
