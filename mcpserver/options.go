package mcpserver

import (
	"log/slog"

	"github.com/tasklane/mcp-server-go/internal/telemetry"
	"github.com/tasklane/mcp-server-go/mcp"
)

// Option configures a Server.
type Option func(*config)

type config struct {
	info         mcp.ImplementationInfo
	instructions string
	versions     []string
	maxSessions  int
	pageSize     int
	listChanged  bool
	log          *slog.Logger
	tel          *telemetry.Instruments
}

// WithServerInfo sets the implementation info returned from initialize.
func WithServerInfo(info mcp.ImplementationInfo) Option {
	return func(c *config) { c.info = info }
}

// WithInstructions sets human-readable instructions returned from initialize.
func WithInstructions(instr string) Option {
	return func(c *config) { c.instructions = instr }
}

// WithProtocolVersions restricts the protocol versions offered during
// negotiation. The last entry is preferred.
func WithProtocolVersions(versions ...string) Option {
	return func(c *config) { c.versions = versions }
}

// WithMaxSessions bounds the number of concurrently open sessions.
func WithMaxSessions(n int) Option {
	return func(c *config) { c.maxSessions = n }
}

// WithPageSize enables pagination of list results.
func WithPageSize(n int) Option {
	return func(c *config) { c.pageSize = n }
}

// WithListChanged advertises and forwards list_changed notifications for
// providers that publish changes.
func WithListChanged(enabled bool) Option {
	return func(c *config) { c.listChanged = enabled }
}

// WithLogger sets the logger used by the server and everything it builds.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.log = l }
}

// WithInstruments sets the telemetry instruments.
func WithInstruments(inst *telemetry.Instruments) Option {
	return func(c *config) { c.tel = inst }
}
