package mcpservice

import (
	"context"
	"encoding/json"

	"github.com/tasklane/mcp-server-go/mcp"
	"github.com/tasklane/mcp-server-go/sessions"
)

// ResourceProvider exposes a set of addressable resources.
type ResourceProvider interface {
	// ListResources returns every resource visible to the session.
	ListResources(ctx context.Context, session sessions.Session) ([]mcp.Resource, error)
	// ReadResource returns the contents of uri, or an error wrapping
	// ErrNotFound when the provider does not own it.
	ReadResource(ctx context.Context, session sessions.Session, uri string) (*mcp.ReadResourceResult, error)
}

// ToolProvider exposes invocable tools.
type ToolProvider interface {
	ListTools(ctx context.Context, session sessions.Session) ([]mcp.Tool, error)
	// CallTool invokes name with the raw JSON arguments supplied by the
	// client (possibly empty). Unknown names yield an error wrapping
	// ErrNotFound. Argument validation failures should be reported either as
	// an IsError result or as an error wrapping ErrInvalidParams.
	CallTool(ctx context.Context, session sessions.Session, name string, args json.RawMessage) (*mcp.CallToolResult, error)
}

// PromptProvider exposes named prompt templates.
type PromptProvider interface {
	ListPrompts(ctx context.Context, session sessions.Session) ([]mcp.Prompt, error)
	GetPrompt(ctx context.Context, session sessions.Session, name string, args map[string]string) (*mcp.GetPromptResult, error)
}

// ChangeSubscriber is implemented by providers whose list can change at run
// time. Each call returns a fresh channel that ticks after a change and is
// closed when the provider stops publishing.
type ChangeSubscriber interface {
	Subscriber() <-chan struct{}
}
