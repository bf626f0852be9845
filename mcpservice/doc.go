// Package mcpservice defines the capability provider abstraction the server
// dispatches to, together with ready-made providers for the common cases.
//
// There are three provider kinds, one per capability:
//
//	ResourceProvider -> resources/list, resources/read
//	ToolProvider     -> tools/list, tools/call
//	PromptProvider   -> prompts/list, prompts/get
//
// Providers are registered with a Registry before the server starts.
// Registration order is preserved and is the only tie-break rule: when two
// providers recognise the same URI or name, the one registered first wins.
//
// A provider that does not recognise an identifier returns an error
// wrapping ErrNotFound (see NotFound); the dispatcher then asks the next
// provider. Any other error is treated as a provider failure and is never
// shown to the client in detail.
//
// # Ready-made providers
//
//   - StaticResources: a mutable, threadsafe set of resources and contents.
//   - ToolsContainer with NewTool / NewToolWithOutput: typed tools whose input
//     schema is reflected from a Go struct.
//   - StaticPrompts with NewPrompt: prompts rendered from text/template
//     message templates.
//
// Containers embed a ChangeNotifier. Transports that can push notifications
// use the ChangeSubscriber interface to learn when a list changed.
//
// Example:
//
//	type EchoArgs struct {
//	    Message string `json:"message" jsonschema:"description=Text to echo"`
//	}
//	tools := mcpservice.NewToolsContainer(
//	    mcpservice.NewTool("echo", func(ctx context.Context, s sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[EchoArgs]) error {
//	        return w.AppendText(r.Args().Message)
//	    }, mcpservice.WithToolDescription("Echo a message back")),
//	)
//	_ = registry.AddToolProvider(tools)
package mcpservice
