// Package mcp contains protocol data types and constants shared by the
// engine, the capability providers and the transports. It mirrors the wire
// representation of the Model Context Protocol while keeping the surface
// Go-friendly (exported structs with json tags, string constants for method
// names).
//
// The package is free of transport and dispatch logic. Providers build
// results from these concrete types and the engine serializes them into
// JSON-RPC responses.
//
// # Method Names
//
// JSON-RPC method and notification names are enumerated as Method constants
// (e.g. ToolsListMethod). The engine dispatches on exactly the request
// methods declared here.
//
// # Pagination
//
// List operations use cursor-based pagination. PaginatedRequest and
// PaginatedResult are embedded in request / result envelopes. Cursors are
// opaque to clients.
//
// Example (tool result construction):
//
//	res := &mcp.CallToolResult{
//	    Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: "hello"}},
//	}
//
// # Compatibility
//
// LatestProtocolVersion is the newest protocol revision the server speaks.
// Clients asking for an unknown revision are answered with it.
package mcp
