// Package mcpserver is the composition root of the protocol server. A
// Server owns the provider registry, the session manager and the protocol
// engine, and exposes the small surface a transport needs: open a session,
// hand it raw frames, close it.
//
// Typical wiring:
//
//	srv := mcpserver.New(
//	    mcpserver.WithServerInfo(mcp.ImplementationInfo{Name: "example", Version: "1.0.0"}),
//	    mcpserver.WithPageSize(50),
//	)
//	_ = srv.RegisterResourceProvider(mcpservice.NewStaticResources(
//	    mcpservice.TextResource("demo://x", "x", "text/plain", "hello"),
//	))
//	if err := srv.Initialize(ctx); err != nil { ... }
//	if err := srv.Start(ctx); err != nil { ... }
//	defer srv.Shutdown(context.Background())
//
//	err := srv.ServeTransport(ctx, transport)
//
// Providers must be registered before Start. Afterwards the registry is
// frozen and dispatch reads it without locking.
package mcpserver
