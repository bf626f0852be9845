// Package stdio implements a single-connection transport over stdin/stdout.
// It is intended for running servers as subprocesses and for local
// development, where spawning a child process and piping JSON is simpler
// than running a network listener.
//
// Characteristics
//
//	Connection model : 1 process <-> 1 client
//	Identity         : OS user, recorded as session clientInfo only
//	Sessions         : one ephemeral session per Serve call
//	Framing          : newline-delimited JSON-RPC
//
// Options allow supplying alternate io.Reader / io.Writer or a custom logger.
//
// Example:
//
//	srv := mcpserver.New(
//	    mcpserver.WithServerInfo(mcp.ImplementationInfo{Name: "my-stdio-server", Version: "0.1.0"}),
//	)
//	// srv.RegisterToolProvider(...), srv.Initialize(ctx), srv.Start(ctx)
//	h := stdio.NewHandler(srv)
//	if err := h.Serve(ctx); err != nil { log.Fatal(err) }
package stdio
