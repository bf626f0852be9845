package stdio

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/tasklane/mcp-server-go/internal/logctx"
	"github.com/tasklane/mcp-server-go/mcpserver"
)

// TransportName is recorded on sessions and log lines served over stdio.
const TransportName = "stdio"

// Handler serves one client over an io.Reader / io.Writer pair, by default
// os.Stdin and os.Stdout. The server must already be started.
type Handler struct {
	srv          *mcpserver.Server
	r            io.Reader
	w            io.Writer
	l            *slog.Logger
	userProvider UserProvider
}

// NewHandler constructs a stdio Handler with defaults and applies options.
func NewHandler(srv *mcpserver.Server, opts ...Option) *Handler {
	h := &Handler{
		srv:          srv,
		r:            os.Stdin,
		w:            os.Stdout,
		l:            slog.Default(),
		userProvider: OSUserProvider{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Serve runs the stdio loop until EOF on the reader or ctx is canceled. It
// is safe to call at most once per Handler.
func (h *Handler) Serve(ctx context.Context) error {
	info := map[string]any{"transport": TransportName}
	peer := ""
	if uid, err := h.userProvider.CurrentUserID(); err != nil {
		h.l.WarnContext(ctx, "stdio.current_user.fail", slog.String("err", err.Error()))
	} else {
		peer = uid
		info["user"] = uid
	}

	ctx = logctx.WithTransportData(ctx, &logctx.TransportData{Name: TransportName, Peer: peer})
	h.l.InfoContext(ctx, "stdio.serve.start")

	err := h.srv.ServeTransport(ctx, NewTransport(h.r, h.w, info))
	if err != nil {
		h.l.ErrorContext(ctx, "stdio.serve.fail", slog.String("err", err.Error()))
		return err
	}
	h.l.InfoContext(ctx, "stdio.serve.done")
	return nil
}
