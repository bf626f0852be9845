package stdio

import (
	"io"
	"log/slog"
)

// Option configures a Handler built by NewHandler.
type Option func(*Handler)

// WithIO replaces stdin and stdout. A nil argument keeps the process stream
// for that side.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(h *Handler) {
		if in != nil {
			h.r = in
		}
		if out != nil {
			h.w = out
		}
	}
}

// WithLogger sets the handler's logger. Nil keeps slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.l = l
		}
	}
}

// WithUserProvider sets the source of the "user" clientInfo entry.
func WithUserProvider(up UserProvider) Option {
	return func(h *Handler) {
		if up != nil {
			h.userProvider = up
		}
	}
}
