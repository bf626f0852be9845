package stdio

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/tasklane/mcp-server-go/mcpserver"
)

// MaxMessageSize bounds a single inbound line.
const MaxMessageSize = 4 << 20

// ErrMessageTooLarge is returned when an inbound line exceeds MaxMessageSize.
// The rest of that line is discarded and reading resumes at the next one.
var ErrMessageTooLarge = fmt.Errorf("stdio: message too large: %w", mcpserver.ErrBadFrame)

// Transport frames JSON-RPC messages as newline-terminated lines. Reads must
// come from a single goroutine; writes may be concurrent.
type Transport struct {
	r    *bufio.Reader
	w    io.Writer
	wmu  sync.Mutex
	info map[string]any

	lines     chan lineResult
	once      sync.Once
	done      chan struct{}
	closeOnce sync.Once
	stopped   chan struct{}
}

type lineResult struct {
	line []byte
	err  error
}

// NewTransport wraps r and w. info is reported as the peer's client info.
func NewTransport(r io.Reader, w io.Writer, info map[string]any) *Transport {
	return &Transport{
		r:       bufio.NewReaderSize(r, 64*1024),
		w:       w,
		info:    info,
		lines:   make(chan lineResult),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// PeerInfo returns what is known about the process on the other side.
func (t *Transport) PeerInfo() map[string]any {
	return t.info
}

// ReadMessage returns the next non-empty line without its terminator. It
// returns io.EOF when the input is exhausted or the transport is closed, and
// ctx.Err() when ctx ends first.
func (t *Transport) ReadMessage(ctx context.Context) ([]byte, error) {
	// Reading from a pipe cannot be interrupted, so a single pump goroutine
	// feeds lines and callers wait on it alongside ctx.
	select {
	case <-t.done:
		return nil, io.EOF
	default:
	}
	t.once.Do(func() { go t.pump() })

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
		return nil, io.EOF
	case res, ok := <-t.lines:
		if !ok {
			return nil, io.EOF
		}
		return res.line, res.err
	}
}

// Close stops delivering lines. A read already blocked on the underlying
// reader finishes in the background; its result is dropped.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}

func (t *Transport) pump() {
	defer close(t.stopped)
	defer close(t.lines)
	for {
		line, err := t.readLine()
		if len(line) > 0 && !t.deliver(lineResult{line: line}) {
			return
		}
		switch {
		case err == nil:
		case errors.Is(err, ErrMessageTooLarge):
			if !t.deliver(lineResult{err: err}) {
				return
			}
		case errors.Is(err, io.EOF):
			return
		default:
			t.deliver(lineResult{err: err})
			return
		}
	}
}

func (t *Transport) deliver(res lineResult) bool {
	select {
	case t.lines <- res:
		return true
	case <-t.done:
		return false
	}
}

func (t *Transport) readLine() ([]byte, error) {
	var buf []byte
	for {
		chunk, err := t.r.ReadSlice('\n')
		if len(buf)+len(chunk) > MaxMessageSize {
			return nil, t.discardLine(err)
		}
		buf = append(buf, chunk...)
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		line := bytes.TrimSpace(buf)
		if err != nil {
			return line, err
		}
		if len(line) == 0 {
			buf = buf[:0]
			continue
		}
		return line, nil
	}
}

// discardLine skips to the end of an oversized line. err is the result of
// the ReadSlice call that crossed the limit.
func (t *Transport) discardLine(err error) error {
	for errors.Is(err, bufio.ErrBufferFull) {
		_, err = t.r.ReadSlice('\n')
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return ErrMessageTooLarge
}

// WriteMessage writes msg followed by a newline. msg must not contain a raw
// newline; encoding/json never produces one.
func (t *Transport) WriteMessage(ctx context.Context, msg []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.wmu.Lock()
	defer t.wmu.Unlock()

	out := make([]byte, 0, len(msg)+1)
	out = append(out, msg...)
	out = append(out, '\n')
	if _, err := t.w.Write(out); err != nil {
		return fmt.Errorf("stdio: write: %w", err)
	}
	return nil
}
