// Package fsresources exposes the files under a workspace directory as
// read-only resources. The resource index is rebuilt whenever fsnotify
// reports a change and subscribers are told the list changed.
//
// Reads are confined to the root directory even through symlinks; anything
// that resolves outside of it is reported as not found.
package fsresources

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/fsnotify/fsnotify"

	"github.com/tasklane/mcp-server-go/mcp"
	"github.com/tasklane/mcp-server-go/mcpservice"
	"github.com/tasklane/mcp-server-go/sessions"
)

// DefaultBaseURI yields URIs of the form file:///<relative path>.
const DefaultBaseURI = "file://"

// DefaultMaxFileSize bounds the size of a single read.
const DefaultMaxFileSize = 1 << 20

// ErrFileTooLarge is returned when a resource exceeds the configured size.
var ErrFileTooLarge = errors.New("fsresources: file too large")

// Resources is a ResourceProvider over an OS directory.
type Resources struct {
	root        string // absolute, symlink-evaluated
	baseURI     string
	maxFileSize int64
	debounce    time.Duration
	log         *slog.Logger

	mu    sync.RWMutex
	index []mcp.Resource

	notifier mcpservice.ChangeNotifier

	watchOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

var (
	_ mcpservice.ResourceProvider = (*Resources)(nil)
	_ mcpservice.ChangeSubscriber = (*Resources)(nil)
)

// Option configures Resources.
type Option func(*Resources)

// WithBaseURI sets the URI prefix. A trailing slash is ignored.
func WithBaseURI(base string) Option {
	return func(r *Resources) { r.baseURI = strings.TrimRight(base, "/") }
}

// WithMaxFileSize bounds reads. Non-positive values keep the default.
func WithMaxFileSize(n int64) Option {
	return func(r *Resources) {
		if n > 0 {
			r.maxFileSize = n
		}
	}
}

// WithDebounce coalesces bursts of filesystem events. Zero rebuilds on
// every event.
func WithDebounce(d time.Duration) Option {
	return func(r *Resources) { r.debounce = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resources) {
		if l != nil {
			r.log = l
		}
	}
}

// New builds the provider and its initial index. root must be an existing
// directory.
func New(ctx context.Context, root string, opts ...Option) (*Resources, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("fsresources: resolve root: %w", err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("fsresources: resolve root: %w", err)
	}
	st, err := os.Stat(real)
	if err != nil {
		return nil, fmt.Errorf("fsresources: stat root: %w", err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("fsresources: %s is not a directory", root)
	}

	r := &Resources{
		root:        real,
		baseURI:     DefaultBaseURI,
		maxFileSize: DefaultMaxFileSize,
		debounce:    100 * time.Millisecond,
		log:         slog.Default(),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	if err := r.Rescan(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Root returns the resolved root directory.
func (r *Resources) Root() string { return r.root }

// Subscriber implements mcpservice.ChangeSubscriber.
func (r *Resources) Subscriber() <-chan struct{} {
	return r.notifier.Subscriber()
}

// ListResources implements mcpservice.ResourceProvider.
func (r *Resources) ListResources(ctx context.Context, _ sessions.Session) ([]mcp.Resource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.index), nil
}

// ReadResource implements mcpservice.ResourceProvider.
func (r *Resources) ReadResource(ctx context.Context, _ sessions.Session, uri string) (*mcp.ReadResourceResult, error) {
	rel, ok := r.uriToRel(uri)
	if !ok {
		return nil, mcpservice.NotFound("resource", uri)
	}

	// Reads reach exactly what Rescan can list: no symlinks, no hidden dirs.
	joined := filepath.Join(r.root, filepath.FromSlash(rel))
	real, err := filepath.EvalSymlinks(joined)
	if err != nil || real != joined || !within(real, r.root) {
		return nil, mcpservice.NotFound("resource", uri)
	}
	st, err := os.Stat(real)
	if err != nil || !st.Mode().IsRegular() {
		return nil, mcpservice.NotFound("resource", uri)
	}
	if st.Size() > r.maxFileSize {
		return nil, fmt.Errorf("read %s: %w", rel, ErrFileTooLarge)
	}

	data, err := os.ReadFile(real)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rel, err)
	}
	return &mcp.ReadResourceResult{
		Contents: []mcp.ResourceContents{contentsFor(uri, mimeTypeOf(rel), data)},
	}, nil
}

// Rescan rebuilds the index from disk and notifies subscribers when it
// differs from the previous one.
func (r *Resources) Rescan(ctx context.Context) error {
	var out []mcp.Resource
	err := filepath.WalkDir(r.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // best-effort listing
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if p != r.root && hidden(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(r.root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if !validFSPath(rel) {
			return nil
		}
		out = append(out, mcp.Resource{
			URI:      r.relToURI(rel),
			Name:     path.Base(rel),
			MimeType: mimeTypeOf(rel),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("fsresources: scan: %w", err)
	}
	slices.SortFunc(out, func(a, b mcp.Resource) int { return strings.Compare(a.URI, b.URI) })

	r.mu.Lock()
	changed := !slices.Equal(r.index, out)
	r.index = out
	r.mu.Unlock()

	if changed {
		r.log.DebugContext(ctx, "fsresources.rescan.changed", slog.Int("resources", len(out)))
		_ = r.notifier.Notify(ctx)
	}
	return nil
}

// Watch starts an fsnotify watcher that keeps the index current until ctx
// ends or Close is called. It is a no-op after the first call.
func (r *Resources) Watch(ctx context.Context) error {
	var startErr error
	r.watchOnce.Do(func() {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			startErr = fmt.Errorf("fsresources: watcher: %w", err)
			close(r.done)
			return
		}
		if err := addDirs(w, r.root); err != nil {
			r.log.WarnContext(ctx, "fsresources.watch.add_dirs.fail", slog.String("err", err.Error()))
		}
		go r.runWatcher(ctx, w)
	})
	return startErr
}

// Close stops the watcher and closes subscriber channels.
func (r *Resources) Close() error {
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
	// A watcher that never started has nothing to wait for.
	r.watchOnce.Do(func() { close(r.done) })
	<-r.done
	r.notifier.Close()
	return nil
}

func (r *Resources) runWatcher(ctx context.Context, w *fsnotify.Watcher) {
	defer close(r.done)
	defer func() {
		_ = w.Close()
	}()

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					if err := addDirs(w, ev.Name); err != nil {
						r.log.DebugContext(ctx, "fsresources.watch.add_dir.fail", slog.String("err", err.Error()))
					}
				}
			}
			if r.debounce <= 0 {
				r.rescanLogged(ctx)
				continue
			}
			if timer == nil {
				timer = time.NewTimer(r.debounce)
				timerCh = timer.C
			}
		case <-timerCh:
			timer, timerCh = nil, nil
			r.rescanLogged(ctx)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			r.log.DebugContext(ctx, "fsresources.watch.error", slog.String("err", err.Error()))
		}
	}
}

func (r *Resources) rescanLogged(ctx context.Context) {
	if err := r.Rescan(ctx); err != nil && ctx.Err() == nil {
		r.log.WarnContext(ctx, "fsresources.rescan.fail", slog.String("err", err.Error()))
	}
}

func addDirs(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if p != root && hidden(d.Name()) {
			return filepath.SkipDir
		}
		return w.Add(p)
	})
}

func contentsFor(uri, mimeType string, data []byte) mcp.ResourceContents {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	if utf8.Valid(data) {
		return mcp.ResourceContents{URI: uri, MimeType: mimeType, Text: string(data)}
	}
	return mcp.ResourceContents{URI: uri, MimeType: mimeType, Blob: base64.StdEncoding.EncodeToString(data)}
}

func mimeTypeOf(rel string) string {
	return mime.TypeByExtension(strings.ToLower(path.Ext(rel)))
}

func validFSPath(p string) bool {
	// fs.ValidPath requires clean, no leading slash, and no ".." segments.
	if !fs.ValidPath(p) {
		return false
	}
	// Reject Windows volume roots or schemes smuggled into a segment.
	return !strings.Contains(p, ":")
}

func (r *Resources) relToURI(rel string) string {
	segs := strings.Split(rel, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return r.baseURI + "/" + strings.Join(segs, "/")
}

func (r *Resources) uriToRel(uri string) (string, bool) {
	p, ok := strings.CutPrefix(uri, r.baseURI+"/")
	if !ok {
		return "", false
	}
	segs := strings.Split(p, "/")
	for i, s := range segs {
		dec, err := url.PathUnescape(s)
		if err != nil {
			return "", false
		}
		segs[i] = dec
	}
	rel := strings.Join(segs, "/")
	if !validFSPath(rel) || rel == "." {
		return "", false
	}
	for _, dir := range segs[:len(segs)-1] {
		if hidden(dir) {
			return "", false
		}
	}
	return rel, true
}

// hidden reports whether a directory name is excluded from the index.
func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// within returns true if target is the same as root or a descendant of root.
func within(target, root string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}
