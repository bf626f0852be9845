package fsresources

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tasklane/mcp-server-go/mcpservice"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func newResources(t *testing.T, root string, opts ...Option) *Resources {
	t.Helper()
	opts = append([]Option{WithLogger(slog.New(slog.DiscardHandler))}, opts...)
	r, err := New(context.Background(), root, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestListAndRead(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "notes/todo.md", "# todo")
	writeFile(t, root, "a b.txt", "spaced")
	writeFile(t, root, ".git/config", "hidden")

	r := newResources(t, root)
	ctx := context.Background()

	list, err := r.ListResources(ctx, nil)
	require.NoError(t, err)
	var uris []string
	for _, res := range list {
		uris = append(uris, res.URI)
	}
	require.Equal(t, []string{"file:///a%20b.txt", "file:///notes/todo.md"}, uris)
	require.Equal(t, "todo.md", list[1].Name)

	res, err := r.ReadResource(ctx, nil, "file:///notes/todo.md")
	require.NoError(t, err)
	require.Len(t, res.Contents, 1)
	require.Equal(t, "# todo", res.Contents[0].Text)
	require.Equal(t, "file:///notes/todo.md", res.Contents[0].URI)

	res, err = r.ReadResource(ctx, nil, "file:///a%20b.txt")
	require.NoError(t, err)
	require.Equal(t, "spaced", res.Contents[0].Text)
}

func TestBinaryContentIsBase64(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "img.bin", string([]byte{0xff, 0xfe, 0x00}))
	r := newResources(t, root)

	res, err := r.ReadResource(context.Background(), nil, "file:///img.bin")
	require.NoError(t, err)
	require.Empty(t, res.Contents[0].Text)
	require.Equal(t, base64.StdEncoding.EncodeToString([]byte{0xff, 0xfe, 0x00}), res.Contents[0].Blob)
	require.Equal(t, "application/octet-stream", res.Contents[0].MimeType)
}

func TestTraversalIsNotFound(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "ws")
	writeFile(t, root, "ok.txt", "ok")
	writeFile(t, parent, "secret.txt", "secret")
	require.NoError(t, os.Symlink(filepath.Join(parent, "secret.txt"), filepath.Join(root, "link.txt")))

	r := newResources(t, root)
	for _, uri := range []string{
		"file:///../secret.txt",
		"file:///%2e%2e/secret.txt",
		"file:///link.txt",
		"file:///",
		"file:///missing.txt",
		"demo://x",
	} {
		_, err := r.ReadResource(context.Background(), nil, uri)
		require.ErrorIs(t, err, mcpservice.ErrNotFound, uri)
	}
}

func TestUnlistedPathsAreNotReadable(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "a")
	writeFile(t, root, ".env", "visible")
	writeFile(t, root, ".git/config", "token=SECRET")
	writeFile(t, root, "docs/.cache/blob", "cached")
	writeFile(t, root, "docs/readme.md", "readme")
	require.NoError(t, os.Symlink(filepath.Join(root, "a.txt"), filepath.Join(root, "alias.txt")))
	require.NoError(t, os.Symlink(filepath.Join(root, "docs"), filepath.Join(root, "docs-link")))

	r := newResources(t, root)
	ctx := context.Background()

	list, err := r.ListResources(ctx, nil)
	require.NoError(t, err)
	listed := make(map[string]bool)
	for _, res := range list {
		listed[res.URI] = true
	}
	require.Equal(t, map[string]bool{
		"file:///.env":           true,
		"file:///a.txt":          true,
		"file:///docs/readme.md": true,
	}, listed)

	for _, uri := range []string{
		"file:///.git/config",
		"file:///%2Egit/config",
		"file:///docs/.cache/blob",
		"file:///alias.txt",
		"file:///docs-link/readme.md",
	} {
		require.False(t, listed[uri], uri)
		_, err := r.ReadResource(ctx, nil, uri)
		require.ErrorIs(t, err, mcpservice.ErrNotFound, uri)
	}

	for uri := range listed {
		_, err := r.ReadResource(ctx, nil, uri)
		require.NoError(t, err, uri)
	}
}

func TestFileTooLarge(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "big.txt", "0123456789")
	r := newResources(t, root, WithMaxFileSize(4))

	_, err := r.ReadResource(context.Background(), nil, "file:///big.txt")
	require.True(t, errors.Is(err, ErrFileTooLarge))
}

func TestCustomBaseURI(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "x.txt", "x")
	r := newResources(t, root, WithBaseURI("workspace://repo/"))

	list, err := r.ListResources(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, "workspace://repo/x.txt", list[0].URI)
	_, err = r.ReadResource(context.Background(), nil, "workspace://repo/x.txt")
	require.NoError(t, err)
}

func TestNewRejectsFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "f", "x")
	_, err := New(context.Background(), filepath.Join(root, "f"))
	require.Error(t, err)
}

func TestWatchRefreshesIndexAndNotifies(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "first.txt", "1")
	r := newResources(t, root, WithDebounce(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := r.Subscriber()
	require.NoError(t, r.Watch(ctx))

	writeFile(t, root, "second.txt", "2")

	select {
	case <-sub:
	case <-time.After(3 * time.Second):
		t.Fatal("no change notification after creating a file")
	}
	require.Eventually(t, func() bool {
		list, _ := r.ListResources(ctx, nil)
		return len(list) == 2
	}, 3*time.Second, 10*time.Millisecond)
}

func TestCloseClosesSubscribers(t *testing.T) {
	r := newResources(t, t.TempDir())
	sub := r.Subscriber()
	require.NoError(t, r.Close())

	select {
	case _, ok := <-sub:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscriber channel not closed")
	}
}
