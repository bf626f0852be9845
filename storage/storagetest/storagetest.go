// Package storagetest is a conformance suite shared by every storage
// backend.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tasklane/mcp-server-go/storage"
)

// Factory creates a fresh, empty backend for one test.
type Factory func(t *testing.T) storage.Storage

// RunStorageTests runs the complete Storage test suite against the provided factory.
func RunStorageTests(t *testing.T, factory Factory) {
	t.Run("SetAndGet", func(t *testing.T) { testSetAndGet(t, factory) })
	t.Run("GetNonExistent", func(t *testing.T) { testGetNonExistent(t, factory) })
	t.Run("Overwrite", func(t *testing.T) { testOverwrite(t, factory) })
	t.Run("TTL", func(t *testing.T) { testTTL(t, factory) })
	t.Run("Namespaces", func(t *testing.T) { testNamespaces(t, factory) })
	t.Run("Keys", func(t *testing.T) { testKeys(t, factory) })
	t.Run("DeleteKey", func(t *testing.T) { testDeleteKey(t, factory) })
	t.Run("DeleteNamespace", func(t *testing.T) { testDeleteNamespace(t, factory) })
	t.Run("DataIsCopied", func(t *testing.T) { testDataIsCopied(t, factory) })
	t.Run("Closed", func(t *testing.T) { testClosed(t, factory) })
}

func mustSet(t *testing.T, s storage.Storage, key, value string, opts ...storage.Option) {
	t.Helper()
	if err := s.Set(context.Background(), key, []byte(value), opts...); err != nil {
		t.Fatalf("Set(%q) failed: %v", key, err)
	}
}

func mustGet(t *testing.T, s storage.Storage, key string, opts ...storage.Option) *storage.StorageItem {
	t.Helper()
	item, err := s.Get(context.Background(), key, opts...)
	if err != nil {
		t.Fatalf("Get(%q) failed: %v", key, err)
	}
	return item
}

func testSetAndGet(t *testing.T, factory Factory) {
	s := factory(t)

	before := time.Now().Add(-time.Second)
	mustSet(t, s, "k", "v")
	item := mustGet(t, s, "k")
	if item == nil {
		t.Fatal("Get() returned nil item")
	}
	if string(item.Data) != "v" {
		t.Fatalf("Get() returned wrong data: got %s, want v", item.Data)
	}
	if item.CreatedAt.Before(before) {
		t.Fatalf("CreatedAt %v is before the write", item.CreatedAt)
	}
	if item.ExpiresAt != nil {
		t.Fatalf("ExpiresAt set without TTL: %v", item.ExpiresAt)
	}
}

func testGetNonExistent(t *testing.T, factory Factory) {
	s := factory(t)
	if item := mustGet(t, s, "missing"); item != nil {
		t.Fatalf("expected nil item, got %+v", item)
	}
}

func testOverwrite(t *testing.T, factory Factory) {
	s := factory(t)
	mustSet(t, s, "k", "one")
	mustSet(t, s, "k", "two")
	if item := mustGet(t, s, "k"); item == nil || string(item.Data) != "two" {
		t.Fatalf("expected overwrite to win, got %+v", item)
	}
}

func testTTL(t *testing.T, factory Factory) {
	s := factory(t)
	mustSet(t, s, "short", "v", storage.WithTTL(50*time.Millisecond))
	mustSet(t, s, "long", "v", storage.WithTTL(time.Hour))

	item := mustGet(t, s, "short")
	if item == nil || item.ExpiresAt == nil {
		t.Fatalf("expected live item with expiry, got %+v", item)
	}

	time.Sleep(1100 * time.Millisecond)
	if item := mustGet(t, s, "short"); item != nil {
		t.Fatalf("expected expired item to be gone, got %+v", item)
	}
	keys, err := s.Keys(context.Background())
	if err != nil {
		t.Fatalf("Keys() failed: %v", err)
	}
	if len(keys) != 1 || keys[0] != "long" {
		t.Fatalf("expected only long-lived key, got %v", keys)
	}
}

func testNamespaces(t *testing.T, factory Factory) {
	s := factory(t)
	mustSet(t, s, "k", "global")
	mustSet(t, s, "k", "a", storage.WithCollection("a"))
	mustSet(t, s, "k", "b", storage.WithCollection("b"))

	for ns, want := range map[string]string{"": "global", "a": "a", "b": "b"} {
		var opts []storage.Option
		if ns != "" {
			opts = append(opts, storage.WithCollection(ns))
		}
		item := mustGet(t, s, "k", opts...)
		if item == nil || string(item.Data) != want {
			t.Fatalf("namespace %q: got %+v, want %s", ns, item, want)
		}
	}
}

func testKeys(t *testing.T, factory Factory) {
	s := factory(t)
	for _, k := range []string{"b", "a", "c"} {
		mustSet(t, s, k, "v", storage.WithCollection("letters"))
	}
	mustSet(t, s, "z", "v", storage.WithCollection("other"))

	keys, err := s.Keys(context.Background(), storage.WithCollection("letters"))
	if err != nil {
		t.Fatalf("Keys() failed: %v", err)
	}
	if len(keys) != 3 || keys[0] != "a" || keys[1] != "b" || keys[2] != "c" {
		t.Fatalf("unexpected keys %v", keys)
	}

	empty, err := s.Keys(context.Background(), storage.WithCollection("nothing"))
	if err != nil {
		t.Fatalf("Keys() failed: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected no keys, got %v", empty)
	}
}

func testDeleteKey(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := context.Background()
	mustSet(t, s, "k1", "v", storage.WithCollection("c"))
	mustSet(t, s, "k2", "v", storage.WithCollection("c"))

	if err := s.Delete(ctx, storage.WithCollection("c"), storage.WithKey("k1")); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if item := mustGet(t, s, "k1", storage.WithCollection("c")); item != nil {
		t.Fatalf("k1 survived delete")
	}
	if item := mustGet(t, s, "k2", storage.WithCollection("c")); item == nil {
		t.Fatalf("k2 deleted by single-key delete")
	}
	if err := s.Delete(ctx, storage.WithCollection("c"), storage.WithKey("never")); err != nil {
		t.Fatalf("deleting a missing key should succeed: %v", err)
	}
}

func testDeleteNamespace(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := context.Background()
	mustSet(t, s, "k1", "v", storage.WithCollection("doomed"))
	mustSet(t, s, "k2", "v", storage.WithCollection("doomed"))
	mustSet(t, s, "k1", "v", storage.WithCollection("kept"))

	if err := s.Delete(ctx, storage.WithCollection("doomed")); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	keys, err := s.Keys(ctx, storage.WithCollection("doomed"))
	if err != nil {
		t.Fatalf("Keys() failed: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("namespace not emptied: %v", keys)
	}
	if item := mustGet(t, s, "k1", storage.WithCollection("kept")); item == nil {
		t.Fatalf("unrelated namespace was deleted")
	}
}

func testDataIsCopied(t *testing.T, factory Factory) {
	s := factory(t)
	buf := []byte("original")
	if err := s.Set(context.Background(), "k", buf); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	copy(buf, "mutated!")
	if item := mustGet(t, s, "k"); string(item.Data) != "original" {
		t.Fatalf("stored data aliases caller buffer: %s", item.Data)
	}
}

func testClosed(t *testing.T, factory Factory) {
	s := factory(t)
	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := s.Set(context.Background(), "k", []byte("v")); !errors.Is(err, storage.ErrClosed) {
		t.Fatalf("Set after Close: want ErrClosed, got %v", err)
	}
}
