// Package storage defines the small key-value contract used by the
// application's capability providers to persist their records. Keys live in
// namespaces so unrelated providers never collide.
package storage

import (
	"context"
	"errors"
	"time"
)

// Storage defines the primary interface for namespaced data storage.
type Storage interface {
	// Get retrieves data for a specific key within the given namespace.
	// Returns a nil StorageItem if the key doesn't exist or has expired.
	// Returns an error only for legitimate storage system failures.
	Get(ctx context.Context, key string, opts ...Option) (*StorageItem, error)

	// Set stores data for a specific key within the given namespace.
	Set(ctx context.Context, key string, data []byte, opts ...Option) error

	// Delete removes data within the given namespace.
	// If no key is specified via WithKey, removes the entire namespace.
	Delete(ctx context.Context, opts ...Option) error

	// Keys lists the live keys of the namespace in ascending order.
	Keys(ctx context.Context, opts ...Option) ([]string, error)

	// Close closes the storage backend and releases resources.
	Close() error
}

// StorageItem represents a stored piece of data with metadata.
type StorageItem struct {
	Data      []byte     // The stored data
	CreatedAt time.Time  // When the item was created
	ExpiresAt *time.Time // When the item expires (nil = no expiration)
}

// IsExpired checks if the item has expired.
func (si *StorageItem) IsExpired() bool {
	return si.ExpiresAt != nil && time.Now().After(*si.ExpiresAt)
}

// Option configures storage operations.
type Option func(*Options)

// Options contains configuration for storage operations.
type Options struct {
	Namespace Namespace      // Optional: specifies the storage namespace (nil = global)
	Key       *string        // Optional: specific key (for Delete operations)
	TTL       *time.Duration // Optional: time-to-live for the data
}

// Apply folds opts into a fresh Options value.
func Apply(opts ...Option) *Options {
	o := &Options{}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// Namespace represents a storage namespace. If nil, storage operates in the
// global namespace.
type Namespace interface {
	namespace() // private method to ensure only our types implement this
}

// CollectionNamespace groups the records of one kind, e.g. "projects".
type CollectionNamespace struct {
	Name string
}

func (CollectionNamespace) namespace() {}

// WithCollection specifies a collection namespace.
func WithCollection(name string) Option {
	return func(opts *Options) {
		opts.Namespace = CollectionNamespace{Name: name}
	}
}

// WithKey specifies a specific key for Delete operations.
// If not provided, Delete removes the entire namespace.
func WithKey(key string) Option {
	return func(opts *Options) {
		opts.Key = &key
	}
}

// WithTTL sets a time-to-live for the stored data.
func WithTTL(ttl time.Duration) Option {
	return func(opts *Options) {
		opts.TTL = &ttl
	}
}

// NamespacePrefix renders the key prefix shared by every key of ns. Backends
// that flatten namespaces into a single keyspace use it together with
// BuildKey.
func NamespacePrefix(ns Namespace) string {
	switch ns := ns.(type) {
	case CollectionNamespace:
		return "collection:" + ns.Name + ":key:"
	default:
		return "global:key:"
	}
}

// BuildKey renders the flat key for key within ns.
func BuildKey(ns Namespace, key string) string {
	return NamespacePrefix(ns) + key
}

// Error types
var (
	// ErrInvalidOptions is returned when incompatible options are provided.
	ErrInvalidOptions = errors.New("storage: invalid option combination")
	// ErrClosed is returned by operations on a closed backend.
	ErrClosed = errors.New("storage: closed")
)
