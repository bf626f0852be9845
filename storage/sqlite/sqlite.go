// Package sqlite provides a storage.Storage backed by a single SQLite file
// using the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tasklane/mcp-server-go/storage"
)

// Storage implements storage.Storage on an SQLite table keyed by
// (namespace, key).
type Storage struct {
	db     *sql.DB
	closed atomic.Bool
}

// New opens (creating if needed) the database at path. The special path
// ":memory:" gives a private in-memory database.
func New(ctx context.Context, path string) (*Storage, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}

	s := &Storage{db: db}
	if err := s.createSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

func (s *Storage) createSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS kv (
			namespace  TEXT NOT NULL,
			key        TEXT NOT NULL,
			data       BLOB NOT NULL,
			created_at INTEGER NOT NULL,
			expires_at INTEGER,
			PRIMARY KEY (namespace, key)
		);
		CREATE INDEX IF NOT EXISTS idx_kv_expires ON kv(expires_at) WHERE expires_at IS NOT NULL;
	`)
	return err
}

// Get retrieves data for a specific key within the given namespace.
func (s *Storage) Get(ctx context.Context, key string, opts ...storage.Option) (*storage.StorageItem, error) {
	if s.closed.Load() {
		return nil, storage.ErrClosed
	}
	options := storage.Apply(opts...)
	ns := storage.NamespacePrefix(options.Namespace)

	var (
		data      []byte
		createdAt int64
		expiresAt sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT data, created_at, expires_at FROM kv WHERE namespace = ? AND key = ?`,
		ns, key,
	).Scan(&data, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting key %s: %w", key, err)
	}

	item := &storage.StorageItem{Data: data, CreatedAt: time.Unix(0, createdAt)}
	if expiresAt.Valid {
		t := time.Unix(0, expiresAt.Int64)
		item.ExpiresAt = &t
	}
	if item.IsExpired() {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE namespace = ? AND key = ?`, ns, key); err != nil {
			return nil, fmt.Errorf("deleting expired key %s: %w", key, err)
		}
		return nil, nil
	}
	return item, nil
}

// Set stores data for a specific key within the given namespace.
func (s *Storage) Set(ctx context.Context, key string, data []byte, opts ...storage.Option) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	options := storage.Apply(opts...)

	now := time.Now()
	var expiresAt sql.NullInt64
	if options.TTL != nil {
		expiresAt = sql.NullInt64{Int64: now.Add(*options.TTL).UnixNano(), Valid: true}
	}
	if data == nil {
		data = []byte{}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (namespace, key, data, created_at, expires_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (namespace, key) DO UPDATE SET
			data = excluded.data,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`,
		storage.NamespacePrefix(options.Namespace), key, data, now.UnixNano(), expiresAt,
	)
	if err != nil {
		return fmt.Errorf("setting key %s: %w", key, err)
	}
	return nil
}

// Delete removes data within the given namespace.
func (s *Storage) Delete(ctx context.Context, opts ...storage.Option) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	options := storage.Apply(opts...)
	ns := storage.NamespacePrefix(options.Namespace)

	var err error
	if options.Key != nil {
		_, err = s.db.ExecContext(ctx, `DELETE FROM kv WHERE namespace = ? AND key = ?`, ns, *options.Key)
	} else {
		_, err = s.db.ExecContext(ctx, `DELETE FROM kv WHERE namespace = ?`, ns)
	}
	if err != nil {
		return fmt.Errorf("deleting from %s: %w", ns, err)
	}
	return nil
}

// Keys lists the live keys of a namespace in ascending order.
func (s *Storage) Keys(ctx context.Context, opts ...storage.Option) ([]string, error) {
	if s.closed.Load() {
		return nil, storage.ErrClosed
	}
	options := storage.Apply(opts...)

	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM kv WHERE namespace = ? AND (expires_at IS NULL OR expires_at > ?) ORDER BY key`,
		storage.NamespacePrefix(options.Namespace), time.Now().UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("listing keys: %w", err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scanning key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating keys: %w", err)
	}
	return keys, nil
}

// PurgeExpired deletes every expired row and reports how many went.
func (s *Storage) PurgeExpired(ctx context.Context) (int64, error) {
	if s.closed.Load() {
		return 0, storage.ErrClosed
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE expires_at IS NOT NULL AND expires_at <= ?`, time.Now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("purging expired keys: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *Storage) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// Compile-time interface check
var _ storage.Storage = (*Storage)(nil)
