package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, BackendMemory, cfg.Storage.Backend)
	require.Equal(t, "json", cfg.Logging.Format)

	lvl, err := cfg.Logging.SlogLevel()
	require.NoError(t, err)
	require.Equal(t, slog.LevelInfo, lvl)
}

func TestLoadYAML(t *testing.T) {
	t.Setenv("TEST_SQLITE_DIR", "/var/lib/mcp")
	path := writeConfig(t, `
server:
  name: board
  page_size: 25
logging:
  level: debug
  format: text
storage:
  backend: sqlite
  sqlite:
    path: ${TEST_SQLITE_DIR}/board.db
workspace:
  dir: /srv/docs
  debounce: 250ms
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "board", cfg.Server.Name)
	require.Equal(t, 25, cfg.Server.PageSize)
	require.Equal(t, 64, cfg.Server.MaxSessions, "unset keys keep their default")
	require.Equal(t, BackendSQLite, cfg.Storage.Backend)
	require.Equal(t, "/var/lib/mcp/board.db", cfg.Storage.SQLite.Path)
	require.Equal(t, "/srv/docs", cfg.Workspace.Dir)
	require.Equal(t, 250*time.Millisecond, cfg.Workspace.Debounce)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, "storage:\n  backend: sqlite\n")
	t.Setenv("MCP_STORAGE_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "cache:6380")
	t.Setenv("MCP_MAX_SESSIONS", "3")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, BackendRedis, cfg.Storage.Backend)
	require.Equal(t, "cache:6380", cfg.Storage.Redis.Addr)
	require.Equal(t, 3, cfg.Server.MaxSessions)
}

func TestUnsetVariableExpandsEmpty(t *testing.T) {
	require.Equal(t, "a--b", expandEnvVars("a-${MCP_SURELY_UNSET_VARIABLE}-b"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Storage.Backend = "etcd" }},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }},
		{"empty name", func(c *Config) { c.Server.Name = " " }},
		{"negative sessions", func(c *Config) { c.Server.MaxSessions = -1 }},
		{"negative page size", func(c *Config) { c.Server.PageSize = -5 }},
		{"memory without capacity", func(c *Config) { c.Storage.Memory.MaxItems = 0 }},
		{"redis without addr", func(c *Config) {
			c.Storage.Backend = BackendRedis
			c.Storage.Redis.Addr = ""
		}},
		{"sqlite without path", func(c *Config) {
			c.Storage.Backend = BackendSQLite
			c.Storage.SQLite.Path = ""
		}},
		{"workspace without size", func(c *Config) {
			c.Workspace.Dir = "/tmp"
			c.Workspace.MaxFileSize = 0
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
