// Package config loads the server configuration. Values come from Go
// defaults, then an optional YAML file with ${VAR} expansion, then
// environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Config is the complete server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Storage   StorageConfig   `yaml:"storage"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig describes the protocol server itself.
type ServerConfig struct {
	Name         string `yaml:"name" env:"MCP_SERVER_NAME"`
	Version      string `yaml:"version" env:"MCP_SERVER_VERSION"`
	Instructions string `yaml:"instructions" env:"MCP_SERVER_INSTRUCTIONS"`
	// MaxSessions of 0 selects the session manager default.
	MaxSessions int `yaml:"max_sessions" env:"MCP_MAX_SESSIONS"`
	// PageSize of 0 disables pagination of list results.
	PageSize    int  `yaml:"page_size" env:"MCP_PAGE_SIZE"`
	ListChanged bool `yaml:"list_changed" env:"MCP_LIST_CHANGED"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"MCP_LOG_LEVEL"`
	Format string `yaml:"format" env:"MCP_LOG_FORMAT"`
}

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	Backend string       `yaml:"backend" env:"MCP_STORAGE_BACKEND"`
	Memory  MemoryConfig `yaml:"memory"`
	Redis   RedisConfig  `yaml:"redis"`
	SQLite  SQLiteConfig `yaml:"sqlite"`
}

type MemoryConfig struct {
	MaxItems        int           `yaml:"max_items" env:"MCP_MEMORY_MAX_ITEMS"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" env:"MCP_MEMORY_CLEANUP_INTERVAL"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr" env:"REDIS_ADDR"`
	Password  string `yaml:"password" env:"REDIS_PASSWORD"`
	DB        int    `yaml:"db" env:"REDIS_DB"`
	KeyPrefix string `yaml:"key_prefix" env:"MCP_STORAGE_KEY_PREFIX"`
}

type SQLiteConfig struct {
	Path string `yaml:"path" env:"MCP_SQLITE_PATH"`
}

// WorkspaceConfig exposes a directory as file resources when Dir is set.
type WorkspaceConfig struct {
	Dir         string        `yaml:"dir" env:"MCP_WORKSPACE_DIR"`
	Watch       bool          `yaml:"watch" env:"MCP_WORKSPACE_WATCH"`
	MaxFileSize int64         `yaml:"max_file_size" env:"MCP_WORKSPACE_MAX_FILE_SIZE"`
	Debounce    time.Duration `yaml:"debounce" env:"MCP_WORKSPACE_DEBOUNCE"`
}

type TelemetryConfig struct {
	Enabled bool `yaml:"enabled" env:"MCP_TELEMETRY_ENABLED"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Name:        "tasklane-mcp",
			Version:     "0.1.0",
			MaxSessions: 64,
			ListChanged: true,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Storage: StorageConfig{
			Backend: BackendMemory,
			Memory:  MemoryConfig{MaxItems: 10_000, CleanupInterval: time.Minute},
			Redis:   RedisConfig{Addr: "localhost:6379", KeyPrefix: "mcp:storage:"},
			SQLite:  SQLiteConfig{Path: "data/mcp.db"},
		},
		Workspace: WorkspaceConfig{Watch: true, MaxFileSize: 1 << 20, Debounce: 100 * time.Millisecond},
	}
}

// Load builds a Config. path may be empty, in which case only defaults and
// the environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with the variable's value, or nothing when
// it is unset.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Name) == "" {
		return errors.New("server.name is required")
	}
	if c.Server.MaxSessions < 0 {
		return fmt.Errorf("server.max_sessions must not be negative, got %d", c.Server.MaxSessions)
	}
	if c.Server.PageSize < 0 {
		return fmt.Errorf("server.page_size must not be negative, got %d", c.Server.PageSize)
	}
	if _, err := c.Logging.SlogLevel(); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}

	switch c.Storage.Backend {
	case BackendMemory:
		if c.Storage.Memory.MaxItems <= 0 {
			return errors.New("storage.memory.max_items must be positive")
		}
	case BackendRedis:
		if c.Storage.Redis.Addr == "" {
			return errors.New("storage.redis.addr is required for the redis backend")
		}
	case BackendSQLite:
		if c.Storage.SQLite.Path == "" {
			return errors.New("storage.sqlite.path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}

	if c.Workspace.Dir != "" && c.Workspace.MaxFileSize <= 0 {
		return errors.New("workspace.max_file_size must be positive")
	}
	return nil
}

// SlogLevel parses Level.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("logging.level %q: %w", l.Level, err)
	}
	return lvl, nil
}
