// Command mcp-server serves the project board over MCP on stdin/stdout.
//
// Logs go to stderr; stdout carries only protocol frames.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/tasklane/mcp-server-go/internal/config"
	"github.com/tasklane/mcp-server-go/internal/logctx"
	"github.com/tasklane/mcp-server-go/internal/telemetry"
	"github.com/tasklane/mcp-server-go/mcp"
	"github.com/tasklane/mcp-server-go/mcpserver"
	"github.com/tasklane/mcp-server-go/providers/fsresources"
	"github.com/tasklane/mcp-server-go/providers/projects"
	"github.com/tasklane/mcp-server-go/stdio"
	"github.com/tasklane/mcp-server-go/storage"
	"github.com/tasklane/mcp-server-go/storage/memory"
	"github.com/tasklane/mcp-server-go/storage/redis"
	"github.com/tasklane/mcp-server-go/storage/sqlite"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", os.Getenv("MCP_CONFIG"), "path to a YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "mcp-server: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := newLogger(os.Stderr, cfg.Logging)
	if err != nil {
		return err
	}
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	inst := telemetry.Noop()
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.Init(ctx, cfg.Server.Name, cfg.Server.Version)
		if err != nil {
			return err
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := shutdown(flushCtx); err != nil {
				log.Error("telemetry.shutdown.fail", slog.String("err", err.Error()))
			}
		}()
		if inst, err = telemetry.New(); err != nil {
			return err
		}
	}

	backend, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer backend.Close()

	srv := mcpserver.New(
		mcpserver.WithServerInfo(mcp.ImplementationInfo{Name: cfg.Server.Name, Version: cfg.Server.Version}),
		mcpserver.WithInstructions(cfg.Server.Instructions),
		mcpserver.WithMaxSessions(cfg.Server.MaxSessions),
		mcpserver.WithPageSize(cfg.Server.PageSize),
		mcpserver.WithListChanged(cfg.Server.ListChanged),
		mcpserver.WithLogger(log),
		mcpserver.WithInstruments(inst),
	)

	board := projects.New(backend, projects.WithLogger(log))
	defer board.Close()
	if err := errors.Join(
		srv.RegisterResourceProvider(board),
		srv.RegisterToolProvider(board.Tools()),
		srv.RegisterPromptProvider(board.Prompts()),
	); err != nil {
		return err
	}

	if cfg.Workspace.Dir != "" {
		files, err := fsresources.New(ctx, cfg.Workspace.Dir,
			fsresources.WithMaxFileSize(cfg.Workspace.MaxFileSize),
			fsresources.WithDebounce(cfg.Workspace.Debounce),
			fsresources.WithLogger(log),
		)
		if err != nil {
			return err
		}
		defer files.Close()
		if cfg.Workspace.Watch {
			if err := files.Watch(ctx); err != nil {
				return err
			}
		}
		if err := srv.RegisterResourceProvider(files); err != nil {
			return err
		}
	}

	if err := srv.Initialize(ctx); err != nil {
		return err
	}
	if err := srv.Start(ctx); err != nil {
		return err
	}
	log.InfoContext(ctx, "server.start.ok",
		slog.String("name", cfg.Server.Name),
		slog.String("storage", cfg.Storage.Backend),
		slog.String("workspace", cfg.Workspace.Dir),
	)

	serveErr := stdio.NewHandler(srv, stdio.WithLogger(log)).Serve(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server.shutdown.fail", slog.String("err", err.Error()))
	}
	return serveErr
}

func newLogger(w io.Writer, cfg config.LoggingConfig) (*slog.Logger, error) {
	lvl, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	level := new(slog.LevelVar)
	level.Set(lvl)

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if cfg.Format == "text" {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(logctx.New(h)), nil
}

func openStorage(ctx context.Context, cfg config.StorageConfig) (storage.Storage, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		if cfg.Memory.CleanupInterval > 0 {
			return memory.NewWithCleanup(cfg.Memory.MaxItems, cfg.Memory.CleanupInterval)
		}
		return memory.New(cfg.Memory.MaxItems)
	case config.BackendRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return redis.New(redis.Config{Client: client, KeyPrefix: cfg.Redis.KeyPrefix})
	case config.BackendSQLite:
		return sqlite.New(ctx, cfg.SQLite.Path)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
