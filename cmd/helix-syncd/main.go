// Command helix-syncd is the offline sync daemon for the Helix desktop
// shell. It queues chat messages while the gateway is unreachable, watches
// gateway health, and replays the queue in order once connectivity returns.
//
// Usage:
//
//	helix-syncd --config helix-sync.json
//
// Without a config file the daemon runs with defaults: file-backed storage
// under ./data, HTTP transport, drain on reconnect plus a one-minute
// scheduled drain.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/helix-desktop/helix-sync/internal/api"
	"github.com/helix-desktop/helix-sync/internal/config"
	"github.com/helix-desktop/helix-sync/internal/gateway"
	"github.com/helix-desktop/helix-sync/internal/queue"
	"github.com/helix-desktop/helix-sync/internal/scheduler"
	"github.com/helix-desktop/helix-sync/internal/storage"
	"github.com/helix-desktop/helix-sync/internal/transport"
)

var (
	version   = "0.1.0"
	buildTime = "dev"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "helix-sync.json", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("helix-syncd %s (built %s)\n", version, buildTime)
		return 0
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		return 1
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.Server.LogLevel),
	}))
	slog.SetDefault(logger)

	store, err := openStore(cfg)
	if err != nil {
		logger.Error("failed to open storage", "error", err)
		return 1
	}
	defer store.Close()

	q := queue.New[json.RawMessage](store, queue.Options{
		StorageKey:         cfg.Queue.StorageKey,
		MaxRetries:         cfg.Queue.MaxRetries,
		BaseDelay:          time.Duration(cfg.Queue.BaseDelayMs) * time.Millisecond,
		MaxDelay:           time.Duration(cfg.Queue.MaxDelayMs) * time.Millisecond,
		DisablePersistence: !cfg.Queue.Persist,
		Logger:             logger,
	})

	tr, err := transport.FromConfig(cfg.Transport, logger)
	if err != nil {
		logger.Error("failed to build transport", "error", err)
		return 1
	}

	var drainFn func(context.Context) queue.Result
	if tr != nil {
		defer tr.Close()
		syncFn := transport.Sync[json.RawMessage](tr)
		drainFn = func(ctx context.Context) queue.Result {
			return q.Process(ctx, syncFn)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	var monitor *gateway.Monitor
	if cfg.Gateway.HealthURL != "" {
		monitor = gateway.New(cfg.Gateway, logger)
		if cfg.Gateway.DrainOnReconnect && drainFn != nil {
			monitor.OnReconnect(func() {
				logger.Info("gateway back online, draining queue")
				go drainFn(gctx)
			})
		}
		if err := monitor.Start(gctx); err != nil {
			logger.Error("failed to start gateway monitor", "error", err)
			return 1
		}
		defer monitor.Stop()
	}

	var sched *scheduler.Scheduler
	if drainFn != nil {
		sched, err = scheduler.New(cfg.Drain, drainFn, logger)
		if err != nil {
			logger.Error("failed to build drain scheduler", "error", err)
			return 1
		}
		if err := sched.Start(gctx); err != nil {
			logger.Error("failed to start drain scheduler", "error", err)
			return 1
		}
		defer sched.Stop()
	}

	server := api.NewServer(cfg.Server.Port, q, api.DrainFunc(drainFn), monitor, sched, logger)
	g.Go(func() error {
		return server.Start(gctx)
	})

	logger.Info("helix-syncd started",
		"version", version,
		"port", cfg.Server.Port,
		"storage", cfg.Storage.Backend,
		"transport", cfg.Transport.Kind,
		"queued", q.Status().QueueLength)

	if err := g.Wait(); err != nil {
		logger.Error("daemon exited with error", "error", err)
		return 1
	}

	logger.Info("helix-syncd stopped")
	return 0
}

// loadConfig reads the config file, falling back to defaults when the file
// does not exist so a bare `helix-syncd` works out of the box.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		cfg = config.DefaultConfig()
		if verr := cfg.Validate(); verr != nil {
			return nil, verr
		}
		if merr := os.MkdirAll(cfg.Server.DataDir, 0750); merr != nil {
			return nil, fmt.Errorf("create data dir: %w", merr)
		}
		return cfg, nil
	}
	return nil, err
}

// openStore builds the configured storage backend, wrapping it with
// at-rest encryption when a key is set.
func openStore(cfg *config.Config) (storage.Store, error) {
	var store storage.Store
	var err error

	switch cfg.Storage.Backend {
	case "memory":
		store = storage.NewMemory()
	case "file":
		store, err = storage.NewFile(filepath.Join(cfg.Server.DataDir, "queue"))
	case "sqlite":
		store, err = storage.NewSQLite(cfg.Storage.Path)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Storage.Backend)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Storage.EncryptionKey != "" {
		return storage.NewEncrypted(store, cfg.Storage.EncryptionKey)
	}
	return store, nil
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
