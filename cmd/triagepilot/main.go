package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/heikkila-labs/triagepilot/internal/config"
	"github.com/heikkila-labs/triagepilot/internal/gateway"
	"github.com/heikkila-labs/triagepilot/internal/lockfile"
	"github.com/heikkila-labs/triagepilot/internal/pattern"
	"github.com/heikkila-labs/triagepilot/internal/source"
)

func configureLogger(logLevel string, useDev bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(logLevel)) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if useDev {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func buildSources(cfg *config.Config) []namedAdapter {
	names := make([]string, 0, len(cfg.Sources))
	for name := range cfg.Sources {
		names = append(names, name)
	}
	sortStrings(names)

	out := make([]namedAdapter, 0, len(names))
	for _, name := range names {
		src := cfg.Sources[name]
		switch strings.ToLower(src.Type) {
		case "markdown", "":
			out = append(out, namedAdapter{name: name, adapter: source.NewFileAdapter(src.Dir)})
		}
	}
	return out
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

func main() {
	configPath := flag.String("config", "triagepilot.toml", "path to config file")
	once := flag.Bool("once", false, "run a single tick then exit")
	dev := flag.Bool("dev", false, "use text log format (default is JSON)")
	flag.Parse()

	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(bootLogger)
	bootLogger.Info("triagepilot starting", "config", *configPath)

	cfgManager, err := config.LoadManager(*configPath)
	if err != nil {
		bootLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := cfgManager.Get()

	logger := configureLogger(cfg.General.LogLevel, *dev)
	slog.SetDefault(logger)

	lockPath := cfg.General.StateDir + "/triagepilot.lock"
	lockFile, err := lockfile.Acquire(lockPath)
	if err != nil {
		logger.Error("failed to acquire lock", "error", err)
		os.Exit(1)
	}
	defer lockfile.Release(lockFile)

	if err := os.MkdirAll(cfg.General.StateDir, 0o755); err != nil {
		logger.Error("failed to create state dir", "path", cfg.General.StateDir, "error", err)
		os.Exit(1)
	}

	patternStore, err := pattern.Open(cfg.Pattern.DBPath)
	if err != nil {
		logger.Error("failed to open pattern store", "path", cfg.Pattern.DBPath, "error", err)
		os.Exit(1)
	}
	defer patternStore.Close()

	resolver := gateway.NewResolver(cfg)
	if err := resolver.ValidateConfiguration(); err != nil {
		logger.Error("gateway configuration invalid", "error", err)
		os.Exit(1)
	}
	gw, err := resolver.CreateGateway()
	if err != nil {
		logger.Error("failed to create gateway", "error", err)
		os.Exit(1)
	}

	sources := buildSources(cfg)
	if len(sources) == 0 {
		logger.Warn("no task sources configured")
	}

	var cfgMu sync.RWMutex
	driver := NewDriver(cfg, logger, gw, sources, patternStore)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *once {
		logger.Info("running single tick (--once mode)")
		result, err := driver.RunTick(ctx)
		if err != nil {
			logger.Error("tick failed", "error", err)
			os.Exit(1)
		}
		logger.Info("tick complete", "picked", result.Picked, "task_id", result.TaskID, "accepted", result.Accepted)
		return
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.General.TickInterval.Duration)
	defer ticker.Stop()

	logger.Info("triagepilot running", "tick_interval", cfg.General.TickInterval.Duration.String())

	for {
		select {
		case <-ticker.C:
			result, err := driver.RunTick(ctx)
			if err != nil {
				logger.Error("tick failed", "error", err)
				continue
			}
			if result.Picked {
				logger.Info("tick complete", "task_id", result.TaskID, "accepted", result.Accepted)
			}
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				cfgMu.Lock()
				if err := cfgManager.Reload(*configPath); err != nil {
					logger.Error(fmt.Sprintf("config reload failed: %v", err))
				} else {
					cfg = cfgManager.Get()
					logger = configureLogger(cfg.General.LogLevel, *dev)
					slog.SetDefault(logger)
					driver = NewDriver(cfg, logger, gw, buildSources(cfg), patternStore)
					logger.Info("config reloaded")
				}
				cfgMu.Unlock()
			default:
				logger.Info("received signal, shutting down", "signal", sig)
				cancel()
				return
			}
		}
	}
}
