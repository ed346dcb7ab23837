// Package main provides the entry point for the bridge server.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/deckbridge/deckbridge/internal/api"
	"github.com/deckbridge/deckbridge/internal/bridge"
	"github.com/deckbridge/deckbridge/internal/console"
	"github.com/deckbridge/deckbridge/internal/datacache"
	"github.com/deckbridge/deckbridge/internal/devtool"
	"github.com/deckbridge/deckbridge/internal/ports"
	"github.com/deckbridge/deckbridge/internal/shutdown"
	"github.com/deckbridge/deckbridge/pkg/config"
	"github.com/deckbridge/deckbridge/pkg/logger"
)

func main() {
	log := logger.New(slog.LevelInfo, true)

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Claim a port and advertise this instance before anything else, so
	// sibling instances and clients can find it.
	coordinator := ports.NewCoordinator(cfg.Host, ports.WithCoordinatorLogger(log.Logger))
	if removed, err := coordinator.CleanupStale(); err != nil {
		log.Warn("stale advertisement cleanup failed", "error", err)
	} else if removed > 0 {
		log.Info("removed stale advertisements", "count", removed)
	}

	listener, port, err := coordinator.ClaimPort(cfg.PreferredPort)
	if err != nil {
		log.Error("failed to claim a port", "preferred", cfg.PreferredPort, "error", err)
		os.Exit(1)
	}
	if err := coordinator.Advertise(port); err != nil {
		log.Error("failed to advertise instance", "port", port, "error", err)
		os.Exit(1)
	}

	// Console monitor and live-stream broker.
	broker := console.NewBroker(log.Logger)
	monitor := console.NewMonitor(console.Config{
		Capacity: cfg.Monitor.Capacity,
		Truncate: console.TruncateOptions{
			MaxStringLen: cfg.Monitor.MaxStringLen,
			MaxArrayLen:  cfg.Monitor.MaxArrayLen,
			MaxDepth:     cfg.Monitor.MaxDepth,
			MaxKeys:      cfg.Monitor.MaxKeys,
		},
	}, broker, log.Logger)

	// Attach to the host process when a debugger endpoint is configured.
	// Without one the server still runs; execution endpoints report the
	// missing precondition instead.
	var session *devtool.CDPClient
	if cfg.DevtoolURL != "" {
		dialCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		session, err = devtool.Dial(dialCtx, cfg.DevtoolURL, log.Logger)
		cancel()
		if err != nil {
			log.Error("failed to attach to debugger endpoint", "url", cfg.DevtoolURL, "error", err)
			os.Exit(1)
		}
		if err := monitor.Attach(context.Background(), session); err != nil {
			log.Error("failed to start console monitor", "error", err)
			os.Exit(1)
		}
	} else {
		log.Warn("BRIDGE_DEVTOOL_URL not set, starting without a debug attachment")
	}

	// Execution bridge, cache, and shaper.
	runner := bridge.New(bridge.Config{
		WorkerMarker:    cfg.Bridge.WorkerMarker,
		FrameEntryPoint: cfg.Bridge.FrameEntryPoint,
		CallTimeout:     cfg.Bridge.CallTimeout,
		MaxAttempts:     cfg.Bridge.MaxAttempts,
		RetryDelay:      cfg.Bridge.RetryDelay,
	}, bridge.WithLogger(log.Logger))

	store := datacache.NewStore(
		datacache.WithTTL(cfg.Cache.TTL),
		datacache.WithCapacity(cfg.Cache.Capacity),
		datacache.WithStoreLogger(log.Logger),
	)
	shaper := datacache.NewShaper(cfg.Cache.TokenBudget)
	fetcher := bridge.NewDatasetFetcher(runner, monitor, cfg.Bridge.WorkerMarker, log.Logger)

	server := api.NewServer(cfg, api.Deps{
		Monitor:     monitor,
		Runner:      runner,
		Store:       store,
		Shaper:      shaper,
		Fetcher:     fetcher,
		Coordinator: coordinator,
		Port:        port,
	}, listener, log.Logger)

	// Graceful shutdown: the advertisement is registered last so it is
	// removed first, before the server or session wind down.
	coord := shutdown.NewCoordinator(
		shutdown.WithTimeout(cfg.ShutdownTimeout),
		shutdown.WithLogger(log.Logger),
	)
	if session != nil {
		coord.Register(shutdown.ComponentFunc("devtool-session", func(ctx context.Context) error {
			monitor.Stop()
			return session.Close()
		}))
	}
	coord.Register(server)
	coord.Register(coordinator)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		coord.WaitForSignal()
		cancel()
	}()

	log.Info("starting bridge server", "host", cfg.Host, "port", port)

	if err := server.Start(ctx); err != nil {
		log.Error("server error", "error", err)
		coord.Shutdown()
		os.Exit(1)
	}

	coord.Wait()
	log.Info("server stopped")
	os.Exit(coord.ExitCode())
}
