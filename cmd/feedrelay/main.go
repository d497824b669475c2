package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/feedrelay/feedrelay/internal/api"
	"github.com/feedrelay/feedrelay/internal/config"
	"github.com/feedrelay/feedrelay/internal/node"
	"github.com/feedrelay/feedrelay/internal/watch"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %q\n", *logLevel)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Info("feedrelay starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	logger.Info("config loaded",
		"http_port", cfg.Node.HTTPPort,
		"state_dir", cfg.Node.StateDir,
		"auth_mode", cfg.Node.Auth.Mode,
		"feeds", len(cfg.Feeds),
	)

	if err := os.MkdirAll(cfg.Node.StateDir, 0o755); err != nil {
		logger.Error("failed to create state dir", "dir", cfg.Node.StateDir, "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Watch engine and certificate prober are shared across all feeds.
	watcher := watch.New(cfg.Node.Watches, logger)
	certs := watch.NewProber()

	// One node per configured feed: store, hub, engine, poller.
	registry := node.NewRegistry()
	for _, f := range cfg.Feeds {
		n, err := node.New(f, cfg.Node.StateDir, watcher, certs, logger)
		if err != nil {
			logger.Error("skipping feed: could not open state", "feed", f.Name, "err", err)
			continue
		}
		registry.Add(n)
		n.Start()
		logger.Info("feed started",
			"feed", f.Name,
			"url", f.URL,
			"interval", f.Interval(),
		)
	}

	if len(registry.List()) == 0 {
		logger.Warn("no feeds configured, node will idle")
	}

	// Watch config file for hot-reload. Feed changes need a restart;
	// the reload is logged so operators can see the file was picked up.
	go func() {
		err := config.Watch(ctx, *configPath, logger, func(updated *config.Config) {
			logger.Info("config reloaded, restart to apply feed changes",
				"feeds", len(updated.Feeds))
		})
		if err != nil {
			logger.Error("config watcher stopped", "err", err)
		}
	}()

	// Combined HTTP server: REST API, /metrics and per-feed WebSocket
	// endpoints all on HTTPPort.
	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Node.HTTPPort),
		Handler: api.New(registry, watcher, cfg.Node.Auth, logger),
	}
	go func() {
		logger.Info("HTTP server listening", "port", cfg.Node.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	logger.Info("feedrelay shutting down")

	// Stop nodes first so in-flight fetches are cancelled and peers
	// disconnected before the listener closes.
	for _, n := range registry.List() {
		n.Stop()
		if err := n.Close(); err != nil {
			logger.Warn("closing feed state", "feed", n.Name(), "err", err)
		}
	}

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutCancel()
	httpSrv.Shutdown(shutCtx) //nolint:errcheck
}
