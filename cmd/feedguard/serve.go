package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/StrathCole/feedguard/pkg/config"
	"github.com/StrathCole/feedguard/pkg/feedset"
	"github.com/StrathCole/feedguard/pkg/journal"
	"github.com/StrathCole/feedguard/pkg/logging"
	"github.com/StrathCole/feedguard/pkg/metrics"
	"github.com/StrathCole/feedguard/pkg/server/api"
	"github.com/StrathCole/feedguard/pkg/version"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the price API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configFile)
			if err != nil {
				return err
			}

			logger, err := logging.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			logging.SetGlobal(logger)

			logger.Info("Starting feedguard", "version", version.Version, "feeds", len(cfg.Feeds))

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runServer(ctx, cfg, logger)
		},
	}
}

// runServer serves the API until ctx is cancelled or the HTTP server fails.
func runServer(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	if cfg.Metrics.Enabled {
		metrics.Init()
		metricsServer := metrics.NewServer(cfg.Metrics.Addr, cfg.Metrics.Path)
		go func() {
			logger.Info("Starting metrics server", "addr", cfg.Metrics.Addr, "path", cfg.Metrics.Path)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed", "error", err.Error())
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	set, err := feedset.Build(ctx, cfg.Feeds, logger)
	if err != nil {
		return fmt.Errorf("failed to build feeds: %w", err)
	}
	defer func() {
		if err := set.Close(); err != nil {
			logger.Warn("Failed to close feeds", "error", err.Error())
		}
	}()
	for _, info := range set.List() {
		logger.Info("Feed ready", "feed", info.Name, "primary", info.Primary, "fallback", info.Fallback,
			"heartbeat", info.Params.HeartbeatSeconds, "max_deviation_bps", info.Params.MaxDeviationBps)
	}

	server := api.NewServer(cfg.Server.HTTP.Addr, set, logger)
	server.SetTLS(cfg.Server.HTTP.TLS)

	if token := cfg.Server.Admin.AdminToken(); token != "" {
		server.SetAdminToken(token)
	} else {
		logger.Info("Admin endpoints disabled, no token configured")
	}

	if cfg.Journal.Enabled {
		j, err := journal.NewSQLite(cfg.Journal.Path)
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		defer func() {
			if err := j.Close(); err != nil {
				logger.Warn("Failed to close journal", "error", err.Error())
			}
		}()
		set.Subscribe(j)
		server.SetChangeLog(j)
		logger.Info("Change journal enabled", "path", cfg.Journal.Path)
	}

	if cfg.Server.RateLimit.Enabled {
		rl := api.NewRateLimiter(cfg.Server.RateLimit.RPS, cfg.Server.RateLimit.Burst, logger)
		rl.StartCleanup(time.Minute, ctx.Done())
		server.SetRateLimiter(rl)
	}

	var wsServer *api.WebSocketServer
	if cfg.Server.WebSocket.Enabled {
		wsServer = api.NewWebSocketServer(logger)
		go wsServer.Run(ctx)
		set.Subscribe(wsServer)
		server.SetWebSocketServer(wsServer, cfg.Server.WebSocket.Path)
	}

	if cfg.Watch.Enabled {
		watcher := feedset.NewWatcher(set, cfg.Watch.Interval.ToDuration(), logger)
		if wsServer != nil {
			watcher.AddListener(wsServer)
		}
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("failed to start watcher: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := watcher.Stop(shutdownCtx); err != nil {
				logger.Warn("Watcher did not stop in time", "error", err.Error())
			}
		}()
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-errChan:
		if err != nil {
			logger.Error("HTTP server failed", "error", err.Error())
		}
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	logger.Info("Shutting down gracefully...")
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown incomplete", "error", err.Error())
	}
	logger.Info("Shutdown complete")
	return nil
}
