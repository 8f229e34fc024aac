package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/fisler/internal/config"
	"github.com/JonMunkholm/fisler/internal/core"
	"github.com/JonMunkholm/fisler/internal/database"
	"github.com/JonMunkholm/fisler/internal/ingest"
	"github.com/JonMunkholm/fisler/internal/logging"
	"github.com/JonMunkholm/fisler/internal/web"
	"github.com/JonMunkholm/fisler/internal/workflow"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_driver", cfg.Database.Driver,
		"upload_max_concurrent", cfg.Upload.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
		"stats_cache_ttl", cfg.Stats.CacheTTL,
	)

	ctx := context.Background()
	store, err := database.Open(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	service := core.NewService(store, core.WithStatsTTL(cfg.Stats.CacheTTL))

	poller := ingest.NewPoller(service, ingest.Options{
		Countdown:      cfg.Ingest.Countdown,
		RefetchOffsets: cfg.Ingest.RefetchOffsets,
	})
	defer poller.Close()

	wf := workflow.New(cfg.Workflow.WebhookURL, cfg.Workflow.Timeout)
	if wf.Enabled() {
		slog.Info("extraction workflow configured", "workflow", wf)
	} else {
		slog.Warn("no extraction workflow configured, uploads are only acknowledged")
	}

	server := web.NewServer(cfg, service, poller, wf)

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	<-done
	slog.Info("server stopped")
}
