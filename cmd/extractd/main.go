package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mbdelacruz/invoice-extract/internal/archive"
	"github.com/mbdelacruz/invoice-extract/internal/async"
	"github.com/mbdelacruz/invoice-extract/internal/common"
	"github.com/mbdelacruz/invoice-extract/internal/extract"
	"github.com/mbdelacruz/invoice-extract/internal/gateway"
	"github.com/mbdelacruz/invoice-extract/internal/imageprep"
	"github.com/mbdelacruz/invoice-extract/internal/normalize"
	"github.com/mbdelacruz/invoice-extract/internal/registry"
	"github.com/mbdelacruz/invoice-extract/internal/resolve"
	"github.com/mbdelacruz/invoice-extract/internal/server"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := registry.Open(ctx, cfg.Registry, logger)
	if err != nil {
		logger.Error("failed to open registry", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := registry.Migrate(db, cfg.Registry.Driver, logger); err != nil {
		logger.Error("failed to migrate registry", "error", err)
		os.Exit(1)
	}
	if err := registry.HealthCheck(ctx, db, 3*time.Second); err != nil {
		logger.Error("registry health check failed", "error", err)
		os.Exit(1)
	}

	backend, err := gateway.New(cfg.Backend, logger)
	if err != nil {
		logger.Error("failed to build model backend", "error", err)
		os.Exit(1)
	}

	merchants := registry.NewMerchantRepository(db, logger)
	stores := registry.NewStoreRepository(db, logger)
	agents := registry.NewAgentRepository(db, logger)

	resolver := resolve.New(logger, merchants, stores, agents)
	normalizer := normalize.New(logger, nil)
	orch := extract.New(logger, backend, normalizer, resolver, cfg.Backend.StructuredTimeout, cfg.Backend.FollowupTimeout)

	archiver, err := archive.New(cfg.Archive, logger)
	if err != nil {
		logger.Error("failed to build archiver", "error", err)
		os.Exit(1)
	}
	if archiver != nil {
		if err := archiver.EnsureBucket(ctx); err != nil {
			logger.Warn("archive bucket unavailable, archival disabled", "error", err)
			archiver = nil
		}
	}

	queue := async.NewQueue(logger, 8)

	srv := server.New(logger, orch, queue, imageprep.New(logger), archiver, db, merchants, stores, agents, cfg.Server.MaxUploadMB)

	httpSrv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server.listening", "addr", cfg.Server.HTTPAddr, "backend", backend.Name())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("server.shutting_down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
	queue.Shutdown(shutdownCtx)
	logger.Info("server.stopped")
}
