package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"diagnosai/backend/internal/grpc"
	"diagnosai/backend/internal/repository"
	"diagnosai/backend/pkg/config"
	"diagnosai/backend/pkg/di"
	"diagnosai/backend/pkg/logger"
	"diagnosai/backend/pkg/router"
	"diagnosai/backend/pkg/secrets"
	"diagnosai/backend/shared/observability"
)

func main() {
	cfg := config.New()

	log := logger.New(logger.Config{
		Level: cfg.Logging.Level,
		JSON:  cfg.Logging.Format != "text",
	})
	logger.SetGlobal(log)

	if err := run(cfg, log); err != nil {
		log.LogError(err, "Server stopped with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("Starting application", "env", cfg.Server.Env, "port", cfg.Server.Port)

	vault, err := secrets.NewVaultManager(secrets.VaultConfigFromEnv(), log)
	if err != nil {
		return err
	}
	go vault.Run(ctx)
	if err := secrets.Apply(ctx, vault, cfg, log); err != nil {
		return err
	}

	if cfg.Observability.TracingEnabled {
		shutdown, err := observability.SetupTracing(cfg.Observability.ServiceName)
		if err != nil {
			return err
		}
		defer shutdown(context.Background())
	}

	var metrics http.Handler
	if cfg.Observability.MetricsEnabled {
		handler, shutdown, err := observability.SetupMetrics(cfg.Observability.ServiceName)
		if err != nil {
			return err
		}
		defer shutdown(context.Background())
		metrics = handler
	}

	db, err := config.NewDB(cfg)
	if err != nil {
		return err
	}
	if err := repository.Migrate(db); err != nil {
		return err
	}

	container, err := di.New(ctx, cfg, db, log)
	if err != nil {
		return err
	}
	defer container.Close()

	container.Checker.Start(ctx)

	r := router.New(container)
	r.SetupRoutes(metrics)
	go r.RateLimiter.Run(ctx)

	if cfg.Server.GRPCPort != "" {
		grpcServer := grpc.NewServer(container.Checker, log)
		go func() {
			if err := grpcServer.ListenAndServe(ctx, cfg.Server.GRPCPort, 10*time.Second); err != nil {
				log.LogError(err, "gRPC health server failed")
			}
		}()
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.Timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.LogError(err, "Server forced to shutdown")
	}

	log.Info("Server exited gracefully")
	return nil
}
