package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"private-chat/backend/internal/grpcserver"
	"private-chat/backend/pkg/config"
	"private-chat/backend/pkg/di"
	"private-chat/backend/pkg/logger"
	"private-chat/backend/pkg/router"
	"private-chat/backend/shared/observability"
)

func main() {
	cfg := config.New()

	logConfig := logger.DefaultConfig()
	logConfig.Level = cfg.Logging.Level
	logConfig.JSON = cfg.Logging.Format != "text"

	log := logger.New(logConfig)
	logger.SetGlobal(log)

	if err := cfg.Validate(); err != nil {
		log.LogError(err, "Invalid configuration")
		os.Exit(1)
	}

	log.Info("Starting application",
		"version", os.Getenv("APP_VERSION"),
		"env", cfg.Server.Env,
		"store", cfg.Store.Backend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observability.Setup(observability.Config{
		ServiceName:    "private-chat-backend",
		TracingEnabled: cfg.Observability.TracingEnabled,
	})
	if err != nil {
		log.LogError(err, "Failed to initialize telemetry")
		os.Exit(1)
	}

	container, err := di.New(ctx, cfg, log)
	if err != nil {
		log.LogError(err, "Failed to initialize dependency container")
		os.Exit(1)
	}
	container.Start(ctx)

	r := router.New(container)
	r.SetupRoutes()

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r.Engine,
		ReadHeaderTimeout: cfg.Server.Timeout,
	}

	go func() {
		log.Info("Server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.LogError(err, "Server failed to start")
			stop()
		}
	}()

	grpcSrv := grpcserver.New(container.Health, log)
	lis, err := net.Listen("tcp", ":"+cfg.Server.GRPCPort)
	if err != nil {
		log.LogError(err, "Failed to listen for gRPC", "port", cfg.Server.GRPCPort)
		os.Exit(1)
	}
	go grpcSrv.Watch(ctx, 10*time.Second)
	go func() {
		if err := grpcSrv.Serve(lis); err != nil {
			log.LogError(err, "gRPC server stopped")
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.LogError(err, "Server forced to shutdown")
	}
	grpcSrv.Stop()
	if err := container.Close(); err != nil {
		log.LogError(err, "Failed to release resources")
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		log.LogError(err, "Failed to flush telemetry")
	}

	log.Info("Server exited gracefully")
}
