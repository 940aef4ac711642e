package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cabm-chat/backend/pkg/config"
	"cabm-chat/backend/pkg/di"
	"cabm-chat/backend/pkg/health"
	"cabm-chat/backend/pkg/logger"
	"cabm-chat/backend/pkg/router"
	"cabm-chat/backend/pkg/secrets"
	"cabm-chat/backend/shared/observability"
)

func main() {
	cfg := config.New()

	logConfig := logger.DefaultConfig()
	logConfig.Level = cfg.Logging.Level
	logConfig.JSON = cfg.Logging.Format != "text"
	log := logger.New(logConfig)
	logger.SetGlobal(log)

	log.Info("starting cabm-chat server", "env", cfg.Server.Env)

	shutdownTracing := observability.SetupTracing("cabm-chat")
	defer shutdownTracing()
	_, registry := observability.SetupPrometheusMetrics(":9090")

	db, err := config.NewDB()
	if err != nil {
		log.LogError(err, "failed to initialize database")
		os.Exit(1)
	}

	secretManager, err := secrets.NewManager(log)
	if err != nil {
		log.LogError(err, "failed to initialize secrets manager")
		os.Exit(1)
	}

	container, err := di.New(cfg, db, log, secretManager, registry)
	if err != nil {
		log.LogError(err, "failed to initialize dependency container")
		os.Exit(1)
	}
	defer container.Close()

	checker := health.NewChecker(log, 15*time.Second)
	checker.RegisterDatabaseCheck(func() error { return config.TestConnection(db) })
	if container.Cache.Enabled() {
		checker.RegisterCacheCheck(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return container.Cache.Ping(ctx)
		})
	}
	checker.Start()

	r := router.New(container, checker)
	if err := r.SetupRoutes(os.Getenv("OPENAPI_SCHEMA_PATH")); err != nil {
		log.LogError(err, "failed to set up routes")
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r.Engine,
	}

	go func() {
		log.Info("server listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogError(err, "server failed to start")
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.LogError(err, "server forced to shutdown")
	}
	log.Info("server exited gracefully")
}
