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

	"github.com/queryzen/queryzen/internal/api"
	"github.com/queryzen/queryzen/internal/archive"
	s3store "github.com/queryzen/queryzen/internal/archive/s3"
	"github.com/queryzen/queryzen/internal/config"
	"github.com/queryzen/queryzen/internal/database/builder"
	"github.com/queryzen/queryzen/internal/dispatch"
	"github.com/queryzen/queryzen/internal/observability"
	"github.com/queryzen/queryzen/internal/queue"
	memoryqueue "github.com/queryzen/queryzen/internal/queue/memory"
	postgresqueue "github.com/queryzen/queryzen/internal/queue/postgres"
	zenpostgres "github.com/queryzen/queryzen/internal/zen/postgres"
)

func main() {
	cfg, err := config.LoadFromEnv("queryzen-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	storeDB, err := zenpostgres.Open(context.Background(), zenpostgres.DBConfig{
		DSN:             cfg.Store.DSN,
		ApplicationName: cfg.Service.Name,
		MaxOpenConns:    cfg.Store.MaxOpenConns,
		MaxIdleConns:    cfg.Store.MaxIdleConns,
		ConnMaxIdleTime: cfg.Store.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to open store db", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = storeDB.Close() }()
	zenRepo := zenpostgres.NewRepository(storeDB)

	registry, err := builder.Load(context.Background(), cfg.Databases.File, cfg.Databases.Default)
	if err != nil {
		logger.Error("failed to open target databases", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = registry.Close() }()
	logger.Info("target databases ready", slog.Any("databases", registry.Names()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	executor := &dispatch.Executor{
		Zens:      zenRepo,
		Databases: registry,
		Config:    dispatch.ExecutorConfig{MaxDuration: cfg.Execution.MaxDuration},
		Logger:    logger,
	}
	deps := api.Dependencies{
		Logger: logger,
		Readiness: api.CombineReadinessChecks(
			api.CheckStore(zenRepo.HealthCheck),
			api.CheckArchiveConfig(cfg),
		),
		DependencyTimeout: time.Second,
		Zens:              zenRepo,
		Databases:         registry,
		MaxRunTimeout:     cfg.Execution.MaxDuration,
	}

	if cfg.Archive.Enabled {
		objectStore, err := s3store.New(ctx, s3store.Config{
			Endpoint:         cfg.Archive.Endpoint,
			Region:           cfg.Archive.Region,
			Bucket:           cfg.Archive.Bucket,
			AccessKeyID:      cfg.Archive.AccessKeyID,
			SecretAccessKey:  cfg.Archive.SecretAccessKey,
			UseSSL:           cfg.Archive.UseSSL,
			Prefix:           cfg.Archive.Prefix,
			AutoCreateBucket: cfg.Archive.AutoCreateBucket,
		})
		if err != nil {
			logger.Error("failed to initialize result archive", slog.Any("error", err))
			os.Exit(1)
		}
		archiver := archive.New(objectStore, logger)
		executor.Archiver = archiver
		deps.Results = archiver
	}

	var broker queue.Broker
	switch cfg.Execution.Broker {
	case config.BrokerPostgres:
		broker = postgresqueue.New(storeDB, postgresqueue.Config{PollInterval: cfg.Execution.PollInterval})
		logger.Info("using postgres job queue; run queryzen-worker to execute jobs")
	default:
		memoryBroker := memoryqueue.New(memoryqueue.Config{
			Workers:   cfg.Execution.Workers,
			QueueSize: cfg.Execution.QueueSize,
		}, executor.Execute, logger)
		go func() {
			if err := memoryBroker.Run(ctx); err != nil {
				logger.Error("execution broker failed", slog.Any("error", err))
				stop()
			}
		}()
		broker = memoryBroker
	}

	deps.Runner = &dispatch.Dispatcher{
		Zens:      zenRepo,
		Databases: registry,
		Broker:    broker,
		Config:    dispatch.DispatcherConfig{DefaultTimeout: cfg.Execution.DefaultTimeout},
		Logger:    logger,
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address), slog.String("broker", cfg.Execution.Broker))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
