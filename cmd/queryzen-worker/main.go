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

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/queryzen/queryzen/internal/archive"
	s3store "github.com/queryzen/queryzen/internal/archive/s3"
	"github.com/queryzen/queryzen/internal/config"
	"github.com/queryzen/queryzen/internal/database/builder"
	"github.com/queryzen/queryzen/internal/dispatch"
	"github.com/queryzen/queryzen/internal/observability"
	postgresqueue "github.com/queryzen/queryzen/internal/queue/postgres"
	zenpostgres "github.com/queryzen/queryzen/internal/zen/postgres"
)

func main() {
	cfg, err := config.LoadFromEnv("queryzen-worker")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	db, err := zenpostgres.Open(context.Background(), zenpostgres.DBConfig{
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
	defer func() { _ = db.Close() }()

	registry, err := builder.Load(context.Background(), cfg.Databases.File, cfg.Databases.Default)
	if err != nil {
		logger.Error("failed to open target databases", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = registry.Close() }()

	executor := &dispatch.Executor{
		Zens:      zenpostgres.NewRepository(db),
		Databases: registry,
		Config:    dispatch.ExecutorConfig{MaxDuration: cfg.Execution.MaxDuration},
		Logger:    logger,
	}
	if cfg.Archive.Enabled {
		store, err := s3store.New(context.Background(), s3store.Config{
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
		executor.Archiver = archive.New(store, logger)
	}

	workerID := cfg.Execution.WorkerID
	if workerID == "" {
		workerID = dispatch.DefaultWorkerID()
	}
	worker := &dispatch.Worker{
		Queue:   postgresqueue.New(db, postgresqueue.Config{PollInterval: cfg.Execution.PollInterval}),
		Handler: executor.Execute,
		Config: dispatch.WorkerConfig{
			WorkerID:     workerID,
			Slots:        cfg.Execution.Workers,
			Lease:        cfg.Execution.LeaseDuration(),
			PollInterval: cfg.Execution.PollInterval,
			JobRetention: cfg.Execution.JobRetention,
		},
		Logger: logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","service":"` + cfg.Service.Name + `"}`))
	})
	mux.Handle("GET /v1/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:        cfg.HTTP.Address,
		Handler:     mux,
		ReadTimeout: cfg.HTTP.ReadTimeout,
		IdleTimeout: cfg.HTTP.IdleTimeout,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker metrics server failed", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("execution worker started",
		slog.String("worker_id", workerID),
		slog.Int("slots", cfg.Execution.Workers),
		slog.Any("databases", registry.Names()),
		slog.String("metrics_addr", cfg.HTTP.Address),
	)
	if err := worker.Run(ctx); err != nil {
		logger.Error("execution worker failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("execution worker stopped")
}
