package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/queryzen/queryzen/internal/config"
	"github.com/queryzen/queryzen/internal/dispatch"
	"github.com/queryzen/queryzen/internal/observability"
	"github.com/queryzen/queryzen/internal/zen"
)

type ReadinessCheck func(ctx context.Context) error

// ZenStore is the part of zen.Repository the HTTP surface reads and writes.
type ZenStore interface {
	CreateZen(ctx context.Context, in zen.CreateZenInput) (zen.Zen, error)
	GetZen(ctx context.Context, collection, name string, version zen.Version) (zen.Zen, error)
	FilterZens(ctx context.Context, filter zen.Filter) ([]zen.Zen, error)
	DeleteZen(ctx context.Context, collection, name string, version zen.Version) (zen.DeletedZen, error)
	ListExecutions(ctx context.Context, zenID string, limit int) ([]zen.Execution, error)
	ExecutionTimes(ctx context.Context, zenID string) ([]int64, error)
	ListCollections(ctx context.Context) ([]zen.CollectionSummary, error)
}

type Runner interface {
	Run(ctx context.Context, req dispatch.RunRequest) (zen.Execution, error)
}

type ResultRemover interface {
	Remove(ctx context.Context, paths []string) error
}

type DatabaseNames interface {
	Names() []string
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	DependencyTimeout time.Duration
	Zens              ZenStore
	Runner            Runner
	Results           ResultRemover
	Databases         DatabaseNames
	MaxRunTimeout     time.Duration
}

const zenRoute = "/v1/collection/{collection}/zen/{name}/version/{version}"

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	if deps.MaxRunTimeout <= 0 {
		deps.MaxRunTimeout = cfg.Execution.MaxDuration
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	mux.HandleFunc("PUT "+zenRoute, func(w http.ResponseWriter, r *http.Request) {
		handleCreateZen(deps, w, r)
	})
	mux.HandleFunc("GET "+zenRoute, func(w http.ResponseWriter, r *http.Request) {
		handleGetZen(deps, w, r)
	})
	mux.HandleFunc("POST "+zenRoute, func(w http.ResponseWriter, r *http.Request) {
		handleRunZen(deps, w, r)
	})
	mux.HandleFunc("DELETE "+zenRoute, func(w http.ResponseWriter, r *http.Request) {
		handleDeleteZen(deps, w, r)
	})
	mux.HandleFunc("GET "+zenRoute+"/stats", func(w http.ResponseWriter, r *http.Request) {
		handleZenStats(deps, w, r)
	})
	mux.HandleFunc("GET /v1/zen", func(w http.ResponseWriter, r *http.Request) {
		handleFilterZens(deps, w, r)
	})
	mux.HandleFunc("GET /v1/collections", func(w http.ResponseWriter, r *http.Request) {
		handleListCollections(deps, w, r)
	})
	mux.HandleFunc("GET /v1/databases", func(w http.ResponseWriter, r *http.Request) {
		names := []string{}
		if deps.Databases != nil {
			names = append(names, deps.Databases.Names()...)
		}
		writeJSON(w, http.StatusOK, map[string]any{"databases": names})
	})

	return observability.Chain(mux,
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
		observability.LoggingMiddleware(deps.Logger),
	)
}

// CheckStore reports the store unreachable when ping fails.
func CheckStore(ping func(ctx context.Context) error) ReadinessCheck {
	return func(ctx context.Context) error {
		if ping == nil {
			return errors.New("store is not configured")
		}
		return ping(ctx)
	}
}

func CheckArchiveConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if !cfg.Archive.Enabled {
			return nil
		}
		if cfg.Archive.Endpoint == "" {
			return errors.New("archive endpoint is not configured")
		}
		if cfg.Archive.Bucket == "" {
			return errors.New("archive bucket is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code":    code,
		"error_message": message,
		"retryable":     retryable,
		"context":       extra,
		"trace_id":      observability.TraceIDFromContext(ctx),
	})
}
