package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/queryzen/queryzen/internal/observability"
	"github.com/queryzen/queryzen/internal/sqltemplate"
	"github.com/queryzen/queryzen/internal/zen"
)

// writeZenError maps domain errors to their wire codes. A request that both
// supplies unknown parameters and misses required ones reports the mismatch.
func writeZenError(deps Dependencies, w http.ResponseWriter, r *http.Request, err error, extra map[string]any) {
	ctx := r.Context()
	var (
		mismatch    *zen.ParametersMismatchError
		missing     *zen.MissingParametersError
		unsupported *sqltemplate.UnsupportedTypeError
	)
	switch {
	case errors.As(err, &mismatch):
		writeError(ctx, w, http.StatusConflict, "PARAMETERS_MISMATCH", mismatch.Error(), false, withContext(extra, "parameters", mismatch.Names))
	case errors.As(err, &missing):
		writeError(ctx, w, http.StatusBadRequest, "MISSING_PARAMETERS", missing.Error(), false, withContext(extra, "parameters", missing.Names))
	case errors.As(err, &unsupported):
		writeError(ctx, w, http.StatusBadRequest, "UNSUPPORTED_PARAMETER_TYPE", unsupported.Error(), false, withContext(extra, "parameter", unsupported.Name))
	case errors.Is(err, zen.ErrNotFound):
		writeError(ctx, w, http.StatusNotFound, "ZEN_DOES_NOT_EXIST", "zen does not exist", false, extra)
	case errors.Is(err, zen.ErrAlreadyExists):
		writeError(ctx, w, http.StatusConflict, "ZEN_ALREADY_EXISTS", "zen already exists", false, extra)
	case errors.Is(err, zen.ErrDatabaseDoesNotExist):
		writeError(ctx, w, http.StatusRequestedRangeNotSatisfiable, "DATABASE_DOES_NOT_EXIST", err.Error(), false, extra)
	case errors.Is(err, zen.ErrExecutionEngineUnavailable):
		writeError(ctx, w, http.StatusServiceUnavailable, "EXECUTION_ENGINE_UNAVAILABLE", err.Error(), true, extra)
	default:
		observability.LoggerWithTrace(ctx, deps.Logger).ErrorContext(ctx, "store request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		writeError(ctx, w, http.StatusInternalServerError, "STORE_ERROR", "store request failed", true, withContext(extra, "details", err.Error()))
	}
}

func withContext(extra map[string]any, key string, value any) map[string]any {
	merged := make(map[string]any, len(extra)+1)
	for k, v := range extra {
		merged[k] = v
	}
	merged[key] = value
	return merged
}
