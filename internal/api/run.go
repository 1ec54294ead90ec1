package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/queryzen/queryzen/internal/dispatch"
)

type runZenRequest struct {
	Parameters map[string]any `json:"parameters"`
	Database   string         `json:"database"`
	// Timeout is in seconds.
	Timeout json.Number `json:"timeout"`
}

func handleRunZen(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	ref, ok := parseZenRef(w, r)
	if !ok {
		return
	}
	if deps.Runner == nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "EXECUTION_ENGINE_UNAVAILABLE", "no execution engine is configured", true, ref.context())
		return
	}
	var request runZenRequest
	if !decodeBody(w, r, &request) {
		return
	}

	timeout, err := parseTimeout(request.Timeout, deps.MaxRunTimeout)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_TIMEOUT", err.Error(), false, ref.context())
		return
	}

	execution, err := deps.Runner.Run(r.Context(), dispatch.RunRequest{
		Collection: ref.Collection,
		Name:       ref.Name,
		Version:    ref.Version,
		Parameters: request.Parameters,
		Database:   strings.TrimSpace(request.Database),
		Timeout:    timeout,
	})
	if err != nil {
		extra := ref.context()
		if request.Database != "" {
			extra["database"] = request.Database
		}
		writeZenError(deps, w, r, err, extra)
		return
	}
	writeJSON(w, http.StatusOK, execution)
}

// parseTimeout converts a seconds value to a duration capped at limit. Zero
// or absent selects the server default.
func parseTimeout(raw json.Number, limit time.Duration) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	seconds, err := raw.Float64()
	if err != nil || seconds < 0 {
		return 0, errInvalidTimeout
	}
	// compare in seconds; huge values overflow time.Duration
	if limit > 0 && seconds >= limit.Seconds() {
		return limit, nil
	}
	if seconds >= float64(maxTimeoutSeconds) {
		return time.Duration(math.MaxInt64), nil
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

const maxTimeoutSeconds = math.MaxInt64 / int64(time.Second)

var errInvalidTimeout = errors.New("timeout must be a non-negative number of seconds")
