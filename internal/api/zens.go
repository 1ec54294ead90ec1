package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/queryzen/queryzen/internal/observability"
	"github.com/queryzen/queryzen/internal/stats"
	"github.com/queryzen/queryzen/internal/zen"
)

const (
	maxBodyBytes           = 1 << 20
	defaultExecutionsLimit = 100
)

type createZenRequest struct {
	Query             string         `json:"query"`
	Description       string         `json:"description"`
	DefaultParameters map[string]any `json:"default_parameters"`
}

type zenRef struct {
	Collection string
	Name       string
	Version    zen.Version
}

func (z zenRef) context() map[string]any {
	return map[string]any{"collection": z.Collection, "name": z.Name, "version": z.Version.String()}
}

func parseZenRef(w http.ResponseWriter, r *http.Request) (zenRef, bool) {
	ref := zenRef{
		Collection: strings.TrimSpace(r.PathValue("collection")),
		Name:       strings.TrimSpace(r.PathValue("name")),
	}
	if ref.Collection == "" || ref.Name == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_ZEN", "collection and name are required", false, nil)
		return zenRef{}, false
	}
	version, err := zen.ParseVersion(r.PathValue("version"))
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_VERSION", err.Error(), false, map[string]any{"version": r.PathValue("version")})
		return zenRef{}, false
	}
	ref.Version = version
	return ref, true
}

// decodeBody reads a JSON object keeping numbers as json.Number, so
// parameter values reach the SQL renderer with their original text.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "request body could not be read", false, map[string]any{"details": err.Error()})
		return false
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return true
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid request body", false, map[string]any{"details": err.Error()})
		return false
	}
	return true
}

func handleCreateZen(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	ref, ok := parseZenRef(w, r)
	if !ok {
		return
	}
	var request createZenRequest
	if !decodeBody(w, r, &request) {
		return
	}
	if strings.TrimSpace(request.Query) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUERY_REQUIRED", "query is required", false, ref.context())
		return
	}
	if err := zen.ValidateDefaults(request.Query, request.DefaultParameters); err != nil {
		writeZenError(deps, w, r, err, ref.context())
		return
	}

	created, err := deps.Zens.CreateZen(r.Context(), zen.CreateZenInput{
		Collection:        ref.Collection,
		Name:              ref.Name,
		Version:           ref.Version,
		Query:             request.Query,
		Description:       request.Description,
		DefaultParameters: request.DefaultParameters,
	})
	if err != nil {
		writeZenError(deps, w, r, err, ref.context())
		return
	}
	observability.IncZenCreated()
	observability.LoggerWithTrace(r.Context(), deps.Logger).InfoContext(r.Context(), "zen created",
		slog.String("collection", created.Collection),
		slog.String("name", created.Name),
		slog.Int("version", created.Version),
	)
	if created.Executions == nil {
		created.Executions = []zen.Execution{}
	}
	writeJSON(w, http.StatusCreated, created)
}

func handleGetZen(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	ref, ok := parseZenRef(w, r)
	if !ok {
		return
	}
	limit, err := intQuery(r, "executions_limit", defaultExecutionsLimit)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_FILTER", err.Error(), false, nil)
		return
	}

	z, err := deps.Zens.GetZen(r.Context(), ref.Collection, ref.Name, ref.Version)
	if err != nil {
		writeZenError(deps, w, r, err, ref.context())
		return
	}
	executions, err := deps.Zens.ListExecutions(r.Context(), z.ID, limit)
	if err != nil {
		writeZenError(deps, w, r, err, ref.context())
		return
	}
	z.Executions = executions
	if z.Executions == nil {
		z.Executions = []zen.Execution{}
	}
	writeJSON(w, http.StatusOK, z)
}

func handleDeleteZen(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	ref, ok := parseZenRef(w, r)
	if !ok {
		return
	}
	deleted, err := deps.Zens.DeleteZen(r.Context(), ref.Collection, ref.Name, ref.Version)
	if err != nil {
		writeZenError(deps, w, r, err, ref.context())
		return
	}
	if deps.Results != nil && len(deleted.ResultPaths) > 0 {
		if err := deps.Results.Remove(r.Context(), deleted.ResultPaths); err != nil {
			observability.LoggerWithTrace(r.Context(), deps.Logger).WarnContext(r.Context(), "archived results of deleted zen not fully removed",
				slog.String("zen_id", deleted.ZenID),
				slog.Any("error", err),
			)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func handleZenStats(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	ref, ok := parseZenRef(w, r)
	if !ok {
		return
	}
	z, err := deps.Zens.GetZen(r.Context(), ref.Collection, ref.Name, ref.Version)
	if err != nil {
		writeZenError(deps, w, r, err, ref.context())
		return
	}
	durations, err := deps.Zens.ExecutionTimes(r.Context(), z.ID)
	if err != nil {
		writeZenError(deps, w, r, err, ref.context())
		return
	}
	writeJSON(w, http.StatusOK, stats.Compute(durations))
}

func handleFilterZens(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_FILTER", err.Error(), false, nil)
		return
	}
	zens, err := deps.Zens.FilterZens(r.Context(), filter)
	if err != nil {
		writeZenError(deps, w, r, err, nil)
		return
	}
	if zens == nil {
		zens = []zen.Zen{}
	}
	for i := range zens {
		if zens[i].Executions == nil {
			zens[i].Executions = []zen.Execution{}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"zens": zens})
}

func handleListCollections(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	collections, err := deps.Zens.ListCollections(r.Context())
	if err != nil {
		writeZenError(deps, w, r, err, nil)
		return
	}
	if collections == nil {
		collections = []zen.CollectionSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"collections": collections})
}

func parseFilter(r *http.Request) (zen.Filter, error) {
	q := r.URL.Query()
	filter := zen.Filter{
		Collection:         strings.TrimSpace(q.Get("collection")),
		CollectionContains: strings.TrimSpace(q.Get("collection__contains")),
		Name:               strings.TrimSpace(q.Get("name")),
		NameContains:       strings.TrimSpace(q.Get("name__contains")),
	}

	var err error
	if filter.Version, err = optionalInt(q.Get("version"), "version"); err != nil {
		return zen.Filter{}, err
	}
	if filter.VersionGT, err = optionalInt(q.Get("version__gt"), "version__gt"); err != nil {
		return zen.Filter{}, err
	}
	if filter.VersionLT, err = optionalInt(q.Get("version__lt"), "version__lt"); err != nil {
		return zen.Filter{}, err
	}
	if filter.State, err = optionalState(q.Get("state"), "state"); err != nil {
		return zen.Filter{}, err
	}
	if filter.ExecutionState, err = optionalState(q.Get("executions__state"), "executions__state"); err != nil {
		return zen.Filter{}, err
	}
	if filter.Limit, err = intQuery(r, "limit", 0); err != nil {
		return zen.Filter{}, err
	}
	return filter, nil
}

func optionalInt(raw, field string) (*int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be an integer", field)
	}
	return &value, nil
}

func optionalState(raw, field string) (zen.State, error) {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	if raw == "" {
		return "", nil
	}
	state := zen.State(raw)
	if !state.Valid() {
		return "", fmt.Errorf("%s must be one of VA, IN, UN", field)
	}
	return state, nil
}

func intQuery(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return value, nil
}
