package client

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strconv"
	"time"

	"github.com/queryzen/queryzen/internal/sqltemplate"
	"github.com/queryzen/queryzen/internal/zen"
)

type State string

const (
	StateValid   State = "VA"
	StateInvalid State = "IN"
	StateUnknown State = "UN"
)

// Zen is a named, versioned SQL query stored in QueryZen.
type Zen struct {
	ID                string         `json:"id"`
	Collection        string         `json:"collection"`
	Name              string         `json:"name"`
	Version           int            `json:"version"`
	Query             string         `json:"query"`
	Description       string         `json:"description"`
	DefaultParameters map[string]any `json:"default_parameters"`
	State             State          `json:"state"`
	CreatedAt         time.Time      `json:"created_at"`
	Executions        []Execution    `json:"executions"`
}

// Preview renders the query locally with the default parameters overlaid by
// params. Placeholders without a value are left as they are. Running the Zen
// with the same params records the same text as its query.
func (z *Zen) Preview(params map[string]any) (string, error) {
	return sqltemplate.SafeReplace(z.Query, zen.MergeParameters(z.DefaultParameters, params))
}

// Difference compares z with other on the named JSON fields, by default name,
// description and version. The result maps each differing field to the pair
// (z value, other value).
func (z *Zen) Difference(other *Zen, fields ...string) (map[string][2]any, error) {
	if other == nil {
		return nil, errors.New("cannot compare with a nil zen")
	}
	if len(fields) == 0 {
		fields = []string{"name", "description", "version"}
	}
	mine, theirs := z.fields(), other.fields()
	difference := map[string][2]any{}
	for _, field := range fields {
		a, ok := mine[field]
		if !ok {
			return nil, fmt.Errorf("zen has no field %q", field)
		}
		b := theirs[field]
		if !reflect.DeepEqual(a, b) {
			difference[field] = [2]any{a, b}
		}
	}
	return difference, nil
}

func (z *Zen) fields() map[string]any {
	return map[string]any{
		"id":                 z.ID,
		"collection":         z.Collection,
		"name":               z.Name,
		"version":            z.Version,
		"query":              z.Query,
		"description":        z.Description,
		"default_parameters": z.DefaultParameters,
		"state":              z.State,
		"created_at":         z.CreatedAt,
	}
}

// Statistic summarizes the execution times of every recorded execution of a
// Zen, valid and invalid alike. All pointer fields are nil when there are none.
type Statistic struct {
	MinExecutionTimeMs    *float64 `json:"min_execution_time_ms"`
	MaxExecutionTimeMs    *float64 `json:"max_execution_time_ms"`
	MeanExecutionTimeMs   *float64 `json:"mean_execution_time_ms"`
	ModeExecutionTimeMs   *float64 `json:"mode_execution_time_ms"`
	MedianExecutionTimeMs *float64 `json:"median_execution_time_ms"`
	Variance              *float64 `json:"variance"`
	StandardDeviation     *float64 `json:"standard_deviation"`
	Range                 *float64 `json:"range"`
	Count                 int      `json:"count"`
}

type CollectionSummary struct {
	Collection string `json:"collection"`
	ZenCount   int64  `json:"zen_count"`
}

// Filter selects zens. Empty fields do not filter.
type Filter struct {
	Collection         string
	CollectionContains string
	Name               string
	NameContains       string
	Version            *int
	VersionGT          *int
	VersionLT          *int
	State              State
	// ExecutionState keeps zens with at least one execution in this state.
	ExecutionState State
	Limit          int
}

func (f Filter) values() url.Values {
	values := url.Values{}
	set := func(key, value string) {
		if value != "" {
			values.Set(key, value)
		}
	}
	setInt := func(key string, value *int) {
		if value != nil {
			values.Set(key, strconv.Itoa(*value))
		}
	}
	set("collection", f.Collection)
	set("collection__contains", f.CollectionContains)
	set("name", f.Name)
	set("name__contains", f.NameContains)
	setInt("version", f.Version)
	setInt("version__gt", f.VersionGT)
	setInt("version__lt", f.VersionLT)
	set("state", string(f.State))
	set("executions__state", string(f.ExecutionState))
	if f.Limit > 0 {
		values.Set("limit", strconv.Itoa(f.Limit))
	}
	return values
}
