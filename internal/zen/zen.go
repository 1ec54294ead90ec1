// Package zen defines named, versioned, parametrized queries and their
// execution history.
package zen

import (
	"context"
	"time"
)

type State string

const (
	StateValid   State = "VA"
	StateInvalid State = "IN"
	StateUnknown State = "UN"
)

func (s State) Valid() bool {
	switch s {
	case StateValid, StateInvalid, StateUnknown:
		return true
	default:
		return false
	}
}

type Repository interface {
	HealthCheck(ctx context.Context) error
	CreateZen(ctx context.Context, in CreateZenInput) (Zen, error)
	GetZen(ctx context.Context, collection, name string, version Version) (Zen, error)
	GetZenByID(ctx context.Context, zenID string) (Zen, error)
	FilterZens(ctx context.Context, filter Filter) ([]Zen, error)
	DeleteZen(ctx context.Context, collection, name string, version Version) (DeletedZen, error)
	RecordExecution(ctx context.Context, execution Execution) error
	ListExecutions(ctx context.Context, zenID string, limit int) ([]Execution, error)
	ExecutionTimes(ctx context.Context, zenID string) ([]int64, error)
	ListCollections(ctx context.Context) ([]CollectionSummary, error)
}

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

// Execution is one run of a Zen. Columns and Rows travel with the run
// response and are not kept in the store.
type Execution struct {
	ID          string         `json:"id"`
	ZenID       string         `json:"zen_id"`
	State       State          `json:"state"`
	Query       string         `json:"query"`
	Parameters  map[string]any `json:"parameters"`
	Error       string         `json:"error"`
	RowCount    int64          `json:"row_count"`
	Columns     []string       `json:"columns,omitempty"`
	Rows        [][]any        `json:"rows,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
	TotalTimeMs int64          `json:"total_time"`
	ResultPath  string         `json:"result_path,omitempty"`
}

type CreateZenInput struct {
	Collection        string
	Name              string
	Version           Version
	Query             string
	Description       string
	DefaultParameters map[string]any
}

type Filter struct {
	Collection         string
	CollectionContains string
	Name               string
	NameContains       string
	Version            *int
	VersionGT          *int
	VersionLT          *int
	State              State
	ExecutionState     State
	Limit              int
}

type DeletedZen struct {
	ZenID       string
	ResultPaths []string
}

type CollectionSummary struct {
	Collection string `json:"collection"`
	ZenCount   int64  `json:"zen_count"`
}
