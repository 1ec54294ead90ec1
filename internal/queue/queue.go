// Package queue carries execution jobs from the dispatcher to workers.
//
// Delivery is at least once. A caller that stops waiting does not cancel its
// job, and a job whose worker dies is run again once its lease expires, so a
// single submission can append more than one Execution to a Zen's history.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/queryzen/queryzen/internal/zen"
)

type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
)

func (s JobState) Finished() bool {
	return s == JobSucceeded || s == JobFailed
}

var (
	ErrUnavailable = errors.New("queue: unavailable")
	ErrJobNotFound = errors.New("queue: job not found")
)

type Job struct {
	JobID      string
	ZenID      string
	Database   string
	Parameters map[string]any
	EnqueuedAt time.Time
	Attempt    int
}

// Result is the terminal outcome of a job. Error is set for failed jobs,
// which means no Execution could be recorded.
type Result struct {
	JobID     string
	State     JobState
	Execution zen.Execution
	Error     string
}

type Broker interface {
	Submit(ctx context.Context, job Job) (string, error)
	Await(ctx context.Context, jobID string) (Result, error)
}

// Handler runs one job and returns the recorded Execution.
type Handler func(ctx context.Context, job Job) (zen.Execution, error)
