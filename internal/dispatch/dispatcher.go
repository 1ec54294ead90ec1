// Package dispatch turns run requests into executions. The Dispatcher runs in
// the API process and hands jobs to a broker; the Executor runs wherever the
// broker's workers live and is the only code that talks to target databases.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/queryzen/queryzen/internal/database"
	"github.com/queryzen/queryzen/internal/observability"
	"github.com/queryzen/queryzen/internal/queue"
	"github.com/queryzen/queryzen/internal/sqltemplate"
	"github.com/queryzen/queryzen/internal/zen"
)

type ZenLookup interface {
	GetZen(ctx context.Context, collection, name string, version zen.Version) (zen.Zen, error)
}

type DispatcherConfig struct {
	DefaultTimeout time.Duration
}

type Dispatcher struct {
	Zens      ZenLookup
	Databases *database.Registry
	Broker    queue.Broker
	Config    DispatcherConfig
	Logger    *slog.Logger
	NewJobID  func() string
}

// RunRequest names the Zen to run. An empty Database selects the default
// database and a zero Timeout selects the configured default.
type RunRequest struct {
	Collection string
	Name       string
	Version    zen.Version
	Parameters map[string]any
	Database   string
	Timeout    time.Duration
}

// Run validates req, submits it to the broker and waits for the recorded
// Execution. Validation failures are returned before any job exists. Once a
// job is submitted, every failure to obtain its result is reported as
// zen.ErrExecutionEngineUnavailable; the job itself may still complete.
func (d *Dispatcher) Run(ctx context.Context, req RunRequest) (zen.Execution, error) {
	z, err := d.Zens.GetZen(ctx, req.Collection, req.Name, req.Version)
	if err != nil {
		return zen.Execution{}, err
	}
	params, err := zen.ResolveParameters(z.Query, z.DefaultParameters, req.Parameters)
	if err != nil {
		return zen.Execution{}, err
	}
	if err := sqltemplate.Validate(z.Query, params); err != nil {
		return zen.Execution{}, err
	}
	databaseName := d.Databases.Resolve(req.Database)
	if _, ok := d.Databases.Lookup(databaseName); !ok {
		return zen.Execution{}, fmt.Errorf("%w: %q", zen.ErrDatabaseDoesNotExist, req.Database)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = d.defaultTimeout()
	}
	logger := observability.LoggerWithTrace(ctx, d.Logger).With(
		slog.String("zen_id", z.ID),
		slog.String("database", databaseName),
	)

	jobID, err := d.Broker.Submit(ctx, queue.Job{
		JobID:      d.newJobID(),
		ZenID:      z.ID,
		Database:   databaseName,
		Parameters: params,
		EnqueuedAt: time.Now().UTC(),
	})
	if err != nil {
		observability.IncDispatchUnavailable("submit")
		observability.ObserveQueueJob("rejected")
		logger.WarnContext(ctx, "execution job not accepted", slog.Any("error", err))
		return zen.Execution{}, fmt.Errorf("%w: %v", zen.ErrExecutionEngineUnavailable, err)
	}

	awaitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	result, err := d.Broker.Await(awaitCtx, jobID)
	if err != nil {
		if ctx.Err() != nil {
			return zen.Execution{}, ctx.Err()
		}
		reason := "failed"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "timeout"
			observability.ObserveQueueJob("abandoned")
		}
		observability.IncDispatchUnavailable(reason)
		logger.WarnContext(ctx, "execution result not received", slog.String("job_id", jobID), slog.Duration("timeout", timeout), slog.Any("error", err))
		return zen.Execution{}, fmt.Errorf("%w: job %s: %v", zen.ErrExecutionEngineUnavailable, jobID, err)
	}
	if result.State != queue.JobSucceeded {
		observability.IncDispatchUnavailable("failed")
		logger.WarnContext(ctx, "execution job failed", slog.String("job_id", jobID), slog.String("error", result.Error))
		return zen.Execution{}, fmt.Errorf("%w: job %s: %s", zen.ErrExecutionEngineUnavailable, jobID, result.Error)
	}
	return result.Execution, nil
}

// Run is called concurrently, so defaults are read rather than stored.
func (d *Dispatcher) defaultTimeout() time.Duration {
	if d.Config.DefaultTimeout <= 0 {
		return 60 * time.Second
	}
	return d.Config.DefaultTimeout
}

func (d *Dispatcher) newJobID() string {
	if d.NewJobID == nil {
		return uuid.NewString()
	}
	return d.NewJobID()
}
