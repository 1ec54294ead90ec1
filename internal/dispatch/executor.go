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
	"github.com/queryzen/queryzen/internal/zen"
)

type ExecutionStore interface {
	GetZenByID(ctx context.Context, zenID string) (zen.Zen, error)
	RecordExecution(ctx context.Context, execution zen.Execution) error
}

type ResultArchiver interface {
	Archive(ctx context.Context, z zen.Zen, execution zen.Execution) (string, error)
}

type ExecutorConfig struct {
	MaxDuration time.Duration
}

// Executor runs queue jobs against target databases and records the outcome.
// Engine errors become Invalid executions; only failures to load the Zen or
// persist the result are returned as errors.
type Executor struct {
	Zens      ExecutionStore
	Databases *database.Registry
	Archiver  ResultArchiver
	Config    ExecutorConfig
	Logger    *slog.Logger
	Clock     func() time.Time
	NewID     func() string
}

const unknownEngineError = "execution failed without an error message"

func (e *Executor) Execute(ctx context.Context, job queue.Job) (zen.Execution, error) {
	execution, err := e.execute(ctx, job)
	if err != nil {
		observability.ObserveQueueJob("failed")
		return zen.Execution{}, err
	}
	observability.ObserveQueueJob("succeeded")
	return execution, nil
}

func (e *Executor) execute(ctx context.Context, job queue.Job) (zen.Execution, error) {
	z, err := e.Zens.GetZenByID(ctx, job.ZenID)
	if err != nil {
		return zen.Execution{}, fmt.Errorf("load zen %s: %w", job.ZenID, err)
	}
	adapter, ok := e.Databases.Lookup(job.Database)
	if !ok {
		return zen.Execution{}, fmt.Errorf("%w: %q", zen.ErrDatabaseDoesNotExist, job.Database)
	}

	logger := e.logger().With(
		slog.String("job_id", job.JobID),
		slog.String("zen_id", z.ID),
		slog.String("database", job.Database),
		slog.Int("attempt", job.Attempt),
	)

	execution := zen.Execution{
		ID:         e.newID(),
		ZenID:      z.ID,
		Parameters: job.Parameters,
		Query:      z.Query,
	}

	runCtx, cancel := context.WithTimeout(ctx, e.maxDuration())
	started := e.now()
	outcome, runErr := adapter.Execute(runCtx, z.Query, job.Parameters)
	finished := e.now()
	cancel()

	if runErr != nil && ctx.Err() != nil {
		// The worker is stopping; leave the job for another attempt.
		return zen.Execution{}, ctx.Err()
	}

	execution.StartedAt = started
	execution.FinishedAt = finished
	execution.TotalTimeMs = max(finished.Sub(started).Milliseconds(), 0)
	if outcome.Query != "" {
		execution.Query = outcome.Query
	}

	if runErr != nil {
		execution.State = zen.StateInvalid
		execution.Error = engineErrorText(runErr, e.maxDuration())
		logger.InfoContext(ctx, "zen execution invalid", slog.String("error", execution.Error))
	} else {
		execution.State = zen.StateValid
		execution.Columns = outcome.Columns
		execution.Rows = outcome.Rows
		execution.RowCount = outcome.EffectiveRowCount()
	}

	if e.Archiver != nil && execution.State == zen.StateValid {
		path, err := e.Archiver.Archive(ctx, z, execution)
		if err != nil {
			logger.WarnContext(ctx, "execution result not archived", slog.Any("error", err))
		} else {
			execution.ResultPath = path
		}
	}

	if err := e.Zens.RecordExecution(ctx, execution); err != nil {
		return zen.Execution{}, fmt.Errorf("record execution %s: %w", execution.ID, err)
	}
	observability.ObserveExecution(string(execution.State), finished.Sub(started))
	logger.DebugContext(ctx, "zen executed",
		slog.String("execution_id", execution.ID),
		slog.String("state", string(execution.State)),
		slog.Int64("total_time_ms", execution.TotalTimeMs),
		slog.Int64("row_count", execution.RowCount),
	)
	return execution, nil
}

func engineErrorText(err error, limit time.Duration) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("execution exceeded the maximum duration of %s", limit)
	}
	if text := err.Error(); text != "" {
		return text
	}
	return unknownEngineError
}

func (e *Executor) maxDuration() time.Duration {
	if e.Config.MaxDuration <= 0 {
		return 5 * time.Minute
	}
	return e.Config.MaxDuration
}

func (e *Executor) now() time.Time {
	if e.Clock == nil {
		return time.Now().UTC()
	}
	return e.Clock().UTC()
}

func (e *Executor) newID() string {
	if e.NewID == nil {
		return uuid.NewString()
	}
	return e.NewID()
}

func (e *Executor) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}
