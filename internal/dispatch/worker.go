package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/queryzen/queryzen/internal/observability"
	"github.com/queryzen/queryzen/internal/queue"
	"github.com/queryzen/queryzen/internal/zen"
)

// ErrLeaseLost reports that a running job was claimed by another owner.
var ErrLeaseLost = errors.New("job lease lost")

// JobQueue is the worker side of a durable queue.
type JobQueue interface {
	Claim(ctx context.Context, owner string, lease time.Duration) (queue.Job, bool, error)
	Extend(ctx context.Context, jobID, owner string, lease time.Duration) (bool, error)
	Complete(ctx context.Context, jobID, owner string, execution zen.Execution) error
	Fail(ctx context.Context, jobID, owner, reason string) error
	PurgeFinished(ctx context.Context, cutoff time.Time) (int64, error)
}

// WorkerConfig tunes a Worker. An empty WorkerID is derived from the host name
// and process id. Each slot claims jobs as "<WorkerID>/<slot>". RenewInterval
// defaults to a third of Lease.
type WorkerConfig struct {
	WorkerID      string
	Slots         int
	Lease         time.Duration
	RenewInterval time.Duration
	PollInterval  time.Duration
	JobRetention  time.Duration
	PurgeInterval time.Duration
}

// Worker drains a JobQueue with Slots concurrent claim loops. The lease of a
// running job is renewed until its handler returns, so a job is only claimed
// again when its worker stopped renewing.
type Worker struct {
	Queue   JobQueue
	Handler queue.Handler
	Config  WorkerConfig
	Logger  *slog.Logger
	Clock   func() time.Time
}

func (w *Worker) Run(ctx context.Context) error {
	w.ensureDefaults()

	group, groupCtx := errgroup.WithContext(ctx)
	for slot := 0; slot < w.Config.Slots; slot++ {
		group.Go(func() error {
			w.runSlot(groupCtx, slot)
			return nil
		})
	}
	group.Go(func() error {
		w.runPurge(groupCtx)
		return nil
	})
	return group.Wait()
}

func (w *Worker) runSlot(ctx context.Context, slot int) {
	ticker := time.NewTicker(w.Config.PollInterval)
	defer ticker.Stop()

	owner := w.slotOwner(slot)
	for {
		processed, err := w.processOnce(ctx, owner)
		if err != nil && ctx.Err() == nil {
			w.Logger.ErrorContext(ctx, "worker process cycle failed", slog.Int("slot", slot), slog.Any("error", err))
		}
		if processed && err == nil {
			// drain without waiting while jobs are queued
			if ctx.Err() != nil {
				return
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce claims and runs at most one job as the first slot. processed
// reports whether a job was claimed.
func (w *Worker) ProcessOnce(ctx context.Context) (processed bool, err error) {
	w.ensureDefaults()
	return w.processOnce(ctx, w.slotOwner(0))
}

func (w *Worker) processOnce(ctx context.Context, owner string) (bool, error) {
	job, ok, err := w.Queue.Claim(ctx, owner, w.Config.Lease)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	if !ok {
		return false, nil
	}
	logger := w.Logger.With(slog.String("job_id", job.JobID), slog.String("zen_id", job.ZenID), slog.String("owner", owner))

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stopRenewing := w.renewLease(runCtx, cancel, logger, job.JobID, owner)
	execution, err := w.Handler(runCtx, job)
	stopRenewing()

	if errors.Is(context.Cause(runCtx), ErrLeaseLost) {
		// the new owner reports the outcome
		logger.WarnContext(ctx, "execution job abandoned after lease loss")
		return true, ErrLeaseLost
	}
	if err != nil {
		if ctx.Err() != nil {
			// lease expires and another worker picks the job up
			return true, ctx.Err()
		}
		logger.WarnContext(ctx, "execution job failed", slog.Any("error", err))
		if failErr := w.Queue.Fail(ctx, job.JobID, owner, err.Error()); failErr != nil {
			return true, failErr
		}
		return true, nil
	}
	if err := w.Queue.Complete(ctx, job.JobID, owner, execution); err != nil {
		return true, err
	}
	return true, nil
}

// renewLease extends the lease of jobID every RenewInterval until the returned
// stop func is called. When the lease turns out to be held by someone else,
// ctx is cancelled with ErrLeaseLost.
func (w *Worker) renewLease(ctx context.Context, cancel context.CancelCauseFunc, logger *slog.Logger, jobID, owner string) (stop func()) {
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(w.Config.RenewInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			held, err := w.Queue.Extend(ctx, jobID, owner, w.Config.Lease)
			if err != nil {
				if ctx.Err() == nil {
					logger.WarnContext(ctx, "job lease not renewed", slog.Any("error", err))
				}
				continue
			}
			if !held {
				cancel(ErrLeaseLost)
				return
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}

func (w *Worker) slotOwner(slot int) string {
	return fmt.Sprintf("%s/%d", w.Config.WorkerID, slot)
}

func (w *Worker) runPurge(ctx context.Context) {
	ticker := time.NewTicker(w.Config.PurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := w.PurgeOnce(ctx); err != nil && ctx.Err() == nil {
			w.Logger.ErrorContext(ctx, "job purge failed", slog.Any("error", err))
		}
	}
}

// PurgeOnce removes finished jobs older than the retention window.
func (w *Worker) PurgeOnce(ctx context.Context) error {
	w.ensureDefaults()
	count, err := w.Queue.PurgeFinished(ctx, w.Clock().UTC().Add(-w.Config.JobRetention))
	if err != nil {
		return err
	}
	observability.AddQueueJobsPurged(count)
	if count > 0 {
		w.Logger.InfoContext(ctx, "finished jobs purged", slog.Int64("count", count))
	}
	return nil
}

func (w *Worker) ensureDefaults() {
	if w.Clock == nil {
		w.Clock = time.Now
	}
	if w.Logger == nil {
		w.Logger = slog.Default()
	}
	if w.Config.WorkerID == "" {
		w.Config.WorkerID = DefaultWorkerID()
	}
	if w.Config.Slots <= 0 {
		w.Config.Slots = 4
	}
	if w.Config.Lease <= 0 {
		w.Config.Lease = 60 * time.Second
	}
	if w.Config.RenewInterval <= 0 || w.Config.RenewInterval >= w.Config.Lease {
		w.Config.RenewInterval = w.Config.Lease / 3
	}
	if w.Config.PollInterval <= 0 {
		w.Config.PollInterval = 100 * time.Millisecond
	}
	if w.Config.JobRetention <= 0 {
		w.Config.JobRetention = 24 * time.Hour
	}
	if w.Config.PurgeInterval <= 0 {
		w.Config.PurgeInterval = 10 * time.Minute
	}
}

// DefaultWorkerID names this process as host-pid.
func DefaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "queryzen-worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
