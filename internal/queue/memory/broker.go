// Package memory is an in-process queue backed by a bounded channel and a
// fixed pool of worker goroutines.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/queryzen/queryzen/internal/queue"
)

type Config struct {
	Workers   int
	QueueSize int
}

type Broker struct {
	handler queue.Handler
	logger  *slog.Logger
	workers int
	jobs    chan queue.Job

	mu      sync.Mutex
	waiters map[string]chan queue.Result
	stopped bool
}

var _ queue.Broker = (*Broker)(nil)

func New(cfg Config, handler queue.Handler, logger *slog.Logger) *Broker {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		handler: handler,
		logger:  logger,
		workers: cfg.Workers,
		jobs:    make(chan queue.Job, cfg.QueueSize),
		waiters: map[string]chan queue.Result{},
	}
}

// Run processes jobs until ctx is cancelled. Jobs still queued at shutdown
// are failed so their callers stop waiting.
func (b *Broker) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < b.workers; i++ {
		group.Go(func() error {
			for {
				select {
				case <-groupCtx.Done():
					return nil
				case job := <-b.jobs:
					b.process(groupCtx, job)
				}
			}
		})
	}
	err := group.Wait()

	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()
	for {
		select {
		case job := <-b.jobs:
			b.deliver(queue.Result{JobID: job.JobID, State: queue.JobFailed, Error: "broker stopped"})
		default:
			return err
		}
	}
}

// Submit enqueues job without blocking. A full queue or a stopped broker
// reports queue.ErrUnavailable.
func (b *Broker) Submit(ctx context.Context, job queue.Job) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return "", fmt.Errorf("%w: broker stopped", queue.ErrUnavailable)
	}
	waiter := make(chan queue.Result, 1)
	b.waiters[job.JobID] = waiter
	select {
	case b.jobs <- job:
		return job.JobID, nil
	default:
		delete(b.waiters, job.JobID)
		return "", fmt.Errorf("%w: queue full", queue.ErrUnavailable)
	}
}

// Await blocks until the job finishes or ctx is done. Each job can be
// awaited once.
func (b *Broker) Await(ctx context.Context, jobID string) (queue.Result, error) {
	b.mu.Lock()
	waiter, ok := b.waiters[jobID]
	b.mu.Unlock()
	if !ok {
		return queue.Result{}, queue.ErrJobNotFound
	}
	defer func() {
		b.mu.Lock()
		delete(b.waiters, jobID)
		b.mu.Unlock()
	}()

	select {
	case result := <-waiter:
		return result, nil
	case <-ctx.Done():
		return queue.Result{}, ctx.Err()
	}
}

func (b *Broker) process(ctx context.Context, job queue.Job) {
	job.Attempt++
	execution, err := b.handler(ctx, job)
	if err != nil {
		b.logger.ErrorContext(ctx, "execution job failed", slog.String("job_id", job.JobID), slog.String("zen_id", job.ZenID), slog.Any("error", err))
		b.deliver(queue.Result{JobID: job.JobID, State: queue.JobFailed, Error: err.Error()})
		return
	}
	b.deliver(queue.Result{JobID: job.JobID, State: queue.JobSucceeded, Execution: execution})
}

func (b *Broker) deliver(result queue.Result) {
	b.mu.Lock()
	waiter, ok := b.waiters[result.JobID]
	b.mu.Unlock()
	if !ok {
		// caller gave up; the execution is already persisted
		return
	}
	select {
	case waiter <- result:
	default:
	}
}
