// Package postgres is a durable job queue stored in the execution_job table.
// Workers in any process claim jobs with FOR UPDATE SKIP LOCKED under a lease;
// jobs whose lease expired are claimed again.
package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/queryzen/queryzen/internal/queue"
	"github.com/queryzen/queryzen/internal/zen"
)

type Config struct {
	PollInterval time.Duration
}

type Queue struct {
	db           *sql.DB
	clock        func() time.Time
	pollInterval time.Duration
}

var _ queue.Broker = (*Queue)(nil)

func New(db *sql.DB, cfg Config) *Queue {
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	return &Queue{db: db, clock: time.Now, pollInterval: poll}
}

func (q *Queue) Submit(ctx context.Context, job queue.Job) (string, error) {
	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}
	params, err := json.Marshal(nonNil(job.Parameters))
	if err != nil {
		return "", fmt.Errorf("encode job parameters: %w", err)
	}

	query := `
INSERT INTO execution_job (job_id, zen_id, database_name, parameters)
VALUES ($1, $2, $3, $4::json)`
	if _, err := q.db.ExecContext(ctx, query, job.JobID, job.ZenID, job.Database, string(params)); err != nil {
		return "", fmt.Errorf("%w: enqueue job: %v", queue.ErrUnavailable, err)
	}
	return job.JobID, nil
}

// Await polls the job row until it reaches a terminal state or ctx is done.
func (q *Queue) Await(ctx context.Context, jobID string) (queue.Result, error) {
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		result, err := q.Result(ctx, jobID)
		if err != nil {
			return queue.Result{}, err
		}
		if result.State.Finished() {
			return result, nil
		}

		select {
		case <-ctx.Done():
			return queue.Result{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Result reads the current state of a job.
func (q *Queue) Result(ctx context.Context, jobID string) (queue.Result, error) {
	query := `
SELECT state::text, result_json, error
FROM execution_job
WHERE job_id = $1`

	var (
		state   string
		payload []byte
		result  = queue.Result{JobID: jobID}
	)
	if err := q.db.QueryRowContext(ctx, query, jobID).Scan(&state, &payload, &result.Error); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return queue.Result{}, queue.ErrJobNotFound
		}
		return queue.Result{}, fmt.Errorf("%w: read job: %v", queue.ErrUnavailable, err)
	}
	result.State = queue.JobState(state)

	if result.State == queue.JobSucceeded && len(payload) > 0 {
		decoder := json.NewDecoder(bytes.NewReader(payload))
		decoder.UseNumber()
		if err := decoder.Decode(&result.Execution); err != nil {
			return queue.Result{}, fmt.Errorf("decode job result: %w", err)
		}
	}
	return result, nil
}

// Claim leases the oldest runnable job to owner. ok is false when nothing is
// runnable.
func (q *Queue) Claim(ctx context.Context, owner string, lease time.Duration) (job queue.Job, ok bool, err error) {
	if lease <= 0 {
		lease = 60 * time.Second
	}
	leaseUntil := q.clock().UTC().Add(lease)

	query := `
UPDATE execution_job
SET state = 'running', lease_owner = $1, lease_until = $2, attempts = attempts + 1
WHERE job_id = (
    SELECT job_id
    FROM execution_job
    WHERE state = 'queued' OR (state = 'running' AND lease_until < NOW())
    ORDER BY enqueued_at ASC
    FOR UPDATE SKIP LOCKED
    LIMIT 1
)
RETURNING job_id, zen_id, database_name, parameters, enqueued_at, attempts`

	var params []byte
	if err := q.db.QueryRowContext(ctx, query, owner, leaseUntil).Scan(
		&job.JobID,
		&job.ZenID,
		&job.Database,
		&params,
		&job.EnqueuedAt,
		&job.Attempt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return queue.Job{}, false, nil
		}
		return queue.Job{}, false, fmt.Errorf("claim job: %w", err)
	}

	job.Parameters = map[string]any{}
	decoder := json.NewDecoder(bytes.NewReader(params))
	decoder.UseNumber()
	if err := decoder.Decode(&job.Parameters); err != nil {
		return queue.Job{}, false, fmt.Errorf("decode job parameters: %w", err)
	}
	return job, true, nil
}

// Extend pushes the lease of a running job lease past now. held is false when
// owner no longer holds the job, either because the lease lapsed and another
// worker claimed it or because the job already finished.
func (q *Queue) Extend(ctx context.Context, jobID, owner string, lease time.Duration) (held bool, err error) {
	if lease <= 0 {
		lease = 60 * time.Second
	}
	query := `
UPDATE execution_job
SET lease_until = $3
WHERE job_id = $1 AND lease_owner = $2 AND state = 'running'`
	result, err := q.db.ExecContext(ctx, query, jobID, owner, q.clock().UTC().Add(lease))
	if err != nil {
		return false, fmt.Errorf("extend job %s: %w", jobID, err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("extend job %s rows affected: %w", jobID, err)
	}
	return count > 0, nil
}

// Complete stores the execution as the job result. It is a no-op when owner
// no longer holds the lease.
func (q *Queue) Complete(ctx context.Context, jobID, owner string, execution zen.Execution) error {
	payload, err := json.Marshal(execution)
	if err != nil {
		return fmt.Errorf("encode job result: %w", err)
	}
	query := `
UPDATE execution_job
SET state = 'succeeded', result_json = $3::json, lease_owner = NULL, lease_until = NULL, finished_at = NOW()
WHERE job_id = $1 AND lease_owner = $2`
	if _, err := q.db.ExecContext(ctx, query, jobID, owner, string(payload)); err != nil {
		return fmt.Errorf("complete job %s: %w", jobID, err)
	}
	return nil
}

func (q *Queue) Fail(ctx context.Context, jobID, owner, reason string) error {
	query := `
UPDATE execution_job
SET state = 'failed', error = $3, lease_owner = NULL, lease_until = NULL, finished_at = NOW()
WHERE job_id = $1 AND lease_owner = $2`
	if _, err := q.db.ExecContext(ctx, query, jobID, owner, reason); err != nil {
		return fmt.Errorf("fail job %s: %w", jobID, err)
	}
	return nil
}

// PurgeFinished deletes terminal jobs that finished before cutoff.
func (q *Queue) PurgeFinished(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := q.db.ExecContext(ctx, `
DELETE FROM execution_job
WHERE state IN ('succeeded', 'failed') AND finished_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge finished jobs: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge finished jobs rows affected: %w", err)
	}
	return count, nil
}

func nonNil(params map[string]any) map[string]any {
	if params == nil {
		return map[string]any{}
	}
	return params
}
