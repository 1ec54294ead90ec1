package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/queryzen/queryzen/internal/queue"
	"github.com/queryzen/queryzen/internal/zen"
)

func TestSubmitInsertsQueuedJob(t *testing.T) {
	db, mock := newSQLMock(t)
	q := New(db, Config{})

	mock.ExpectExec(regexp.QuoteMeta(`
INSERT INTO execution_job (job_id, zen_id, database_name, parameters)
VALUES ($1, $2, $3, $4::json)`)).
		WithArgs("job-1", "zen-1", "local", `{"a":1}`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	jobID, err := q.Submit(context.Background(), queue.Job{JobID: "job-1", ZenID: "zen-1", Database: "local", Parameters: map[string]any{"a": 1}})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if jobID != "job-1" {
		t.Fatalf("jobID = %q", jobID)
	}
	assertSQLMock(t, mock)
}

func TestSubmitFailureIsUnavailable(t *testing.T) {
	db, mock := newSQLMock(t)
	q := New(db, Config{})

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO execution_job`)).
		WillReturnError(errors.New("connection refused"))

	_, err := q.Submit(context.Background(), queue.Job{ZenID: "zen-1"})
	if !errors.Is(err, queue.ErrUnavailable) {
		t.Fatalf("Submit() error = %v, want ErrUnavailable", err)
	}
	assertSQLMock(t, mock)
}

func TestAwaitPollsUntilSucceeded(t *testing.T) {
	db, mock := newSQLMock(t)
	q := New(db, Config{PollInterval: time.Millisecond})

	resultQuery := regexp.QuoteMeta(`
SELECT state::text, result_json, error
FROM execution_job
WHERE job_id = $1`)
	execution, err := json.Marshal(zen.Execution{ID: "exec-1", State: zen.StateValid, Rows: [][]any{{1}}, Columns: []string{"a"}})
	if err != nil {
		t.Fatalf("marshal execution: %v", err)
	}

	mock.ExpectQuery(resultQuery).WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"state", "result_json", "error"}).AddRow("running", nil, ""))
	mock.ExpectQuery(resultQuery).WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"state", "result_json", "error"}).AddRow("succeeded", execution, ""))

	result, err := q.Await(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if result.State != queue.JobSucceeded || result.Execution.ID != "exec-1" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Execution.Rows[0][0] != json.Number("1") {
		t.Fatalf("row value = %#v", result.Execution.Rows[0][0])
	}
	assertSQLMock(t, mock)
}

func TestAwaitHonoursContext(t *testing.T) {
	db, mock := newSQLMock(t)
	q := New(db, Config{PollInterval: time.Hour})

	mock.ExpectQuery(regexp.QuoteMeta(`FROM execution_job`)).WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"state", "result_json", "error"}).AddRow("queued", nil, ""))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := q.Await(ctx, "job-1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Await() error = %v, want deadline exceeded", err)
	}
}

func TestClaimLeasesOldestJob(t *testing.T) {
	db, mock := newSQLMock(t)
	q := New(db, Config{})
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	q.clock = func() time.Time { return now }

	mock.ExpectQuery(regexp.QuoteMeta(`
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
RETURNING job_id, zen_id, database_name, parameters, enqueued_at, attempts`)).
		WithArgs("worker-1", now.Add(30*time.Second)).
		WillReturnRows(sqlmock.NewRows([]string{"job_id", "zen_id", "database_name", "parameters", "enqueued_at", "attempts"}).
			AddRow("job-1", "zen-1", "local", []byte(`{"a":2.50}`), now, 1))

	job, ok, err := q.Claim(context.Background(), "worker-1", 30*time.Second)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if !ok || job.JobID != "job-1" || job.Attempt != 1 {
		t.Fatalf("unexpected claim: ok=%v job=%+v", ok, job)
	}
	if job.Parameters["a"] != json.Number("2.50") {
		t.Fatalf("parameter a = %#v", job.Parameters["a"])
	}
	assertSQLMock(t, mock)
}

func TestClaimEmptyQueue(t *testing.T) {
	db, mock := newSQLMock(t)
	q := New(db, Config{})

	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE execution_job`)).WillReturnError(sql.ErrNoRows)

	_, ok, err := q.Claim(context.Background(), "worker-1", time.Second)
	if err != nil || ok {
		t.Fatalf("Claim() = ok %v err %v, want empty", ok, err)
	}
	assertSQLMock(t, mock)
}

func TestCompleteAndFailRequireLeaseOwner(t *testing.T) {
	db, mock := newSQLMock(t)
	q := New(db, Config{})

	mock.ExpectExec(regexp.QuoteMeta(`
UPDATE execution_job
SET state = 'succeeded', result_json = $3::json, lease_owner = NULL, lease_until = NULL, finished_at = NOW()
WHERE job_id = $1 AND lease_owner = $2`)).
		WithArgs("job-1", "worker-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`
UPDATE execution_job
SET state = 'failed', error = $3, lease_owner = NULL, lease_until = NULL, finished_at = NOW()
WHERE job_id = $1 AND lease_owner = $2`)).
		WithArgs("job-2", "worker-1", "zen: does not exist").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := q.Complete(context.Background(), "job-1", "worker-1", zen.Execution{ID: "exec-1"}); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if err := q.Fail(context.Background(), "job-2", "worker-1", "zen: does not exist"); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestExtendRenewsOwnedLease(t *testing.T) {
	db, mock := newSQLMock(t)
	q := New(db, Config{})
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	q.clock = func() time.Time { return now }

	extend := regexp.QuoteMeta(`
UPDATE execution_job
SET lease_until = $3
WHERE job_id = $1 AND lease_owner = $2 AND state = 'running'`)
	mock.ExpectExec(extend).
		WithArgs("job-1", "host-1/0", now.Add(time.Minute)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(extend).
		WithArgs("job-1", "host-2/0", now.Add(time.Minute)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	held, err := q.Extend(context.Background(), "job-1", "host-1/0", time.Minute)
	if err != nil || !held {
		t.Fatalf("Extend(owner) = %v, %v; want held", held, err)
	}
	held, err = q.Extend(context.Background(), "job-1", "host-2/0", time.Minute)
	if err != nil || held {
		t.Fatalf("Extend(stale owner) = %v, %v; want not held", held, err)
	}
	assertSQLMock(t, mock)
}

// The parameters column is json, not jsonb, so the stored text comes back
// byte for byte and numbers keep their spelling.
func TestJobParametersKeepNumberText(t *testing.T) {
	db, mock := newSQLMock(t)
	q := New(db, Config{})
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(`VALUES ($1, $2, $3, $4::json)`)).
		WithArgs("job-1", "zen-1", "local", `{"eps":1e-07}`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`RETURNING job_id, zen_id, database_name, parameters, enqueued_at, attempts`)).
		WillReturnRows(sqlmock.NewRows([]string{"job_id", "zen_id", "database_name", "parameters", "enqueued_at", "attempts"}).
			AddRow("job-1", "zen-1", "local", []byte(`{"eps":1e-07}`), now, 1))

	if _, err := q.Submit(context.Background(), queue.Job{JobID: "job-1", ZenID: "zen-1", Database: "local", Parameters: map[string]any{"eps": 1e-7}}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	job, ok, err := q.Claim(context.Background(), "worker-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("Claim() = %v, %v", ok, err)
	}
	if job.Parameters["eps"] != json.Number("1e-07") {
		t.Fatalf("parameter eps = %#v", job.Parameters["eps"])
	}
	assertSQLMock(t, mock)
}

func TestPurgeFinished(t *testing.T) {
	db, mock := newSQLMock(t)
	q := New(db, Config{})
	cutoff := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM execution_job`)).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))

	count, err := q.PurgeFinished(context.Background(), cutoff)
	if err != nil || count != 3 {
		t.Fatalf("PurgeFinished() = %d, %v", count, err)
	}
	assertSQLMock(t, mock)
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
