package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/queryzen/queryzen/internal/database"
	"github.com/queryzen/queryzen/internal/queue"
	"github.com/queryzen/queryzen/internal/sqltemplate"
	"github.com/queryzen/queryzen/internal/zen"
)

type fakeZens struct {
	mu         sync.Mutex
	zens       map[string]zen.Zen
	executions []zen.Execution
	recordErr  error
}

func newFakeZens(zens ...zen.Zen) *fakeZens {
	f := &fakeZens{zens: map[string]zen.Zen{}}
	for _, z := range zens {
		if z.State == "" {
			z.State = zen.StateUnknown
		}
		f.zens[z.ID] = z
	}
	return f
}

func (f *fakeZens) GetZen(_ context.Context, collection, name string, version zen.Version) (zen.Zen, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var found *zen.Zen
	for _, z := range f.zens {
		if z.Collection != collection || z.Name != name {
			continue
		}
		if version.IsLatest() {
			if found == nil || z.Version > found.Version {
				found = &z
			}
			continue
		}
		if z.Version == int(version) {
			found = &z
		}
	}
	if found == nil {
		return zen.Zen{}, zen.ErrNotFound
	}
	return *found, nil
}

func (f *fakeZens) GetZenByID(_ context.Context, zenID string) (zen.Zen, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	z, ok := f.zens[zenID]
	if !ok {
		return zen.Zen{}, zen.ErrNotFound
	}
	return z, nil
}

func (f *fakeZens) RecordExecution(_ context.Context, execution zen.Execution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return f.recordErr
	}
	z, ok := f.zens[execution.ZenID]
	if !ok {
		return zen.ErrNotFound
	}
	z.State = execution.State
	f.zens[z.ID] = z
	execution.Columns = nil
	execution.Rows = nil
	f.executions = append(f.executions, execution)
	return nil
}

func (f *fakeZens) state(zenID string) zen.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.zens[zenID].State
}

// scriptedAdapter renders like a real adapter and then returns the next
// scripted outcome.
type scriptedAdapter struct {
	mu      sync.Mutex
	results []scriptedResult
	block   bool
	calls   int
}

type scriptedResult struct {
	columns []string
	rows    [][]any
	err     error
}

func (a *scriptedAdapter) Execute(ctx context.Context, sqlText string, params map[string]any) (database.Outcome, error) {
	a.mu.Lock()
	a.calls++
	var next scriptedResult
	if len(a.results) > 0 {
		next = a.results[0]
		a.results = a.results[1:]
	}
	a.mu.Unlock()

	rendered, err := sqltemplate.SafeReplace(sqlText, params)
	if err != nil {
		return database.Outcome{}, err
	}
	outcome := database.Outcome{Query: rendered}
	if a.block {
		<-ctx.Done()
		return outcome, ctx.Err()
	}
	if next.err != nil {
		return outcome, next.err
	}
	outcome.Columns = next.columns
	outcome.Rows = next.rows
	return outcome, nil
}

func (a *scriptedAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type stubBroker struct {
	submitErr error
	awaitFn   func(ctx context.Context) (queue.Result, error)
	submitted []queue.Job
}

func (b *stubBroker) Submit(_ context.Context, job queue.Job) (string, error) {
	if b.submitErr != nil {
		return "", b.submitErr
	}
	b.submitted = append(b.submitted, job)
	return job.JobID, nil
}

func (b *stubBroker) Await(ctx context.Context, _ string) (queue.Result, error) {
	if b.awaitFn == nil {
		return queue.Result{}, errors.New("no await configured")
	}
	return b.awaitFn(ctx)
}

type fakeQueue struct {
	jobs      []queue.Job
	claimErr  error
	completed map[string]zen.Execution
	failed    map[string]string
	cutoff    time.Time
	purged    int64
	claimedBy string
	leaseLost bool

	mu       sync.Mutex
	extended []string
}

func newFakeQueue(jobs ...queue.Job) *fakeQueue {
	return &fakeQueue{jobs: jobs, completed: map[string]zen.Execution{}, failed: map[string]string{}}
}

func (q *fakeQueue) Claim(_ context.Context, owner string, _ time.Duration) (queue.Job, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.claimedBy = owner
	if q.claimErr != nil {
		return queue.Job{}, false, q.claimErr
	}
	if len(q.jobs) == 0 {
		return queue.Job{}, false, nil
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	job.Attempt++
	return job, true, nil
}

func (q *fakeQueue) Extend(_ context.Context, jobID, owner string, _ time.Duration) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.extended = append(q.extended, jobID+"@"+owner)
	return !q.leaseLost, nil
}

func (q *fakeQueue) extensions() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.extended...)
}

func (q *fakeQueue) Complete(_ context.Context, jobID, _ string, execution zen.Execution) error {
	q.completed[jobID] = execution
	return nil
}

func (q *fakeQueue) Fail(_ context.Context, jobID, _ string, reason string) error {
	q.failed[jobID] = reason
	return nil
}

func (q *fakeQueue) PurgeFinished(_ context.Context, cutoff time.Time) (int64, error) {
	q.cutoff = cutoff
	return q.purged, nil
}

func newRegistry(adapters map[string]database.Adapter) *database.Registry {
	registry, err := database.NewRegistry("default", adapters)
	if err != nil {
		panic(err)
	}
	return registry
}
