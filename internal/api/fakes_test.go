package api

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/queryzen/queryzen/internal/config"
	"github.com/queryzen/queryzen/internal/dispatch"
	"github.com/queryzen/queryzen/internal/zen"
)

type memoryZens struct {
	mu         sync.Mutex
	zens       []zen.Zen
	executions map[string][]zen.Execution
	times      map[string][]int64
	resultPath map[string][]string
	failWith   error
}

func newMemoryZens() *memoryZens {
	return &memoryZens{
		executions: map[string][]zen.Execution{},
		times:      map[string][]int64{},
		resultPath: map[string][]string{},
	}
}

func (m *memoryZens) CreateZen(_ context.Context, in zen.CreateZenInput) (zen.Zen, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return zen.Zen{}, m.failWith
	}
	version := int(in.Version)
	latest := 0
	for _, z := range m.zens {
		if z.Collection == in.Collection && z.Name == in.Name {
			if z.Version == version {
				return zen.Zen{}, zen.ErrAlreadyExists
			}
			latest = max(latest, z.Version)
		}
	}
	if in.Version.IsLatest() {
		version = latest + 1
	}
	created := zen.Zen{
		ID:                in.Collection + "/" + in.Name + "/" + zen.Version(version).String(),
		Collection:        in.Collection,
		Name:              in.Name,
		Version:           version,
		Query:             in.Query,
		Description:       in.Description,
		DefaultParameters: in.DefaultParameters,
		State:             zen.StateUnknown,
		CreatedAt:         time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC),
	}
	m.zens = append(m.zens, created)
	return created, nil
}

func (m *memoryZens) GetZen(_ context.Context, collection, name string, version zen.Version) (zen.Zen, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.find(collection, name, version)
}

func (m *memoryZens) find(collection, name string, version zen.Version) (zen.Zen, error) {
	if m.failWith != nil {
		return zen.Zen{}, m.failWith
	}
	var found *zen.Zen
	for i, z := range m.zens {
		if z.Collection != collection || z.Name != name {
			continue
		}
		if version.IsLatest() && (found == nil || z.Version > found.Version) || z.Version == int(version) {
			found = &m.zens[i]
		}
	}
	if found == nil {
		return zen.Zen{}, zen.ErrNotFound
	}
	return *found, nil
}

func (m *memoryZens) FilterZens(_ context.Context, filter zen.Filter) ([]zen.Zen, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	var out []zen.Zen
	for _, z := range m.zens {
		if filter.Collection != "" && z.Collection != filter.Collection {
			continue
		}
		if filter.NameContains != "" && !strings.Contains(z.Name, filter.NameContains) {
			continue
		}
		if filter.VersionGT != nil && z.Version <= *filter.VersionGT {
			continue
		}
		if filter.State != "" && z.State != filter.State {
			continue
		}
		out = append(out, z)
	}
	return out, nil
}

func (m *memoryZens) DeleteZen(_ context.Context, collection, name string, version zen.Version) (zen.DeletedZen, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	z, err := m.find(collection, name, version)
	if err != nil {
		return zen.DeletedZen{}, err
	}
	kept := m.zens[:0]
	for _, candidate := range m.zens {
		if candidate.ID != z.ID {
			kept = append(kept, candidate)
		}
	}
	m.zens = kept
	return zen.DeletedZen{ZenID: z.ID, ResultPaths: m.resultPath[z.ID]}, nil
}

func (m *memoryZens) ListExecutions(_ context.Context, zenID string, limit int) ([]zen.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	executions := m.executions[zenID]
	if limit > 0 && len(executions) > limit {
		executions = executions[:limit]
	}
	return executions, nil
}

func (m *memoryZens) ExecutionTimes(_ context.Context, zenID string) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.times[zenID], nil
}

func (m *memoryZens) ListCollections(context.Context) ([]zen.CollectionSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	counts := map[string]int64{}
	for _, z := range m.zens {
		counts[z.Collection]++
	}
	out := make([]zen.CollectionSummary, 0, len(counts))
	for name, count := range counts {
		out = append(out, zen.CollectionSummary{Collection: name, ZenCount: count})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Collection < out[j].Collection })
	return out, nil
}

type stubRunner struct {
	last      dispatch.RunRequest
	execution zen.Execution
	err       error
}

func (s *stubRunner) Run(_ context.Context, req dispatch.RunRequest) (zen.Execution, error) {
	s.last = req
	return s.execution, s.err
}

type recordingRemover struct {
	paths []string
}

func (r *recordingRemover) Remove(_ context.Context, paths []string) error {
	r.paths = append(r.paths, paths...)
	return nil
}

type staticNames []string

func (s staticNames) Names() []string { return s }

func testConfig() config.Config {
	cfg, err := config.Load("queryzen-api", mapLookup(map[string]string{"QUERYZEN_PROFILE": "test"}))
	if err != nil {
		panic(err)
	}
	return cfg
}

func mapLookup(values map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
