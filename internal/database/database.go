// Package database abstracts the target databases Zens run against.
package database

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Outcome is the canonical shape of one adapter call. Query holds the literal
// SQL sent to the engine and is set whenever rendering succeeded, even if the
// engine then failed.
type Outcome struct {
	Columns []string
	Rows    [][]any
	Query   string
	// RowCount is authoritative only when RowCountKnown is set.
	RowCount      int64
	RowCountKnown bool
}

// EffectiveRowCount prefers the engine-reported count and falls back to the
// number of returned rows.
func (o Outcome) EffectiveRowCount() int64 {
	if o.RowCountKnown && o.RowCount >= 0 {
		return o.RowCount
	}
	return int64(len(o.Rows))
}

type Adapter interface {
	Execute(ctx context.Context, sqlText string, params map[string]any) (Outcome, error)
}

// Registry maps symbolic database names to adapters. It is immutable once
// built.
type Registry struct {
	adapters    map[string]Adapter
	defaultName string
}

func NewRegistry(defaultName string, adapters map[string]Adapter) (*Registry, error) {
	copied := make(map[string]Adapter, len(adapters))
	for name, adapter := range adapters {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("database name is required")
		}
		if adapter == nil {
			return nil, fmt.Errorf("database %q has no adapter", name)
		}
		copied[name] = adapter
	}
	defaultName = strings.TrimSpace(defaultName)
	if defaultName != "" {
		if _, ok := copied[defaultName]; !ok {
			return nil, fmt.Errorf("default database %q is not configured", defaultName)
		}
	}
	return &Registry{adapters: copied, defaultName: defaultName}, nil
}

// Lookup resolves name, or the default database when name is empty.
func (r *Registry) Lookup(name string) (Adapter, bool) {
	if r == nil {
		return nil, false
	}
	adapter, ok := r.adapters[r.Resolve(name)]
	return adapter, ok
}

// Resolve returns the name Lookup would use for name.
func (r *Registry) Resolve(name string) string {
	name = strings.TrimSpace(name)
	if name == "" && r != nil {
		return r.defaultName
	}
	return name
}

func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes every adapter that holds resources.
func (r *Registry) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	for _, name := range r.Names() {
		if closer, ok := r.adapters[name].(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close database %q: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}
