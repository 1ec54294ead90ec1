// Package builder turns database specs into a registry of live adapters.
package builder

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/queryzen/queryzen/internal/database"
	"github.com/queryzen/queryzen/internal/database/httpsql"
	"github.com/queryzen/queryzen/internal/database/sqldb"
)

// Build opens every database in file. On failure the adapters opened so far
// are closed.
func Build(ctx context.Context, file database.File) (*database.Registry, error) {
	adapters := make(map[string]database.Adapter, len(file.Databases))
	closeAll := func() error {
		registry, err := database.NewRegistry("", adapters)
		if err != nil {
			return err
		}
		return registry.Close()
	}

	for _, spec := range file.Databases {
		adapter, err := open(ctx, spec)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("open database %q: %w", spec.Name, err), closeAll())
		}
		adapters[spec.Name] = adapter
	}

	registry, err := database.NewRegistry(file.Default, adapters)
	if err != nil {
		return nil, errors.Join(err, closeAll())
	}
	return registry, nil
}

// Load builds the registry described by the YAML file at path. An empty path
// registers the in-memory SQLite database defaultName. A file without a
// default uses defaultName when it names one of its databases.
func Load(ctx context.Context, path, defaultName string) (*database.Registry, error) {
	if strings.TrimSpace(path) == "" {
		return Build(ctx, database.DefaultFile(defaultName))
	}
	file, err := database.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if file.Default == "" {
		for _, spec := range file.Databases {
			if spec.Name == defaultName {
				file.Default = defaultName
			}
		}
	}
	return Build(ctx, file)
}

func open(ctx context.Context, spec database.Spec) (database.Adapter, error) {
	switch database.NormalizeDriver(spec.Driver) {
	case database.DriverHTTP:
		return httpsql.New(httpsql.Config{URL: spec.URL, Headers: spec.Headers, Timeout: spec.Timeout})
	default:
		return sqldb.Open(ctx, sqldb.Config{
			Driver:       spec.Driver,
			DSN:          spec.DSN,
			MaxOpenConns: spec.MaxOpenConns,
			PingTimeout:  spec.Timeout,
		})
	}
}
