// Package archive keeps the rows of successful executions as parquet objects
// in an S3-compatible bucket. The store only records the object path.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/queryzen/queryzen/internal/zen"
)

var ErrObjectNotFound = errors.New("archive: object not found")

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

const parquetContentType = "application/vnd.apache.parquet"

type Archiver struct {
	store  ObjectStore
	logger *slog.Logger
}

func New(store ObjectStore, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{store: store, logger: logger}
}

// Archive writes the execution's rows and returns the object path. Invalid
// executions have no rows worth keeping and are skipped with an empty path.
func (a *Archiver) Archive(ctx context.Context, z zen.Zen, execution zen.Execution) (string, error) {
	if execution.State != zen.StateValid {
		return "", nil
	}
	key, err := ResultPath(z.Collection, z.Name, z.Version, execution.ID)
	if err != nil {
		return "", err
	}
	payload, err := EncodeResult(execution.Columns, execution.Rows)
	if err != nil {
		return "", err
	}
	if _, err := a.store.Put(ctx, key, bytes.NewReader(payload), int64(len(payload)), parquetContentType); err != nil {
		return "", fmt.Errorf("archive execution %s: %w", execution.ID, err)
	}
	return key, nil
}

// Load reads an archived result back.
func (a *Archiver) Load(ctx context.Context, key string) (Result, error) {
	reader, err := a.store.Get(ctx, key)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = reader.Close() }()

	payload, err := io.ReadAll(reader)
	if err != nil {
		return Result{}, fmt.Errorf("read archived result %q: %w", key, err)
	}
	return DecodeResult(payload)
}

// Remove deletes every path, continuing past failures. Missing objects are
// not an error.
func (a *Archiver) Remove(ctx context.Context, paths []string) error {
	var errs []error
	for _, key := range paths {
		if key == "" {
			continue
		}
		if err := a.store.Delete(ctx, key); err != nil && !errors.Is(err, ErrObjectNotFound) {
			a.logger.WarnContext(ctx, "archived result not removed", slog.String("path", key), slog.Any("error", err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
