package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/queryzen/queryzen/internal/zen"
)

const (
	defaultFilterLimit = 100
	maxFilterLimit     = 1000
	// Concurrent explicit creates can take the next version between the
	// advisory lock and the insert; auto creation retries on that conflict.
	maxAutoVersionAttempts = 3
)

const zenColumns = `zen_id, collection, name, version, query, description, default_parameters, state, created_at`

const executionColumns = `execution_id, zen_id, state, query, parameters, error, row_count, started_at, finished_at, total_time_ms, result_path`

type dbTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

type Repository struct {
	db    *sql.DB
	newID func() string
}

var _ zen.Repository = (*Repository)(nil)

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, newID: uuid.NewString}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping store db: %w", err)
	}
	return nil
}

// CreateZen inserts a new Zen. Every create of a (collection, name) holds a
// transaction-scoped advisory lock on that pair, so explicit and Latest
// creates of one name are serialized. An explicit version is claimed with a
// conditional insert guarded by the (collection, name, version) unique
// constraint. Latest assigns max+1.
func (r *Repository) CreateZen(ctx context.Context, in zen.CreateZenInput) (zen.Zen, error) {
	defaults, err := encodeParameters(in.DefaultParameters)
	if err != nil {
		return zen.Zen{}, fmt.Errorf("encode default parameters: %w", err)
	}

	created := zen.Zen{
		ID:                r.newID(),
		Collection:        in.Collection,
		Name:              in.Name,
		Version:           in.Version,
		Query:             in.Query,
		Description:       in.Description,
		DefaultParameters: in.DefaultParameters,
	}

	if !in.Version.IsLatest() {
		if err := r.insertVersion(ctx, &created, defaults); err != nil {
			return zen.Zen{}, err
		}
		return created, nil
	}

	for attempt := 1; ; attempt++ {
		err := r.insertNextVersion(ctx, &created, defaults)
		if err == nil {
			return created, nil
		}
		if !hasSQLState(err, codeUniqueViolation) {
			return zen.Zen{}, err
		}
		if attempt >= maxAutoVersionAttempts {
			return zen.Zen{}, zen.ErrAlreadyExists
		}
	}
}

func (r *Repository) insertVersion(ctx context.Context, created *zen.Zen, defaults string) error {
	return r.withTx(ctx, func(tx dbTX) error {
		if err := lockZenName(ctx, tx, created.Collection, created.Name); err != nil {
			return err
		}

		query := `
INSERT INTO zen (zen_id, collection, name, version, query, description, default_parameters)
VALUES ($1, $2, $3, $4, $5, $6, $7::json)
ON CONFLICT (collection, name, version) DO NOTHING
RETURNING version, state, created_at`
		row := tx.QueryRowContext(ctx, query, created.ID, created.Collection, created.Name, int(created.Version), created.Query, created.Description, defaults)
		if err := row.Scan(&created.Version, &created.State, &created.CreatedAt); err != nil {
			if errors.Is(err, sql.ErrNoRows) || hasSQLState(err, codeUniqueViolation) {
				return zen.ErrAlreadyExists
			}
			return fmt.Errorf("create zen: %w", err)
		}
		return nil
	})
}

func (r *Repository) insertNextVersion(ctx context.Context, created *zen.Zen, defaults string) error {
	return r.withTx(ctx, func(tx dbTX) error {
		if err := lockZenName(ctx, tx, created.Collection, created.Name); err != nil {
			return err
		}

		query := `
INSERT INTO zen (zen_id, collection, name, version, query, description, default_parameters)
SELECT $1::uuid, $2::text, $3::text, COALESCE(MAX(version), 0) + 1, $4::text, $5::text, $6::json
FROM zen
WHERE collection = $2::text AND name = $3::text
RETURNING version, state, created_at`
		row := tx.QueryRowContext(ctx, query, created.ID, created.Collection, created.Name, created.Query, created.Description, defaults)
		if err := row.Scan(&created.Version, &created.State, &created.CreatedAt); err != nil {
			return fmt.Errorf("create zen with next version: %w", err)
		}
		return nil
	})
}

func lockZenName(ctx context.Context, tx dbTX, collection, name string) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1::text || '/' || $2::text))`, collection, name); err != nil {
		return fmt.Errorf("lock zen name: %w", err)
	}
	return nil
}

func (r *Repository) GetZen(ctx context.Context, collection, name string, version zen.Version) (zen.Zen, error) {
	query, args := selectZenQuery(collection, name, version, "")
	z, err := scanZen(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return zen.Zen{}, zen.ErrNotFound
		}
		return zen.Zen{}, fmt.Errorf("get zen: %w", err)
	}
	return z, nil
}

func (r *Repository) GetZenByID(ctx context.Context, zenID string) (zen.Zen, error) {
	query := `
SELECT ` + zenColumns + `
FROM zen
WHERE zen_id = $1`
	z, err := scanZen(r.db.QueryRowContext(ctx, query, zenID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return zen.Zen{}, zen.ErrNotFound
		}
		return zen.Zen{}, fmt.Errorf("get zen by id: %w", err)
	}
	return z, nil
}

func (r *Repository) FilterZens(ctx context.Context, filter zen.Filter) ([]zen.Zen, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if filter.Collection != "" {
		add("collection = $%d", filter.Collection)
	}
	if filter.CollectionContains != "" {
		add("strpos(collection, $%d) > 0", filter.CollectionContains)
	}
	if filter.Name != "" {
		add("name = $%d", filter.Name)
	}
	if filter.NameContains != "" {
		add("strpos(name, $%d) > 0", filter.NameContains)
	}
	if filter.Version != nil {
		add("version = $%d", *filter.Version)
	}
	if filter.VersionGT != nil {
		add("version > $%d", *filter.VersionGT)
	}
	if filter.VersionLT != nil {
		add("version < $%d", *filter.VersionLT)
	}
	if filter.State != "" {
		add("state = $%d", string(filter.State))
	}
	if filter.ExecutionState != "" {
		add("EXISTS (SELECT 1 FROM execution e WHERE e.zen_id = zen.zen_id AND e.state = $%d)", string(filter.ExecutionState))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultFilterLimit
	}
	if limit > maxFilterLimit {
		limit = maxFilterLimit
	}

	var b strings.Builder
	b.WriteString("\nSELECT " + zenColumns + "\nFROM zen")
	if len(where) > 0 {
		b.WriteString("\nWHERE " + strings.Join(where, "\n  AND "))
	}
	args = append(args, limit)
	fmt.Fprintf(&b, "\nORDER BY collection ASC, name ASC, version ASC\nLIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("filter zens: %w", err)
	}
	defer func() { _ = rows.Close() }()

	zens := make([]zen.Zen, 0)
	for rows.Next() {
		z, err := scanZen(rows)
		if err != nil {
			return nil, fmt.Errorf("scan zen row: %w", err)
		}
		zens = append(zens, z)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate zen rows: %w", err)
	}
	return zens, nil
}

// DeleteZen removes a Zen and, through the foreign key, its executions. The
// archived result paths of those executions are returned for cleanup.
func (r *Repository) DeleteZen(ctx context.Context, collection, name string, version zen.Version) (zen.DeletedZen, error) {
	var deleted zen.DeletedZen
	err := r.withTx(ctx, func(tx dbTX) error {
		query, args := selectZenQuery(collection, name, version, "FOR UPDATE")
		z, err := scanZen(tx.QueryRowContext(ctx, query, args...))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return zen.ErrNotFound
			}
			return fmt.Errorf("lock zen for delete: %w", err)
		}
		deleted.ZenID = z.ID

		rows, err := tx.QueryContext(ctx, `
SELECT result_path
FROM execution
WHERE zen_id = $1 AND result_path <> ''`, z.ID)
		if err != nil {
			return fmt.Errorf("list result paths: %w", err)
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			var path string
			if err := rows.Scan(&path); err != nil {
				return fmt.Errorf("scan result path: %w", err)
			}
			deleted.ResultPaths = append(deleted.ResultPaths, path)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate result paths: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM zen WHERE zen_id = $1`, z.ID); err != nil {
			return fmt.Errorf("delete zen: %w", err)
		}
		return nil
	})
	if err != nil {
		return zen.DeletedZen{}, err
	}
	return deleted, nil
}

// RecordExecution appends an execution and sets the owning Zen's state to the
// execution's state in one transaction.
func (r *Repository) RecordExecution(ctx context.Context, execution zen.Execution) error {
	if (execution.State == zen.StateInvalid) != (execution.Error != "") {
		return fmt.Errorf("record execution: state %s inconsistent with error %q", execution.State, execution.Error)
	}
	params, err := encodeParameters(execution.Parameters)
	if err != nil {
		return fmt.Errorf("encode execution parameters: %w", err)
	}

	return r.withTx(ctx, func(tx dbTX) error {
		result, err := tx.ExecContext(ctx, `UPDATE zen SET state = $2 WHERE zen_id = $1`, execution.ZenID, string(execution.State))
		if err != nil {
			return fmt.Errorf("update zen state: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("update zen state rows affected: %w", err)
		}
		if affected == 0 {
			return zen.ErrNotFound
		}

		query := `
INSERT INTO execution (` + executionColumns + `)
VALUES ($1, $2, $3, $4, $5::json, $6, $7, $8, $9, $10, $11)`
		if _, err := tx.ExecContext(ctx, query,
			execution.ID,
			execution.ZenID,
			string(execution.State),
			execution.Query,
			params,
			execution.Error,
			execution.RowCount,
			execution.StartedAt,
			execution.FinishedAt,
			execution.TotalTimeMs,
			execution.ResultPath,
		); err != nil {
			if hasSQLState(err, codeForeignKeyViolation) {
				return zen.ErrNotFound
			}
			return fmt.Errorf("insert execution: %w", err)
		}
		return nil
	})
}

func (r *Repository) ListExecutions(ctx context.Context, zenID string, limit int) ([]zen.Execution, error) {
	if limit <= 0 {
		limit = defaultFilterLimit
	}
	query := `
SELECT ` + executionColumns + `
FROM execution
WHERE zen_id = $1
ORDER BY started_at DESC
LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, zenID, limit)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	executions := make([]zen.Execution, 0)
	for rows.Next() {
		var (
			execution zen.Execution
			state     string
			params    []byte
		)
		if err := rows.Scan(
			&execution.ID,
			&execution.ZenID,
			&state,
			&execution.Query,
			&params,
			&execution.Error,
			&execution.RowCount,
			&execution.StartedAt,
			&execution.FinishedAt,
			&execution.TotalTimeMs,
			&execution.ResultPath,
		); err != nil {
			return nil, fmt.Errorf("scan execution row: %w", err)
		}
		execution.State = zen.State(state)
		if execution.Parameters, err = decodeParameters(params); err != nil {
			return nil, fmt.Errorf("decode execution parameters: %w", err)
		}
		executions = append(executions, execution)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate execution rows: %w", err)
	}
	return executions, nil
}

func (r *Repository) ExecutionTimes(ctx context.Context, zenID string) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT total_time_ms
FROM execution
WHERE zen_id = $1
ORDER BY started_at ASC`, zenID)
	if err != nil {
		return nil, fmt.Errorf("list execution times: %w", err)
	}
	defer func() { _ = rows.Close() }()

	times := make([]int64, 0)
	for rows.Next() {
		var ms int64
		if err := rows.Scan(&ms); err != nil {
			return nil, fmt.Errorf("scan execution time: %w", err)
		}
		times = append(times, ms)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate execution times: %w", err)
	}
	return times, nil
}

func (r *Repository) ListCollections(ctx context.Context) ([]zen.CollectionSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT collection, COUNT(*)
FROM zen
GROUP BY collection
ORDER BY collection ASC`)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	collections := make([]zen.CollectionSummary, 0)
	for rows.Next() {
		var summary zen.CollectionSummary
		if err := rows.Scan(&summary.Collection, &summary.ZenCount); err != nil {
			return nil, fmt.Errorf("scan collection row: %w", err)
		}
		collections = append(collections, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collection rows: %w", err)
	}
	return collections, nil
}

func (r *Repository) withTx(ctx context.Context, fn func(tx dbTX) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func selectZenQuery(collection, name string, version zen.Version, suffix string) (string, []any) {
	query := `
SELECT ` + zenColumns + `
FROM zen
WHERE collection = $1 AND name = $2`
	args := []any{collection, name}
	if version.IsLatest() {
		query += `
ORDER BY version DESC
LIMIT 1`
	} else {
		query += ` AND version = $3`
		args = append(args, int(version))
	}
	if suffix != "" {
		query += "\n" + suffix
	}
	return query, args
}

func scanZen(row scanner) (zen.Zen, error) {
	var (
		z        zen.Zen
		state    string
		defaults []byte
	)
	if err := row.Scan(
		&z.ID,
		&z.Collection,
		&z.Name,
		&z.Version,
		&z.Query,
		&z.Description,
		&defaults,
		&state,
		&z.CreatedAt,
	); err != nil {
		return zen.Zen{}, err
	}
	z.State = zen.State(state)
	params, err := decodeParameters(defaults)
	if err != nil {
		return zen.Zen{}, fmt.Errorf("decode default parameters: %w", err)
	}
	z.DefaultParameters = params
	return z, nil
}

func encodeParameters(params map[string]any) (string, error) {
	if len(params) == 0 {
		return "{}", nil
	}
	encoded, err := json.Marshal(params)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

// decodeParameters keeps numbers as json.Number so they render with the
// exact text they were stored with.
func decodeParameters(raw []byte) (map[string]any, error) {
	params := map[string]any{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return params, nil
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&params); err != nil {
		return nil, err
	}
	if params == nil {
		params = map[string]any{}
	}
	return params, nil
}
