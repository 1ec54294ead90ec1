// Package sqldb runs Zens against engines reachable through database/sql:
// embedded DuckDB and SQLite, PostgreSQL and MySQL.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb/v2"
	_ "github.com/mattn/go-sqlite3"

	"github.com/queryzen/queryzen/internal/database"
	"github.com/queryzen/queryzen/internal/sqltemplate"
)

type Config struct {
	Driver       string
	DSN          string
	MaxOpenConns int
	PingTimeout  time.Duration
}

type Adapter struct {
	db      *sql.DB
	driver  string
	dialect []sqltemplate.Option
}

var _ database.Adapter = (*Adapter)(nil)

// Open connects to the configured engine and verifies the connection.
func Open(ctx context.Context, cfg Config) (*Adapter, error) {
	driver := database.NormalizeDriver(cfg.Driver)
	driverName, err := sqlDriverName(driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	switch {
	case driver == database.DriverSQLite:
		// single writer
		db.SetMaxOpenConns(1)
	case cfg.MaxOpenConns > 0:
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	pingTimeout := cfg.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return New(db, driver), nil
}

// New wraps an already opened handle.
func New(db *sql.DB, driver string) *Adapter {
	driver = database.NormalizeDriver(driver)
	return &Adapter{db: db, driver: driver, dialect: dialectOptions(driver)}
}

func (a *Adapter) Driver() string {
	return a.driver
}

// Execute renders sqlText with params and runs it. The rendered text is
// returned in the outcome even when the engine rejects it.
func (a *Adapter) Execute(ctx context.Context, sqlText string, params map[string]any) (database.Outcome, error) {
	rendered, err := sqltemplate.SafeReplace(sqlText, params, a.dialect...)
	if err != nil {
		return database.Outcome{}, fmt.Errorf("render sql: %w", err)
	}
	outcome := database.Outcome{Query: rendered}

	statement := stripTrailingSemicolons(rendered)
	if statement == "" {
		return outcome, fmt.Errorf("sql is required")
	}

	rows, err := a.db.QueryContext(ctx, statement)
	if err != nil {
		return outcome, err
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return outcome, fmt.Errorf("query columns: %w", err)
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return outcome, fmt.Errorf("scan row: %w", err)
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return outcome, err
	}

	outcome.Columns = columns
	outcome.Rows = resultRows
	return outcome, nil
}

func (a *Adapter) Close() error {
	return a.db.Close()
}

// dialectOptions returns the rendering rules of driver. MySQL quotes
// identifiers with backticks and, unless NO_BACKSLASH_ESCAPES is set, reads a
// backslash inside a string as an escape.
func dialectOptions(driver string) []sqltemplate.Option {
	if driver == database.DriverMySQL {
		return []sqltemplate.Option{
			sqltemplate.WithIdentQuote('`'),
			sqltemplate.WithBackslashEscapes(),
		}
	}
	return []sqltemplate.Option{sqltemplate.WithIdentQuote(sqltemplate.DefaultIdentQuote)}
}

func sqlDriverName(driver string) (string, error) {
	switch driver {
	case database.DriverDuckDB:
		return "duckdb", nil
	case database.DriverSQLite:
		return "sqlite3", nil
	case database.DriverPostgres:
		return "pgx", nil
	case database.DriverMySQL:
		return "mysql", nil
	default:
		return "", fmt.Errorf("unsupported sql driver %q", driver)
	}
}

// normalizeValues converts driver values into JSON-friendly ones.
func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		case map[any]any:
			converted := make(map[string]any, len(typed))
			for k, v := range typed {
				converted[fmt.Sprint(k)] = v
			}
			normalized[i] = converted
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
