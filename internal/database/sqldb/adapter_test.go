package sqldb

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/queryzen/queryzen/internal/database"
	"github.com/queryzen/queryzen/internal/sqltemplate"
)

func TestExecuteRendersAndScans(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(`SELECT name, city FROM "people" WHERE name = 'O''Brien' AND age > 30`).
		WillReturnRows(sqlmock.NewRows([]string{"name", "city"}).AddRow([]byte("O'Brien"), "Cork"))

	adapter := New(db, "postgres")
	outcome, err := adapter.Execute(context.Background(),
		"SELECT name, city FROM IDENT(:table) WHERE name = :name AND age > :age;",
		map[string]any{"table": "people", "name": "O'Brien", "age": 30},
	)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if outcome.Query != `SELECT name, city FROM "people" WHERE name = 'O''Brien' AND age > 30;` {
		t.Fatalf("Query = %q", outcome.Query)
	}
	if len(outcome.Rows) != 1 || outcome.Rows[0][0] != "O'Brien" {
		t.Fatalf("Rows = %#v", outcome.Rows)
	}
	if outcome.EffectiveRowCount() != 1 {
		t.Fatalf("EffectiveRowCount() = %d", outcome.EffectiveRowCount())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestExecuteReturnsRenderedQueryOnEngineError(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT nope FROM t")).
		WillReturnError(errors.New(`column "nope" does not exist`))

	outcome, err := New(db, "postgres").Execute(context.Background(), "SELECT nope FROM t", nil)
	if err == nil || !strings.Contains(err.Error(), "nope") {
		t.Fatalf("Execute() error = %v", err)
	}
	if outcome.Query != "SELECT nope FROM t" {
		t.Fatalf("Query = %q", outcome.Query)
	}
}

func TestExecuteRejectsUnsupportedParameter(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	_, err = New(db, "sqlite").Execute(context.Background(), "SELECT :a", map[string]any{"a": []string{"x"}})
	if !errors.Is(err, sqltemplate.ErrUnsupportedType) {
		t.Fatalf("Execute() error = %v, want ErrUnsupportedType", err)
	}
}

func TestMySQLUsesBacktickIdentifiers(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("SELECT * FROM `orders`").WillReturnRows(sqlmock.NewRows([]string{"id"}))

	adapter := New(db, "mariadb")
	if adapter.Driver() != database.DriverMySQL {
		t.Fatalf("Driver() = %q", adapter.Driver())
	}
	outcome, err := adapter.Execute(context.Background(), "SELECT * FROM IDENT(:t)", map[string]any{"t": "orders"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(outcome.Rows) != 0 || len(outcome.Columns) != 1 {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
}

func TestMySQLEscapesBackslashesInLiterals(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(`SELECT * FROM users WHERE name = '\\'' OR 1=1 -- '`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SELECT * FROM users WHERE note = 'it\'s :note' AND id = 1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	adapter := New(db, "mysql")
	outcome, err := adapter.Execute(context.Background(),
		"SELECT * FROM users WHERE name = :name",
		map[string]any{"name": `\' OR 1=1 -- `},
	)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if outcome.Query != `SELECT * FROM users WHERE name = '\\'' OR 1=1 -- '` {
		t.Fatalf("Query = %q", outcome.Query)
	}

	if _, err := adapter.Execute(context.Background(),
		`SELECT * FROM users WHERE note = 'it\'s :note' AND id = :id`,
		map[string]any{"note": "x", "id": 1},
	); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestPostgresKeepsBackslashesVerbatim(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(`SELECT * FROM users WHERE name = '\'' OR 1=1 -- '`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := New(db, "postgres").Execute(context.Background(),
		"SELECT * FROM users WHERE name = :name",
		map[string]any{"name": `\' OR 1=1 -- `},
	); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestEmbeddedSQLiteRoundTrip(t *testing.T) {
	adapter, err := Open(context.Background(), Config{Driver: "sqlite", DSN: "file::memory:?cache=shared"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = adapter.Close() }()

	if _, err := adapter.Execute(context.Background(), "CREATE TABLE IF NOT EXISTS city (name TEXT, population INTEGER)", nil); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := adapter.Execute(context.Background(), "INSERT INTO city VALUES (:name, :pop)", map[string]any{"name": "Mountain View", "pop": 82000}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	outcome, err := adapter.Execute(context.Background(), "SELECT name, population FROM city WHERE population > :min", map[string]any{"min": 1000})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(outcome.Rows) != 1 || outcome.Rows[0][0] != "Mountain View" || outcome.Rows[0][1] != int64(82000) {
		t.Fatalf("Rows = %#v", outcome.Rows)
	}

	if _, err := adapter.Execute(context.Background(), "SELECT missing_column FROM city", nil); err == nil {
		t.Fatal("expected engine error for missing column")
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), Config{Driver: "oracle"}); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}
