package database

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DriverDuckDB   = "duckdb"
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverHTTP     = "http"
)

// Spec describes one configured target database.
type Spec struct {
	Name         string            `yaml:"name"`
	Driver       string            `yaml:"driver"`
	DSN          string            `yaml:"dsn"`
	URL          string            `yaml:"url"`
	Headers      map[string]string `yaml:"headers"`
	Timeout      time.Duration     `yaml:"timeout"`
	MaxOpenConns int               `yaml:"max_open_conns"`
}

// File is the on-disk registry layout.
type File struct {
	Default   string `yaml:"default"`
	Databases []Spec `yaml:"databases"`
}

// DefaultFile registers a single in-memory SQLite database under name.
func DefaultFile(name string) File {
	return File{
		Default: name,
		Databases: []Spec{{
			Name:   name,
			Driver: DriverSQLite,
			DSN:    "file:" + name + "?mode=memory&cache=shared",
		}},
	}
}

func LoadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read database file %q: %w", path, err)
	}
	file, err := ParseFile(data)
	if err != nil {
		return File{}, fmt.Errorf("parse database file %q: %w", path, err)
	}
	return file, nil
}

func ParseFile(data []byte) (File, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return File{}, err
	}

	seen := map[string]struct{}{}
	for i := range file.Databases {
		spec := &file.Databases[i]
		spec.Name = strings.TrimSpace(spec.Name)
		spec.Driver = NormalizeDriver(spec.Driver)
		if spec.Name == "" {
			return File{}, fmt.Errorf("databases[%d]: name is required", i)
		}
		if _, ok := seen[spec.Name]; ok {
			return File{}, fmt.Errorf("databases[%d]: duplicate name %q", i, spec.Name)
		}
		seen[spec.Name] = struct{}{}

		switch spec.Driver {
		case DriverDuckDB, DriverSQLite, DriverPostgres, DriverMySQL:
			if spec.Driver != DriverDuckDB && strings.TrimSpace(spec.DSN) == "" {
				return File{}, fmt.Errorf("database %q: dsn is required for driver %s", spec.Name, spec.Driver)
			}
		case DriverHTTP:
			if strings.TrimSpace(spec.URL) == "" {
				return File{}, fmt.Errorf("database %q: url is required for driver http", spec.Name)
			}
		default:
			return File{}, fmt.Errorf("database %q: unsupported driver %q", spec.Name, spec.Driver)
		}
	}
	return file, nil
}

// NormalizeDriver maps accepted aliases to the canonical driver names.
func NormalizeDriver(driver string) string {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "duckdb":
		return DriverDuckDB
	case "sqlite", "sqlite3":
		return DriverSQLite
	case "postgres", "postgresql", "pgx":
		return DriverPostgres
	case "mysql", "mariadb":
		return DriverMySQL
	case "http", "crate", "cratedb":
		return DriverHTTP
	default:
		return strings.ToLower(strings.TrimSpace(driver))
	}
}
