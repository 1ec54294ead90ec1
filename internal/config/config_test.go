package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	lookup := mapLookup(map[string]string{})
	cfg, err := Load("queryzen-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Store.MaxOpenConns != 20 {
		t.Fatalf("Store.MaxOpenConns = %d", cfg.Store.MaxOpenConns)
	}
	if cfg.Databases.Default != "default" {
		t.Fatalf("Databases.Default = %q", cfg.Databases.Default)
	}
	if cfg.Execution.Broker != BrokerMemory {
		t.Fatalf("Execution.Broker = %q", cfg.Execution.Broker)
	}
	if cfg.Execution.DefaultTimeout != 60*time.Second {
		t.Fatalf("Execution.DefaultTimeout = %s", cfg.Execution.DefaultTimeout)
	}
	if cfg.Execution.MaxDuration != 5*time.Minute {
		t.Fatalf("Execution.MaxDuration = %s", cfg.Execution.MaxDuration)
	}
	if cfg.Execution.Workers != 4 || cfg.Execution.QueueSize != 64 {
		t.Fatalf("Execution pool = %d/%d", cfg.Execution.Workers, cfg.Execution.QueueSize)
	}
	if cfg.Execution.LeaseDuration() != time.Minute {
		t.Fatalf("LeaseDuration() = %s", cfg.Execution.LeaseDuration())
	}
	if cfg.Execution.WorkerID != "" {
		t.Fatalf("Execution.WorkerID = %q, want empty", cfg.Execution.WorkerID)
	}
	if cfg.Archive.Enabled {
		t.Fatal("Archive.Enabled should default to false")
	}
	if cfg.Archive.Endpoint != "localhost:9000" {
		t.Fatalf("Archive.Endpoint = %q", cfg.Archive.Endpoint)
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	lookup := mapLookup(map[string]string{"QUERYZEN_PROFILE": "prod"})
	cfg, err := Load("queryzen-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileProd {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileProd)
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Execution.Broker != BrokerPostgres {
		t.Fatalf("Execution.Broker = %q, want postgres in prod", cfg.Execution.Broker)
	}
	if !cfg.Archive.UseSSL {
		t.Fatal("Archive.UseSSL should default to true in prod")
	}
	if cfg.Archive.AutoCreateBucket {
		t.Fatal("Archive.AutoCreateBucket should default to false in prod")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"QUERYZEN_PROFILE":                    "test",
		"QUERYZEN_SERVICE_NAME":               "queryzen-custom",
		"QUERYZEN_HTTP_ADDR":                  ":9999",
		"QUERYZEN_HTTP_READ_TIMEOUT":          "2s",
		"QUERYZEN_HTTP_WRITE_TIMEOUT":         "3s",
		"QUERYZEN_LOG_LEVEL":                  "error",
		"QUERYZEN_LOG_JSON":                   "false",
		"QUERYZEN_STORE_DSN":                  "postgres://example",
		"QUERYZEN_STORE_MAX_OPEN_CONNS":       "42",
		"QUERYZEN_STORE_MAX_IDLE_CONNS":       "17",
		"QUERYZEN_DATABASES_FILE":             "/etc/queryzen/databases.yaml",
		"QUERYZEN_DATABASES_DEFAULT":          "warehouse",
		"QUERYZEN_EXECUTION_BROKER":           "postgres",
		"QUERYZEN_EXECUTION_DEFAULT_TIMEOUT":  "15s",
		"QUERYZEN_EXECUTION_MAX_DURATION":     "2m",
		"QUERYZEN_EXECUTION_WORKERS":          "8",
		"QUERYZEN_EXECUTION_QUEUE_SIZE":       "128",
		"QUERYZEN_EXECUTION_LEASE_SECONDS":    "45",
		"QUERYZEN_EXECUTION_POLL_INTERVAL":    "900ms",
		"QUERYZEN_EXECUTION_WORKER_ID":        "worker-a",
		"QUERYZEN_EXECUTION_JOB_RETENTION":    "2h",
		"QUERYZEN_ARCHIVE_ENABLED":            "true",
		"QUERYZEN_ARCHIVE_ENDPOINT":           "s3.example.com",
		"QUERYZEN_ARCHIVE_BUCKET":             "queryzen-prod",
		"QUERYZEN_ARCHIVE_REGION":             "us-west-2",
		"QUERYZEN_ARCHIVE_ACCESS_KEY":         "abc",
		"QUERYZEN_ARCHIVE_SECRET_KEY":         "def",
		"QUERYZEN_ARCHIVE_USE_SSL":            "true",
		"QUERYZEN_ARCHIVE_PREFIX":             "tenant-root",
		"QUERYZEN_ARCHIVE_AUTO_CREATE_BUCKET": "false",
	})
	cfg, err := Load("queryzen-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "queryzen-custom" {
		t.Fatalf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.HTTP.Address != ":9999" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.HTTP.ReadTimeout != 2*time.Second || cfg.HTTP.WriteTimeout != 3*time.Second {
		t.Fatalf("HTTP timeouts = %s/%s", cfg.HTTP.ReadTimeout, cfg.HTTP.WriteTimeout)
	}
	if cfg.Observability.LogLevel != slog.LevelError || cfg.Observability.LogJSON {
		t.Fatalf("Observability = %+v", cfg.Observability)
	}
	if cfg.Store.DSN != "postgres://example" || cfg.Store.MaxOpenConns != 42 || cfg.Store.MaxIdleConns != 17 {
		t.Fatalf("Store = %+v", cfg.Store)
	}
	if cfg.Databases.File != "/etc/queryzen/databases.yaml" || cfg.Databases.Default != "warehouse" {
		t.Fatalf("Databases = %+v", cfg.Databases)
	}
	want := ExecutionConfig{
		Broker:         BrokerPostgres,
		DefaultTimeout: 15 * time.Second,
		MaxDuration:    2 * time.Minute,
		Workers:        8,
		QueueSize:      128,
		LeaseSeconds:   45,
		PollInterval:   900 * time.Millisecond,
		WorkerID:       "worker-a",
		JobRetention:   2 * time.Hour,
	}
	if cfg.Execution != want {
		t.Fatalf("Execution = %+v, want %+v", cfg.Execution, want)
	}
	if !cfg.Archive.Enabled || cfg.Archive.Endpoint != "s3.example.com" || cfg.Archive.Bucket != "queryzen-prod" {
		t.Fatalf("Archive = %+v", cfg.Archive)
	}
	if cfg.Archive.Region != "us-west-2" || cfg.Archive.Prefix != "tenant-root" {
		t.Fatalf("Archive = %+v", cfg.Archive)
	}
	if !cfg.Archive.UseSSL || cfg.Archive.AutoCreateBucket {
		t.Fatalf("Archive flags = %+v", cfg.Archive)
	}
}

func TestLoadErrorsOnInvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"QUERYZEN_PROFILE": "oops"},
		{"QUERYZEN_HTTP_READ_TIMEOUT": "NaN"},
		{"QUERYZEN_STORE_MAX_OPEN_CONNS": "oops"},
		{"QUERYZEN_EXECUTION_WORKERS": "oops"},
		{"QUERYZEN_EXECUTION_WORKERS": "0"},
		{"QUERYZEN_EXECUTION_QUEUE_SIZE": "-1"},
		{"QUERYZEN_EXECUTION_BROKER": "kafka"},
		{"QUERYZEN_EXECUTION_DEFAULT_TIMEOUT": "0s"},
		{"QUERYZEN_EXECUTION_LEASE_SECONDS": "0"},
		{"QUERYZEN_EXECUTION_LEASE_SECONDS": "2"},
		{"QUERYZEN_DATABASES_DEFAULT": ""},
		{"QUERYZEN_ARCHIVE_ENABLED": "true", "QUERYZEN_ARCHIVE_BUCKET": ""},
		{"QUERYZEN_ARCHIVE_USE_SSL": "not-bool"},
		{"QUERYZEN_LOG_LEVEL": "verbose"},
	}
	for _, env := range tests {
		_, err := Load("queryzen-api", mapLookup(env))
		if err == nil {
			t.Fatalf("Load() expected error for env %#v", env)
		}
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
