package httpsql

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestExecutePostsRenderedStatement(t *testing.T) {
	var gotStmt string
	var gotSchema string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s", r.Method)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		gotStmt = body["stmt"]
		gotSchema = r.Header.Get("Default-Schema")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"cols":["name","population"],"rows":[["Mountain View",82000]],"rowcount":1,"duration":1.2}`))
	}))
	defer server.Close()

	adapter, err := New(Config{URL: server.URL + "/_sql", Headers: map[string]string{"Default-Schema": "doc"}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	outcome, err := adapter.Execute(context.Background(), "select * from cities where name = :name", map[string]any{"name": "Mountain View"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if gotStmt != "select * from cities where name = 'Mountain View'" {
		t.Fatalf("stmt = %q", gotStmt)
	}
	if gotSchema != "doc" {
		t.Fatalf("Default-Schema header = %q", gotSchema)
	}
	if outcome.Query != gotStmt {
		t.Fatalf("Query = %q", outcome.Query)
	}
	if len(outcome.Columns) != 2 || len(outcome.Rows) != 1 {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if outcome.Rows[0][1] != json.Number("82000") {
		t.Fatalf("population = %#v", outcome.Rows[0][1])
	}
	if !outcome.RowCountKnown || outcome.EffectiveRowCount() != 1 {
		t.Fatalf("row count = %d known=%v", outcome.RowCount, outcome.RowCountKnown)
	}
}

func TestExecuteSurfacesServiceErrorMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"ColumnUnknownException[Column nope unknown]","code":4043}}`))
	}))
	defer server.Close()

	adapter, err := New(Config{URL: server.URL})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	outcome, err := adapter.Execute(context.Background(), "select nope from t", nil)
	if err == nil || !strings.Contains(err.Error(), "ColumnUnknownException") {
		t.Fatalf("Execute() error = %v", err)
	}
	if outcome.Query != "select nope from t" {
		t.Fatalf("Query = %q", outcome.Query)
	}
}

func TestExecuteNonJSONErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer server.Close()

	adapter, err := New(Config{URL: server.URL})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_, err = adapter.Execute(context.Background(), "select 1", nil)
	if err == nil || !strings.Contains(err.Error(), "status=502") || !strings.Contains(err.Error(), "upstream down") {
		t.Fatalf("Execute() error = %v", err)
	}
}

func TestNewRequiresURL(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for empty url")
	}
}
