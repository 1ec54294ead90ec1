// Package httpsql runs Zens against a remote SQL-over-HTTP service speaking
// the CrateDB /_sql protocol.
package httpsql

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/queryzen/queryzen/internal/database"
	"github.com/queryzen/queryzen/internal/sqltemplate"
)

const maxErrorBody = 4 << 10

type Config struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration
	Client  *http.Client
}

type Adapter struct {
	url     string
	headers map[string]string
	client  *http.Client
}

var _ database.Adapter = (*Adapter)(nil)

func New(cfg Config) (*Adapter, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, fmt.Errorf("url is required")
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	return &Adapter{url: url, headers: headers, client: client}, nil
}

type sqlRequest struct {
	Stmt string `json:"stmt"`
}

type sqlResponse struct {
	Cols     []string `json:"cols"`
	Rows     [][]any  `json:"rows"`
	RowCount *int64   `json:"rowcount"`
}

type sqlError struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Execute renders sqlText and posts it to the service. The service's row
// count is reported when present.
func (a *Adapter) Execute(ctx context.Context, sqlText string, params map[string]any) (database.Outcome, error) {
	rendered, err := sqltemplate.SafeReplace(sqlText, params)
	if err != nil {
		return database.Outcome{}, fmt.Errorf("render sql: %w", err)
	}
	outcome := database.Outcome{Query: rendered}

	body, err := json.Marshal(sqlRequest{Stmt: rendered})
	if err != nil {
		return outcome, fmt.Errorf("marshal sql request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return outcome, fmt.Errorf("build sql request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range a.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return outcome, fmt.Errorf("request sql endpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return outcome, responseError(resp.StatusCode, raw)
	}

	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	var parsed sqlResponse
	if err := decoder.Decode(&parsed); err != nil {
		return outcome, fmt.Errorf("decode sql response: %w", err)
	}

	outcome.Columns = parsed.Cols
	outcome.Rows = parsed.Rows
	if outcome.Rows == nil {
		outcome.Rows = [][]any{}
	}
	if parsed.RowCount != nil {
		outcome.RowCount = *parsed.RowCount
		outcome.RowCountKnown = true
	}
	return outcome, nil
}

func responseError(status int, raw []byte) error {
	var parsed sqlError
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error.Message != "" {
		return errors.New(parsed.Error.Message)
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		text = http.StatusText(status)
	}
	return fmt.Errorf("sql endpoint status=%d: %s", status, text)
}
