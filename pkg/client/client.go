// Package client is the Go client for the QueryZen HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/queryzen/queryzen/internal/sqltemplate"
	"github.com/queryzen/queryzen/internal/zen"
)

const (
	DefaultBaseURL    = "http://localhost:8080"
	DefaultCollection = "main"
)

type Config struct {
	BaseURL           string
	HTTPClient        *http.Client
	DefaultCollection string
	// DefaultDatabase is sent with every run that names no database. Empty
	// lets the server pick its default.
	DefaultDatabase string
	// RequestTimeout bounds every call except the wait for a run result.
	RequestTimeout time.Duration
	// ExecutionTimeout is how long the server waits for a run result.
	ExecutionTimeout time.Duration
}

type Client struct {
	baseURL *url.URL
	http    *http.Client
	cfg     Config
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q must use http or https", cfg.BaseURL)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if strings.TrimSpace(cfg.DefaultCollection) == "" {
		cfg.DefaultCollection = DefaultCollection
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = 60 * time.Second
	}
	return &Client{baseURL: base, http: cfg.HTTPClient, cfg: cfg}, nil
}

// CreateRequest describes a new Zen. Version Latest asks the server for the
// next free version.
type CreateRequest struct {
	Collection        string
	Name              string
	Version           Version
	Query             string
	Description       string
	DefaultParameters map[string]any
}

// Create stores a new Zen. Default parameters are checked locally before
// anything is sent.
func (c *Client) Create(ctx context.Context, req CreateRequest) (*Zen, error) {
	req.Collection = c.collection(req.Collection)
	if err := checkDefaults(req.Query, req.DefaultParameters); err != nil {
		return nil, err
	}

	body := map[string]any{"query": req.Query, "description": req.Description}
	if len(req.DefaultParameters) > 0 {
		body["default_parameters"] = req.DefaultParameters
	}
	resp, err := c.do(ctx, c.cfg.RequestTimeout, http.MethodPut, zenPath(req.Collection, req.Name, req.Version), nil, body)
	if err != nil {
		return nil, err
	}
	requested := &Zen{Collection: req.Collection, Name: req.Name, Version: int(req.Version), Query: req.Query, Description: req.Description}
	if resp.StatusCode != http.StatusCreated {
		return nil, classify(resp, requested, "creating a zen", map[int]error{http.StatusConflict: ErrZenAlreadyExists})
	}
	var created Zen
	if err := resp.decode(&created); err != nil {
		return nil, &UncaughtBackendError{Response: resp, Zen: requested, Context: "the created zen was not returned: " + err.Error()}
	}
	return &created, nil
}

func (c *Client) Get(ctx context.Context, collection, name string, version Version) (*Zen, error) {
	collection = c.collection(collection)
	resp, err := c.do(ctx, c.cfg.RequestTimeout, http.MethodGet, zenPath(collection, name, version), nil, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classify(resp, nil, "getting a zen", map[int]error{http.StatusNotFound: ErrZenDoesNotExist})
	}
	var z Zen
	if err := resp.decode(&z); err != nil {
		return nil, &UncaughtBackendError{Response: resp, Context: "decoding a zen: " + err.Error()}
	}
	return &z, nil
}

// GetOrCreate returns the latest version of the Zen, creating it from req
// when none exists. created reports which happened.
func (c *Client) GetOrCreate(ctx context.Context, req CreateRequest) (created bool, z *Zen, err error) {
	z, err = c.Get(ctx, req.Collection, req.Name, Latest)
	if err == nil {
		return false, z, nil
	}
	if !errors.Is(err, ErrZenDoesNotExist) {
		return false, nil, err
	}
	req.Version = Latest
	z, err = c.Create(ctx, req)
	if err != nil {
		return false, nil, err
	}
	return true, z, nil
}

func (c *Client) Filter(ctx context.Context, filter Filter) ([]Zen, error) {
	resp, err := c.do(ctx, c.cfg.RequestTimeout, http.MethodGet, "/v1/zen", filter.values(), nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classify(resp, nil, "filtering zens", nil)
	}
	var payload struct {
		Zens []Zen `json:"zens"`
	}
	if err := resp.decode(&payload); err != nil {
		return nil, &UncaughtBackendError{Response: resp, Context: "decoding filtered zens: " + err.Error()}
	}
	if payload.Zens == nil {
		payload.Zens = []Zen{}
	}
	return payload.Zens, nil
}

func (c *Client) Delete(ctx context.Context, z *Zen) error {
	if z == nil {
		return errors.New("zen is required")
	}
	resp, err := c.do(ctx, c.cfg.RequestTimeout, http.MethodDelete, zenPath(z.Collection, z.Name, Version(z.Version)), nil, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return classify(resp, z, "deleting a zen", map[int]error{http.StatusNotFound: ErrZenDoesNotExist})
	}
	return nil
}

// RunOptions tunes a single run. Zero values fall back to the client Config.
type RunOptions struct {
	Database   string
	Timeout    time.Duration
	Parameters map[string]any
	RowFactory RowFactory
}

// Run executes z on the server and waits for the recorded Execution. A query
// that fails in the target database is not an error: the Execution comes back
// with state IN and its Error set. The Execution is appended to z and z.State
// follows it.
func (c *Client) Run(ctx context.Context, z *Zen, opts RunOptions) (*Execution, error) {
	if z == nil {
		return nil, errors.New("zen is required")
	}
	database := opts.Database
	if database == "" {
		database = c.cfg.DefaultDatabase
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.cfg.ExecutionTimeout
	}

	body := map[string]any{
		"parameters": nonNil(opts.Parameters),
		"timeout":    timeout.Seconds(),
	}
	if database != "" {
		body["database"] = database
	}
	resp, err := c.do(ctx, timeout+c.cfg.RequestTimeout, http.MethodPost, zenPath(z.Collection, z.Name, Version(z.Version)), nil, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classify(resp, z, fmt.Sprintf("running a zen with parameters %v", opts.Parameters), map[int]error{
			http.StatusBadRequest:                   ErrMissingParameters,
			http.StatusNotFound:                     ErrZenDoesNotExist,
			http.StatusRequestTimeout:               ErrExecutionEngineUnavailable,
			http.StatusConflict:                     ErrParametersMismatch,
			http.StatusRequestedRangeNotSatisfiable: ErrDatabaseDoesNotExist,
			http.StatusServiceUnavailable:           ErrExecutionEngineUnavailable,
		})
	}

	var execution Execution
	if err := resp.decode(&execution); err != nil {
		return nil, &UncaughtBackendError{Response: resp, Zen: z, Context: "the backend answered ok without an execution: " + err.Error()}
	}
	if opts.RowFactory != nil {
		if err := execution.Build(opts.RowFactory); err != nil {
			return nil, err
		}
	}
	z.Executions = append(z.Executions, execution)
	z.State = execution.State
	return &execution, nil
}

func (c *Client) Stats(ctx context.Context, collection, name string, version Version) (*Statistic, error) {
	collection = c.collection(collection)
	resp, err := c.do(ctx, c.cfg.RequestTimeout, http.MethodGet, zenPath(collection, name, version)+"/stats", nil, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classify(resp, nil, "getting zen statistics", map[int]error{http.StatusNotFound: ErrZenDoesNotExist})
	}
	var stat Statistic
	if err := resp.decode(&stat); err != nil {
		return nil, &UncaughtBackendError{Response: resp, Context: "decoding statistics: " + err.Error()}
	}
	return &stat, nil
}

func (c *Client) Collections(ctx context.Context) ([]CollectionSummary, error) {
	resp, err := c.do(ctx, c.cfg.RequestTimeout, http.MethodGet, "/v1/collections", nil, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classify(resp, nil, "listing collections", nil)
	}
	var payload struct {
		Collections []CollectionSummary `json:"collections"`
	}
	if err := resp.decode(&payload); err != nil {
		return nil, &UncaughtBackendError{Response: resp, Context: "decoding collections: " + err.Error()}
	}
	return payload.Collections, nil
}

func (c *Client) Health(ctx context.Context) error {
	resp, err := c.do(ctx, c.cfg.RequestTimeout, http.MethodGet, "/v1/health", nil, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return classify(resp, nil, "checking health", nil)
	}
	return nil
}

func (c *Client) collection(collection string) string {
	if strings.TrimSpace(collection) == "" {
		return c.cfg.DefaultCollection
	}
	return collection
}

func (c *Client) do(ctx context.Context, timeout time.Duration, method, path string, query url.Values, body any) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint := c.baseURL.String() + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return newResponse(method, path, httpResp.StatusCode, raw), nil
}

// zenPath keeps segments escaped so names containing "/" stay one segment.
func zenPath(collection, name string, version Version) string {
	return "/v1/collection/" + url.PathEscape(collection) +
		"/zen/" + url.PathEscape(name) +
		"/version/" + url.PathEscape(version.String())
}

func checkDefaults(query string, defaults map[string]any) error {
	err := zen.ValidateDefaults(query, defaults)
	if err == nil {
		return nil
	}
	var (
		mismatch    *zen.ParametersMismatchError
		unsupported *sqltemplate.UnsupportedTypeError
	)
	switch {
	case errors.As(err, &mismatch):
		return fmt.Errorf("%w: default %s", ErrParametersMismatch, mismatch.Error())
	case errors.As(err, &unsupported):
		return fmt.Errorf("%w: %s", ErrUnsupportedParameterType, unsupported.Error())
	default:
		return err
	}
}

func nonNil(params map[string]any) map[string]any {
	if params == nil {
		return map[string]any{}
	}
	return params
}

// Version is a positive Zen version or Latest.
type Version int

const Latest Version = 0

func (v Version) String() string {
	if v <= Latest {
		return "latest"
	}
	return strconv.Itoa(int(v))
}
