// Package queryzenctl is the command line front end of the QueryZen client.
package queryzenctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/queryzen/queryzen/pkg/client"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

type Options struct {
	BaseURL    string
	Collection string
	Database   string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

type globalFlags struct {
	baseURL    string
	collection string
	timeout    time.Duration
	format     string
}

type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

// Run executes one queryzenctl command and returns its exit code.
func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	root := newRootCommand(defaults)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	_, _ = fmt.Fprintf(stderr, "error: %v\n", err)

	var usage *usageError
	if errors.As(err, &usage) || isFlagError(err) {
		return exitUsage
	}
	return exitFailure
}

func newRootCommand(defaults Options) *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "queryzenctl",
		Short:         "Manage and run QueryZen zens",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if flags.format != "text" && flags.format != "json" {
				return &usageError{fmt.Errorf("invalid format %q: must be text or json", flags.format)}
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&flags.baseURL, "base-url", firstNonEmpty(defaults.BaseURL, client.DefaultBaseURL), "QueryZen API base URL")
	root.PersistentFlags().StringVarP(&flags.collection, "collection", "c", firstNonEmpty(defaults.Collection, client.DefaultCollection), "zen collection")
	root.PersistentFlags().DurationVar(&flags.timeout, "timeout", durationOr(defaults.Timeout, 60*time.Second), "HTTP timeout")
	root.PersistentFlags().StringVar(&flags.format, "format", "text", "output format (text|json)")

	connect := func() (*client.Client, error) {
		return client.New(client.Config{
			BaseURL:           flags.baseURL,
			HTTPClient:        defaults.HTTPClient,
			DefaultCollection: flags.collection,
			DefaultDatabase:   defaults.Database,
			RequestTimeout:    flags.timeout,
		})
	}

	root.AddCommand(
		newHealthCommand(flags, connect),
		newCreateCommand(flags, connect),
		newGetCommand(flags, connect),
		newListCommand(flags, connect),
		newRunCommand(flags, connect, defaults.Database),
		newPreviewCommand(flags, connect),
		newDeleteCommand(flags, connect),
		newStatsCommand(flags, connect),
		newCollectionsCommand(flags, connect),
	)
	return root
}

type connectFunc func() (*client.Client, error)

// parseVersion accepts a positive integer or "latest".
func parseVersion(raw string) (client.Version, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" || raw == "latest" || raw == "auto" {
		return client.Latest, nil
	}
	var v int
	if _, err := fmt.Sscanf(raw, "%d", &v); err != nil || v <= 0 || fmt.Sprint(v) != raw {
		return 0, &usageError{fmt.Errorf("invalid version %q: must be a positive integer or latest", raw)}
	}
	return client.Version(v), nil
}

// parseParams reads key=value pairs. Values that parse as JSON keep their JSON
// type, anything else is a string.
func parseParams(pairs []string, rawJSON string) (map[string]any, error) {
	params := map[string]any{}
	if strings.TrimSpace(rawJSON) != "" {
		decoder := json.NewDecoder(strings.NewReader(rawJSON))
		decoder.UseNumber()
		if err := decoder.Decode(&params); err != nil {
			return nil, &usageError{fmt.Errorf("invalid parameters JSON: %w", err)}
		}
	}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, &usageError{fmt.Errorf("invalid parameter %q: expected key=value", pair)}
		}
		params[key] = parseValue(value)
	}
	return params, nil
}

func parseValue(raw string) any {
	decoder := json.NewDecoder(strings.NewReader(raw))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil || decoder.More() {
		return raw
	}
	switch value.(type) {
	case map[string]any, []any:
		return raw
	}
	return value
}

func writeJSON(w io.Writer, value any) error {
	encoded, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(encoded))
	return err
}

func isFlagError(err error) bool {
	text := err.Error()
	return strings.HasPrefix(text, "unknown flag") ||
		strings.HasPrefix(text, "unknown shorthand flag") ||
		strings.HasPrefix(text, "unknown command") ||
		strings.HasPrefix(text, "invalid argument") ||
		strings.Contains(text, "flag needs an argument") ||
		strings.Contains(text, "accepts ") ||
		strings.Contains(text, "required flag")
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func durationOr(value, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return value
}
