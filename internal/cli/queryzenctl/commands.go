package queryzenctl

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/queryzen/queryzen/pkg/client"
)

func newHealthCommand(flags *globalFlags, connect connectFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the API is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := connect()
			if err != nil {
				return &usageError{err}
			}
			if err := c.Health(cmd.Context()); err != nil {
				return err
			}
			if flags.format == "json" {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"status": "ok"})
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return err
		},
	}
}

type createOptions struct {
	query       string
	queryFile   string
	description string
	version     string
	defaults    []string
	getOrCreate bool
}

func newCreateCommand(flags *globalFlags, connect connectFunc) *cobra.Command {
	opts := &createOptions{}
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Store a new zen version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := opts.query
			if opts.queryFile != "" {
				raw, err := readQueryFile(cmd, opts.queryFile)
				if err != nil {
					return err
				}
				query = raw
			}
			if strings.TrimSpace(query) == "" {
				return &usageError{fmt.Errorf("--query or --query-file is required")}
			}
			version, err := parseVersion(opts.version)
			if err != nil {
				return err
			}
			defaults, err := parseParams(opts.defaults, "")
			if err != nil {
				return err
			}
			c, err := connect()
			if err != nil {
				return &usageError{err}
			}

			req := client.CreateRequest{
				Collection:        flags.collection,
				Name:              args[0],
				Version:           version,
				Query:             query,
				Description:       opts.description,
				DefaultParameters: defaults,
			}
			var z *client.Zen
			if opts.getOrCreate {
				_, z, err = c.GetOrCreate(cmd.Context(), req)
			} else {
				z, err = c.Create(cmd.Context(), req)
			}
			if err != nil {
				return err
			}
			return printZen(cmd.OutOrStdout(), flags.format, z)
		},
	}
	cmd.Flags().StringVarP(&opts.query, "query", "q", "", "SQL text with :name placeholders")
	cmd.Flags().StringVar(&opts.queryFile, "query-file", "", "read the SQL text from a file, - for stdin")
	cmd.Flags().StringVarP(&opts.description, "description", "d", "", "zen description")
	cmd.Flags().StringVar(&opts.version, "version", "latest", "version number or latest for the next free one")
	cmd.Flags().StringArrayVar(&opts.defaults, "default", nil, "default parameter key=value (repeatable)")
	cmd.Flags().BoolVar(&opts.getOrCreate, "get-or-create", false, "return the latest version when the zen already exists")
	return cmd
}

func newGetCommand(flags *globalFlags, connect connectFunc) *cobra.Command {
	var version string
	cmd := &cobra.Command{
		Use:   "get <name>",
		Short: "Show a zen and its executions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseVersion(version)
			if err != nil {
				return err
			}
			c, err := connect()
			if err != nil {
				return &usageError{err}
			}
			z, err := c.Get(cmd.Context(), flags.collection, args[0], v)
			if err != nil {
				return err
			}
			return printZen(cmd.OutOrStdout(), flags.format, z)
		},
	}
	cmd.Flags().StringVar(&version, "version", "latest", "version number or latest")
	return cmd
}

type listOptions struct {
	all                bool
	collectionContains string
	name               string
	nameContains       string
	version            int
	versionGT          int
	versionLT          int
	state              string
	executionState     string
	limit              int
}

func newListCommand(flags *globalFlags, connect connectFunc) *cobra.Command {
	opts := &listOptions{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List zens matching a filter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := client.Filter{
				CollectionContains: opts.collectionContains,
				Name:               opts.name,
				NameContains:       opts.nameContains,
				State:              client.State(strings.ToUpper(opts.state)),
				ExecutionState:     client.State(strings.ToUpper(opts.executionState)),
				Limit:              opts.limit,
			}
			if !opts.all {
				filter.Collection = flags.collection
			}
			if cmd.Flags().Changed("version") {
				filter.Version = &opts.version
			}
			if cmd.Flags().Changed("version-gt") {
				filter.VersionGT = &opts.versionGT
			}
			if cmd.Flags().Changed("version-lt") {
				filter.VersionLT = &opts.versionLT
			}
			c, err := connect()
			if err != nil {
				return &usageError{err}
			}
			zens, err := c.Filter(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if flags.format == "json" {
				return writeJSON(cmd.OutOrStdout(), zens)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "COLLECTION\tNAME\tVERSION\tSTATE\tDESCRIPTION")
			for _, z := range zens {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", z.Collection, z.Name, z.Version, z.State, z.Description)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&opts.all, "all", false, "list zens of every collection")
	cmd.Flags().StringVar(&opts.collectionContains, "collection-contains", "", "collection substring")
	cmd.Flags().StringVar(&opts.name, "name", "", "exact zen name")
	cmd.Flags().StringVar(&opts.nameContains, "name-contains", "", "zen name substring")
	cmd.Flags().IntVar(&opts.version, "version", 0, "exact version")
	cmd.Flags().IntVar(&opts.versionGT, "version-gt", 0, "versions greater than")
	cmd.Flags().IntVar(&opts.versionLT, "version-lt", 0, "versions lower than")
	cmd.Flags().StringVar(&opts.state, "state", "", "zen state (VA|IN|UN)")
	cmd.Flags().StringVar(&opts.executionState, "execution-state", "", "zens with an execution in this state")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "maximum number of zens")
	return cmd
}

type runOptions struct {
	version  string
	params   []string
	jsonArgs string
	database string
	wait     time.Duration
	align    string
}

func newRunCommand(flags *globalFlags, connect connectFunc, defaultDatabase string) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <name>",
		Short: "Run a zen and print its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := parseVersion(opts.version)
			if err != nil {
				return err
			}
			params, err := parseParams(opts.params, opts.jsonArgs)
			if err != nil {
				return err
			}
			align, err := client.ParseAlign(opts.align)
			if err != nil {
				return &usageError{err}
			}
			c, err := connect()
			if err != nil {
				return &usageError{err}
			}

			z := &client.Zen{Collection: flags.collection, Name: args[0], Version: int(version)}
			if version == client.Latest {
				// Run against the concrete version so the recorded execution names it.
				if z, err = c.Get(cmd.Context(), flags.collection, args[0], client.Latest); err != nil {
					return err
				}
			}
			execution, err := c.Run(cmd.Context(), z, client.RunOptions{
				Database:   firstNonEmpty(opts.database, defaultDatabase),
				Timeout:    opts.wait,
				Parameters: params,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if flags.format == "json" {
				if err := writeJSON(out, execution); err != nil {
					return err
				}
			} else {
				if _, err := fmt.Fprintln(out, execution.Table(align)); err != nil {
					return err
				}
				if !execution.IsError() {
					_, _ = fmt.Fprintf(out, "%d row(s) in %dms\n", execution.RowCount, execution.TotalTimeMs)
				}
			}
			if execution.IsError() {
				return fmt.Errorf("execution %s failed: %s", execution.ID, execution.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.version, "version", "latest", "version number or latest")
	cmd.Flags().StringArrayVarP(&opts.params, "param", "p", nil, "parameter key=value, JSON values keep their type (repeatable)")
	cmd.Flags().StringVar(&opts.jsonArgs, "params-json", "", "parameters as a JSON object")
	cmd.Flags().StringVar(&opts.database, "database", "", "database to run against")
	cmd.Flags().DurationVar(&opts.wait, "wait", 60*time.Second, "how long the server waits for the result")
	cmd.Flags().StringVar(&opts.align, "align", "left", "table alignment (left|center|right)")
	return cmd
}

func newPreviewCommand(flags *globalFlags, connect connectFunc) *cobra.Command {
	var (
		version  string
		params   []string
		jsonArgs string
	)
	cmd := &cobra.Command{
		Use:   "preview <name>",
		Short: "Print the SQL a run would execute",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseVersion(version)
			if err != nil {
				return err
			}
			values, err := parseParams(params, jsonArgs)
			if err != nil {
				return err
			}
			c, err := connect()
			if err != nil {
				return &usageError{err}
			}
			z, err := c.Get(cmd.Context(), flags.collection, args[0], v)
			if err != nil {
				return err
			}
			rendered, err := z.Preview(values)
			if err != nil {
				return err
			}
			if flags.format == "json" {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"query": rendered})
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
			return err
		},
	}
	cmd.Flags().StringVar(&version, "version", "latest", "version number or latest")
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "parameter key=value (repeatable)")
	cmd.Flags().StringVar(&jsonArgs, "params-json", "", "parameters as a JSON object")
	return cmd
}

func newDeleteCommand(flags *globalFlags, connect connectFunc) *cobra.Command {
	var version string
	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete one zen version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseVersion(version)
			if err != nil {
				return err
			}
			if v == client.Latest {
				return &usageError{fmt.Errorf("--version must name a concrete version")}
			}
			c, err := connect()
			if err != nil {
				return &usageError{err}
			}
			collection := flags.collection
			if err := c.Delete(cmd.Context(), &client.Zen{Collection: collection, Name: args[0], Version: int(v)}); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s/%s version %d\n", collection, args[0], v)
			return err
		},
	}
	cmd.Flags().StringVar(&version, "version", "", "version to delete")
	return cmd
}

func newStatsCommand(flags *globalFlags, connect connectFunc) *cobra.Command {
	var version string
	cmd := &cobra.Command{
		Use:   "stats <name>",
		Short: "Show execution time statistics of a zen",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseVersion(version)
			if err != nil {
				return err
			}
			c, err := connect()
			if err != nil {
				return &usageError{err}
			}
			stat, err := c.Stats(cmd.Context(), flags.collection, args[0], v)
			if err != nil {
				return err
			}
			if flags.format == "json" {
				return writeJSON(cmd.OutOrStdout(), stat)
			}
			return printStats(cmd.OutOrStdout(), stat)
		},
	}
	cmd.Flags().StringVar(&version, "version", "latest", "version number or latest")
	return cmd
}

func newCollectionsCommand(flags *globalFlags, connect connectFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "collections",
		Short: "List collections and their zen counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := connect()
			if err != nil {
				return &usageError{err}
			}
			collections, err := c.Collections(cmd.Context())
			if err != nil {
				return err
			}
			if flags.format == "json" {
				return writeJSON(cmd.OutOrStdout(), collections)
			}
			sort.Slice(collections, func(i, j int) bool { return collections[i].Collection < collections[j].Collection })
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "COLLECTION\tZENS")
			for _, summary := range collections {
				_, _ = fmt.Fprintf(w, "%s\t%d\n", summary.Collection, summary.ZenCount)
			}
			return w.Flush()
		},
	}
}

func printZen(w io.Writer, format string, z *client.Zen) error {
	if format == "json" {
		return writeJSON(w, z)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "collection:\t%s\n", z.Collection)
	_, _ = fmt.Fprintf(tw, "name:\t%s\n", z.Name)
	_, _ = fmt.Fprintf(tw, "version:\t%d\n", z.Version)
	_, _ = fmt.Fprintf(tw, "state:\t%s\n", z.State)
	if z.Description != "" {
		_, _ = fmt.Fprintf(tw, "description:\t%s\n", z.Description)
	}
	if len(z.DefaultParameters) > 0 {
		keys := make([]string, 0, len(z.DefaultParameters))
		for key := range z.DefaultParameters {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, key := range keys {
			pairs = append(pairs, fmt.Sprintf("%s=%v", key, z.DefaultParameters[key]))
		}
		_, _ = fmt.Fprintf(tw, "defaults:\t%s\n", strings.Join(pairs, " "))
	}
	_, _ = fmt.Fprintf(tw, "executions:\t%d\n", len(z.Executions))
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%s\n", z.Query)
	return err
}

func printStats(w io.Writer, stat *client.Statistic) error {
	if stat.Count == 0 {
		_, err := fmt.Fprintln(w, "no executions")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "count:\t%d\n", stat.Count)
	rows := []struct {
		label string
		value *float64
	}{
		{"min ms", stat.MinExecutionTimeMs},
		{"max ms", stat.MaxExecutionTimeMs},
		{"mean ms", stat.MeanExecutionTimeMs},
		{"median ms", stat.MedianExecutionTimeMs},
		{"mode ms", stat.ModeExecutionTimeMs},
		{"variance", stat.Variance},
		{"std dev", stat.StandardDeviation},
		{"range", stat.Range},
	}
	for _, row := range rows {
		if row.value == nil {
			continue
		}
		_, _ = fmt.Fprintf(tw, "%s:\t%.3f\n", row.label, *row.value)
	}
	return tw.Flush()
}

func readQueryFile(cmd *cobra.Command, path string) (string, error) {
	if path == "-" {
		raw, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read query from stdin: %w", err)
		}
		return string(raw), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", &usageError{fmt.Errorf("read query file: %w", err)}
	}
	return string(raw), nil
}
