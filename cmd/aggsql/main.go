package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-kit/log"
	"github.com/spf13/cobra"

	"github.com/atlekbai/query_aggregate/internal/logging"
	"github.com/atlekbai/query_aggregate/internal/query"
	"github.com/atlekbai/query_aggregate/internal/schema"
)

type renderFlags struct {
	schemaFile string
	table      string
	alias      string
	function   string
	fields     []string
	operator   string
	groupBy    []string
	filters    []string
	limit      int
	strict     bool
	logLevel   string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "aggsql",
		Short:         "Render aggregate SELECT fragments against a table schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRenderCmd(stdout, stderr))
	return root
}

func newRenderCmd(stdout, stderr io.Writer) *cobra.Command {
	var f renderFlags
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Print the aggregate fragment and the full statement",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(stdout, logging.New(stderr, f.logLevel), f)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.schemaFile, "schema", "", "YAML file with table definitions")
	flags.StringVar(&f.table, "table", "", "table to aggregate")
	flags.StringVar(&f.alias, "alias", "t", "table alias")
	flags.StringVar(&f.function, "function", "", "aggregate function (SUM, AVG, MAX, MIN, COUNT, GROUP_CONCAT, STDDEV, VAR_SAMP, VAR_POP)")
	flags.StringSliceVar(&f.fields, "fields", nil, "columns to aggregate")
	flags.StringVar(&f.operator, "operator", query.DefaultOperator, "operator joining several fields (+ - * / %)")
	flags.StringSliceVar(&f.groupBy, "group-by", nil, "grouping columns")
	flags.StringArrayVar(&f.filters, "filter", nil, "column=op.value filter, repeatable")
	flags.IntVar(&f.limit, "limit", 0, "row limit (default 100)")
	flags.BoolVar(&f.strict, "strict", false, "reject field names with invalid characters instead of stripping them")
	flags.StringVar(&f.logLevel, "log-level", "warn", "log level")
	cmd.MarkFlagRequired("schema")
	cmd.MarkFlagRequired("table")
	return cmd
}

func runRender(out io.Writer, logger log.Logger, f renderFlags) error {
	cache, err := schema.LoadFile(f.schemaFile)
	if err != nil {
		return err
	}
	table := cache.Get(f.table)
	if table == nil {
		return fmt.Errorf("table %q not found in %s", f.table, f.schemaFile)
	}

	in := query.ParamsInput{
		GroupBy: f.groupBy,
		Filters: make(map[string]string, len(f.filters)),
		Limit:   f.limit,
	}
	for _, raw := range f.filters {
		col, expr, ok := strings.Cut(raw, "=")
		if !ok {
			return fmt.Errorf("invalid filter %q, expected column=op.value", raw)
		}
		in.Filters[col] = expr
	}
	qc, err := query.ParseParams(table, in)
	if err != nil {
		return err
	}

	agg := query.NewAggregate(query.Options{
		Function:     f.function,
		Fields:       f.fields,
		Operator:     f.operator,
		StrictFields: f.strict,
		Logger:       logger,
	})
	if !agg.SupportsDialect(table.Dialect) {
		return fmt.Errorf("%s is not available on %s table %q", agg.Function(), table.Dialect, table.Name)
	}
	frag, err := agg.Render(table.Name, f.alias, table.PrimaryKey, qc)
	if errors.Is(err, query.ErrNotReady) {
		return fmt.Errorf("nothing to aggregate: %w", err)
	}
	if err != nil {
		return err
	}

	sql, args, err := query.NewBuilder(qc, f.alias).BuildAggregate(frag)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "select: %s\n", frag.Select)
	fmt.Fprintf(out, "sql:    %s\n", sql)
	if len(args) > 0 {
		fmt.Fprintf(out, "args:   %v\n", args)
	}
	return nil
}

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
