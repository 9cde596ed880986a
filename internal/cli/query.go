package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/rowmodel/pkg/rowmodel"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	OrderBy string
	Limit   int
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <type> [where] [args...]",
		Short: "List instances of a model type",
		Long: `List the instances of a model type, optionally filtered by a WHERE
clause. The clause may use $T, $PK and ? placeholders; remaining arguments
bind to the ? placeholders as strings.

Types come from the schema files; an undeclared type is read from the table
of the same name.

Example:
  rowmodel query --schema schema.cue Person
  rowmodel query Person "name = ?" Alice --order-by taps --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, cmd, args)
		},
	}
	cmd.Flags().StringVar(&opts.OrderBy, "order-by", "", "ORDER BY clause")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of rows (0 = all)")
	return cmd
}

func runQuery(opts *QueryOptions, cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	db, err := openDB(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer db.Close()

	t, err := resolveType(ctx, db, args[0])
	if err != nil {
		return err
	}
	q := rowmodel.Query{OrderBy: opts.OrderBy, Limit: opts.Limit}
	if len(args) > 1 {
		q.Where = args[1]
		for _, a := range args[2:] {
			q.Args = append(q.Args, a)
		}
	}

	insts, err := db.Find(ctx, t, q)
	if err != nil {
		return WrapExitError(ExitFailure, "query failed", err)
	}
	cols := t.ColumnNames()
	rows := make([]map[string]any, 0, len(insts))
	for _, inst := range insts {
		vals := inst.Values()
		row := make(map[string]any, len(cols))
		for _, c := range cols {
			row[c] = vals[c]
		}
		rows = append(rows, row)
	}
	opts.Logger.Debug("query finished", "type", t.Name(), "rows", len(rows))

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return out.Rows(cols, rows)
}
