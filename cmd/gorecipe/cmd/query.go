package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	querySQL   string
	queryLimit int
	queryFull  bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Run a SQL query over the transformed datasets",
	Long: `Query runs a SQLite query in which every dataset is a table named after
it, holding the dataset with its recipe applied. By default each table holds
the dataset's preview; with --full the tables hold every row.

At most --limit result rows are printed.

Example:
  gorecipe query --sql "SELECT region, SUM(amount) FROM sales GROUP BY region"`,
	Args: cobra.NoArgs,
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVarP(&querySQL, "sql", "s", "",
		"SQL query (required)")
	_ = queryCmd.MarkFlagRequired("sql")
	queryCmd.Flags().IntVarP(&queryLimit, "limit", "n", 0,
		"Maximum rows per table and in the result (default: engine.preview_limit)")
	queryCmd.Flags().BoolVar(&queryFull, "full", false,
		"Query every row instead of the previews")

	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	limit := queryLimit
	if limit <= 0 {
		limit = a.cfg.Engine.PreviewLimit
	}
	rel, err := a.views.Query(ctx, querySQL, !queryFull, limit)
	if err != nil {
		return err
	}
	if limit > 0 {
		rel = rel.Limit(limit)
	}
	f, err := rel.Collect(ctx)
	if err != nil {
		return fmt.Errorf("query over datasets failed: %w", err)
	}

	out := cmd.OutOrStdout()
	mode := "preview"
	if queryFull {
		mode = "full"
	}
	printHeader(out, "Query (%s)", mode)
	printFrame(out, f)
	return nil
}
