package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/gorecipe/internal/engine"
	"github.com/dbsmedya/gorecipe/internal/types"
)

var (
	profileDataset string
	profileSample  int
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Summarize the columns of a transformed dataset",
	Long: `Profile applies the dataset's recipe to the first --sample rows, reading
across every file of a per-file dataset, and prints the shape of the result
with per-column statistics: kind, nulls, distinct values, min and max, and
mean, standard deviation and median for numeric columns.

Example:
  gorecipe profile --dataset sales --sample 5000`,
	Args: cobra.NoArgs,
	RunE: runProfile,
}

var schemaDataset string

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "List the columns of a dataset after its recipe",
	Long: `Schema prints the column names the dataset has once its recipe has been
applied. Only the column names are computed.

Example:
  gorecipe schema --dataset sales`,
	Args: cobra.NoArgs,
	RunE: runSchema,
}

func init() {
	profileCmd.Flags().StringVarP(&profileDataset, "dataset", "d", "",
		"Dataset name (required)")
	_ = profileCmd.MarkFlagRequired("dataset")
	profileCmd.Flags().IntVar(&profileSample, "sample", engine.DefaultProfileSample,
		"Number of rows to profile")

	schemaCmd.Flags().StringVarP(&schemaDataset, "dataset", "d", "",
		"Dataset name (required)")
	_ = schemaCmd.MarkFlagRequired("dataset")

	rootCmd.AddCommand(profileCmd, schemaCmd)
}

func runProfile(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	rc, err := a.recipeOf(profileDataset)
	if err != nil {
		return err
	}
	p, err := a.views.Profile(ctx, profileDataset, rc, profileSample)
	if err != nil {
		return fmt.Errorf("profile failed: %w", err)
	}

	out := cmd.OutOrStdout()
	printHeader(out, "Profile: %s", profileDataset)
	fmt.Fprintf(out, "Shape: %d row(s) x %d column(s)\n\n", p.Rows, len(p.Columns))

	rows := make([][]string, len(p.Columns))
	for i, c := range p.Columns {
		rows[i] = []string{
			c.Name,
			c.Kind,
			strconv.Itoa(c.Nulls),
			strconv.Itoa(c.Unique),
			statCell(c.Min),
			statCell(c.Max),
			floatCell(c.Mean),
			floatCell(c.Std),
			floatCell(c.Median),
		}
	}
	printTable(out, []string{"COLUMN", "KIND", "NULLS", "UNIQUE", "MIN", "MAX", "MEAN", "STD", "MEDIAN"}, rows)
	return nil
}

func statCell(v any) string {
	if v == nil {
		return "-"
	}
	return formatCell(types.FormatValue(v))
}

func floatCell(f *float64) string {
	if f == nil {
		return "-"
	}
	return strconv.FormatFloat(*f, 'g', 6, 64)
}

func runSchema(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	cols, err := a.views.Schema(ctx, schemaDataset)
	if err != nil {
		return fmt.Errorf("schema failed: %w", err)
	}

	out := cmd.OutOrStdout()
	printSection(out, "Schema: "+schemaDataset)
	for i, c := range cols {
		fmt.Fprintf(out, "  %2d. %s\n", i+1, c)
	}
	fmt.Fprintf(out, "\nTotal: %d column(s)\n", len(cols))
	return nil
}
