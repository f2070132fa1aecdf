package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	previewDataset string
	previewLimit   int
)

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Show the first rows of a dataset with its recipe applied",
	Long: `Preview applies the dataset's recipe to at most --limit rows and prints
the result. Only the first file of a per-file dataset is read, so steps that
need every row (such as aggregate) see only the previewed rows.

Example:
  gorecipe preview --dataset sales --limit 20`,
	Args: cobra.NoArgs,
	RunE: runPreview,
}

func init() {
	previewCmd.Flags().StringVarP(&previewDataset, "dataset", "d", "",
		"Dataset name (required)")
	_ = previewCmd.MarkFlagRequired("dataset")
	previewCmd.Flags().IntVarP(&previewLimit, "limit", "n", 0,
		"Maximum rows to show (default: engine.preview_limit)")

	rootCmd.AddCommand(previewCmd)
}

func runPreview(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	rc, err := a.recipeOf(previewDataset)
	if err != nil {
		return err
	}
	rel, err := a.views.Preview(ctx, previewDataset, rc, previewLimit)
	if err != nil {
		return fmt.Errorf("failed to prepare preview: %w", err)
	}
	f, err := rel.Collect(ctx)
	if err != nil {
		return fmt.Errorf("preview failed: %w", err)
	}

	out := cmd.OutOrStdout()
	printHeader(out, "Preview: %s", previewDataset)
	fmt.Fprintf(out, "Source: %s\nSteps:  %d\n\n", rel.Label(), len(rc))
	printFrame(out, f)
	return nil
}
