package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/gorecipe/internal/engine"
	"github.com/dbsmedya/gorecipe/internal/verifier"
)

var (
	materializeDataset string
	materializeName    string
	materializeSave    string
	materializeRelPath bool
)

var materializeCmd = &cobra.Command{
	Use:   "materialize",
	Short: "Store a transformed dataset as a new dataset",
	Long: `Materialize runs the dataset's recipe over every row, writes the result
to a staging folder and registers it as a new dataset with an empty recipe.
The name is reduced to letters, digits, spaces, '_' and '-'.

Staged data lives in staging.dir and is removed after staging.max_age_hours.
The staged file is read back and checked with staging.verify (count, sha256
or skip).
Use --save to write a project file that includes the new dataset.

Example:
  gorecipe materialize --dataset sales --name "sales clean" --save project.json`,
	Args: cobra.NoArgs,
	RunE: runMaterialize,
}

func init() {
	materializeCmd.Flags().StringVarP(&materializeDataset, "dataset", "d", "",
		"Source dataset name (required)")
	_ = materializeCmd.MarkFlagRequired("dataset")
	materializeCmd.Flags().StringVar(&materializeName, "name", "",
		"Name of the new dataset (required)")
	_ = materializeCmd.MarkFlagRequired("name")
	materializeCmd.Flags().StringVar(&materializeSave, "save", "",
		"Write a project file with every loaded dataset afterwards")
	materializeCmd.Flags().BoolVar(&materializeRelPath, "relative", false,
		"Store paths in the saved project relative to the project file")

	rootCmd.AddCommand(materializeCmd)
}

func runMaterialize(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	rc, err := a.recipeOf(materializeDataset)
	if err != nil {
		return err
	}
	stage, err := a.stagingManager()
	if err != nil {
		return err
	}

	m := engine.NewMaterializer(a.views, stage, a.connectors, a.log)
	if err := m.SetVerification(verifier.Method(a.cfg.Staging.Verify)); err != nil {
		return err
	}
	name, err := m.Materialize(ctx, materializeDataset, rc, materializeName)
	if err != nil {
		return fmt.Errorf("materialize failed: %w", err)
	}
	meta, _ := a.datasets.Get(name)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Materialized %q as %q\n", materializeDataset, name)
	fmt.Fprintf(out, "  Path: %s\n", meta.SourcePath)

	if materializeSave != "" {
		if err := saveProject(a, materializeSave, materializeRelPath); err != nil {
			return err
		}
		fmt.Fprintf(out, "  Project: %s\n", materializeSave)
	}
	return nil
}
