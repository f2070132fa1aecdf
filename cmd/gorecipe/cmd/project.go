package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/gorecipe/internal/project"
)

var (
	projectOutput   string
	projectRelative bool
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Save the loaded datasets and recipes to a project file",
	Long: `Project writes every loaded dataset, with the loader that produced it
and its current recipe, to a JSON project file. Load it again with --project.

Example:
  gorecipe project --output project.json --relative
  gorecipe preview --project project.json --dataset sales`,
	Args: cobra.NoArgs,
	RunE: runProject,
}

func init() {
	projectCmd.Flags().StringVarP(&projectOutput, "output", "o", "",
		"Project file to write (required)")
	_ = projectCmd.MarkFlagRequired("output")
	projectCmd.Flags().BoolVar(&projectRelative, "relative", false,
		"Store paths relative to the project file")

	rootCmd.AddCommand(projectCmd)
}

func runProject(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := saveProject(a, projectOutput, projectRelative); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved %d dataset(s) to %s\n", len(a.datasets.Names()), projectOutput)
	return nil
}

func saveProject(a *app, path string, relative bool) error {
	f, skipped := project.Build(a.datasets)
	for _, name := range skipped {
		a.log.Warnw("Dataset cannot be reloaded and is not saved", "dataset", name)
	}
	if relative {
		dir, err := filepath.Abs(filepath.Dir(path))
		if err != nil {
			return err
		}
		f = f.Relative(dir)
	}
	if err := project.Save(path, f); err != nil {
		return fmt.Errorf("failed to save project: %w", err)
	}
	return nil
}
