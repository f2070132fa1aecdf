package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/gorecipe/internal/graph"
)

var validateRows int

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration, datasets and recipes",
	Long: `Validate checks the configuration file, loads every dataset and runs
each recipe over a few rows to make sure it can be applied.

Checks performed:
  - Configuration syntax and required fields
  - Dataset sources can be opened
  - Recipe step types exist and their params are valid
  - Recipes run on the first rows without errors
  - Cross-dataset references contain no cycles

Example:
  gorecipe validate --config gorecipe.yaml`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().IntVar(&validateRows, "rows", 10,
		"Rows each recipe is tried on")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	a.log.Info("Starting validation checks...")

	names := a.datasets.Names()
	fmt.Fprintf(out, "\n=== Configuration Validation ===\n")
	fmt.Fprintf(out, "Config file: %s\n", GetConfigFile())
	if projectFile != "" {
		fmt.Fprintf(out, "Project file: %s\n", projectFile)
	}
	fmt.Fprintf(out, "Datasets found: %d\n\n", len(names))

	hasErrors := false
	for _, name := range names {
		rc, _ := a.datasets.Recipe(name)
		fmt.Fprintf(out, "--- Dataset: %s ---\n", name)
		fmt.Fprintf(out, "Steps: %d\n", len(rc))

		rel, err := a.views.Preview(ctx, name, rc, validateRows)
		if err == nil {
			_, err = rel.Collect(ctx)
		}
		if err != nil {
			fmt.Fprintf(out, "❌ Recipe failed: %v\n\n", err)
			hasErrors = true
			continue
		}
		fmt.Fprintf(out, "✅ Recipe applies\n\n")
	}

	if _, err := a.views.Resolver().Order(); err != nil {
		var cycle *graph.CycleError
		if errors.As(err, &cycle) {
			fmt.Fprintf(out, "❌ Cycle detected: %d dataset(s) could not be ordered\n", len(cycle.Info.UnprocessedNodes))
			printCycle(out, cycle.Info)
			fmt.Fprintln(out)
		} else {
			fmt.Fprintf(out, "❌ Dependency check failed: %v\n\n", err)
		}
		hasErrors = true
	}

	if hasErrors {
		return fmt.Errorf("validation failed for one or more datasets")
	}

	fmt.Fprintln(out, "=== Validation Complete ===")
	fmt.Fprintln(out, "✅ All datasets validated successfully")
	return nil
}
