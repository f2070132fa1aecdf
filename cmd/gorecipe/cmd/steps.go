package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/gorecipe/internal/steps"
)

var stepsCmd = &cobra.Command{
	Use:   "steps",
	Short: "List the available transform steps",
	Long: `Steps lists every registered transform step type with its group and
scope. Whole-dataset steps collapse per-file datasets before they run.

Example:
  gorecipe steps`,
	Args: cobra.NoArgs,
	RunE: runSteps,
}

func init() {
	rootCmd.AddCommand(stepsCmd)
}

func runSteps(cmd *cobra.Command, args []string) error {
	reg, err := steps.NewRegistry()
	if err != nil {
		return fmt.Errorf("failed to register steps: %w", err)
	}

	var rows [][]string
	for el := reg.ListAll().Front(); el != nil; el = el.Next() {
		def := el.Value
		rows = append(rows, []string{def.Type, def.Group, def.Label, def.Scope.String(), def.Description})
	}

	out := cmd.OutOrStdout()
	printTable(out, []string{"TYPE", "GROUP", "LABEL", "SCOPE", "DESCRIPTION"}, rows)
	fmt.Fprintf(out, "\nTotal: %d step type(s)\n", reg.Len())
	return nil
}
