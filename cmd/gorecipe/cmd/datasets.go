package cmd

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/gorecipe/internal/graph"
)

var datasetsMermaid bool

var datasetsCmd = &cobra.Command{
	Use:   "datasets",
	Short: "List loaded datasets and their evaluation order",
	Long: `Datasets loads every dataset from the configuration (and the project
file, if given) and shows how it was loaded, how many recipe steps it has and
which other datasets its recipe reads.

The evaluation order lists datasets so that every dataset comes after the
datasets it reads. Circular references are reported as an error.

Example:
  gorecipe datasets --config gorecipe.yaml
  gorecipe datasets --mermaid > deps.mmd`,
	Args: cobra.NoArgs,
	RunE: runDatasets,
}

func init() {
	datasetsCmd.Flags().BoolVar(&datasetsMermaid, "mermaid", false,
		"Print the dependency graph as mermaid flowchart syntax")
	rootCmd.AddCommand(datasetsCmd)
}

func runDatasets(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	g := a.views.Resolver().Dependencies()
	names := a.datasets.Names()

	if datasetsMermaid {
		fmt.Fprint(out, generateMermaidSyntax(names, g))
		return nil
	}

	if len(names) == 0 {
		fmt.Fprintf(out, "No datasets defined in %s\n", GetConfigFile())
		return nil
	}

	rows := make([][]string, 0, len(names))
	for _, name := range names {
		e, ok := a.datasets.Snapshot(name)
		if !ok {
			continue
		}
		m := e.Metadata
		reads := strings.Join(g.GetParents(name), ", ")
		if reads == "" {
			reads = "-"
		}
		rows = append(rows, []string{
			name,
			m.LoaderType,
			m.InputType,
			strconv.Itoa(m.FileCount),
			strconv.FormatBool(m.ProcessIndividual),
			strconv.Itoa(len(e.Recipe)),
			reads,
		})
	}
	printSection(out, "Datasets")
	printTable(out, []string{"NAME", "LOADER", "INPUT", "FILES", "INDIVIDUAL", "STEPS", "READS"}, rows)

	fmt.Fprintln(out)
	printSection(out, "Evaluation Order")
	order, err := a.views.Resolver().Order()
	if err != nil {
		var cycle *graph.CycleError
		if errors.As(err, &cycle) {
			printCycle(out, cycle.Info)
		}
		return err
	}
	for i, name := range order {
		fmt.Fprintf(out, "  [%d] %s\n", i+1, name)
	}
	fmt.Fprintf(out, "\nTotal: %d dataset(s)\n", len(names))
	return nil
}

func printCycle(w io.Writer, info *graph.CycleInfo) {
	if info == nil {
		return
	}
	fmt.Fprintf(w, "  Circular dataset references (%d of %d datasets ordered)\n",
		info.ProcessedNodes, info.TotalNodes)
	if len(info.CyclePath) > 0 {
		fmt.Fprintf(w, "  Cycle: %s\n", strings.Join(info.CyclePath, " -> "))
	}
}

// generateMermaidSyntax creates mermaid flowchart syntax for the dataset
// dependency graph. Edges point from the dataset read to its reader.
func generateMermaidSyntax(names []string, g *graph.Graph) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")
	for _, name := range names {
		fmt.Fprintf(&sb, "    %s[%q]\n", sanitizeNodeID(name), name)
	}
	for _, name := range names {
		for _, parent := range g.GetParents(name) {
			fmt.Fprintf(&sb, "    %s -->|reads| %s\n", sanitizeNodeID(parent), sanitizeNodeID(name))
		}
	}
	return sb.String()
}

// sanitizeNodeID ensures dataset names are valid mermaid node IDs
func sanitizeNodeID(name string) string {
	return strings.NewReplacer(
		".", "_",
		"-", "_",
		" ", "_",
	).Replace(name)
}
