package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/gookit/color"
	"github.com/mattn/go-runewidth"

	"github.com/dbsmedya/gorecipe/internal/jobs"
	"github.com/dbsmedya/gorecipe/internal/relation"
)

// maxCellWidth truncates long cells in table output.
const maxCellWidth = 40

// printHeader prints a formatted header
func printHeader(w io.Writer, format string, args ...interface{}) {
	title := fmt.Sprintf(format, args...)
	width := runewidth.StringWidth(title) + 4
	fmt.Fprintln(w, strings.Repeat("=", width))
	fmt.Fprintf(w, "  %s\n", title)
	fmt.Fprintln(w, strings.Repeat("=", width))
}

// printSection prints a section header
func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "[%s]\n", title)
	fmt.Fprintln(w, strings.Repeat("-", runewidth.StringWidth(title)+2))
}

// visualWidth returns the terminal width of s, ignoring color codes.
func visualWidth(s string) int {
	return runewidth.StringWidth(color.ClearCode(s))
}

// printTable writes rows as aligned columns. Widths are measured in terminal
// cells so wide characters and colored cells line up.
func printTable(w io.Writer, header []string, rows [][]string) {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = visualWidth(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if cw := visualWidth(cell); i < len(widths) && cw > widths[i] {
				widths[i] = cw
			}
		}
	}

	line := func(cells []string) {
		parts := make([]string, len(widths))
		for i := range widths {
			var c string
			if i < len(cells) {
				c = cells[i]
			}
			parts[i] = c + strings.Repeat(" ", max(widths[i]-visualWidth(c), 0))
		}
		fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
	}

	line(header)
	sep := make([]string, len(widths))
	for i, n := range widths {
		sep[i] = strings.Repeat("-", n)
	}
	line(sep)
	for _, row := range rows {
		line(row)
	}
}

// printFrame renders a frame as a table.
func printFrame(w io.Writer, f *relation.Frame) {
	rows := make([][]string, len(f.Rows))
	for i, row := range f.Rows {
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = formatCell(v)
		}
		rows[i] = cells
	}
	printTable(w, f.Columns, rows)
	fmt.Fprintf(w, "\n(%d row(s), %d column(s))\n", f.Len(), len(f.Columns))
}

func formatCell(v any) string {
	if v == nil {
		return "null"
	}
	s := strings.ReplaceAll(fmt.Sprint(v), "\n", `\n`)
	return runewidth.Truncate(s, maxCellWidth, "...")
}

// statusText colors a job status for terminal output.
func statusText(s jobs.Status) string {
	switch s {
	case jobs.StatusCompleted:
		return color.Green.Sprint(string(s))
	case jobs.StatusFailed:
		return color.Red.Sprint(string(s))
	default:
		return color.Yellow.Sprint(string(s))
	}
}

// printJob writes one job's final record.
func printJob(w io.Writer, info jobs.Info) {
	fmt.Fprintf(w, "Job:      %s\n", info.JobID)
	fmt.Fprintf(w, "Dataset:  %s\n", info.Dataset)
	fmt.Fprintf(w, "Exporter: %s\n", info.Exporter)
	fmt.Fprintf(w, "Status:   %s\n", statusText(info.Status))
	fmt.Fprintf(w, "Duration: %.3fs\n", info.Duration)
	fmt.Fprintf(w, "Size:     %s\n", info.SizeStr)
	if msg := info.ErrorMessage(); msg != "" {
		fmt.Fprintf(w, "Error:    %s\n", msg)
	}
	for _, fd := range info.FileDetails {
		fmt.Fprintf(w, "  - %s (%s) %s\n", fd.Name, fd.Size, fd.Path)
	}
}
