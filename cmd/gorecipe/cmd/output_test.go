package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dbsmedya/gorecipe/internal/graph"
	"github.com/dbsmedya/gorecipe/internal/jobs"
	"github.com/dbsmedya/gorecipe/internal/relation"
)

func TestPrintTable_AlignsWideCharacters(t *testing.T) {
	var buf bytes.Buffer
	printTable(&buf, []string{"NAME", "N"}, [][]string{
		{"東京", "1"},
		{"ab", "22"},
	})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Equal(t, []string{
		"NAME  N",
		"----  --",
		"東京  1",
		"ab    22",
	}, lines)
}

func TestPrintTable_IgnoresColorCodes(t *testing.T) {
	var buf bytes.Buffer
	printTable(&buf, []string{"STATUS", "X"}, [][]string{
		{"\x1b[0;32mOK\x1b[0m", "1"},
	})
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Equal(t, "\x1b[0;32mOK\x1b[0m      1", lines[2])
}

func TestPrintFrame(t *testing.T) {
	var buf bytes.Buffer
	f := relation.NewFrame([]string{"id", "note"},
		[]any{int64(1), nil},
		[]any{int64(2), "line\nbreak"},
	)
	printFrame(&buf, f)

	out := buf.String()
	assert.Contains(t, out, "null")
	assert.Contains(t, out, `line\nbreak`)
	assert.Contains(t, out, "(2 row(s), 2 column(s))")
}

func TestFormatCell_Truncates(t *testing.T) {
	long := strings.Repeat("x", 100)
	got := formatCell(long)
	assert.Equal(t, maxCellWidth, len(got))
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestStatusText(t *testing.T) {
	for _, s := range []jobs.Status{jobs.StatusRunning, jobs.StatusCompleted, jobs.StatusFailed} {
		assert.Contains(t, statusText(s), string(s))
	}
}

func TestPrintJob(t *testing.T) {
	var buf bytes.Buffer
	msg := "Error: disk full"
	printJob(&buf, jobs.Info{
		JobID:       "j1",
		Dataset:     "sales",
		Exporter:    "csv",
		Status:      jobs.StatusFailed,
		Duration:    1.25,
		SizeStr:     jobs.UnknownSize,
		Error:       &msg,
		FileDetails: []jobs.FileDetail{{Name: "a.csv", Path: "/o/a.csv", Size: "1 kB"}},
	})
	out := buf.String()
	assert.Contains(t, out, "Duration: 1.250s")
	assert.Contains(t, out, "Error:    Error: disk full")
	assert.Contains(t, out, "  - a.csv (1 kB) /o/a.csv")
}

func TestGenerateMermaidSyntax(t *testing.T) {
	g := graph.NewGraph()
	g.AddNode("raw data")
	g.AddEdge("raw data", "report.v2")

	got := generateMermaidSyntax([]string{"raw data", "report.v2"}, g)
	assert.Equal(t, "graph TD\n"+
		"    raw_data[\"raw data\"]\n"+
		"    report_v2[\"report.v2\"]\n"+
		"    raw_data -->|reads| report_v2\n", got)
}

func TestPrintCycle(t *testing.T) {
	var buf bytes.Buffer
	printCycle(&buf, &graph.CycleInfo{TotalNodes: 3, ProcessedNodes: 1, CyclePath: []string{"a", "b", "a"}})
	assert.Contains(t, buf.String(), "1 of 3 datasets ordered")
	assert.Contains(t, buf.String(), "Cycle: a -> b -> a")

	buf.Reset()
	printCycle(&buf, nil)
	assert.Empty(t, buf.String())
}
