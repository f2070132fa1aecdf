package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/gorecipe/internal/database"
	"github.com/dbsmedya/gorecipe/internal/engine"
	"github.com/dbsmedya/gorecipe/internal/jobs"
	"github.com/dbsmedya/gorecipe/internal/relation"
)

var (
	exportDataset    string
	exportExporter   string
	exportOutput     string
	exportIndividual bool
	exportParams     []string
	exportQuery      string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a transformed dataset",
	Long: `Export runs the dataset's recipe over every row and writes the result
through an exporter (csv, ndjson, json, sqlite). The export runs as a
background job; the command waits for it and prints the job record.

With --query the result of a SQL query over the transformed datasets is
exported instead of a dataset. Every dataset the query names is a table
holding all of its rows, as with "gorecipe query --full".

With --individual each source file of a per-file dataset is written to its
own output named <stem>_<source-file-stem>.<ext>.

Extra exporter params are passed as key=value pairs, for example
--param table=sales --param if_exists=replace for the sqlite exporter.

Press Ctrl+C to cancel the running job.

Example:
  gorecipe export --dataset sales --exporter csv --output out/sales.csv
  gorecipe export --query "SELECT * FROM sales WHERE amount > 5" --output out/big.csv`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportDataset, "dataset", "d", "",
		"Dataset name (required unless --query is given)")
	exportCmd.Flags().StringVarP(&exportQuery, "query", "q", "",
		"Export the result of a SQL query over the datasets")
	exportCmd.Flags().StringVarP(&exportExporter, "exporter", "e", "csv",
		"Exporter type")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "",
		"Output path (required)")
	_ = exportCmd.MarkFlagRequired("output")
	exportCmd.Flags().BoolVar(&exportIndividual, "individual", false,
		"Write one output per source file")
	exportCmd.Flags().StringArrayVar(&exportParams, "param", nil,
		"Extra exporter param as key=value (repeatable)")
	exportCmd.MarkFlagsMutuallyExclusive("dataset", "query")
	exportCmd.MarkFlagsMutuallyExclusive("individual", "query")
	exportCmd.MarkFlagsOneRequired("dataset", "query")

	rootCmd.AddCommand(exportCmd)
}

// parseParams turns key=value pairs into exporter params.
func parseParams(pairs []string) (map[string]any, error) {
	params := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid param %q, expected key=value", p)
		}
		params[strings.TrimSpace(k)] = v
	}
	return params, nil
}

func runExport(cmd *cobra.Command, args []string) error {
	params, err := parseParams(exportParams)
	if err != nil {
		return err
	}
	params["path"] = exportOutput
	params["export_individual"] = exportIndividual

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := database.SetupSignalHandler(cmd.Context(), func(sig os.Signal) {
		a.log.Warnw("Received shutdown signal, canceling export", "signal", sig.String())
	})
	defer stop()

	var store jobs.Store
	history, err := a.historyStore(ctx)
	if err != nil {
		a.log.Warnw("Job history disabled", "error", err)
	} else if history != nil {
		store = history
	}

	manager := jobs.NewManager(a.views, a.connectors, store, jobs.Options{MaxWorkers: a.cfg.Jobs.MaxWorkers}, a.log)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = manager.Shutdown(shutdownCtx)
	}()

	req := jobs.ExportRequest{
		Dataset:  exportDataset,
		Exporter: exportExporter,
		Params:   params,
	}
	if exportQuery != "" {
		rel, err := a.views.Query(ctx, exportQuery, false, 0)
		if err != nil {
			return err
		}
		req.Dataset = engine.QueryResultName
		req.Precomputed = relation.Single(rel)
	}

	id, err := manager.Submit(req)
	if err != nil {
		return fmt.Errorf("failed to submit export: %w", err)
	}

	info, err := manager.Wait(ctx, id)
	if errors.Is(err, context.Canceled) {
		_ = manager.Cancel(id)
		info, err = manager.Wait(context.Background(), id)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printHeader(out, "Export: %s", req.Dataset)
	printJob(out, info)

	if info.Status == jobs.StatusFailed {
		return fmt.Errorf("export failed: %s", info.ErrorMessage())
	}
	return nil
}
