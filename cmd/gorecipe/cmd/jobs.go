package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dbsmedya/gorecipe/internal/database"
	"github.com/dbsmedya/gorecipe/internal/jobs"
	"github.com/dbsmedya/gorecipe/internal/logger"
)

var (
	jobsLimit     int
	jobsPruneDays int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List export job history",
	Long: `Jobs lists recorded export jobs, newest first. History is kept only
when jobs.history_dsn is configured.

Example:
  gorecipe jobs --limit 20
  gorecipe jobs --prune-days 30`,
	Args: cobra.NoArgs,
	RunE: runJobs,
}

func init() {
	jobsCmd.Flags().IntVarP(&jobsLimit, "limit", "n", 50,
		"Maximum jobs to list (0 for all)")
	jobsCmd.Flags().IntVar(&jobsPruneDays, "prune-days", 0,
		"Delete finished jobs older than this many days before listing")

	rootCmd.AddCommand(jobsCmd)
}

func runJobs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Jobs.HistoryDSN == "" {
		return errors.New("job history is not configured (set jobs.history_dsn)")
	}
	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	dbm := database.NewManager(nil)
	defer dbm.Close()
	db, err := dbm.GetDSN(ctx, cfg.Jobs.HistoryDriver, cfg.Jobs.HistoryDSN)
	if err != nil {
		return fmt.Errorf("failed to open job history: %w", err)
	}
	store, err := jobs.NewSQLStore(db, cfg.Jobs.HistoryDriver, log)
	if err != nil {
		return err
	}
	if err := store.InitializeTables(ctx); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jobsPruneDays > 0 {
		n, err := store.Prune(ctx, time.Now().AddDate(0, 0, -jobsPruneDays))
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Pruned %d job(s)\n\n", n)
	}

	history, err := store.History(ctx, jobsLimit)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		fmt.Fprintln(out, "No jobs recorded")
		return nil
	}

	rows := make([][]string, len(history))
	for i, info := range history {
		errMsg := info.ErrorMessage()
		if errMsg == "" {
			errMsg = "-"
		}
		rows[i] = []string{
			info.JobID,
			info.Dataset,
			info.Exporter,
			statusText(info.Status),
			humanize.Time(info.StartedAt),
			fmt.Sprintf("%.2fs", info.Duration),
			info.SizeStr,
			formatCell(errMsg),
		}
	}
	printTable(out, []string{"JOB", "DATASET", "EXPORTER", "STATUS", "STARTED", "DURATION", "SIZE", "ERROR"}, rows)
	fmt.Fprintf(out, "\nTotal: %d job(s)\n", len(history))
	return nil
}
