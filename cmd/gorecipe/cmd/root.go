package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags at build time)
var (
	Version = "0.0.1-dev"
	Commit  = "unknown"
)

// CLI flags that override config file values
var (
	cfgFile     string
	projectFile string
	logLevel    string
	logFormat   string
	maxWorkers  int
)

var rootCmd = &cobra.Command{
	Use:   "gorecipe",
	Short: "Recipe-driven dataset transformation and export",
	Long: `gorecipe loads tabular datasets from files and databases, applies
ordered recipes of transform steps to them and exports the results.

Features:
  - Lazy recipes over CSV, JSON, NDJSON and SQL sources
  - Per-file processing with whole-dataset steps collapsing the files
  - Cross-dataset joins and concatenation with cycle detection
  - Background export jobs with a bounded worker pool
  - Materialization of recipe results as new datasets`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "gorecipe.yaml",
		"Path to configuration file")
	rootCmd.PersistentFlags().StringVarP(&projectFile, "project", "p", "",
		"Project file with additional datasets and recipes")

	// Logging overrides
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"Override log format (json, text)")

	rootCmd.PersistentFlags().IntVar(&maxWorkers, "max-workers", 0,
		"Override the number of concurrent export jobs")
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// CLIOverrides contains flag values that override config file settings
type CLIOverrides struct {
	LogLevel   string
	LogFormat  string
	MaxWorkers int
}

// GetCLIOverrides returns the CLI flag override values
func GetCLIOverrides() CLIOverrides {
	return CLIOverrides{
		LogLevel:   logLevel,
		LogFormat:  logFormat,
		MaxWorkers: maxWorkers,
	}
}
