package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/gorecipe/internal/engine"
)

var (
	exploreDataset  string
	exploreStrategy string
	exploreSize     int
	exploreSeed     uint64
)

var exploreCmd = &cobra.Command{
	Use:   "explore",
	Short: "Show an analysis-sized view of a dataset",
	Long: `Explore prepares a larger view of the transformed dataset than preview.

Strategies:
  preview      recipe over the first rows of the first file
  full_head    recipe over every row, then the first --size rows
  full_sample  recipe over every row, then a seeded random sample of --size rows

Every strategy is capped at engine.explore_hard_limit rows. The same --seed
always draws the same sample.

Example:
  gorecipe explore --dataset sales --strategy full_sample --size 500 --seed 7`,
	Args: cobra.NoArgs,
	RunE: runExplore,
}

func init() {
	exploreCmd.Flags().StringVarP(&exploreDataset, "dataset", "d", "",
		"Dataset name (required)")
	_ = exploreCmd.MarkFlagRequired("dataset")
	exploreCmd.Flags().StringVar(&exploreStrategy, "strategy", string(engine.StrategyFullHead),
		"View strategy (preview, full_head, full_sample)")
	exploreCmd.Flags().IntVarP(&exploreSize, "size", "n", 0,
		"Rows in the view (default: engine.explore_hard_limit)")
	exploreCmd.Flags().Uint64Var(&exploreSeed, "seed", 0,
		"Sampling seed (default: engine.sample_seed)")

	rootCmd.AddCommand(exploreCmd)
}

func runExplore(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	rc, err := a.recipeOf(exploreDataset)
	if err != nil {
		return err
	}
	seed := exploreSeed
	if !cmd.Flags().Changed("seed") {
		seed = a.cfg.Engine.SampleSeed
	}

	rel, err := a.views.Explore(ctx, exploreDataset, rc, engine.ExploreStrategy(exploreStrategy), exploreSize, seed)
	if err != nil {
		return fmt.Errorf("failed to prepare view: %w", err)
	}
	f, err := rel.Collect(ctx)
	if err != nil {
		return fmt.Errorf("explore failed: %w", err)
	}

	out := cmd.OutOrStdout()
	printHeader(out, "Explore: %s (%s)", exploreDataset, exploreStrategy)
	printFrame(out, f)
	return nil
}
