package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/moodfolio/internal/pipeline"
)

// stageCommand wraps one pipeline stage as a standalone subcommand.
func stageCommand(name, short, long string, pick func(*pipeline.Env) func(context.Context) error) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Long:  long,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newEnv(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			if err := pick(env)(ctx); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		},
	}
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run all six stages in order, stopping at the first failure",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newEnv(cmd)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		m, err := env.Runner().Run(ctx, env.Stages())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Run %s complete (%d stages)\n", m.RunID, len(m.Stages))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(
		stageCommand(pipeline.StageExtract, "Count relevant messages per day",
			"Reads every message export under messages.dir, keeps messages from messages.sender\nthat mention a keyword, and writes the per-day counts.",
			func(e *pipeline.Env) func(context.Context) error { return e.Extract }),
		stageCommand(pipeline.StageNormalize, "Clean the holdings ledger",
			"Reads the raw CSV/XLSX ledger, sorts it by date, fills missing quantities per\nholdings.missing_quantity and adds holding/trade counts.",
			func(e *pipeline.Env) func(context.Context) error { return e.Normalize }),
		stageCommand(pipeline.StageValuate, "Fetch prices and compute daily portfolio returns",
			"Fetches daily closes for every ticker over the padded ledger span, values the\nportfolio per day and computes the trade-free daily return.",
			func(e *pipeline.Env) func(context.Context) error { return e.Valuate }),
		stageCommand(pipeline.StageMerge, "Join returns with message counts",
			"",
			func(e *pipeline.Env) func(context.Context) error { return e.Merge }),
		stageCommand(pipeline.StageVisualize, "Render the trend chart",
			"",
			func(e *pipeline.Env) func(context.Context) error { return e.Visualize }),
		stageCommand(pipeline.StageAnalyze, "Correlate returns with message counts and run event studies",
			"Computes Pearson and Spearman correlation between daily return and message\ncount, averages counts around extreme-return days, draws one chart per event\nand writes the Markdown report.",
			func(e *pipeline.Env) func(context.Context) error { return e.Analyze }),
		runCmd,
	)
}
