package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/moodfolio/internal/analysis"
	"github.com/KaramelBytes/moodfolio/internal/dataset"
	"github.com/KaramelBytes/moodfolio/internal/pipeline"
	"github.com/KaramelBytes/moodfolio/internal/report"
	"github.com/KaramelBytes/moodfolio/internal/series"
	"github.com/KaramelBytes/moodfolio/internal/tabular"
)

var (
	insOutputPath string
	insDelimiter  string
	insSampleRows int
	insOutlierThr float64
	insSheetName  string
	insSheetIndex int

	outThreshold float64
	outInput     string
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Summarize a CSV/TSV/XLSX file: shape, column kinds, missing values, head and tail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opt := tabular.Options{SheetName: insSheetName, SheetIndex: insSheetIndex}
		switch insDelimiter {
		case "":
		case ",":
			opt.Delimiter = ','
		case "\t", "tab":
			opt.Delimiter = '\t'
		case ";":
			opt.Delimiter = ';'
		default:
			return fmt.Errorf("unsupported --delimiter: %s", insDelimiter)
		}
		t, err := tabular.ReadFile(args[0], opt)
		if err != nil {
			return err
		}
		md := tabular.Summarize(t, tabular.SummaryOptions{SampleRows: insSampleRows, OutlierThreshold: insOutlierThr}).Markdown()
		if insOutputPath == "" {
			fmt.Fprintln(cmd.OutOrStdout(), md)
			return nil
		}
		if err := os.WriteFile(insOutputPath, []byte(md), 0o644); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote summary to %s\n", insOutputPath)
		return nil
	},
}

var outliersCmd = &cobra.Command{
	Use:   "outliers",
	Short: "List days whose lagged return exceeds a threshold, largest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := outInput
		threshold := outThreshold
		if path == "" || !cmd.Flags().Changed("threshold") {
			c, err := requireConfig()
			if err != nil {
				return err
			}
			if path == "" {
				path = pipeline.NewPaths(c.DataDir, c.Outputs).Final
			}
			if !cmd.Flags().Changed("threshold") && c.Analysis.SpikeThreshold > 0 {
				threshold = c.Analysis.SpikeThreshold
			}
		}
		rows, err := dataset.ReadCSV(path)
		if err != nil {
			return err
		}
		spikes := analysis.Spikes(rows, threshold)
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%d day(s) with %s > %g\n", len(spikes), dataset.ReturnLagColumn, threshold)
		if len(spikes) == 0 {
			return nil
		}
		fmt.Fprintf(w, "%-10s  %15s  %18s\n", "DATE", "portfolio_value", dataset.ReturnLagColumn)
		for _, r := range spikes {
			fmt.Fprintf(w, "%-10s  %15.2f  %18.6f\n", series.FormatDay(r.Date), r.PortfolioValue, r.DailyReturnLag1.V)
		}
		return nil
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Render the analysis report and charts to PDF",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newEnv(cmd)
		if err != nil {
			return err
		}
		md, err := os.ReadFile(env.Paths.Report)
		if err != nil {
			return fmt.Errorf("read report (run analyze first): %w", err)
		}
		images := []string{env.Paths.Trend}
		for _, ev := range env.Cfg.Analysis.Events {
			images = append(images, env.Paths.Event(ev))
		}
		var present []string
		for _, p := range images {
			if _, err := os.Stat(p); err == nil {
				present = append(present, p)
			} else {
				log.WithField("path", p).Warn("chart missing, skipped")
			}
		}
		if err := report.RenderFile(string(md), present, env.Paths.ReportPDF, log); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote %s (%s)\n", env.Paths.ReportPDF, strings.Join(baseNames(present), ", "))
		return nil
	},
}

func baseNames(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = filepath.Base(p)
	}
	return out
}

func init() {
	rootCmd.AddCommand(inspectCmd, outliersCmd, reportCmd)
	inspectCmd.Flags().StringVarP(&insOutputPath, "output", "o", "", "optional path to write the summary (Markdown)")
	inspectCmd.Flags().StringVar(&insDelimiter, "delimiter", "", "CSV delimiter: ',' | ';' | 'tab' (sniffed if omitted)")
	inspectCmd.Flags().IntVar(&insSampleRows, "sample-rows", 5, "number of head/tail rows to include")
	inspectCmd.Flags().Float64Var(&insOutlierThr, "outlier-threshold", 3.5, "robust |z| threshold for outliers (MAD-based)")
	inspectCmd.Flags().StringVar(&insSheetName, "sheet-name", "", "XLSX: sheet name to read")
	inspectCmd.Flags().IntVar(&insSheetIndex, "sheet-index", 1, "XLSX: 1-based sheet index (used if --sheet-name not provided)")

	outliersCmd.Flags().Float64Var(&outThreshold, "threshold", analysis.DefaultSpikeThreshold, "lagged return threshold")
	outliersCmd.Flags().StringVarP(&outInput, "input", "i", "", "final analysis table (default: data dir)")
}
