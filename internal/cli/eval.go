package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/raaihank/glasslm/internal/eval"
)

func newEvalCmd(opts *options) *cobra.Command {
	cfg := eval.DefaultConfig()
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "eval <file>",
		Short: "Score detection quality against a labelled corpus",
		Long: `Mask every row of a labelled corpus and report per-category
precision and recall. The corpus may be CSV with text, category and
value columns, JSON lines with the same fields, or Parquet.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, log, err := opts.detector()
			if err != nil {
				return err
			}

			report, err := eval.NewPipeline(d, cfg, log.WithComponent("eval").Logger).
				EvaluateFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, report)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CATEGORY\tTP\tFP\tFN\tPRECISION\tRECALL\tF1")
			for _, name := range report.CategoryNames() {
				writeScore(w, name, *report.Categories[name])
			}
			writeScore(w, "overall", report.Overall())
			if err := w.Flush(); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "\nsamples: %d  skipped: %d  round-trip failures: %d  duration: %s\n",
				report.TotalSamples, report.Skipped, report.RoundTripFailures, report.Duration)
			return nil
		},
	}

	cmd.Flags().IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Samples read per batch")
	cmd.Flags().IntVar(&cfg.WorkerCount, "workers", cfg.WorkerCount, "Concurrent masking workers")
	cmd.Flags().IntVar(&cfg.MaxTextLen, "max-text-len", cfg.MaxTextLen, "Skip samples longer than this many bytes")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}

func writeScore(w *tabwriter.Writer, name string, s eval.CategoryScore) {
	fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.3f\t%.3f\t%.3f\n",
		name, s.TruePositives, s.FalsePositives, s.FalseNegatives, s.Precision(), s.Recall(), s.F1())
}
