package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/graymantle/crucible/internal/config"
	"github.com/graymantle/crucible/internal/history"
	"github.com/graymantle/crucible/internal/report"
)

func newReportCmd() *cobra.Command {
	var (
		format      string
		showHistory bool
		historyN    int
	)

	cmd := &cobra.Command{
		Use:   "report [output-dir]",
		Short: "Summarize a completed run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}

			if showHistory {
				return printHistory(cmd.Context(), cfg, historyN)
			}

			dir := ""
			if len(args) > 0 {
				dir = args[0]
			} else {
				dir, err = filepath.EvalSymlinks(filepath.Join(cfg.Results.Dir, "latest"))
				if err != nil {
					return fmt.Errorf("no run directory given and no latest run found: %w", err)
				}
			}
			return report.Generate(dir, format, os.Stdout)
		},
	}
	cmd.Flags().StringVar(&format, "format", "table", "output format: table, markdown, json")
	cmd.Flags().BoolVar(&showHistory, "history", false, "list past runs from the history database")
	cmd.Flags().IntVar(&historyN, "limit", 20, "number of history rows to show")
	return cmd
}

func printHistory(ctx context.Context, cfg *config.Config, limit int) error {
	if cfg.Results.HistoryDB == "" {
		return fmt.Errorf("no history database configured (results.history_db)")
	}
	h, err := history.Open(cfg.Results.HistoryDB, slog.Default())
	if err != nil {
		return err
	}
	defer h.Close()

	runs, err := h.List(ctx, limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tMODEL\tTESTS\tFAILED\tTOKENS/S\tOUTPUT")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%.2f\t%s\n",
			r.StartedAt.Format("2006-01-02 15:04"), r.Model,
			r.TotalTests, r.FailedTests, r.AvgTokensPerSec, r.OutputDir)
	}
	return tw.Flush()
}
