package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	suiteFile string
	verbose   bool
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "crucible",
		Short: "Benchmark harness for LLM inference endpoints",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelInfo
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "crucible.yaml", "config file path")
	root.PersistentFlags().StringVar(&suiteFile, "suite", "test_suite.json", "test suite file path")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	root.AddCommand(newRunCmd())
	root.AddCommand(newListCmd())
	root.AddCommand(newReportCmd())
	root.AddCommand(newValidateCmd())
	return root
}
