package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/graymantle/crucible/internal/client"
	"github.com/graymantle/crucible/internal/config"
	"github.com/graymantle/crucible/internal/engine"
	"github.com/graymantle/crucible/internal/history"
	"github.com/graymantle/crucible/internal/report"
	"github.com/graymantle/crucible/internal/store"
	"github.com/graymantle/crucible/internal/suite"
	"github.com/graymantle/crucible/internal/telemetry"
)

var (
	flagCategory   string
	flagIDs        []string
	flagWorkers    int
	flagSequential bool
	flagEndpoint   string
	flagModel      string
	flagOutput     string
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a benchmark run",
		RunE:  runBenchmark,
	}
	cmd.Flags().StringVar(&flagCategory, "category", "", "run only tests in this category")
	cmd.Flags().StringSliceVar(&flagIDs, "ids", nil, "run only these test ids")
	cmd.Flags().IntVar(&flagWorkers, "workers", 0, "concurrent workers (overrides config)")
	cmd.Flags().BoolVar(&flagSequential, "sequential", false, "run tests one at a time in input order")
	cmd.Flags().StringVar(&flagEndpoint, "endpoint", "", "inference endpoint URL (overrides config)")
	cmd.Flags().StringVar(&flagModel, "model", "", "model name (overrides config)")
	cmd.Flags().StringVar(&flagOutput, "output", "", "output directory (default: timestamped run dir)")
	return cmd
}

func runBenchmark(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if flagEndpoint != "" {
		cfg.API.Endpoint = flagEndpoint
	}
	if flagModel != "" {
		cfg.API.Model = flagModel
	}

	catalog, err := suite.Load(suiteFile)
	if err != nil {
		return fmt.Errorf("loading suite: %w", err)
	}

	ids := selectIDs(catalog, flagIDs, flagCategory)
	if len(ids) == 0 {
		return fmt.Errorf("no tests selected")
	}

	apiCfg, known := cfg.APIConfig()
	if !known {
		slog.Warn("could not detect API style from endpoint path, assuming completions",
			"endpoint", apiCfg.Endpoint)
	}

	collector, closeCollector := buildCollector(cfg)
	defer closeCollector()

	outDir := flagOutput
	if outDir == "" {
		outDir, err = store.CreateRunDir(cfg.Results.Dir)
		if err != nil {
			return err
		}
	}
	fmt.Printf("Output directory: %s\n", outDir)

	eng := engine.New(catalog, apiCfg, client.New(slog.Default()), engine.Options{
		Collector:       collector,
		SequentialDelay: cfg.SequentialDelay(),
		Log:             slog.Default(),
		OnProgress: func(p engine.Progress) {
			fmt.Printf("  %d/%d completed (%d failed, %.1f tokens/s)\n",
				p.CompletedTests, p.TotalTests, p.FailedTests, p.TokensPerSecond)
		},
	})

	ctx := context.Background()
	started := time.Now()

	var results []engine.TestResult
	if flagSequential {
		results = eng.Run(ctx, ids)
	} else {
		workers := flagWorkers
		if workers <= 0 {
			workers = cfg.Execution.Workers
		}
		results = eng.RunConcurrent(ctx, ids, workers)
		sort.Slice(results, func(i, j int) bool { return results[i].TestID < results[j].TestID })
	}

	saved, err := store.Persist(results, catalog, outDir)
	var partial *store.PartialError
	if errors.As(err, &partial) {
		fmt.Fprintf(os.Stderr, "WARNING: some artifacts could not be written (%d succeeded):\n", len(partial.Written))
		for _, f := range partial.Written {
			fmt.Fprintf(os.Stderr, "  %s\n", f)
		}
	} else if err != nil {
		return err
	} else {
		fmt.Printf("Saved %d artifacts\n", len(saved.Files))
	}

	recordHistory(ctx, cfg, started, results, outDir)

	fmt.Println("\n--- Results ---")
	if reportErr := report.Generate(outDir, "table", os.Stdout); reportErr != nil {
		slog.Warn("rendering report", "error", reportErr)
	}
	return err
}

// selectIDs resolves the requested test selection against the catalog.
// Explicit ids win over a category filter; ids unknown to the catalog
// are kept so the run reports them as failed results instead of
// silently narrowing the selection.
func selectIDs(catalog *suite.Catalog, ids []string, category string) []string {
	if len(ids) > 0 {
		return ids
	}
	if category != "" {
		return catalog.IDsByCategory(category)
	}
	return catalog.IDs()
}

func buildCollector(cfg *config.Config) (telemetry.Collector, func()) {
	if cfg.Telemetry.DockerContainer != "" {
		d, err := telemetry.NewDockerStats(cfg.Telemetry.DockerContainer, slog.Default())
		if err != nil {
			slog.Warn("docker stats collector unavailable", "error", err)
		} else {
			return d, func() { d.Close() }
		}
	}
	if cfg.Telemetry.NvidiaSMI {
		return telemetry.NewNvidiaSMI(slog.Default()), func() {}
	}
	return telemetry.Nop{}, func() {}
}

func recordHistory(ctx context.Context, cfg *config.Config, started time.Time, results []engine.TestResult, outDir string) {
	if cfg.Results.HistoryDB == "" {
		return
	}
	h, err := history.Open(cfg.Results.HistoryDB, slog.Default())
	if err != nil {
		slog.Warn("opening run history", "error", err)
		return
	}
	defer h.Close()

	agg := store.BuildAggregate(results)
	rec := &history.RunRecord{
		StartedAt:       started,
		Endpoint:        cfg.API.Endpoint,
		Model:           cfg.API.Model,
		TotalTests:      agg.TotalTests,
		SuccessfulTests: agg.SuccessfulTests,
		FailedTests:     agg.FailedTests,
		TotalTokens:     agg.TotalTokens,
		AvgTokensPerSec: agg.AverageTokensPerSec,
		OutputDir:       outDir,
	}
	if err := h.Record(ctx, rec); err != nil {
		slog.Warn("recording run history", "error", err)
	}
}
