package report

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/graymantle/crucible/internal/engine"
	"github.com/graymantle/crucible/internal/store"
)

// Generate reads stored results from an output directory and renders a
// summary. It prefers the batch aggregate and falls back to the
// per-test records when a run wrote no aggregate.
func Generate(outputDir, format string, w io.Writer) error {
	agg, err := collect(outputDir)
	if err != nil {
		return err
	}

	switch format {
	case "markdown":
		return writeMarkdown(agg, w)
	case "json":
		return writeJSON(agg, w)
	default:
		return writeTable(agg, w)
	}
}

func collect(outputDir string) (*store.Aggregate, error) {
	if agg, err := store.ReadAggregate(filepath.Join(outputDir, store.AggregateName)); err == nil {
		return agg, nil
	}

	paths, err := filepath.Glob(filepath.Join(outputDir, "*_result.json"))
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", outputDir, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no results found in %s", outputDir)
	}

	var results []engine.TestResult
	for _, path := range paths {
		res, err := store.ReadResult(path)
		if err != nil {
			continue
		}
		results = append(results, *res)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("no readable results in %s", outputDir)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].TestID < results[j].TestID })
	return store.BuildAggregate(results), nil
}

func writeTable(agg *store.Aggregate, w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TEST\tSTATUS\tDURATION\tTOKENS\tTOKENS/S")
	fmt.Fprintln(tw, strings.Repeat("-", 72))
	for i := range agg.Results {
		res := &agg.Results[i]
		fmt.Fprintf(tw, "%s\t%s\t%.2fs\t%d\t%.2f\n",
			res.TestID, statusOf(res), res.ExecutionTime, res.CompletionTokens, res.TokensPerSecond)
	}
	fmt.Fprintln(tw, strings.Repeat("-", 72))
	fmt.Fprintf(tw, "total: %d\tpassed: %d\tfailed: %d\tavg: %.2fs\tavg t/s: %.2f\n",
		agg.TotalTests, agg.SuccessfulTests, agg.FailedTests, agg.AverageExecutionTime, agg.AverageTokensPerSec)
	return tw.Flush()
}

func writeMarkdown(agg *store.Aggregate, w io.Writer) error {
	fmt.Fprintln(w, "| Test | Status | Duration | Tokens | Tokens/s |")
	fmt.Fprintln(w, "|---|---|---|---|---|")
	for i := range agg.Results {
		res := &agg.Results[i]
		fmt.Fprintf(w, "| %s | %s | %.2fs | %d | %.2f |\n",
			res.TestID, statusOf(res), res.ExecutionTime, res.CompletionTokens, res.TokensPerSecond)
	}
	fmt.Fprintf(w, "\n%d tests, %d passed, %d failed, %.2f avg tokens/s\n",
		agg.TotalTests, agg.SuccessfulTests, agg.FailedTests, agg.AverageTokensPerSec)
	return nil
}

func writeJSON(agg *store.Aggregate, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(agg)
}

func statusOf(res *engine.TestResult) string {
	if res.Success {
		return "ok"
	}
	return "FAIL"
}
