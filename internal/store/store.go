// Package store persists benchmark results: a human-readable
// transcript and a structured JSON record per test, plus one aggregate
// summary when a batch was run. Writes degrade rather than drop
// results — a failed transcript still leaves the JSON record, and any
// terminal failure reports which artifacts did land on disk.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/graymantle/crucible/internal/engine"
	"github.com/graymantle/crucible/internal/suite"
)

// AggregateName is the batch summary file written next to the
// per-test artifacts.
const AggregateName = "summary.json"

// Saved lists the artifacts a Persist call produced.
type Saved struct {
	Files     []string
	Aggregate string
}

// PartialError reports a persist that could not write everything. The
// Written list names the artifacts that did succeed.
type PartialError struct {
	Written []string
	Errs    []error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("persisted %d artifacts, %d writes failed: %v", len(e.Written), len(e.Errs), errors.Join(e.Errs...))
}

func (e *PartialError) Unwrap() error { return errors.Join(e.Errs...) }

// Aggregate is the batch summary record.
type Aggregate struct {
	TotalTests           int                 `json:"total_tests"`
	SuccessfulTests      int                 `json:"successful_tests"`
	FailedTests          int                 `json:"failed_tests"`
	TotalExecutionTime   float64             `json:"total_execution_time"`
	AverageExecutionTime float64             `json:"average_execution_time"`
	TotalTokens          int                 `json:"total_tokens"`
	AverageTokensPerSec  float64             `json:"average_tokens_per_second"`
	MinTokensPerSec      float64             `json:"min_tokens_per_second,omitempty"`
	MedianTokensPerSec   float64             `json:"median_tokens_per_second,omitempty"`
	MaxTokensPerSec      float64             `json:"max_tokens_per_second,omitempty"`
	GeneratedAt          string              `json:"generated_at"`
	Results              []engine.TestResult `json:"results"`
}

// CreateRunDir makes a timestamped directory under baseDir/runs and
// points baseDir/latest at it.
func CreateRunDir(baseDir string) (string, error) {
	stamp := time.Now().UTC().Format("2006-01-02T15-04-05")
	runDir, err := filepath.Abs(filepath.Join(baseDir, "runs", stamp))
	if err != nil {
		return "", fmt.Errorf("resolving run dir: %w", err)
	}
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", fmt.Errorf("creating run dir: %w", err)
	}
	latest := filepath.Join(baseDir, "latest")
	os.Remove(latest)
	if err := os.Symlink(runDir, latest); err != nil {
		return "", fmt.Errorf("creating latest symlink: %w", err)
	}
	return runDir, nil
}

// Persist writes all artifacts for the results into outputDir. The
// catalog supplies prompts for transcripts; it may be nil. Already
// computed results are never discarded: every write is attempted even
// after earlier ones fail.
func Persist(results []engine.TestResult, catalog *suite.Catalog, outputDir string) (*Saved, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output dir: %w", err)
	}

	saved := &Saved{}
	var errs []error
	taken := make(map[string]int)

	for i := range results {
		res := &results[i]
		base := uniqueName(taken, safeName(res.TestName))

		transcript := filepath.Join(outputDir, base+"_completion.txt")
		if err := os.WriteFile(transcript, renderTranscript(res, catalog), 0o644); err != nil {
			// Reduced-fidelity save: keep going, the JSON record is
			// the one that matters.
			errs = append(errs, fmt.Errorf("transcript %s: %w", base, err))
		} else {
			saved.Files = append(saved.Files, transcript)
		}

		record := filepath.Join(outputDir, base+"_result.json")
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			errs = append(errs, fmt.Errorf("encoding result %s: %w", res.TestID, err))
			continue
		}
		if err := os.WriteFile(record, data, 0o644); err != nil {
			errs = append(errs, fmt.Errorf("record %s: %w", base, err))
			continue
		}
		saved.Files = append(saved.Files, record)
	}

	if len(results) > 1 {
		agg := BuildAggregate(results)
		path := filepath.Join(outputDir, AggregateName)
		data, err := json.MarshalIndent(agg, "", "  ")
		if err != nil {
			errs = append(errs, fmt.Errorf("encoding aggregate: %w", err))
		} else if err := os.WriteFile(path, data, 0o644); err != nil {
			errs = append(errs, fmt.Errorf("aggregate: %w", err))
		} else {
			saved.Aggregate = path
			saved.Files = append(saved.Files, path)
		}
	}

	if len(errs) > 0 {
		return saved, &PartialError{Written: saved.Files, Errs: errs}
	}
	return saved, nil
}

// BuildAggregate computes batch statistics over a result set.
func BuildAggregate(results []engine.TestResult) *Aggregate {
	agg := &Aggregate{
		TotalTests:  len(results),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Results:     results,
	}

	var tpsValues []float64
	for i := range results {
		res := &results[i]
		if res.Success {
			agg.SuccessfulTests++
		} else {
			agg.FailedTests++
		}
		agg.TotalExecutionTime += res.ExecutionTime
		agg.TotalTokens += res.PromptTokens + res.CompletionTokens
		if res.Success && res.TokensPerSecond > 0 {
			tpsValues = append(tpsValues, res.TokensPerSecond)
		}
	}
	if len(results) > 0 {
		agg.AverageExecutionTime = agg.TotalExecutionTime / float64(len(results))
	}
	if len(tpsValues) > 0 {
		sort.Float64s(tpsValues)
		var sum float64
		for _, v := range tpsValues {
			sum += v
		}
		agg.AverageTokensPerSec = sum / float64(len(tpsValues))
		agg.MinTokensPerSec = tpsValues[0]
		agg.MaxTokensPerSec = tpsValues[len(tpsValues)-1]
		mid := len(tpsValues) / 2
		if len(tpsValues)%2 == 0 {
			agg.MedianTokensPerSec = (tpsValues[mid-1] + tpsValues[mid]) / 2
		} else {
			agg.MedianTokensPerSec = tpsValues[mid]
		}
	}
	return agg
}

// ReadAggregate loads a summary.json.
func ReadAggregate(path string) (*Aggregate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading aggregate: %w", err)
	}
	var agg Aggregate
	if err := json.Unmarshal(data, &agg); err != nil {
		return nil, fmt.Errorf("parsing aggregate: %w", err)
	}
	return &agg, nil
}

// ReadResult loads one per-test record.
func ReadResult(path string) (*engine.TestResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading result: %w", err)
	}
	var res engine.TestResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("parsing result: %w", err)
	}
	return &res, nil
}

const rule = "--------------------"

func renderTranscript(res *engine.TestResult, catalog *suite.Catalog) []byte {
	var b strings.Builder

	fmt.Fprintf(&b, "PROMPT:\n%s\n%s\n\n", rule, promptText(res.TestID, catalog))
	fmt.Fprintf(&b, "COMPLETION:\n%s\n%s\n\n", rule, res.ResponseText)
	fmt.Fprintf(&b, "METRICS:\n%s\n", rule)
	fmt.Fprintf(&b, "Duration: %.2fs\n", res.ExecutionTime)
	fmt.Fprintf(&b, "Prompt Tokens: %d\n", res.PromptTokens)
	fmt.Fprintf(&b, "Completion Tokens: %d\n", res.CompletionTokens)
	fmt.Fprintf(&b, "Tokens per Second: %.2f T/s\n", res.TokensPerSecond)
	if m := res.Metrics; m != nil {
		if m.CPUPercent > 0 {
			fmt.Fprintf(&b, "CPU: %.1f%%\n", m.CPUPercent)
		}
		if m.GPUUtilization > 0 {
			fmt.Fprintf(&b, "GPU: %.1f%%\n", m.GPUUtilization)
		}
	}
	if !res.Success && res.ErrorMessage != "" {
		fmt.Fprintf(&b, "Error: %s\n", res.ErrorMessage)
	}
	return []byte(b.String())
}

func promptText(id string, catalog *suite.Catalog) string {
	if catalog == nil {
		return "N/A"
	}
	tc, ok := catalog.Get(id)
	if !ok {
		return "N/A"
	}
	if tc.Prompt != "" {
		return tc.Prompt
	}
	var lines []string
	for _, m := range tc.Messages {
		lines = append(lines, fmt.Sprintf("[%s] %s", m.Role, m.Content))
	}
	if len(lines) == 0 {
		return "N/A"
	}
	return strings.Join(lines, "\n")
}

// safeName maps a human-readable test name onto the filesystem-safe
// character class [a-z0-9._-].
func safeName(name string) string {
	if name == "" {
		return "unnamed"
	}
	lower := strings.ToLower(name)
	var b strings.Builder
	for _, r := range lower {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// uniqueName suffixes repeated base names with a numeric
// disambiguator: name, name_2, name_3, ...
func uniqueName(taken map[string]int, base string) string {
	taken[base]++
	if n := taken[base]; n > 1 {
		return fmt.Sprintf("%s_%d", base, n)
	}
	return base
}
