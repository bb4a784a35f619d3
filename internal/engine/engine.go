// Package engine orchestrates benchmark execution: it walks test ids
// through request building, the resilient HTTP client and telemetry
// sampling, producing one TestResult per requested id whatever happens
// to the individual test.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/graymantle/crucible/internal/api"
	"github.com/graymantle/crucible/internal/client"
	"github.com/graymantle/crucible/internal/metric"
	"github.com/graymantle/crucible/internal/suite"
	"github.com/graymantle/crucible/internal/telemetry"
)

// TestResult is the terminal record of one executed test. Field names
// match the on-disk record format. Evaluation fields are reserved for
// downstream scorers and stay unset here.
type TestResult struct {
	TestID           string              `json:"test_id"`
	TestName         string              `json:"test_name"`
	Success          bool                `json:"success"`
	ResponseText     string              `json:"response_text"`
	ExecutionTime    float64             `json:"execution_time"`
	PromptTokens     int                 `json:"prompt_tokens"`
	CompletionTokens int                 `json:"completion_tokens"`
	TokensPerSecond  float64             `json:"tokens_per_second"`
	ErrorMessage     string              `json:"error_message,omitempty"`
	Timestamp        string              `json:"timestamp"`
	APIResponse      json.RawMessage     `json:"api_response,omitempty"`
	Metrics          *telemetry.Snapshot `json:"performance_metrics,omitempty"`
	Evaluation       map[string]any      `json:"evaluation,omitempty"`
}

// Options tunes an engine beyond its required collaborators.
type Options struct {
	Collector       telemetry.Collector
	OnProgress      func(Progress)
	SequentialDelay time.Duration
	Log             *slog.Logger
}

// Engine runs tests from one catalog against one endpoint. A single
// engine value supports one run at a time.
type Engine struct {
	catalog   *suite.Catalog
	cfg       *api.Config
	client    *client.Client
	collector telemetry.Collector
	observer  func(Progress)
	delay     time.Duration
	log       *slog.Logger

	mu       sync.Mutex
	progress *tracker
}

func New(catalog *suite.Catalog, cfg *api.Config, c *client.Client, opts Options) *Engine {
	if opts.Collector == nil {
		opts.Collector = telemetry.Nop{}
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	return &Engine{
		catalog:   catalog,
		cfg:       cfg,
		client:    c,
		collector: opts.Collector,
		observer:  opts.OnProgress,
		delay:     opts.SequentialDelay,
		log:       opts.Log,
	}
}

// Progress returns a snapshot of the current (or most recent) run.
func (e *Engine) Progress() Progress {
	e.mu.Lock()
	t := e.progress
	e.mu.Unlock()
	if t == nil {
		return Progress{}
	}
	return t.snapshot()
}

func (e *Engine) startRun(total, workers int) *tracker {
	t := newTracker(total, workers)
	e.mu.Lock()
	e.progress = t
	e.mu.Unlock()
	return t
}

func (e *Engine) notify(t *tracker) {
	if e.observer != nil {
		e.observer(t.snapshot())
	}
}

// Run executes tests strictly in input order, one at a time, with the
// configured delay between tests.
func (e *Engine) Run(ctx context.Context, ids []string) []TestResult {
	metric.RunsActive.Inc()
	defer metric.RunsActive.Dec()

	t := e.startRun(len(ids), 1)
	e.log.Info("starting sequential run", "tests", len(ids), "endpoint", e.cfg.Endpoint)

	results := make([]TestResult, 0, len(ids))
	for i, id := range ids {
		t.setCurrent(id)
		res := e.executeOne(ctx, id)
		results = append(results, res)
		t.complete(&res)
		e.notify(t)

		if e.delay > 0 && i < len(ids)-1 {
			select {
			case <-ctx.Done():
			case <-time.After(e.delay):
			}
		}
	}

	final := t.snapshot()
	e.log.Info("sequential run finished",
		"completed", final.CompletedTests, "succeeded", final.SuccessfulTests, "failed", final.FailedTests)
	return results
}

// RunConcurrent executes tests with a bounded worker pool. The order
// of the returned results is not the input order; callers wanting
// deterministic output must sort by test id.
func (e *Engine) RunConcurrent(ctx context.Context, ids []string, workers int) []TestResult {
	if workers < 1 {
		workers = 1
	}
	if workers > len(ids) {
		workers = len(ids)
	}

	metric.RunsActive.Inc()
	defer metric.RunsActive.Dec()

	t := e.startRun(len(ids), workers)
	e.log.Info("starting concurrent run", "tests", len(ids), "workers", workers, "endpoint", e.cfg.Endpoint)

	jobs := make(chan string)
	var (
		mu      sync.Mutex
		results = make([]TestResult, 0, len(ids))
		wg      sync.WaitGroup
	)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				t.setCurrent(id)
				res := e.executeOne(ctx, id)

				mu.Lock()
				results = append(results, res)
				mu.Unlock()

				t.complete(&res)
				e.notify(t)
			}
		}()
	}

	for _, id := range ids {
		jobs <- id
	}
	close(jobs)
	wg.Wait()

	final := t.snapshot()
	e.log.Info("concurrent run finished",
		"completed", final.CompletedTests, "succeeded", final.SuccessfulTests, "failed", final.FailedTests)
	return results
}

// executeOne produces exactly one TestResult for the id. Failures of
// any kind are captured in the result, never propagated: one bad test
// must not abort the run.
func (e *Engine) executeOne(ctx context.Context, id string) TestResult {
	tc, ok := e.catalog.Get(id)
	if !ok {
		e.log.Error("unknown test id", "id", id)
		metric.TestsRun.WithLabelValues("failed").Inc()
		return failedResult(id, id, "unknown test id")
	}

	e.log.Info("executing test", "id", id, "name", tc.Name)
	req := api.BuildRequest(tc, e.cfg)

	body, elapsed, err := e.client.Do(ctx, req, e.cfg)
	snap := e.sample(ctx, id)
	if err != nil {
		e.log.Warn("test failed", "id", id, "error", err)
		metric.TestsRun.WithLabelValues("failed").Inc()
		res := failedResult(id, tc.Name, err.Error())
		res.Metrics = snap
		return res
	}

	resp, err := api.ParseResponse(body, e.cfg.Style)
	if err != nil {
		e.log.Warn("unparseable response", "id", id, "error", err)
		metric.TestsRun.WithLabelValues("failed").Inc()
		res := failedResult(id, tc.Name, err.Error())
		res.Metrics = snap
		return res
	}

	execSecs := elapsed.Seconds()
	var tps float64
	if resp.Usage.CompletionTokens > 0 && execSecs > 0 {
		tps = float64(resp.Usage.CompletionTokens) / execSecs
	}

	metric.TestsRun.WithLabelValues("success").Inc()
	metric.TokensGenerated.Add(float64(resp.Usage.CompletionTokens))

	return TestResult{
		TestID:           id,
		TestName:         tc.Name,
		Success:          true,
		ResponseText:     resp.Text,
		ExecutionTime:    execSecs,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TokensPerSecond:  tps,
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
		APIResponse:      resp.Raw,
		Metrics:          snap,
	}
}

// sample shields the run from a misbehaving collector: an error or
// panic there downgrades to a missing snapshot.
func (e *Engine) sample(ctx context.Context, id string) (snap *telemetry.Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Warn("telemetry collector panicked", "id", id, "panic", r)
			snap = nil
		}
	}()
	s := e.collector.Sample(ctx)
	if _, isNop := e.collector.(telemetry.Nop); isNop {
		return nil
	}
	return &s
}

func failedResult(id, name, msg string) TestResult {
	return TestResult{
		TestID:       id,
		TestName:     name,
		Success:      false,
		ErrorMessage: msg,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	}
}
