package engine

import (
	"sync"
	"time"
)

// Progress is a consistent snapshot of run-wide counters. Observers
// receive copies, never the live tracker, so they can read without
// synchronization.
type Progress struct {
	TotalTests         int           `json:"total_tests"`
	CompletedTests     int           `json:"completed_tests"`
	SuccessfulTests    int           `json:"successful_tests"`
	FailedTests        int           `json:"failed_tests"`
	CurrentTest        string        `json:"current_test,omitempty"`
	StartedAt          time.Time     `json:"started_at"`
	Elapsed            time.Duration `json:"elapsed"`
	TokensGenerated    int           `json:"tokens_generated"`
	AverageTestTime    time.Duration `json:"average_test_time"`
	EstimatedRemaining time.Duration `json:"estimated_remaining"`
	TestsPerSecond     float64       `json:"tests_per_second"`
	TokensPerSecond    float64       `json:"tokens_per_second"`
}

// tracker is the single piece of state shared between workers. Every
// mutation happens under mu; completed == succeeded + failed holds at
// every unlock.
type tracker struct {
	mu sync.Mutex

	total     int
	completed int
	succeeded int
	failed    int
	current   string
	started   time.Time
	tokens    int
	testTime  time.Duration // cumulative execution time of completed tests
	workers   int
}

func newTracker(total, workers int) *tracker {
	if workers < 1 {
		workers = 1
	}
	return &tracker{total: total, workers: workers, started: time.Now()}
}

func (t *tracker) setCurrent(id string) {
	t.mu.Lock()
	t.current = id
	t.mu.Unlock()
}

// complete records one finished test. The counter group is updated
// atomically so no observer can see completed out of sync with the
// success/failure split.
func (t *tracker) complete(res *TestResult) {
	t.mu.Lock()
	t.completed++
	if res.Success {
		t.succeeded++
	} else {
		t.failed++
	}
	t.tokens += res.CompletionTokens
	t.testTime += time.Duration(res.ExecutionTime * float64(time.Second))
	if t.current == res.TestID {
		t.current = ""
	}
	t.mu.Unlock()
}

func (t *tracker) snapshot() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := Progress{
		TotalTests:      t.total,
		CompletedTests:  t.completed,
		SuccessfulTests: t.succeeded,
		FailedTests:     t.failed,
		CurrentTest:     t.current,
		StartedAt:       t.started,
		Elapsed:         time.Since(t.started),
		TokensGenerated: t.tokens,
	}
	if t.completed > 0 {
		p.AverageTestTime = t.testTime / time.Duration(t.completed)
		remaining := t.total - t.completed
		p.EstimatedRemaining = p.AverageTestTime * time.Duration(remaining) / time.Duration(t.workers)
	}
	if secs := p.Elapsed.Seconds(); secs > 0 {
		p.TestsPerSecond = float64(t.completed) / secs
		p.TokensPerSecond = float64(t.tokens) / secs
	}
	return p
}
