package engine_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/graymantle/crucible/internal/api"
	"github.com/graymantle/crucible/internal/client"
	"github.com/graymantle/crucible/internal/engine"
	"github.com/graymantle/crucible/internal/suite"
	"github.com/graymantle/crucible/internal/telemetry"
)

func catalogOf(t *testing.T, n int) *suite.Catalog {
	t.Helper()
	var b strings.Builder
	b.WriteString(`{"tests":[`)
	for i := 1; i <= n; i++ {
		if i > 1 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, `{"id":"t%d","name":"Test %d","category":"alpha","prompt":"prompt %d","parameters":{"max_tokens":16}}`, i, i, i)
	}
	b.WriteString(`]}`)
	c, err := suite.Parse([]byte(b.String()))
	require.NoError(t, err)
	return c
}

// mockEndpoint answers every request with a fixed completions body
// unless the prompt matches a configured failure marker.
func mockEndpoint(t *testing.T, failPrompt string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req api.Request
		require.NoError(t, jsonDecode(r, &req))
		if failPrompt != "" && strings.Contains(req.Prompt, failPrompt) {
			http.Error(w, "bad test", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `{"choices":[{"text":"ok"}],"usage":{"prompt_tokens":10,"completion_tokens":5}}`)
	}))
}

func jsonDecode(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func newEngine(catalog *suite.Catalog, endpoint string, opts engine.Options) (*engine.Engine, *api.Config) {
	cfg := &api.Config{
		Endpoint:      endpoint,
		Model:         "test-model",
		Timeout:       5 * time.Second,
		RetryAttempts: 0,
		RetryDelay:    time.Millisecond,
		Style:         api.StyleCompletions,
	}
	return engine.New(catalog, cfg, client.New(nil), opts), cfg
}

func TestRunSequential(t *testing.T) {
	srv := mockEndpoint(t, "")
	defer srv.Close()

	catalog := catalogOf(t, 3)
	eng, _ := newEngine(catalog, srv.URL, engine.Options{})

	results := eng.Run(context.Background(), []string{"t1", "t2", "t3"})
	require.Len(t, results, 3)
	for i, res := range results {
		require.Equal(t, fmt.Sprintf("t%d", i+1), res.TestID, "sequential mode preserves input order")
		require.True(t, res.Success)
		require.Equal(t, "ok", res.ResponseText)
		require.Equal(t, 5, res.CompletionTokens)
		require.Equal(t, 10, res.PromptTokens)
		require.NotEmpty(t, res.Timestamp)
		require.NotEmpty(t, res.APIResponse)
	}

	final := eng.Progress()
	require.Equal(t, 3, final.CompletedTests)
	require.Equal(t, 3, final.SuccessfulTests)
	require.Equal(t, 0, final.FailedTests)
	require.Equal(t, 15, final.TokensGenerated)
}

func TestThroughputIdentity(t *testing.T) {
	srv := mockEndpoint(t, "")
	defer srv.Close()

	eng, _ := newEngine(catalogOf(t, 1), srv.URL, engine.Options{})
	results := eng.Run(context.Background(), []string{"t1"})
	require.Len(t, results, 1)

	res := results[0]
	require.True(t, res.Success)
	require.Greater(t, res.ExecutionTime, 0.0)
	require.InEpsilon(t, float64(res.CompletionTokens)/res.ExecutionTime, res.TokensPerSecond, 1e-9)
}

func TestFailureIsolation(t *testing.T) {
	srv := mockEndpoint(t, "prompt 3")
	defer srv.Close()

	eng, _ := newEngine(catalogOf(t, 5), srv.URL, engine.Options{})
	results := eng.Run(context.Background(), []string{"t1", "t2", "t3", "t4", "t5"})
	require.Len(t, results, 5)

	for _, res := range results {
		if res.TestID == "t3" {
			require.False(t, res.Success)
			require.Contains(t, res.ErrorMessage, "400")
		} else {
			require.True(t, res.Success, "test %s should not be affected by t3", res.TestID)
		}
	}

	final := eng.Progress()
	require.Equal(t, 5, final.CompletedTests)
	require.Equal(t, 4, final.SuccessfulTests)
	require.Equal(t, 1, final.FailedTests)
}

func TestUnknownTestID(t *testing.T) {
	srv := mockEndpoint(t, "")
	defer srv.Close()

	eng, _ := newEngine(catalogOf(t, 1), srv.URL, engine.Options{})
	results := eng.Run(context.Background(), []string{"t1", "missing"})
	require.Len(t, results, 2)
	require.True(t, results[0].Success)
	require.False(t, results[1].Success)
	require.Contains(t, results[1].ErrorMessage, "unknown test id")
}

func TestRunConcurrent(t *testing.T) {
	srv := mockEndpoint(t, "")
	defer srv.Close()

	const n = 20
	catalog := catalogOf(t, n)
	ids := catalog.IDs()

	var (
		mu        sync.Mutex
		snapshots []engine.Progress
	)
	eng, _ := newEngine(catalog, srv.URL, engine.Options{
		OnProgress: func(p engine.Progress) {
			mu.Lock()
			snapshots = append(snapshots, p)
			mu.Unlock()
		},
	})

	results := eng.RunConcurrent(context.Background(), ids, 4)
	require.Len(t, results, n)

	// Concurrent order is unspecified; sorting by id must recover the
	// full requested set.
	sort.Slice(results, func(i, j int) bool { return results[i].TestID < results[j].TestID })
	got := make([]string, n)
	for i, res := range results {
		got[i] = res.TestID
		require.True(t, res.Success)
	}
	require.Equal(t, ids, got)

	// Progress invariants at every observed instant.
	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, snapshots)
	prev := 0
	for _, p := range snapshots {
		require.GreaterOrEqual(t, p.CompletedTests, prev, "completed count must never decrease")
		require.Equal(t, p.CompletedTests, p.SuccessfulTests+p.FailedTests)
		require.LessOrEqual(t, p.CompletedTests, n)
		prev = p.CompletedTests
	}

	final := eng.Progress()
	require.Equal(t, n, final.CompletedTests)
	require.Equal(t, n, final.SuccessfulTests)
}

func TestRunConcurrentClampsWorkers(t *testing.T) {
	srv := mockEndpoint(t, "")
	defer srv.Close()

	eng, _ := newEngine(catalogOf(t, 2), srv.URL, engine.Options{})

	// More workers than tests, and zero workers, both degrade instead
	// of failing the run.
	results := eng.RunConcurrent(context.Background(), []string{"t1", "t2"}, 16)
	require.Len(t, results, 2)
	results = eng.RunConcurrent(context.Background(), []string{"t1"}, 0)
	require.Len(t, results, 1)
}

func TestCategoryRunEndToEnd(t *testing.T) {
	catalog, err := suite.Parse([]byte(`{"tests":[
		{"id":"t1","name":"Alpha one","category":"alpha","prompt":"a1","parameters":{}},
		{"id":"t2","name":"Alpha two","category":"alpha","prompt":"a2","parameters":{}},
		{"id":"t3","name":"Beta one","category":"beta","prompt":"b1","parameters":{}}
	]}`))
	require.NoError(t, err)
	require.Equal(t, []string{"t1", "t2"}, catalog.IDsByCategory("alpha"))

	srv := mockEndpoint(t, "")
	defer srv.Close()

	eng, _ := newEngine(catalog, srv.URL, engine.Options{})
	results := eng.Run(context.Background(), catalog.IDsByCategory("beta"))
	require.Len(t, results, 1)
	require.True(t, results[0].Success)
	require.Equal(t, "t3", results[0].TestID)
	require.Equal(t, 5, results[0].CompletionTokens)
	require.InEpsilon(t, float64(results[0].CompletionTokens)/results[0].ExecutionTime, results[0].TokensPerSecond, 1e-9)
}

type panicCollector struct{}

func (panicCollector) Sample(context.Context) telemetry.Snapshot {
	panic("sensor exploded")
}

func TestCollectorFailureDoesNotFailTest(t *testing.T) {
	srv := mockEndpoint(t, "")
	defer srv.Close()

	eng, _ := newEngine(catalogOf(t, 1), srv.URL, engine.Options{
		Collector: panicCollector{},
	})
	results := eng.Run(context.Background(), []string{"t1"})
	require.Len(t, results, 1)
	require.True(t, results[0].Success)
	require.Nil(t, results[0].Metrics)
}
