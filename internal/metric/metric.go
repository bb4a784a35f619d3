package metric

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crucible_runs_active",
		Help: "The number of benchmark runs currently executing",
	})

	TestsRun = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crucible_tests_run_total",
		Help: "The number of tests executed since the process started",
	}, []string{"result"})

	TokensGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crucible_tokens_generated_total",
		Help: "Completion tokens generated across all tests",
	})

	RequestRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crucible_request_retries_total",
		Help: "Inference requests retried after a transient failure",
	})
)
