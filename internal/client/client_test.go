package client_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/graymantle/crucible/internal/api"
	"github.com/graymantle/crucible/internal/client"
)

func testConfig(endpoint string) *api.Config {
	return &api.Config{
		Endpoint:      endpoint,
		Model:         "test-model",
		Timeout:       5 * time.Second,
		RetryAttempts: 2,
		RetryDelay:    time.Millisecond,
		Style:         api.StyleCompletions,
	}
}

func TestDoSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Write([]byte(`{"choices":[{"text":"ok"}],"usage":{"prompt_tokens":10,"completion_tokens":5}}`))
	}))
	defer srv.Close()

	c := client.New(nil)
	body, elapsed, err := c.Do(context.Background(), &api.Request{Model: "m", Prompt: "p"}, testConfig(srv.URL))
	require.NoError(t, err)
	require.Contains(t, string(body), `"completion_tokens":5`)
	require.Greater(t, elapsed, time.Duration(0))
}

func TestDoRetriesUntilExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "upstream broken", http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	_, _, err := client.New(nil).Do(context.Background(), &api.Request{}, cfg)

	var exhausted *client.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, cfg.RetryAttempts+1, exhausted.Attempts)
	require.Equal(t, int32(cfg.RetryAttempts+1), calls.Load())

	var status *client.StatusError
	require.ErrorAs(t, exhausted.Last, &status)
	require.Equal(t, http.StatusInternalServerError, status.Status)
}

func TestDoNoRetryOnPermanentFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "no such model", http.StatusNotFound)
	}))
	defer srv.Close()

	_, _, err := client.New(nil).Do(context.Background(), &api.Request{}, testConfig(srv.URL))

	var status *client.StatusError
	require.ErrorAs(t, err, &status)
	require.Equal(t, http.StatusNotFound, status.Status)
	require.Contains(t, status.Body, "no such model")
	require.Equal(t, int32(1), calls.Load(), "404 must not be retried")
}

func TestDoRecoversAfterTransientFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"choices":[{"text":"recovered"}]}`))
	}))
	defer srv.Close()

	body, _, err := client.New(nil).Do(context.Background(), &api.Request{}, testConfig(srv.URL))
	require.NoError(t, err)
	require.Contains(t, string(body), "recovered")
	require.Equal(t, int32(3), calls.Load())
}

func TestDoHonorsRetryAfter(t *testing.T) {
	var calls atomic.Int32
	var firstRetryGap time.Duration
	var prev time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := time.Now()
		if calls.Add(1) == 1 {
			prev = now
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		if firstRetryGap == 0 {
			firstRetryGap = now.Sub(prev)
		}
		w.Write([]byte(`{"choices":[{"text":"ok"}]}`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.RetryDelay = time.Millisecond // exponential schedule would retry almost instantly
	_, _, err := client.New(nil).Do(context.Background(), &api.Request{}, cfg)
	require.NoError(t, err)
	require.GreaterOrEqual(t, firstRetryGap, 900*time.Millisecond, "Retry-After hint ignored")
}

func TestDoTimeoutPerAttempt(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Timeout = 20 * time.Millisecond
	cfg.RetryAttempts = 1

	_, _, err := client.New(nil).Do(context.Background(), &api.Request{}, cfg)
	var exhausted *client.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, int32(2), calls.Load(), "each attempt gets its own timeout")
}

func TestDoContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := testConfig(srv.URL)
	cfg.RetryDelay = time.Minute
	_, _, err := client.New(nil).Do(ctx, &api.Request{}, cfg)
	require.ErrorIs(t, err, context.Canceled, "retry sleeps must respect cancellation")
}

func TestDoMalformedEndpoint(t *testing.T) {
	cfg := testConfig("http://bad host/v1/completions")
	_, _, err := client.New(nil).Do(context.Background(), &api.Request{}, cfg)
	require.Error(t, err)
	var exhausted *client.ExhaustedError
	require.False(t, errors.As(err, &exhausted), "malformed endpoint must fail without retries")
}
