// Package client executes inference requests with per-attempt timeouts
// and an explicit retry policy: transient failures (transport errors,
// 5xx, 429) back off exponentially, permanent failures (other 4xx)
// fail at once.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/graymantle/crucible/internal/api"
	"github.com/graymantle/crucible/internal/metric"
)

const maxBackoff = 30 * time.Second

// StatusError is a permanent HTTP failure surfaced with its body.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("endpoint returned %d: %s", e.Status, e.Body)
}

// ExhaustedError reports that every allowed attempt failed with a
// transient cause.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("exhausted %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeTransient
	outcomePermanent
)

// classify maps an attempt's result onto the retry state machine.
// Transport-level errors (refused, reset, timeout) are transient.
func classify(status int, err error) outcome {
	if err != nil {
		return outcomeTransient
	}
	switch {
	case status < 400:
		return outcomeSuccess
	case status == http.StatusTooManyRequests || status >= 500:
		return outcomeTransient
	default:
		return outcomePermanent
	}
}

// Client posts wire requests to an inference endpoint. Safe for
// concurrent use by multiple workers.
type Client struct {
	hc  *http.Client
	log *slog.Logger
}

// New returns a client. The outer http.Client carries no timeout of
// its own: each attempt is bounded by a context derived from the
// configured per-attempt timeout.
func New(log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{hc: &http.Client{}, log: log}
}

// Do executes one wire request against cfg.Endpoint, retrying
// transient failures up to cfg.RetryAttempts times. It returns the
// raw response body and the duration of the successful attempt; body
// interpretation beyond status classification is the caller's job.
func (c *Client) Do(ctx context.Context, req *api.Request, cfg *api.Config) ([]byte, time.Duration, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, 0, fmt.Errorf("encoding request: %w", err)
	}
	// A malformed endpoint is a permanent failure; catch it before
	// entering the retry loop.
	if _, err := http.NewRequest(http.MethodPost, cfg.Endpoint, nil); err != nil {
		return nil, 0, fmt.Errorf("malformed request: %w", err)
	}

	attempts := cfg.RetryAttempts + 1
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		body, header, elapsed, status, err := c.attempt(ctx, payload, cfg)

		switch classify(status, err) {
		case outcomeSuccess:
			return body, elapsed, nil
		case outcomePermanent:
			return nil, 0, &StatusError{Status: status, Body: truncate(string(body), 512)}
		case outcomeTransient:
			if err != nil {
				lastErr = err
			} else {
				lastErr = &StatusError{Status: status, Body: truncate(string(body), 512)}
			}
			if attempt == attempts-1 {
				continue
			}
			delay := backoff(cfg.RetryDelay, attempt)
			if status == http.StatusTooManyRequests {
				// The server knows better than the exponential schedule.
				if hinted, ok := retryAfterHint(header); ok {
					delay = hinted
				}
			}
			c.log.Warn("transient request failure, retrying",
				"attempt", attempt+1, "of", attempts, "delay", delay, "error", lastErr)
			metric.RequestRetries.Inc()
			if err := sleep(ctx, delay); err != nil {
				return nil, 0, err
			}
		}
	}
	return nil, 0, &ExhaustedError{Attempts: attempts, Last: lastErr}
}

func (c *Client) attempt(ctx context.Context, payload []byte, cfg *api.Config) (body []byte, header http.Header, elapsed time.Duration, status int, err error) {
	attemptCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, nil, 0, 0, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range cfg.Headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.hc.Do(httpReq)
	if err != nil {
		return nil, nil, 0, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(resp.Body)
	elapsed = time.Since(start)
	if err != nil {
		return nil, nil, 0, 0, fmt.Errorf("reading response: %w", err)
	}
	return body, resp.Header, elapsed, resp.StatusCode, nil
}

func backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	d := base << uint(attempt)
	if d > maxBackoff || d <= 0 {
		return maxBackoff
	}
	return d
}

// retryAfterHint parses a Retry-After header value, either delta
// seconds or an HTTP date.
func retryAfterHint(h http.Header) (time.Duration, bool) {
	v := h.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d, true
		}
	}
	return 0, false
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
