// Package httpretry wraps an HTTP client with bounded retries for the
// provider calls that are safe to repeat. Transient transport errors and
// throttling or server statuses (429, 500, 502, 503, 504) are retried
// with exponential backoff and full jitter; client errors return
// immediately so a bad request never burns the retry budget.
package httpretry

import (
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/maxretain/lifecycle-mailer/internal/pkg/logger"
)

// Doer executes one HTTP request. *http.Client satisfies it, as does
// *Client, so retrying clients can be layered or swapped out in tests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client retries idempotent requests on transient failures.
type Client struct {
	inner   Doer
	retries int
	base    time.Duration
	max     time.Duration
	log     *logger.Logger
}

// New wraps inner with up to retries additional attempts. A nil inner
// gets a stock http.Client with a 30s timeout; retries <= 0 means 3.
func New(inner Doer, retries int) *Client {
	if inner == nil {
		inner = &http.Client{Timeout: 30 * time.Second}
	}
	if retries <= 0 {
		retries = 3
	}
	return &Client{
		inner:   inner,
		retries: retries,
		base:    time.Second,
		max:     30 * time.Second,
		log:     logger.With("httpretry"),
	}
}

// Do executes req, retrying on retryable statuses and transport errors.
// The final attempt's response is returned as-is so callers can read the
// status and body of a persistent failure. Requests with a body must
// carry GetBody (http.NewRequest sets it for common body types).
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.retries; attempt++ {
		if err := req.Context().Err(); err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}

		if attempt > 0 {
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("httpretry: rewinding request body: %w", err)
				}
				req.Body = body
			}
			delay := c.backoff(attempt)
			c.log.Warn("retrying request",
				"attempt", attempt, "max", c.retries,
				"method", req.Method, "host", req.URL.Host, "wait", delay.String())

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-req.Context().Done():
				timer.Stop()
				if lastErr != nil {
					return nil, lastErr
				}
				return nil, req.Context().Err()
			}
		}

		resp, err := c.inner.Do(req)
		if err != nil {
			if req.Context().Err() != nil {
				return nil, err
			}
			lastErr = err
			continue
		}
		if !retryable(resp.StatusCode) || attempt == c.retries {
			return resp, nil
		}

		// Drain so the connection can be reused for the retry.
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("httpretry: status %d after attempt %d", resp.StatusCode, attempt+1)
	}

	return nil, lastErr
}

// backoff computes the wait before the given attempt: full jitter over
// base*2^(attempt-1), capped at max, with a 100ms floor.
func (c *Client) backoff(attempt int) time.Duration {
	ceiling := float64(c.base) * math.Pow(2, float64(attempt-1))
	if ceiling > float64(c.max) {
		ceiling = float64(c.max)
	}
	d := time.Duration(rand.Float64() * ceiling)
	if d < 100*time.Millisecond {
		d = 100 * time.Millisecond
	}
	return d
}

func retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
