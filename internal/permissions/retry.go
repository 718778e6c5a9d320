package permissions

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Default retry configuration
const (
	defaultMaxRetries         = 2
	defaultInitialRetryDelay  = 200 * time.Millisecond
	defaultMaxRetryDelay      = 2 * time.Second
	defaultRetryDelayMultiple = 2.0
)

// retrier sends a request with exponential backoff between attempts.
// Requests are rebuilt for every attempt so that bodies and signatures
// are fresh.
type retrier struct {
	httpClient         *http.Client
	maxRetries         int
	initialRetryDelay  time.Duration
	maxRetryDelay      time.Duration
	retryDelayMultiple float64
}

func newRetrier(httpClient *http.Client, maxRetries int, initialDelay, maxDelay time.Duration) *retrier {
	r := &retrier{
		httpClient:         httpClient,
		maxRetries:         defaultMaxRetries,
		initialRetryDelay:  defaultInitialRetryDelay,
		maxRetryDelay:      defaultMaxRetryDelay,
		retryDelayMultiple: defaultRetryDelayMultiple,
	}
	if r.httpClient == nil {
		r.httpClient = http.DefaultClient
	}
	switch {
	case maxRetries > 0:
		r.maxRetries = maxRetries
	case maxRetries < 0:
		r.maxRetries = 0
	}
	if initialDelay > 0 {
		r.initialRetryDelay = initialDelay
	}
	if maxDelay > 0 {
		r.maxRetryDelay = maxDelay
	}
	return r
}

// retryable reports whether an attempt should be repeated: network
// errors, 5xx responses and 429.
func retryable(err error, resp *http.Response) bool {
	if err != nil {
		return true
	}
	if resp == nil {
		return false
	}
	return resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
}

func (r *retrier) do(
	ctx context.Context,
	newRequest func(ctx context.Context) (*http.Request, error),
) (*http.Response, error) {
	var lastErr error
	delay := r.initialRetryDelay

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				if lastErr != nil {
					return nil, fmt.Errorf("context cancelled after %d attempts: %w", attempt, lastErr)
				}
				return nil, ctx.Err()
			case <-time.After(delay):
				delay = time.Duration(float64(delay) * r.retryDelayMultiple)
				if delay > r.maxRetryDelay {
					delay = r.maxRetryDelay
				}
			}
		}

		req, err := newRequest(ctx)
		if err != nil {
			return nil, err
		}

		resp, err := r.httpClient.Do(req)
		if !retryable(err, resp) {
			return resp, nil
		}
		if ctx.Err() != nil {
			if resp != nil {
				resp.Body.Close()
			}
			return nil, ctx.Err()
		}

		lastErr = err
		if resp != nil {
			// The final attempt's response is returned to the caller.
			if attempt == r.maxRetries {
				return resp, nil
			}
			resp.Body.Close()
		}
	}

	return nil, fmt.Errorf("request failed after %d retries: %w", r.maxRetries, lastErr)
}
