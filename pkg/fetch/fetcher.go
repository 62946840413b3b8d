package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"jw-notices/pkg/utils"
)

// RetryPolicy configures FetchWithRetry. MaxRetries 0 means a single attempt.
type RetryPolicy struct {
	MaxRetries        int
	InitialRetryDelay time.Duration
	MaxRetryDelay     time.Duration
}

// Fetcher executes portal requests over the shared client with an optional retry policy
type Fetcher struct {
	client *http.Client
	policy RetryPolicy
	log    *logrus.Entry
}

// NewFetcher creates a new Fetcher instance
func NewFetcher(client *http.Client, policy RetryPolicy, log *logrus.Entry) *Fetcher {
	return &Fetcher{
		client: client,
		policy: policy,
		log:    log,
	}
}

// Client returns the underlying HTTP client
func (f *Fetcher) Client() *http.Client {
	return f.client
}

// FetchWithRetry performs req bound to ctx and returns a 2xx response; the caller closes its body.
// Every non-2xx outcome is returned as an error with the body already drained and closed.
// Network errors, 5xx and 429 are retried with exponential backoff and jitter while attempts remain.
func (f *Fetcher) FetchWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error

	reqLog := f.log.WithFields(logrus.Fields{"method": req.Method, "url": req.URL.String()})

	maxRetries := f.policy.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	for attempt := 0; attempt <= maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return nil, fmt.Errorf("context cancelled (%v) during retry backoff after error: %w", ctx.Err(), lastErr)
			}
			return nil, fmt.Errorf("context cancelled before first attempt: %w", ctx.Err())
		default:
		}

		if attempt > 0 {
			finalDelay := f.backoff(attempt)
			reqLog.WithFields(logrus.Fields{"attempt": attempt, "max_retries": maxRetries, "delay": finalDelay}).Warn("Retrying request...")

			select {
			case <-time.After(finalDelay):
			case <-ctx.Done():
				return nil, fmt.Errorf("context cancelled (%v) during retry delay after error: %w", ctx.Err(), lastErr)
			}
		}

		reqWithCtx := req.WithContext(ctx)
		if attempt > 0 && req.GetBody != nil {
			// Form bodies are consumed by the previous attempt
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("%w: rewind request body: %v", utils.ErrRequestCreation, err)
			}
			reqWithCtx.Body = body
		}

		resp, err := f.client.Do(reqWithCtx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				reqLog.Warnf("Context cancelled/timed out during HTTP request execution: %v", err)
				return nil, err
			}
			reqLog.WithField("attempt", attempt).Errorf("Network error: %v", err)
			lastErr = err
			continue
		}

		statusCode := resp.StatusCode
		resLog := reqLog.WithFields(logrus.Fields{"status_code": statusCode, "attempt": attempt})

		switch {
		case statusCode >= 200 && statusCode < 300:
			resLog.Debug("Successfully fetched")
			return resp, nil

		case statusCode >= 500:
			resLog.Warn("Server error")
			lastErr = fmt.Errorf("%w: status %d %s", utils.ErrServerHTTPError, statusCode, resp.Status)
			drainAndClose(resp)
			continue

		case statusCode == http.StatusTooManyRequests:
			resLog.Warn("Received 429 Too Many Requests")
			lastErr = fmt.Errorf("%w: status %d %s", utils.ErrClientHTTPError, statusCode, resp.Status)
			drainAndClose(resp)
			continue

		case statusCode >= 400 && statusCode < 500:
			resLog.Warn("Client error (4xx), not retrying")
			drainAndClose(resp)
			return nil, fmt.Errorf("%w: status %d %s", utils.ErrClientHTTPError, statusCode, resp.Status)

		default:
			resLog.Warnf("Non-retryable/unexpected status: %d", statusCode)
			drainAndClose(resp)
			return nil, fmt.Errorf("%w: status %d %s", utils.ErrOtherHTTPError, statusCode, resp.Status)
		}
	}

	if maxRetries > 0 {
		reqLog.Errorf("All %d fetch attempts failed. Last error: %v", maxRetries+1, lastErr)
	}
	if lastErr == nil {
		return nil, utils.ErrRetryFailed
	}
	return nil, fmt.Errorf("%w: %w", utils.ErrRetryFailed, lastErr)
}

// backoff returns initial * 2^(attempt-1), capped at the max delay, with +/- 10% jitter
func (f *Fetcher) backoff(attempt int) time.Duration {
	maxDelay := f.policy.MaxRetryDelay
	delay := time.Duration(float64(f.policy.InitialRetryDelay) * math.Pow(2, float64(attempt-1)))
	if delay <= 0 || (maxDelay > 0 && delay > maxDelay) {
		delay = maxDelay
	}

	var jitter time.Duration
	if jitterRange := int64(delay) / 5; jitterRange > 0 {
		jitter = time.Duration(rand.Int63n(jitterRange)) - (delay / 10)
	}
	if final := delay + jitter; final > 0 {
		return final
	}
	return 0
}

func drainAndClose(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
