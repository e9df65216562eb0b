package github

import (
	"context"
	"errors"
	"log"
	"time"

	gh "github.com/google/go-github/v66/github"
)

const (
	minRetryDelay = 1 * time.Second
	maxRetryDelay = 60 * time.Second
)

// retrySleep is a seam for tests; production waits in real time.
var retrySleep = sleepContext

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// shouldRetry is the throttle predicate: rejection number retryCount is
// retried while retryCount <= maxRetries, so with the default cap of 3
// the 4th rejection is surfaced to the caller instead of retried.
func (c *Client) shouldRetry(retryCount int) bool {
	_, maxRetries := c.retrySettings()
	return retryCount <= maxRetries
}

// withRetry runs fn with a per-attempt timeout and the client's retry
// policy: retryable failures (rate limit, 5xx) are retried up to the
// configured cap, waiting the server-indicated delay when there is one;
// validation failures and other permanent kinds surface immediately.
func (c *Client) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if err := c.ensureReady(op); err != nil {
		return err
	}

	for attempt := 1; ; attempt++ {
		timeout, maxRetries := c.retrySettings()
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			if attempt > 1 {
				log.Printf("[GitHub] %s succeeded on attempt %d", op, attempt)
			}
			return nil
		}

		ce := ClassifyErr(err)
		if !ce.Retryable() || !c.shouldRetry(attempt) {
			if ce.Retryable() {
				log.Printf("[GitHub] %s: giving up after %d rejections: %v", op, attempt, ce)
			}
			return ce
		}

		delay := retryDelay(err, attempt)
		log.Printf("[GitHub] %s: %s, retrying in %v (attempt %d/%d)", op, ce.Kind, delay, attempt, maxRetries)
		if serr := retrySleep(ctx, delay); serr != nil {
			return ClassifyErr(serr)
		}
	}
}

// retryDelay picks the wait before the next attempt: the server-
// indicated reset/retry-after for rate limits, exponential backoff
// otherwise. Every wait is clamped to [minRetryDelay, maxRetryDelay],
// including the server-indicated one, so a single call never blocks
// longer than maxRetries*maxRetryDelay. A quota window that resets
// further out than the clamp allows exhausts the cap and surfaces
// GITHUB_RATE_LIMIT, which is marked retryable for the caller.
func retryDelay(err error, attempt int) time.Duration {
	var delay time.Duration

	var rateErr *gh.RateLimitError
	var abuseErr *gh.AbuseRateLimitError
	switch {
	case errors.As(err, &rateErr):
		delay = time.Until(rateErr.Rate.Reset.Time)
	case errors.As(err, &abuseErr) && abuseErr.RetryAfter != nil:
		delay = *abuseErr.RetryAfter
	default:
		delay = minRetryDelay << (attempt - 1)
	}

	if delay < minRetryDelay {
		delay = minRetryDelay
	}
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}
