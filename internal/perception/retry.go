package perception

import (
	"context"
	"errors"
	"time"

	"patternpress/internal/logging"
)

// RetryPolicy bounds CallWithRetry.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// CallTimeout bounds each attempt. Zero leaves the caller's deadline alone.
	CallTimeout time.Duration
	// Sleep waits between attempts. nil uses a ctx-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy is three attempts five seconds apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   5 * time.Second,
		CallTimeout: 5 * time.Minute,
	}
}

// Backoff returns the wait after a failed attempt (counted from 1): linear
// BaseDelay*attempt for rate limits, a fixed BaseDelay otherwise.
func (p RetryPolicy) Backoff(err error, attempt int) time.Duration {
	if IsRateLimit(err) {
		return p.BaseDelay * time.Duration(attempt)
	}
	return p.BaseDelay
}

// CallWithRetry calls client until it succeeds, returns a non-retryable
// error, or runs out of attempts. Rate limits and transient errors are
// retried; everything else is returned as is. Exhaustion gives
// *DerivationExhaustedError wrapping the last error.
func CallWithRetry(ctx context.Context, client LLMClient, req Request, policy RetryPolicy) (string, error) {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := policy.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		text, err := callOnce(ctx, client, req, policy.CallTimeout)
		if err == nil {
			if attempt > 1 {
				logging.API("Call succeeded on attempt %d/%d", attempt, attempts)
			}
			return text, nil
		}
		// A cancelled run is not a provider failure.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		if !retryable(err) {
			logging.APIError("Non-retryable error on attempt %d: %v", attempt, err)
			return "", err
		}

		lastErr = err
		if attempt == attempts {
			break
		}
		delay := policy.Backoff(err, attempt)
		logging.APIWarn("Attempt %d/%d failed (%v); retrying in %v", attempt, attempts, err, delay)
		if err := sleep(ctx, delay); err != nil {
			return "", err
		}
	}

	logging.APIError("Giving up after %d attempts: %v", attempts, lastErr)
	return "", &DerivationExhaustedError{Attempts: attempts, Last: lastErr}
}

func callOnce(ctx context.Context, client LLMClient, req Request, timeout time.Duration) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	text, err := client.Complete(ctx, req)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !IsTransient(err) {
		// The per-call bound fired; the run itself is still live.
		err = &TransientError{Err: err}
	}
	return text, err
}

func retryable(err error) bool {
	return IsRateLimit(err) || IsTransient(err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
