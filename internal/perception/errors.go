package perception

import (
	"errors"
	"fmt"
	"time"
)

// RateLimitError is a provider rate-limit signal (HTTP 429 or equivalent).
type RateLimitError struct {
	Provider   Provider
	RetryAfter time.Duration
	Body       string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: rate limit exceeded: %s", e.Provider, e.Body)
}

// TransientError is a retryable failure: 5xx, overload or a transport error.
type TransientError struct {
	Provider   Provider
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: transient error (status %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: transient error: %v", e.Provider, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// APIError is a non-retryable provider error.
type APIError struct {
	Provider   Provider
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: API request failed with status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// DerivationExhaustedError is returned once every attempt has failed with a
// retryable error.
type DerivationExhaustedError struct {
	Attempts int
	Last     error
}

func (e *DerivationExhaustedError) Error() string {
	return fmt.Sprintf("derivation failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *DerivationExhaustedError) Unwrap() error { return e.Last }

// IsRateLimit reports whether err is a rate-limit signal.
func IsRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// IsTransient reports whether err is retryable without rate-limit backoff.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
