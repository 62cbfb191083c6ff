package coingecko

import (
	"errors"
	"fmt"
)

// ErrSeriesMismatch reports parallel time series (prices, market caps,
// volumes) that disagree on length or timestamps. This is a data integrity
// defect in the upstream payload and is never retried.
var ErrSeriesMismatch = errors.New("parallel series disagree on length or timestamps")

// NetworkError is a transport-level failure that survived the retry budget.
type NetworkError struct {
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("request failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// RateLimitError is a 429 that survived the retry budget.
type RateLimitError struct {
	Attempts int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited after %d attempts", e.Attempts)
}

// UpstreamError is a non-retryable HTTP error status from the provider.
type UpstreamError struct {
	Status int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.Status)
}

// IsRateLimited reports whether err is an exhausted rate-limit failure.
func IsRateLimited(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// IsOperational reports whether err is one of the expected client failure
// modes (network, rate limit, upstream status, series mismatch). Anything
// else escaping the client is a defect in the caller's eyes.
func IsOperational(err error) bool {
	var (
		ne *NetworkError
		rl *RateLimitError
		ue *UpstreamError
	)
	return errors.As(err, &ne) || errors.As(err, &rl) || errors.As(err, &ue) ||
		errors.Is(err, ErrSeriesMismatch)
}
