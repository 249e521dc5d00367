package outbound

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// RateLimitError signals a provider push-back (HTTP 429). RetryAfter
// carries the provider's requested pause, zero when the provider did not
// say.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s rate limited, retry after %s: %s", e.Provider, e.RetryAfter, e.Message)
	}
	return fmt.Sprintf("%s rate limited: %s", e.Provider, e.Message)
}

// TimeoutError signals the provider did not answer before the deadline.
type TimeoutError struct {
	Provider string
	Elapsed  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s request timed out after %s", e.Provider, e.Elapsed)
}

// PermanentError signals a request the provider will never accept (4xx
// other than 429). Retrying is pointless.
type PermanentError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("%s rejected request (HTTP %d): %s", e.Provider, e.StatusCode, e.Message)
}

// ServerError signals a provider 5xx response, transient by assumption.
type ServerError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s server error (HTTP %d): %s", e.Provider, e.StatusCode, e.Message)
}

// IsRateLimit reports whether the error is a provider rate limit and, if
// so, returns the requested pause.
func IsRateLimit(err error) (time.Duration, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle.RetryAfter, true
	}
	return 0, false
}

// IsRetryable reports whether the failure is transient: timeouts, network
// errors, and provider 5xx responses. Rate limits are not retryable in the
// attempt-counting sense; they are handled through the cool-down path.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var te *TimeoutError
	if errors.As(err, &te) {
		return true
	}
	var se *ServerError
	if errors.As(err, &se) {
		return true
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return false
	}
	if _, ok := IsRateLimit(err); ok {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
