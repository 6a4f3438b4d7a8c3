package market

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"
)

// APIError is a non-2xx answer from a price provider.
type APIError struct {
	StatusCode int
	Symbol     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error: status=%d symbol=%s message=%s", e.StatusCode, e.Symbol, e.Message)
	}
	return fmt.Sprintf("api error: status=%d symbol=%s", e.StatusCode, e.Symbol)
}

// RateLimitError indicates a 429 answer and may carry a Retry-After hint.
type RateLimitError struct {
	*APIError
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited: wait about %ds before retrying: %s", int(e.RetryAfter.Seconds()), e.APIError.Error())
	}
	return fmt.Sprintf("rate limited: %s", e.APIError.Error())
}

func (e *RateLimitError) Unwrap() error { return e.APIError }

// SymbolNotFoundError means the provider does not know the symbol or has no
// quotes for it in the requested range. It is never retried.
type SymbolNotFoundError struct {
	Symbol string
	Reason string
}

func (e *SymbolNotFoundError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("symbol not found: %s: %s", e.Symbol, e.Reason)
	}
	return fmt.Sprintf("symbol not found: %s", e.Symbol)
}

// ServerError indicates 5xx answers from the provider.
type ServerError struct{ *APIError }

func (e *ServerError) Error() string { return fmt.Sprintf("provider error: %s", e.APIError.Error()) }

func (e *ServerError) Unwrap() error { return e.APIError }

// IsNotFound reports whether err is a SymbolNotFoundError.
func IsNotFound(err error) bool {
	var nf *SymbolNotFoundError
	return errors.As(err, &nf)
}

// classify maps a raw APIError to a typed error.
func classify(apiErr *APIError, resp *http.Response) error {
	switch sc := apiErr.StatusCode; {
	case sc == http.StatusNotFound:
		return &SymbolNotFoundError{Symbol: apiErr.Symbol, Reason: apiErr.Message}
	case sc == http.StatusTooManyRequests:
		var ra time.Duration
		if resp != nil {
			ra = retryAfter(resp.Header.Get("Retry-After"))
		}
		return &RateLimitError{APIError: apiErr, RetryAfter: ra}
	case sc >= 500 && sc <= 599:
		return &ServerError{APIError: apiErr}
	}
	return apiErr
}

func retryable(err error) bool {
	var rl *RateLimitError
	var se *ServerError
	if errors.As(err, &rl) || errors.As(err, &se) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

// retryAfter interprets a Retry-After header as seconds or an HTTP date.
func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if s, err := strconv.Atoi(v); err == nil && s > 0 {
		return time.Duration(s) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
