package connectors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrMissingCredentials is returned by private endpoints when no keys were configured.
	ErrMissingCredentials = errors.New("exchange credentials are not configured")
	ErrUnauthorized       = errors.New("exchange rejected credentials")
	ErrRateLimited        = errors.New("exchange rate limit exceeded")
)

// APIError is a non-2xx answer from the exchange.
type APIError struct {
	StatusCode int
	Name       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("exchange HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("exchange HTTP %d %s: %s", e.StatusCode, e.Name, e.Message)
}

func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	}
	return nil
}

// IsRateLimited reports whether err came from a 429 answer.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// IsFatal reports errors that retrying cannot fix: the run must stop.
func IsFatal(err error) bool {
	return errors.Is(err, ErrMissingCredentials) || errors.Is(err, ErrUnauthorized)
}

// IsTransient reports network failures, timeouts, rate limits and 5xx answers.
func IsTransient(err error) bool {
	if err == nil || IsFatal(err) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if IsRateLimited(err) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusRequestTimeout
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
