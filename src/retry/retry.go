// Package retry runs an operation with bounded exponential backoff.
package retry

import (
	"context"
	"fmt"
	"time"

	"coinpulse/src/connectors"

	logger "github.com/sirupsen/logrus"
)

type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Retryable decides whether a failed attempt is worth repeating.
	// Defaults to connectors.IsTransient.
	Retryable func(error) bool
}

// Default is used for reads against the exchange.
var Default = Policy{
	Attempts:  3,
	BaseDelay: 300 * time.Millisecond,
	MaxDelay:  3 * time.Second,
}

// RateLimitOnly retries only when the exchange said 429: the request was not accepted,
// so repeating an order placement cannot create a duplicate.
var RateLimitOnly = Policy{
	Attempts:  3,
	BaseDelay: 500 * time.Millisecond,
	MaxDelay:  4 * time.Second,
	Retryable: connectors.IsRateLimited,
}

func (p Policy) delay(attempt int) time.Duration {
	d := p.BaseDelay << attempt
	if d <= 0 || (p.MaxDelay > 0 && d > p.MaxDelay) {
		return p.MaxDelay
	}
	return d
}

// Do calls fn until it succeeds, returns a non-retryable error, runs out of attempts,
// or ctx is done. The last error is returned wrapped with op.
func Do(ctx context.Context, p Policy, op string, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = connectors.IsTransient
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !retryable(err) || attempt == attempts-1 {
			break
		}

		wait := p.delay(attempt)
		logger.WithFields(map[string]interface{}{
			"op":      op,
			"attempt": attempt + 1,
			"wait":    wait.String(),
		}).WithError(err).Warn("retrying after transient failure")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-timer.C:
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Value is Do for operations that return a result.
func Value[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
