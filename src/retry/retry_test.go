package retry

import (
	"context"
	"testing"
	"time"

	"coinpulse/src/connectors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fast = Policy{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

func TestDoRetriesTransientErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fast, "fetch", func(context.Context) error {
		calls++
		if calls < 3 {
			return &connectors.APIError{StatusCode: 503}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fast, "fetch", func(context.Context) error {
		calls++
		return &connectors.APIError{StatusCode: 400, Name: "validation_error"}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Contains(t, err.Error(), "fetch")
}

func TestDoGivesUpAfterAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fast, "fetch", func(context.Context) error {
		calls++
		return context.DeadlineExceeded
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 3, calls)
}

func TestRateLimitOnlyPolicy(t *testing.T) {
	p := RateLimitOnly
	p.BaseDelay = time.Millisecond
	p.MaxDelay = time.Millisecond

	calls := 0
	err := Do(context.Background(), p, "place", func(context.Context) error {
		calls++
		return &connectors.APIError{StatusCode: 504}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "a timed out order must not be placed twice")

	calls = 0
	err = Do(context.Background(), p, "place", func(context.Context) error {
		calls++
		if calls == 1 {
			return &connectors.APIError{StatusCode: 429}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDoHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	slow := Policy{Attempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}

	calls := 0
	err := Do(ctx, slow, "fetch", func(context.Context) error {
		calls++
		cancel()
		return &connectors.APIError{StatusCode: 503}
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestValue(t *testing.T) {
	v, err := Value(context.Background(), fast, "price", func(context.Context) (float64, error) {
		return 42.5, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42.5, v)
}
