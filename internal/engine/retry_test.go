package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shaharzep/decision-extract/internal/common"
)

func TestRetryPolicy_BackoffCurve(t *testing.T) {
	p := RetryPolicy{
		MaxAttempts:      4,
		InitialBackoff:   2 * time.Second,
		RateLimitBackoff: 15 * time.Second,
		MaxBackoff:       20 * time.Second,
	}

	transport := common.NewAppError("X", "x", common.ErrTransport)
	rate := common.NewAppError("X", "x", common.ErrRateLimit)

	require.Equal(t, 2*time.Second, p.backoffFor(transport, 1))
	require.Equal(t, 4*time.Second, p.backoffFor(transport, 2))
	require.Equal(t, 8*time.Second, p.backoffFor(transport, 3))

	// Rate limits back off harder and hit the ceiling sooner.
	require.Equal(t, 15*time.Second, p.backoffFor(rate, 1))
	require.Equal(t, 20*time.Second, p.backoffFor(rate, 2))
}

func TestRetryPolicy_StopsOnNonRetryable(t *testing.T) {
	p := fastRetries(5)
	calls := 0

	err := p.Do(context.Background(), nil, "row", func(context.Context) error {
		calls++
		return common.NewAppError("SCHEMA_MISMATCH", "bad", common.ErrValidation)
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestRetryPolicy_HonorsContextCancellation(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 10, InitialBackoff: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, nil, "row", func(context.Context) error {
			return common.NewAppError("X", "x", common.ErrTransport)
		})
	}()
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("retry loop did not honor cancellation")
	}
}
