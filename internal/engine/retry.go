package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shaharzep/decision-extract/internal/common"
)

// RetryPolicy bounds per-row retries of transient provider errors. The
// budget belongs to the row, never to the run: a noisy neighbor cannot
// exhaust retries for its siblings.
type RetryPolicy struct {
	MaxAttempts      int           // total attempts including the first
	InitialBackoff   time.Duration // first backoff for transport errors
	RateLimitBackoff time.Duration // first backoff after a 429, deliberately longer
	MaxBackoff       time.Duration // ceiling for the doubling curve
}

// DefaultRetryPolicy mirrors the configurable engine defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:      3,
		InitialBackoff:   2 * time.Second,
		RateLimitBackoff: 15 * time.Second,
		MaxBackoff:       60 * time.Second,
	}
}

// Do runs fn, retrying transport and rate-limit failures with doubling
// backoff until the attempt budget is spent. Validation failures return
// immediately: the same input will not validate differently next time.
func (p RetryPolicy) Do(ctx context.Context, logger *slog.Logger, key string, fn func(ctx context.Context) error) error {
	if logger == nil {
		logger = slog.Default()
	}
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !common.Retryable(lastErr) || attempt == attempts {
			return lastErr
		}

		backoff := p.backoffFor(lastErr, attempt)
		logger.Warn("engine.row.retry",
			"custom_id", key,
			"attempt", attempt,
			"backoff_ms", backoff.Milliseconds(),
			"error", lastErr,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return lastErr
}

func (p RetryPolicy) backoffFor(err error, attempt int) time.Duration {
	base := p.InitialBackoff
	if errors.Is(err, common.ErrRateLimit) {
		base = p.RateLimitBackoff
	}
	if base <= 0 {
		base = time.Second
	}
	d := base << (attempt - 1)
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}
