package sync

import (
	"context"
	"math/rand"
	"time"

	"github.com/jubileebay/jubileesync/internal/errors"
	"github.com/jubileebay/jubileesync/internal/logging"
)

// RetryConfig bounds the backoff applied to transient remote failures.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryConfig returns the standard policy: 3 attempts,
// exponential backoff with jitter, capped at 60 seconds.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    60 * time.Second,
	}
}

// withRetry runs op, retrying only errors classified as transient.
// Non-retryable errors surface immediately.
func withRetry(ctx context.Context, cfg RetryConfig, op func() error) error {
	var lastErr error

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(cfg, attempt)
			logging.Debug("retrying after transient error",
				map[string]interface{}{
					"attempt": attempt,
					"delay":   delay.String(),
				})
			select {
			case <-ctx.Done():
				return errors.Wrap(errors.ErrSyncCancelled, "retry abandoned", ctx.Err())
			case <-time.After(delay):
			}
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !errors.IsRetryable(lastErr) {
			return lastErr
		}
	}

	return lastErr
}

// backoffDelay computes base*2^(attempt-1) with up to 50% jitter,
// capped at MaxDelay.
func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	delay := cfg.BaseDelay << uint(attempt-1)
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/2 + 1))
	delay += jitter
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	return delay
}
