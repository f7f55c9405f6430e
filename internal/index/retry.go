package index

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// withRetry runs fn with bounded exponential backoff. Transient store
// failures get attempts-1 retries; the final error carries the attempt
// count for the operator log.
func withRetry(ctx context.Context, logger *zap.Logger, name string, attempts int, backoff time.Duration, fn func() error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			if attempt > 1 {
				logger.Info("operation succeeded after retry",
					zap.String("operation", name),
					zap.Int("attempt", attempt),
				)
			}
			return nil
		}
		if attempt == attempts {
			break
		}
		delay := backoff << (attempt - 1)
		logger.Warn("operation failed, retrying",
			zap.String("operation", name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Duration("next_delay", delay),
			zap.Error(lastErr),
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%s: aborted during backoff: %w", name, ctx.Err())
		}
	}
	return fmt.Errorf("%s: %d attempts: %w", name, attempts, lastErr)
}
