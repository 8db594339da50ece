package ai

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"
)

// Retry runs op until it succeeds, fails with a fatal error, or exhausts
// cfg.MaxRetries. Each attempt runs under the per-attempt latency budget, so a
// hung provider call counts as a failure instead of blocking the caller.
// Cancellation of ctx aborts immediately.
func Retry(ctx context.Context, cfg RetryConfig, logger *slog.Logger, name string, op func(context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(cfg, attempt)
			logger.Warn("retrying provider call",
				slog.String("op", name),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("last_error", lastErr.Error()))

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if cfg.AttemptBudget > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, cfg.AttemptBudget)
		}
		err := op(attemptCtx)
		cancel()

		if err == nil {
			if attempt > 0 {
				logger.Info("provider call succeeded after retry",
					slog.String("op", name),
					slog.Int("attempts", attempt+1))
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = err
		if IsFatal(err) {
			logger.Error("fatal provider error, not retrying",
				slog.String("op", name),
				slog.String("error", err.Error()))
			return err
		}
		// A blown attempt budget counts as recoverable, same as any
		// unclassified error.
	}

	return fmt.Errorf("%s exhausted %d retries: %w", name, cfg.MaxRetries, lastErr)
}

func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.BackoffFactor, float64(attempt-1))
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if delay < 0 {
		delay = float64(cfg.InitialDelay)
	}
	return time.Duration(delay)
}
