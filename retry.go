package mailstrom

import (
	"context"
	"time"

	"github.com/febrycode/mailstrom/internal/backoff"
)

// RetryExecutor wraps a single logical operation with bounded retries and
// exponential backoff. The wrapped operation runs at most maxRetries+1 times;
// the first success is returned immediately, the last failure is propagated
// unmodified so the root cause stays visible.
type RetryExecutor struct {
	maxRetries        int
	baseDelay         time.Duration
	maxDelay          time.Duration
	backoffMultiplier float64
	strategy          backoff.Strategy
	logger            Logger
	metrics           *MetricsCollector
}

// NewRetryExecutor creates an executor with exponential jitter backoff.
func NewRetryExecutor(maxRetries int, baseDelay, maxDelay time.Duration, multiplier float64) *RetryExecutor {
	return &RetryExecutor{
		maxRetries:        maxRetries,
		baseDelay:         baseDelay,
		maxDelay:          maxDelay,
		backoffMultiplier: multiplier,
		strategy:          backoff.ExponentialJitterStrategy{},
	}
}

// Do invokes op up to maxRetries+1 times, sleeping a backoff delay between
// failed attempts. label identifies the operation in logs and metrics.
func (re *RetryExecutor) Do(ctx context.Context, label string, op func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= re.maxRetries+1; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt > re.maxRetries {
			break
		}

		delay := re.strategy.Calculate(attempt, re.baseDelay, re.maxDelay, re.backoffMultiplier)

		if re.logger != nil {
			re.logger.Debug("scheduling retry", "label", label, "attempt", attempt, "maxRetries", re.maxRetries, "backoff", delay, "error", err.Error())
		}
		if re.metrics != nil {
			re.metrics.RecordRetry(label, attempt)
		}

		sleepCtx(ctx, delay)
	}

	return lastErr
}

// sleepCtx pauses for d, returning early only on context cancellation
// (process shutdown); there is no per-call cancellation on the send path.
func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
