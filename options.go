package mailstrom

import "time"

// Option represents a configuration option applied at construction.
type Option func(*Client)

// WithMaxRetries sets the maximum number of retry attempts per send. The
// fallback loop runs maxRetries+1 times in total.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithBaseDelay sets the initial backoff delay.
func WithBaseDelay(d time.Duration) Option {
	return func(c *Client) {
		c.baseDelay = d
	}
}

// WithMaxDelay caps the computed backoff delay.
func WithMaxDelay(d time.Duration) Option {
	return func(c *Client) {
		c.maxDelay = d
	}
}

// WithBackoffMultiplier sets the exponential backoff multiplier.
func WithBackoffMultiplier(f float64) Option {
	return func(c *Client) {
		c.backoffMultiplier = f
	}
}

// WithRateLimit bounds total throughput to maxRequests per windowSize across
// all callers and the background queue.
func WithRateLimit(maxRequests int, windowSize time.Duration) Option {
	return func(c *Client) {
		c.maxRequests = maxRequests
		c.windowSize = windowSize
	}
}

// WithCircuitBreaker sets the per-backend circuit breaker configuration.
func WithCircuitBreaker(config CircuitBreakerConfig) Option {
	return func(c *Client) {
		c.breakerConfig = config
	}
}

// WithIdempotency enables send deduplication by message id with the given
// record TTL. Enabled by default with a 5 minute TTL.
func WithIdempotency(ttl time.Duration) Option {
	return func(c *Client) {
		c.idempotencyEnabled = true
		c.idempotencyTTL = ttl
	}
}

// WithoutIdempotency disables send deduplication entirely.
func WithoutIdempotency() Option {
	return func(c *Client) {
		c.idempotencyEnabled = false
	}
}

// WithIdempotencyStore supplies a custom store (e.g. Redis-backed) instead of
// the in-memory cache.
func WithIdempotencyStore(store IdempotencyStore) Option {
	return func(c *Client) {
		c.idempotencyEnabled = true
		c.idempotency = store
	}
}

// WithQueuePollInterval sets how often the work queue re-checks eligibility
// when items exist but none are ready.
func WithQueuePollInterval(d time.Duration) Option {
	return func(c *Client) {
		c.queuePollInterval = d
	}
}

// WithQueueRetryBase sets the base unit of the queue's exponential
// re-enqueue delay (2^attempts * base).
func WithQueueRetryBase(d time.Duration) Option {
	return func(c *Client) {
		c.queueRetryBase = d
	}
}

// WithLogger sets a logger for debug output. Nil (the default) is silent.
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMetrics enables Prometheus metrics on the default registerer.
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector sets a custom metrics collector.
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}
