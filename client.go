package mailstrom

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Client orchestrates message delivery across a set of interchangeable
// backends, layering per-backend circuit breaking, retries with backoff,
// global rate limiting, idempotency and an asynchronous priority queue
// around every send. It is safe for concurrent use.
type Client struct {
	backends []Backend
	breakers map[string]*CircuitBreaker

	preferredMu sync.Mutex
	preferred   int

	retry   *RetryExecutor
	limiter *RateLimiter
	queue   *WorkQueue

	idempotency        IdempotencyStore
	idempotencyEnabled bool
	idempotencyTTL     time.Duration

	attemptsMu sync.Mutex
	attempts   map[string][]*Attempt
	attemptSeq map[string]map[string]int

	maxRetries        int
	baseDelay         time.Duration
	maxDelay          time.Duration
	backoffMultiplier float64
	maxRequests       int
	windowSize        time.Duration
	breakerConfig     CircuitBreakerConfig
	queuePollInterval time.Duration
	queueRetryBase    time.Duration

	logger  Logger
	metrics *MetricsCollector
}

// New constructs a Client delivering through the given backends, first to
// last being the initial fallback order. At least one backend is required;
// configuration problems are reported here, not deferred to the first send.
func New(backends []Backend, options ...Option) (*Client, error) {
	c := &Client{
		backends:           backends,
		attempts:           make(map[string][]*Attempt),
		attemptSeq:         make(map[string]map[string]int),
		idempotencyEnabled: true,
		idempotencyTTL:     5 * time.Minute,
		maxRetries:         3,
		baseDelay:          100 * time.Millisecond,
		maxDelay:           10 * time.Second,
		backoffMultiplier:  2.0,
		maxRequests:        100,
		windowSize:         time.Minute,
		queuePollInterval:  100 * time.Millisecond,
		queueRetryBase:     time.Second,
	}

	for _, option := range options {
		option(c)
	}

	if err := c.validateConfiguration(); err != nil {
		return nil, err
	}

	c.breakers = make(map[string]*CircuitBreaker, len(backends))
	for _, b := range backends {
		c.breakers[b.Name()] = NewCircuitBreaker(c.breakerConfig)
	}

	c.retry = NewRetryExecutor(c.maxRetries, c.baseDelay, c.maxDelay, c.backoffMultiplier)
	c.retry.logger = c.logger
	c.retry.metrics = c.metrics

	c.limiter = NewRateLimiter(c.maxRequests, c.windowSize)

	if c.idempotencyEnabled && c.idempotency == nil {
		c.idempotency = NewIdempotencyCache(c.idempotencyTTL, time.Minute)
	}

	c.queue = NewWorkQueue(c.queuePollInterval, c.queueRetryBase)
	c.queue.logger = c.logger
	c.queue.metrics = c.metrics
	c.queue.SetProcessor(c.processQueued)

	return c, nil
}

func (c *Client) validateConfiguration() error {
	var problems []string

	if len(c.backends) == 0 {
		return &DeliveryError{
			Type:      ErrorTypeValidation,
			Message:   "invalid configuration",
			Cause:     ErrNoBackends,
			Timestamp: time.Now(),
		}
	}

	seen := make(map[string]bool, len(c.backends))
	for _, b := range c.backends {
		if b == nil {
			problems = append(problems, "backend cannot be nil")
			continue
		}
		if seen[b.Name()] {
			problems = append(problems, "duplicate backend name "+b.Name())
		}
		seen[b.Name()] = true
	}

	if c.maxRetries < 0 {
		problems = append(problems, "maxRetries must be non-negative")
	}
	if c.baseDelay <= 0 {
		problems = append(problems, "baseDelay must be positive")
	}
	if c.maxDelay < c.baseDelay {
		problems = append(problems, "maxDelay must be greater than or equal to baseDelay")
	}
	if c.backoffMultiplier <= 0 {
		problems = append(problems, "backoffMultiplier must be positive")
	}
	if c.maxRequests <= 0 {
		problems = append(problems, "rate limit maxRequests must be positive")
	}
	if c.windowSize <= 0 {
		problems = append(problems, "rate limit windowSize must be positive")
	}
	if c.idempotencyEnabled && c.idempotency == nil && c.idempotencyTTL <= 0 {
		problems = append(problems, "idempotency TTL must be positive")
	}

	if len(problems) > 0 {
		return &DeliveryError{
			Type:      ErrorTypeValidation,
			Message:   "invalid configuration: " + joinProblems(problems),
			Timestamp: time.Now(),
		}
	}
	return nil
}

func joinProblems(problems []string) string {
	out := problems[0]
	for _, p := range problems[1:] {
		out += "; " + p
	}
	return out
}

// Send delivers the message synchronously, applying idempotency, rate
// limiting, retries and backend fallback. It always resolves to an outcome
// value: delivery failures surface as Success=false, never as a fault.
func (c *Client) Send(ctx context.Context, msg Message) SendOutcome {
	start := time.Now()
	c.metrics.RecordSendStart()
	defer c.metrics.RecordSendEnd()

	if c.idempotencyEnabled {
		if c.idempotency.IsDuplicate(ctx, msg.ID) {
			if outcome, ok := c.idempotency.CachedOutcome(ctx, msg.ID); ok {
				if c.logger != nil {
					c.logger.Debug("idempotency hit", "messageID", msg.ID, "backend", outcome.Backend)
				}
				c.metrics.RecordIdempotencyHit()
				return outcome
			}
		}
		c.idempotency.MarkInProgress(ctx, msg.ID)
	}

	c.limiter.Acquire(ctx)
	c.metrics.RecordRateLimiterOccupancy(c.limiter.CurrentCount())

	var result SendOutcome
	err := c.retry.Do(ctx, msg.ID, func(ctx context.Context) error {
		receipt, backend, tryErr := c.tryBackends(ctx, msg)
		if tryErr != nil {
			return tryErr
		}
		result = SendOutcome{Success: true, Receipt: receipt, Backend: backend}
		return nil
	})

	if err != nil {
		if c.idempotencyEnabled {
			// Drop the in-progress marker so the caller can retry the same
			// id instead of being locked out by a failed send.
			c.idempotency.Remove(ctx, msg.ID)
		}
		outcome := SendOutcome{Success: false, Error: err.Error(), Duration: time.Since(start)}
		if c.logger != nil {
			c.logger.Warn("send failed", "messageID", msg.ID, "error", err.Error())
		}
		c.metrics.RecordSend(outcome)
		return outcome
	}

	result.Duration = time.Since(start)
	if c.idempotencyEnabled {
		c.idempotency.MarkCompleted(ctx, msg.ID, result)
	}
	c.metrics.RecordSend(result)
	return result
}

// tryBackends iterates backends starting at the preferred index, wrapping
// around, trying each at most once. A backend whose breaker is open is
// skipped without counting as a failure. The first success wins and promotes
// that backend to preferred.
func (c *Client) tryBackends(ctx context.Context, msg Message) (string, string, error) {
	c.preferredMu.Lock()
	preferred := c.preferred
	c.preferredMu.Unlock()

	n := len(c.backends)
	var lastErr error

	for i := 0; i < n; i++ {
		idx := (preferred + i) % n
		backend := c.backends[idx]
		breaker := c.breakers[backend.Name()]

		var receipt string
		err := breaker.Execute(func() error {
			attempt := c.beginAttempt(msg.ID, backend.Name())
			callStart := time.Now()
			r, sendErr := backend.Send(ctx, msg)
			elapsed := time.Since(callStart)
			c.finishAttempt(attempt, sendErr, elapsed)
			receipt = r
			return sendErr
		})
		c.metrics.RecordCircuitBreakerState(backend.Name(), breaker.State())

		if err == nil {
			if idx != preferred {
				c.setPreferred(idx)
				if c.logger != nil {
					c.logger.Info("promoting backend to preferred", "backend", backend.Name(), "messageID", msg.ID)
				}
			}
			return receipt, backend.Name(), nil
		}

		if errors.Is(err, ErrCircuitOpen) {
			if c.logger != nil {
				c.logger.Debug("skipping backend, circuit open", "backend", backend.Name(), "messageID", msg.ID)
			}
			c.metrics.RecordError("CircuitOpen", backend.Name())
			continue
		}

		lastErr = err
		c.metrics.RecordError(ErrorTypeBackend, backend.Name())
	}

	if lastErr == nil {
		return "", "", ErrAllBackendsFailed
	}
	return "", "", &DeliveryError{
		Type:      ErrorTypeExhausted,
		Message:   "all backends exhausted",
		Cause:     lastErr,
		MessageID: msg.ID,
		Timestamp: time.Now(),
	}
}

func (c *Client) setPreferred(idx int) {
	c.preferredMu.Lock()
	c.preferred = idx
	c.preferredMu.Unlock()
}

// SendAsync enqueues the message for background delivery and returns
// immediately. Higher priorities dequeue first.
func (c *Client) SendAsync(msg Message, priority int) {
	c.queue.Enqueue(msg, priority)
}

// processQueued is the work queue's processor: the synchronous send path
// reported as an error so the queue can apply its own retry policy.
func (c *Client) processQueued(ctx context.Context, msg Message) error {
	outcome := c.Send(ctx, msg)
	if outcome.Success {
		return nil
	}
	return errors.New(outcome.Error)
}

func (c *Client) beginAttempt(messageID, backend string) *Attempt {
	c.attemptsMu.Lock()
	defer c.attemptsMu.Unlock()

	perBackend, ok := c.attemptSeq[messageID]
	if !ok {
		perBackend = make(map[string]int)
		c.attemptSeq[messageID] = perBackend
	}
	perBackend[backend]++

	attempt := &Attempt{
		MessageID: messageID,
		Backend:   backend,
		Seq:       perBackend[backend],
		Status:    AttemptInFlight,
		Timestamp: time.Now(),
	}
	c.attempts[messageID] = append(c.attempts[messageID], attempt)
	return attempt
}

func (c *Client) finishAttempt(attempt *Attempt, err error, duration time.Duration) {
	c.attemptsMu.Lock()
	if err != nil {
		attempt.Status = AttemptFailed
		attempt.Error = err.Error()
	} else {
		attempt.Status = AttemptSucceeded
	}
	attempt.Duration = duration
	c.attemptsMu.Unlock()

	c.metrics.RecordBackendAttempt(attempt.Backend, attempt.Status, duration)
}

// Attempts returns a copy of the recorded attempts for a message id in the
// order they were made, empty if none were recorded.
func (c *Client) Attempts(messageID string) []Attempt {
	c.attemptsMu.Lock()
	defer c.attemptsMu.Unlock()

	recorded := c.attempts[messageID]
	out := make([]Attempt, len(recorded))
	for i, attempt := range recorded {
		out[i] = *attempt
	}
	return out
}

// BackendStats is a point-in-time breaker snapshot for one backend.
type BackendStats struct {
	Name     string `json:"name"`
	State    string `json:"state"`
	Failures int    `json:"failures"`
}

// RateLimiterStats reports window occupancy against the configured maximum.
type RateLimiterStats struct {
	Current int `json:"current"`
	Max     int `json:"max"`
}

// IdempotencyStats reports live record count.
type IdempotencyStats struct {
	Enabled bool `json:"enabled"`
	Records int  `json:"records"`
}

// Stats is a point-in-time health snapshot across all components. Values are
// read-only snapshots, not authoritative across instances.
type Stats struct {
	Backends    []BackendStats   `json:"backends"`
	RateLimiter RateLimiterStats `json:"rate_limiter"`
	Idempotency IdempotencyStats `json:"idempotency"`
	Queue       QueueStats       `json:"queue"`
}

// Stats reports per-backend breaker state, rate limiter occupancy,
// idempotency record count and queue status counts.
func (c *Client) Stats() Stats {
	stats := Stats{
		RateLimiter: RateLimiterStats{
			Current: c.limiter.CurrentCount(),
			Max:     c.limiter.MaxRequests(),
		},
		Idempotency: IdempotencyStats{Enabled: c.idempotencyEnabled},
		Queue:       c.queue.Stats(),
	}
	for _, b := range c.backends {
		breaker := c.breakers[b.Name()]
		stats.Backends = append(stats.Backends, BackendStats{
			Name:     b.Name(),
			State:    breaker.State().String(),
			Failures: breaker.Failures(),
		})
	}
	if c.idempotencyEnabled {
		stats.Idempotency.Records = c.idempotency.Len(context.Background())
	}
	return stats
}

// ResetBreakers forces every backend's breaker closed. Manual operator
// recovery.
func (c *Client) ResetBreakers() {
	for _, breaker := range c.breakers {
		breaker.Reset()
	}
}

// ResetRateLimiter clears the rate limiter window.
func (c *Client) ResetRateLimiter() {
	c.limiter.Reset()
}

// ClearIdempotencyCache discards all idempotency records.
func (c *Client) ClearIdempotencyCache() {
	if c.idempotencyEnabled {
		c.idempotency.Clear(context.Background())
	}
}

// ClearQueue discards all queued items immediately.
func (c *Client) ClearQueue() {
	c.queue.Clear()
}

// WaitForDrain blocks until the work queue is empty and idle.
func (c *Client) WaitForDrain() {
	c.queue.WaitForDrain()
}

// Close stops the work queue and any background activity owned by the
// idempotency store. The Client must not be used after Close.
func (c *Client) Close() error {
	c.queue.Close()
	if c.idempotency != nil {
		return c.idempotency.Close()
	}
	return nil
}
