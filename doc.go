// Package mailstrom sends messages through interchangeable delivery backends
// while absorbing backend instability. It composes a set of reliability
// primitives around every send:
//
//   - Per-backend circuit breaker (closed / open / half-open states)
//   - Retries with exponential backoff + jitter
//   - Global sliding-window rate limiting
//   - Idempotency cache keyed by caller-supplied message id
//   - Priority work queue for asynchronous sends with its own retry policy
//   - Provider fallback with sticky affinity to the last healthy backend
//   - Prometheus metrics and lightweight structured debug logging
//
// Design goals:
//   - Small surface area: functional options configure everything
//   - Safe concurrent use of a single *Client instance
//   - Send never faults: delivery failures surface as a SendOutcome value
//   - Extensibility via pluggable backends, idempotency stores and metrics
//
// Typical usage:
//
//	client, err := mailstrom.New(
//	    []mailstrom.Backend{primary, secondary},
//	    mailstrom.WithMaxRetries(3),
//	    mailstrom.WithRateLimit(100, time.Minute),
//	    mailstrom.WithCircuitBreaker(mailstrom.CircuitBreakerConfig{}),
//	    mailstrom.WithIdempotency(5*time.Minute),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//	outcome := client.Send(ctx, mailstrom.NewMessage("to@example.com", "from@example.com", "hi", "body"))
//
// The library avoids opinionated logging: provide a Logger (e.g. NewSimpleLogger)
// via WithLogger for insight without noise.
package mailstrom
