package mailstrom

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for the send lifecycle and
// reliability layers. It is safe for concurrent use.
type MetricsCollector struct {
	sendsTotal    *prometheus.CounterVec
	sendDuration  *prometheus.HistogramVec
	sendsInFlight prometheus.Gauge

	retriesTotal *prometheus.CounterVec

	backendAttemptsTotal *prometheus.CounterVec
	circuitBreakerState  *prometheus.GaugeVec

	rateLimiterOccupancy prometheus.Gauge

	idempotencyHits prometheus.Counter

	queueDepth prometheus.Gauge
	queueDrops prometheus.Counter

	errorsTotal *prometheus.CounterVec

	registry prometheus.Registerer
}

// NewMetricsCollector creates a metrics collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using the supplied
// registerer.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	return &MetricsCollector{
		sendsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailstrom_sends_total",
				Help: "Total number of logical sends by outcome",
			},
			[]string{"outcome", "backend"},
		),
		sendDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailstrom_send_duration_seconds",
				Help:    "Duration of logical sends in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		sendsInFlight: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "mailstrom_sends_in_flight",
				Help: "Number of sends currently in flight",
			},
		),
		retriesTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailstrom_retries_total",
				Help: "Total number of retry attempts",
			},
			[]string{"label", "attempt"},
		),
		backendAttemptsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailstrom_backend_attempts_total",
				Help: "Total number of backend delivery attempts by status",
			},
			[]string{"backend", "status"},
		),
		circuitBreakerState: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mailstrom_circuit_breaker_state",
				Help: "Current circuit breaker state per backend (0=closed, 1=open, 2=half-open)",
			},
			[]string{"backend"},
		),
		rateLimiterOccupancy: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "mailstrom_rate_limiter_occupancy",
				Help: "Current number of requests inside the rate limiter window",
			},
		),
		idempotencyHits: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "mailstrom_idempotency_hits_total",
				Help: "Total number of sends answered from the idempotency cache",
			},
		),
		queueDepth: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "mailstrom_queue_depth",
				Help: "Current number of items in the work queue",
			},
		),
		queueDrops: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "mailstrom_queue_drops_total",
				Help: "Total number of queue items dropped after exhausting attempts",
			},
		),
		errorsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailstrom_errors_total",
				Help: "Total number of errors encountered by type",
			},
			[]string{"type", "backend"},
		),
		registry: registry,
	}
}

// RecordSend records a completed logical send.
func (mc *MetricsCollector) RecordSend(outcome SendOutcome) {
	if mc == nil {
		return
	}
	label := "failure"
	if outcome.Success {
		label = "success"
	}
	mc.sendsTotal.WithLabelValues(label, outcome.Backend).Inc()
	mc.sendDuration.WithLabelValues(label).Observe(outcome.Duration.Seconds())
}

// RecordSendStart increments the in-flight gauge.
func (mc *MetricsCollector) RecordSendStart() {
	if mc == nil {
		return
	}
	mc.sendsInFlight.Inc()
}

// RecordSendEnd decrements the in-flight gauge.
func (mc *MetricsCollector) RecordSendEnd() {
	if mc == nil {
		return
	}
	mc.sendsInFlight.Dec()
}

// RecordRetry increments the retry counter for an attempt.
func (mc *MetricsCollector) RecordRetry(label string, attempt int) {
	if mc == nil {
		return
	}
	mc.retriesTotal.WithLabelValues(label, strconv.Itoa(attempt)).Inc()
}

// RecordBackendAttempt increments the backend attempt counter.
func (mc *MetricsCollector) RecordBackendAttempt(backend string, status AttemptStatus, duration time.Duration) {
	if mc == nil {
		return
	}
	mc.backendAttemptsTotal.WithLabelValues(backend, string(status)).Inc()
}

// RecordCircuitBreakerState sets the per-backend breaker state gauge.
func (mc *MetricsCollector) RecordCircuitBreakerState(backend string, state CircuitState) {
	if mc == nil {
		return
	}
	mc.circuitBreakerState.WithLabelValues(backend).Set(float64(state))
}

// RecordRateLimiterOccupancy sets the window occupancy gauge.
func (mc *MetricsCollector) RecordRateLimiterOccupancy(count int) {
	if mc == nil {
		return
	}
	mc.rateLimiterOccupancy.Set(float64(count))
}

// RecordIdempotencyHit increments the cached-outcome hit counter.
func (mc *MetricsCollector) RecordIdempotencyHit() {
	if mc == nil {
		return
	}
	mc.idempotencyHits.Inc()
}

// RecordQueueDepth sets the queue depth gauge.
func (mc *MetricsCollector) RecordQueueDepth(depth int) {
	if mc == nil {
		return
	}
	mc.queueDepth.Set(float64(depth))
}

// RecordQueueDrop increments the dropped-item counter.
func (mc *MetricsCollector) RecordQueueDrop() {
	if mc == nil {
		return
	}
	mc.queueDrops.Inc()
}

// RecordError increments the error counter by type.
func (mc *MetricsCollector) RecordError(errorType, backend string) {
	if mc == nil {
		return
	}
	mc.errorsTotal.WithLabelValues(errorType, backend).Inc()
}
