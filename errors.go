package mailstrom

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure scenarios
var (
	// ErrCircuitOpen is returned when a backend is skipped because its
	// circuit breaker is open and not yet eligible for a trial call.
	ErrCircuitOpen = errors.New("mailstrom: circuit open")

	// ErrAllBackendsFailed is returned when the fallback loop found no
	// usable backend (every one skipped or failed).
	ErrAllBackendsFailed = errors.New("mailstrom: all backends failed")

	// ErrNoBackends is returned by New when constructed without backends.
	ErrNoBackends = errors.New("mailstrom: at least one backend is required")

	// ErrNoProcessor reports a work queue used before processor registration.
	ErrNoProcessor = errors.New("mailstrom: work queue has no processor")
)

// Error type identifiers used in DeliveryError.Type.
const (
	ErrorTypeBackend    = "Backend"
	ErrorTypeExhausted  = "AllBackendsExhausted"
	ErrorTypeValidation = "Validation"
)

// DeliveryError is a rich error produced on the send path. It carries enough
// context to diagnose which backend and attempt produced the failure.
type DeliveryError struct {
	Type      string
	Message   string
	Cause     error
	Backend   string
	MessageID string
	Attempt   int
	Timestamp time.Time
}

// Error implements error interface.
func (e *DeliveryError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Backend != "" {
		msg = fmt.Sprintf("%s (backend %s)", msg, e.Backend)
	}
	if e.Attempt > 0 {
		msg = fmt.Sprintf("%s (attempt %d)", msg, e.Attempt)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *DeliveryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error types for errors.Is.
func (e *DeliveryError) Is(target error) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(*DeliveryError); ok {
		return e.Type == targetErr.Type
	}
	return false
}

// IsTransient reports whether an error represents a transient failure that
// might succeed on retry or fallback. Breaker-open skips, rate-limit pressure
// and backend failures are all recoverable within a send; only construction
// and contract violations are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrAllBackendsFailed) {
		return true
	}

	var deliveryErr *DeliveryError
	if errors.As(err, &deliveryErr) {
		switch deliveryErr.Type {
		case ErrorTypeBackend, ErrorTypeExhausted:
			return true
		default:
			return false
		}
	}

	return false
}
