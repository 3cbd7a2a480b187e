package backoff

import (
	"math/rand"
	"time"
)

// Strategy defines the interface for backoff calculation algorithms.
type Strategy interface {
	// Calculate returns the delay before the next attempt. attempt is
	// 1-based: the delay after the first failed attempt uses attempt=1.
	Calculate(attempt int, baseDelay, maxDelay time.Duration, multiplier float64) time.Duration
}

// ExponentialJitterStrategy implements exponential backoff with uniform
// multiplicative jitter: baseDelay * multiplier^(attempt-1) scaled by a
// factor drawn from [0.5, 1.0), capped at maxDelay.
type ExponentialJitterStrategy struct{}

// Calculate implements the Strategy interface.
func (s ExponentialJitterStrategy) Calculate(attempt int, baseDelay, maxDelay time.Duration, multiplier float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	// Prevent overflow by limiting attempt
	if attempt > 30 {
		attempt = 30
	}

	jitterFactor := 0.5 + 0.5*rand.Float64()
	delay := time.Duration(float64(baseDelay) * Pow(multiplier, attempt-1) * jitterFactor)
	if delay < 0 || delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

// Pow calculates base^exponent using integer exponentiation.
func Pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}
