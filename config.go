package mailstrom

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "100ms" or "1m" parse.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the YAML file surface mirroring the functional options. Zero
// values fall back to the library defaults.
type Config struct {
	Retry struct {
		MaxRetries        int      `yaml:"maxRetries"`
		BaseDelay         Duration `yaml:"baseDelay"`
		MaxDelay          Duration `yaml:"maxDelay"`
		BackoffMultiplier float64  `yaml:"backoffMultiplier"`
	} `yaml:"retry"`

	RateLimit struct {
		MaxRequestsPerWindow int      `yaml:"maxRequestsPerWindow"`
		WindowSize           Duration `yaml:"windowSize"`
	} `yaml:"rateLimit"`

	CircuitBreaker struct {
		FailureThreshold int      `yaml:"failureThreshold"`
		ResetTimeout     Duration `yaml:"resetTimeout"`
	} `yaml:"circuitBreaker"`

	Idempotency struct {
		Enabled *bool    `yaml:"enabled"`
		TTL     Duration `yaml:"ttl"`
	} `yaml:"idempotency"`

	Queue struct {
		PollInterval  Duration `yaml:"pollInterval"`
		RetryBaseUnit Duration `yaml:"retryBaseUnit"`
	} `yaml:"queue"`
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// Options converts the config into functional options, emitting one only for
// each field the file actually set.
func (cfg *Config) Options() []Option {
	var opts []Option

	if cfg.Retry.MaxRetries != 0 {
		opts = append(opts, WithMaxRetries(cfg.Retry.MaxRetries))
	}
	if cfg.Retry.BaseDelay != 0 {
		opts = append(opts, WithBaseDelay(cfg.Retry.BaseDelay.Std()))
	}
	if cfg.Retry.MaxDelay != 0 {
		opts = append(opts, WithMaxDelay(cfg.Retry.MaxDelay.Std()))
	}
	if cfg.Retry.BackoffMultiplier != 0 {
		opts = append(opts, WithBackoffMultiplier(cfg.Retry.BackoffMultiplier))
	}

	if cfg.RateLimit.MaxRequestsPerWindow != 0 && cfg.RateLimit.WindowSize != 0 {
		opts = append(opts, WithRateLimit(cfg.RateLimit.MaxRequestsPerWindow, cfg.RateLimit.WindowSize.Std()))
	}

	if cfg.CircuitBreaker.FailureThreshold != 0 || cfg.CircuitBreaker.ResetTimeout != 0 {
		opts = append(opts, WithCircuitBreaker(CircuitBreakerConfig{
			FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
			ResetTimeout:     cfg.CircuitBreaker.ResetTimeout.Std(),
		}))
	}

	if cfg.Idempotency.Enabled != nil && !*cfg.Idempotency.Enabled {
		opts = append(opts, WithoutIdempotency())
	} else if cfg.Idempotency.TTL != 0 {
		opts = append(opts, WithIdempotency(cfg.Idempotency.TTL.Std()))
	}

	if cfg.Queue.PollInterval != 0 {
		opts = append(opts, WithQueuePollInterval(cfg.Queue.PollInterval.Std()))
	}
	if cfg.Queue.RetryBaseUnit != 0 {
		opts = append(opts, WithQueueRetryBase(cfg.Queue.RetryBaseUnit.Std()))
	}

	return opts
}
