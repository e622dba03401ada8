package client

import "time"

// BackoffConfig defines reconnect behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
}

// DefaultBackoff returns 1s doubling up to 30s, five attempts.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		MaxAttempts:  5,
	}
}

// NextDelay returns the reconnect delay for attempt N (1-based):
// InitialDelay doubled per attempt, capped at MaxDelay.
func NextDelay(cfg BackoffConfig, attempt int) time.Duration {
	delay := cfg.InitialDelay
	if delay <= 0 {
		return 0
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if cfg.MaxDelay > 0 && delay >= cfg.MaxDelay {
			return cfg.MaxDelay
		}
	}
	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		return cfg.MaxDelay
	}
	return delay
}
