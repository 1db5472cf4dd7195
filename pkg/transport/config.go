package transport

import (
	"fmt"
	"time"
)

// Config holds the client's connection and retry policy.
type Config struct {
	// ConnectTimeout bounds each dial and the TLS handshake that follows it
	ConnectTimeout time.Duration
	// WriteTimeout bounds writing one frame; 0 disables the deadline
	WriteTimeout time.Duration
	// MaxAttempts is the number of connection attempts per Send
	MaxAttempts int
	// InitialBackoff is the sleep after the first failed attempt; it doubles each retry
	InitialBackoff time.Duration
	// MaxBackoff caps the sleep between attempts
	MaxBackoff time.Duration

	TLS            TLSConfig
	CircuitBreaker BreakerConfig
}

// BreakerConfig controls the optional per-endpoint circuit breaker.
type BreakerConfig struct {
	Enabled bool
	// FailureThreshold is the number of consecutive failed sends before opening
	FailureThreshold uint32
	// ResetTimeout is how long the breaker stays open before probing again
	ResetTimeout time.Duration
	// HalfOpenMaxRequests is the number of trial requests allowed while half-open
	HalfOpenMaxRequests uint32
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 5 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		TLS: TLSConfig{
			MinVersion: "1.2",
		},
		CircuitBreaker: BreakerConfig{
			Enabled:             false,
			FailureThreshold:    5,
			ResetTimeout:        30 * time.Second,
			HalfOpenMaxRequests: 1,
		},
	}
}

// Validate reports configuration that would make Send misbehave.
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("transport: MaxAttempts must be >= 1")
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("transport: ConnectTimeout must be > 0")
	}
	if c.InitialBackoff < 0 || c.MaxBackoff < 0 {
		return fmt.Errorf("transport: backoff durations must be >= 0")
	}
	if c.CircuitBreaker.Enabled && c.CircuitBreaker.FailureThreshold < 1 {
		return fmt.Errorf("transport: CircuitBreaker.FailureThreshold must be >= 1")
	}
	return nil
}
