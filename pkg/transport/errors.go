package transport

import (
	"errors"
	"fmt"
)

var (
	ErrResolve     = errors.New("address resolution failed")
	ErrConnect     = errors.New("connection failed")
	ErrHandshake   = errors.New("TLS handshake failed")
	ErrWrite       = errors.New("frame write failed")
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// TransportError is the terminal failure of one Send call.
type TransportError struct {
	// Op is the step that failed: "connect", "handshake", "write" or "send"
	Op       string
	Endpoint string
	// Attempts is the number of connection attempts made
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s %s after %d attempt(s): %v", e.Op, e.Endpoint, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsRetryable reports whether a later Send to the same endpoint could
// succeed without a configuration change.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConnect) || errors.Is(err, ErrCircuitOpen)
}
