package transport

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/tripab/replicanode/pkg/metrics"
)

// breakerSet holds one circuit breaker per endpoint, created lazily.
type breakerSet struct {
	cfg      BreakerConfig
	logger   *zap.Logger
	metrics  *metrics.Collector
	breakers map[string]*gobreaker.CircuitBreaker
	mu       sync.Mutex
}

func newBreakerSet(cfg BreakerConfig, logger *zap.Logger, m *metrics.Collector) *breakerSet {
	return &breakerSet{
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (b *breakerSet) get(endpoint string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cb, ok := b.breakers[endpoint]; ok {
		return cb
	}

	threshold := b.cfg.FailureThreshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        endpoint,
		MaxRequests: b.cfg.HalfOpenMaxRequests,
		Timeout:     b.cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn("circuit breaker state changed",
				zap.String("endpoint", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			b.metrics.SetBreakerState(name, stateValue(to))
		},
	})
	b.breakers[endpoint] = cb
	return cb
}

// execute runs send through the endpoint's breaker. An open breaker fails
// without dialing.
func (b *breakerSet) execute(endpoint string, send func() error) error {
	_, err := b.get(endpoint).Execute(func() (interface{}, error) {
		return nil, send()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &TransportError{Op: "send", Endpoint: endpoint, Err: fmt.Errorf("%w: %w", ErrCircuitOpen, err)}
	}
	return err
}

// State returns the breaker state for endpoint, "closed" if none exists yet.
func (b *breakerSet) state(endpoint string) gobreaker.State {
	b.mu.Lock()
	cb, ok := b.breakers[endpoint]
	b.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed
	}
	return cb.State()
}

func stateValue(s gobreaker.State) int {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// BreakerState reports the circuit state for an endpoint address; always
// "closed" when breakers are disabled.
func (c *Client) BreakerState(endpoint string) string {
	if c.breakers == nil {
		return gobreaker.StateClosed.String()
	}
	return c.breakers.state(endpoint).String()
}
